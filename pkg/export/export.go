package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
)

// Fetcher returns the merged history of one UTC day.
type Fetcher interface {
	GetHistory(ctx context.Context, stationID, batteryID string, day time.Time) (types.HistoryData, error)
}

// Options selects what is exported and where to.
type Options struct {
	StationID string
	BatteryID string
	Start     time.Time
	End       time.Time

	// Output is a CSV file path or "-" for stdout. Empty disables CSV.
	Output string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Configured registers the export flags and returns options that are
// populated once lflag.Configure has been called.
func Configured() *Options {
	stationID := lflag.RequiredString("station-id", "Station DN (e.g. NE=12345678)")
	batteryID := lflag.RequiredString("battery-id", "Battery device DN")
	start := lflag.RequiredString("start-date", "First day to export (YYYY-MM-DD, UTC)")
	end := lflag.String("end-date", "", "Last day to export (YYYY-MM-DD, UTC), defaults to start-date")
	output := lflag.String("output", "-", "CSV output file, - for stdout, empty to disable")
	influxURL := lflag.String("influxdb-url", "", "InfluxDB v2 URL, enables the InfluxDB sink")
	influxToken := lflag.String("influxdb-token", "", "InfluxDB API token")
	influxOrg := lflag.String("influxdb-org", "", "InfluxDB organization")
	influxBucket := lflag.String("influxdb-bucket", "", "InfluxDB bucket")

	o := &Options{}
	lflag.Do(func() {
		var err error
		o.Start, o.End, err = ParseDateRange(*start, *end)
		if err != nil {
			panic(fmt.Sprintf("invalid date range: %v", err))
		}
		o.StationID = *stationID
		o.BatteryID = *batteryID
		o.Output = *output
		o.InfluxURL = *influxURL
		o.InfluxToken = *influxToken
		o.InfluxOrg = *influxOrg
		o.InfluxBucket = *influxBucket
		if err := o.Validate(); err != nil {
			panic(err.Error())
		}
	})
	return o
}

// Validate checks if the options are consistent.
func (o *Options) Validate() error {
	if o.StationID == "" {
		return errors.New("station-id is required")
	}
	if o.BatteryID == "" {
		return errors.New("battery-id is required")
	}
	if o.End.Before(o.Start) {
		return fmt.Errorf("end date %s is before start date %s", o.End.Format(time.DateOnly), o.Start.Format(time.DateOnly))
	}
	if o.InfluxURL != "" && (o.InfluxOrg == "" || o.InfluxBucket == "") {
		return errors.New("influxdb-org and influxdb-bucket are required with influxdb-url")
	}
	if o.Output == "" && o.InfluxURL == "" {
		return errors.New("nothing to export to, set output or influxdb-url")
	}
	return nil
}

// stdoutWriter hides os.Stdout's Close from the CSV sink
type stdoutWriter struct{ io.Writer }

// Sinks opens every sink the options ask for.
func (o *Options) Sinks(stdout io.Writer) ([]Sink, error) {
	var sinks []Sink
	switch o.Output {
	case "":
	case "-":
		sinks = append(sinks, NewCSVSink(stdoutWriter{stdout}))
	default:
		f, err := os.Create(o.Output)
		if err != nil {
			return nil, fmt.Errorf("failed to create output file: %w", err)
		}
		sinks = append(sinks, NewCSVSink(f))
	}
	if o.InfluxURL != "" {
		sinks = append(sinks, NewInfluxSink(o.InfluxURL, o.InfluxToken, o.InfluxOrg, o.InfluxBucket))
	}
	return sinks, nil
}

// ParseDateRange parses YYYY-MM-DD dates as UTC days. An empty end means the
// range is the start day alone.
func ParseDateRange(start, end string) (time.Time, time.Time, error) {
	s, err := time.ParseInLocation(time.DateOnly, start, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	if end == "" {
		return s, s, nil
	}
	e, err := time.ParseInLocation(time.DateOnly, end, time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	if e.Before(s) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date %s is before start date %s", end, start)
	}
	return s, e, nil
}

// Dates returns every UTC day from start through end, both inclusive.
func Dates(start, end time.Time) []time.Time {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

// Run fetches every day of the range in order and hands each one to all
// sinks. It stops at the first failure. Whatever the sinks received for
// earlier days stays written.
func Run(ctx context.Context, f Fetcher, o *Options, sinks []Sink) error {
	days := Dates(o.Start, o.End)
	log.Ctx(ctx).InfoContext(
		ctx,
		"exporting history",
		slog.String("stationID", o.StationID),
		slog.String("batteryID", o.BatteryID),
		slog.Int("days", len(days)),
	)

	for _, day := range days {
		date := day.Format(time.DateOnly)
		data, err := f.GetHistory(ctx, o.StationID, o.BatteryID, day)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", date, err)
		}
		for _, s := range sinks {
			if err := s.WriteDay(ctx, data); err != nil {
				return fmt.Errorf("writing %s: %w", date, err)
			}
		}
		log.Ctx(ctx).InfoContext(ctx, "exported day", slog.String("date", date), slog.Int("points", len(data.Points)))
	}
	return nil
}
