package export

import (
	"context"
	"fmt"
	"log/slog"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
)

const (
	historyMeasurement = "fusion_history"
	totalsMeasurement  = "fusion_daily_totals"
)

// InfluxSink writes every interval as a point of the fusion_history
// measurement and the day's totals as one fusion_daily_totals point.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
}

// NewInfluxSink creates a sink writing to bucket of org on the InfluxDB v2
// server at url.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	client := influxdb2.NewClient(url, token)
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
	}
}

// addReading only sets the field when there is a reading.
func addReading(fields map[string]interface{}, name string, v *float64) {
	if v != nil {
		fields[name] = *v
	}
}

func historyPoints(data types.HistoryData) []*write.Point {
	tags := map[string]string{
		"station": data.StationID,
		"battery": data.BatteryID,
	}

	points := make([]*write.Point, 0, len(data.Points)+1)
	for _, p := range data.Points {
		fields := map[string]interface{}{}
		addReading(fields, "pv_power", p.PVPower)
		addReading(fields, "consumption_power", p.ConsumptionPower)
		addReading(fields, "direct_pv_use_power", p.DirectPVUsePower)
		addReading(fields, "battery_power", p.BatteryPower)
		addReading(fields, "battery_soc", p.BatterySOC)
		// a point without fields is invalid line protocol
		if len(fields) == 0 {
			continue
		}
		points = append(points, write.NewPoint(historyMeasurement, tags, fields, p.Timestamp))
	}

	totals := map[string]interface{}{}
	addReading(totals, "pv_energy", data.TotalPVEnergy)
	addReading(totals, "consumption", data.TotalConsumption)
	addReading(totals, "self_use", data.TotalSelfUse)
	addReading(totals, "grid_export", data.TotalGridExport)
	addReading(totals, "grid_import", data.TotalGridImport)
	if len(totals) > 0 {
		points = append(points, write.NewPoint(totalsMeasurement, map[string]string{"station": data.StationID}, totals, data.Date))
	}
	return points
}

// WriteDay implements Sink.
func (s *InfluxSink) WriteDay(ctx context.Context, data types.HistoryData) error {
	points := historyPoints(data)
	if len(points) == 0 {
		return nil
	}
	if err := s.writeAPI.WritePoint(ctx, points...); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write to influxdb", slog.Any("error", err), slog.Int("points", len(points)))
		return fmt.Errorf("failed to write %d points to influxdb: %w", len(points), err)
	}
	log.Ctx(ctx).DebugContext(ctx, "wrote points to influxdb", slog.Int("points", len(points)))
	return nil
}

// Close releases the client.
func (s *InfluxSink) Close() error {
	s.client.Close()
	return nil
}
