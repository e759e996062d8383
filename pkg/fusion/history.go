package fusion

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/raterudder/fusionsolar/pkg/log"
	"github.com/raterudder/fusionsolar/pkg/types"
	"golang.org/x/sync/errgroup"
)

const (
	energyBalancePath = "rest/pvms/web/station/v1/overview/energy-balance"
	deviceHistoryPath = "rest/pvms/web/device/v1/device-history-data"

	batterySOCSignalID = "30005"

	// daily granularity in the energy balance view
	timeDimDay = "2"

	xAxisLayout = "2006-01-02 15:04"
)

// dataResponse is the envelope around every pvms response.
type dataResponse[T any] struct {
	Success  bool       `json:"success"`
	Data     *T         `json:"data"`
	FailCode flexString `json:"failCode"`
	Message  string     `json:"message"`
}

func (r *dataResponse[T]) unwrap(endpoint string) (*T, error) {
	if !r.Success {
		return nil, fmt.Errorf("%w: %s returned success=false (failCode %q): %s", ErrDataIntegrity, endpoint, r.FailCode, r.Message)
	}
	if r.Data == nil {
		return nil, fmt.Errorf("%w: %s returned no data", ErrDataIntegrity, endpoint)
	}
	return r.Data, nil
}

type energyBalanceResult struct {
	XAxis          []string     `json:"xAxis"`
	ProductPower   []flexString `json:"productPower"`
	UsePower       []flexString `json:"usePower"`
	SelfUsePower   []flexString `json:"selfUsePower"`
	ChargePower    []flexString `json:"chargePower"`
	DischargePower []flexString `json:"dischargePower"`

	TotalProductPower flexString `json:"totalProductPower"`
	TotalUsePower     flexString `json:"totalUsePower"`
	TotalSelfUsePower flexString `json:"totalSelfUsePower"`
	TotalOnGridPower  flexString `json:"totalOnGridPower"`
	TotalBuyPower     flexString `json:"totalBuyPower"`
}

type pmData struct {
	StartTime    int64      `json:"startTime"`
	CounterValue flexString `json:"counterValue"`
}

type signalHistory struct {
	PMDataList []pmData `json:"pmDataList"`
}

type deviceHistoryResult map[string]signalHistory

// utcMidnight pins the calendar date of day to midnight UTC.
func utcMidnight(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func (c *Client) getEnergyBalance(ctx context.Context, stationID string, day time.Time) (*energyBalanceResult, error) {
	params := url.Values{}
	params.Set("stationDn", stationID)
	params.Set("timeDim", timeDimDay)
	params.Set("queryTime", strconv.FormatInt(day.UnixMilli(), 10))
	params.Set("timeZone", "0")
	params.Set("timeZoneStr", "UTC")
	params.Set("dateStr", day.Format("2006-01-02 15:04:05"))
	params.Set("_", cacheBuster())

	var res dataResponse[energyBalanceResult]
	if err := c.do(ctx, http.MethodGet, energyBalancePath, params, nil, &res); err != nil {
		return nil, err
	}
	return res.unwrap(energyBalancePath)
}

func (c *Client) getBatterySOC(ctx context.Context, batteryID string, day time.Time) ([]pmData, error) {
	params := url.Values{}
	params.Set("signalIds", batterySOCSignalID)
	params.Set("deviceDn", batteryID)
	params.Set("date", strconv.FormatInt(day.UnixMilli(), 10))
	params.Set("_", cacheBuster())

	var res dataResponse[deviceHistoryResult]
	if err := c.do(ctx, http.MethodGet, deviceHistoryPath, params, nil, &res); err != nil {
		return nil, err
	}
	data, err := res.unwrap(deviceHistoryPath)
	if err != nil {
		return nil, err
	}
	// a battery without readings for the day has no entry for the signal
	return (*data)[batterySOCSignalID].PMDataList, nil
}

// GetHistory fetches the energy balance of the station and the state of
// charge of the battery for the UTC calendar day of day and merges them into
// one record per interval. Nothing is returned unless both fetches succeed.
func (c *Client) GetHistory(ctx context.Context, stationID, batteryID string, day time.Time) (types.HistoryData, error) {
	day = utcMidnight(day)
	ctx = log.WithAttrs(ctx, slog.String("stationID", stationID), slog.String("day", day.Format(time.DateOnly)))

	var balance *energyBalanceResult
	var soc []pmData
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		balance, err = c.getEnergyBalance(gctx, stationID, day)
		return err
	})
	g.Go(func() error {
		var err error
		soc, err = c.getBatterySOC(gctx, batteryID, day)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to fetch fusionsolar history", slog.Any("error", err))
		return types.HistoryData{}, err
	}

	data, err := mergeHistory(balance, soc)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "inconsistent fusionsolar history", slog.Any("error", err))
		return types.HistoryData{}, err
	}
	data.Date = day
	data.StationID = stationID
	data.BatteryID = batteryID

	log.Ctx(ctx).DebugContext(ctx, "fetched fusionsolar history", slog.Int("points", len(data.Points)), slog.Int("socReadings", len(soc)))
	return data, nil
}

// mergeHistory lines the energy balance series up by index against the time
// axis and adds the state of charge reading that starts at exactly the same
// second.
func mergeHistory(balance *energyBalanceResult, soc []pmData) (types.HistoryData, error) {
	series := map[string][]flexString{
		"productPower":   balance.ProductPower,
		"usePower":       balance.UsePower,
		"selfUsePower":   balance.SelfUsePower,
		"chargePower":    balance.ChargePower,
		"dischargePower": balance.DischargePower,
	}
	for name, s := range series {
		// an empty series means no readings at all for the day
		if len(s) != 0 && len(s) != len(balance.XAxis) {
			return types.HistoryData{}, fmt.Errorf("%w: %s has %d values for %d intervals", ErrDataIntegrity, name, len(s), len(balance.XAxis))
		}
	}

	socByTime := make(map[int64]*float64, len(soc))
	for _, d := range soc {
		socByTime[d.StartTime] = parseReading(string(d.CounterValue))
	}

	data := types.HistoryData{
		TotalPVEnergy:    parseReading(string(balance.TotalProductPower)),
		TotalConsumption: parseReading(string(balance.TotalUsePower)),
		TotalSelfUse:     parseReading(string(balance.TotalSelfUsePower)),
		TotalGridExport:  parseReading(string(balance.TotalOnGridPower)),
		TotalGridImport:  parseReading(string(balance.TotalBuyPower)),
		Points:           make([]types.HistoryDataPoint, 0, len(balance.XAxis)),
	}
	for i, x := range balance.XAxis {
		ts, err := time.ParseInLocation(xAxisLayout, x, time.UTC)
		if err != nil {
			return types.HistoryData{}, fmt.Errorf("%w: invalid interval %q: %w", ErrDataIntegrity, x, err)
		}
		data.Points = append(data.Points, types.HistoryDataPoint{
			Timestamp:        ts,
			PVPower:          readingAt(balance.ProductPower, i),
			ConsumptionPower: readingAt(balance.UsePower, i),
			DirectPVUsePower: readingAt(balance.SelfUsePower, i),
			BatteryPower:     batteryPower(readingAt(balance.ChargePower, i), readingAt(balance.DischargePower, i)),
			BatterySOC:       socByTime[ts.Unix()],
		})
	}
	return data, nil
}
