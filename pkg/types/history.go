package types

import "time"

// HistoryDataPoint is one 5-minute interval from the portal. A nil reading
// means the vendor reported no data for that interval.
type HistoryDataPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	PVPower          *float64  `json:"pvPower,omitempty"`
	ConsumptionPower *float64  `json:"consumptionPower,omitempty"`
	DirectPVUsePower *float64  `json:"directPVUsePower,omitempty"`
	// positive is charging, negative is discharging
	BatteryPower *float64 `json:"batteryPower,omitempty"`
	BatterySOC   *float64 `json:"batterySOC,omitempty"`
}

// HistoryData is everything fetched for one station and battery on one UTC
// calendar day. Points keep the order of the vendor's time axis.
type HistoryData struct {
	Date      time.Time `json:"date"`
	StationID string    `json:"stationId"`
	BatteryID string    `json:"batteryId"`

	TotalPVEnergy    *float64 `json:"totalPVEnergy,omitempty"`
	TotalConsumption *float64 `json:"totalConsumption,omitempty"`
	TotalSelfUse     *float64 `json:"totalSelfUse,omitempty"`
	TotalGridExport  *float64 `json:"totalGridExport,omitempty"`
	TotalGridImport  *float64 `json:"totalGridImport,omitempty"`

	Points []HistoryDataPoint `json:"points"`
}
