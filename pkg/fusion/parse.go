package fusion

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// noDataSentinel is what the portal sends instead of null for an interval
// without a reading.
const noDataSentinel = math.MaxFloat64

// flexString accepts either a JSON string or a bare JSON number since the
// portal is not consistent about which one it sends for the same field.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

// parseReading converts a vendor value into an optional reading. Dashes,
// "N/A", garbage and the no-data sentinel all mean there is no reading. A real
// zero is returned as zero.
func parseReading(s string) *float64 {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "-", "--", "n/a":
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v == noDataSentinel || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// readingAt returns the reading at index i or nil if the series is shorter.
func readingAt(series []flexString, i int) *float64 {
	if i >= len(series) {
		return nil
	}
	return parseReading(string(series[i]))
}

// batteryPower nets charge against discharge so charging is positive. It is
// only unset when neither side reported anything.
func batteryPower(charge, discharge *float64) *float64 {
	if charge == nil && discharge == nil {
		return nil
	}
	var v float64
	if charge != nil {
		v += *charge
	}
	if discharge != nil {
		v -= *discharge
	}
	return &v
}
