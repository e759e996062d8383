package export

import (
	"context"
	"strconv"

	"github.com/raterudder/fusionsolar/pkg/types"
)

// Sink receives the history of one day at a time, in date order.
type Sink interface {
	WriteDay(ctx context.Context, data types.HistoryData) error
	Close() error
}

func formatReading(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
