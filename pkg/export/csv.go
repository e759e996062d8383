package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/raterudder/fusionsolar/pkg/types"
)

var csvHeader = []string{
	"timestamp",
	"pv_power",
	"consumption_power",
	"direct_pv_use_power",
	"battery_power",
	"battery_soc",
}

// CSVSink writes one row per interval. Rows are flushed after every day so
// an aborted run keeps everything written for earlier days.
type CSVSink struct {
	w           *csv.Writer
	closer      io.Closer
	wroteHeader bool
}

// NewCSVSink writes to w. If w is also an io.Closer it is closed by Close.
func NewCSVSink(w io.Writer) *CSVSink {
	s := &CSVSink{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		s.closer = c
	}
	return s
}

func (s *CSVSink) writeHeader() error {
	if s.wroteHeader {
		return nil
	}
	s.wroteHeader = true
	return s.w.Write(csvHeader)
}

// WriteDay implements Sink.
func (s *CSVSink) WriteDay(ctx context.Context, data types.HistoryData) error {
	if err := s.writeHeader(); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, p := range data.Points {
		row := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			formatReading(p.PVPower),
			formatReading(p.ConsumptionPower),
			formatReading(p.DirectPVUsePower),
			formatReading(p.BatteryPower),
			formatReading(p.BatterySOC),
		}
		if err := s.w.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("failed to flush csv: %w", err)
	}
	return nil
}

// Close flushes any pending rows and closes the underlying writer. A run
// that exported nothing still gets a header.
func (s *CSVSink) Close() error {
	if err := s.writeHeader(); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}
