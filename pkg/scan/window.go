package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/itohio/golarpix/pkg/larpix"
)

// Sample captures every event for d under the configuration already written.
func (s *Session) Sample(ctx context.Context, d time.Duration, label string) ([]larpix.Packet, error) {
	packets, err := s.Device.Capture(ctx, d, label)
	if err != nil {
		return nil, fmt.Errorf("scan: %s capture failed: %w", label, err)
	}
	return packets, nil
}

// SampleWithWrites writes registers in write-read mode repeats times,
// listening for d after each write, and concatenates what was received.
func (s *Session) SampleWithWrites(ctx context.Context, registers []int, d time.Duration, repeats int, label string) ([]larpix.Packet, error) {
	var out []larpix.Packet
	for i := 0; i < max(repeats, 1); i++ {
		packets, err := s.Device.Write(ctx, s.Chip, registers, larpix.WriteRead(d))
		if err != nil {
			return out, fmt.Errorf("scan: %s write-read %d failed: %w", label, i, err)
		}
		out = append(out, packets...)
	}
	return out, nil
}
