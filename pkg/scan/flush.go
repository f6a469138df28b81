package scan

import (
	"context"
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
)

// Flush discards events triggered under the previous configuration.
//
// A quick window is captured and dropped. When it was not empty the front
// end is still settling, so a slow window is captured and dropped between
// two settle pauses. Finally the device backlog is dropped if the device
// supports it.
func (s *Session) Flush(ctx context.Context) error {
	quick, err := s.Device.Capture(ctx, s.Timing.QuickFlush, "clear buffer (quick)")
	if err != nil {
		return fmt.Errorf("scan: quick flush failed: %w", err)
	}

	if len(quick) > 0 {
		s.logger().Debug("Front end not settled", "events", len(quick))
		if err := sleep(ctx, s.Timing.SettleDelay); err != nil {
			return err
		}
		if _, err := s.Device.Capture(ctx, s.Timing.SlowFlush, "clear buffer (slow)"); err != nil {
			return fmt.Errorf("scan: slow flush failed: %w", err)
		}
		if err := sleep(ctx, s.Timing.SettleDelay); err != nil {
			return err
		}
	}

	return s.discard()
}

// Prepare runs the long buffer clear that precedes a sweep.
func (s *Session) Prepare(ctx context.Context) error {
	if _, err := s.Device.Capture(ctx, s.Timing.PrepareFlush, "clear buffer"); err != nil {
		return fmt.Errorf("scan: buffer clear failed: %w", err)
	}
	return s.discard()
}

func (s *Session) discard() error {
	d, ok := s.Device.(larpix.Discarder)
	if !ok {
		return nil
	}
	if err := d.Discard(); err != nil {
		return fmt.Errorf("scan: failed to discard backlog: %w", err)
	}
	return nil
}
