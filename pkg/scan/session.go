// Package scan implements the calibration sweeps of a LArPix chip: single
// channel and simultaneous threshold and trim scans, pulse efficiency scans
// and the tests built from them.
//
// Every scan borrows a Session for one call and restores the chip
// configuration it found on return, whether the scan completed, failed or
// was canceled:
//
//	s := &scan.Session{Device: dev, Chip: chip, Timing: cfg.Timing, Log: logger}
//	report, err := scan.ThresholdScan(ctx, s, scan.DefaultThresholdParams())
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/itohio/golarpix/pkg/config"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/logging"
)

// Session is the device context a scan runs against. The caller owns it;
// no scan retains it after returning.
type Session struct {
	Device larpix.Device
	Chip   *larpix.Chip
	Timing config.TimingConfig
	Log    *log.Logger
}

func (s *Session) check() error {
	switch {
	case s == nil || s.Device == nil:
		return fmt.Errorf("%w: session has no device", ErrInvalidParams)
	case s.Chip == nil || s.Chip.Config == nil:
		return fmt.Errorf("%w: session has no chip configuration", ErrInvalidParams)
	}
	return nil
}

var discardLog = logging.Discard()

func (s *Session) logger() *log.Logger {
	if s.Log == nil {
		return discardLog
	}
	return s.Log
}

// preserve snapshots the chip configuration and returns the restore step.
// Use as
//
//	defer s.preserve(ctx)(&err)
//
// The restore writes every register, ignoring cancellation of ctx, and joins
// its failure with *errp.
func (s *Session) preserve(ctx context.Context) func(errp *error) {
	snapshot := s.Chip.Config.Clone()
	return func(errp *error) {
		*s.Chip.Config = snapshot
		_, err := s.Device.Write(context.WithoutCancel(ctx), s.Chip, larpix.AllRegisters(), larpix.FireAndForget)
		if err != nil {
			*errp = errors.Join(*errp, fmt.Errorf("scan: failed to restore configuration of %s: %w", s.Chip, err))
			return
		}
		s.logger().Debug("Configuration restored", "chip", s.Chip.ID)
	}
}

// write sends registers from the mirror without listening.
func (s *Session) write(ctx context.Context, registers ...int) error {
	if _, err := s.Device.Write(ctx, s.Chip, registers, larpix.FireAndForget); err != nil {
		return fmt.Errorf("scan: failed to write registers: %w", err)
	}
	return nil
}

// verify reads the configuration back and warns about registers that differ
// from the mirror. A chip that does not answer every read is only warned
// about.
func (s *Session) verify(ctx context.Context) error {
	got, err := s.Device.ReadConfiguration(ctx, s.Chip)
	if err != nil {
		if errors.Is(err, larpix.ErrNoConfigReply) {
			s.logger().Warn("Incomplete configuration read back", "chip", s.Chip.ID, "err", err)
			return nil
		}
		return fmt.Errorf("scan: failed to read configuration: %w", err)
	}
	if diff := s.Chip.Config.DiffRegisters(&got); len(diff) > 0 {
		s.logger().Warn("Configuration mismatch", "chip", s.Chip.ID, "registers", diff)
	}
	return nil
}

// sleep pauses for d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
