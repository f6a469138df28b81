package batch

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/charmbracelet/log"
	"github.com/itohio/golarpix/pkg/config"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/scan"
	"gopkg.in/yaml.v3"
)

// Board is the hardware a batch runs against.
type Board struct {
	Device larpix.Device
	Chips  []*larpix.Chip
	Timing config.TimingConfig
	Log    *log.Logger
}

// Session returns a fresh scan session for the chip at idx.
func (b *Board) Session(idx int) (*scan.Session, error) {
	if idx < 0 || idx >= len(b.Chips) {
		return nil, fmt.Errorf("%w: chip_idx %d of %d", ErrNoChip, idx, len(b.Chips))
	}
	return &scan.Session{Device: b.Device, Chip: b.Chips[idx], Timing: b.Timing, Log: b.Log}, nil
}

// Handler runs one procedure with its raw arguments and returns its report.
type Handler func(ctx context.Context, b *Board, args *yaml.Node) (any, error)

// Registry maps handle names to procedures.
type Registry map[string]Handler

// Handles returns the registered names in order.
func (r Registry) Handles() []string {
	return slices.Sorted(maps.Keys(r))
}

// procedure adapts a scan operation with typed parameters to a Handler.
func procedure[P, R any](defaults func() P, run func(context.Context, *scan.Session, P) (R, error)) Handler {
	return func(ctx context.Context, b *Board, args *yaml.Node) (any, error) {
		c, p, err := decodeArgs(args, defaults())
		if err != nil {
			return nil, err
		}
		s, err := b.Session(c.ChipIdx)
		if err != nil {
			return nil, err
		}
		return run(ctx, s, p)
	}
}

// DefaultRegistry returns every standard procedure.
func DefaultRegistry() Registry {
	return Registry{
		"scan_threshold": procedure(scan.DefaultThresholdParams, scan.ThresholdScan),
		"scan_threshold_with_communication": procedure(func() scan.ThresholdParams {
			p := scan.DefaultThresholdParams()
			p.WithCommunication = true
			return p
		}, scan.ThresholdScan),
		"scan_trim":                                 procedure(scan.DefaultTrimParams, scan.TrimScan),
		"simultaneous_scan_trim":                    procedure(scan.DefaultSimultaneousParams, scan.SimultaneousTrimScan),
		"simultaneous_scan_trim_with_communication": procedure(scan.DefaultSimultaneousWithCommunicationParams, scan.SimultaneousTrimScan),
		"scan_threshold_with_pulse":                 procedure(scan.DefaultPulseThresholdParams, scan.PulseThresholdScan),
		"scan_trim_with_pulse":                      procedure(scan.DefaultPulseTrimParams, scan.PulseTrimScan),
		"find_channel_thresholds":                   procedure(scan.DefaultFindParams, scan.FindChannelThresholds),
		"test_leakage_current":                      procedure(scan.DefaultLeakageParams, scan.LeakageTest),
		"noise_test_low_threshold":                  procedure(scan.DefaultLowThresholdNoiseParams, scan.NoiseTest),
		"noise_test_external_pulser":                procedure(scan.DefaultExternalPulserNoiseParams, scan.NoiseTest),
		"noise_test_internal_pulser":                procedure(scan.DefaultCrossTriggerParams, scan.CrossTriggerTest),
		"noise_test_all_chips":                      allChips(scan.DefaultCrossTriggerParams, scan.CrossTriggerTest, "threshold", "pulse_dac"),
		"run_threshold_test":                        disablingChips(allChips(scan.DefaultThresholdParams, thresholdSummary)),
		"test_min_signal_amplitude":                 procedure(scan.DefaultMinSignalParams, scan.MinSignalAmplitude),
		"analog_monitor":                            procedure(scan.DefaultMonitorParams, scan.AnalogMonitor),
	}
}
