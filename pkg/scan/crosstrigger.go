package scan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/itohio/golarpix/pkg/larpix"
)

// CrossTriggerResult is the outcome of CrossTriggerTest.
type CrossTriggerResult struct {
	RunID    uuid.UUID   `yaml:"run_id"`
	ChipID   uint8       `yaml:"chip_id"`
	Pulses   int         `yaml:"n_pulses"`
	Expected int         `yaml:"expected_per_pulse"`
	Extra    int         `yaml:"extra"` // Pulses with more packets than expected
	Lost     int         `yaml:"lost"`  // Pulses with fewer packets than expected
	Counts   map[int]int `yaml:"counts"`
}

// CrossTriggerTest pulses one channel with cross-triggering enabled, so that
// every enabled channel digitizes on each pulse, and counts the pulses that
// produced more or fewer packets than there are enabled channels.
//
// The remaining channels sit at maximum trim so that only the cross-trigger
// makes them fire.
func CrossTriggerTest(ctx context.Context, s *Session, p CrossTriggerParams) (res *CrossTriggerResult, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	cfg := s.Chip.Config
	cfg.ConnectTestpulse(p.PulseChannel)
	if err := s.write(ctx, larpix.TestpulseEnableRegisters()...); err != nil {
		return nil, err
	}
	cfg.CSATestpulseDACAmplitude = uint8(p.TestpulseDACMax)
	if err := s.write(ctx, larpix.RegTestpulseDAC); err != nil {
		return nil, err
	}

	cfg.GlobalThreshold = uint8(p.Threshold)
	for ch := range cfg.PixelTrimThresholds {
		cfg.PixelTrimThresholds[ch] = larpix.MaxTrim
	}
	cfg.PixelTrimThresholds[p.PulseChannel] = uint8(p.Trim)
	cfg.CrossTriggerMode = true
	if err := cfg.SetResetCycles(p.ResetCycles); err != nil {
		return nil, err
	}
	regs := append(larpix.ResetCycleRegisters(), larpix.TrimRegisters()...)
	if err := s.write(ctx, append(regs, larpix.RegGlobalThreshold, larpix.RegTestModeXtrigReset)...); err != nil {
		return nil, err
	}

	res = &CrossTriggerResult{
		RunID:  uuid.New(),
		ChipID: s.Chip.ID,
		Pulses: p.NPulses,
		Counts: make(map[int]int, larpix.NumChannels),
	}
	for ch := 0; ch < larpix.NumChannels; ch++ {
		if cfg.ChannelEnabled(ch) {
			res.Expected++
		}
	}

	if err := s.Prepare(ctx); err != nil {
		return res, err
	}
	if err := sleep(ctx, p.CSARecoveryTime.Duration()); err != nil {
		return res, err
	}

	log := s.logger().With("chip", s.Chip.ID, "pulse_channel", p.PulseChannel)
	for i := 0; i < p.NPulses; i++ {
		if int(cfg.CSATestpulseDACAmplitude) < p.TestpulseDACMin+p.PulseDAC {
			cfg.CSATestpulseDACAmplitude = uint8(p.TestpulseDACMax)
			if err := s.write(ctx, larpix.RegTestpulseDAC); err != nil {
				return res, err
			}
			if err := sleep(ctx, p.ResetDACTime.Duration()); err != nil {
				return res, err
			}
			log.Debug("Reset DAC")
		}
		cfg.CSATestpulseDACAmplitude -= uint8(p.PulseDAC)
		if err := sleep(ctx, p.CSARecoveryTime.Duration()); err != nil {
			return res, err
		}

		packets, err := s.Device.Write(ctx, s.Chip, []int{larpix.RegTestpulseDAC}, larpix.WriteRead(p.PulseWindow.Duration()))
		if err != nil {
			return res, fmt.Errorf("scan: pulse %d failed: %w", i, err)
		}
		n := 0
		for ch, hits := range larpix.PartitionByChannel(packets, s.Chip.ID) {
			res.Counts[ch] += len(hits)
			n += len(hits)
		}
		switch {
		case n > res.Expected:
			res.Extra++
		case n < res.Expected:
			res.Lost++
		}
		log.Debug("Pulse", "pulse", i, "received", n, "dac", cfg.CSATestpulseDACAmplitude)
	}

	log.Info("Cross-trigger test complete", "pulses", p.NPulses, "extra", res.Extra, "lost", res.Lost)
	return res, nil
}
