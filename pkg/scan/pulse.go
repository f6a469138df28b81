package scan

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
)

func pulseStepRegisters() []int {
	return append(larpix.ResetCycleRegisters(), larpix.RegGlobalThreshold, larpix.RegTestModeXtrigReset)
}

// pulseSweep describes one pulse efficiency sweep topology.
type pulseSweep struct {
	label   string
	values  []int
	setup   func(cfg *larpix.Configuration, channel int) []int // Extra configuration before the sweep
	step    []int
	apply   func(cfg *larpix.Configuration, channel, value int)
	dacStep func(value int) int // DAC decrement per pulse; nil uses DACPulse
}

// PulseThresholdScan finds, per channel, the highest global threshold at
// which injected test pulses trigger with at least MinAcceptableEfficiency.
func PulseThresholdScan(ctx context.Context, s *Session, p PulseThresholdParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	sw := pulseSweep{
		label:  "scan threshold with pulse",
		values: sweepValues(p.ThresholdMin, p.ThresholdMax, p.ThresholdStep),
		step:   pulseStepRegisters(),
		apply: func(cfg *larpix.Configuration, _, v int) {
			cfg.GlobalThreshold = uint8(v)
		},
	}
	return s.runPulse(ctx, KindPulseThreshold, p.PulseParams, sw)
}

// PulseTrimScan finds, per channel, the highest trim at which injected test
// pulses trigger with at least MinAcceptableEfficiency at a fixed threshold.
func PulseTrimScan(ctx context.Context, s *Session, p PulseTrimParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	sw := pulseSweep{
		label:  "scan trim with pulse",
		values: sweepValues(p.TrimMin, p.TrimMax, p.TrimStep),
		setup: func(cfg *larpix.Configuration, _ int) []int {
			cfg.GlobalThreshold = uint8(p.Threshold)
			return []int{larpix.RegGlobalThreshold}
		},
		step: append(larpix.TrimRegisters(), pulseStepRegisters()...),
		apply: func(cfg *larpix.Configuration, ch, v int) {
			cfg.PixelTrimThresholds[ch] = uint8(v)
		},
	}
	return s.runPulse(ctx, KindPulseTrim, p.PulseParams, sw)
}

func (s *Session) runPulse(ctx context.Context, kind Kind, p PulseParams, sw pulseSweep) (*Report, error) {
	rep := newReport(kind, s.Chip.ID)
	defer rep.finish()

	if err := s.Prepare(ctx); err != nil {
		return rep, err
	}
	for _, ch := range p.ChannelList {
		res, err := s.pulseChannel(ctx, ch, p, sw)
		if res != nil {
			rep.Channels[ch] = res
		}
		if err != nil {
			return rep, fmt.Errorf("scan: %s channel %d: %w", sw.label, ch, err)
		}
	}

	s.logger().Info("Pulse scan complete", "kind", kind, "chip", s.Chip.ID,
		"completed", len(rep.Completed()), "too_high", rep.TooHigh(), "too_low", rep.TooLow())
	return rep, nil
}

func (s *Session) pulseChannel(ctx context.Context, ch int, p PulseParams, sw pulseSweep) (*ChannelResult, error) {
	log := s.logger().With("channel", ch)
	cfg := s.Chip.Config

	// Connect the injector to this channel only, start from full amplitude
	// and enable only this channel.
	cfg.DisconnectTestpulse()
	cfg.ConnectTestpulse(ch)
	if err := s.write(ctx, larpix.TestpulseEnableRegisters()...); err != nil {
		return nil, err
	}
	cfg.CSATestpulseDACAmplitude = uint8(p.TestpulseDACMax)
	if err := s.write(ctx, larpix.RegTestpulseDAC); err != nil {
		return nil, err
	}
	cfg.DisableChannels()
	cfg.EnableChannels(ch)
	if err := s.write(ctx, larpix.ChannelMaskRegisters()...); err != nil {
		return nil, err
	}
	if sw.setup != nil {
		if err := s.write(ctx, sw.setup(cfg, ch)...); err != nil {
			return nil, err
		}
	}
	if err := s.Prepare(ctx); err != nil {
		return nil, err
	}

	res := &ChannelResult{Channel: ch}
	fail := func(err error) (*ChannelResult, error) {
		res.Outcome = classifyEfficiency(res.Points, p.MinAcceptableEfficiency)
		return res, err
	}
	for _, v := range sw.values {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		sw.apply(cfg, ch, v)
		if err := cfg.SetResetCycles(p.ResetCycles); err != nil {
			return fail(err)
		}
		if err := s.write(ctx, sw.step...); err != nil {
			return fail(err)
		}
		if err := s.Flush(ctx); err != nil {
			return fail(err)
		}

		step := p.DACPulse
		if sw.dacStep != nil {
			step = sw.dacStep(v)
		}
		point, err := s.pulseTrain(ctx, ch, v, step, p, log)
		if err != nil {
			return fail(err)
		}
		res.Points = append(res.Points, point)

		if point.Efficiency >= p.MinAcceptableEfficiency {
			break
		}
	}

	res.Outcome = classifyEfficiency(res.Points, p.MinAcceptableEfficiency)
	if last, ok := res.Last(); ok && last.Efficiency > p.MaxAcceptableEfficiency {
		res.Outcome.OverTriggered = true
		log.Warn("Efficiency above max acceptable", "value", last.Value, "efficiency", last.Efficiency, "max", p.MaxAcceptableEfficiency)
	}
	log.Info("Channel done", "outcome", res.Outcome.Kind, "value", res.Outcome.Value, "count", res.Outcome.Count)
	return res, nil
}

// pulseTrain issues NPulses pulses by stepping the DAC down by step and
// counts the channel's triggers. The DAC goes back to TestpulseDACMax, with
// a settle pause and flush, whenever the next step would take it below
// TestpulseDACMin.
func (s *Session) pulseTrain(ctx context.Context, ch, value, step int, p PulseParams, logger *log.Logger) (SweepPoint, error) {
	cfg := s.Chip.Config
	if err := s.resetDAC(ctx, p); err != nil {
		return SweepPoint{}, err
	}

	var triggered []larpix.Packet
	for i := 0; i < p.NPulses; i++ {
		if int(cfg.CSATestpulseDACAmplitude) < p.TestpulseDACMin+step {
			if err := s.resetDAC(ctx, p); err != nil {
				return SweepPoint{}, err
			}
		}
		cfg.CSATestpulseDACAmplitude -= uint8(step)
		packets, err := s.Device.Write(ctx, s.Chip, []int{larpix.RegTestpulseDAC}, larpix.WriteRead(p.PulseWindow.Duration()))
		if err != nil {
			return SweepPoint{}, fmt.Errorf("scan: pulse %d failed: %w", i, err)
		}
		triggered = append(triggered, larpix.FilterChannel(packets, s.Chip.ID, ch)...)
	}

	point := newPoint(value, stats.OfPackets(triggered))
	point.Pulses = p.NPulses
	point.Efficiency = float64(point.Count) / float64(p.NPulses)
	logger.Debug("Pulsed", "value", value, "pulses", p.NPulses, "triggers", point.Count, "efficiency", point.Efficiency)
	return point, nil
}

// resetDAC returns the test pulse DAC to full amplitude and lets the front
// end settle.
func (s *Session) resetDAC(ctx context.Context, p PulseParams) error {
	cfg := s.Chip.Config
	if int(cfg.CSATestpulseDACAmplitude) == p.TestpulseDACMax {
		return nil
	}
	cfg.CSATestpulseDACAmplitude = uint8(p.TestpulseDACMax)
	if err := s.write(ctx, larpix.RegTestpulseDAC); err != nil {
		return err
	}
	if err := sleep(ctx, p.SettleTime.Duration()); err != nil {
		return err
	}
	if _, err := s.Device.Capture(ctx, s.Timing.QuickFlush, "clear buffer"); err != nil {
		return fmt.Errorf("scan: flush after DAC reset failed: %w", err)
	}
	return nil
}
