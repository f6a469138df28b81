package scan

import (
	"context"
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
)

func maskAndThreshold() []int {
	return append([]int{larpix.RegGlobalThreshold}, larpix.ChannelMaskRegisters()...)
}

// channelSweep describes one single-channel sweep topology.
type channelSweep struct {
	label      string
	values     []int
	setup      []int // Registers written with the mask while configuring
	step       []int // Registers written for each value
	apply      func(cfg *larpix.Configuration, channel, value int)
	saturation int
	params     func(cfg *larpix.Configuration) error
	window     Seconds
	withWrites bool
}

// ThresholdScan sweeps the global threshold of each listed channel from
// ThresholdMax down to ThresholdMin, one channel at a time, and stops each
// channel at the first value reaching the saturation level.
func ThresholdScan(ctx context.Context, s *Session, p ThresholdParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	sw := channelSweep{
		label:  "scan threshold",
		values: sweepValues(p.ThresholdMin, p.ThresholdMax, p.ThresholdStep),
		step:   []int{larpix.RegGlobalThreshold},
		apply: func(cfg *larpix.Configuration, _, v int) {
			cfg.GlobalThreshold = uint8(v)
		},
		saturation: p.SaturationLevel,
		window:     p.RunTime,
		withWrites: p.WithCommunication,
	}
	return s.runChannels(ctx, KindThreshold, p.ChannelList, sw)
}

// TrimScan sweeps the trim of each listed channel from TrimMax down to
// TrimMin at a fixed global threshold, one channel at a time.
func TrimScan(ctx context.Context, s *Session, p TrimParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	sw := channelSweep{
		label:  "scan trim",
		values: sweepValues(p.TrimMin, p.TrimMax, p.TrimStep),
		setup:  append(larpix.ResetCycleRegisters(), maskAndThreshold()...),
		step:   larpix.TrimRegisters(),
		apply: func(cfg *larpix.Configuration, ch, v int) {
			cfg.PixelTrimThresholds[ch] = uint8(v)
		},
		params: func(cfg *larpix.Configuration) error {
			cfg.GlobalThreshold = uint8(p.GlobalThreshold)
			return cfg.SetResetCycles(p.ResetCycles)
		},
		saturation: p.SaturationLevel,
		window:     p.RunTime,
	}
	return s.runChannels(ctx, KindTrim, p.ChannelList, sw)
}

func (s *Session) runChannels(ctx context.Context, kind Kind, channels []int, sw channelSweep) (*Report, error) {
	rep := newReport(kind, s.Chip.ID)
	orig := s.Chip.Config.Clone()

	for _, ch := range channels {
		res, err := s.sweepChannel(ctx, ch, sw)
		if res != nil {
			rep.Channels[ch] = res
		}
		if err != nil {
			rep.finish()
			return rep, fmt.Errorf("scan: %s channel %d: %w", sw.label, ch, err)
		}

		// Only this channel's mask entry goes back; the next channel masks everything else.
		s.Chip.Config.ChannelMask[ch] = orig.ChannelMask[ch]
		if err := s.write(ctx, larpix.ChannelMaskRegisters()...); err != nil {
			rep.finish()
			return rep, err
		}
	}

	rep.finish()
	s.logger().Info("Scan complete", "kind", kind, "chip", s.Chip.ID,
		"completed", len(rep.Completed()), "too_high", rep.TooHigh(), "too_low", rep.TooLow(),
		"recommended", rep.Recommended.Value, "defined", rep.Recommended.Defined)
	return rep, nil
}

// sweepChannel runs Configuring, Sweeping and Done for one channel.
func (s *Session) sweepChannel(ctx context.Context, ch int, sw channelSweep) (*ChannelResult, error) {
	log := s.logger().With("channel", ch)
	cfg := s.Chip.Config

	cfg.DisableChannels()
	cfg.EnableChannels(ch)
	if sw.params != nil {
		if err := sw.params(cfg); err != nil {
			return nil, err
		}
	}
	setup := sw.setup
	if setup == nil {
		setup = larpix.ChannelMaskRegisters()
	}
	if err := s.write(ctx, setup...); err != nil {
		return nil, err
	}
	if err := s.verify(ctx); err != nil {
		return nil, err
	}
	if err := s.Prepare(ctx); err != nil {
		return nil, err
	}

	res := &ChannelResult{Channel: ch}
	fail := func(err error) (*ChannelResult, error) {
		res.Outcome = Classify(res.Points, sw.saturation)
		return res, err
	}
	for _, v := range sw.values {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}

		sw.apply(cfg, ch, v)
		if err := s.write(ctx, sw.step...); err != nil {
			return fail(err)
		}
		if err := s.Flush(ctx); err != nil {
			return fail(err)
		}

		var packets []larpix.Packet
		var err error
		if sw.withWrites {
			packets, err = s.SampleWithWrites(ctx, sw.step, sw.window.Duration(), 1, sw.label)
		} else {
			packets, err = s.Sample(ctx, sw.window.Duration(), sw.label)
		}
		if err != nil {
			return fail(err)
		}

		point := newPoint(v, stats.OfPackets(larpix.FilterChannel(packets, s.Chip.ID, ch)))
		res.Points = append(res.Points, point)
		log.Debug("Sampled", "value", v, "count", point.Count, "mean", point.Mean, "rms", point.RMS)

		if Decide(point.Count, sw.saturation, 0) == Complete {
			break
		}
	}

	res.Outcome = Classify(res.Points, sw.saturation)
	log.Info("Channel done", "outcome", res.Outcome.Kind, "value", res.Outcome.Value, "count", res.Outcome.Count)
	return res, nil
}
