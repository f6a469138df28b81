package scan

import (
	"context"
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
)

// SimultaneousTrimScan sweeps the trim of all listed channels together,
// from TrimMax down to TrimMin, sampling once per step.
//
// A channel whose count exceeds MaxLevel is masked off and its outcome is
// Disabled; the step is then repeated at the same trim for the remaining
// channels. A channel that already completed is held to the same ceiling:
// it keeps its Completed outcome and is marked Masked. Channels stop receiving new trims once they reach the
// saturation level. With Writes > 0 every step samples by repeated
// write-read of the global threshold register instead of passively.
func SimultaneousTrimScan(ctx context.Context, s *Session, p SimultaneousParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	log := s.logger().With("chip", s.Chip.ID)
	cfg := s.Chip.Config
	rep = newReport(KindSimultaneousTrim, s.Chip.ID)
	defer rep.finish()

	// Configure: mask everything and let it settle, then enable the list.
	cfg.GlobalThreshold = uint8(p.GlobalThreshold)
	cfg.DisableChannels()
	if err := s.write(ctx, larpix.ChannelMaskRegisters()...); err != nil {
		return rep, err
	}
	if err := sleep(ctx, s.Timing.MaskSettle); err != nil {
		return rep, err
	}
	cfg.EnableChannels(p.ChannelList...)
	if err := cfg.SetResetCycles(p.ResetCycles); err != nil {
		return rep, err
	}
	if err := s.write(ctx, append(larpix.ResetCycleRegisters(), maskAndThreshold()...)...); err != nil {
		return rep, err
	}
	if err := s.verify(ctx); err != nil {
		return rep, err
	}
	if err := s.Prepare(ctx); err != nil {
		return rep, err
	}

	done := make(map[int]bool, len(p.ChannelList))
	for _, ch := range p.ChannelList {
		rep.Channels[ch] = &ChannelResult{Channel: ch}
	}
	active := func() []int {
		var out []int
		for _, ch := range p.ChannelList {
			if !done[ch] {
				out = append(out, ch)
			}
		}
		return out
	}
	defer func() {
		for _, ch := range active() {
			res := rep.Channels[ch]
			res.Outcome = Classify(res.Points, p.SaturationLevel)
		}
	}()

	trim := p.TrimMax
	for trim >= p.TrimMin {
		channels := active()
		if len(channels) == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		for _, ch := range channels {
			cfg.PixelTrimThresholds[ch] = uint8(trim)
		}
		if err := s.write(ctx, larpix.TrimRegisters()...); err != nil {
			return rep, err
		}
		if err := s.Flush(ctx); err != nil {
			return rep, err
		}

		var packets []larpix.Packet
		if p.Writes > 0 {
			packets, err = s.SampleWithWrites(ctx, []int{larpix.RegGlobalThreshold}, p.RunTime.Duration(), p.Writes, "scan trim")
		} else {
			packets, err = s.Sample(ctx, p.RunTime.Duration(), "scan trim")
		}
		if err != nil {
			return rep, err
		}
		byChannel := larpix.PartitionByChannel(packets, s.Chip.ID)

		// Completed channels keep firing at their final trim, so every
		// unmasked channel is held to the ceiling.
		var noisy []int
		for _, ch := range p.ChannelList {
			if cfg.ChannelEnabled(ch) && Decide(len(byChannel[ch]), p.SaturationLevel, p.MaxLevel) == Disable {
				noisy = append(noisy, ch)
			}
		}

		if len(noisy) > 0 {
			for _, ch := range noisy {
				res := rep.Channels[ch]
				point := newPoint(int(cfg.PixelTrimThresholds[ch]), stats.OfPackets(byChannel[ch]))
				point.Disabling = true
				res.Points = append(res.Points, point)
				reason := fmt.Sprintf("%d events above max level %d", point.Count, p.MaxLevel)
				if done[ch] {
					res.Outcome.Masked = true
					res.Outcome.Reason = "masked after completion: " + reason
				} else {
					res.Outcome = ChannelOutcome{Kind: Disabled, Value: point.Value, Count: point.Count, Reason: reason}
					done[ch] = true
				}
				cfg.DisableChannels(ch)
				log.Warn("Disabling noisy channel", "channel", ch, "trim", point.Value, "count", point.Count, "completed", res.Outcome.Kind == Completed)
			}
			if _, err := s.Device.Write(ctx, s.Chip, larpix.ChannelMaskRegisters(), larpix.WriteRead(s.Timing.MaskSettle)); err != nil {
				return rep, fmt.Errorf("scan: failed to mask noisy channels: %w", err)
			}
			continue
		}

		for _, ch := range channels {
			point := newPoint(trim, stats.OfPackets(byChannel[ch]))
			res := rep.Channels[ch]
			res.Points = append(res.Points, point)
			log.Debug("Sampled", "channel", ch, "trim", trim, "count", point.Count)
			if Decide(point.Count, p.SaturationLevel, p.MaxLevel) == Complete {
				res.Outcome = Classify(res.Points, p.SaturationLevel)
				done[ch] = true
				log.Info("Channel done", "channel", ch, "outcome", res.Outcome.Kind, "trim", trim, "count", point.Count)
			}
		}
		trim -= p.TrimStep
	}

	log.Info("Simultaneous scan complete", "finished", len(done), "left", active())
	return rep, nil
}
