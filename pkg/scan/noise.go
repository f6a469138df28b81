package scan

import (
	"context"

	"github.com/google/uuid"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
)

// NoiseResult is the per-channel ADC distribution of NoiseTest.
type NoiseResult struct {
	RunID           uuid.UUID             `yaml:"run_id"`
	ChipID          uint8                 `yaml:"chip_id"`
	ExternalTrigger bool                  `yaml:"external_trigger"`
	Channels        map[int]stats.Summary `yaml:"channels"` // RMS is the ADC standard deviation
}

// NoiseTest enables one channel at a time and records the mean and width of
// its ADC values, triggered either by a low threshold or, with
// ExternalTrigger, by an external pulser.
func NoiseTest(ctx context.Context, s *Session, p NoiseParams) (res *NoiseResult, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	cfg := s.Chip.Config
	regs := larpix.ChannelMaskRegisters()
	if p.ExternalTrigger {
		regs = append(larpix.ChannelMaskRegisters(), larpix.ExternalTriggerRegisters()...)
	}

	cfg.DisableChannels()
	cfg.DisableExternalTrigger()
	cfg.GlobalThreshold = uint8(p.GlobalThreshold)
	if err := s.write(ctx, append([]int{larpix.RegGlobalThreshold}, regs...)...); err != nil {
		return nil, err
	}

	res = &NoiseResult{
		RunID:           uuid.New(),
		ChipID:          s.Chip.ID,
		ExternalTrigger: p.ExternalTrigger,
		Channels:        make(map[int]stats.Summary, len(p.ChannelList)),
	}
	for _, ch := range p.ChannelList {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if err := s.Flush(ctx); err != nil {
			return res, err
		}

		cfg.EnableChannels(ch)
		if p.ExternalTrigger {
			cfg.EnableExternalTrigger(ch)
		}
		if err := s.write(ctx, regs...); err != nil {
			return res, err
		}
		if err := s.Flush(ctx); err != nil {
			return res, err
		}
		packets, err := s.Sample(ctx, p.RunTime.Duration(), "collect data")
		if err != nil {
			return res, err
		}

		sum := stats.OfPackets(larpix.FilterChannel(packets, s.Chip.ID, ch))
		res.Channels[ch] = sum
		s.logger().Info("Channel noise", "channel", ch, "events", sum.Count, "mean", sum.Mean, "std_dev", sum.RMS)

		cfg.DisableChannels()
		cfg.DisableExternalTrigger()
		if err := s.write(ctx, regs...); err != nil {
			return res, err
		}
	}
	return res, nil
}
