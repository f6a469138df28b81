package scan

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
)

// ChannelRate is the trigger rate of one channel.
type ChannelRate struct {
	Channel int     `yaml:"channel"`
	Packets int     `yaml:"n_packets"`
	RunTime float64 `yaml:"run_time"`
	Rate    float64 `yaml:"rate"` // Packets per second
}

// LeakageResult is the outcome of LeakageTest.
type LeakageResult struct {
	RunID    uuid.UUID     `yaml:"run_id"`
	ChipID   uint8         `yaml:"chip_id"`
	Channels []ChannelRate `yaml:"channels"`
	Mean     float64       `yaml:"mean_rate"`
	RMS      float64       `yaml:"rms_rate"`
}

// LeakageTest sets a high threshold and counts each channel's triggers
// alone, which at that threshold come from leakage current resets.
func LeakageTest(ctx context.Context, s *Session, p LeakageParams) (res *LeakageResult, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	cfg := s.Chip.Config
	cfg.GlobalThreshold = uint8(p.GlobalThreshold)
	for ch := range cfg.PixelTrimThresholds {
		cfg.PixelTrimThresholds[ch] = uint8(p.Trim)
	}
	cfg.PeriodicReset = p.ResetCycles > 0
	if p.ResetCycles > 0 {
		if err := cfg.SetResetCycles(p.ResetCycles); err != nil {
			return nil, err
		}
	}
	cfg.DisableChannels()
	if err := s.write(ctx, larpix.AllRegisters()...); err != nil {
		return nil, err
	}
	if _, err := s.Device.Capture(ctx, s.Timing.SlowFlush, "clear buffer"); err != nil {
		return nil, fmt.Errorf("scan: buffer clear failed: %w", err)
	}

	res = &LeakageResult{RunID: uuid.New(), ChipID: s.Chip.ID}
	rates := make([]float64, 0, len(p.ChannelList))
	for _, ch := range p.ChannelList {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		cfg.DisableChannels()
		cfg.EnableChannels(ch)
		if err := s.write(ctx, larpix.ChannelMaskRegisters()...); err != nil {
			return res, err
		}
		if err := s.Flush(ctx); err != nil {
			return res, err
		}
		packets, err := s.Sample(ctx, p.RunTime.Duration(), "leakage current test")
		if err != nil {
			return res, err
		}

		n := len(larpix.FilterChannel(packets, s.Chip.ID, ch))
		rate := ChannelRate{
			Channel: ch,
			Packets: n,
			RunTime: float64(p.RunTime),
			Rate:    float64(n) / p.RunTime.Duration().Seconds(),
		}
		res.Channels = append(res.Channels, rate)
		rates = append(rates, rate.Rate)
		s.logger().Debug("Leakage", "channel", ch, "rate", rate.Rate)
	}

	sum := stats.Summarize(rates)
	res.Mean, res.RMS = sum.Mean, sum.RMS
	s.logger().Info("Leakage test complete", "chip", s.Chip.ID, "mean_rate", res.Mean, "rms_rate", res.RMS)
	return res, nil
}
