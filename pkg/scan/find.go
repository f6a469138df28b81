package scan

import (
	"context"
	"errors"
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
)

// ErrNoCompletedChannels is returned when no channel completed the coarse
// threshold scan, so no global threshold can be derived.
var ErrNoCompletedChannels = errors.New("scan: no channel reached saturation")

// Thresholds is the outcome of FindChannelThresholds.
type Thresholds struct {
	GlobalThreshold int         `yaml:"global_threshold"`
	PixelTrims      map[int]int `yaml:"pixel_trim_thresholds"`
	Coarse          *Report     `yaml:"coarse"`
	Fine            *Report     `yaml:"fine,omitempty"`
}

// FindChannelThresholds runs a coarse global threshold scan, takes the
// truncated mean saturation threshold as the global threshold and runs a
// fine trim scan at it. Channels already saturated at TrimMax (or disabled)
// get TrimMax; channels that never saturated get TrimMin.
//
// The chip configuration is left as found; apply the result explicitly.
func FindChannelThresholds(ctx context.Context, s *Session, p FindParams) (*Thresholds, error) {
	coarse, err := ThresholdScan(ctx, s, ThresholdParams{
		ChannelList:     p.ChannelList,
		ThresholdMin:    p.ThresholdMinCoarse,
		ThresholdMax:    p.ThresholdMaxCoarse,
		ThresholdStep:   p.ThresholdStepCoarse,
		SaturationLevel: p.SaturationLevel,
		RunTime:         p.RunTime,
	})
	out := &Thresholds{Coarse: coarse}
	if err != nil {
		return out, fmt.Errorf("coarse scan: %w", err)
	}
	if !coarse.Recommended.Defined {
		return out, ErrNoCompletedChannels
	}
	out.GlobalThreshold = int(coarse.Recommended.Value)
	s.logger().Info("Coarse scan complete", "chip", s.Chip.ID, "global_threshold", out.GlobalThreshold)

	fine, err := TrimScan(ctx, s, TrimParams{
		ChannelList:     p.ChannelList,
		TrimMin:         p.TrimMin,
		TrimMax:         p.TrimMax,
		TrimStep:        p.TrimStep,
		SaturationLevel: p.SaturationLevel,
		GlobalThreshold: out.GlobalThreshold,
		ResetCycles:     p.ResetCycles,
		RunTime:         p.RunTime,
	})
	out.Fine = fine
	if err != nil {
		return out, fmt.Errorf("fine scan: %w", err)
	}

	out.PixelTrims = make(map[int]int, len(fine.Channels))
	for _, ch := range fine.ChannelIDs() {
		o := fine.Channels[ch].Outcome
		switch o.Kind {
		case Completed:
			out.PixelTrims[ch] = o.Value
		case NeverSaturated:
			out.PixelTrims[ch] = p.TrimMin
		default:
			out.PixelTrims[ch] = p.TrimMax
		}
	}
	s.logger().Info("Fine scan complete", "chip", s.Chip.ID, "trims", out.PixelTrims)
	return out, nil
}

// Apply writes the found global threshold and trims to the chip.
func (t *Thresholds) Apply(ctx context.Context, s *Session) error {
	if err := s.check(); err != nil {
		return err
	}
	if t.PixelTrims == nil {
		return ErrNoCompletedChannels
	}
	cfg := s.Chip.Config
	cfg.GlobalThreshold = uint8(t.GlobalThreshold)
	for ch, trim := range t.PixelTrims {
		cfg.PixelTrimThresholds[ch] = uint8(trim)
	}
	return s.write(ctx, append(larpix.TrimRegisters(), larpix.RegGlobalThreshold)...)
}
