package scan

import (
	"context"

	"github.com/itohio/golarpix/pkg/larpix"
)

// MinSignalAmplitude finds, per channel, the smallest test pulse DAC step
// that triggers with at least ThresholdTriggerRate at a fixed threshold and
// trim. Amplitudes rise from MinDACAmp to MaxDACAmp; a channel that already
// triggers on MinDACAmp is AlwaysSaturated and one that never does is
// NeverSaturated.
func MinSignalAmplitude(ctx context.Context, s *Session, p MinSignalParams) (rep *Report, err error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	defer s.preserve(ctx)(&err)

	sw := pulseSweep{
		label:  "min signal amplitude",
		values: risingValues(p.MinDACAmp, p.MaxDACAmp, p.DACStep),
		setup: func(cfg *larpix.Configuration, ch int) []int {
			cfg.GlobalThreshold = uint8(p.Threshold)
			cfg.PixelTrimThresholds[ch] = uint8(p.trimFor(ch))
			return append(larpix.TrimRegisters(), larpix.RegGlobalThreshold)
		},
		step:    pulseStepRegisters(),
		apply:   func(*larpix.Configuration, int, int) {},
		dacStep: func(v int) int { return v },
	}
	return s.runPulse(ctx, KindMinSignal, p.pulse(), sw)
}
