package batch

import (
	"context"
	"fmt"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/scan"
	"gopkg.in/yaml.v3"
)

// ChipResult is the output of a procedure for one chip of the board.
type ChipResult[R any] struct {
	ChipIdx int   `yaml:"chip_idx"`
	ChipID  uint8 `yaml:"chip_id"`
	Result  R     `yaml:"result"`
}

// ThresholdSummary digests a coarse threshold scan of one chip.
type ThresholdSummary struct {
	MeanThreshold scan.GlobalMean `yaml:"mean_threshold"`
	TooHigh       []int           `yaml:"too_high"`
	TooLow        []int           `yaml:"too_low"`
	Report        *scan.Report    `yaml:"report"`
}

func thresholdSummary(ctx context.Context, s *scan.Session, p scan.ThresholdParams) (*ThresholdSummary, error) {
	rep, err := scan.ThresholdScan(ctx, s, p)
	if rep == nil {
		return nil, err
	}
	return &ThresholdSummary{
		MeanThreshold: rep.Recommended,
		TooHigh:       rep.TooHigh(),
		TooLow:        rep.TooLow(),
		Report:        rep,
	}, err
}

// DisableChips masks every channel of every board chip.
func (b *Board) DisableChips(ctx context.Context) error {
	for _, chip := range b.Chips {
		chip.Config.DisableChannels()
		if _, err := b.Device.Write(ctx, chip, larpix.ChannelMaskRegisters(), larpix.FireAndForget); err != nil {
			return fmt.Errorf("failed to disable %s: %w", chip, err)
		}
	}
	return nil
}

// perChipArgs returns the arguments for the chip at idx. A listed key whose
// value is a sequence contributes its idx-th element; chip_idx is dropped.
func perChipArgs(args *yaml.Node, idx int, keys ...string) (*yaml.Node, error) {
	m := map[string]any{}
	if args != nil && args.Kind != 0 {
		if err := args.Decode(&m); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnknownArgs, err)
		}
	}
	for _, k := range keys {
		list, ok := m[k].([]any)
		if !ok {
			continue
		}
		if idx >= len(list) {
			return nil, fmt.Errorf("%w: %s lists %d values, no value for chip %d", ErrUnknownArgs, k, len(list), idx)
		}
		m[k] = list[idx]
	}
	delete(m, "chip_idx")

	var node yaml.Node
	if err := node.Encode(m); err != nil {
		return nil, err
	}
	return &node, nil
}

// allChips adapts a scan operation to a Handler that runs it on every chip
// in board order. keys name the arguments that may be given per chip.
func allChips[P, R any](defaults func() P, run func(context.Context, *scan.Session, P) (R, error), keys ...string) Handler {
	return func(ctx context.Context, b *Board, args *yaml.Node) (any, error) {
		out := make([]ChipResult[R], 0, len(b.Chips))
		for idx := range b.Chips {
			chipArgs, err := perChipArgs(args, idx, keys...)
			if err != nil {
				return out, err
			}
			_, p, err := decodeArgs(chipArgs, defaults())
			if err != nil {
				return out, err
			}
			s, err := b.Session(idx)
			if err != nil {
				return out, err
			}
			r, err := run(ctx, s, p)
			out = append(out, ChipResult[R]{ChipIdx: idx, ChipID: s.Chip.ID, Result: r})
			if err != nil {
				return out, fmt.Errorf("chip %d: %w", idx, err)
			}
		}
		return out, nil
	}
}

// disablingChips masks the whole board before running h, so only the
// channel under test of the chip under test fires.
func disablingChips(h Handler) Handler {
	return func(ctx context.Context, b *Board, args *yaml.Node) (any, error) {
		if err := b.DisableChips(ctx); err != nil {
			return nil, err
		}
		return h(ctx, b, args)
	}
}
