package batch

import (
	"context"
	"testing"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTwoChipBoard() (*Board, *larpix.Mock) {
	mock := larpix.NewMock(nil, 2, 5)
	return &Board{
		Device: mock,
		Chips:  []*larpix.Chip{larpix.NewChip(2, 0), larpix.NewChip(5, 0)},
	}, mock
}

func TestPerChipArgs(t *testing.T) {
	args := argsNode(t, "{chip_idx: 4, threshold: [40, 50], pulse_dac: 6, n_pulses: [1, 2]}")

	tests := []struct {
		idx  int
		want map[string]any
	}{
		{0, map[string]any{"threshold": 40, "pulse_dac": 6, "n_pulses": []any{1, 2}}},
		{1, map[string]any{"threshold": 50, "pulse_dac": 6, "n_pulses": []any{1, 2}}},
	}
	for _, tt := range tests {
		node, err := perChipArgs(args, tt.idx, "threshold", "pulse_dac")
		require.NoError(t, err)
		var got map[string]any
		require.NoError(t, node.Decode(&got))
		assert.Equal(t, tt.want, got, "chip %d", tt.idx)
	}

	_, err := perChipArgs(args, 2, "threshold")
	assert.ErrorIs(t, err, ErrUnknownArgs)

	node, err := perChipArgs(nil, 0, "threshold")
	require.NoError(t, err)
	_, p, err := decodeArgs(node, scan.DefaultCrossTriggerParams())
	require.NoError(t, err)
	assert.Equal(t, scan.DefaultCrossTriggerParams(), p)
}

func TestRunThresholdTest_AllChips(t *testing.T) {
	b, mock := newTwoChipBoard()
	h := DefaultRegistry()["run_threshold_test"]

	out, err := h(context.Background(), b, argsNode(t, "{channel_list: [0, 1], threshold_min_coarse: 28, threshold_max_coarse: 31, run_time: 0.01}"))
	require.NoError(t, err)
	results, ok := out.([]ChipResult[*ThresholdSummary])
	require.True(t, ok)
	require.Len(t, results, 2)

	for i, r := range results {
		assert.Equal(t, i, r.ChipIdx)
		assert.Equal(t, b.Chips[i].ID, r.ChipID)
		require.NotNil(t, r.Result)
		assert.Len(t, r.Result.Report.Channels, 2)
		assert.Equal(t, r.Result.Report.Recommended, r.Result.MeanThreshold)
	}

	// The board is left masked, as it was made before the scans.
	for _, id := range []uint8{2, 5} {
		state := mock.State(id)
		for ch := 0; ch < larpix.NumChannels; ch++ {
			assert.False(t, state.ChannelEnabled(ch), "chip %d channel %d", id, ch)
		}
	}
}

func TestNoiseTestAllChips(t *testing.T) {
	b, _ := newTwoChipBoard()
	h := DefaultRegistry()["noise_test_all_chips"]

	out, err := h(context.Background(), b, argsNode(t,
		"{n_pulses: 3, threshold: [40, 45], pulse_dac: [6, 8], csa_recovery_time: 0, reset_dac_time: 0, pulse_window: 0.001}"))
	require.NoError(t, err)
	results, ok := out.([]ChipResult[*scan.CrossTriggerResult])
	require.True(t, ok)
	require.Len(t, results, 2)
	for i, r := range results {
		assert.Equal(t, b.Chips[i].ID, r.ChipID)
		assert.Equal(t, 3, r.Result.Pulses)
	}
}

func TestNoiseTestAllChips_ShortList(t *testing.T) {
	b, _ := newTwoChipBoard()
	h := DefaultRegistry()["noise_test_all_chips"]

	out, err := h(context.Background(), b, argsNode(t, "{n_pulses: 1, threshold: [40], csa_recovery_time: 0, reset_dac_time: 0}"))
	assert.ErrorIs(t, err, ErrUnknownArgs)
	results := out.([]ChipResult[*scan.CrossTriggerResult])
	assert.Len(t, results, 1, "the first chip still ran")
}
