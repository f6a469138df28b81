package scan

import (
	"context"
	"testing"

	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name       string
		count      int
		saturation int
		ceiling    int
		want       Decision
	}{
		{"below", 999, 1000, 0, Continue},
		{"at saturation", 1000, 1000, 0, Complete},
		{"above saturation", 5000, 1000, 0, Complete},
		{"at ceiling", 1200, 1000, 1200, Complete},
		{"above ceiling", 1201, 1000, 1200, Disable},
		{"ceiling beats saturation", 101, 10, 100, Disable},
		{"zero counts", 0, 10, 100, Continue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.count, tt.saturation, tt.ceiling))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "continue", Continue.String())
	assert.Equal(t, "complete", Complete.String())
	assert.Equal(t, "disable", Disable.String())
	assert.Equal(t, "unknown", Decision(9).String())
}

func TestClassify(t *testing.T) {
	pts := func(counts ...int) []SweepPoint {
		out := make([]SweepPoint, len(counts))
		for i, c := range counts {
			out[i] = SweepPoint{Value: 40 - i, Count: c}
		}
		return out
	}
	tests := []struct {
		name   string
		points []SweepPoint
		want   ChannelOutcome
	}{
		{"empty", nil, ChannelOutcome{Kind: NeverSaturated}},
		{"never", pts(0, 3, 7), ChannelOutcome{Kind: NeverSaturated}},
		{"first", pts(20), ChannelOutcome{Kind: AlwaysSaturated, Value: 40, Count: 20}},
		{"later", pts(0, 1, 12), ChannelOutcome{Kind: Completed, Value: 38, Count: 12}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.points, 10))
		})
	}
}

func TestGlobalMean(t *testing.T) {
	assert.Equal(t, GlobalMean{}, globalMean(nil))
	assert.Equal(t, GlobalMean{Value: 31, Defined: true}, globalMean([]int{30, 32}))
	assert.Equal(t, GlobalMean{Value: 30.5, Defined: true}, globalMean([]int{30, 31}))
}

func TestOutcomeKind_MarshalYAML(t *testing.T) {
	out, err := yaml.Marshal(ChannelOutcome{Kind: AlwaysSaturated, Value: 40, Count: 1000})
	require.NoError(t, err)
	assert.Contains(t, string(out), "kind: always_saturated")
	assert.Equal(t, "outcome(7)", OutcomeKind(7).String())
}

func TestSweepValues(t *testing.T) {
	assert.Equal(t, []int{40, 38, 36}, sweepValues(35, 40, 2))
	assert.Equal(t, []int{5}, sweepValues(5, 5, 1))
}

func TestFlush(t *testing.T) {
	t.Run("quiet", func(t *testing.T) {
		s, dev := newSession(t)

		require.NoError(t, s.Flush(context.Background()))
		assert.Equal(t, []string{"clear buffer (quick)"}, dev.captures)
		assert.Equal(t, 1, dev.discards)
	})

	t.Run("not settled", func(t *testing.T) {
		s, dev := newSession(t)
		dev.counts = func(_ *larpix.Configuration, ch int, label string) int {
			if label == "clear buffer (quick)" && ch == 0 {
				return 3
			}
			return 0
		}

		require.NoError(t, s.Flush(context.Background()))
		assert.Equal(t, []string{"clear buffer (quick)", "clear buffer (slow)"}, dev.captures)
		assert.Equal(t, 1, dev.discards)
	})

	t.Run("canceled", func(t *testing.T) {
		s, _ := newSession(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, s.Flush(ctx), context.Canceled)
	})
}

func TestPrepare(t *testing.T) {
	s, dev := newSession(t)

	require.NoError(t, s.Prepare(context.Background()))
	assert.Equal(t, []string{"clear buffer"}, dev.captures)
	assert.Equal(t, 1, dev.discards)
}

func TestSampleWithWrites(t *testing.T) {
	s, dev := newSession(t)
	s.Chip.Config.DisableChannels()
	s.Chip.Config.EnableChannels(2)
	dev.state = s.Chip.Config.Clone()
	dev.counts = func(*larpix.Configuration, int, string) int { return 2 }

	packets, err := s.SampleWithWrites(context.Background(), []int{larpix.RegGlobalThreshold}, 1, 3, "test")
	require.NoError(t, err)
	assert.Len(t, packets, 6)
	assert.Equal(t, 3, dev.writes)

	packets, err = s.SampleWithWrites(context.Background(), []int{larpix.RegGlobalThreshold}, 1, 0, "test")
	require.NoError(t, err)
	assert.Len(t, packets, 2)
}
