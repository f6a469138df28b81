package scan

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/itohio/golarpix/pkg/larpix"
	"github.com/itohio/golarpix/pkg/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeakageTest(t *testing.T) {
	s, dev := newSession(t)
	dev.counts = func(cfg *larpix.Configuration, ch int, label string) int {
		if label != "leakage current test" || cfg.GlobalThreshold != 125 || !cfg.PeriodicReset {
			return 0
		}
		return map[int]int{0: 5, 1: 15}[ch]
	}
	orig := s.Chip.Config.Clone()

	p := DefaultLeakageParams()
	p.ChannelList = []int{0, 1}
	p.RunTime = 0.5
	res, err := LeakageTest(context.Background(), s, p)
	require.NoError(t, err)

	assert.Equal(t, []ChannelRate{
		{Channel: 0, Packets: 5, RunTime: 0.5, Rate: 10},
		{Channel: 1, Packets: 15, RunTime: 0.5, Rate: 30},
	}, res.Channels)
	assert.InDelta(t, 20, res.Mean, 1e-9)
	assert.InDelta(t, 10, res.RMS, 1e-9)
	assert.Contains(t, dev.captures, "clear buffer")

	assert.Empty(t, cmp.Diff(orig, *s.Chip.Config))
	assert.Empty(t, cmp.Diff(orig, dev.state))
}

func TestLeakageTest_NoPeriodicReset(t *testing.T) {
	s, dev := newSession(t)
	var reset []bool
	dev.counts = func(cfg *larpix.Configuration, ch int, label string) int {
		if label == "leakage current test" {
			reset = append(reset, cfg.PeriodicReset)
		}
		return 0
	}

	p := DefaultLeakageParams()
	p.ChannelList = []int{7}
	p.ResetCycles = 0
	res, err := LeakageTest(context.Background(), s, p)
	require.NoError(t, err)
	assert.Equal(t, []bool{false}, reset)
	assert.Zero(t, res.Mean)
}

func TestNoiseTest_LowThreshold(t *testing.T) {
	s, dev := newSession(t)
	dev.counts = func(cfg *larpix.Configuration, ch int, label string) int {
		if label != "collect data" || cfg.GlobalThreshold != 0 {
			return 0
		}
		return 4
	}
	orig := s.Chip.Config.Clone()

	p := DefaultLowThresholdNoiseParams()
	p.ChannelList = []int{0, 1}
	res, err := NoiseTest(context.Background(), s, p)
	require.NoError(t, err)

	assert.False(t, res.ExternalTrigger)
	assert.Equal(t, map[int]stats.Summary{
		0: {Count: 4, Mean: 51, RMS: 1},
		1: {Count: 4, Mean: 61, RMS: 1},
	}, res.Channels)

	assert.Empty(t, cmp.Diff(orig, *s.Chip.Config))
	assert.Empty(t, cmp.Diff(orig, dev.state))
}

func TestNoiseTest_ExternalPulser(t *testing.T) {
	s, dev := newSession(t)
	dev.counts = func(cfg *larpix.Configuration, ch int, label string) int {
		if label != "collect data" || cfg.ExternalTriggerMask[ch] {
			return 0
		}
		return 2
	}

	p := DefaultExternalPulserNoiseParams()
	p.ChannelList = []int{3}
	res, err := NoiseTest(context.Background(), s, p)
	require.NoError(t, err)

	assert.True(t, res.ExternalTrigger)
	assert.Equal(t, 2, res.Channels[3].Count)
	assert.True(t, dev.state.ExternalTriggerMask[3])
}

func TestCrossTriggerTest(t *testing.T) {
	tests := []struct {
		name     string
		triggers int
		counts   int
		lost     int
	}{
		{name: "every pulse", triggers: 100, counts: 10, lost: 0},
		{name: "half the pulses", triggers: 50, counts: 5, lost: 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, dev := newSession(t)
			s.Chip.Config.DisableChannels()
			s.Chip.Config.EnableChannels(0, 1, 2, 3)
			dev.state = s.Chip.Config.Clone()
			dev.triggers = func(cfg *larpix.Configuration, ch int) int {
				if cfg.CrossTriggerMode && cfg.PixelTrimThresholds[ch] == 0 {
					return tt.triggers
				}
				return 0
			}
			orig := s.Chip.Config.Clone()

			p := DefaultCrossTriggerParams()
			p.NPulses = 10
			p.CSARecoveryTime = 0
			res, err := CrossTriggerTest(context.Background(), s, p)
			require.NoError(t, err)

			assert.Equal(t, 4, res.Expected)
			assert.Zero(t, res.Extra)
			assert.Equal(t, tt.lost, res.Lost)
			assert.Equal(t, map[int]int{0: tt.counts, 1: tt.counts, 2: tt.counts, 3: tt.counts}, res.Counts)

			assert.Empty(t, cmp.Diff(orig, *s.Chip.Config))
			assert.Empty(t, cmp.Diff(orig, dev.state))
		})
	}
}

func TestCrossTriggerTest_ResetsDAC(t *testing.T) {
	s, dev := newSession(t)
	dev.triggers = func(*larpix.Configuration, int) int { return 100 }

	p := DefaultCrossTriggerParams()
	p.NPulses = 40
	p.CSARecoveryTime = 0
	p.ResetDACTime = 0
	res, err := CrossTriggerTest(context.Background(), s, p)
	require.NoError(t, err)

	// Every pulse is a DAC drop, including those right after a reset.
	assert.Equal(t, 40, res.Counts[0])
	assert.Equal(t, 40, res.Pulses)
	assert.Equal(t, larpix.NumChannels, res.Expected)
	assert.Zero(t, res.Lost)
}

func TestAnalogMonitor(t *testing.T) {
	s, dev := newSession(t)
	s.Chip.Config.CSAMonitorSelect[4] = true

	res, err := AnalogMonitor(context.Background(), s, MonitorParams{Channel: 9})
	require.NoError(t, err)
	assert.Equal(t, &MonitorResult{ChipID: 1, Channel: 9}, res)

	for ch := 0; ch < larpix.NumChannels; ch++ {
		assert.Equal(t, ch == 9, dev.state.CSAMonitorSelect[ch], "channel %d", ch)
	}
	assert.Equal(t, 1, dev.writes)
}

func TestAnalogMonitor_InvalidChannel(t *testing.T) {
	s, dev := newSession(t)

	_, err := AnalogMonitor(context.Background(), s, MonitorParams{Channel: 32})
	assert.ErrorIs(t, err, ErrInvalidParams)
	assert.Zero(t, dev.writes)
}
