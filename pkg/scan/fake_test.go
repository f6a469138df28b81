package scan

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/itohio/golarpix/pkg/config"
	"github.com/itohio/golarpix/pkg/larpix"
)

var errInjected = errors.New("injected failure")

// fakeDevice is a scripted single-chip device. It keeps its own register
// file, updated from every write, and produces data packets from it.
type fakeDevice struct {
	chipID uint8
	state  larpix.Configuration

	// counts returns the events an enabled channel produces in one capture.
	counts func(cfg *larpix.Configuration, ch int, label string) int
	// triggers returns the triggers per hundred pulses of a connected channel.
	triggers func(cfg *larpix.Configuration, ch int) int

	pulseN   map[string]int
	lastStep int // DAC drop of the latest pulse
	writes   int
	failAt   int // Fails the n-th write, counting from 1
	readErr  error
	captures []string
	discards int
}

func newFake(chip *larpix.Chip) *fakeDevice {
	return &fakeDevice{
		chipID: chip.ID,
		state:  chip.Config.Clone(),
		pulseN: make(map[string]int),
	}
}

func (f *fakeDevice) Write(ctx context.Context, chip *larpix.Chip, registers []int, mode larpix.WriteMode) ([]larpix.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.writes++
	if f.writes == f.failAt {
		return nil, errInjected
	}

	prevDAC := f.state.CSATestpulseDACAmplitude
	for _, r := range registers {
		v, err := chip.Config.Register(r)
		if err != nil {
			return nil, err
		}
		if err := f.state.SetRegister(r, v); err != nil {
			return nil, err
		}
	}
	if mode.ReadFor <= 0 {
		return nil, nil
	}

	var out []larpix.Packet
	if slices.Contains(registers, larpix.RegTestpulseDAC) && f.state.CSATestpulseDACAmplitude < prevDAC {
		f.lastStep = int(prevDAC) - int(f.state.CSATestpulseDACAmplitude)
		out = f.pulse()
	}
	noise, err := f.Capture(ctx, mode.ReadFor, "write")
	return append(out, noise...), err
}

// pulse spreads the scripted triggers evenly over consecutive pulses at the
// same threshold and trim.
func (f *fakeDevice) pulse() []larpix.Packet {
	if f.triggers == nil {
		return nil
	}
	var out []larpix.Packet
	fired := false
	for ch := 0; ch < larpix.NumChannels; ch++ {
		if !f.state.ChannelEnabled(ch) || !f.state.TestpulseConnected(ch) {
			continue
		}
		key := fmt.Sprint(ch, f.state.GlobalThreshold, f.state.PixelTrimThresholds[ch])
		n := f.pulseN[key]
		f.pulseN[key] = n + 1
		k := f.triggers(&f.state, ch)
		for i := 0; i < (n+1)*k/100-n*k/100; i++ {
			out = append(out, f.hit(ch, i))
			fired = true
		}
	}
	if fired && f.state.CrossTriggerMode {
		for ch := 0; ch < larpix.NumChannels; ch++ {
			if f.state.ChannelEnabled(ch) && !f.state.TestpulseConnected(ch) {
				out = append(out, f.hit(ch, 0))
			}
		}
	}
	return out
}

func (f *fakeDevice) ReadConfiguration(ctx context.Context, chip *larpix.Chip) (larpix.Configuration, error) {
	if f.readErr != nil {
		return larpix.Configuration{}, f.readErr
	}
	return f.state.Clone(), ctx.Err()
}

func (f *fakeDevice) Capture(ctx context.Context, d time.Duration, label string) ([]larpix.Packet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.captures = append(f.captures, label)
	if f.counts == nil {
		return nil, nil
	}
	var out []larpix.Packet
	for ch := 0; ch < larpix.NumChannels; ch++ {
		if !f.state.ChannelEnabled(ch) {
			continue
		}
		for i := 0; i < f.counts(&f.state, ch, label); i++ {
			out = append(out, f.hit(ch, i))
		}
	}
	return out, nil
}

func (f *fakeDevice) Discard() error {
	f.discards++
	return nil
}

// hit alternates the dataword between 50+10*ch and two above it.
func (f *fakeDevice) hit(ch, i int) larpix.Packet {
	p := larpix.Packet{
		Type:     larpix.DataPacket,
		ChipID:   f.chipID,
		Channel:  uint8(ch),
		Dataword: uint16(50 + 10*ch + 2*(i%2)),
	}
	p.UpdateParity()
	return p
}

func newSession(t *testing.T) (*Session, *fakeDevice) {
	t.Helper()
	chip := larpix.NewChip(1, 0)
	dev := newFake(chip)
	return &Session{Device: dev, Chip: chip, Timing: config.TimingConfig{}}, dev
}

// onBelow fires n events on ch whenever the global threshold is at or below gt.
func onBelow(ch, gt, n int) func(cfg *larpix.Configuration, c int, _ string) int {
	return func(cfg *larpix.Configuration, c int, _ string) int {
		if c == ch && int(cfg.GlobalThreshold) <= gt {
			return n
		}
		return 0
	}
}
