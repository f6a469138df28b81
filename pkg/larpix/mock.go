package larpix

import (
	"context"
	"math"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/itohio/golarpix/pkg/config"
)

const (
	mockADCBaseline  = 60
	mockADCNoise     = 3
	mockMaxPerWindow = 200000
)

// Mock simulates the chips of one board for testing and development.
//
// Each enabled channel fires at a rate that falls off logistically with its
// effective threshold (global threshold plus weighted trim). Writing the
// test pulse DAC in write-read mode injects a pulse proportional to the
// amplitude drop into every connected channel.
type Mock struct {
	cfg config.MockConfig

	mu        sync.Mutex
	rng       *rand.Rand
	chips     map[uint8]*Configuration
	order     []uint8
	noisy     map[int]bool
	timestamp uint32
}

// NewMock creates a simulator for the given chip IDs.
func NewMock(cfg *config.MockConfig, chipIDs ...uint8) *Mock {
	if cfg == nil {
		def := config.Default().Mock
		cfg = &def
	}

	m := &Mock{
		cfg:   *cfg,
		rng:   rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x5DEECE66D)),
		chips: make(map[uint8]*Configuration),
		noisy: make(map[int]bool),
	}
	for _, ch := range cfg.NoisyChannels {
		m.noisy[ch] = true
	}
	for _, id := range chipIDs {
		m.chip(id)
	}
	return m
}

// chip returns the simulated register file of a chip, creating it on first use.
func (m *Mock) chip(id uint8) *Configuration {
	c, ok := m.chips[id]
	if !ok {
		def := DefaultConfiguration()
		c = &def
		m.chips[id] = c
		m.order = append(m.order, id)
		slices.Sort(m.order)
	}
	return c
}

// State returns a copy of the simulated register file of a chip.
func (m *Mock) State(chipID uint8) Configuration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chip(chipID).Clone()
}

// Write applies the given registers of chip to the simulated register file.
func (m *Mock) Write(ctx context.Context, chip *Chip, registers []int, mode WriteMode) ([]Packet, error) {
	packets, err := chip.WritePackets(registers)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	state := m.chip(chip.ID)
	prevDAC := state.CSATestpulseDACAmplitude
	for _, p := range packets {
		if err := state.SetRegister(int(p.Register), p.Value); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}

	var out []Packet
	if mode.ReadFor > 0 && state.CSATestpulseDACAmplitude < prevDAC {
		out = m.inject(chip.ID, state, float64(prevDAC-state.CSATestpulseDACAmplitude))
	}
	m.mu.Unlock()

	if mode.ReadFor <= 0 {
		return nil, nil
	}
	noise, err := m.Capture(ctx, mode.ReadFor, "write")
	return append(out, noise...), err
}

// ReadConfiguration returns the simulated register file of chip.
func (m *Mock) ReadConfiguration(ctx context.Context, chip *Chip) (Configuration, error) {
	if err := ctx.Err(); err != nil {
		return chip.Config.Clone(), err
	}
	return m.State(chip.ID), nil
}

// Capture generates the noise hits of every chip for d.
func (m *Mock) Capture(ctx context.Context, d time.Duration, label string) ([]Packet, error) {
	if m.cfg.Realtime {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Packet
	for _, id := range m.order {
		state := m.chips[id]
		for ch := 0; ch < NumChannels; ch++ {
			if !state.ChannelEnabled(ch) {
				continue
			}
			n := m.hits(m.rate(state, ch) * d.Seconds())
			for i := 0; i < n; i++ {
				out = append(out, m.hit(id, ch))
			}
		}
	}
	return out, nil
}

// Discard is a no-op: the simulator keeps no backlog.
func (m *Mock) Discard() error {
	return nil
}

// rate returns the noise rate of a channel in events per second.
func (m *Mock) rate(state *Configuration, ch int) float64 {
	if m.noisy[ch] {
		return m.cfg.NoisyRate
	}
	margin := m.effectiveThreshold(state, ch) - m.pedestal(ch)
	return m.cfg.MaxRate / (1 + math.Exp(margin/m.cfg.Width))
}

func (m *Mock) effectiveThreshold(state *Configuration, ch int) float64 {
	return float64(state.GlobalThreshold) + m.cfg.TrimWeight*float64(state.PixelTrimThresholds[ch])
}

func (m *Mock) pedestal(ch int) float64 {
	return m.cfg.Pedestal + m.cfg.PedestalSpread*float64(ch)
}

// hits draws an event count around the expected value.
func (m *Mock) hits(expected float64) int {
	if expected <= 0 {
		return 0
	}
	n := int(math.Round(expected + m.rng.NormFloat64()*math.Sqrt(expected)))
	return min(max(n, 0), mockMaxPerWindow)
}

// inject fires the channels connected to the pulser. With cross triggering
// any fired channel makes every enabled channel report.
func (m *Mock) inject(chipID uint8, state *Configuration, drop float64) []Packet {
	charge := m.cfg.PulseGain * drop
	fired := false
	var out []Packet
	for ch := 0; ch < NumChannels; ch++ {
		if !state.ChannelEnabled(ch) || !state.TestpulseConnected(ch) {
			continue
		}
		margin := m.effectiveThreshold(state, ch) - m.pedestal(ch) - charge
		if m.rng.Float64() < 1/(1+math.Exp(margin/m.cfg.Width)) {
			fired = true
			out = append(out, m.hit(chipID, ch))
		}
	}
	if !fired || !state.CrossTriggerMode {
		return out
	}
	out = out[:0]
	for ch := 0; ch < NumChannels; ch++ {
		if state.ChannelEnabled(ch) {
			out = append(out, m.hit(chipID, ch))
		}
	}
	return out
}

func (m *Mock) hit(chipID uint8, ch int) Packet {
	m.timestamp = (m.timestamp + 1 + uint32(m.rng.IntN(64))) & 0xFFFFFF
	adc := int(math.Round(mockADCBaseline + float64(ch) + m.rng.NormFloat64()*mockADCNoise))
	p := Packet{
		Type:      DataPacket,
		ChipID:    chipID,
		Channel:   uint8(ch),
		Timestamp: m.timestamp,
		Dataword:  uint16(min(max(adc, 0), 1023)),
	}
	p.UpdateParity()
	return p
}
