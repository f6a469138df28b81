package larpix

import (
	"errors"
	"fmt"
)

const (
	// NumChannels is the number of analog channels on one chip.
	NumChannels = 32
	// NumRegisters is the number of 8-bit configuration registers.
	NumRegisters = 63
	// MaxTrim is the highest pixel trim value (5 bits).
	MaxTrim = 31
	// MaxResetCycles is the largest 24-bit reset cycle count.
	MaxResetCycles = 1<<24 - 1
)

// Register addresses.
const (
	RegGlobalThreshold    = 32
	RegCSAGainAndBypasses = 33
	RegTestpulseDAC       = 46
	RegTestModeXtrigReset = 47
	RegSampleCycles       = 48
	RegTestBurstLow       = 49
	RegTestBurstHigh      = 50
	RegADCBurstLength     = 51
	RegResetCyclesLow     = 60
	RegResetCyclesMid     = 61
	RegResetCyclesHigh    = 62
)

// Register groups. Each call returns a fresh slice.

// TrimRegisters returns the 32 pixel trim registers.
func TrimRegisters() []int { return registerRange(0, 32) }

// MonitorSelectRegisters returns the CSA analog monitor select registers.
func MonitorSelectRegisters() []int { return registerRange(38, 42) }

// TestpulseEnableRegisters returns the test pulse connection registers.
func TestpulseEnableRegisters() []int { return registerRange(42, 46) }

// ChannelMaskRegisters returns the channel mask registers.
func ChannelMaskRegisters() []int { return registerRange(52, 56) }

// ExternalTriggerRegisters returns the external trigger mask registers.
func ExternalTriggerRegisters() []int { return registerRange(56, 60) }

// ResetCycleRegisters returns the three periodic reset cycle registers.
func ResetCycleRegisters() []int { return registerRange(60, 63) }

// ErrInvalidRegister is returned for addresses outside the register file.
var ErrInvalidRegister = errors.New("larpix: invalid register address")

func registerRange(lo, hi int) []int {
	regs := make([]int, 0, hi-lo)
	for r := lo; r < hi; r++ {
		regs = append(regs, r)
	}
	return regs
}

// AllRegisters returns every register address in ascending order.
func AllRegisters() []int {
	return registerRange(0, NumRegisters)
}

// Configuration mirrors the configuration registers of one chip.
type Configuration struct {
	PixelTrimThresholds      [NumChannels]uint8 `yaml:"pixel_trim_thresholds,flow"`
	GlobalThreshold          uint8              `yaml:"global_threshold"`
	CSAGain                  bool               `yaml:"csa_gain"`
	CSABypass                bool               `yaml:"csa_bypass"`
	InternalBypass           bool               `yaml:"internal_bypass"`
	CSABypassSelect          [NumChannels]bool  `yaml:"csa_bypass_select,flow"`
	CSAMonitorSelect         [NumChannels]bool  `yaml:"csa_monitor_select,flow"`
	CSATestpulseEnable       [NumChannels]bool  `yaml:"csa_testpulse_enable,flow"` // Cleared bit connects the injector
	CSATestpulseDACAmplitude uint8              `yaml:"csa_testpulse_dac_amplitude"`
	TestMode                 uint8              `yaml:"test_mode"`
	CrossTriggerMode         bool               `yaml:"cross_trigger_mode"`
	PeriodicReset            bool               `yaml:"periodic_reset"`
	FIFODiagnostic           bool               `yaml:"fifo_diagnostic"`
	SampleCycles             uint8              `yaml:"sample_cycles"`
	TestBurstLength          uint16             `yaml:"test_burst_length"`
	ADCBurstLength           uint8              `yaml:"adc_burst_length"`
	ChannelMask              [NumChannels]bool  `yaml:"channel_mask,flow"`           // Set bit disables the channel
	ExternalTriggerMask      [NumChannels]bool  `yaml:"external_trigger_mask,flow"` // Set bit disables external triggering
	ResetCycles              uint32             `yaml:"reset_cycles"`
}

// DefaultConfiguration returns the power-on register state.
func DefaultConfiguration() Configuration {
	c := Configuration{
		GlobalThreshold: 16,
		CSAGain:         true,
		CSABypass:       true,
		InternalBypass:  true,
		SampleCycles:    1,
		TestBurstLength: 0x00FF,
		ResetCycles:     4096,
	}
	for i := range c.PixelTrimThresholds {
		c.PixelTrimThresholds[i] = 16
		c.CSATestpulseEnable[i] = true
		c.ExternalTriggerMask[i] = true
	}
	return c
}

// Clone returns an independent copy.
func (c *Configuration) Clone() Configuration {
	return *c
}

// Register returns the encoded contents of one register.
func (c *Configuration) Register(addr int) (byte, error) {
	switch {
	case addr >= 0 && addr < 32:
		return c.PixelTrimThresholds[addr], nil
	case addr == RegGlobalThreshold:
		return c.GlobalThreshold, nil
	case addr == RegCSAGainAndBypasses:
		return bit(c.CSAGain, 0) | bit(c.CSABypass, 1) | bit(c.InternalBypass, 3), nil
	case addr >= 34 && addr < 38:
		return packBits(&c.CSABypassSelect, addr-34), nil
	case addr >= 38 && addr < 42:
		return packBits(&c.CSAMonitorSelect, addr-38), nil
	case addr >= 42 && addr < 46:
		return packBits(&c.CSATestpulseEnable, addr-42), nil
	case addr == RegTestpulseDAC:
		return c.CSATestpulseDACAmplitude, nil
	case addr == RegTestModeXtrigReset:
		return c.TestMode&0x3 | bit(c.CrossTriggerMode, 2) | bit(c.PeriodicReset, 3) | bit(c.FIFODiagnostic, 4), nil
	case addr == RegSampleCycles:
		return c.SampleCycles, nil
	case addr == RegTestBurstLow:
		return byte(c.TestBurstLength), nil
	case addr == RegTestBurstHigh:
		return byte(c.TestBurstLength >> 8), nil
	case addr == RegADCBurstLength:
		return c.ADCBurstLength, nil
	case addr >= 52 && addr < 56:
		return packBits(&c.ChannelMask, addr-52), nil
	case addr >= 56 && addr < 60:
		return packBits(&c.ExternalTriggerMask, addr-56), nil
	case addr >= RegResetCyclesLow && addr <= RegResetCyclesHigh:
		return byte(c.ResetCycles >> (8 * (addr - RegResetCyclesLow))), nil
	}
	return 0, fmt.Errorf("%w: %d", ErrInvalidRegister, addr)
}

// SetRegister decodes one register value into the configuration.
func (c *Configuration) SetRegister(addr int, v byte) error {
	switch {
	case addr >= 0 && addr < 32:
		c.PixelTrimThresholds[addr] = v
	case addr == RegGlobalThreshold:
		c.GlobalThreshold = v
	case addr == RegCSAGainAndBypasses:
		c.CSAGain = v&0x1 != 0
		c.CSABypass = v&0x2 != 0
		c.InternalBypass = v&0x8 != 0
	case addr >= 34 && addr < 38:
		unpackBits(&c.CSABypassSelect, addr-34, v)
	case addr >= 38 && addr < 42:
		unpackBits(&c.CSAMonitorSelect, addr-38, v)
	case addr >= 42 && addr < 46:
		unpackBits(&c.CSATestpulseEnable, addr-42, v)
	case addr == RegTestpulseDAC:
		c.CSATestpulseDACAmplitude = v
	case addr == RegTestModeXtrigReset:
		c.TestMode = v & 0x3
		c.CrossTriggerMode = v&0x4 != 0
		c.PeriodicReset = v&0x8 != 0
		c.FIFODiagnostic = v&0x10 != 0
	case addr == RegSampleCycles:
		c.SampleCycles = v
	case addr == RegTestBurstLow:
		c.TestBurstLength = c.TestBurstLength&0xFF00 | uint16(v)
	case addr == RegTestBurstHigh:
		c.TestBurstLength = c.TestBurstLength&0x00FF | uint16(v)<<8
	case addr == RegADCBurstLength:
		c.ADCBurstLength = v
	case addr >= 52 && addr < 56:
		unpackBits(&c.ChannelMask, addr-52, v)
	case addr >= 56 && addr < 60:
		unpackBits(&c.ExternalTriggerMask, addr-56, v)
	case addr >= RegResetCyclesLow && addr <= RegResetCyclesHigh:
		shift := 8 * (addr - RegResetCyclesLow)
		c.ResetCycles = c.ResetCycles&^(0xFF<<shift) | uint32(v)<<shift
	default:
		return fmt.Errorf("%w: %d", ErrInvalidRegister, addr)
	}
	return nil
}

// DiffRegisters returns the addresses whose encoded values differ.
func (c *Configuration) DiffRegisters(other *Configuration) []int {
	var diff []int
	for _, addr := range AllRegisters() {
		a, _ := c.Register(addr)
		b, _ := other.Register(addr)
		if a != b {
			diff = append(diff, addr)
		}
	}
	return diff
}

// EnableChannels clears the mask bit of the given channels, or of all
// channels when none are given.
func (c *Configuration) EnableChannels(channels ...int) {
	setChannels(&c.ChannelMask, false, channels)
}

// DisableChannels sets the mask bit of the given channels, or of all
// channels when none are given.
func (c *Configuration) DisableChannels(channels ...int) {
	setChannels(&c.ChannelMask, true, channels)
}

// ChannelEnabled reports whether a channel is unmasked.
func (c *Configuration) ChannelEnabled(channel int) bool {
	return !c.ChannelMask[channel]
}

// ConnectTestpulse connects the pulse injector to the given channels.
func (c *Configuration) ConnectTestpulse(channels ...int) {
	setChannels(&c.CSATestpulseEnable, false, channels)
}

// DisconnectTestpulse disconnects the pulse injector from the given channels.
func (c *Configuration) DisconnectTestpulse(channels ...int) {
	setChannels(&c.CSATestpulseEnable, true, channels)
}

// TestpulseConnected reports whether the injector drives a channel.
func (c *Configuration) TestpulseConnected(channel int) bool {
	return !c.CSATestpulseEnable[channel]
}

// EnableExternalTrigger lets the given channels trigger externally.
func (c *Configuration) EnableExternalTrigger(channels ...int) {
	setChannels(&c.ExternalTriggerMask, false, channels)
}

// DisableExternalTrigger stops the given channels triggering externally.
func (c *Configuration) DisableExternalTrigger(channels ...int) {
	setChannels(&c.ExternalTriggerMask, true, channels)
}

// MonitorChannel routes the CSA output of one channel to the analog monitor
// and disconnects every other channel from it.
func (c *Configuration) MonitorChannel(channel int) {
	c.CSAMonitorSelect = [NumChannels]bool{}
	c.CSAMonitorSelect[channel] = true
}

// SetResetCycles sets the 24-bit periodic reset interval.
func (c *Configuration) SetResetCycles(n int) error {
	if n < 0 || n > MaxResetCycles {
		return fmt.Errorf("larpix: reset cycles out of bounds: %d", n)
	}
	c.ResetCycles = uint32(n)
	return nil
}

func setChannels(bits *[NumChannels]bool, v bool, channels []int) {
	if len(channels) == 0 {
		for i := range bits {
			bits[i] = v
		}
		return
	}
	for _, ch := range channels {
		bits[ch] = v
	}
}

func bit(b bool, pos uint) byte {
	if b {
		return 1 << pos
	}
	return 0
}

// packBits encodes channels chunk*8..chunk*8+7 with the lowest channel in bit 0.
func packBits(bits *[NumChannels]bool, chunk int) byte {
	var v byte
	for i := 0; i < 8; i++ {
		v |= bit(bits[chunk*8+i], uint(i))
	}
	return v
}

func unpackBits(bits *[NumChannels]bool, chunk int, v byte) {
	for i := 0; i < 8; i++ {
		bits[chunk*8+i] = v&(1<<i) != 0
	}
}
