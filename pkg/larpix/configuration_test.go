package larpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfiguration_RegisterRoundTrip(t *testing.T) {
	c := DefaultConfiguration()
	c.PixelTrimThresholds[5] = 3
	c.GlobalThreshold = 41
	c.CSABypass = false
	c.CSAMonitorSelect[12] = true
	c.ConnectTestpulse(7, 30)
	c.CSATestpulseDACAmplitude = 200
	c.TestMode = 2
	c.CrossTriggerMode = true
	c.FIFODiagnostic = true
	c.TestBurstLength = 0x1234
	c.DisableChannels(0, 9, 31)
	c.EnableExternalTrigger(4)
	require.NoError(t, c.SetResetCycles(0xABCDEF))

	var got Configuration
	for _, addr := range AllRegisters() {
		v, err := c.Register(addr)
		require.NoError(t, err)
		require.NoError(t, got.SetRegister(addr, v))
	}
	assert.Equal(t, c, got)
}

func TestConfiguration_ArrayPacking(t *testing.T) {
	c := DefaultConfiguration()
	c.EnableChannels()
	c.DisableChannels(0, 9, 31)

	tests := []struct {
		addr int
		want byte
	}{
		{52, 0x01},
		{53, 0x02},
		{54, 0x00},
		{55, 0x80},
	}
	for _, tt := range tests {
		v, err := c.Register(tt.addr)
		require.NoError(t, err)
		assert.Equal(t, tt.want, v, "register %d", tt.addr)
	}
}

func TestConfiguration_ResetCycles(t *testing.T) {
	c := DefaultConfiguration()
	require.NoError(t, c.SetResetCycles(0x123456))

	for addr, want := range map[int]byte{60: 0x56, 61: 0x34, 62: 0x12} {
		v, err := c.Register(addr)
		require.NoError(t, err)
		assert.Equal(t, want, v)
	}

	assert.Error(t, c.SetResetCycles(MaxResetCycles+1))
	assert.Error(t, c.SetResetCycles(-1))
}

func TestConfiguration_GainAndModeBits(t *testing.T) {
	c := DefaultConfiguration()

	v, err := c.Register(RegCSAGainAndBypasses)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0B), v)

	c.TestMode = 1
	c.PeriodicReset = true
	v, err = c.Register(RegTestModeXtrigReset)
	require.NoError(t, err)
	assert.Equal(t, byte(0x09), v)
}

func TestConfiguration_InvalidRegister(t *testing.T) {
	c := DefaultConfiguration()

	_, err := c.Register(NumRegisters)
	assert.ErrorIs(t, err, ErrInvalidRegister)
	assert.ErrorIs(t, c.SetRegister(-1, 0), ErrInvalidRegister)
}

func TestConfiguration_DiffRegisters(t *testing.T) {
	a := DefaultConfiguration()
	b := a.Clone()
	assert.Empty(t, a.DiffRegisters(&b))

	b.PixelTrimThresholds[3] = 0
	b.DisableChannels(8)
	b.GlobalThreshold = 99
	assert.Equal(t, []int{3, RegGlobalThreshold, 53}, a.DiffRegisters(&b))
}

func TestConfiguration_CloneIsIndependent(t *testing.T) {
	a := DefaultConfiguration()
	b := a.Clone()
	b.PixelTrimThresholds[0] = 1
	b.ChannelMask[0] = true

	assert.Equal(t, uint8(16), a.PixelTrimThresholds[0])
	assert.False(t, a.ChannelMask[0])
}

func TestRegisterGroups_FreshSlices(t *testing.T) {
	regs := ChannelMaskRegisters()
	regs[0] = RegGlobalThreshold
	_ = append(regs[:1], 99)

	assert.Equal(t, []int{52, 53, 54, 55}, ChannelMaskRegisters())
	assert.Len(t, TrimRegisters(), NumChannels)
	assert.Equal(t, []int{38, 39, 40, 41}, MonitorSelectRegisters())
	assert.Equal(t, []int{60, 61, 62}, ResetCycleRegisters())
}

func TestConfiguration_MonitorChannel(t *testing.T) {
	c := DefaultConfiguration()
	c.MonitorChannel(3)
	c.MonitorChannel(9)

	for ch := 0; ch < NumChannels; ch++ {
		assert.Equal(t, ch == 9, c.CSAMonitorSelect[ch], "channel %d", ch)
	}
	v, err := c.Register(39)
	require.NoError(t, err)
	assert.Equal(t, uint8(1<<1), v)
}

func TestChip_WritePackets(t *testing.T) {
	chip := NewChip(9, 1)
	chip.Config.GlobalThreshold = 55

	packets, err := chip.WritePackets([]int{RegGlobalThreshold, 0})
	require.NoError(t, err)
	require.Len(t, packets, 2)
	assert.Equal(t, NewConfigWrite(9, RegGlobalThreshold, 55), packets[0])
	assert.Equal(t, NewConfigWrite(9, 0, 16), packets[1])

	_, err = chip.WritePackets([]int{99})
	assert.ErrorIs(t, err, ErrInvalidRegister)
}

func TestFilterChannel(t *testing.T) {
	packets := []Packet{
		{Type: DataPacket, ChipID: 1, Channel: 3, Dataword: 10},
		{Type: DataPacket, ChipID: 2, Channel: 3, Dataword: 20},
		{Type: TestPacket, ChipID: 1, Channel: 3},
		{Type: DataPacket, ChipID: 1, Channel: 4, Dataword: 30},
		{Type: DataPacket, ChipID: 1, Channel: 3, Dataword: 40},
	}

	got := FilterChannel(packets, 1, 3)
	assert.Equal(t, []float64{10, 40}, Datawords(got))

	parts := PartitionByChannel(packets, 1)
	assert.Len(t, parts, 2)
	assert.Len(t, parts[3], 2)
	assert.Len(t, parts[4], 1)
}
