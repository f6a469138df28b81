package larpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacket_Encode(t *testing.T) {
	p := Packet{Type: DataPacket, ChipID: 1, Channel: 2}
	p.UpdateParity()

	assert.Equal(t, uint8(1), p.Parity)
	assert.Equal(t, [PacketBytes]byte{0x04, 0x08, 0, 0, 0, 0, 0x20}, p.Encode())
}

func TestDecodePacket(t *testing.T) {
	tests := []struct {
		name string
		in   Packet
	}{
		{
			name: "data packet",
			in: Packet{
				Type:      DataPacket,
				ChipID:    246,
				Channel:   31,
				Timestamp: 0xABCDEF,
				Dataword:  1023,
				FIFOHalf:  true,
			},
		},
		{
			name: "config write",
			in:   NewConfigWrite(245, RegGlobalThreshold, 0x7E),
		},
		{
			name: "config read",
			in:   NewConfigRead(3, RegResetCyclesHigh),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.UpdateParity()
			enc := tt.in.Encode()

			got, err := DecodePacket(enc[:])
			require.NoError(t, err)
			assert.Equal(t, tt.in, got)
			assert.True(t, got.ValidParity())
		})
	}
}

func TestDecodePacket_BadLength(t *testing.T) {
	_, err := DecodePacket([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestPacket_ValidParity(t *testing.T) {
	p := NewConfigWrite(1, 10, 3)
	assert.True(t, p.ValidParity())

	p.Parity ^= 1
	assert.False(t, p.ValidParity())
}

func TestPacket_String(t *testing.T) {
	assert.Contains(t, NewConfigWrite(1, 32, 20).String(), "register 32")
	assert.Contains(t, Packet{Type: DataPacket, Channel: 5}.String(), "channel 5")
}
