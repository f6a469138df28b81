package larpix

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameUART(t *testing.T) {
	p := NewConfigWrite(7, RegGlobalThreshold, 40)
	frame := FrameUART(p, 2)

	require.Len(t, frame, FrameBytes)
	assert.Equal(t, byte(FrameStart), frame[0])
	assert.Equal(t, byte(2), frame[FrameBytes-2])
	assert.Equal(t, byte(FrameStop), frame[FrameBytes-1])
}

func TestParseStream(t *testing.T) {
	a := NewConfigWrite(1, 0, 5)
	b := Packet{Type: DataPacket, ChipID: 1, Channel: 4, Dataword: 77}
	b.UpdateParity()

	var stream []byte
	stream = append(stream, 0x00, 0x42) // line noise
	stream = append(stream, FrameUART(a, 0)...)
	stream = append(stream, FrameUART(b, 1)...)
	tail := FrameUART(a, 0)[:4]
	stream = append(stream, tail...)

	frames, rest, bad := ParseStream(stream)
	require.Len(t, frames, 2)
	assert.Equal(t, a, frames[0].Packet)
	assert.Equal(t, b, frames[1].Packet)
	assert.Equal(t, uint8(1), frames[1].IOChain)
	assert.Equal(t, tail, rest)
	assert.Zero(t, bad)

	// The tail completes on the next read.
	frames, rest, _ = ParseStream(append(rest, FrameUART(a, 0)[4:]...))
	require.Len(t, frames, 1)
	assert.Equal(t, a, frames[0].Packet)
	assert.Empty(t, rest)
}

func TestParseStream_BadStopResyncs(t *testing.T) {
	a := NewConfigWrite(1, 3, 9)
	bad := FrameUART(a, 0)
	bad[FrameBytes-1] = 0x00

	frames, rest, _ := ParseStream(append(bad, FrameUART(a, 0)...))
	require.Len(t, frames, 1)
	assert.Equal(t, a, frames[0].Packet)
	assert.Empty(t, rest)
}

func TestParseStream_DropsBadParity(t *testing.T) {
	good := Packet{Type: DataPacket, ChipID: 2, Channel: 9, Dataword: 300}
	good.UpdateParity()
	corrupt := good
	corrupt.Parity ^= 1

	frames, rest, bad := ParseStream(append(FrameUART(corrupt, 0), FrameUART(good, 0)...))
	require.Len(t, frames, 1)
	assert.Equal(t, good, frames[0].Packet)
	assert.Equal(t, 1, bad)
	assert.Empty(t, rest)
}
