package larpix

import "bytes"

// UART frame delimiters.
const (
	FrameStart = 0x73
	FrameStop  = 0x71
	// FrameBytes is start + packet + io chain + stop.
	FrameBytes = PacketBytes + 3
)

// Frame is a packet together with the io chain it travelled on.
type Frame struct {
	Packet  Packet
	IOChain uint8
}

// FrameUART wraps a packet for transmission on the given io chain.
func FrameUART(p Packet, ioChain uint8) []byte {
	enc := p.Encode()
	out := make([]byte, 0, FrameBytes)
	out = append(out, FrameStart)
	out = append(out, enc[:]...)
	out = append(out, ioChain, FrameStop)
	return out
}

// ParseStream extracts complete frames from buf. Bytes before a start byte
// and frames with a bad stop byte are skipped. Frames whose packet fails the
// parity check are dropped and counted in bad. rest holds an incomplete tail
// that must be prepended to the next read.
func ParseStream(buf []byte) (frames []Frame, rest []byte, bad int) {
	for {
		i := bytes.IndexByte(buf, FrameStart)
		if i < 0 {
			return frames, nil, bad
		}
		buf = buf[i:]
		if len(buf) < FrameBytes {
			return frames, buf, bad
		}
		if buf[FrameBytes-1] != FrameStop {
			buf = buf[1:]
			continue
		}
		p, err := DecodePacket(buf[1 : 1+PacketBytes])
		switch {
		case err != nil:
		case !p.ValidParity():
			bad++
		default:
			frames = append(frames, Frame{Packet: p, IOChain: buf[FrameBytes-2]})
		}
		buf = buf[FrameBytes:]
	}
}
