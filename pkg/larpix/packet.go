package larpix

import (
	"encoding/binary"
	"fmt"
	"math/bits"
)

// PacketType is the two-bit packet kind.
type PacketType uint8

const (
	DataPacket        PacketType = 0
	TestPacket        PacketType = 1
	ConfigWritePacket PacketType = 2
	ConfigReadPacket  PacketType = 3
)

func (t PacketType) String() string {
	switch t {
	case DataPacket:
		return "data"
	case TestPacket:
		return "test"
	case ConfigWritePacket:
		return "config write"
	case ConfigReadPacket:
		return "config read"
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// PacketBytes is the size of an encoded packet.
const PacketBytes = 7

const (
	packetBits = 54
	parityBit  = 53
	dataMask   = 1<<parityBit - 1
)

// Packet is one 54-bit word exchanged with a chip.
//
// Data packets carry Channel, Timestamp and Dataword; config packets carry
// Register and Value in the same bit positions.
type Packet struct {
	Type      PacketType
	ChipID    uint8
	Channel   uint8  // 7 bits
	Timestamp uint32 // 24 bits
	Dataword  uint16 // 10 bits
	FIFOHalf  bool
	FIFOFull  bool
	Register  uint8
	Value     uint8
	Parity    uint8
}

// NewConfigWrite builds a register write packet.
func NewConfigWrite(chipID uint8, register int, value byte) Packet {
	p := Packet{Type: ConfigWritePacket, ChipID: chipID, Register: uint8(register), Value: value}
	p.Parity = p.computeParity()
	return p
}

// NewConfigRead builds a register read request.
func NewConfigRead(chipID uint8, register int) Packet {
	p := Packet{Type: ConfigReadPacket, ChipID: chipID, Register: uint8(register)}
	p.Parity = p.computeParity()
	return p
}

// IsData reports whether the packet is a data packet.
func (p Packet) IsData() bool {
	return p.Type == DataPacket
}

func (p Packet) isConfig() bool {
	return p.Type == ConfigWritePacket || p.Type == ConfigReadPacket
}

func (p Packet) word() uint64 {
	w := uint64(p.Type&0x3) | uint64(p.ChipID)<<2
	if p.isConfig() {
		w |= uint64(p.Register)<<10 | uint64(p.Value)<<18
		return w
	}
	w |= uint64(p.Channel&0x7F)<<10 |
		uint64(p.Timestamp&0xFFFFFF)<<17 |
		uint64(p.Dataword&0x3FF)<<41
	if p.FIFOHalf {
		w |= 1 << 51
	}
	if p.FIFOFull {
		w |= 1 << 52
	}
	return w
}

// computeParity returns the bit that makes the total popcount odd.
func (p Packet) computeParity() uint8 {
	return uint8(1 - bits.OnesCount64(p.word()&dataMask)%2)
}

// UpdateParity sets the parity bit for the current contents.
func (p *Packet) UpdateParity() {
	p.Parity = p.computeParity()
}

// ValidParity reports whether the stored parity bit is correct.
func (p Packet) ValidParity() bool {
	return p.Parity == p.computeParity()
}

// Encode returns the little-endian wire bytes.
func (p Packet) Encode() [PacketBytes]byte {
	w := p.word() | uint64(p.Parity&1)<<parityBit
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], w)
	var out [PacketBytes]byte
	copy(out[:], buf[:PacketBytes])
	return out
}

// DecodePacket parses the little-endian wire bytes of one packet.
func DecodePacket(b []byte) (Packet, error) {
	if len(b) != PacketBytes {
		return Packet{}, fmt.Errorf("larpix: packet must be %d bytes, got %d", PacketBytes, len(b))
	}
	var buf [8]byte
	copy(buf[:], b)
	w := binary.LittleEndian.Uint64(buf[:]) & (1<<packetBits - 1)

	p := Packet{
		Type:   PacketType(w & 0x3),
		ChipID: uint8(w >> 2),
		Parity: uint8(w >> parityBit & 1),
	}
	if p.isConfig() {
		p.Register = uint8(w >> 10)
		p.Value = uint8(w >> 18)
		return p, nil
	}
	p.Channel = uint8(w >> 10 & 0x7F)
	p.Timestamp = uint32(w >> 17 & 0xFFFFFF)
	p.Dataword = uint16(w >> 41 & 0x3FF)
	p.FIFOHalf = w>>51&1 == 1
	p.FIFOFull = w>>52&1 == 1
	return p, nil
}

func (p Packet) String() string {
	switch p.Type {
	case ConfigWritePacket, ConfigReadPacket:
		return fmt.Sprintf("[ %s | chip %d | register %d | value %d ]", p.Type, p.ChipID, p.Register, p.Value)
	}
	return fmt.Sprintf("[ %s | chip %d | channel %d | timestamp %d | adc %d ]",
		p.Type, p.ChipID, p.Channel, p.Timestamp, p.Dataword)
}
