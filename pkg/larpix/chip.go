package larpix

import "fmt"

// Chip is one ASIC on a board together with its configuration mirror.
type Chip struct {
	ID      uint8
	IOChain uint8
	Config  *Configuration
}

// NewChip returns a chip with the power-on configuration.
func NewChip(id, ioChain uint8) *Chip {
	cfg := DefaultConfiguration()
	return &Chip{ID: id, IOChain: ioChain, Config: &cfg}
}

func (c *Chip) String() string {
	return fmt.Sprintf("chip %d (io chain %d)", c.ID, c.IOChain)
}

// WritePackets builds config write packets for the given registers from the
// current mirror.
func (c *Chip) WritePackets(registers []int) ([]Packet, error) {
	packets := make([]Packet, 0, len(registers))
	for _, addr := range registers {
		v, err := c.Config.Register(addr)
		if err != nil {
			return nil, err
		}
		packets = append(packets, NewConfigWrite(c.ID, addr, v))
	}
	return packets, nil
}

// ReadPackets builds config read requests for every register.
func (c *Chip) ReadPackets() []Packet {
	packets := make([]Packet, 0, NumRegisters)
	for _, addr := range AllRegisters() {
		packets = append(packets, NewConfigRead(c.ID, addr))
	}
	return packets
}
