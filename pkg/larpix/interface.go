package larpix

import (
	"context"
	"time"
)

// WriteMode selects how a register write is issued. The zero value writes
// and returns immediately; a non-zero ReadFor keeps listening for that long
// and returns every packet received in the same transaction.
type WriteMode struct {
	ReadFor time.Duration
}

// FireAndForget writes without listening.
var FireAndForget = WriteMode{}

// WriteRead writes and then listens for d.
func WriteRead(d time.Duration) WriteMode {
	return WriteMode{ReadFor: d}
}

// Device defines the register and capture interface of a LArPix controller
// (real or mocked).
type Device interface {
	// Write sends the given registers of chip from its configuration mirror.
	Write(ctx context.Context, chip *Chip, registers []int, mode WriteMode) ([]Packet, error)
	// ReadConfiguration reads every register of chip back from hardware.
	ReadConfiguration(ctx context.Context, chip *Chip) (Configuration, error)
	// Capture listens for at least d and returns every packet received.
	// The label is used only for diagnostics.
	Capture(ctx context.Context, d time.Duration, label string) ([]Packet, error)
}

// Discarder is implemented by devices that can drop their receive backlog.
type Discarder interface {
	Discard() error
}

// Ensure Serial implements Device.
var _ Device = (*Serial)(nil)

// Ensure Mock implements Device.
var _ Device = (*Mock)(nil)

var (
	_ Discarder = (*Serial)(nil)
	_ Discarder = (*Mock)(nil)
)
