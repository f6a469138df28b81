package larpix

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"go.bug.st/serial"
	"go.bug.st/serial/enumerator"
)

const (
	// DefaultBaudRate is the UART rate of the LArPix control boards.
	DefaultBaudRate = 1000000
	// DefaultBufferSize is the default size of the received packets buffer.
	DefaultBufferSize = 65536
	// DefaultConfigReadTimeout bounds ReadConfiguration.
	DefaultConfigReadTimeout = time.Second

	readChunk = 4096
)

var (
	// ErrNotConnected is returned when the controller has no open port.
	ErrNotConnected = errors.New("larpix: not connected")
	// ErrNoConfigReply is returned when a chip does not answer every config read.
	ErrNoConfigReply = errors.New("larpix: missing configuration reply")
	// ErrLinkDown is returned once the port stopped delivering data.
	ErrLinkDown = errors.New("larpix: serial link lost")
)

// PortInfo describes a serial port found on the host.
type PortInfo struct {
	Name   string
	IsUSB  bool
	VID    string
	PID    string
	Serial string
}

// Serial is a LArPix controller reached over a UART.
type Serial struct {
	port        string
	baudRate    int
	bufSize     int
	readTimeout time.Duration
	log         *log.Logger

	conn      io.ReadWriteCloser
	packets   chan Packet
	done      chan struct{}
	mu        sync.RWMutex
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	connected bool
	readErr   error // Set when the reader stops on its own
}

// NewSerial creates a controller for the given port, baud rate and packet
// buffer size. Zero values select the defaults.
func NewSerial(port string, baudRate int, bufSize int, logger *log.Logger) *Serial {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	if bufSize == 0 {
		bufSize = DefaultBufferSize
	}
	if logger == nil {
		logger = log.New(io.Discard)
	}

	return &Serial{
		port:        port,
		baudRate:    baudRate,
		bufSize:     bufSize,
		readTimeout: DefaultConfigReadTimeout,
		log:         logger,
	}
}

// SetConfigReadTimeout changes how long ReadConfiguration waits for replies.
func (d *Serial) SetConfigReadTimeout(t time.Duration) {
	if t > 0 {
		d.readTimeout = t
	}
}

// Ports returns a list of available serial ports.
func Ports() ([]PortInfo, error) {
	details, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]PortInfo, 0, len(details))
	for _, p := range details {
		result = append(result, PortInfo{
			Name:   p.Name,
			IsUSB:  p.IsUSB,
			VID:    p.VID,
			PID:    p.PID,
			Serial: p.SerialNumber,
		})
	}
	return result, nil
}

// Connect opens the serial port and starts reading packets.
func (d *Serial) Connect() error {
	port, err := serial.Open(d.port, &serial.Mode{BaudRate: d.baudRate})
	if err != nil {
		return fmt.Errorf("failed to open serial port %s: %w", d.port, err)
	}
	if err := d.Attach(port); err != nil {
		port.Close()
		return err
	}
	return nil
}

// Attach starts the controller on an already open connection.
func (d *Serial) Attach(conn io.ReadWriteCloser) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.connected {
		return fmt.Errorf("already connected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.conn = conn
	d.packets = make(chan Packet, d.bufSize)
	d.done = make(chan struct{})
	d.cancel = cancel
	d.connected = true
	d.readErr = nil

	go d.readPackets(ctx, conn, d.packets, d.done)

	return nil
}

// Close closes the connection and stops reading packets.
func (d *Serial) Close() error {
	d.mu.Lock()
	if !d.connected {
		d.mu.Unlock()
		return nil
	}
	d.cancel()
	err := d.conn.Close()
	done := d.done
	d.conn = nil
	d.connected = false
	d.mu.Unlock()

	<-done

	if err != nil {
		return fmt.Errorf("failed to close serial port: %w", err)
	}
	return nil
}

// IsConnected returns whether the controller is connected and its link is
// still delivering data.
func (d *Serial) IsConnected() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.connected && d.readErr == nil
}

func (d *Serial) state() (io.ReadWriteCloser, chan Packet, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.connected {
		return nil, nil, ErrNotConnected
	}
	if d.readErr != nil {
		return nil, nil, d.readErr
	}
	return d.conn, d.packets, nil
}

// linkErr explains why the packet stream ended.
func (d *Serial) linkErr() error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.readErr != nil {
		return d.readErr
	}
	return ErrNotConnected
}

// Write sends config write packets for the given registers of chip.
func (d *Serial) Write(ctx context.Context, chip *Chip, registers []int, mode WriteMode) ([]Packet, error) {
	packets, err := chip.WritePackets(registers)
	if err != nil {
		return nil, err
	}
	if err := d.send(packets, chip.IOChain); err != nil {
		return nil, err
	}
	if mode.ReadFor <= 0 {
		return nil, nil
	}
	return d.Capture(ctx, mode.ReadFor, "write")
}

// ReadConfiguration requests every register of chip and applies the replies
// to a copy of its mirror.
func (d *Serial) ReadConfiguration(ctx context.Context, chip *Chip) (Configuration, error) {
	cfg := chip.Config.Clone()
	if err := d.send(chip.ReadPackets(), chip.IOChain); err != nil {
		return cfg, err
	}

	_, packets, err := d.state()
	if err != nil {
		return cfg, err
	}

	seen := make(map[int]bool, NumRegisters)
	timer := time.NewTimer(d.readTimeout)
	defer timer.Stop()

	for len(seen) < NumRegisters {
		select {
		case <-ctx.Done():
			return cfg, ctx.Err()
		case <-timer.C:
			return cfg, fmt.Errorf("%w: chip %d answered %d of %d registers", ErrNoConfigReply, chip.ID, len(seen), NumRegisters)
		case p, ok := <-packets:
			if !ok {
				return cfg, d.linkErr()
			}
			if p.Type != ConfigReadPacket || p.ChipID != chip.ID {
				continue
			}
			if err := cfg.SetRegister(int(p.Register), p.Value); err != nil {
				d.log.Warn("Ignoring config reply", "chip", p.ChipID, "err", err)
				continue
			}
			seen[int(p.Register)] = true
		}
	}
	return cfg, nil
}

// Capture collects packets for d.
func (d *Serial) Capture(ctx context.Context, dur time.Duration, label string) ([]Packet, error) {
	_, packets, err := d.state()
	if err != nil {
		return nil, err
	}

	timer := time.NewTimer(dur)
	defer timer.Stop()

	var out []Packet
	for {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-timer.C:
			d.log.Debug("Captured", "label", label, "packets", len(out), "duration", dur)
			return out, nil
		case p, ok := <-packets:
			if !ok {
				return out, d.linkErr()
			}
			out = append(out, p)
		}
	}
}

// Discard drops every buffered packet and the OS input buffer.
func (d *Serial) Discard() error {
	conn, packets, err := d.state()
	if err != nil {
		return err
	}
	if r, ok := conn.(interface{ ResetInputBuffer() error }); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("failed to reset input buffer: %w", err)
		}
	}
	for {
		select {
		case _, ok := <-packets:
			if !ok {
				return d.linkErr()
			}
		default:
			return nil
		}
	}
}

func (d *Serial) send(packets []Packet, ioChain uint8) error {
	conn, _, err := d.state()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Grow(len(packets) * FrameBytes)
	for _, p := range packets {
		buf.Write(FrameUART(p, ioChain))
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := conn.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to send %d packets: %w", len(packets), err)
	}
	return nil
}

// readPackets reads UART frames from conn and forwards packets to out. It
// closes out when it stops, recording why unless the controller was closed.
func (d *Serial) readPackets(ctx context.Context, conn io.Reader, out chan<- Packet, done chan<- struct{}) {
	defer close(done)
	defer close(out)

	buf := make([]byte, readChunk)
	var pending []byte
	dropped := 0
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			var (
				frames []Frame
				bad    int
			)
			frames, pending, bad = ParseStream(append(pending, buf[:n]...))
			if bad > 0 {
				d.log.Warn("Dropping packets with bad parity", "packets", bad)
			}
			for _, f := range frames {
				select {
				case out <- f.Packet:
				case <-ctx.Done():
					return
				default:
					dropped++
				}
			}
			if dropped > 0 {
				d.log.Warn("Packet buffer full, dropping packets", "dropped", dropped)
				dropped = 0
			}
		}
		if err != nil {
			if ctx.Err() == nil {
				if !errors.Is(err, io.EOF) {
					d.log.Error("Error reading from serial port", "err", err)
				}
				d.mu.Lock()
				d.readErr = fmt.Errorf("%w: %w", ErrLinkDown, err)
				d.mu.Unlock()
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
