package feetech

import (
	"context"
	"time"

	"go.bug.st/serial"
)

// chunkReadTimeout bounds a single ReadContext call so Bus's receive loop
// can re-check its per-transaction deadline frequently, per §4.5/§5.
const chunkReadTimeout = 10 * time.Millisecond

// Transport is the external collaborator Bus consumes: a half-duplex byte
// stream capable of a deadline-aware chunked read, a bounded write, and a
// single close. It deliberately has no "listen"/broadcast surface — Bus
// issues at most one in-flight request at a time.
type Transport interface {
	// ReadContext blocks for at most one chunk (bounded by ctx's deadline,
	// if any) and returns whatever bytes arrived, which may be zero on a
	// plain timeout.
	ReadContext(ctx context.Context, p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
}

// SerialTransport is a Transport backed by a real TTY, configured for the
// bus electrical characteristics §6 requires: 8 data bits, 1 stop bit, no
// parity, no flow control.
type SerialTransport struct {
	port serial.Port
}

// OpenSerialTransport opens path at baud and configures it per §6.
func OpenSerialTransport(path string, baud int) (*SerialTransport, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	return &SerialTransport{port: port}, nil
}

// ReadContext sets the port's read timeout to the lesser of chunkReadTimeout
// and the time remaining on ctx, then performs a single blocking Read.
func (s *SerialTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	timeout := chunkReadTimeout
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < timeout {
			if remaining <= 0 {
				return 0, ctx.Err()
			}
			timeout = remaining
		}
	}

	if err := s.port.SetReadTimeout(timeout); err != nil {
		return 0, err
	}
	return s.port.Read(p)
}

// Write sends p in full; the bus is treated as bounded non-blocking here
// (§5), matching go.bug.st/serial's default blocking write semantics.
func (s *SerialTransport) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// Close closes the underlying port. Safe to call once; a second call
// returns the port's own already-closed error.
func (s *SerialTransport) Close() error {
	return s.port.Close()
}
