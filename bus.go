package feetech

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"
)

// TxState names the transactor's current state. Transitions are driven
// synchronously by each public Bus method; there is no background task
// advancing them on its own (§4.5/§5).
type TxState int

const (
	StateIdle TxState = iota
	StateSending
	StateAwaitingResponse
	StateDraining
)

func (s TxState) String() string {
	switch s {
	case StateSending:
		return "sending"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateDraining:
		return "draining"
	default:
		return "idle"
	}
}

// AccessMode selects whether a Bus read/write goes through the control
// table's semantic conversion or moves a raw integer straight to/from the
// wire.
type AccessMode int

const (
	Converted AccessMode = iota
	Raw
)

// Bus is the single-owner bus transactor (C5). It exclusively owns one
// Transport, serializes every operation behind its own mutex (turning
// accidental concurrent callers into a queue rather than corrupted receive
// state — the spec leaves concurrent use otherwise undefined), and carries
// its receive buffer across transactions so a partial reply tail from a
// timed-out call can still complete on the next one.
type Bus struct {
	transport Transport
	table     ControlTable
	timeout   time.Duration
	log       *log.Logger

	mu    sync.Mutex
	rxBuf []byte
	state TxState
}

// NewBus constructs a Bus over transport using table, with timeout as the
// per-transaction deadline. logger may be nil, in which case no tx/rx trace
// lines are emitted.
func NewBus(transport Transport, table ControlTable, timeout time.Duration, logger *log.Logger) *Bus {
	return &Bus{
		transport: transport,
		table:     table,
		timeout:   timeout,
		log:       logger,
	}
}

// Close closes the underlying transport. Close does not track earlier calls:
// every call is passed on to the transport's own Close.
func (b *Bus) Close() error {
	return b.transport.Close()
}

// State reports the transactor's current state, mainly useful for operator
// tooling and diagnostics.
func (b *Bus) State() TxState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Ping sends a PING instruction to id and returns the decoded status, or
// ErrNoResponse on timeout.
func (b *Bus) Ping(ctx context.Context, id byte) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(ctx, BuildPing(id)); err != nil {
		return Status{}, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(resp.Status), nil
}

// Read issues a READ for name on id and returns the decoded (or raw, per
// mode) value.
func (b *Bus) Read(ctx context.Context, id byte, name string, mode AccessMode) (any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := Lookup(b.table, name)
	if err != nil {
		return nil, err
	}

	if err := b.send(ctx, BuildRead(id, reg.Address, byte(reg.Length))); err != nil {
		return nil, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return nil, err
	}

	if mode == Raw {
		return DecodeRaw(resp.Params), nil
	}
	return DecodeUser(b.table, name, resp.Params)
}

// Write issues a WRITE for name=value on id. The reply is always read to
// keep the half-duplex stream aligned (§4.5); if await is false, its parsed
// status is discarded and a zero Status is returned on success.
func (b *Bus) Write(ctx context.Context, id byte, name string, value any, mode AccessMode, await bool) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := Lookup(b.table, name)
	if err != nil {
		return Status{}, err
	}

	data, err := b.encode(name, value, mode)
	if err != nil {
		return Status{}, err
	}

	if err := b.send(ctx, BuildWrite(id, reg.Address, data)); err != nil {
		return Status{}, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return Status{}, err
	}
	if !await {
		return Status{}, nil
	}
	return ParseStatus(resp.Status), nil
}

// RegWrite issues a REG_WRITE for name=value on id, buffered by the servo
// until the next Action.
func (b *Bus) RegWrite(ctx context.Context, id byte, name string, value any, mode AccessMode) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := Lookup(b.table, name)
	if err != nil {
		return Status{}, err
	}

	data, err := b.encode(name, value, mode)
	if err != nil {
		return Status{}, err
	}

	if err := b.send(ctx, BuildRegWrite(id, reg.Address, data)); err != nil {
		return Status{}, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(resp.Status), nil
}

// Action broadcasts ACTION, triggering every servo's pending REG_WRITE.
// Broadcasts never produce a reply, so this is fire-and-forget.
func (b *Bus) Action(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.send(ctx, BuildAction())
}

// Recovery issues a RECOVERY instruction to id.
func (b *Bus) Recovery(ctx context.Context, id byte) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(ctx, BuildRecovery(id)); err != nil {
		return Status{}, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(resp.Status), nil
}

// Reset issues a RESET instruction to id.
func (b *Bus) Reset(ctx context.Context, id byte) (Status, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := b.send(ctx, BuildReset(id)); err != nil {
		return Status{}, err
	}
	resp, err := b.receiveOne(ctx)
	if err != nil {
		return Status{}, err
	}
	return ParseStatus(resp.Status), nil
}

// SyncRead broadcasts a single SYNC_READ for name across ids and collects
// one reply per id. Values are returned in the order ids was given. Any
// missing, unexpected, or invalid reply collapses the whole call to a
// *PartialReadError naming the IDs still outstanding, rather than silently
// reordering or padding with zero values.
func (b *Bus) SyncRead(ctx context.Context, ids []byte, name string, mode AccessMode) ([]any, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := Lookup(b.table, name)
	if err != nil {
		return nil, err
	}

	if err := b.send(ctx, BuildSyncRead(reg.Address, byte(reg.Length), ids)); err != nil {
		return nil, err
	}

	indexOf := make(map[byte]int, len(ids))
	outstanding := make(map[byte]struct{}, len(ids))
	for i, id := range ids {
		indexOf[id] = i
		outstanding[id] = struct{}{}
	}

	values := make([]any, len(ids))
	for range ids {
		resp, err := b.receiveOne(ctx)
		if err != nil {
			return nil, &PartialReadError{Missing: remainingIDs(outstanding, ids)}
		}
		if _, ok := outstanding[resp.ID]; !ok {
			return nil, &PartialReadError{Missing: remainingIDs(outstanding, ids)}
		}
		delete(outstanding, resp.ID)

		var v any
		if mode == Raw {
			v = DecodeRaw(resp.Params)
		} else {
			v, err = DecodeUser(b.table, name, resp.Params)
			if err != nil {
				return nil, err
			}
		}
		values[indexOf[resp.ID]] = v
	}
	return values, nil
}

// SyncWriteValue is one servo's target value inside a Bus.SyncWrite call.
type SyncWriteValue struct {
	ID    byte
	Value any
}

// SyncWrite broadcasts a single SYNC_WRITE for name across values.
// Broadcasts never produce a reply, so this is fire-and-forget.
func (b *Bus) SyncWrite(ctx context.Context, name string, values []SyncWriteValue, mode AccessMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	reg, err := Lookup(b.table, name)
	if err != nil {
		return err
	}

	entries := make([]SyncWriteEntry, len(values))
	for i, v := range values {
		data, err := b.encode(name, v.Value, mode)
		if err != nil {
			return err
		}
		entries[i] = SyncWriteEntry{ID: v.ID, Data: data}
	}

	pkt, err := BuildSyncWrite(reg.Address, byte(reg.Length), entries)
	if err != nil {
		return err
	}
	return b.send(ctx, pkt)
}

func (b *Bus) encode(name string, value any, mode AccessMode) ([]byte, error) {
	if mode == Raw {
		raw, err := toInt32(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		return EncodeRaw(b.table, name, raw)
	}
	return EncodeUser(b.table, name, value)
}

func (b *Bus) send(ctx context.Context, packet []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.state = StateSending
	if b.log != nil {
		b.log.Printf("[tx] % x", packet)
	}
	_, err := b.transport.Write(packet)
	return err
}

// receiveOne runs the deadline-based chunked-read loop: read a short chunk,
// append to the persistent receive buffer, run the reframer, and either
// hand a complete frame to ParseResponse or keep looping until the deadline
// expires. A frame that fails ParseResponse (bad checksum) is dropped and
// the loop continues against whatever remains in the buffer — one malformed
// frame never wedges the reframer.
func (b *Bus) receiveOne(ctx context.Context) (Response, error) {
	b.state = StateAwaitingResponse
	defer func() { b.state = StateIdle }()

	deadline := time.Now().Add(b.timeout)
	chunk := make([]byte, 64)

	for {
		if pkt, rest, complete := ExtractPacket(b.rxBuf); complete {
			b.rxBuf = rest
			resp, err := ParseResponse(pkt)
			if err != nil {
				b.state = StateDraining
				if b.log != nil {
					b.log.Printf("feetech: dropping malformed frame: %v", err)
				}
				continue
			}
			if b.log != nil {
				b.log.Printf("[rx] id=%d status=%#x params=% x", resp.ID, resp.Status, resp.Params)
			}
			return resp, nil
		} else {
			b.rxBuf = rest
		}

		if !time.Now().Before(deadline) {
			return Response{}, ErrNoResponse
		}

		chunkDeadline := time.Now().Add(chunkReadTimeout)
		if deadline.Before(chunkDeadline) {
			chunkDeadline = deadline
		}
		readCtx, cancel := context.WithDeadline(ctx, chunkDeadline)
		n, err := b.transport.ReadContext(readCtx, chunk)
		cancel()

		if n > 0 {
			b.rxBuf = append(b.rxBuf, chunk[:n]...)
		}
		if err != nil {
			if ctx.Err() != nil {
				return Response{}, ctx.Err()
			}
			if !time.Now().Before(deadline) {
				return Response{}, ErrNoResponse
			}
			// a plain chunk-read timeout; keep polling until the deadline.
			continue
		}
	}
}

func remainingIDs(outstanding map[byte]struct{}, order []byte) []byte {
	out := make([]byte, 0, len(outstanding))
	for _, id := range order {
		if _, ok := outstanding[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// toInt32 coerces v to an int32 for a raw-mode encode. An unrecognized type
// is a caller bug, not a noisy wire value, so it is reported rather than
// silently treated as zero.
func toInt32(v any) (int32, error) {
	switch x := v.(type) {
	case int32:
		return x, nil
	case int:
		return int32(x), nil
	case uint32:
		return int32(x), nil
	case float64:
		return int32(x), nil
	default:
		return 0, fmt.Errorf("want a numeric value, got %T", v)
	}
}
