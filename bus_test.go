package feetech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport is an in-memory Transport double: Write is recorded verbatim,
// and ReadContext hands out queued bytes one chunk at a time. Once the queue
// is empty it blocks on ctx until the caller's deadline fires, mirroring a
// real serial port's behavior on a quiet line.
type fakeTransport struct {
	mu     sync.Mutex
	rx     []byte
	writes [][]byte
	closed bool
}

func (f *fakeTransport) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (f *fakeTransport) ReadContext(ctx context.Context, p []byte) (int, error) {
	f.mu.Lock()
	if len(f.rx) == 0 {
		f.mu.Unlock()
		<-ctx.Done()
		return 0, ctx.Err()
	}
	n := copy(p, f.rx)
	f.rx = f.rx[n:]
	f.mu.Unlock()
	return n, nil
}

func (f *fakeTransport) appendRx(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rx = append(f.rx, b...)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestBus(rx []byte) (*Bus, *fakeTransport) {
	ft := &fakeTransport{rx: rx}
	bus := NewBus(ft, STS3215{}, 30*time.Millisecond, nil)
	return bus, ft
}

func TestBusPing(t *testing.T) {
	resp := buildPacket(1, 0x00, nil)
	bus, ft := newTestBus(resp)

	status, err := bus.Ping(context.Background(), 1)
	if err != nil {
		t.Fatalf("Ping: unexpected error: %v", err)
	}
	if len(status.Errors) != 0 {
		t.Errorf("Ping status = %+v, want no errors", status)
	}
	if len(ft.writes) != 1 || ft.writes[0][4] != InstrPing {
		t.Errorf("Ping: expected one PING write, got %v", ft.writes)
	}
}

func TestBusPingNoResponse(t *testing.T) {
	bus, _ := newTestBus(nil)
	start := time.Now()
	_, err := bus.Ping(context.Background(), 1)
	if !errors.Is(err, ErrNoResponse) {
		t.Fatalf("Ping with no reply: err = %v, want ErrNoResponse", err)
	}
	if elapsed := time.Since(start); elapsed < bus.timeout {
		t.Errorf("Ping returned after %s, want at least the %s timeout", elapsed, bus.timeout)
	}
}

func TestBusReadPresentPosition(t *testing.T) {
	data := encodeSignMagnitude(2048, 15, 2) // present_position, ~pi radians
	resp := buildPacket(1, 0x00, data)
	bus, _ := newTestBus(resp)

	v, err := bus.Read(context.Background(), 1, "present_position", Converted)
	if err != nil {
		t.Fatalf("Read: unexpected error: %v", err)
	}
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("Read returned %T, want float64", v)
	}
	if f < 3.14 || f > 3.15 {
		t.Errorf("Read(present_position) = %v, want ~pi", f)
	}
}

func TestBusWriteAwaitFalse(t *testing.T) {
	resp := buildPacket(1, 0x00, nil)
	bus, ft := newTestBus(resp)

	status, err := bus.Write(context.Background(), 1, "goal_position", 0.0, Converted, false)
	if err != nil {
		t.Fatalf("Write: unexpected error: %v", err)
	}
	if status.Errors != nil || status.TorqueEnabled {
		t.Errorf("Write with await=false returned %+v, want zero Status", status)
	}
	if len(ft.writes) != 1 || ft.writes[0][4] != InstrWrite {
		t.Errorf("Write: expected one WRITE write, got %v", ft.writes)
	}
}

func TestBusWriteAwaitTrue(t *testing.T) {
	resp := buildPacket(1, 0x01, nil) // voltage_error set
	bus, _ := newTestBus(resp)

	status, err := bus.Write(context.Background(), 1, "goal_position", 0.0, Converted, true)
	if err != nil {
		t.Fatalf("Write: unexpected error: %v", err)
	}
	if len(status.Errors) != 1 || status.Errors[0] != VoltageError {
		t.Errorf("Write await=true status = %+v, want voltage_error", status)
	}
}

func TestBusSyncReadAllPresent(t *testing.T) {
	var rx []byte
	for _, id := range []byte{1, 2, 3} {
		rx = append(rx, buildPacket(id, 0x00, encodeUint(uint32(id)*10, 2))...)
	}
	bus, _ := newTestBus(rx)

	values, err := bus.SyncRead(context.Background(), []byte{1, 2, 3}, "goal_time", Converted)
	if err != nil {
		t.Fatalf("SyncRead: unexpected error: %v", err)
	}
	for i, id := range []byte{1, 2, 3} {
		want := float64(id) * 10
		if values[i] != want {
			t.Errorf("SyncRead values[%d] = %v, want %v", i, values[i], want)
		}
	}
}

func TestBusSyncReadPartial(t *testing.T) {
	// only id 1 and id 3 reply; id 2 never shows up.
	var rx []byte
	rx = append(rx, buildPacket(1, 0x00, encodeUint(10, 2))...)
	rx = append(rx, buildPacket(3, 0x00, encodeUint(30, 2))...)
	bus, _ := newTestBus(rx)

	_, err := bus.SyncRead(context.Background(), []byte{1, 2, 3}, "goal_time", Converted)
	var partial *PartialReadError
	if !errors.As(err, &partial) {
		t.Fatalf("SyncRead with a missing id: err = %v, want *PartialReadError", err)
	}
	if !errors.Is(err, ErrPartialRead) {
		t.Errorf("SyncRead partial error does not unwrap to ErrPartialRead")
	}
	if len(partial.Missing) != 1 || partial.Missing[0] != 2 {
		t.Errorf("PartialReadError.Missing = %v, want [2]", partial.Missing)
	}
}

func TestBusSyncWrite(t *testing.T) {
	bus, ft := newTestBus(nil)
	err := bus.SyncWrite(context.Background(), "goal_position", []SyncWriteValue{
		{ID: 1, Value: 0.0},
		{ID: 2, Value: 0.0},
	}, Converted)
	if err != nil {
		t.Fatalf("SyncWrite: unexpected error: %v", err)
	}
	if len(ft.writes) != 1 || ft.writes[0][2] != BroadcastID || ft.writes[0][4] != InstrSyncWrite {
		t.Errorf("SyncWrite: expected one broadcast SYNC_WRITE, got %v", ft.writes)
	}
}

func TestBusActionNeverReads(t *testing.T) {
	bus, ft := newTestBus(nil)
	if err := bus.Action(context.Background()); err != nil {
		t.Fatalf("Action: unexpected error: %v", err)
	}
	if len(ft.writes) != 1 || ft.writes[0][2] != BroadcastID || ft.writes[0][4] != InstrAction {
		t.Errorf("Action: expected one broadcast ACTION, got %v", ft.writes)
	}
}

func TestBusClose(t *testing.T) {
	bus, ft := newTestBus(nil)
	if err := bus.Close(); err != nil {
		t.Fatalf("Close: unexpected error: %v", err)
	}
	if !ft.closed {
		t.Error("Close: underlying transport was not closed")
	}
}

func TestBusWriteRejectsUnconvertibleType(t *testing.T) {
	bus, ft := newTestBus(nil)
	if _, err := bus.Write(context.Background(), 1, "goal_position", "oops", Converted, true); err == nil {
		t.Error("Write(goal_position, string): want an error, not a silent WRITE of 0")
	}
	if len(ft.writes) != 0 {
		t.Errorf("Write(goal_position, string): expected no bytes on the wire, got %v", ft.writes)
	}
}

func TestBusWriteRawRejectsUnconvertibleType(t *testing.T) {
	bus, ft := newTestBus(nil)
	if _, err := bus.Write(context.Background(), 1, "goal_position", "oops", Raw, true); err == nil {
		t.Error("Write(goal_position, string, Raw): want an error, not a silent WRITE of 0")
	}
	if len(ft.writes) != 0 {
		t.Errorf("Write(goal_position, string, Raw): expected no bytes on the wire, got %v", ft.writes)
	}
}

func TestBusReadUnknownRegister(t *testing.T) {
	bus, _ := newTestBus(nil)
	if _, err := bus.Read(context.Background(), 1, "no_such_register", Converted); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("Read(unknown register): err = %v, want ErrUnknownRegister", err)
	}
}

func TestBusPartialFrameAcrossReads(t *testing.T) {
	full := buildPacket(1, 0x00, nil)
	ft := &fakeTransport{rx: full[:3]}
	bus := NewBus(ft, STS3215{}, 50*time.Millisecond, nil)

	// Feed the rest of the frame in after the first chunked read would have
	// drained the initial partial write, exercising receiveOne's persistent
	// rxBuf across chunk boundaries.
	go func() {
		time.Sleep(5 * time.Millisecond)
		ft.appendRx(full[3:])
	}()

	status, err := bus.Ping(context.Background(), 1)
	if err != nil {
		t.Fatalf("Ping across a split frame: unexpected error: %v", err)
	}
	if len(status.Errors) != 0 {
		t.Errorf("Ping across a split frame: status = %+v, want no errors", status)
	}
}
