package feetech

import (
	"errors"
	"math"
	"testing"
)

func TestLookupUnknownRegister(t *testing.T) {
	if _, err := Lookup(STS3215{}, "does_not_exist"); !errors.Is(err, ErrUnknownRegister) {
		t.Errorf("Lookup(unknown) err = %v, want ErrUnknownRegister", err)
	}
}

func TestEncodeUserGoalPosition(t *testing.T) {
	table := STS3215{}
	data, err := EncodeUser(table, "goal_position", math.Pi)
	if err != nil {
		t.Fatalf("EncodeUser: unexpected error: %v", err)
	}
	want := []byte{0x00, 0x08}
	if !bytesEqual(data, want) {
		t.Errorf("EncodeUser(goal_position, pi) = % x, want % x", data, want)
	}

	got, err := DecodeUser(table, "goal_position", data)
	if err != nil {
		t.Fatalf("DecodeUser: unexpected error: %v", err)
	}
	if v, ok := got.(float64); !ok || math.Abs(v-math.Pi) > 1e-6 {
		t.Errorf("DecodeUser(goal_position, % x) = %v, want ~pi", data, got)
	}
}

func TestEncodeUserPositionOffset(t *testing.T) {
	table := STS3215{}
	data, err := EncodeUser(table, "position_offset", float64(-1000))
	if err != nil {
		t.Fatalf("EncodeUser: unexpected error: %v", err)
	}
	want := []byte{0xE8, 0x0B}
	if !bytesEqual(data, want) {
		t.Errorf("EncodeUser(position_offset, -1000) = % x, want % x", data, want)
	}

	got, err := DecodeUser(table, "position_offset", data)
	if err != nil {
		t.Fatalf("DecodeUser: unexpected error: %v", err)
	}
	if v, ok := got.(float64); !ok || v != -1000 {
		t.Errorf("DecodeUser(position_offset, % x) = %v, want -1000", data, got)
	}
}

func TestEncodeUserBoolAndMode(t *testing.T) {
	table := STS3215{}

	data, err := EncodeUser(table, "torque_enable", true)
	if err != nil {
		t.Fatalf("EncodeUser(torque_enable): unexpected error: %v", err)
	}
	if got, _ := DecodeUser(table, "torque_enable", data); got != true {
		t.Errorf("DecodeUser(torque_enable, % x) = %v, want true", data, got)
	}

	data, err = EncodeUser(table, "mode", ModeVelocity)
	if err != nil {
		t.Fatalf("EncodeUser(mode): unexpected error: %v", err)
	}
	if got, _ := DecodeUser(table, "mode", data); got != ModeVelocity {
		t.Errorf("DecodeUser(mode, % x) = %v, want %v", data, got, ModeVelocity)
	}
}

func TestEncodeUserScale(t *testing.T) {
	table := STS3215{}
	data, err := EncodeUser(table, "present_voltage", 7.4)
	if err != nil {
		t.Fatalf("EncodeUser(present_voltage): unexpected error: %v", err)
	}
	want := []byte{74}
	if !bytesEqual(data, want) {
		t.Errorf("EncodeUser(present_voltage, 7.4) = % x, want % x", data, want)
	}
}

func TestBaudRateRoundTrip(t *testing.T) {
	table := STS3215{}
	cases := []int{1_000_000, 500_000, 250_000, 128_000, 115_200, 76_800, 57_600, 38_400}
	for _, bps := range cases {
		raw := table.BaudRateToRaw(bps)
		if back := table.RawToBaudRate(raw); back != bps {
			t.Errorf("BaudRateToRaw/RawToBaudRate round trip for %d: got %d", bps, back)
		}
	}
	// unknown raw values default to the bus default, not zero.
	if got := table.RawToBaudRate(99); got != 1_000_000 {
		t.Errorf("RawToBaudRate(99) = %d, want 1,000,000", got)
	}
}

func TestModeString(t *testing.T) {
	cases := []struct {
		m    Mode
		want string
	}{
		{ModePosition, "position"},
		{ModeVelocity, "velocity"},
		{ModePWM, "pwm"},
		{ModeStep, "step"},
		{ModeUnknown, "unknown"},
	}
	for _, c := range cases {
		if got := c.m.String(); got != c.want {
			t.Errorf("Mode(%d).String() = %q, want %q", c.m, got, c.want)
		}
	}
}

func TestEncodeUserRejectsUnconvertibleType(t *testing.T) {
	table := STS3215{}
	if _, err := EncodeUser(table, "goal_position", "not a number"); err == nil {
		t.Error("EncodeUser(goal_position, string): want an error, not a silent zero")
	}
	if _, err := EncodeUser(table, "torque_enable", "not a bool"); err == nil {
		t.Error("EncodeUser(torque_enable, string): want an error, not a silent false")
	}
	if _, err := EncodeUser(table, "mode", "not a mode"); err == nil {
		t.Error("EncodeUser(mode, string): want an error, not a silent ModePosition")
	}
}

func TestEncodeRawDecodeRaw(t *testing.T) {
	table := STS3215{}
	data, err := EncodeRaw(table, "present_position", 2048)
	if err != nil {
		t.Fatalf("EncodeRaw: unexpected error: %v", err)
	}
	if got := DecodeRaw(data); got != 2048 {
		t.Errorf("DecodeRaw(EncodeRaw(2048)) = %d, want 2048", got)
	}
}
