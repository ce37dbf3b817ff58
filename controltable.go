package feetech

import (
	"fmt"
	"math"
)

// Conversion is the closed set of semantic interpretations a register's raw
// bytes can carry.
type Conversion int

const (
	ConvNone Conversion = iota
	ConvBool
	ConvScale
	ConvPosition
	ConvSpeed
	ConvSpeedSigned
	ConvLoadSigned
	ConvPositionOffset
	ConvMode
	ConvBaudRate
)

// Register is a control-table entry: its byte address, its length in bytes
// (1, 2 or 4), and how its raw bytes map to a user value. Scale is only
// meaningful when Conversion is ConvScale.
type Register struct {
	Address    byte
	Length     int
	Conversion Conversion
	Scale      float64
}

// Mode is the servo's small, closed operating-mode enum.
type Mode int

const (
	ModePosition Mode = iota
	ModeVelocity
	ModePWM
	ModeStep
	ModeUnknown
)

func (m Mode) String() string {
	switch m {
	case ModePosition:
		return "position"
	case ModeVelocity:
		return "velocity"
	case ModePWM:
		return "pwm"
	case ModeStep:
		return "step"
	default:
		return "unknown"
	}
}

// ControlTable is the capability set a servo model exposes: its register
// map, its position/speed scale constants, and its mode/baud-rate enum
// mappings. Models are selected by name at Bus construction time.
type ControlTable interface {
	ModelName() string
	Registers() map[string]Register
	PositionScale() float64
	SpeedScale() float64
	ModeToRaw(Mode) byte
	RawToMode(byte) Mode
	BaudRateToRaw(bps int) byte
	RawToBaudRate(raw byte) int
}

// Lookup resolves a register name against t, returning ErrUnknownRegister if
// it is not present.
func Lookup(t ControlTable, name string) (Register, error) {
	reg, ok := t.Registers()[name]
	if !ok {
		return Register{}, fmt.Errorf("%w: %s", ErrUnknownRegister, name)
	}
	return reg, nil
}

// EncodeUser converts a user-unit value (float64, bool, or Mode, depending
// on the register's conversion) into the register's raw bytes.
func EncodeUser(t ControlTable, name string, value any) ([]byte, error) {
	reg, err := Lookup(t, name)
	if err != nil {
		return nil, err
	}
	switch reg.Conversion {
	case ConvNone:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		return encodeUint(uint32(roundTiesAway(f)), reg.Length), nil
	case ConvBool:
		b, err := toBool(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		if b {
			return encodeUint(1, reg.Length), nil
		}
		return encodeUint(0, reg.Length), nil
	case ConvScale:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := roundTiesAway(f / reg.Scale)
		return encodeUint(uint32(raw), reg.Length), nil
	case ConvPosition:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		steps := roundTiesAway(f / t.PositionScale())
		return encodeSignMagnitude(steps, 15, reg.Length), nil
	case ConvSpeed:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := roundTiesAway(f / t.SpeedScale())
		return encodeUint(uint32(raw), reg.Length), nil
	case ConvSpeedSigned:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := roundTiesAway(f / t.SpeedScale())
		return encodeSignMagnitude(raw, 15, reg.Length), nil
	case ConvLoadSigned:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := roundTiesAway(f / 0.1)
		return encodeSignMagnitude(raw, 10, reg.Length), nil
	case ConvPositionOffset:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := roundTiesAway(f)
		return encodeSignMagnitude(raw, 11, reg.Length), nil
	case ConvMode:
		m, ok := value.(Mode)
		if !ok {
			return nil, fmt.Errorf("feetech: %s: want a Mode, got %T", name, value)
		}
		return encodeUint(uint32(t.ModeToRaw(m)), reg.Length), nil
	case ConvBaudRate:
		f, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("feetech: %s: %w", name, err)
		}
		raw := t.BaudRateToRaw(int(f))
		return encodeUint(uint32(raw), reg.Length), nil
	default:
		return nil, fmt.Errorf("feetech: unsupported conversion for %s", name)
	}
}

// DecodeUser converts a register's raw bytes into a user-unit value. The
// concrete Go type returned depends on the register's conversion: float64
// for none/scale/position/speed-like conversions, bool for bool, Mode for
// mode, and int (bits per second) for baud_rate.
func DecodeUser(t ControlTable, name string, data []byte) (any, error) {
	reg, err := Lookup(t, name)
	if err != nil {
		return nil, err
	}
	switch reg.Conversion {
	case ConvNone:
		return float64(decodeUint(data)), nil
	case ConvBool:
		return decodeUint(data) != 0, nil
	case ConvScale:
		return float64(decodeUint(data)) * reg.Scale, nil
	case ConvPosition:
		return float64(decodeSignMagnitude(data, 15)) * t.PositionScale(), nil
	case ConvSpeed:
		return float64(decodeUint(data)) * t.SpeedScale(), nil
	case ConvSpeedSigned:
		return float64(decodeSignMagnitude(data, 15)) * t.SpeedScale(), nil
	case ConvLoadSigned:
		return float64(decodeSignMagnitude(data, 10)) * 0.1, nil
	case ConvPositionOffset:
		return float64(decodeSignMagnitude(data, 11)), nil
	case ConvMode:
		return t.RawToMode(byte(decodeUint(data))), nil
	case ConvBaudRate:
		return t.RawToBaudRate(byte(decodeUint(data))), nil
	default:
		return nil, fmt.Errorf("feetech: unsupported conversion for %s", name)
	}
}

// EncodeRaw little-endian encodes intValue into the register's byte length,
// with no semantic conversion applied.
func EncodeRaw(t ControlTable, name string, intValue int32) ([]byte, error) {
	reg, err := Lookup(t, name)
	if err != nil {
		return nil, err
	}
	return encodeUint(uint32(intValue), reg.Length), nil
}

// DecodeRaw reads a plain unsigned little-endian integer, with no semantic
// conversion applied.
func DecodeRaw(data []byte) uint32 {
	return decodeUint(data)
}

// toFloat coerces v to a float64 for the numeric conversions. An
// unrecognized type is a caller bug, not a noisy wire value, so it is
// reported rather than silently treated as zero.
func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	default:
		return 0, fmt.Errorf("want a numeric value, got %T", v)
	}
}

// toBool coerces v to a bool for ConvBool. Non-bool numeric types are
// accepted (nonzero is true), but anything else is reported rather than
// silently treated as false.
func toBool(v any) (bool, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	default:
		f, err := toFloat(v)
		if err != nil {
			return false, fmt.Errorf("want a bool, got %T", v)
		}
		return f != 0, nil
	}
}

// STS3215 is the reference control table: 4096 steps/revolution, speed unit
// of 50 steps/s, default baud rate 1,000,000.
type STS3215 struct{}

const (
	sts3215StepsPerRevolution = 4096
)

func (STS3215) ModelName() string { return "sts3215" }

func (STS3215) PositionScale() float64 { return 2 * math.Pi / sts3215StepsPerRevolution }

func (t STS3215) SpeedScale() float64 { return 50 * t.PositionScale() }

func (STS3215) ModeToRaw(m Mode) byte {
	switch m {
	case ModeVelocity:
		return 1
	case ModePWM:
		return 2
	case ModeStep:
		return 3
	default:
		return 0
	}
}

func (STS3215) RawToMode(raw byte) Mode {
	switch raw {
	case 0:
		return ModePosition
	case 1:
		return ModeVelocity
	case 2:
		return ModePWM
	case 3:
		return ModeStep
	default:
		return ModeUnknown
	}
}

func (STS3215) BaudRateToRaw(bps int) byte {
	switch bps {
	case 500_000:
		return 1
	case 250_000:
		return 2
	case 128_000:
		return 3
	case 115_200:
		return 4
	case 76_800:
		return 5
	case 57_600:
		return 6
	case 38_400:
		return 7
	default:
		return 0
	}
}

func (STS3215) RawToBaudRate(raw byte) int {
	switch raw {
	case 1:
		return 500_000
	case 2:
		return 250_000
	case 3:
		return 128_000
	case 4:
		return 115_200
	case 5:
		return 76_800
	case 6:
		return 57_600
	case 7:
		return 38_400
	default:
		return 1_000_000
	}
}

func (STS3215) Registers() map[string]Register {
	return sts3215Registers
}

var sts3215Registers = map[string]Register{
	"firmware_version_main": {Address: 0, Length: 1, Conversion: ConvNone},
	"firmware_version_sub":  {Address: 1, Length: 1, Conversion: ConvNone},
	"servo_version_main":    {Address: 3, Length: 1, Conversion: ConvNone},
	"servo_version_sub":     {Address: 4, Length: 1, Conversion: ConvNone},
	"id":                    {Address: 5, Length: 1, Conversion: ConvNone},
	"baud_rate":             {Address: 6, Length: 1, Conversion: ConvBaudRate},
	"return_delay":          {Address: 7, Length: 1, Conversion: ConvNone},
	"status_return_level":   {Address: 8, Length: 1, Conversion: ConvNone},
	"min_angle_limit":       {Address: 9, Length: 2, Conversion: ConvPosition},
	"max_angle_limit":       {Address: 11, Length: 2, Conversion: ConvPosition},
	"max_temperature":       {Address: 13, Length: 1, Conversion: ConvNone},
	"max_input_voltage":     {Address: 14, Length: 1, Conversion: ConvScale, Scale: 0.1},
	"min_input_voltage":     {Address: 15, Length: 1, Conversion: ConvScale, Scale: 0.1},
	"max_torque":            {Address: 16, Length: 2, Conversion: ConvScale, Scale: 0.001},
	"position_p_gain":       {Address: 21, Length: 1, Conversion: ConvNone},
	"position_d_gain":       {Address: 22, Length: 1, Conversion: ConvNone},
	"position_i_gain":       {Address: 23, Length: 1, Conversion: ConvNone},
	"position_offset":       {Address: 31, Length: 2, Conversion: ConvPositionOffset},
	"mode":                  {Address: 33, Length: 1, Conversion: ConvMode},
	"torque_enable":         {Address: 40, Length: 1, Conversion: ConvBool},
	"acceleration":          {Address: 41, Length: 1, Conversion: ConvNone},
	"goal_position":         {Address: 42, Length: 2, Conversion: ConvPosition},
	"goal_time":             {Address: 44, Length: 2, Conversion: ConvNone},
	"goal_speed":            {Address: 46, Length: 2, Conversion: ConvSpeed},
	"torque_limit":          {Address: 48, Length: 2, Conversion: ConvScale, Scale: 0.001},
	"lock":                  {Address: 55, Length: 1, Conversion: ConvBool},
	"present_position":      {Address: 56, Length: 2, Conversion: ConvPosition},
	"present_speed":         {Address: 58, Length: 2, Conversion: ConvSpeedSigned},
	"present_load":          {Address: 60, Length: 2, Conversion: ConvLoadSigned},
	"present_voltage":       {Address: 62, Length: 1, Conversion: ConvScale, Scale: 0.1},
	"present_temperature":   {Address: 63, Length: 1, Conversion: ConvNone},
	"hardware_error_status": {Address: 65, Length: 1, Conversion: ConvNone},
	"moving":                {Address: 66, Length: 1, Conversion: ConvBool},
	"present_current":       {Address: 69, Length: 2, Conversion: ConvNone},
}
