package heatpump

import (
	"bytes"
	"fmt"
	"strconv"
)

// Terminator marks the end of every device response.
const Terminator byte = '#'

// Command is the single request byte sent to the controller.
type Command byte

// Supported commands.
const (
	CommandTemperature Command = 't'
	CommandParameter   Command = 'p'
	CommandOutput      Command = 'o'
	CommandStatus      Command = 's'
	CommandCounter     Command = 'c'
	CommandError       Command = 'e'
)

// commandInfo describes how a command is indexed and decoded.
type commandInfo struct {
	name     string
	indexed  bool
	maxIndex int
	kind     ValueKind
}

var commands = map[Command]commandInfo{
	CommandTemperature: {name: "temperature", indexed: true, maxIndex: 10, kind: KindFloat},
	CommandParameter:   {name: "parameter", indexed: true, maxIndex: 17, kind: KindFloat},
	CommandOutput:      {name: "output", indexed: true, maxIndex: 1, kind: KindFloat},
	CommandStatus:      {name: "status", kind: KindInteger},
	CommandCounter:     {name: "counter", kind: KindInteger},
	CommandError:       {name: "error", kind: KindInteger},
}

// String returns the command name, e.g. "temperature".
func (c Command) String() string {
	if info, ok := commands[c]; ok {
		return info.name
	}
	return fmt.Sprintf("unknown(%q)", byte(c))
}

// Indexed reports whether the command takes an index byte.
func (c Command) Indexed() bool {
	return commands[c].indexed
}

// MaxIndex returns the highest valid index for an indexed command, or -1.
func (c Command) MaxIndex() int {
	info, ok := commands[c]
	if !ok || !info.indexed {
		return -1
	}
	return info.maxIndex
}

// Kind returns the value kind the command decodes to.
func (c Command) Kind() ValueKind {
	return commands[c].kind
}

// Descriptor identifies one readable value on the controller.
type Descriptor struct {
	Command  Command
	Index    int
	HasIndex bool
}

// Indexed returns a descriptor for an indexed command.
func Indexed(cmd Command, index int) Descriptor {
	return Descriptor{Command: cmd, Index: index, HasIndex: true}
}

// Plain returns a descriptor for a command without an index.
func Plain(cmd Command) Descriptor {
	return Descriptor{Command: cmd}
}

// Validate checks the command and index against the protocol.
func (d Descriptor) Validate() error {
	info, ok := commands[d.Command]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidDescriptor, byte(d.Command))
	}
	if info.indexed != d.HasIndex {
		if info.indexed {
			return fmt.Errorf("%w: %s requires an index", ErrInvalidDescriptor, info.name)
		}
		return fmt.Errorf("%w: %s takes no index", ErrInvalidDescriptor, info.name)
	}
	if limit := d.Command.MaxIndex(); d.HasIndex && (d.Index < 0 || d.Index > limit) {
		return fmt.Errorf("%w: %s index %d out of range 0-%d", ErrInvalidDescriptor, info.name, d.Index, limit)
	}
	return nil
}

// String returns the wire form, e.g. "t0" or "s".
func (d Descriptor) String() string {
	if d.HasIndex {
		return fmt.Sprintf("%c%d", byte(d.Command), d.Index)
	}
	return string(byte(d.Command))
}

// Encode returns the request bytes for d: the command byte followed, for
// indexed commands, by '0'+index.
func Encode(d Descriptor) ([]byte, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if !d.HasIndex {
		return []byte{byte(d.Command)}, nil
	}
	return []byte{byte(d.Command), byte('0' + d.Index)}, nil
}

// ValueKind distinguishes integer and floating-point values.
type ValueKind int

// Value kinds.
const (
	KindInteger ValueKind = iota
	KindFloat
)

// String returns "integer" or "float".
func (k ValueKind) String() string {
	if k == KindFloat {
		return "float"
	}
	return "integer"
}

// Value is a decoded device value.
type Value struct {
	Kind  ValueKind
	Int   int64
	Float float64
}

// IntegerValue returns an integer Value.
func IntegerValue(i int64) Value {
	return Value{Kind: KindInteger, Int: i}
}

// FloatValue returns a floating-point Value.
func FloatValue(f float64) Value {
	return Value{Kind: KindFloat, Float: f}
}

// String returns the shortest text form, used as the MQTT payload.
// 21.3 renders as "21.3", 20.0 as "20".
func (v Value) String() string {
	if v.Kind == KindFloat {
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	}
	return strconv.FormatInt(v.Int, 10)
}

// Number returns the value as a JSON-friendly number.
func (v Value) Number() any {
	if v.Kind == KindFloat {
		return v.Float
	}
	return v.Int
}

// Decode parses response text for cmd. A single trailing terminator and
// surrounding line noise (CR, LF, spaces) are stripped. Any other
// terminator, empty text, or text that is not a plain decimal of the
// command's kind returns ErrMalformedResponse. Go literal forms such as
// hex floats, exponents and digit separators are rejected.
func Decode(raw []byte, cmd Command) (Value, error) {
	info, ok := commands[cmd]
	if !ok {
		return Value{}, fmt.Errorf("%w: unknown command %q", ErrInvalidDescriptor, byte(cmd))
	}

	text := bytes.TrimSpace(bytes.TrimSuffix(raw, []byte{Terminator}))
	if len(text) == 0 {
		return Value{}, fmt.Errorf("%w: empty %s response", ErrMalformedResponse, info.name)
	}
	if bytes.IndexByte(text, Terminator) >= 0 {
		return Value{}, fmt.Errorf("%w: embedded terminator in %q", ErrMalformedResponse, raw)
	}

	s := string(text)
	if !isDecimal(text, info.kind == KindFloat) {
		return Value{}, fmt.Errorf("%w: %s %q is not a decimal number", ErrMalformedResponse, info.name, s)
	}
	if info.kind == KindFloat {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s %q: %w", ErrMalformedResponse, info.name, s, err)
		}
		return FloatValue(f), nil
	}

	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %s %q: %w", ErrMalformedResponse, info.name, s, err)
	}
	return IntegerValue(i), nil
}

// isDecimal reports whether text is an optional sign followed by digits,
// with at most one decimal point when allowPoint is set.
func isDecimal(text []byte, allowPoint bool) bool {
	if len(text) > 0 && (text[0] == '+' || text[0] == '-') {
		text = text[1:]
	}
	digits, points := 0, 0
	for _, c := range text {
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '.' && allowPoint:
			points++
		default:
			return false
		}
	}
	return digits > 0 && points <= 1
}

// counterModulus is the wrap applied to negative counter readings.
const counterModulus = 1 << 16

// unwrapCounter maps a signed 16-bit counter reading into [0,65535].
func unwrapCounter(v int64) (int64, error) {
	if v < 0 {
		v += counterModulus
	}
	if v < 0 || v >= counterModulus {
		return 0, fmt.Errorf("%w: counter %d outside 0-%d", ErrMalformedResponse, v, counterModulus-1)
	}
	return v, nil
}
