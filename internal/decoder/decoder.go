// Package decoder converts raw temperature characteristic payloads into readings.
package decoder

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/srg/thermolink/internal/device"
	"github.com/srg/thermolink/internal/events"
)

// Format selects how the measurement value field is interpreted.
type Format int

const (
	// FormatIEEE754 reads bytes 1..4 as a little-endian IEEE-754 float32.
	FormatIEEE754 Format = iota
	// FormatIEEE11073 reads bytes 1..4 as an IEEE-11073 32-bit FLOAT
	// (24-bit signed mantissa, 8-bit signed exponent).
	FormatIEEE11073
)

// MinPayloadLen is the shortest payload that carries a value field.
const MinPayloadLen = 5

// IEEE-11073 FLOAT reserved mantissas.
const (
	mantissaNaN      = 0x007FFFFF
	mantissaNRes     = -0x00800000
	mantissaPosInf   = 0x007FFFFE
	mantissaNegInf   = -0x007FFFFE
	mantissaReserved = -0x007FFFFF
)

func (f Format) String() string {
	switch f {
	case FormatIEEE754:
		return "ieee754"
	case FormatIEEE11073:
		return "ieee11073"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// ParseFormat maps a configuration string to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "ieee754", "float32":
		return FormatIEEE754, nil
	case "ieee11073", "11073", "sfloat":
		return FormatIEEE11073, nil
	default:
		return FormatIEEE754, fmt.Errorf("unknown decode format %q (supported: ieee754, ieee11073)", s)
	}
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithFormat selects the value encoding.
func WithFormat(f Format) Option {
	return func(d *Decoder) { d.format = f }
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		if now != nil {
			d.now = now
		}
	}
}

// Decoder is stateless apart from its options and safe for concurrent use.
type Decoder struct {
	format Format
	now    func() time.Time
}

// New creates a decoder. Defaults to FormatIEEE754 and time.Now.
func New(opts ...Option) *Decoder {
	d := &Decoder{format: FormatIEEE754, now: time.Now}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Format returns the configured value encoding.
func (d *Decoder) Format() Format {
	return d.format
}

// Decode turns a notification payload into a Reading. It reports false when the
// payload is not from the temperature characteristic or cannot be decoded.
func (d *Decoder) Decode(charUUID string, raw []byte) (events.Reading, bool) {
	if !device.IsTemperatureCharacteristic(charUUID) {
		return events.Reading{}, false
	}
	if len(raw) < MinPayloadLen {
		return events.Reading{}, false
	}

	var value float64
	switch d.format {
	case FormatIEEE11073:
		v, ok := decodeFloat11073(raw[1:5])
		if !ok {
			return events.Reading{}, false
		}
		value = v
	default:
		value = float64(math.Float32frombits(binary.LittleEndian.Uint32(raw[1:5])))
	}

	return events.Reading{Timestamp: d.now(), Value: value}, true
}

func decodeFloat11073(b []byte) (float64, bool) {
	mantissa := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16)
	if mantissa&0x00800000 != 0 {
		mantissa -= 0x01000000
	}
	switch mantissa {
	case mantissaNaN, mantissaNRes, mantissaPosInf, mantissaNegInf, mantissaReserved:
		return 0, false
	}
	exponent := int8(b[3])
	return float64(mantissa) * math.Pow10(int(exponent)), true
}

// Encode builds a payload that Decode in FormatIEEE754 maps back to v.
func Encode(v float32) []byte {
	raw := make([]byte, MinPayloadLen)
	binary.LittleEndian.PutUint32(raw[1:], math.Float32bits(v))
	return raw
}

// Encode11073 builds an IEEE-11073 FLOAT payload from a mantissa and exponent.
func Encode11073(mantissa int32, exponent int8) []byte {
	m := uint32(mantissa) & 0x00FFFFFF
	return []byte{0x00, byte(m), byte(m >> 8), byte(m >> 16), byte(exponent)}
}
