package decoder_test

import (
	"math"
	"testing"
	"time"

	"github.com/srg/thermolink/internal/decoder"
	"github.com/srg/thermolink/internal/device"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)

func newDecoder(opts ...decoder.Option) *decoder.Decoder {
	return decoder.New(append([]decoder.Option{decoder.WithClock(func() time.Time { return fixedNow })}, opts...)...)
}

func TestDecodeReferencePayload(t *testing.T) {
	// GOAL: Verify the reference notification decodes to 22.5
	//
	// TEST SCENARIO: 00 00 00 B4 41 on the temperature characteristic → Reading{22.5} stamped by the injected clock

	d := newDecoder()
	r, ok := d.Decode(device.TemperatureCharUUID, []byte{0x00, 0x00, 0x00, 0xB4, 0x41})

	require.True(t, ok, "reference payload MUST decode")
	assert.Equal(t, 22.5, r.Value)
	assert.Equal(t, fixedNow, r.Timestamp, "timestamp MUST come from the injected clock")
}

func TestDecodeCharacteristicFilter(t *testing.T) {
	d := newDecoder()
	payload := decoder.Encode(21.0)

	tests := []struct {
		name string
		uuid string
		ok   bool
	}{
		{"full form", device.TemperatureCharUUID, true},
		{"short form", "2a1c", true},
		{"upper case", "00002A1C-0000-1000-8000-00805F9B34FB", true},
		{"battery level", "2a19", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := d.Decode(tt.uuid, payload)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestDecodeShortPayload(t *testing.T) {
	// GOAL: Verify payloads without a full value field are rejected, never read out of range
	//
	// TEST SCENARIO: lengths 0..4 → false; length 5 → true

	d := newDecoder()
	for n := 0; n < decoder.MinPayloadLen; n++ {
		_, ok := d.Decode(device.TemperatureCharUUID, make([]byte, n))
		assert.False(t, ok, "payload of %d bytes MUST be rejected", n)
	}
	_, ok := d.Decode(device.TemperatureCharUUID, make([]byte, decoder.MinPayloadLen))
	assert.True(t, ok)
}

func TestDecodeRoundTrip(t *testing.T) {
	d := newDecoder()
	values := []float32{0, -40, 36.6, 22.5, 1e-3, math.MaxFloat32, float32(math.Inf(1))}
	for _, v := range values {
		r, ok := d.Decode(device.TemperatureCharUUID, decoder.Encode(v))
		require.True(t, ok)
		assert.Equal(t, float64(v), r.Value, "Encode/Decode MUST round-trip %v", v)
	}
}

func TestDecodeNaNAccepted(t *testing.T) {
	d := newDecoder()
	r, ok := d.Decode(device.TemperatureCharUUID, decoder.Encode(float32(math.NaN())))
	require.True(t, ok, "NaN is a valid IEEE-754 encoding and MUST decode")
	assert.True(t, math.IsNaN(r.Value))
}

func TestDecodeTrailingBytesIgnored(t *testing.T) {
	d := newDecoder()
	payload := append(decoder.Encode(37.0), 0xE6, 0x07, 0x0A, 0x13)
	r, ok := d.Decode(device.TemperatureCharUUID, payload)
	require.True(t, ok)
	assert.Equal(t, 37.0, r.Value)
}

func TestDecode11073(t *testing.T) {
	d := newDecoder(decoder.WithFormat(decoder.FormatIEEE11073))
	require.Equal(t, decoder.FormatIEEE11073, d.Format())

	tests := []struct {
		name     string
		payload  []byte
		expected float64
		ok       bool
	}{
		{"positive", decoder.Encode11073(365, -1), 36.5, true},
		{"negative mantissa", decoder.Encode11073(-125, -1), -12.5, true},
		{"zero exponent", decoder.Encode11073(20, 0), 20, true},
		{"raw bytes", []byte{0x06, 0x6D, 0x01, 0x00, 0xFF}, 36.5, true},
		{"NaN", decoder.Encode11073(0x007FFFFF, 0), 0, false},
		{"NRes", decoder.Encode11073(-0x00800000, 0), 0, false},
		{"+INF", decoder.Encode11073(0x007FFFFE, 0), 0, false},
		{"-INF", decoder.Encode11073(-0x007FFFFE, 0), 0, false},
		{"reserved", decoder.Encode11073(-0x007FFFFF, 0), 0, false},
		{"short", []byte{0x00, 0x01}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, ok := d.Decode(device.TemperatureCharUUID, tt.payload)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, r.Value, 1e-9)
			}
		})
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in       string
		expected decoder.Format
		wantErr  bool
	}{
		{"", decoder.FormatIEEE754, false},
		{"IEEE754", decoder.FormatIEEE754, false},
		{"ieee11073", decoder.FormatIEEE11073, false},
		{"sfloat", decoder.FormatIEEE11073, false},
		{"bcd", decoder.FormatIEEE754, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, err := decoder.ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, f)
			assert.Equal(t, tt.expected.String(), f.String())
		})
	}
}
