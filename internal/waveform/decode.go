// Package waveform decodes three-axis accelerometer payloads whose wire
// encoding is not known in advance, and summarises the decoded samples.
//
// Each candidate encoding is tried in a fixed priority order against all three
// axes. The first encoding whose output passes validation wins. When every
// candidate fails, the returned *DecodeError lists why each one was rejected so
// the real gateway format can be identified from logs.
package waveform

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Encoding names a candidate wire encoding.
type Encoding string

const (
	EncodingDelimited Encoding = "delimited-text"
	EncodingJSONArray Encoding = "structured-text"
	EncodingPacked    Encoding = "packed-binary"
)

// Candidate encodings in priority order.
var Encodings = []Encoding{EncodingDelimited, EncodingJSONArray, EncodingPacked}

// DefaultMaxAbsValue is the magnitude bound applied to every decoded value.
// Unverified against hardware.
const DefaultMaxAbsValue = 200.0

// DefaultPackedDivisor converts packed int16 counts to g, assuming the gateway
// sends milli-g. Unverified against hardware.
const DefaultPackedDivisor = 1000.0

// Axis names used in diagnostics.
const (
	AxisX = "x"
	AxisY = "y"
	AxisZ = "z"
)

// Samples holds one capture window for the three accelerometer axes. All three
// slices have the same length.
type Samples struct {
	X []float64 `json:"x"`
	Y []float64 `json:"y"`
	Z []float64 `json:"z"`
}

// Len returns the per-axis sample count.
func (s Samples) Len() int {
	return len(s.X)
}

// Axis returns the samples for the named axis, or nil for an unknown name.
func (s Samples) Axis(name string) []float64 {
	switch name {
	case AxisX:
		return s.X
	case AxisY:
		return s.Y
	case AxisZ:
		return s.Z
	}
	return nil
}

// Stats computes per-axis statistics.
func (s Samples) Stats() AxisSet {
	return AxisSet{
		X: Statistics(s.X),
		Y: Statistics(s.Y),
		Z: Statistics(s.Z),
	}
}

// Decoded is the outcome of a successful Decode.
type Decoded struct {
	Samples  Samples
	Encoding Encoding
}

// Limits bounds the validation gate and the packed-binary scaling.
type Limits struct {
	MaxAbsValue   float64
	PackedDivisor float64
}

// DefaultLimits returns the limits used by the package-level Decode.
func DefaultLimits() Limits {
	return Limits{
		MaxAbsValue:   DefaultMaxAbsValue,
		PackedDivisor: DefaultPackedDivisor,
	}
}

// normalize replaces unset or nonsensical fields with defaults.
func (l Limits) normalize() Limits {
	if l.MaxAbsValue <= 0 || math.IsNaN(l.MaxAbsValue) {
		l.MaxAbsValue = DefaultMaxAbsValue
	}
	if l.PackedDivisor == 0 || math.IsNaN(l.PackedDivisor) || math.IsInf(l.PackedDivisor, 0) {
		l.PackedDivisor = DefaultPackedDivisor
	}
	return l
}

// Decoder runs the candidate chain with a fixed set of limits.
type Decoder struct {
	limits Limits
}

// NewDecoder returns a Decoder using the given limits. Zero fields fall back
// to the package defaults.
func NewDecoder(limits Limits) *Decoder {
	return &Decoder{limits: limits.normalize()}
}

// Limits returns the effective limits.
func (d *Decoder) Limits() Limits {
	return d.limits
}

var defaultDecoder = NewDecoder(DefaultLimits())

// Decode runs the default decoder. expected <= 0 means no sample count is
// enforced.
func Decode(rawX, rawY, rawZ string, expected int) (*Decoded, error) {
	return defaultDecoder.Decode(rawX, rawY, rawZ, expected)
}

// Decode tries every candidate encoding in priority order and returns the
// first result that validates. It returns a *DecodeError when none does.
func (d *Decoder) Decode(rawX, rawY, rawZ string, expected int) (*Decoded, error) {
	raw := [3]string{rawX, rawY, rawZ}
	var failures []AttemptFailure

	for _, enc := range Encodings {
		samples, failure := d.attempt(enc, raw, expected)
		if failure != nil {
			failures = append(failures, *failure)
			continue
		}
		return &Decoded{Samples: samples, Encoding: enc}, nil
	}
	return nil, &DecodeError{Attempts: failures}
}

// attempt decodes all three axes with one encoding and applies the validation
// gate. Parse problems never escape as errors; they are reported as a failure
// for this encoding only.
func (d *Decoder) attempt(enc Encoding, raw [3]string, expected int) (Samples, *AttemptFailure) {
	axes := [3]string{AxisX, AxisY, AxisZ}
	var decoded [3][]float64

	for i, s := range raw {
		values, err := d.parse(enc, s)
		if err != nil {
			return Samples{}, &AttemptFailure{Encoding: enc, Reason: ReasonParse, Axis: axes[i], Detail: err.Error()}
		}
		decoded[i] = values
	}

	n := len(decoded[0])
	if len(decoded[1]) != n || len(decoded[2]) != n {
		return Samples{}, &AttemptFailure{
			Encoding: enc,
			Reason:   ReasonAxisLength,
			Detail:   fmt.Sprintf("x=%d y=%d z=%d", len(decoded[0]), len(decoded[1]), len(decoded[2])),
		}
	}
	if n == 0 {
		return Samples{}, &AttemptFailure{Encoding: enc, Reason: ReasonEmpty, Detail: "no samples decoded"}
	}
	if expected > 0 && n != expected {
		return Samples{}, &AttemptFailure{
			Encoding: enc,
			Reason:   ReasonExpectedCount,
			Detail:   fmt.Sprintf("decoded %d samples per axis, expected %d", n, expected),
		}
	}

	for i, values := range decoded {
		for j, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Samples{}, &AttemptFailure{
					Encoding: enc, Reason: ReasonNonFinite, Axis: axes[i],
					Detail: fmt.Sprintf("sample %d is %v", j, v),
				}
			}
			if math.Abs(v) > d.limits.MaxAbsValue {
				return Samples{}, &AttemptFailure{
					Encoding: enc, Reason: ReasonOutOfRange, Axis: axes[i],
					Detail: fmt.Sprintf("sample %d is %g, bound is ±%g", j, v, d.limits.MaxAbsValue),
				}
			}
		}
	}

	return Samples{X: decoded[0], Y: decoded[1], Z: decoded[2]}, nil
}

func (d *Decoder) parse(enc Encoding, s string) ([]float64, error) {
	switch enc {
	case EncodingDelimited:
		return parseDelimited(s)
	case EncodingJSONArray:
		return parseJSONArray(s)
	case EncodingPacked:
		return parsePacked(s, d.limits.PackedDivisor)
	}
	return nil, fmt.Errorf("unknown encoding %q", enc)
}

// parseDelimited splits on commas and parses every token as a float. Tokens
// such as "NaN" parse successfully and are caught by the finiteness check.
func parseDelimited(s string) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	tokens := strings.Split(s, ",")
	values := make([]float64, 0, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
		if err != nil {
			// ParseFloat reports overflow with ±Inf and ErrRange; keep the value
			// so the finiteness check names it.
			if errors.Is(err, strconv.ErrRange) {
				values = append(values, v)
				continue
			}
			return nil, fmt.Errorf("token %d %q is not a number", i, tok)
		}
		values = append(values, v)
	}
	return values, nil
}

// parseJSONArray accepts only a JSON array whose members are all numbers.
func parseJSONArray(s string) ([]float64, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var members []interface{}
	if err := dec.Decode(&members); err != nil {
		return nil, fmt.Errorf("not a JSON array: %v", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON array")
	}

	values := make([]float64, 0, len(members))
	for i, m := range members {
		num, ok := m.(json.Number)
		if !ok {
			return nil, fmt.Errorf("member %d is %T, not a number", i, m)
		}
		v, err := strconv.ParseFloat(num.String(), 64)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				values = append(values, v)
				continue
			}
			return nil, fmt.Errorf("member %d: %v", i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// parsePacked base64-decodes s and reads signed 16-bit little-endian counts,
// dividing each by divisor.
func parsePacked(s string, divisor float64) ([]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty payload")
	}
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid base64: %v", err)
	}
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("odd byte length %d for int16 samples", len(b))
	}
	values := make([]float64, len(b)/2)
	for i := range values {
		count := int16(binary.LittleEndian.Uint16(b[2*i:]))
		values[i] = float64(count) / divisor
	}
	return values, nil
}

// EncodePacked is the inverse of the packed-binary candidate. Values are
// multiplied by divisor and rounded to the nearest int16 count, saturating at
// the int16 range.
func EncodePacked(values []float64, divisor float64) string {
	b := make([]byte, 2*len(values))
	for i, v := range values {
		c := math.Round(v * divisor)
		if c > math.MaxInt16 {
			c = math.MaxInt16
		} else if c < math.MinInt16 {
			c = math.MinInt16
		}
		binary.LittleEndian.PutUint16(b[2*i:], uint16(int16(c)))
	}
	return base64.StdEncoding.EncodeToString(b)
}

// EncodeDelimited formats values as comma-separated text with the shortest
// representation that round-trips.
func EncodeDelimited(values []float64) string {
	var sb strings.Builder
	for i, v := range values {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return sb.String()
}
