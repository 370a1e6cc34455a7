package ini

import (
	"encoding"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Key is a handle to one key-value line inside a section. Handles stay valid
// across renames. After the key or its section is removed, or the document is
// reset or reloaded, reads return the last value and writes are ignored. The
// zero Key is not usable.
type Key struct {
	s  *Section
	id int
}

func (k Key) slot() *slot { return &k.s.nodes[k.id] }

// Name returns the key name with its original casing.
func (k Key) Name() string { return k.slot().Name }

// Section returns the section that owns the key.
func (k Key) Section() *Section { return k.s }

// Dirty reports whether the owning document has unsaved changes.
func (k Key) Dirty() bool { return k.s.flag.set }

// Empty reports whether the stored value is empty.
func (k Key) Empty() bool { return k.slot().Value == "" }

// String returns the stored value text.
func (k Key) String() string { return k.slot().Value }

// Bool parses the value as a boolean. "true" and "false" match without regard
// to case; anything else is read as an integer and compared against zero.
func (k Key) Bool() bool { return parseBool(k.String()) }

// Int parses the value as an int. Malformed text yields 0.
func (k Key) Int() int { return int(parseInt(k.String())) }

// Int64 parses the value as an int64. Malformed text yields 0.
func (k Key) Int64() int64 { return parseInt(k.String()) }

// Uint64 parses the value as a uint64. Malformed text yields 0.
func (k Key) Uint64() uint64 { return parseUint(k.String()) }

// Float32 parses the value as a float32. Malformed text yields 0.
func (k Key) Float32() float32 { return float32(parseFloat(k.String(), 32)) }

// Float64 parses the value as a float64. Malformed text yields 0.
func (k Key) Float64() float64 { return parseFloat(k.String(), 64) }

// SetString stores v truncated at its first line break and trimmed.
func (k Key) SetString(v string) { k.assign(singleLine(v)) }

// SetBool stores "true" or "false".
func (k Key) SetBool(v bool) { k.assign(strconv.FormatBool(v)) }

// SetInt stores v in decimal.
func (k Key) SetInt(v int) { k.assign(strconv.Itoa(v)) }

// SetInt64 stores v in decimal.
func (k Key) SetInt64(v int64) { k.assign(strconv.FormatInt(v, 10)) }

// SetUint64 stores v in decimal.
func (k Key) SetUint64(v uint64) { k.assign(strconv.FormatUint(v, 10)) }

// SetFloat32 stores v with 6 significant digits.
func (k Key) SetFloat32(v float32) { k.assign(formatFloat32(v)) }

// SetFloat64 stores v with 16 significant digits.
func (k Key) SetFloat64(v float64) { k.assign(formatFloat64(v)) }

// SetText stores the text form of v.
func (k Key) SetText(v encoding.TextMarshaler) error {
	b, err := v.MarshalText()
	if err != nil {
		return fmt.Errorf("key %q: marshaling value: %w", k.Name(), err)
	}
	k.SetString(string(b))
	return nil
}

// ScanText decodes the stored value into v.
func (k Key) ScanText(v encoding.TextUnmarshaler) error {
	if err := v.UnmarshalText([]byte(k.String())); err != nil {
		return fmt.Errorf("key %q: unmarshaling value: %w", k.Name(), err)
	}
	return nil
}

// assign stores already-normalized text. Identical text is a no-op and leaves
// the dirty flag alone.
func (k Key) assign(text string) {
	sl := k.slot()
	if sl.removed || k.s.detached || sl.Value == text {
		return
	}
	sl.Value = text
	k.s.flag.set = true
}

// Scalar lists the value types the generic accessors convert to and from.
type Scalar interface {
	string | bool |
		int | int8 | int16 | int32 | int64 |
		uint | uint8 | uint16 | uint32 | uint64 |
		float32 | float64
}

// Get converts the stored value to T. Conversion never fails: malformed or
// empty text yields the zero value.
func Get[T Scalar](k Key) T {
	text := k.String()
	var out any
	switch any(*new(T)).(type) {
	case string:
		out = text
	case bool:
		out = parseBool(text)
	case int:
		out = int(parseInt(text))
	case int8:
		out = int8(parseInt(text))
	case int16:
		out = int16(parseInt(text))
	case int32:
		out = int32(parseInt(text))
	case int64:
		out = parseInt(text)
	case uint:
		out = uint(parseUint(text))
	case uint8:
		out = uint8(parseUint(text))
	case uint16:
		out = uint16(parseUint(text))
	case uint32:
		out = uint32(parseUint(text))
	case uint64:
		out = parseUint(text)
	case float32:
		out = float32(parseFloat(text, 32))
	case float64:
		out = parseFloat(text, 64)
	}
	return out.(T)
}

// GetOr returns def when the stored value is empty and Get otherwise. It never
// modifies the key.
func GetOr[T Scalar](k Key, def T) T {
	if k.Empty() {
		return def
	}
	return Get[T](k)
}

// Ensure stores def when the stored value is empty, then returns the current
// value. A non-empty value is returned unchanged.
func Ensure[T Scalar](k Key, def T) T {
	if k.Empty() {
		Set(k, def)
	}
	return Get[T](k)
}

// Set converts v to text and stores it. Floats use 6 significant digits for
// float32 and 16 for float64; booleans are written as "true" or "false".
func Set[T Scalar](k Key, v T) {
	switch x := any(v).(type) {
	case string:
		k.SetString(x)
	default:
		k.assign(format(x))
	}
}

// Format renders v the way Set stores it.
func Format[T Scalar](v T) string {
	if s, ok := any(v).(string); ok {
		return singleLine(s)
	}
	return format(any(v))
}

func format(v any) string {
	switch x := v.(type) {
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int64:
		return strconv.FormatInt(x, 10)
	case uint:
		return strconv.FormatUint(uint64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case uint16:
		return strconv.FormatUint(uint64(x), 10)
	case uint32:
		return strconv.FormatUint(uint64(x), 10)
	case uint64:
		return strconv.FormatUint(x, 10)
	case float32:
		return formatFloat32(x)
	case float64:
		return formatFloat64(x)
	default:
		panic(fmt.Sprintf("ini: unsupported value type %T", v))
	}
}

func formatFloat32(v float32) string { return strconv.FormatFloat(float64(v), 'g', 6, 32) }

func formatFloat64(v float64) string { return strconv.FormatFloat(v, 'g', 16, 64) }

func parseBool(s string) bool {
	switch {
	case strings.EqualFold(s, "true"):
		return true
	case strings.EqualFold(s, "false"):
		return false
	default:
		return parseInt(s) != 0
	}
}

// intPrefix returns the leading optionally-signed run of decimal digits in s,
// after leading whitespace. Trailing text is ignored.
func intPrefix(s string) string {
	s = strings.TrimLeft(s, _space)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == start {
		return ""
	}
	return s[:i]
}

// parseInt reads the leading integer of s. Out-of-range values saturate.
func parseInt(s string) int64 {
	p := intPrefix(s)
	if p == "" {
		return 0
	}
	// ParseInt returns the saturated value alongside ErrRange.
	v, _ := strconv.ParseInt(p, 10, 64)
	return v
}

// parseUint reads the leading integer of s. Negative input wraps the way a
// signed-to-unsigned conversion does.
func parseUint(s string) uint64 {
	p := intPrefix(s)
	if p == "" {
		return 0
	}
	if p[0] == '-' {
		return uint64(parseInt(p))
	}
	v, _ := strconv.ParseUint(strings.TrimPrefix(p, "+"), 10, 64)
	return v
}

// floatPrefix returns the longest leading floating-point literal in s:
// decimal with optional exponent, hexadecimal with optional binary exponent,
// or inf, infinity and nan in any case. A hexadecimal literal without an
// exponent gets "p0" so strconv accepts it.
func floatPrefix(s string) string {
	s = strings.TrimLeft(s, _space)
	i := 0
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		i++
	}
	rest := s[i:]
	switch {
	case hasPrefixFold(rest, "infinity"):
		return s[:i+8]
	case hasPrefixFold(rest, "inf"), hasPrefixFold(rest, "nan"):
		return s[:i+3]
	case hasPrefixFold(rest, "0x"):
		if n, exp := hexFloatLen(s[i+2:]); n > 0 {
			if !exp {
				return s[:i+2+n] + "p0"
			}
			return s[:i+2+n]
		}
	}

	digits := 0
	for i < len(s) && isDigit(s[i]) {
		i++
		digits++
	}
	if i < len(s) && s[i] == '.' {
		i++
		for i < len(s) && isDigit(s[i]) {
			i++
			digits++
		}
	}
	if digits == 0 {
		return ""
	}
	return s[:i+exponentLen(s[i:], 'e')]
}

// hexFloatLen measures the hexadecimal mantissa and binary exponent at the
// start of s, which follows a "0x" prefix.
func hexFloatLen(s string) (n int, exp bool) {
	digits := 0
	for n < len(s) && isHexDigit(s[n]) {
		n++
		digits++
	}
	if n < len(s) && s[n] == '.' {
		n++
		for n < len(s) && isHexDigit(s[n]) {
			n++
			digits++
		}
	}
	if digits == 0 {
		return 0, false
	}
	e := exponentLen(s[n:], 'p')
	return n + e, e > 0
}

// exponentLen returns the length of a leading exponent marked by letter, or 0
// when s does not start with a complete one.
func exponentLen(s string, letter byte) int {
	if s == "" || s[0]|0x20 != letter {
		return 0
	}
	j := 1
	if j < len(s) && (s[j] == '+' || s[j] == '-') {
		j++
	}
	k := j
	for k < len(s) && isDigit(s[k]) {
		k++
	}
	if k == j {
		return 0
	}
	return k
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHexDigit(c byte) bool {
	return isDigit(c) || (c|0x20 >= 'a' && c|0x20 <= 'f')
}

// parseFloat reads the float literal at the start of s. Out-of-range values
// saturate to infinity.
func parseFloat(s string, bitSize int) float64 {
	p := floatPrefix(s)
	if p == "" {
		return 0
	}
	if strings.EqualFold(strings.TrimLeft(p, "+-"), "nan") {
		return math.NaN()
	}
	v, _ := strconv.ParseFloat(p, bitSize)
	return v
}
