package market

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Kind classifies a Value for comparison.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindText
	KindNumber
)

// Value is a single decoded ticker field. Strings that parse as decimals are
// numeric, which is how the exchange encodes prices and volumes.
type Value struct {
	kind   Kind
	text   string
	num    decimal.Decimal
	quoted bool
}

// Text builds a textual value.
func Text(s string) Value {
	return Value{kind: KindText, text: s, quoted: true}
}

// Number builds a numeric value.
func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, text: d.String(), num: d}
}

// ParseString classifies s as numeric when it is a decimal literal.
func ParseString(s string) Value {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Text(s)
	}
	return Value{kind: KindNumber, text: s, num: d, quoted: true}
}

// ParseRaw decodes one JSON field. A null field yields an absent value.
func ParseRaw(raw json.RawMessage) (Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Value{}, nil
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Value{}, fmt.Errorf("decode string field: %w", err)
		}
		return ParseString(s), nil
	case '{', '[', 't', 'f':
		return Value{kind: KindText, text: string(raw)}, nil
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return Value{}, fmt.Errorf("decode number field %q: %w", raw, err)
	}
	return Value{kind: KindNumber, text: string(raw), num: d}, nil
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// String returns the value as it arrived on the wire.
func (v Value) String() string { return v.text }

// Decimal returns the numeric value and whether v is numeric.
func (v Value) Decimal() (decimal.Decimal, bool) {
	if v.kind != KindNumber {
		return decimal.Zero, false
	}
	return v.num, true
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch {
	case v.kind == KindAbsent:
		return []byte("null"), nil
	case v.quoted:
		return json.Marshal(v.text)
	default:
		return []byte(v.text), nil
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseRaw(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Compare orders two values. Text compares lexicographically (case-sensitive),
// numbers numerically; any other pairing, absent values included, is equal.
func Compare(a, b Value) int {
	switch {
	case a.kind == KindText && b.kind == KindText:
		return strings.Compare(a.text, b.text)
	case a.kind == KindNumber && b.kind == KindNumber:
		return a.num.Cmp(b.num)
	default:
		return 0
	}
}
