// Package money provides a fixed-precision decimal abstraction used for
// every quantity that touches price, size, fees, gas, P&L, or capital.
// Native float64 is forbidden on those paths; this package wraps
// shopspring/decimal to enforce 20-digit precision, half-up rounding,
// and rejection of NaN/Infinity at construction (which can only arise
// from a float64 source, since decimal.Decimal itself has no such
// states).
package money

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Precision is the number of decimal places Div rounds its quotient
// to. 20 significant fractional digits comfortably covers
// USD cents, implied-probability prices in [0,1], and compounded fee
// fractions without accumulating rounding error across a cycle.
const Precision = 20

func init() {
	decimal.DivisionPrecision = Precision
}

// Decimal is an exact fixed-precision number. The zero value is a
// valid representation of zero.
type Decimal struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Decimal{d: decimal.Zero}

// NewFromFloat builds a Decimal from a float64, refusing NaN and
// Infinity. This is the only entry point that can fail, since it is
// the only one that can receive an IEEE-754 special value.
func NewFromFloat(f float64) (Decimal, error) {
	if math.IsNaN(f) {
		return Decimal{}, fmt.Errorf("money: NaN is not a valid decimal")
	}
	if math.IsInf(f, 0) {
		return Decimal{}, fmt.Errorf("money: infinity is not a valid decimal")
	}
	return Decimal{d: decimal.NewFromFloat(f)}, nil
}

// MustFromFloat is NewFromFloat but panics on failure. Intended for
// constants and config defaults known at compile time to be finite.
func MustFromFloat(f float64) Decimal {
	d, err := NewFromFloat(f)
	if err != nil {
		panic(err)
	}
	return d
}

// NewFromInt builds a Decimal from an integer, which is always exact.
func NewFromInt(i int64) Decimal {
	return Decimal{d: decimal.NewFromInt(i)}
}

// NewFromString parses a decimal literal (e.g. from YAML config or a
// venue API response), refusing malformed input.
func NewFromString(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("money: parsing %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

func (m Decimal) Add(o Decimal) Decimal { return Decimal{d: m.d.Add(o.d)} }
func (m Decimal) Sub(o Decimal) Decimal { return Decimal{d: m.d.Sub(o.d)} }
func (m Decimal) Mul(o Decimal) Decimal { return Decimal{d: m.d.Mul(o.d)} }

// Div divides m by o using half-up rounding at Precision digits.
// Division by zero returns Zero rather than panicking, since every
// call site in this engine treats "no denominator" as "no ratio"
// (e.g. gas fraction over a zero position size).
func (m Decimal) Div(o Decimal) Decimal {
	if o.d.IsZero() {
		return Zero
	}
	return Decimal{d: m.d.DivRound(o.d, Precision)}
}

func (m Decimal) Neg() Decimal { return Decimal{d: m.d.Neg()} }
func (m Decimal) Abs() Decimal { return Decimal{d: m.d.Abs()} }

// Round rounds half-up (half away from zero) to places fractional
// digits, matching shopspring/decimal's Round semantics.
func (m Decimal) Round(places int32) Decimal {
	return Decimal{d: m.d.Round(places)}
}

func (m Decimal) Cmp(o Decimal) int           { return m.d.Cmp(o.d) }
func (m Decimal) Equal(o Decimal) bool        { return m.d.Equal(o.d) }
func (m Decimal) GreaterThan(o Decimal) bool  { return m.d.GreaterThan(o.d) }
func (m Decimal) GreaterOrEqual(o Decimal) bool { return m.d.GreaterThanOrEqual(o.d) }
func (m Decimal) LessThan(o Decimal) bool     { return m.d.LessThan(o.d) }
func (m Decimal) LessOrEqual(o Decimal) bool  { return m.d.LessThanOrEqual(o.d) }
func (m Decimal) IsZero() bool                { return m.d.IsZero() }
func (m Decimal) IsNegative() bool            { return m.d.IsNegative() }
func (m Decimal) IsPositive() bool            { return m.d.IsPositive() }

// Min returns the smaller of m and o.
func Min(m, o Decimal) Decimal {
	if m.LessOrEqual(o) {
		return m
	}
	return o
}

// Max returns the larger of m and o.
func Max(m, o Decimal) Decimal {
	if m.GreaterOrEqual(o) {
		return m
	}
	return o
}

// Clamp restricts m to [lo, hi]. If lo > hi the behavior is undefined
// in callers' favor of lo (callers must not pass an inverted range).
func Clamp(m, lo, hi Decimal) Decimal {
	if m.LessThan(lo) {
		return lo
	}
	if m.GreaterThan(hi) {
		return hi
	}
	return m
}

// Float64 converts to float64 for display or logging purposes only;
// never use the result in further financial arithmetic.
func (m Decimal) Float64() float64 {
	f, _ := m.d.Float64()
	return f
}

// IntPart rounds m half-up to the nearest whole unit and returns it as
// an int64, for venues whose wire format is an integer (e.g. Kalshi's
// price-in-cents) rather than a decimal string. Never routes through
// float64.
func (m Decimal) IntPart() int64 {
	return m.d.Round(0).IntPart()
}

// String renders the exact decimal value with no trailing zero
// truncation beyond what shopspring/decimal already trims.
func (m Decimal) String() string { return m.d.String() }

// StringFixed renders with exactly places fractional digits,
// half-up rounded, for stable log lines and persisted snapshots.
func (m Decimal) StringFixed(places int32) string { return m.d.StringFixed(places) }

// MarshalJSON encodes as a JSON string to avoid float round-tripping
// through encoding/json's float64 path.
func (m Decimal) MarshalJSON() ([]byte, error) {
	return m.d.MarshalJSON()
}

// UnmarshalJSON decodes from the JSON string/number shopspring/decimal
// accepts.
func (m *Decimal) UnmarshalJSON(data []byte) error {
	return m.d.UnmarshalJSON(data)
}

// Probability is a Decimal constrained to [0, 1], representing an
// implied probability (a price in a binary prediction market).
type Probability struct {
	Decimal
}

// NewProbability validates that v lies in [0, 1].
func NewProbability(v Decimal) (Probability, error) {
	if v.LessThan(Zero) || v.GreaterThan(NewFromInt(1)) {
		return Probability{}, fmt.Errorf("money: probability %s out of range [0,1]", v.String())
	}
	return Probability{Decimal: v}, nil
}

// Complement returns 1 - p, the implied probability of the other side
// of a binary outcome.
func (p Probability) Complement() Probability {
	return Probability{Decimal: NewFromInt(1).Sub(p.Decimal)}
}
