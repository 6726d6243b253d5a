// Package money provides integer minor-unit (cent) arithmetic for the
// billing engine. All persisted and computed amounts are int64 cents;
// floating currency values exist only at the presentation boundary.
package money

// Cents is a signed amount in minor currency units.
type Cents int64

// Tolerance is the settled-vs-residual decision threshold: one minor unit.
const Tolerance Cents = 1

// Abs returns the absolute value.
func (c Cents) Abs() Cents {
	if c < 0 {
		return -c
	}
	return c
}

// IsCredit reports whether the amount represents a credit.
func (c Cents) IsCredit() bool {
	return c < 0
}

// Min returns the smaller of two amounts.
func Min(a, b Cents) Cents {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of two amounts.
func Max(a, b Cents) Cents {
	if a > b {
		return a
	}
	return b
}

// Split divides total across n parts so that the parts sum to total
// exactly. Each part gets floor(|total|/n); the integer remainder is
// distributed one minor unit at a time to the earliest parts (indices
// 0..rem-1). The sign of total is restored on every part.
func Split(total Cents, n int) []Cents {
	if n <= 0 {
		return nil
	}
	sign := Cents(1)
	abs := total
	if total < 0 {
		sign = -1
		abs = -total
	}
	base := abs / Cents(n)
	rem := abs % Cents(n)
	parts := make([]Cents, n)
	for k := 0; k < n; k++ {
		share := base
		if Cents(k) < rem {
			share++
		}
		parts[k] = share * sign
	}
	return parts
}

// Share returns the k-th (1-based) part of Split(total, n) without
// materializing the slice.
func Share(total Cents, n, k int) Cents {
	if n <= 0 || k < 1 || k > n {
		return 0
	}
	sign := Cents(1)
	abs := total
	if total < 0 {
		sign = -1
		abs = -total
	}
	share := abs / Cents(n)
	if Cents(k) <= abs%Cents(n) {
		share++
	}
	return share * sign
}

// LineKind tags a ledger line as debit or credit.
type LineKind string

const (
	// Debit is an amount owed by the debtor.
	Debit LineKind = "debit"
	// Credit is an amount owed to the debtor.
	Credit LineKind = "credit"
)

// Line is the tagged view of a signed amount. Amount is always
// non-negative; the sign lives in Kind. Signed storage is kept only at
// the persistence boundary.
type Line struct {
	Kind   LineKind
	Amount Cents
}

// LineFromSigned converts a signed storage amount into a tagged line.
func LineFromSigned(v Cents) Line {
	if v < 0 {
		return Line{Kind: Credit, Amount: -v}
	}
	return Line{Kind: Debit, Amount: v}
}

// Signed converts the line back to its signed storage representation.
func (l Line) Signed() Cents {
	if l.Kind == Credit {
		return -l.Amount
	}
	return l.Amount
}
