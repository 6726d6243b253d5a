package waterfall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/attico-hq/attico/internal/money"
)

func row(id int64, seq int, due string, net, paid money.Cents) Row {
	return Row{InstallmentID: id, Sequence: seq, DueDate: due, NetAmount: net, AmountPaid: paid}
}

func TestComputeArrearsAndUnpaidRefs(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", 10000, 8000),
		row(2, 2, "2026-02-01", 10000, 0),
	})

	require.Equal(t, money.Cents(2000), results[1].Residual)
	require.Equal(t, money.Cents(10000), results[2].Residual)
	require.Equal(t, money.Cents(2000), results[2].ArrearsBefore)
	require.Contains(t, results[2].UnpaidRefs, "#1")
}

func TestComputeCreditCascade(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", -10000, 0),
		row(2, 2, "2026-02-01", 6000, 0),
		row(3, 3, "2026-03-01", 6000, 0),
	})

	require.Equal(t, money.Cents(0), results[1].CreditAvailableStart)
	require.Equal(t, money.Cents(-10000), results[1].Residual)
	require.Equal(t, money.Cents(10000), results[2].CreditAvailableStart)
	require.Equal(t, money.Cents(0), results[2].Residual)
	require.True(t, results[2].CoveredByCredit)
	require.Equal(t, money.Cents(4000), results[3].CreditAvailableStart)
	require.Equal(t, money.Cents(2000), results[3].Residual)
	require.False(t, results[3].CoveredByCredit)
}

func TestComputeNeverUsesFutureCredit(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", 10000, 0),
		row(2, 2, "2026-02-01", -5000, 0),
		row(3, 3, "2026-03-01", 10000, 0),
	})

	require.Equal(t, money.Cents(10000), results[1].Residual)
	require.Equal(t, money.Cents(-5000), results[2].Residual)
	require.Equal(t, money.Cents(10000), results[2].ArrearsBefore)
	require.Equal(t, money.Cents(5000), results[3].Residual)
	require.Equal(t, money.Cents(10000), results[3].ArrearsBefore)
}

func TestComputeCentPrecisionCredits(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", -3333, 0),
		row(2, 2, "2026-02-01", -3333, 0),
		row(3, 3, "2026-03-01", -3334, 0),
		row(4, 4, "2026-04-01", 10000, 0),
	})

	require.Equal(t, money.Cents(10000), results[4].CreditAvailableStart)
	require.Equal(t, money.Cents(0), results[4].Residual)
	require.True(t, results[4].CoveredByCredit)
}

func TestComputeInitialCreditFullCoverage(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", -5000, 0),
		row(2, 2, "2026-02-01", 2000, 0),
		row(3, 3, "2026-03-01", 4000, 0),
	})

	require.Equal(t, money.Cents(-5000), results[1].Residual)
	require.Equal(t, money.Cents(0), results[2].Residual)
	require.Equal(t, money.Cents(5000), results[2].CreditAvailableStart)
	require.Equal(t, money.Cents(1000), results[3].Residual)
	require.Equal(t, money.Cents(3000), results[3].CreditAvailableStart)
}

func TestComputeZeroNetAmount(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", 0, 0),
		row(2, 2, "2026-02-01", 5000, 0),
	})

	require.Equal(t, money.Cents(0), results[1].Residual)
	require.False(t, results[1].CoveredByCredit)
	// A zero line must not feed arrears nor the unpaid references.
	require.Equal(t, money.Cents(0), results[2].ArrearsBefore)
	require.Empty(t, results[2].UnpaidRefs)
	require.Equal(t, money.Cents(0), results[2].CreditAvailableStart)
}

func TestComputeOrdersByDueDateThenSequence(t *testing.T) {
	// Rows arrive shuffled; the credit at position one must still flow
	// into the later installments only.
	results := Compute([]Row{
		row(3, 3, "2026-03-01", 6000, 0),
		row(1, 1, "2026-01-01", -10000, 0),
		row(2, 2, "2026-02-01", 6000, 0),
	})

	require.Equal(t, money.Cents(0), results[2].Residual)
	require.Equal(t, money.Cents(2000), results[3].Residual)
}

func TestComputeIdempotent(t *testing.T) {
	rows := []Row{
		row(1, 1, "2026-01-01", 10000, 2500),
		row(2, 2, "2026-02-01", -5000, 0),
		row(3, 3, "2026-03-01", 7000, 0),
		row(4, 4, "2026-04-01", 100, 0),
	}
	first := Compute(rows)
	second := Compute(rows)
	require.Equal(t, first, second)
}

func TestAnnotate(t *testing.T) {
	results := Compute([]Row{
		row(1, 1, "2026-01-01", -5000, 0),
		row(2, 2, "2026-02-01", 2000, 0),
	})

	ann, ok := Annotate(results, 2)
	require.True(t, ok)
	require.Equal(t, money.Cents(0), ann.RemainingAmount)
	require.True(t, ann.CoveredByCredit)
	require.Equal(t, money.Cents(-5000), ann.PriorCreditUsed)

	_, ok = Annotate(results, 99)
	require.False(t, ok, "unresolved reference leaves the record unannotated")
}
