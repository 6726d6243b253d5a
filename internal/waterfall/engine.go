// Package waterfall computes a debtor's point-in-time debt/credit picture
// from chronologically ordered installments. The pass is strictly forward:
// credit generated by an installment can only offset later installments,
// never ones already processed.
package waterfall

import (
	"fmt"
	"sort"
	"strings"

	"github.com/attico-hq/attico/internal/money"
)

// Row is one installment aggregated over its quotas.
type Row struct {
	InstallmentID int64
	Sequence      int
	DueDate       string // ISO date used for ordering; ties broken by Sequence
	NetAmount     money.Cents
	AmountPaid    money.Cents
}

// Result is the transient per-installment outcome. Never persisted.
type Result struct {
	Residual             money.Cents
	CoveredByCredit      bool
	CreditAvailableStart money.Cents
	ArrearsBefore        money.Cents
	UnpaidRefs           string
}

// Compute walks rows in ascending due-date order (ties by sequence) and
// carries unused credit forward while accumulating arrears. It is a pure
// function of its input: identical rows yield identical results.
func Compute(rows []Row) map[int64]Result {
	ordered := make([]Row, len(rows))
	copy(ordered, rows)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].DueDate != ordered[j].DueDate {
			return ordered[i].DueDate < ordered[j].DueDate
		}
		return ordered[i].Sequence < ordered[j].Sequence
	})

	var (
		availableCredit money.Cents
		arrears         money.Cents
		unpaidRefs      []string
	)
	results := make(map[int64]Result, len(ordered))

	for _, row := range ordered {
		startCredit := availableCredit
		var residual, consumed money.Cents

		if row.NetAmount > 0 {
			due := money.Max(0, row.NetAmount-row.AmountPaid)
			if availableCredit >= due {
				consumed = due
				availableCredit -= due
			} else {
				consumed = availableCredit
				residual = due - availableCredit
				availableCredit = 0
			}
		} else {
			// Credit-generating line: keep the negative residual as a
			// standalone credit row, it is not consumed here.
			availableCredit += row.NetAmount.Abs()
			residual = row.NetAmount
		}

		results[row.InstallmentID] = Result{
			Residual:             residual,
			CoveredByCredit:      consumed > money.Tolerance && residual < money.Tolerance,
			CreditAvailableStart: startCredit,
			ArrearsBefore:        arrears,
			UnpaidRefs:           strings.Join(unpaidRefs, ", "),
		}

		if residual > money.Tolerance {
			arrears += residual
			unpaidRefs = append(unpaidRefs, fmt.Sprintf("#%d", row.Sequence))
		}
	}
	return results
}
