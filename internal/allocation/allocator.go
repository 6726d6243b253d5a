// Package allocation distributes a payment amount across a debtor's
// outstanding installments. Allocation is a pure preview computation;
// persistence of the resulting amounts happens elsewhere.
package allocation

import (
	"sort"

	"github.com/attico-hq/attico/internal/money"
)

// Mode selects how the payment is spread.
type Mode string

const (
	ModeAutomatic Mode = "automatic"
	ModeManual    Mode = "manual"
)

// RowStatus is the preview status after allocation.
type RowStatus string

const (
	StatusSettled RowStatus = "settled"
	StatusPartial RowStatus = "partial"
)

// BalanceKind classifies the final balance of a run.
type BalanceKind string

const (
	BalanceResidual BalanceKind = "residuo"
	BalanceCredit   BalanceKind = "credito"
	BalanceSettled  BalanceKind = "saldo"
)

// Outstanding is one installment eligible for allocation.
type Outstanding struct {
	ID       int64
	GroupID  int64 // parent installment or group id, matched by priority
	Residual money.Cents
	DueDate  string // ISO date for chronological ordering
	Overdue  bool
}

// Request carries one allocation run.
type Request struct {
	Outstanding []Outstanding
	Amount      money.Cents
	Mode        Mode
	// Manual maps installment id -> requested amount; used in manual mode.
	Manual map[int64]money.Cents
	// PriorityID, when set, sorts matching installments first in
	// automatic mode.
	PriorityID int64
}

// Allocation is one per-installment outcome.
type Allocation struct {
	ID        int64       `json:"id"`
	Allocated money.Cents `json:"allocated"`
	Residual  money.Cents `json:"residual"`
	Status    RowStatus   `json:"status"`
}

// Result is the outcome of a run. In automatic mode
// Σ allocated + Excess == Amount. Manual rows are clamped per row only,
// so a map committing more than Amount breaks that sum (Excess floors
// at zero); callers wanting conservation size Amount to the map, as the
// payment preview does.
type Result struct {
	Allocations []Allocation `json:"allocations"`
	Excess      money.Cents  `json:"excess"`
	TotalDebt   money.Cents  `json:"total_debt"`
	Balance     money.Cents  `json:"balance"`
	BalanceKind BalanceKind  `json:"balance_kind"`
}

// Allocate runs the distribution. Requests exceeding a residual or
// targeting credit rows are clamped silently, never raised as errors.
func Allocate(req Request) Result {
	rows := orderRows(req)

	allocations := make([]Allocation, 0, len(rows))
	var totalDebt, allocatedSum money.Cents

	budget := req.Amount
	for _, row := range rows {
		totalDebt += row.Residual

		var amount money.Cents
		switch req.Mode {
		case ModeManual:
			amount = clamp(req.Manual[row.ID], row.Residual)
		default:
			if row.Residual > 0 {
				amount = money.Min(budget, row.Residual)
				budget -= amount
				if budget < money.Tolerance {
					budget = 0
				}
			}
		}
		allocatedSum += amount

		status := StatusPartial
		if row.Residual-amount < money.Tolerance {
			status = StatusSettled
		}
		allocations = append(allocations, Allocation{
			ID:        row.ID,
			Allocated: amount,
			Residual:  row.Residual,
			Status:    status,
		})
	}

	balance := totalDebt - req.Amount
	return Result{
		Allocations: allocations,
		Excess:      money.Max(0, req.Amount-allocatedSum),
		TotalDebt:   totalDebt,
		Balance:     balance,
		BalanceKind: classify(balance),
	}
}

// PayAll fills every positive residual in full and returns the manual map
// plus the total required.
func PayAll(outstanding []Outstanding) (map[int64]money.Cents, money.Cents) {
	manual := make(map[int64]money.Cents, len(outstanding))
	var total money.Cents
	for _, row := range outstanding {
		if row.Residual > 0 {
			manual[row.ID] = row.Residual
			total += row.Residual
		}
	}
	return manual, total
}

// PayOverdue fills only overdue positive residuals.
func PayOverdue(outstanding []Outstanding) (map[int64]money.Cents, money.Cents) {
	manual := make(map[int64]money.Cents, len(outstanding))
	var total money.Cents
	for _, row := range outstanding {
		if row.Overdue && row.Residual > 0 {
			manual[row.ID] = row.Residual
			total += row.Residual
		}
	}
	return manual, total
}

func orderRows(req Request) []Outstanding {
	rows := make([]Outstanding, len(req.Outstanding))
	copy(rows, req.Outstanding)
	sort.SliceStable(rows, func(i, j int) bool {
		if req.PriorityID != 0 {
			pi := matchesPriority(rows[i], req.PriorityID)
			pj := matchesPriority(rows[j], req.PriorityID)
			if pi != pj {
				return pi
			}
		}
		if rows[i].DueDate != rows[j].DueDate {
			return rows[i].DueDate < rows[j].DueDate
		}
		return rows[i].ID < rows[j].ID
	})
	return rows
}

func matchesPriority(row Outstanding, priorityID int64) bool {
	return row.ID == priorityID || row.GroupID == priorityID
}

func clamp(requested, residual money.Cents) money.Cents {
	if residual <= 0 {
		return 0
	}
	if requested < 0 {
		return 0
	}
	return money.Min(requested, residual)
}

func classify(balance money.Cents) BalanceKind {
	switch {
	case balance > money.Tolerance:
		return BalanceResidual
	case balance < -money.Tolerance:
		return BalanceCredit
	default:
		return BalanceSettled
	}
}
