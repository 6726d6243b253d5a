package waterfall

import "github.com/attico-hq/attico/internal/money"

// Annotated is the derived view injected into externally owned records.
type Annotated struct {
	RemainingAmount money.Cents `json:"remaining_amount"`
	CoveredByCredit bool        `json:"covered_by_credit"`
	ArrearsBefore   money.Cents `json:"arrears_before"`
	UnpaidRefs      string      `json:"unpaid_refs"`
	// PriorCreditUsed is negative when earlier credit was consumed by
	// this installment, zero otherwise.
	PriorCreditUsed money.Cents `json:"prior_credit_used,omitempty"`
}

// Annotate resolves an installment reference against computed results and
// returns the derived fields. A reference that cannot be resolved returns
// ok=false and the record is left unannotated; this is never an error.
func Annotate(results map[int64]Result, installmentID int64) (Annotated, bool) {
	res, ok := results[installmentID]
	if !ok {
		return Annotated{}, false
	}
	ann := Annotated{
		RemainingAmount: res.Residual,
		CoveredByCredit: res.CoveredByCredit,
		ArrearsBefore:   res.ArrearsBefore,
		UnpaidRefs:      res.UnpaidRefs,
	}
	if res.CreditAvailableStart > money.Tolerance {
		ann.PriorCreditUsed = -res.CreditAvailableStart
	}
	return ann, true
}
