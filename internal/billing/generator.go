package billing

import (
	"errors"
	"fmt"
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// GenerateInput carries everything one generation pass needs. Actor and
// engine version are explicit parameters so the calculation never reads
// ambient state.
type GenerateInput struct {
	Plan InstallmentPlan
	// PerUnitTotals maps debtor -> unit -> total charge for the period.
	PerUnitTotals map[int64]map[int64]money.Cents
	DueDates      []time.Time
	// InitialBalances maps debtor -> unit -> carried balance.
	InitialBalances map[int64]map[int64]money.Cents
	EngineVersion   string
	Actor           string
	Now             time.Time
}

// Validation errors returned before any write happens.
var (
	ErrNoInstallments    = errors.New("billing: plan requires at least one installment")
	ErrDueDateMismatch   = errors.New("billing: due date count must equal installment count")
	ErrPlanAlreadyBuilt  = errors.New("billing: plan installments already generated")
	ErrGenerationLocked  = errors.New("billing: generation already in progress for plan")
	ErrUnknownPlan       = errors.New("billing: plan not found")
	ErrInvalidDistribute = errors.New("billing: unknown distribution method")
)

// quotaLine is one computed quota before persistence.
type quotaLine struct {
	DebtorID int64
	UnitID   int64
	Amount   money.Cents
	Status   QuotaStatus
	Snapshot CalculationSnapshot
}

// installmentDraft is one computed installment with its quota lines.
type installmentDraft struct {
	Sequence    int
	Description string
	DueDate     time.Time
	IssueDate   time.Time
	Total       money.Cents
	Quotas      []quotaLine
}

// computePlan runs the whole calculation in memory. Persistence happens
// afterwards inside one transaction, so a failed validation never leaves
// partial installments behind.
func computePlan(in GenerateInput) ([]installmentDraft, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	n := len(in.DueDates)
	drafts := make([]installmentDraft, 0, n)

	for idx, due := range in.DueDates {
		seq := idx + 1
		draft := installmentDraft{
			Sequence:    seq,
			Description: installmentDescription(seq, in.Plan.Name),
			DueDate:     due,
			IssueDate:   in.Now,
		}
		for debtorID, units := range in.PerUnitTotals {
			for unitID, total := range units {
				if total == 0 {
					continue
				}
				var balance money.Cents
				if per, ok := in.InitialBalances[debtorID]; ok {
					balance = per[unitID]
				}
				line := computeQuota(total, balance, seq, n, in)
				line.DebtorID = debtorID
				line.UnitID = unitID
				draft.Total += line.Amount
				draft.Quotas = append(draft.Quotas, line)
			}
		}
		drafts = append(drafts, draft)
	}
	return drafts, nil
}

func validateInput(in GenerateInput) error {
	if len(in.DueDates) == 0 {
		// Explicit no-op: callers get zero counts, not an error.
		return nil
	}
	if in.Plan.InstallmentCount < 1 {
		return ErrNoInstallments
	}
	if len(in.DueDates) != in.Plan.InstallmentCount {
		return ErrDueDateMismatch
	}
	switch in.Plan.DistributionMethod {
	case DistributeFirstInstallment, DistributeAllInstallments:
	default:
		return ErrInvalidDistribute
	}
	return nil
}

// computeQuota calculates the k-th share of a unit's total plus its slice
// of the carried balance, and the snapshot documenting both.
func computeQuota(total, balance money.Cents, seq, n int, in GenerateInput) quotaLine {
	pure := money.Share(total, n, seq)

	var applied money.Cents
	if balance != 0 {
		switch in.Plan.DistributionMethod {
		case DistributeFirstInstallment:
			if seq == 1 {
				applied = balance
			}
		case DistributeAllInstallments:
			applied = money.Share(balance, n, seq)
		}
	}

	amount := pure + applied
	return quotaLine{
		Amount: amount,
		Status: StatusForAmount(amount),
		Snapshot: CalculationSnapshot{
			Version: SnapshotVersion,
			Origin:  OriginAutomatic,
			Amounts: SnapshotAmounts{
				PureShare:      pure,
				AppliedBalance: applied,
				Total:          amount,
			},
			Params: SnapshotParams{
				DistributionMethod: in.Plan.DistributionMethod,
				Sequence:           seq,
				TotalInstallments:  n,
			},
			Audit: SnapshotAudit{
				EngineVersion: in.EngineVersion,
				GeneratedAt:   in.Now,
				Actor:         actorOrSystem(in.Actor),
			},
		},
	}
}

func actorOrSystem(actor string) string {
	if actor == "" {
		return "system"
	}
	return actor
}

func installmentDescription(seq int, planName string) string {
	return fmt.Sprintf("Rata n.%d - %s", seq, planName)
}
