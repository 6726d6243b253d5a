package billing

import (
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// DistributionMethod controls how an initial balance is spread across a
// plan's installments.
type DistributionMethod string

const (
	DistributeFirstInstallment DistributionMethod = "first_installment"
	DistributeAllInstallments  DistributionMethod = "all_installments"
)

// InstallmentStatus enumerates installment header lifecycle states.
type InstallmentStatus string

const (
	InstallmentDraft  InstallmentStatus = "DRAFT"
	InstallmentIssued InstallmentStatus = "ISSUED"
)

// QuotaStatus is derived from the sign of the quota amount and nothing else.
type QuotaStatus string

const (
	QuotaDue    QuotaStatus = "due"
	QuotaCredit QuotaStatus = "credit"
)

// StatusForAmount derives the quota status from a signed amount.
func StatusForAmount(amount money.Cents) QuotaStatus {
	if amount.IsCredit() {
		return QuotaCredit
	}
	return QuotaDue
}

// SnapshotOrigin records how a quota amount came to be.
type SnapshotOrigin string

const (
	OriginAutomatic  SnapshotOrigin = "automatic"
	OriginManual     SnapshotOrigin = "manual"
	OriginAdjustment SnapshotOrigin = "adjustment"
	OriginReversal   SnapshotOrigin = "reversal"
)

// InstallmentPlan model. Immutable once installments have been generated.
type InstallmentPlan struct {
	ID                 int64
	CondominiumID      int64
	Name               string
	DistributionMethod DistributionMethod
	InstallmentCount   int
	Generated          bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Installment is one scheduled due-date header aggregating quotas.
type Installment struct {
	ID          int64
	PlanID      int64
	Sequence    int
	Description string
	DueDate     time.Time
	IssueDate   time.Time
	Total       money.Cents
	Status      InstallmentStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Quota is one debtor/unit share within an installment. Amount is signed
// cents; AmountPaid only ever grows through payment registration.
type Quota struct {
	ID            int64
	InstallmentID int64
	DebtorID      int64
	UnitID        int64
	Amount        money.Cents
	AmountPaid    money.Cents
	Status        QuotaStatus
	DueDate       time.Time
	Snapshot      *CalculationSnapshot
	EntryID       *int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Residual is the unpaid signed remainder of the quota.
func (q Quota) Residual() money.Cents {
	return q.Amount - q.AmountPaid
}

// InitialBalance is a per-debtor, per-unit signed amount carried into a
// fiscal period.
type InitialBalance struct {
	ID            int64
	CondominiumID int64
	PeriodID      int64
	DebtorID      int64
	UnitID        int64
	Amount        money.Cents
}

// SnapshotAmounts holds the computed components of a quota.
type SnapshotAmounts struct {
	PureShare      money.Cents `json:"pure_share"`
	AppliedBalance money.Cents `json:"applied_balance"`
	Total          money.Cents `json:"total"`
}

// SnapshotParams holds the calculation parameters.
type SnapshotParams struct {
	DistributionMethod DistributionMethod `json:"distribution_method"`
	Sequence           int                `json:"sequence"`
	TotalInstallments  int                `json:"total_installments"`
}

// SnapshotAudit records who generated the quota with which engine.
type SnapshotAudit struct {
	EngineVersion string    `json:"engine_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Actor         string    `json:"actor"`
}

// CalculationSnapshot is the write-once audit record attached to a quota.
// Later payments change AmountPaid on the quota, never the snapshot.
type CalculationSnapshot struct {
	Version int             `json:"version"`
	Origin  SnapshotOrigin  `json:"origin"`
	Amounts SnapshotAmounts `json:"amounts"`
	Params  SnapshotParams  `json:"params"`
	Audit   SnapshotAudit   `json:"audit"`
}

// GenerateResult summarises one generation pass.
type GenerateResult struct {
	InstallmentsCreated  int
	QuotasCreated        int
	TotalAmountGenerated money.Cents
}

// QuotaBreakdown is one tooltip row of the debt summary: how a quota's
// residual decomposes into balance carry and expense share.
type QuotaBreakdown struct {
	UnitLabel        string      `json:"unit_label"`
	Residual         money.Cents `json:"residual"`
	ResidualDisplay  string      `json:"residual_display"`
	IsCredit         bool        `json:"is_credit"`
	BalanceComponent money.Cents `json:"balance_component"`
	ExpenseComponent money.Cents `json:"expense_component"`
}

// SituationRow is one aggregated installment in the debtor situation.
type SituationRow struct {
	InstallmentID   int64            `json:"installment_id"`
	Description     string           `json:"description"`
	DueDate         time.Time        `json:"due_date"`
	DueDateDisplay  string           `json:"due_date_display"`
	Total           money.Cents      `json:"total"`
	Residual        money.Cents      `json:"residual"`
	ResidualDisplay string           `json:"residual_display"`
	IsCredit        bool             `json:"is_credit"`
	Overdue         bool             `json:"overdue"`
	Emitted         bool             `json:"emitted"`
	UnitLabels      string           `json:"unit_labels"`
	DebtorName      string           `json:"debtor_name"`
	Quotas          []QuotaBreakdown `json:"quotas"`
}
