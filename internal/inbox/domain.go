package inbox

import (
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// DeclarationStatus tracks a reported payment through verification.
type DeclarationStatus string

const (
	DeclarationPending  DeclarationStatus = "pending"
	DeclarationReported DeclarationStatus = "reported"
	DeclarationPaid     DeclarationStatus = "paid"
	DeclarationRejected DeclarationStatus = "rejected"
)

// Declaration is a payment reported by a condominium member, awaiting a
// registered collection by the administrator.
type Declaration struct {
	ID              int64             `json:"id"`
	CondominiumID   int64             `json:"condominium_id"`
	DebtorID        int64             `json:"debtor_id"`
	InstallmentID   int64             `json:"installment_id,omitempty"`
	Amount          money.Cents       `json:"amount"`
	Method          string            `json:"method"`
	Note            string            `json:"note,omitempty"`
	PaidOn          time.Time         `json:"paid_on"`
	Status          DeclarationStatus `json:"status"`
	RejectionReason string            `json:"rejection_reason,omitempty"`
	ReportedAt      time.Time         `json:"reported_at"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EventKind classifies inbox entries.
type EventKind string

const (
	// EventVerifyPayment asks the administrator to confirm a reported
	// payment against the bank statement.
	EventVerifyPayment EventKind = "payment_verification"
	// EventOverdueReminder summarises installments past their due date,
	// written by the nightly scan.
	EventOverdueReminder EventKind = "overdue_reminder"
)

// Event is one administrator inbox entry. Hidden events never reach the
// member-facing feed.
type Event struct {
	ID             int64     `json:"id"`
	CondominiumID  int64     `json:"condominium_id"`
	Kind           EventKind `json:"kind"`
	Title          string    `json:"title"`
	Body           string    `json:"body"`
	ActionURL      string    `json:"action_url"`
	RelatedEventID int64     `json:"related_event_id,omitempty"`
	Hidden         bool      `json:"hidden"`
	Completed      bool      `json:"completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
