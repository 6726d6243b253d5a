package billing

import (
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// PaymentStatus enumerates payment lifecycle states.
type PaymentStatus string

const (
	PaymentRegistered PaymentStatus = "REGISTERED"
	PaymentReversed   PaymentStatus = "REVERSED"
)

// Payment is one registered collection against a debtor's installments.
type Payment struct {
	ID            int64
	Number        string
	CondominiumID int64
	DebtorID      int64
	Amount        money.Cents
	Method        string
	Note          string
	PaidAt        time.Time
	Status        PaymentStatus
	Actor         string
	ReversedAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// PaymentAllocation records how much of a payment landed on one quota.
type PaymentAllocation struct {
	ID        int64
	PaymentID int64
	QuotaID   int64
	Amount    money.Cents
	CreatedAt time.Time
}

// RegisterPaymentInput carries one payment registration. Allocations map
// installment id -> amount to book against that installment's quotas.
type RegisterPaymentInput struct {
	CondominiumID  int64
	DebtorID       int64
	Amount         money.Cents
	Method         string
	Note           string
	PaidAt         time.Time
	Allocations    map[int64]money.Cents
	IdempotencyKey string
	// RelatedTaskID, when set, closes the pending-verification inbox task
	// and marks the originating declaration settled, atomically with the
	// ledger update.
	RelatedTaskID int64
	Actor         string
}
