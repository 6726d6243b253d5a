package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/platform/db"
)

// ErrPaymentReversed indicates the payment was already undone.
var ErrPaymentReversed = errors.New("billing: payment already reversed")

// PaymentWriter exposes the write operations of one payment registration
// or reversal. All of them run on the same transaction, including the
// inbox task closure: the ledger and the notification state move together
// or not at all.
type PaymentWriter interface {
	LockInstallmentQuotas(ctx context.Context, installmentID int64) ([]Quota, error)
	AddQuotaPayment(ctx context.Context, quotaID int64, amount money.Cents, entryID int64) error
	CreatePayment(ctx context.Context, p Payment) (int64, error)
	CreateAllocation(ctx context.Context, paymentID, quotaID int64, amount money.Cents) error
	CloseVerificationTask(ctx context.Context, taskID int64, completedAt time.Time) (int64, error)
	MarkDeclarationPaid(ctx context.Context, declarationID int64, paid money.Cents) error
	LockPayment(ctx context.Context, paymentID int64) (*Payment, []PaymentAllocation, error)
	ReversePayment(ctx context.Context, paymentID int64, at time.Time) error
	SubtractQuotaPayment(ctx context.Context, quotaID int64, amount money.Cents) error
}

// WithPayment wraps fn in a repeatable-read transaction.
func (r *Repository) WithPayment(ctx context.Context, fn func(PaymentWriter) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&paymentTx{tx: tx})
	})
}

type paymentTx struct {
	tx pgx.Tx
}

// LockInstallmentQuotas takes row locks on an installment's quotas so two
// concurrent registrations cannot double-book the same residual.
func (p *paymentTx) LockInstallmentQuotas(ctx context.Context, installmentID int64) ([]Quota, error) {
	const query = `
		SELECT id, installment_id, debtor_id, unit_id, amount, amount_paid, status, due_date
		FROM quotas
		WHERE installment_id = $1
		ORDER BY id
		FOR UPDATE`

	rows, err := p.tx.Query(ctx, query, installmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotas []Quota
	for rows.Next() {
		var (
			q            Quota
			amount, paid int64
		)
		if err := rows.Scan(&q.ID, &q.InstallmentID, &q.DebtorID, &q.UnitID, &amount, &paid, &q.Status, &q.DueDate); err != nil {
			return nil, err
		}
		q.Amount = money.Cents(amount)
		q.AmountPaid = money.Cents(paid)
		quotas = append(quotas, q)
	}
	return quotas, rows.Err()
}

func (p *paymentTx) AddQuotaPayment(ctx context.Context, quotaID int64, amount money.Cents, entryID int64) error {
	_, err := p.tx.Exec(ctx,
		`UPDATE quotas SET amount_paid = amount_paid + $2, entry_id = $3, updated_at = NOW() WHERE id = $1`,
		quotaID, int64(amount), entryID,
	)
	return err
}

func (p *paymentTx) CreatePayment(ctx context.Context, pay Payment) (int64, error) {
	const query = `
		INSERT INTO payments (number, condominium_id, debtor_id, amount, method, note, paid_at, status, actor, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW(), NOW())
		RETURNING id`

	var id int64
	err := p.tx.QueryRow(ctx, query,
		pay.Number, pay.CondominiumID, pay.DebtorID, int64(pay.Amount),
		pay.Method, pay.Note, pay.PaidAt, PaymentRegistered, pay.Actor,
	).Scan(&id)
	return id, err
}

func (p *paymentTx) CreateAllocation(ctx context.Context, paymentID, quotaID int64, amount money.Cents) error {
	_, err := p.tx.Exec(ctx,
		`INSERT INTO payment_allocations (payment_id, quota_id, amount, created_at) VALUES ($1, $2, $3, NOW())`,
		paymentID, quotaID, int64(amount),
	)
	return err
}

// CloseVerificationTask completes the admin inbox task and returns the id
// of the originating user declaration, or 0 when the task is already
// closed or unknown.
func (p *paymentTx) CloseVerificationTask(ctx context.Context, taskID int64, completedAt time.Time) (int64, error) {
	const query = `
		UPDATE inbox_events
		SET completed = TRUE, completed_at = $2, updated_at = NOW()
		WHERE id = $1 AND completed = FALSE
		RETURNING COALESCE(related_event_id, 0)`

	var declarationID int64
	err := p.tx.QueryRow(ctx, query, taskID, completedAt).Scan(&declarationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return declarationID, err
}

// MarkDeclarationPaid flips the user's declaration to settled with the
// amount actually collected.
func (p *paymentTx) MarkDeclarationPaid(ctx context.Context, declarationID int64, paid money.Cents) error {
	_, err := p.tx.Exec(ctx,
		`UPDATE inbox_events
		 SET status = 'paid', paid_amount = $2, remaining_amount = 0, rejection_reason = NULL, updated_at = NOW()
		 WHERE id = $1`,
		declarationID, int64(paid),
	)
	return err
}

func (p *paymentTx) LockPayment(ctx context.Context, paymentID int64) (*Payment, []PaymentAllocation, error) {
	const query = `
		SELECT id, number, condominium_id, debtor_id, amount, method, note, paid_at, status, actor, reversed_at
		FROM payments
		WHERE id = $1
		FOR UPDATE`

	var (
		pay    Payment
		amount int64
	)
	err := p.tx.QueryRow(ctx, query, paymentID).Scan(
		&pay.ID, &pay.Number, &pay.CondominiumID, &pay.DebtorID, &amount,
		&pay.Method, &pay.Note, &pay.PaidAt, &pay.Status, &pay.Actor, &pay.ReversedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	pay.Amount = money.Cents(amount)

	rows, err := p.tx.Query(ctx,
		`SELECT id, payment_id, quota_id, amount, created_at FROM payment_allocations WHERE payment_id = $1 ORDER BY id`,
		paymentID,
	)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var allocs []PaymentAllocation
	for rows.Next() {
		var (
			a       PaymentAllocation
			aAmount int64
		)
		if err := rows.Scan(&a.ID, &a.PaymentID, &a.QuotaID, &aAmount, &a.CreatedAt); err != nil {
			return nil, nil, err
		}
		a.Amount = money.Cents(aAmount)
		allocs = append(allocs, a)
	}
	return &pay, allocs, rows.Err()
}

func (p *paymentTx) ReversePayment(ctx context.Context, paymentID int64, at time.Time) error {
	tag, err := p.tx.Exec(ctx,
		`UPDATE payments SET status = $2, reversed_at = $3, updated_at = NOW() WHERE id = $1 AND status = $4`,
		paymentID, PaymentReversed, at, PaymentRegistered,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaymentReversed
	}
	return nil
}

func (p *paymentTx) SubtractQuotaPayment(ctx context.Context, quotaID int64, amount money.Cents) error {
	_, err := p.tx.Exec(ctx,
		`UPDATE quotas SET amount_paid = amount_paid - $2, entry_id = NULL, updated_at = NOW() WHERE id = $1`,
		quotaID, int64(amount),
	)
	return err
}
