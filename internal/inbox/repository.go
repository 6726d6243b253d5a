package inbox

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/platform/db"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("inbox: not found")

// Repository provides PostgreSQL backed persistence for declarations and
// inbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetDeclaration retrieves a declaration by ID.
func (r *Repository) GetDeclaration(ctx context.Context, id int64) (*Declaration, error) {
	const query = `
		SELECT id, condominium_id, debtor_id, COALESCE(installment_id, 0), amount, method,
			COALESCE(note, ''), paid_on, status, COALESCE(rejection_reason, ''),
			reported_at, created_at, updated_at
		FROM payment_declarations
		WHERE id = $1`

	var (
		d      Declaration
		amount int64
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.CondominiumID, &d.DebtorID, &d.InstallmentID, &amount, &d.Method,
		&d.Note, &d.PaidOn, &d.Status, &d.RejectionReason,
		&d.ReportedAt, &d.CreatedAt, &d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	d.Amount = money.Cents(amount)
	return &d, nil
}

// ListDebtorDeclarations returns a debtor's declarations newest first.
func (r *Repository) ListDebtorDeclarations(ctx context.Context, condominiumID, debtorID int64) ([]Declaration, error) {
	const query = `
		SELECT id, condominium_id, debtor_id, COALESCE(installment_id, 0), amount, method,
			COALESCE(note, ''), paid_on, status, COALESCE(rejection_reason, ''),
			reported_at, created_at, updated_at
		FROM payment_declarations
		WHERE condominium_id = $1 AND debtor_id = $2
		ORDER BY reported_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query, condominiumID, debtorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Declaration
	for rows.Next() {
		var (
			d      Declaration
			amount int64
		)
		err := rows.Scan(
			&d.ID, &d.CondominiumID, &d.DebtorID, &d.InstallmentID, &amount, &d.Method,
			&d.Note, &d.PaidOn, &d.Status, &d.RejectionReason,
			&d.ReportedAt, &d.CreatedAt, &d.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		d.Amount = money.Cents(amount)
		out = append(out, d)
	}
	return out, rows.Err()
}

// ReportWriter exposes the write operations of one report flow, all on the
// same transaction.
type ReportWriter interface {
	LockOpenDeclaration(ctx context.Context, condominiumID, debtorID, installmentID int64) (*Declaration, error)
	CreateDeclaration(ctx context.Context, d Declaration) (int64, error)
	ClearRejection(ctx context.Context, declarationID int64) error
	CreateEvent(ctx context.Context, e Event) (int64, error)
}

// WithReport wraps fn in a transaction so the declaration and its
// verification task appear together or not at all.
func (r *Repository) WithReport(ctx context.Context, fn func(ReportWriter) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&reportTx{tx: tx})
	})
}

type reportTx struct {
	tx pgx.Tx
}

// LockOpenDeclaration returns the newest declaration for the target
// regardless of status, locked for the duration of the transaction. Nil
// when none exists. Rejected rows are included so a re-report can clear
// the stale rejection.
func (t *reportTx) LockOpenDeclaration(ctx context.Context, condominiumID, debtorID, installmentID int64) (*Declaration, error) {
	query := `
		SELECT id, status, COALESCE(rejection_reason, '')
		FROM payment_declarations
		WHERE condominium_id = $1 AND debtor_id = $2`
	args := []any{condominiumID, debtorID}
	if installmentID > 0 {
		query += ` AND installment_id = $3`
		args = append(args, installmentID)
	}
	query += ` ORDER BY reported_at DESC LIMIT 1 FOR UPDATE`

	var d Declaration
	err := t.tx.QueryRow(ctx, query, args...).Scan(&d.ID, &d.Status, &d.RejectionReason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (t *reportTx) CreateDeclaration(ctx context.Context, d Declaration) (int64, error) {
	const query = `
		INSERT INTO payment_declarations
			(condominium_id, debtor_id, installment_id, amount, method, note, paid_on, status, reported_at, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5, NULLIF($6, ''), $7, $8, $9, NOW(), NOW())
		RETURNING id`

	var id int64
	err := t.tx.QueryRow(ctx, query,
		d.CondominiumID, d.DebtorID, d.InstallmentID, int64(d.Amount), d.Method,
		d.Note, d.PaidOn, d.Status, d.ReportedAt,
	).Scan(&id)
	return id, err
}

func (t *reportTx) ClearRejection(ctx context.Context, declarationID int64) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE payment_declarations SET rejection_reason = NULL, updated_at = NOW() WHERE id = $1`,
		declarationID,
	)
	return err
}

func (t *reportTx) CreateEvent(ctx context.Context, e Event) (int64, error) {
	const query = `
		INSERT INTO inbox_events
			(condominium_id, kind, title, body, action_url, related_event_id, hidden, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, 0), $7, FALSE, NOW())
		RETURNING id`

	var id int64
	err := t.tx.QueryRow(ctx, query,
		e.CondominiumID, e.Kind, e.Title, e.Body, e.ActionURL, e.RelatedEventID, e.Hidden,
	).Scan(&id)
	return id, err
}

// ListOpenEvents returns the administrator's pending inbox, hidden entries
// included, oldest first.
func (r *Repository) ListOpenEvents(ctx context.Context, condominiumID int64) ([]Event, error) {
	const query = `
		SELECT id, condominium_id, kind, title, body, action_url,
			COALESCE(related_event_id, 0), hidden, completed, completed_at, created_at
		FROM inbox_events
		WHERE condominium_id = $1 AND completed = FALSE
		ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.Query(ctx, query, condominiumID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e           Event
			completedAt pgtype.Timestamptz
		)
		err := rows.Scan(
			&e.ID, &e.CondominiumID, &e.Kind, &e.Title, &e.Body, &e.ActionURL,
			&e.RelatedEventID, &e.Hidden, &e.Completed, &completedAt, &e.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		if completedAt.Valid {
			e.CompletedAt = &completedAt.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// RejectDeclaration marks a reported declaration rejected and completes
// its verification task in one transaction.
func (r *Repository) RejectDeclaration(ctx context.Context, declarationID int64, reason string, at time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE payment_declarations
			SET status = $2, rejection_reason = $3, updated_at = NOW()
			WHERE id = $1 AND status = $4`,
			declarationID, DeclarationRejected, reason, DeclarationReported,
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}

		_, err = tx.Exec(ctx, `
			UPDATE inbox_events
			SET completed = TRUE, completed_at = $2
			WHERE related_event_id = $1 AND completed = FALSE`,
			declarationID, at,
		)
		return err
	})
}
