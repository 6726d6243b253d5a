package billing

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/platform/db"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("billing: not found")

// Repository provides PostgreSQL backed persistence for installment plans.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx so read helpers
// can run inside or outside a transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// quotaInsertBatchSize bounds one bulk insert round trip. Throughput
// concern only; correctness is carried by the enclosing transaction.
const quotaInsertBatchSize = 500

// GetPlan retrieves a plan by ID.
func (r *Repository) GetPlan(ctx context.Context, id int64) (*InstallmentPlan, error) {
	return getPlan(ctx, r.pool, id)
}

func getPlan(ctx context.Context, q querier, id int64) (*InstallmentPlan, error) {
	const query = `
		SELECT id, condominium_id, name, distribution_method, installment_count, generated, created_at, updated_at
		FROM installment_plans
		WHERE id = $1`

	var plan InstallmentPlan
	err := q.QueryRow(ctx, query, id).Scan(
		&plan.ID, &plan.CondominiumID, &plan.Name, &plan.DistributionMethod,
		&plan.InstallmentCount, &plan.Generated, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// CreatePlan inserts a plan definition.
func (r *Repository) CreatePlan(ctx context.Context, plan InstallmentPlan) (*InstallmentPlan, error) {
	const query = `
		INSERT INTO installment_plans (condominium_id, name, distribution_method, installment_count, generated, created_at, updated_at)
		VALUES ($1, $2, $3, $4, FALSE, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		plan.CondominiumID, plan.Name, plan.DistributionMethod, plan.InstallmentCount,
	).Scan(&plan.ID, &plan.CreatedAt, &plan.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

// GenerationWriter exposes the write operations of one generation pass.
// All of them run on the same transaction.
type GenerationWriter interface {
	LockPlan(ctx context.Context, planID int64) (*InstallmentPlan, error)
	CreateInstallment(ctx context.Context, inst Installment) (int64, error)
	InsertQuotas(ctx context.Context, installmentID int64, dueDate time.Time, lines []quotaLine) error
	SetInstallmentTotal(ctx context.Context, installmentID int64, total money.Cents) error
	MarkPlanGenerated(ctx context.Context, planID int64) error
}

// WithGeneration wraps fn in a repeatable-read transaction: a failure
// partway never leaves an installment header behind without its quotas.
func (r *Repository) WithGeneration(ctx context.Context, fn func(GenerationWriter) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&generationTx{tx: tx})
	})
}

type generationTx struct {
	tx pgx.Tx
}

// LockPlan takes the row lock serializing concurrent generations of the
// same plan inside the database, on top of the redis guard.
func (g *generationTx) LockPlan(ctx context.Context, planID int64) (*InstallmentPlan, error) {
	const query = `
		SELECT id, condominium_id, name, distribution_method, installment_count, generated, created_at, updated_at
		FROM installment_plans
		WHERE id = $1
		FOR UPDATE`

	var plan InstallmentPlan
	err := g.tx.QueryRow(ctx, query, planID).Scan(
		&plan.ID, &plan.CondominiumID, &plan.Name, &plan.DistributionMethod,
		&plan.InstallmentCount, &plan.Generated, &plan.CreatedAt, &plan.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (g *generationTx) CreateInstallment(ctx context.Context, inst Installment) (int64, error) {
	const query = `
		INSERT INTO installments (plan_id, sequence, description, due_date, issue_date, total, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, NOW(), NOW())
		RETURNING id`

	var id int64
	err := g.tx.QueryRow(ctx, query,
		inst.PlanID, inst.Sequence, inst.Description, inst.DueDate, inst.IssueDate, InstallmentDraft,
	).Scan(&id)
	return id, err
}

func (g *generationTx) InsertQuotas(ctx context.Context, installmentID int64, dueDate time.Time, lines []quotaLine) error {
	const query = `
		INSERT INTO quotas (installment_id, debtor_id, unit_id, amount, amount_paid, status, due_date, snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, NOW(), NOW())`

	for start := 0; start < len(lines); start += quotaInsertBatchSize {
		end := start + quotaInsertBatchSize
		if end > len(lines) {
			end = len(lines)
		}
		batch := &pgx.Batch{}
		for _, line := range lines[start:end] {
			snapJSON, err := EncodeSnapshot(line.Snapshot)
			if err != nil {
				return err
			}
			batch.Queue(query, installmentID, line.DebtorID, line.UnitID, int64(line.Amount), line.Status, dueDate, snapJSON)
		}
		results := g.tx.SendBatch(ctx, batch)
		for range lines[start:end] {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return err
			}
		}
		if err := results.Close(); err != nil {
			return err
		}
	}
	return nil
}

func (g *generationTx) SetInstallmentTotal(ctx context.Context, installmentID int64, total money.Cents) error {
	_, err := g.tx.Exec(ctx,
		`UPDATE installments SET total = $2, updated_at = NOW() WHERE id = $1`,
		installmentID, int64(total),
	)
	return err
}

func (g *generationTx) MarkPlanGenerated(ctx context.Context, planID int64) error {
	_, err := g.tx.Exec(ctx,
		`UPDATE installment_plans SET generated = TRUE, updated_at = NOW() WHERE id = $1`,
		planID,
	)
	return err
}

// DebtorRow is one quota joined with its installment header, as needed by
// the waterfall and the debt summary.
type DebtorRow struct {
	Quota         Quota
	InstallmentID int64
	Sequence      int
	Description   string
	DueDate       time.Time
	PlanID        int64
	PlanMethod    DistributionMethod
	PlanCount     int
	UnitLabel     string
	DebtorName    string
	RawSnapshot   []byte
}

// ListDebtorQuotas returns every quota of a debtor in the condominium,
// ordered by due date then sequence. The full history feeds the waterfall.
func (r *Repository) ListDebtorQuotas(ctx context.Context, condominiumID, debtorID int64) ([]DebtorRow, error) {
	const query = `
		SELECT q.id, q.installment_id, q.debtor_id, q.unit_id, q.amount, q.amount_paid,
			q.status, q.due_date, q.snapshot, q.entry_id,
			i.sequence, i.description, i.due_date, i.plan_id,
			p.distribution_method, p.installment_count,
			COALESCE(u.label, ''), COALESCE(d.name, '')
		FROM quotas q
		JOIN installments i ON i.id = q.installment_id
		JOIN installment_plans p ON p.id = i.plan_id
		LEFT JOIN units u ON u.id = q.unit_id
		LEFT JOIN debtors d ON d.id = q.debtor_id
		WHERE p.condominium_id = $1 AND q.debtor_id = $2
		ORDER BY q.due_date ASC, i.sequence ASC, q.id ASC`

	return r.queryDebtorRows(ctx, query, condominiumID, debtorID)
}

// ListOutstandingQuotas narrows the history to rows still carrying debt or
// credit: amount > amount_paid, or negative amounts.
func (r *Repository) ListOutstandingQuotas(ctx context.Context, condominiumID int64, debtorID, unitID int64) ([]DebtorRow, error) {
	query := `
		SELECT q.id, q.installment_id, q.debtor_id, q.unit_id, q.amount, q.amount_paid,
			q.status, q.due_date, q.snapshot, q.entry_id,
			i.sequence, i.description, i.due_date, i.plan_id,
			p.distribution_method, p.installment_count,
			COALESCE(u.label, ''), COALESCE(d.name, '')
		FROM quotas q
		JOIN installments i ON i.id = q.installment_id
		JOIN installment_plans p ON p.id = i.plan_id
		LEFT JOIN units u ON u.id = q.unit_id
		LEFT JOIN debtors d ON d.id = q.debtor_id
		WHERE p.condominium_id = $1
		  AND (q.amount > q.amount_paid OR q.amount < 0)`

	args := []any{condominiumID}
	switch {
	case unitID > 0:
		query += ` AND q.unit_id = $2`
		args = append(args, unitID)
	case debtorID > 0:
		query += ` AND q.debtor_id = $2`
		args = append(args, debtorID)
	default:
		return nil, nil
	}
	query += ` ORDER BY q.due_date ASC, i.sequence ASC, q.id ASC`

	return r.queryDebtorRows(ctx, query, args...)
}

func (r *Repository) queryDebtorRows(ctx context.Context, query string, args ...any) ([]DebtorRow, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DebtorRow
	for rows.Next() {
		var (
			row     DebtorRow
			amount  int64
			paid    int64
			entryID pgtype.Int8
		)
		err := rows.Scan(
			&row.Quota.ID, &row.Quota.InstallmentID, &row.Quota.DebtorID, &row.Quota.UnitID,
			&amount, &paid, &row.Quota.Status, &row.Quota.DueDate, &row.RawSnapshot, &entryID,
			&row.Sequence, &row.Description, &row.DueDate, &row.PlanID,
			&row.PlanMethod, &row.PlanCount,
			&row.UnitLabel, &row.DebtorName,
		)
		if err != nil {
			return nil, err
		}
		row.Quota.Amount = money.Cents(amount)
		row.Quota.AmountPaid = money.Cents(paid)
		row.InstallmentID = row.Quota.InstallmentID
		if entryID.Valid {
			row.Quota.EntryID = &entryID.Int64
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// SumInitialBalance returns the carried balance of a debtor for the period
// containing the given due date. Used only by the legacy snapshot
// reconstruction path.
func (r *Repository) SumInitialBalance(ctx context.Context, condominiumID, debtorID int64, asOf time.Time) (money.Cents, error) {
	const query = `
		SELECT COALESCE(SUM(b.amount), 0)
		FROM initial_balances b
		JOIN fiscal_periods fp ON fp.id = b.period_id
		WHERE b.condominium_id = $1 AND b.debtor_id = $2
		  AND fp.starts_on <= $3 AND fp.ends_on >= $3`

	var sum int64
	if err := r.pool.QueryRow(ctx, query, condominiumID, debtorID, asOf).Scan(&sum); err != nil {
		return 0, err
	}
	return money.Cents(sum), nil
}
