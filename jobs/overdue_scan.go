package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/attico-hq/attico/internal/inbox"
	jobmetrics "github.com/attico-hq/attico/internal/jobs"
)

// OverdueScanJob walks every condominium and raises one inbox reminder per
// condominium with installments past due.
type OverdueScanJob struct {
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewOverdueScanJob initialises the overdue scan handler.
func NewOverdueScanJob(pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *OverdueScanJob {
	return &OverdueScanJob{
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the overdue scan logic.
func (j *OverdueScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("overdue scan: handler not configured")
	}
	var payload OverdueScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.GraceDays < 0 {
		payload.GraceDays = 0
	}
	asOf := parseAsOf(payload.AsOf, j.clock())
	cutoff := asOf.AddDate(0, 0, -payload.GraceDays)

	tracker := j.Metrics.Track(TaskTypeOverdueScan)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.Logger.With(
		slog.String("as_of", asOf.Format("2006-01-02")),
		slog.Int("grace_days", payload.GraceDays),
	)
	logger.Info("starting overdue scan")

	condominiums, err := j.listCondominiums(ctx)
	if err != nil {
		resultErr = err
		logger.Error("list condominiums", slog.Any("error", err))
		return resultErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, condominiumID := range condominiums {
		g.Go(func() error {
			count, err := j.scanCondominium(gctx, condominiumID, cutoff)
			if err != nil {
				return fmt.Errorf("condominium %d: %w", condominiumID, err)
			}
			j.Metrics.SetOverdue(strconv.FormatInt(condominiumID, 10), count)
			if count > 0 {
				logger.Warn("overdue installments found",
					slog.Int64("condominium_id", condominiumID),
					slog.Int("count", count),
				)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		resultErr = err
		return resultErr
	}

	logger.Info("overdue scan completed", slog.Int("condominiums", len(condominiums)))
	return nil
}

func (j *OverdueScanJob) listCondominiums(ctx context.Context) ([]int64, error) {
	rows, err := j.Pool.Query(ctx, `SELECT DISTINCT condominium_id FROM installment_plans WHERE generated = TRUE`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// scanCondominium counts overdue installments and replaces the standing
// reminder. One open reminder per condominium at a time.
func (j *OverdueScanJob) scanCondominium(ctx context.Context, condominiumID int64, cutoff time.Time) (int, error) {
	const query = `
		SELECT COUNT(DISTINCT i.id)
		FROM installments i
		JOIN installment_plans p ON p.id = i.plan_id
		JOIN quotas q ON q.installment_id = i.id
		WHERE p.condominium_id = $1
		  AND i.due_date < $2
		  AND q.amount > q.amount_paid`

	var count int
	if err := j.Pool.QueryRow(ctx, query, condominiumID, cutoff).Scan(&count); err != nil {
		return 0, err
	}

	_, err := j.Pool.Exec(ctx, `
		UPDATE inbox_events SET completed = TRUE, completed_at = NOW()
		WHERE condominium_id = $1 AND kind = $2 AND completed = FALSE`,
		condominiumID, inbox.EventOverdueReminder,
	)
	if err != nil {
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	_, err = j.Pool.Exec(ctx, `
		INSERT INTO inbox_events (condominium_id, kind, title, body, action_url, hidden, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, FALSE, FALSE, NOW())`,
		condominiumID,
		inbox.EventOverdueReminder,
		"Rate scadute da sollecitare",
		fmt.Sprintf("Risultano %d rate scadute al %s.", count, cutoff.Format("02/01/2006")),
		"/admin/debtors/situation",
	)
	if err != nil {
		return 0, err
	}
	return count, nil
}
