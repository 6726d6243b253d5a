package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeVerificationNotice notifies the administrator that a member
	// reported a payment waiting for verification.
	TaskTypeVerificationNotice = "inbox:verification_notice"
	// TaskTypeOverdueScan walks every condominium looking for installments
	// past their due date.
	TaskTypeOverdueScan = "billing:overdue_scan"
)

// VerificationNoticePayload describes a reported payment to announce.
type VerificationNoticePayload struct {
	DeclarationID int64  `json:"declaration_id"`
	CondominiumID int64  `json:"condominium_id"`
	DebtorID      int64  `json:"debtor_id"`
	AmountCents   int64  `json:"amount_cents"`
	Method        string `json:"method"`
}

// NewVerificationNoticeTask constructs an Asynq task.
func NewVerificationNoticeTask(payload VerificationNoticePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVerificationNotice, data), nil
}

// HandleVerificationNoticeTask processes TaskTypeVerificationNotice tasks.
func HandleVerificationNoticeTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload VerificationNoticePayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		// Delivery channel (mail, push) plugs in here; the inbox entry
		// already exists when this task runs.
		logger.Info("payment verification requested",
			slog.Int64("declaration_id", payload.DeclarationID),
			slog.Int64("condominium_id", payload.CondominiumID),
			slog.Int64("debtor_id", payload.DebtorID),
			slog.Int64("amount_cents", payload.AmountCents),
		)
		return nil
	}
}

// OverdueScanPayload bounds one scan run.
type OverdueScanPayload struct {
	GraceDays int    `json:"grace_days"`
	AsOf      string `json:"as_of,omitempty"`
}

// NewOverdueScanTask constructs the nightly scan task.
func NewOverdueScanTask(payload OverdueScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeOverdueScan, data), nil
}

func parseAsOf(raw string, fallback time.Time) time.Time {
	if raw == "" {
		return fallback
	}
	if ts, err := time.Parse("2006-01-02", raw); err == nil {
		return ts
	}
	return fallback
}
