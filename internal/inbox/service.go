package inbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/attico-hq/attico/internal/money"
)

// RepositoryPort defines data access methods for the inbox.
type RepositoryPort interface {
	GetDeclaration(ctx context.Context, id int64) (*Declaration, error)
	ListDebtorDeclarations(ctx context.Context, condominiumID, debtorID int64) ([]Declaration, error)
	WithReport(ctx context.Context, fn func(ReportWriter) error) error
	ListOpenEvents(ctx context.Context, condominiumID int64) ([]Event, error)
	RejectDeclaration(ctx context.Context, declarationID int64, reason string, at time.Time) error
}

// Notifier pushes a background notification once a verification task is
// created. Failures are logged upstream, never surfaced to the reporter.
type Notifier interface {
	NotifyVerificationRequested(ctx context.Context, d Declaration) error
}

var (
	ErrAlreadyPaid     = errors.New("inbox: payment already registered for this position")
	ErrAlreadyReported = errors.New("inbox: payment already reported and awaiting verification")
	ErrInvalidAmount   = errors.New("inbox: declared amount must be positive")
	ErrReasonRequired  = errors.New("inbox: rejection reason required")
)

// Service handles payment reporting business logic.
type Service struct {
	repo     RepositoryPort
	notifier Notifier
	now      func() time.Time
}

// NewService builds Service instance. notifier may be nil.
func NewService(repo RepositoryPort, notifier Notifier) *Service {
	return &Service{repo: repo, notifier: notifier, now: time.Now}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ReportInput is a member's payment declaration.
type ReportInput struct {
	CondominiumID int64
	DebtorID      int64
	InstallmentID int64
	Amount        money.Cents
	Method        string
	Note          string
	PaidOn        time.Time
}

// ReportPayment records a member's declaration and opens the hidden
// verification task for the administrator. A position already paid or
// already awaiting verification cannot be reported again; a previously
// rejected one can, and reporting clears the old rejection reason.
func (s *Service) ReportPayment(ctx context.Context, in ReportInput) (*Declaration, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}

	now := s.now()
	decl := Declaration{
		CondominiumID: in.CondominiumID,
		DebtorID:      in.DebtorID,
		InstallmentID: in.InstallmentID,
		Amount:        in.Amount,
		Method:        in.Method,
		Note:          in.Note,
		PaidOn:        in.PaidOn,
		Status:        DeclarationReported,
		ReportedAt:    now,
	}
	if decl.PaidOn.IsZero() {
		decl.PaidOn = now
	}

	err := s.repo.WithReport(ctx, func(w ReportWriter) error {
		open, err := w.LockOpenDeclaration(ctx, in.CondominiumID, in.DebtorID, in.InstallmentID)
		if err != nil {
			return err
		}
		if open != nil {
			switch open.Status {
			case DeclarationPaid:
				return ErrAlreadyPaid
			case DeclarationReported:
				return ErrAlreadyReported
			case DeclarationRejected:
				// Re-reporting supersedes the rejection; the stale
				// reason is cleared so history reads one cycle.
				if err := w.ClearRejection(ctx, open.ID); err != nil {
					return err
				}
			}
		}

		id, err := w.CreateDeclaration(ctx, decl)
		if err != nil {
			return err
		}
		decl.ID = id

		_, err = w.CreateEvent(ctx, Event{
			CondominiumID:  in.CondominiumID,
			Kind:           EventVerifyPayment,
			Title:          "Pagamento segnalato da verificare",
			Body:           verificationBody(decl),
			ActionURL:      fmt.Sprintf("/admin/payments/register?declaration=%d", id),
			RelatedEventID: id,
			Hidden:         true,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	if s.notifier != nil {
		// Notification delivery is best effort.
		_ = s.notifier.NotifyVerificationRequested(ctx, decl)
	}
	return &decl, nil
}

func verificationBody(d Declaration) string {
	body := fmt.Sprintf("Importo segnalato %s con metodo %s il %s.",
		money.FormatEUR(d.Amount), d.Method, d.PaidOn.Format("02/01/2006"))
	if d.Note != "" {
		body += " Nota: " + d.Note
	}
	return body
}

// Reject marks a reported declaration rejected with the given reason and
// closes its verification task.
func (s *Service) Reject(ctx context.Context, declarationID int64, reason string) error {
	if reason == "" {
		return ErrReasonRequired
	}
	return s.repo.RejectDeclaration(ctx, declarationID, reason, s.now())
}

// Declarations lists a debtor's reporting history.
func (s *Service) Declarations(ctx context.Context, condominiumID, debtorID int64) ([]Declaration, error) {
	return s.repo.ListDebtorDeclarations(ctx, condominiumID, debtorID)
}

// OpenEvents lists the administrator's pending inbox.
func (s *Service) OpenEvents(ctx context.Context, condominiumID int64) ([]Event, error) {
	return s.repo.ListOpenEvents(ctx, condominiumID)
}
