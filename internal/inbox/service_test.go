package inbox

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	_ "github.com/attico-hq/attico/testing"
)

type memoryInboxRepo struct {
	declarations map[int64]*Declaration
	events       map[int64]*Event
	nextDeclID   int64
	nextEventID  int64
}

func newMemoryInboxRepo() *memoryInboxRepo {
	return &memoryInboxRepo{
		declarations: make(map[int64]*Declaration),
		events:       make(map[int64]*Event),
	}
}

func (r *memoryInboxRepo) GetDeclaration(_ context.Context, id int64) (*Declaration, error) {
	d, ok := r.declarations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (r *memoryInboxRepo) ListDebtorDeclarations(_ context.Context, condominiumID, debtorID int64) ([]Declaration, error) {
	var out []Declaration
	for id := r.nextDeclID; id >= 1; id-- {
		d, ok := r.declarations[id]
		if ok && d.CondominiumID == condominiumID && d.DebtorID == debtorID {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (r *memoryInboxRepo) WithReport(_ context.Context, fn func(ReportWriter) error) error {
	return fn(r)
}

func (r *memoryInboxRepo) LockOpenDeclaration(_ context.Context, condominiumID, debtorID, installmentID int64) (*Declaration, error) {
	for id := r.nextDeclID; id >= 1; id-- {
		d, ok := r.declarations[id]
		if !ok || d.CondominiumID != condominiumID || d.DebtorID != debtorID {
			continue
		}
		if installmentID > 0 && d.InstallmentID != installmentID {
			continue
		}
		cp := *d
		return &cp, nil
	}
	return nil, nil
}

func (r *memoryInboxRepo) CreateDeclaration(_ context.Context, d Declaration) (int64, error) {
	r.nextDeclID++
	d.ID = r.nextDeclID
	r.declarations[d.ID] = &d
	return d.ID, nil
}

func (r *memoryInboxRepo) ClearRejection(_ context.Context, declarationID int64) error {
	r.declarations[declarationID].RejectionReason = ""
	return nil
}

func (r *memoryInboxRepo) CreateEvent(_ context.Context, e Event) (int64, error) {
	r.nextEventID++
	e.ID = r.nextEventID
	r.events[e.ID] = &e
	return e.ID, nil
}

func (r *memoryInboxRepo) ListOpenEvents(_ context.Context, condominiumID int64) ([]Event, error) {
	var out []Event
	for id := int64(1); id <= r.nextEventID; id++ {
		e, ok := r.events[id]
		if ok && e.CondominiumID == condominiumID && !e.Completed {
			out = append(out, *e)
		}
	}
	return out, nil
}

func (r *memoryInboxRepo) RejectDeclaration(_ context.Context, declarationID int64, reason string, at time.Time) error {
	d, ok := r.declarations[declarationID]
	if !ok || d.Status != DeclarationReported {
		return ErrNotFound
	}
	d.Status = DeclarationRejected
	d.RejectionReason = reason
	for _, e := range r.events {
		if e.RelatedEventID == declarationID && !e.Completed {
			e.Completed = true
			e.CompletedAt = &at
		}
	}
	return nil
}

type recordingNotifier struct {
	notified []Declaration
}

func (n *recordingNotifier) NotifyVerificationRequested(_ context.Context, d Declaration) error {
	n.notified = append(n.notified, d)
	return nil
}

func newTestInboxService(repo *memoryInboxRepo, notifier Notifier) *Service {
	return NewService(repo, notifier).WithClock(func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	})
}

func validReport() ReportInput {
	return ReportInput{
		CondominiumID: 10,
		DebtorID:      100,
		InstallmentID: 7,
		Amount:        25000,
		Method:        "bank_transfer",
		Note:          "Bonifico del 10/06",
	}
}

func TestReportPaymentCreatesDeclarationAndTask(t *testing.T) {
	repo := newMemoryInboxRepo()
	notifier := &recordingNotifier{}
	svc := newTestInboxService(repo, notifier)

	decl, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)
	require.Equal(t, DeclarationReported, decl.Status)
	require.False(t, decl.PaidOn.IsZero())

	events, err := svc.OpenEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)

	event := events[0]
	require.Equal(t, EventVerifyPayment, event.Kind)
	require.True(t, event.Hidden)
	require.Equal(t, decl.ID, event.RelatedEventID)
	require.Contains(t, event.ActionURL, "declaration=1")
	require.Contains(t, event.Body, "250,00")

	require.Len(t, notifier.notified, 1)
}

func TestReportPaymentRejectsDuplicates(t *testing.T) {
	repo := newMemoryInboxRepo()
	svc := newTestInboxService(repo, nil)

	_, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)

	_, err = svc.ReportPayment(context.Background(), validReport())
	require.ErrorIs(t, err, ErrAlreadyReported)
}

func TestReportPaymentRejectsAlreadyPaid(t *testing.T) {
	repo := newMemoryInboxRepo()
	svc := newTestInboxService(repo, nil)

	decl, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)
	repo.declarations[decl.ID].Status = DeclarationPaid

	_, err = svc.ReportPayment(context.Background(), validReport())
	require.ErrorIs(t, err, ErrAlreadyPaid)
}

func TestReportPaymentAfterRejection(t *testing.T) {
	repo := newMemoryInboxRepo()
	svc := newTestInboxService(repo, nil)

	decl, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)
	require.NoError(t, svc.Reject(context.Background(), decl.ID, "importo non trovato in estratto conto"))
	require.Equal(t, DeclarationRejected, repo.declarations[decl.ID].Status)

	// A rejected position can be reported again; the new report
	// supersedes the rejection and wipes its stale reason.
	again, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)
	require.NotEqual(t, decl.ID, again.ID)
	require.Equal(t, DeclarationReported, again.Status)
	require.Empty(t, repo.declarations[decl.ID].RejectionReason)
}

func TestReportPaymentValidation(t *testing.T) {
	svc := newTestInboxService(newMemoryInboxRepo(), nil)

	in := validReport()
	in.Amount = 0
	_, err := svc.ReportPayment(context.Background(), in)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRejectRequiresReason(t *testing.T) {
	svc := newTestInboxService(newMemoryInboxRepo(), nil)
	require.ErrorIs(t, svc.Reject(context.Background(), 1, ""), ErrReasonRequired)
}

func TestRejectCompletesVerificationTask(t *testing.T) {
	repo := newMemoryInboxRepo()
	svc := newTestInboxService(repo, nil)

	decl, err := svc.ReportPayment(context.Background(), validReport())
	require.NoError(t, err)

	require.NoError(t, svc.Reject(context.Background(), decl.ID, "non riscontrato"))

	events, err := svc.OpenEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, events)
}
