package billing

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/shared"
	_ "github.com/attico-hq/attico/testing"
)

type memoryBillingRepo struct {
	plans         map[int64]*InstallmentPlan
	installments  map[int64]*Installment
	quotas        map[int64]*Quota
	rawSnapshots  map[int64][]byte
	payments      map[int64]*Payment
	allocations   map[int64][]PaymentAllocation
	closedTasks   map[int64]int64
	paidDecls     map[int64]money.Cents
	rows          []DebtorRow
	balance       money.Cents
	nextInstID    int64
	nextQuotaID   int64
	nextPaymentID int64
}

func newMemoryBillingRepo() *memoryBillingRepo {
	return &memoryBillingRepo{
		plans:        make(map[int64]*InstallmentPlan),
		installments: make(map[int64]*Installment),
		quotas:       make(map[int64]*Quota),
		rawSnapshots: make(map[int64][]byte),
		payments:     make(map[int64]*Payment),
		allocations:  make(map[int64][]PaymentAllocation),
		closedTasks:  make(map[int64]int64),
		paidDecls:    make(map[int64]money.Cents),
	}
}

func (r *memoryBillingRepo) GetPlan(_ context.Context, id int64) (*InstallmentPlan, error) {
	p, ok := r.plans[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memoryBillingRepo) WithGeneration(_ context.Context, fn func(GenerationWriter) error) error {
	return fn(r)
}

func (r *memoryBillingRepo) WithPayment(_ context.Context, fn func(PaymentWriter) error) error {
	return fn(r)
}

func (r *memoryBillingRepo) LockPlan(_ context.Context, planID int64) (*InstallmentPlan, error) {
	p, ok := r.plans[planID]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (r *memoryBillingRepo) CreateInstallment(_ context.Context, inst Installment) (int64, error) {
	r.nextInstID++
	inst.ID = r.nextInstID
	inst.Status = InstallmentDraft
	r.installments[inst.ID] = &inst
	return inst.ID, nil
}

func (r *memoryBillingRepo) InsertQuotas(_ context.Context, installmentID int64, dueDate time.Time, lines []quotaLine) error {
	for _, line := range lines {
		r.nextQuotaID++
		raw, err := EncodeSnapshot(line.Snapshot)
		if err != nil {
			return err
		}
		snap := line.Snapshot
		r.quotas[r.nextQuotaID] = &Quota{
			ID:            r.nextQuotaID,
			InstallmentID: installmentID,
			DebtorID:      line.DebtorID,
			UnitID:        line.UnitID,
			Amount:        line.Amount,
			Status:        line.Status,
			DueDate:       dueDate,
			Snapshot:      &snap,
		}
		r.rawSnapshots[r.nextQuotaID] = raw
	}
	return nil
}

func (r *memoryBillingRepo) SetInstallmentTotal(_ context.Context, installmentID int64, total money.Cents) error {
	r.installments[installmentID].Total = total
	return nil
}

func (r *memoryBillingRepo) MarkPlanGenerated(_ context.Context, planID int64) error {
	r.plans[planID].Generated = true
	return nil
}

func (r *memoryBillingRepo) LockInstallmentQuotas(_ context.Context, installmentID int64) ([]Quota, error) {
	var out []Quota
	for id := int64(1); id <= r.nextQuotaID; id++ {
		q, ok := r.quotas[id]
		if ok && q.InstallmentID == installmentID {
			out = append(out, *q)
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) AddQuotaPayment(_ context.Context, quotaID int64, amount money.Cents, entryID int64) error {
	q := r.quotas[quotaID]
	q.AmountPaid += amount
	q.EntryID = &entryID
	return nil
}

func (r *memoryBillingRepo) CreatePayment(_ context.Context, p Payment) (int64, error) {
	r.nextPaymentID++
	p.ID = r.nextPaymentID
	r.payments[p.ID] = &p
	return p.ID, nil
}

func (r *memoryBillingRepo) CreateAllocation(_ context.Context, paymentID, quotaID int64, amount money.Cents) error {
	r.allocations[paymentID] = append(r.allocations[paymentID], PaymentAllocation{
		PaymentID: paymentID,
		QuotaID:   quotaID,
		Amount:    amount,
	})
	return nil
}

func (r *memoryBillingRepo) CloseVerificationTask(_ context.Context, taskID int64, _ time.Time) (int64, error) {
	declarationID := r.closedTasks[taskID]
	r.closedTasks[taskID] = declarationID
	return declarationID, nil
}

func (r *memoryBillingRepo) MarkDeclarationPaid(_ context.Context, declarationID int64, paid money.Cents) error {
	r.paidDecls[declarationID] = paid
	return nil
}

func (r *memoryBillingRepo) LockPayment(_ context.Context, paymentID int64) (*Payment, []PaymentAllocation, error) {
	p, ok := r.payments[paymentID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	cp := *p
	return &cp, r.allocations[paymentID], nil
}

func (r *memoryBillingRepo) ReversePayment(_ context.Context, paymentID int64, at time.Time) error {
	p := r.payments[paymentID]
	if p.Status == PaymentReversed {
		return ErrPaymentReversed
	}
	p.Status = PaymentReversed
	p.ReversedAt = &at
	return nil
}

func (r *memoryBillingRepo) SubtractQuotaPayment(_ context.Context, quotaID int64, amount money.Cents) error {
	q := r.quotas[quotaID]
	q.AmountPaid -= amount
	q.EntryID = nil
	return nil
}

func (r *memoryBillingRepo) ListDebtorQuotas(_ context.Context, _, _ int64) ([]DebtorRow, error) {
	return r.rows, nil
}

func (r *memoryBillingRepo) ListOutstandingQuotas(_ context.Context, _ int64, _, _ int64) ([]DebtorRow, error) {
	var out []DebtorRow
	for _, row := range r.rows {
		if row.Quota.Amount > row.Quota.AmountPaid || row.Quota.Amount < 0 {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *memoryBillingRepo) SumInitialBalance(_ context.Context, _, _ int64, _ time.Time) (money.Cents, error) {
	return r.balance, nil
}

type memoryLock struct {
	held map[string]bool
}

func newMemoryLock() *memoryLock { return &memoryLock{held: make(map[string]bool)} }

func (l *memoryLock) Acquire(_ context.Context, key string) error {
	if l.held[key] {
		return shared.ErrLockHeld
	}
	l.held[key] = true
	return nil
}

func (l *memoryLock) Release(_ context.Context, key string) {
	delete(l.held, key)
}

type memoryIdempotency struct {
	keys map[string]bool
}

func newMemoryIdempotency() *memoryIdempotency {
	return &memoryIdempotency{keys: make(map[string]bool)}
}

func (s *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if s.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	s.keys[key] = true
	return nil
}

func (s *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(s.keys, key)
	return nil
}

func newTestService(repo *memoryBillingRepo) *Service {
	svc := NewService(repo, newMemoryLock(), newMemoryIdempotency(), "v2.1.0")
	return svc.WithClock(func() time.Time {
		return time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	})
}

func seedPlan(repo *memoryBillingRepo, method DistributionMethod, count int) *InstallmentPlan {
	plan := &InstallmentPlan{
		ID:                 1,
		CondominiumID:      10,
		Name:               "Gestione Ordinaria 2025",
		DistributionMethod: method,
		InstallmentCount:   count,
	}
	repo.plans[plan.ID] = plan
	return plan
}

func quarterlyDueDates(n int) []time.Time {
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, time.Date(2025, time.Month(1+3*i), 31, 0, 0, 0, 0, time.UTC))
	}
	return out
}

func TestGeneratePlanInstallments(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedPlan(repo, DistributeFirstInstallment, 4)
	svc := newTestService(repo)

	result, err := svc.GeneratePlanInstallments(context.Background(), 1, GenerateRequest{
		PerUnitTotals: map[int64]map[int64]money.Cents{
			100: {1: 100000},
			200: {2: 60001},
		},
		DueDates: quarterlyDueDates(4),
	})
	require.NoError(t, err)
	require.Equal(t, 4, result.InstallmentsCreated)
	require.Equal(t, 8, result.QuotasCreated)
	require.Equal(t, money.Cents(160001), result.TotalAmountGenerated)

	require.True(t, repo.plans[1].Generated)
	require.Len(t, repo.installments, 4)

	// Header totals cover the full generated amount.
	var headerSum money.Cents
	for _, inst := range repo.installments {
		headerSum += inst.Total
	}
	require.Equal(t, money.Cents(160001), headerSum)

	// Every quota carries its snapshot.
	var debtorTotal money.Cents
	for _, q := range repo.quotas {
		require.NotNil(t, q.Snapshot)
		require.Equal(t, SnapshotVersion, q.Snapshot.Version)
		require.Equal(t, OriginAutomatic, q.Snapshot.Origin)
		if q.DebtorID == 200 {
			debtorTotal += q.Amount
		}
	}
	require.Equal(t, money.Cents(60001), debtorTotal)
}

func TestGeneratePlanAlreadyBuilt(t *testing.T) {
	repo := newMemoryBillingRepo()
	plan := seedPlan(repo, DistributeAllInstallments, 2)
	plan.Generated = true
	svc := newTestService(repo)

	_, err := svc.GeneratePlanInstallments(context.Background(), 1, GenerateRequest{
		PerUnitTotals: map[int64]map[int64]money.Cents{100: {1: 5000}},
		DueDates:      quarterlyDueDates(2),
	})
	require.ErrorIs(t, err, ErrPlanAlreadyBuilt)
	require.Empty(t, repo.installments)
}

func TestGeneratePlanLocked(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedPlan(repo, DistributeAllInstallments, 2)
	locks := newMemoryLock()
	require.NoError(t, locks.Acquire(context.Background(), shared.PlanLockKey(1)))

	svc := NewService(repo, locks, newMemoryIdempotency(), "v2.1.0")
	_, err := svc.GeneratePlanInstallments(context.Background(), 1, GenerateRequest{
		PerUnitTotals: map[int64]map[int64]money.Cents{100: {1: 5000}},
		DueDates:      quarterlyDueDates(2),
	})
	require.ErrorIs(t, err, ErrGenerationLocked)
}

func TestGeneratePlanUnknown(t *testing.T) {
	svc := newTestService(newMemoryBillingRepo())
	_, err := svc.GeneratePlanInstallments(context.Background(), 99, GenerateRequest{
		DueDates: quarterlyDueDates(1),
	})
	require.ErrorIs(t, err, ErrUnknownPlan)
}

func TestGeneratePlanNoDueDatesIsNoOp(t *testing.T) {
	repo := newMemoryBillingRepo()
	seedPlan(repo, DistributeAllInstallments, 3)
	svc := newTestService(repo)

	result, err := svc.GeneratePlanInstallments(context.Background(), 1, GenerateRequest{
		PerUnitTotals: map[int64]map[int64]money.Cents{100: {1: 5000}},
	})
	require.NoError(t, err)
	require.Zero(t, result.InstallmentsCreated)
	require.False(t, repo.plans[1].Generated)
}

func seedQuotaRow(repo *memoryBillingRepo, quotaID, instID int64, seq int, amount, paid money.Cents, due time.Time) {
	q := &Quota{
		ID:            quotaID,
		InstallmentID: instID,
		DebtorID:      100,
		UnitID:        1,
		Amount:        amount,
		AmountPaid:    paid,
		Status:        StatusForAmount(amount),
		DueDate:       due,
	}
	repo.quotas[quotaID] = q
	if quotaID > repo.nextQuotaID {
		repo.nextQuotaID = quotaID
	}
	repo.rows = append(repo.rows, DebtorRow{
		Quota:         *q,
		InstallmentID: instID,
		Sequence:      seq,
		Description:   "Rata n.1 - Gestione",
		DueDate:       due,
		PlanID:        1,
		PlanMethod:    DistributeFirstInstallment,
		PlanCount:     4,
		UnitLabel:     "Int. 5",
		DebtorName:    "Rossi Mario",
	})
}

func TestRegisterPaymentDistributesAcrossQuotas(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 3000, 0, due)
	seedQuotaRow(repo, 2, 10, 1, 5000, 1000, due)
	svc := newTestService(repo)

	payment, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        6000,
		Method:        "bank_transfer",
		Allocations:   map[int64]money.Cents{10: 6000},
	})
	require.NoError(t, err)
	require.NotEmpty(t, payment.Number)
	require.Equal(t, PaymentRegistered, payment.Status)

	// First quota settles fully, remainder flows into the second.
	require.Equal(t, money.Cents(3000), repo.quotas[1].AmountPaid)
	require.Equal(t, money.Cents(4000), repo.quotas[2].AmountPaid)

	allocs := repo.allocations[payment.ID]
	require.Len(t, allocs, 2)
	require.Equal(t, money.Cents(3000), allocs[0].Amount)
	require.Equal(t, money.Cents(3000), allocs[1].Amount)
}

func TestRegisterPaymentSkipsCreditQuotas(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, -2000, 0, due)
	seedQuotaRow(repo, 2, 10, 1, 5000, 0, due)
	svc := newTestService(repo)

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        4000,
		Method:        "cash",
		Allocations:   map[int64]money.Cents{10: 4000},
	})
	require.NoError(t, err)
	require.Zero(t, repo.quotas[1].AmountPaid)
	require.Equal(t, money.Cents(4000), repo.quotas[2].AmountPaid)
}

func TestRegisterPaymentValidation(t *testing.T) {
	svc := newTestService(newMemoryBillingRepo())

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{Amount: 0})
	require.ErrorIs(t, err, ErrInvalidPaymentAmount)

	_, err = svc.RegisterPayment(context.Background(), RegisterPaymentInput{Amount: 100})
	require.ErrorIs(t, err, ErrNoAllocations)
}

func TestRegisterPaymentIdempotency(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	svc := newTestService(repo)

	input := RegisterPaymentInput{
		CondominiumID:  10,
		DebtorID:       100,
		Amount:         5000,
		Method:         "bank_transfer",
		Allocations:    map[int64]money.Cents{10: 5000},
		IdempotencyKey: "req-42",
	}
	_, err := svc.RegisterPayment(context.Background(), input)
	require.NoError(t, err)

	_, err = svc.RegisterPayment(context.Background(), input)
	require.ErrorIs(t, err, ErrDuplicatePayment)
	require.Equal(t, money.Cents(5000), repo.quotas[1].AmountPaid)
}

func TestRegisterPaymentClosesVerificationTask(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.closedTasks[77] = 55
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	svc := newTestService(repo)

	_, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        5000,
		Method:        "bank_transfer",
		Allocations:   map[int64]money.Cents{10: 5000},
		RelatedTaskID: 77,
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(5000), repo.paidDecls[55])
}

func TestReversePayment(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	svc := newTestService(repo)

	payment, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        5000,
		Method:        "cash",
		Allocations:   map[int64]money.Cents{10: 5000},
	})
	require.NoError(t, err)
	require.Equal(t, money.Cents(5000), repo.quotas[1].AmountPaid)

	require.NoError(t, svc.ReversePayment(context.Background(), payment.ID))
	require.Zero(t, repo.quotas[1].AmountPaid)
	require.Equal(t, PaymentReversed, repo.payments[payment.ID].Status)

	require.ErrorIs(t, svc.ReversePayment(context.Background(), payment.ID), ErrPaymentReversed)
}

func TestDebtorSituationSnapshotBreakdown(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 12500, 2500, due)
	snap := CalculationSnapshot{
		Version: SnapshotVersion,
		Origin:  OriginAutomatic,
		Amounts: SnapshotAmounts{PureShare: 15000, AppliedBalance: -2500, Total: 12500},
		Params:  SnapshotParams{DistributionMethod: DistributeFirstInstallment, Sequence: 1, TotalInstallments: 4},
	}
	raw, err := EncodeSnapshot(snap)
	require.NoError(t, err)
	repo.rows[0].RawSnapshot = raw

	svc := newTestService(repo)
	rows, err := svc.DebtorSituation(context.Background(), 10, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	require.Equal(t, money.Cents(10000), row.Residual)
	require.False(t, row.IsCredit)
	require.True(t, row.Overdue)
	require.Equal(t, "31/01/2025", row.DueDateDisplay)
	require.Len(t, row.Quotas, 1)
	require.Equal(t, money.Cents(-2500), row.Quotas[0].BalanceComponent)
	require.Equal(t, money.Cents(15000), row.Quotas[0].ExpenseComponent)
}

func TestDebtorSituationLegacyReconstruction(t *testing.T) {
	repo := newMemoryBillingRepo()
	repo.balance = -2000
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 8000, 0, due)

	svc := newTestService(repo)
	rows, err := svc.DebtorSituation(context.Background(), 10, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	// No snapshot stored: the balance share comes from the period carry and
	// the expense share is the residual net of it.
	bd := rows[0].Quotas[0]
	require.Equal(t, money.Cents(-2000), bd.BalanceComponent)
	require.Equal(t, money.Cents(10000), bd.ExpenseComponent)
}

func TestDebtorSituationSkipsSettledInstallments(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 5000, due)

	svc := newTestService(repo)
	rows, err := svc.DebtorSituation(context.Background(), 10, 100, 0)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestDebtorSituationCreditRow(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, -7000, 0, due)

	svc := newTestService(repo)
	rows, err := svc.DebtorSituation(context.Background(), 10, 100, 0)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].IsCredit)
	require.False(t, rows[0].Overdue)
}

func TestOutstandingInstallmentsGrouping(t *testing.T) {
	repo := newMemoryBillingRepo()
	jan := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	sep := time.Date(2025, 9, 30, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 3000, 0, jan)
	seedQuotaRow(repo, 2, 10, 1, 2000, 500, jan)
	seedQuotaRow(repo, 3, 20, 2, 4000, 0, sep)

	svc := newTestService(repo)
	out, err := svc.OutstandingInstallments(context.Background(), 10, 100, 0)
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Equal(t, int64(10), out[0].ID)
	require.Equal(t, money.Cents(4500), out[0].Residual)
	require.True(t, out[0].Overdue)

	require.Equal(t, int64(20), out[1].ID)
	require.Equal(t, money.Cents(4000), out[1].Residual)
	require.False(t, out[1].Overdue)
}

func TestComputeWaterfallAggregatesPerInstallment(t *testing.T) {
	repo := newMemoryBillingRepo()
	jan := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	apr := time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, -10000, 0, jan)
	seedQuotaRow(repo, 2, 20, 2, 6000, 0, apr)

	svc := newTestService(repo)
	results, err := svc.ComputeWaterfall(context.Background(), 10, 100)
	require.NoError(t, err)
	require.Len(t, results, 2)

	require.Equal(t, money.Cents(-10000), results[10].Residual)
	require.True(t, results[20].CoveredByCredit)
	require.Equal(t, money.Cents(0), results[20].Residual)
	require.Equal(t, money.Cents(10000), results[20].CreditAvailableStart)
}

type recordingAudit struct {
	logs []shared.AuditLog
}

func (a *recordingAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func TestRegisterPaymentRecordsAuditTrail(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	audit := &recordingAudit{}
	svc := newTestService(repo).WithAudit(audit)

	ctx := shared.ContextWithActor(context.Background(), "amministratore@studio.it")
	payment, err := svc.RegisterPayment(ctx, RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        5000,
		Method:        "bank_transfer",
		Allocations:   map[int64]money.Cents{10: 5000},
	})
	require.NoError(t, err)

	require.Len(t, audit.logs, 1)
	entry := audit.logs[0]
	require.Equal(t, "billing.payment.register", entry.Action)
	require.Equal(t, "payment", entry.Entity)
	require.Equal(t, strconv.FormatInt(payment.ID, 10), entry.EntityID)
	require.Equal(t, "amministratore@studio.it", entry.Actor)
	require.Equal(t, int64(5000), entry.Meta["amount_cents"])
}

func TestReversePaymentRecordsAuditTrail(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	audit := &recordingAudit{}
	svc := newTestService(repo).WithAudit(audit)

	payment, err := svc.RegisterPayment(context.Background(), RegisterPaymentInput{
		CondominiumID: 10,
		DebtorID:      100,
		Amount:        5000,
		Method:        "cash",
		Allocations:   map[int64]money.Cents{10: 5000},
	})
	require.NoError(t, err)

	require.NoError(t, svc.ReversePayment(context.Background(), payment.ID))

	require.Len(t, audit.logs, 2)
	require.Equal(t, "billing.payment.reverse", audit.logs[1].Action)
	// Anonymous contexts are attributed to the system account.
	require.Equal(t, "system", audit.logs[1].Actor)
}
