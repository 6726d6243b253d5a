package billing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/attico-hq/attico/internal/allocation"
	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/shared"
	"github.com/attico-hq/attico/internal/waterfall"
)

// RepositoryPort defines data access methods for billing.
type RepositoryPort interface {
	GetPlan(ctx context.Context, id int64) (*InstallmentPlan, error)
	WithGeneration(ctx context.Context, fn func(GenerationWriter) error) error
	WithPayment(ctx context.Context, fn func(PaymentWriter) error) error
	ListDebtorQuotas(ctx context.Context, condominiumID, debtorID int64) ([]DebtorRow, error)
	ListOutstandingQuotas(ctx context.Context, condominiumID int64, debtorID, unitID int64) ([]DebtorRow, error)
	SumInitialBalance(ctx context.Context, condominiumID, debtorID int64, asOf time.Time) (money.Cents, error)
}

// LockPort serializes generation passes per plan.
type LockPort interface {
	Acquire(ctx context.Context, key string) error
	Release(ctx context.Context, key string)
}

// IdempotencyPort guards payment registration retries.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, scope string) error
	Delete(ctx context.Context, key string) error
}

// AuditPort records who did what. Failures never abort the money path.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service handles installment plan business logic.
type Service struct {
	repo          RepositoryPort
	locks         LockPort
	idempotency   IdempotencyPort
	audit         AuditPort
	engineVersion string
	now           func() time.Time
}

// NewService builds Service instance. engineVersion is stamped into every
// calculation snapshot; now is injectable for tests.
func NewService(repo RepositoryPort, locks LockPort, idem IdempotencyPort, engineVersion string) *Service {
	return &Service{
		repo:          repo,
		locks:         locks,
		idempotency:   idem,
		engineVersion: engineVersion,
		now:           time.Now,
	}
}

// WithClock overrides the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// WithAudit attaches an audit trail writer.
func (s *Service) WithAudit(audit AuditPort) *Service {
	s.audit = audit
	return s
}

func (s *Service) recordAudit(ctx context.Context, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		Actor:    actorOrSystem(shared.ActorFromContext(ctx)),
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

// GenerateRequest is the external input of one generation pass.
type GenerateRequest struct {
	PerUnitTotals   map[int64]map[int64]money.Cents
	DueDates        []time.Time
	InitialBalances map[int64]map[int64]money.Cents
}

// GeneratePlanInstallments splits every unit total across the plan's due
// dates and persists headers plus quotas in one transaction. Concurrent
// calls for the same plan are serialized; the loser gets
// ErrGenerationLocked rather than duplicate installments.
func (s *Service) GeneratePlanInstallments(ctx context.Context, planID int64, req GenerateRequest) (GenerateResult, error) {
	plan, err := s.repo.GetPlan(ctx, planID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return GenerateResult{}, ErrUnknownPlan
		}
		return GenerateResult{}, err
	}

	now := s.now()
	in := GenerateInput{
		Plan:            *plan,
		PerUnitTotals:   req.PerUnitTotals,
		DueDates:        req.DueDates,
		InitialBalances: req.InitialBalances,
		EngineVersion:   s.engineVersion,
		Actor:           shared.ActorFromContext(ctx),
		Now:             now,
	}

	// Validation and the whole calculation happen before any write.
	drafts, err := computePlan(in)
	if err != nil {
		return GenerateResult{}, err
	}
	if len(drafts) == 0 {
		return GenerateResult{}, nil
	}
	if plan.Generated {
		return GenerateResult{}, ErrPlanAlreadyBuilt
	}

	lockKey := shared.PlanLockKey(planID)
	if err := s.locks.Acquire(ctx, lockKey); err != nil {
		if errors.Is(err, shared.ErrLockHeld) {
			return GenerateResult{}, ErrGenerationLocked
		}
		return GenerateResult{}, err
	}
	defer s.locks.Release(ctx, lockKey)

	var result GenerateResult
	err = s.repo.WithGeneration(ctx, func(w GenerationWriter) error {
		locked, err := w.LockPlan(ctx, planID)
		if err != nil {
			return err
		}
		if locked.Generated {
			return ErrPlanAlreadyBuilt
		}

		for _, draft := range drafts {
			instID, err := w.CreateInstallment(ctx, Installment{
				PlanID:      planID,
				Sequence:    draft.Sequence,
				Description: draft.Description,
				DueDate:     draft.DueDate,
				IssueDate:   draft.IssueDate,
			})
			if err != nil {
				return err
			}
			if err := w.InsertQuotas(ctx, instID, draft.DueDate, draft.Quotas); err != nil {
				return err
			}
			if err := w.SetInstallmentTotal(ctx, instID, draft.Total); err != nil {
				return err
			}
			result.InstallmentsCreated++
			result.QuotasCreated += len(draft.Quotas)
			result.TotalAmountGenerated += draft.Total
		}
		return w.MarkPlanGenerated(ctx, planID)
	})
	if err != nil {
		return GenerateResult{}, err
	}

	s.recordAudit(ctx, "billing.plan.generate", "installment_plan", planID, map[string]any{
		"installments": result.InstallmentsCreated,
		"quotas":       result.QuotasCreated,
		"total_cents":  int64(result.TotalAmountGenerated),
	})
	return result, nil
}

// ComputeWaterfall aggregates the debtor's full quota history per
// installment and runs the forward-only credit carry.
func (s *Service) ComputeWaterfall(ctx context.Context, condominiumID, debtorID int64) (map[int64]waterfall.Result, error) {
	rows, err := s.repo.ListDebtorQuotas(ctx, condominiumID, debtorID)
	if err != nil {
		return nil, err
	}
	return waterfall.Compute(aggregateRows(rows)), nil
}

func aggregateRows(rows []DebtorRow) []waterfall.Row {
	type agg struct {
		row   waterfall.Row
		first int
	}
	byInstallment := make(map[int64]*agg)
	order := 0
	for _, r := range rows {
		a, ok := byInstallment[r.InstallmentID]
		if !ok {
			a = &agg{
				row: waterfall.Row{
					InstallmentID: r.InstallmentID,
					Sequence:      r.Sequence,
					DueDate:       r.DueDate.Format("2006-01-02"),
				},
				first: order,
			}
			byInstallment[r.InstallmentID] = a
		}
		order++
		a.row.NetAmount += r.Quota.Amount
		a.row.AmountPaid += r.Quota.AmountPaid
	}

	out := make([]waterfall.Row, 0, len(byInstallment))
	aggs := make([]*agg, 0, len(byInstallment))
	for _, a := range byInstallment {
		aggs = append(aggs, a)
	}
	sort.Slice(aggs, func(i, j int) bool { return aggs[i].first < aggs[j].first })
	for _, a := range aggs {
		out = append(out, a.row)
	}
	return out
}

// DebtorSituation builds the unified debt view: one row per installment
// still carrying debt or credit, with the per-quota decomposition used by
// the client tooltip. Amounts are cents; display strings are localized.
func (s *Service) DebtorSituation(ctx context.Context, condominiumID, debtorID, unitID int64) ([]SituationRow, error) {
	rows, err := s.repo.ListOutstandingQuotas(ctx, condominiumID, debtorID, unitID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []SituationRow{}, nil
	}

	now := s.now()
	grouped := groupByInstallment(rows)
	out := make([]SituationRow, 0, len(grouped))

	for _, group := range grouped {
		first := group[0]
		var total, paid money.Cents
		for _, r := range group {
			total += r.Quota.Amount
			paid += r.Quota.AmountPaid
		}
		residual := total - paid
		if residual.Abs() < money.Tolerance {
			continue
		}

		breakdown := make([]QuotaBreakdown, 0, len(group))
		for _, r := range group {
			bd, err := s.quotaBreakdown(ctx, condominiumID, r, r.Quota.ID == first.Quota.ID)
			if err != nil {
				return nil, err
			}
			breakdown = append(breakdown, bd)
		}

		emitted := false
		for _, r := range group {
			if r.Quota.EntryID != nil {
				emitted = true
				break
			}
		}

		out = append(out, SituationRow{
			InstallmentID:   first.InstallmentID,
			Description:     first.Description,
			DueDate:         first.DueDate,
			DueDateDisplay:  first.DueDate.Format("02/01/2006"),
			Total:           total,
			Residual:        residual,
			ResidualDisplay: money.FormatEUR(residual),
			IsCredit:        residual.IsCredit(),
			Overdue:         first.DueDate.Before(now),
			Emitted:         emitted,
			UnitLabels:      joinUnitLabels(group),
			DebtorName:      first.DebtorName,
			Quotas:          breakdown,
		})
	}
	return out, nil
}

// quotaBreakdown decomposes a quota's residual into balance and expense
// components, from the snapshot when present, otherwise reconstructed the
// way pre-snapshot ledgers were explained.
func (s *Service) quotaBreakdown(ctx context.Context, condominiumID int64, r DebtorRow, firstOfGroup bool) (QuotaBreakdown, error) {
	residual := r.Quota.Residual()
	bd := QuotaBreakdown{
		UnitLabel:       unitLabel(r),
		Residual:        residual,
		ResidualDisplay: money.FormatEUR(residual),
		IsCredit:        residual.IsCredit(),
	}

	snap, err := DecodeSnapshot(r.RawSnapshot)
	if err != nil {
		return QuotaBreakdown{}, fmt.Errorf("billing: decode snapshot of quota %d: %w", r.Quota.ID, err)
	}
	if snap != nil {
		bd.BalanceComponent = snap.Amounts.AppliedBalance
		bd.ExpenseComponent = snap.Amounts.PureShare
		return bd, nil
	}

	balance, err := s.repo.SumInitialBalance(ctx, condominiumID, r.Quota.DebtorID, r.DueDate)
	if err != nil {
		return QuotaBreakdown{}, err
	}
	bd.BalanceComponent, bd.ExpenseComponent = ReconstructComponents(
		residual, firstOfGroup, r.PlanMethod, r.Sequence, r.PlanCount, balance,
	)
	return bd, nil
}

func groupByInstallment(rows []DebtorRow) [][]DebtorRow {
	byID := make(map[int64][]DebtorRow)
	var order []int64
	for _, r := range rows {
		if _, ok := byID[r.InstallmentID]; !ok {
			order = append(order, r.InstallmentID)
		}
		byID[r.InstallmentID] = append(byID[r.InstallmentID], r)
	}
	out := make([][]DebtorRow, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

func unitLabel(r DebtorRow) string {
	if r.UnitLabel == "" {
		return "Generico"
	}
	return r.UnitLabel
}

func joinUnitLabels(group []DebtorRow) string {
	seen := make(map[string]struct{}, len(group))
	var out string
	for _, r := range group {
		label := unitLabel(r)
		if _, ok := seen[label]; ok {
			continue
		}
		seen[label] = struct{}{}
		if out != "" {
			out += ", "
		}
		out += label
	}
	return out
}

// OutstandingInstallments maps a debtor's open positions to allocation
// rows, one per installment. Credit rows stay in: they lower the total
// owed even though nothing can be allocated to them.
func (s *Service) OutstandingInstallments(ctx context.Context, condominiumID, debtorID, unitID int64) ([]allocation.Outstanding, error) {
	rows, err := s.repo.ListOutstandingQuotas(ctx, condominiumID, debtorID, unitID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	out := make([]allocation.Outstanding, 0)
	for _, group := range groupByInstallment(rows) {
		first := group[0]
		var residual money.Cents
		for _, r := range group {
			residual += r.Quota.Residual()
		}
		if residual == 0 {
			continue
		}
		out = append(out, allocation.Outstanding{
			ID:       first.InstallmentID,
			GroupID:  first.PlanID,
			Residual: residual,
			DueDate:  first.DueDate.Format("2006-01-02"),
			Overdue:  first.DueDate.Before(now),
		})
	}
	return out, nil
}

// Payment registration errors.
var (
	ErrInvalidPaymentAmount = errors.New("billing: payment amount must be positive")
	ErrNoAllocations        = errors.New("billing: payment requires at least one allocation")
	ErrDuplicatePayment     = errors.New("billing: payment already registered")
)

// RegisterPayment books a collected amount against installments, updating
// quota amount_paid rows, writing the payment with its allocations, and
// closing the linked verification task in the same transaction.
func (s *Service) RegisterPayment(ctx context.Context, input RegisterPaymentInput) (*Payment, error) {
	if input.Amount <= 0 {
		return nil, ErrInvalidPaymentAmount
	}
	if len(input.Allocations) == 0 {
		return nil, ErrNoAllocations
	}

	if input.IdempotencyKey != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, input.IdempotencyKey, "billing.payment"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return nil, ErrDuplicatePayment
			}
			return nil, err
		}
	}

	now := s.now()
	payment := Payment{
		Number:        uuid.NewString(),
		CondominiumID: input.CondominiumID,
		DebtorID:      input.DebtorID,
		Amount:        input.Amount,
		Method:        input.Method,
		Note:          input.Note,
		PaidAt:        input.PaidAt,
		Status:        PaymentRegistered,
		Actor:         actorOrSystem(input.Actor),
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = now
	}

	err := s.repo.WithPayment(ctx, func(w PaymentWriter) error {
		paymentID, err := w.CreatePayment(ctx, payment)
		if err != nil {
			return err
		}
		payment.ID = paymentID

		installmentIDs := sortedKeys(input.Allocations)
		for _, instID := range installmentIDs {
			amount := input.Allocations[instID]
			if amount <= 0 {
				continue
			}
			quotas, err := w.LockInstallmentQuotas(ctx, instID)
			if err != nil {
				return err
			}
			remaining := amount
			for _, q := range quotas {
				if remaining <= 0 {
					break
				}
				residual := q.Residual()
				if residual <= 0 {
					continue
				}
				book := money.Min(remaining, residual)
				if err := w.AddQuotaPayment(ctx, q.ID, book, paymentID); err != nil {
					return err
				}
				if err := w.CreateAllocation(ctx, paymentID, q.ID, book); err != nil {
					return err
				}
				remaining -= book
			}
		}

		if input.RelatedTaskID != 0 {
			declarationID, err := w.CloseVerificationTask(ctx, input.RelatedTaskID, now)
			if err != nil {
				return err
			}
			if declarationID != 0 {
				if err := w.MarkDeclarationPaid(ctx, declarationID, input.Amount); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		if input.IdempotencyKey != "" && s.idempotency != nil {
			_ = s.idempotency.Delete(ctx, input.IdempotencyKey)
		}
		return nil, err
	}

	s.recordAudit(ctx, "billing.payment.register", "payment", payment.ID, map[string]any{
		"debtor_id":    payment.DebtorID,
		"amount_cents": int64(payment.Amount),
		"method":       payment.Method,
	})
	return &payment, nil
}

// ReversePayment undoes a registered payment, restoring every quota's
// amount_paid. Refuses when already reversed.
func (s *Service) ReversePayment(ctx context.Context, paymentID int64) error {
	now := s.now()
	err := s.repo.WithPayment(ctx, func(w PaymentWriter) error {
		payment, allocations, err := w.LockPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		if payment.Status == PaymentReversed {
			return ErrPaymentReversed
		}
		if err := w.ReversePayment(ctx, paymentID, now); err != nil {
			return err
		}
		for _, a := range allocations {
			if err := w.SubtractQuotaPayment(ctx, a.QuotaID, a.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.recordAudit(ctx, "billing.payment.reverse", "payment", paymentID, nil)
	return nil
}

func sortedKeys(m map[int64]money.Cents) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
