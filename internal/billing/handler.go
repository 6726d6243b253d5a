package billing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/attico-hq/attico/internal/allocation"
	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/platform/httpx"
	"github.com/attico-hq/attico/internal/shared"
	"github.com/attico-hq/attico/internal/waterfall"
)

// Handler manages billing endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// MountRoutes registers billing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/plans/{planID}/generate", h.generatePlan)
	r.Get("/condominiums/{condominiumID}/debtors/{debtorID}/situation", h.debtorSituation)
	r.Post("/payments/preview", h.previewPayment)
	r.Post("/payments", h.registerPayment)
	r.Post("/payments/{paymentID}/reverse", h.reversePayment)
}

type totalEntry struct {
	DebtorID    int64 `json:"debtor_id" validate:"required,gt=0"`
	UnitID      int64 `json:"unit_id" validate:"gte=0"`
	AmountCents int64 `json:"amount_cents"`
}

type generateRequest struct {
	DueDates        []string     `json:"due_dates" validate:"required,min=1,dive,datetime=2006-01-02"`
	Totals          []totalEntry `json:"totals" validate:"required,min=1,dive"`
	InitialBalances []totalEntry `json:"initial_balances" validate:"dive"`
}

type generateResponse struct {
	InstallmentsCreated  int   `json:"installments_created"`
	QuotasCreated        int   `json:"quotas_created"`
	TotalAmountGenerated int64 `json:"total_amount_generated"`
}

func (h *Handler) generatePlan(w http.ResponseWriter, r *http.Request) {
	planID, err := pathID(r, "planID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid plan id")
		return
	}

	var req generateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	dueDates := make([]time.Time, 0, len(req.DueDates))
	for _, raw := range req.DueDates {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid due date: "+raw)
			return
		}
		dueDates = append(dueDates, d)
	}

	result, err := h.service.GeneratePlanInstallments(r.Context(), planID, GenerateRequest{
		PerUnitTotals:   nestEntries(req.Totals),
		DueDates:        dueDates,
		InitialBalances: nestEntries(req.InitialBalances),
	})
	if err != nil {
		h.respondServiceError(w, r, err, "generate plan", planID)
		return
	}

	httpx.JSON(w, http.StatusCreated, generateResponse{
		InstallmentsCreated:  result.InstallmentsCreated,
		QuotasCreated:        result.QuotasCreated,
		TotalAmountGenerated: int64(result.TotalAmountGenerated),
	})
}

func nestEntries(entries []totalEntry) map[int64]map[int64]money.Cents {
	if len(entries) == 0 {
		return nil
	}
	out := make(map[int64]map[int64]money.Cents)
	for _, e := range entries {
		if out[e.DebtorID] == nil {
			out[e.DebtorID] = make(map[int64]money.Cents)
		}
		out[e.DebtorID][e.UnitID] += money.Cents(e.AmountCents)
	}
	return out
}

type situationEntry struct {
	SituationRow
	RemainingAmount *int64 `json:"remaining_amount,omitempty"`
	CoveredByCredit *bool  `json:"covered_by_credit,omitempty"`
	ArrearsBefore   *int64 `json:"arrears_before,omitempty"`
	UnpaidRefs      string `json:"unpaid_refs,omitempty"`
	PriorCreditUsed *int64 `json:"prior_credit_used,omitempty"`
}

// debtorSituation returns the unified debt view of one debtor, each row
// annotated with the credit-carry outcome of the full history.
func (h *Handler) debtorSituation(w http.ResponseWriter, r *http.Request) {
	condominiumID, err := pathID(r, "condominiumID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid condominium id")
		return
	}
	debtorID, err := pathID(r, "debtorID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid debtor id")
		return
	}
	var unitID int64
	if raw := r.URL.Query().Get("unit_id"); raw != "" {
		unitID, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid unit id")
			return
		}
	}

	rows, err := h.service.DebtorSituation(r.Context(), condominiumID, debtorID, unitID)
	if err != nil {
		h.respondServiceError(w, r, err, "debtor situation", debtorID)
		return
	}

	results, err := h.service.ComputeWaterfall(r.Context(), condominiumID, debtorID)
	if err != nil {
		h.respondServiceError(w, r, err, "debtor waterfall", debtorID)
		return
	}

	entries := make([]situationEntry, 0, len(rows))
	for _, row := range rows {
		entry := situationEntry{SituationRow: row}
		if ann, ok := waterfall.Annotate(results, row.InstallmentID); ok {
			entry.RemainingAmount = ptrInt64(int64(ann.RemainingAmount))
			entry.CoveredByCredit = &ann.CoveredByCredit
			entry.ArrearsBefore = ptrInt64(int64(ann.ArrearsBefore))
			entry.UnpaidRefs = ann.UnpaidRefs
			entry.PriorCreditUsed = ptrInt64(int64(ann.PriorCreditUsed))
		}
		entries = append(entries, entry)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"rows": entries})
}

type previewRequest struct {
	CondominiumID int64            `json:"condominium_id" validate:"required,gt=0"`
	DebtorID      int64            `json:"debtor_id" validate:"gte=0"`
	UnitID        int64            `json:"unit_id" validate:"gte=0"`
	AmountCents   int64            `json:"amount_cents" validate:"gte=0"`
	Mode          string           `json:"mode" validate:"omitempty,oneof=automatic manual"`
	Manual        map[string]int64 `json:"manual"`
	PriorityID    int64            `json:"priority_id"`
	Preset        string           `json:"preset" validate:"omitempty,oneof=pay_all pay_overdue"`
}

type previewAllocation struct {
	InstallmentID int64  `json:"installment_id"`
	Allocated     int64  `json:"allocated"`
	Residual      int64  `json:"residual"`
	Status        string `json:"status"`
}

type previewResponse struct {
	Allocations    []previewAllocation `json:"allocations"`
	Excess         int64               `json:"excess"`
	TotalDebt      int64               `json:"total_debt"`
	Balance        int64               `json:"balance"`
	BalanceDisplay string              `json:"balance_display"`
	BalanceKind    string              `json:"balance_kind"`
	Amount         int64               `json:"amount"`
}

// previewPayment runs the distribution engine without persisting anything.
// Presets override both amount and manual rows.
func (h *Handler) previewPayment(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	outstanding, err := h.service.OutstandingInstallments(r.Context(), req.CondominiumID, req.DebtorID, req.UnitID)
	if err != nil {
		h.respondServiceError(w, r, err, "outstanding installments", req.DebtorID)
		return
	}

	alloc := allocation.Request{
		Outstanding: outstanding,
		Amount:      money.Cents(req.AmountCents),
		Mode:        allocation.Mode(req.Mode),
		PriorityID:  req.PriorityID,
	}
	if alloc.Mode == "" {
		alloc.Mode = allocation.ModeAutomatic
	}

	switch req.Preset {
	case "pay_all":
		manual, total := allocation.PayAll(outstanding)
		alloc.Mode = allocation.ModeManual
		alloc.Manual = manual
		alloc.Amount = total
	case "pay_overdue":
		manual, total := allocation.PayOverdue(outstanding)
		alloc.Mode = allocation.ModeManual
		alloc.Manual = manual
		alloc.Amount = total
	default:
		if alloc.Mode == allocation.ModeManual {
			alloc.Manual = make(map[int64]money.Cents, len(req.Manual))
			var manualTotal money.Cents
			for k, v := range req.Manual {
				id, err := strconv.ParseInt(k, 10, 64)
				if err != nil {
					httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid installment id: "+k)
					return
				}
				alloc.Manual[id] = money.Cents(v)
				if v > 0 {
					manualTotal += money.Cents(v)
				}
			}
			// A manual map committing more than the declared amount
			// wins, same sizing rule as the presets above. Keeps
			// Σ allocated + excess == amount on the response.
			if manualTotal > alloc.Amount {
				alloc.Amount = manualTotal
			}
		}
	}

	result := allocation.Allocate(alloc)

	resp := previewResponse{
		Allocations:    make([]previewAllocation, 0, len(result.Allocations)),
		Excess:         int64(result.Excess),
		TotalDebt:      int64(result.TotalDebt),
		Balance:        int64(result.Balance),
		BalanceDisplay: money.FormatEUR(result.Balance.Abs()),
		BalanceKind:    string(result.BalanceKind),
		Amount:         int64(alloc.Amount),
	}
	for _, a := range result.Allocations {
		resp.Allocations = append(resp.Allocations, previewAllocation{
			InstallmentID: a.ID,
			Allocated:     int64(a.Allocated),
			Residual:      int64(a.Residual),
			Status:        string(a.Status),
		})
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type registerPaymentRequest struct {
	CondominiumID int64            `json:"condominium_id" validate:"required,gt=0"`
	DebtorID      int64            `json:"debtor_id" validate:"required,gt=0"`
	AmountCents   int64            `json:"amount_cents" validate:"required,gt=0"`
	Method        string           `json:"method" validate:"required,oneof=bank_transfer cash check card other"`
	Note          string           `json:"note" validate:"max=500"`
	PaidAt        string           `json:"paid_at" validate:"omitempty,datetime=2006-01-02"`
	Allocations   map[string]int64 `json:"allocations" validate:"required,min=1"`
	RelatedTaskID int64            `json:"related_task_id" validate:"gte=0"`
}

type paymentResponse struct {
	ID     int64  `json:"id"`
	Number string `json:"number"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

func (h *Handler) registerPayment(w http.ResponseWriter, r *http.Request) {
	var req registerPaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	allocations := make(map[int64]money.Cents, len(req.Allocations))
	for k, v := range req.Allocations {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid installment id: "+k)
			return
		}
		allocations[id] = money.Cents(v)
	}

	var paidAt time.Time
	if req.PaidAt != "" {
		paidAt, _ = time.Parse("2006-01-02", req.PaidAt)
	}

	payment, err := h.service.RegisterPayment(r.Context(), RegisterPaymentInput{
		CondominiumID:  req.CondominiumID,
		DebtorID:       req.DebtorID,
		Amount:         money.Cents(req.AmountCents),
		Method:         req.Method,
		Note:           req.Note,
		PaidAt:         paidAt,
		Allocations:    allocations,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
		RelatedTaskID:  req.RelatedTaskID,
		Actor:          shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondServiceError(w, r, err, "register payment", req.DebtorID)
		return
	}

	httpx.JSON(w, http.StatusCreated, paymentResponse{
		ID:     payment.ID,
		Number: payment.Number,
		Amount: int64(payment.Amount),
		Status: string(payment.Status),
	})
}

func (h *Handler) reversePayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := pathID(r, "paymentID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid payment id")
		return
	}

	if err := h.service.ReversePayment(r.Context(), paymentID); err != nil {
		h.respondServiceError(w, r, err, "reverse payment", paymentID)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string, id int64) {
	switch {
	case errors.Is(err, ErrUnknownPlan) || errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrPlanAlreadyBuilt) || errors.Is(err, ErrDuplicatePayment) || errors.Is(err, ErrPaymentReversed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrGenerationLocked):
		httpx.Problem(w, http.StatusConflict, "Locked", err.Error())
	case errors.Is(err, ErrNoInstallments) || errors.Is(err, ErrDueDateMismatch) ||
		errors.Is(err, ErrInvalidDistribute) || errors.Is(err, ErrInvalidPaymentAmount) ||
		errors.Is(err, ErrNoAllocations):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err), slog.Int64("id", id))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("invalid id")
	}
	return id, nil
}

func ptrInt64(v int64) *int64 { return &v }
