package inbox

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/attico-hq/attico/internal/money"
	"github.com/attico-hq/attico/internal/platform/httpx"
)

// Handler manages payment reporting endpoints.
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

// MountRoutes registers inbox routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/declarations", h.reportPayment)
	r.Get("/condominiums/{condominiumID}/debtors/{debtorID}/declarations", h.listDeclarations)
	r.Post("/declarations/{declarationID}/reject", h.rejectDeclaration)
	r.Get("/condominiums/{condominiumID}/events", h.listEvents)
}

type reportRequest struct {
	CondominiumID int64  `json:"condominium_id" validate:"required,gt=0"`
	DebtorID      int64  `json:"debtor_id" validate:"required,gt=0"`
	InstallmentID int64  `json:"installment_id" validate:"gte=0"`
	AmountCents   int64  `json:"amount_cents" validate:"required,gt=0"`
	Method        string `json:"method" validate:"required,oneof=bank_transfer cash check card other"`
	Note          string `json:"note" validate:"max=500"`
	PaidOn        string `json:"paid_on" validate:"omitempty,datetime=2006-01-02"`
}

func (h *Handler) reportPayment(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	var paidOn time.Time
	if req.PaidOn != "" {
		paidOn, _ = time.Parse("2006-01-02", req.PaidOn)
	}

	decl, err := h.service.ReportPayment(r.Context(), ReportInput{
		CondominiumID: req.CondominiumID,
		DebtorID:      req.DebtorID,
		InstallmentID: req.InstallmentID,
		Amount:        money.Cents(req.AmountCents),
		Method:        req.Method,
		Note:          req.Note,
		PaidOn:        paidOn,
	})
	if err != nil {
		h.respondServiceError(w, err, "report payment")
		return
	}
	httpx.JSON(w, http.StatusCreated, decl)
}

func (h *Handler) listDeclarations(w http.ResponseWriter, r *http.Request) {
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

	declarations, err := h.service.Declarations(r.Context(), condominiumID, debtorID)
	if err != nil {
		h.respondServiceError(w, err, "list declarations")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"declarations": declarations})
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) rejectDeclaration(w http.ResponseWriter, r *http.Request) {
	declarationID, err := pathID(r, "declarationID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid declaration id")
		return
	}

	var req rejectRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "malformed request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	if err := h.service.Reject(r.Context(), declarationID, req.Reason); err != nil {
		h.respondServiceError(w, err, "reject declaration")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	condominiumID, err := pathID(r, "condominiumID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid condominium id")
		return
	}

	events, err := h.service.OpenEvents(r.Context(), condominiumID)
	if err != nil {
		h.respondServiceError(w, err, "list events")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrAlreadyPaid) || errors.Is(err, ErrAlreadyReported):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrReasonRequired):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
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
