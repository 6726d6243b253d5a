package billing

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

func newTestRouter(repo *memoryBillingRepo) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(logger, newTestService(repo))
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestPreviewPaymentManualOverCommitKeepsConservation(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	router := newTestRouter(repo)

	// The manual map commits 8000 against a declared amount of 2000;
	// the map wins and the declared amount is resized to it.
	body := `{
		"condominium_id": 10,
		"debtor_id": 100,
		"amount_cents": 2000,
		"mode": "manual",
		"manual": {"10": 8000}
	}`
	req := httptest.NewRequest(http.MethodPost, "/payments/preview", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Allocations []struct {
			InstallmentID int64 `json:"installment_id"`
			Allocated     int64 `json:"allocated"`
		} `json:"allocations"`
		Excess int64 `json:"excess"`
		Amount int64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	require.Equal(t, int64(8000), resp.Amount)
	require.Len(t, resp.Allocations, 1)
	require.Equal(t, int64(5000), resp.Allocations[0].Allocated)
	require.Equal(t, int64(3000), resp.Excess)

	var allocated int64
	for _, a := range resp.Allocations {
		allocated += a.Allocated
	}
	require.Equal(t, resp.Amount, allocated+resp.Excess)
}

func TestPreviewPaymentManualWithinAmount(t *testing.T) {
	repo := newMemoryBillingRepo()
	due := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	seedQuotaRow(repo, 1, 10, 1, 5000, 0, due)
	router := newTestRouter(repo)

	body := `{
		"condominium_id": 10,
		"debtor_id": 100,
		"amount_cents": 6000,
		"mode": "manual",
		"manual": {"10": 4000}
	}`
	req := httptest.NewRequest(http.MethodPost, "/payments/preview", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Excess int64 `json:"excess"`
		Amount int64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	// Declared amount already covers the map; it is left untouched.
	require.Equal(t, int64(6000), resp.Amount)
	require.Equal(t, int64(2000), resp.Excess)
}
