package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mkorenev/geopay/internal/infrastructure/auth"
	"github.com/mkorenev/geopay/internal/models"
	service "github.com/mkorenev/geopay/internal/services"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
)

type Handler struct {
	transfers service.TransferService
	savings   service.SavingsService
	accounts  service.AccountService
}

func NewHandler(transfers service.TransferService, savings service.SavingsService, accounts service.AccountService) *Handler {
	return &Handler{transfers: transfers, savings: savings, accounts: accounts}
}

// errorResponse carries a stable kind for callers to branch on plus the
// human-readable detail. Clients never parse the detail text.
type errorResponse struct {
	Kind  string `json:"kind"`
	Error string `json:"error"`
}

var errorKinds = []struct {
	err    error
	kind   string
	status int
}{
	{pkgerrors.ErrInvalidInput, "INVALID_INPUT", http.StatusBadRequest},
	{pkgerrors.ErrInvalidAmount, "INVALID_INPUT", http.StatusBadRequest},
	{pkgerrors.ErrInvalidPeriod, "INVALID_PERIOD", http.StatusBadRequest},
	{pkgerrors.ErrConfiguration, "CONFIGURATION_ERROR", http.StatusBadRequest},
	{pkgerrors.ErrInsufficientFunds, "INSUFFICIENT_FUNDS", http.StatusBadRequest},
	{pkgerrors.ErrLocationRequired, "LOCATION_REQUIRED", http.StatusBadRequest},
	{pkgerrors.ErrOutsideFence, "OUTSIDE_FENCE", http.StatusForbidden},
	{pkgerrors.ErrInvalidAccount, "INVALID_ACCOUNT", http.StatusNotFound},
	{pkgerrors.ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{pkgerrors.ErrNotClaimable, "NOT_CLAIMABLE", http.StatusConflict},
	{pkgerrors.ErrRequestAlreadyProcessed, "REQUEST_ALREADY_PROCESSED", http.StatusConflict},
	{pkgerrors.ErrBalanceLocked, "BALANCE_LOCKED", http.StatusConflict},
	{pkgerrors.ErrLockNotActive, "LOCK_NOT_ACTIVE", http.StatusConflict},
	{pkgerrors.ErrAccountHasActiveLocks, "ACCOUNT_HAS_ACTIVE_LOCKS", http.StatusConflict},
	{pkgerrors.ErrExpired, "EXPIRED", http.StatusGone},
	{pkgerrors.ErrProviderFailure, "PROVIDER_ERROR", http.StatusBadGateway},
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	kind, status := "INTERNAL", http.StatusInternalServerError
	for _, e := range errorKinds {
		if errors.Is(err, e.err) {
			kind, status = e.kind, e.status
			break
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorResponse{Kind: kind, Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func pathID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/provider/confirmations", h.ProviderConfirmation).Methods("POST")
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/accounts", h.ConnectAccount).Methods("POST")
	r.HandleFunc("/accounts/{id}", h.GetAccount).Methods("GET")
	r.HandleFunc("/accounts/{id}", h.DeleteAccount).Methods("DELETE")
	r.HandleFunc("/accounts/{id}/refresh", h.RefreshBalance).Methods("POST")
	r.HandleFunc("/accounts/{id}/savings", h.ListSavings).Methods("GET")
	r.HandleFunc("/transfers", h.CreateSend).Methods("POST")
	r.HandleFunc("/transfers/{id}/claim", h.Claim).Methods("POST")
	r.HandleFunc("/requests", h.CreateRequest).Methods("POST")
	r.HandleFunc("/requests/{id}/approve", h.ApproveRequest).Methods("POST")
	r.HandleFunc("/requests/{id}/decline", h.DeclineRequest).Methods("POST")
	r.HandleFunc("/transactions", h.History).Methods("GET")
	r.HandleFunc("/savings", h.InitiateLock).Methods("POST")
	r.HandleFunc("/savings/{id}/withdraw", h.Withdraw).Methods("POST")
}

func (h *Handler) ConnectAccount(w http.ResponseWriter, r *http.Request) {
	identity := auth.CallerIdentity(r.Context())
	account, err := h.accounts.Connect(r.Context(), identity)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	account, err := h.accounts.Get(r.Context(), auth.CallerIdentity(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) RefreshBalance(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	account, err := h.accounts.RefreshBalance(r.Context(), auth.CallerIdentity(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if err := h.accounts.Delete(r.Context(), auth.CallerIdentity(r.Context()), id); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CreateSend(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SenderAccountID   uuid.UUID               `json:"sender_account_id"`
		RecipientIdentity string                  `json:"recipient_identity"`
		Amount            decimal.Decimal         `json:"amount"`
		Description       string                  `json:"description"`
		Fence             *models.GeoFence        `json:"fence,omitempty"`
		Restriction       *models.TimeRestriction `json:"restriction,omitempty"`
		RequestID         string                  `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if req.RequestID == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.transfers.CreateSend(r.Context(), auth.CallerIdentity(r.Context()),
		req.SenderAccountID, req.RecipientIdentity, req.Amount, req.Description,
		req.Fence, req.Restriction, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PayerIdentity string          `json:"payer_identity"`
		Amount        decimal.Decimal `json:"amount"`
		Description   string          `json:"description"`
		RequestID     string          `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if req.RequestID == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.transfers.CreateRequest(r.Context(), auth.CallerIdentity(r.Context()),
		req.PayerIdentity, req.Amount, req.Description, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tx)
}

func (h *Handler) Claim(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	var req struct {
		DestinationAccountID uuid.UUID          `json:"destination_account_id"`
		Coordinates          *models.Coordinate `json:"coordinates,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.transfers.Claim(r.Context(), id, auth.CallerIdentity(r.Context()),
		req.DestinationAccountID, req.Coordinates)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) ApproveRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	var req struct {
		PayerAccountID uuid.UUID `json:"payer_account_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	tx, err := h.transfers.ApproveRequest(r.Context(), id, auth.CallerIdentity(r.Context()), req.PayerAccountID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) DeclineRequest(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	tx, err := h.transfers.DeclineRequest(r.Context(), id, auth.CallerIdentity(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	txs, err := h.transfers.History(r.Context(), auth.CallerIdentity(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	if txs == nil {
		txs = []models.Transaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

func (h *Handler) InitiateLock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID    uuid.UUID       `json:"account_id"`
		Amount       decimal.Decimal `json:"amount"`
		PeriodMonths int             `json:"period_months"`
		RequestID    string          `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if req.RequestID == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	saving, approvalRef, err := h.savings.InitiateLock(r.Context(), auth.CallerIdentity(r.Context()),
		req.AccountID, req.Amount, req.PeriodMonths, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"saving":       saving,
		"approval_ref": approvalRef,
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	result, err := h.savings.Withdraw(r.Context(), auth.CallerIdentity(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"saving":  result.Saving,
		"payout":  result.Payout,
		"penalty": result.Penalty,
	})
}

func (h *Handler) ListSavings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	savings, err := h.savings.ListByAccount(r.Context(), auth.CallerIdentity(r.Context()), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if savings == nil {
		savings = []models.LockedSaving{}
	}
	writeJSON(w, http.StatusOK, savings)
}

// ProviderConfirmation is the webhook form of the capture confirmation; the
// Kafka consumer is the other delivery path for the same transition.
func (h *Handler) ProviderConfirmation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		LockedSavingID uuid.UUID `json:"locked_saving_id"`
		Status         string    `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if req.Status != "confirmed" {
		writeJSON(w, http.StatusOK, map[string]string{"result": "ignored"})
		return
	}

	if err := h.savings.ConfirmLock(r.Context(), req.LockedSavingID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "confirmed"})
}
