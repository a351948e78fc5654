package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/mkorenev/geopay/internal/models"
	service "github.com/mkorenev/geopay/internal/services"
	pkgerrors "github.com/mkorenev/geopay/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTransferService struct {
	createSendFn func() (*models.Transaction, error)
	claimFn      func() (*models.Transaction, error)
}

func (s *stubTransferService) CreateSend(context.Context, string, uuid.UUID, string, decimal.Decimal, string, *models.GeoFence, *models.TimeRestriction, string) (*models.Transaction, error) {
	return s.createSendFn()
}

func (s *stubTransferService) CreateRequest(context.Context, string, string, decimal.Decimal, string, string) (*models.Transaction, error) {
	return nil, nil
}

func (s *stubTransferService) Claim(context.Context, uuid.UUID, string, uuid.UUID, *models.Coordinate) (*models.Transaction, error) {
	return s.claimFn()
}

func (s *stubTransferService) ApproveRequest(context.Context, uuid.UUID, string, uuid.UUID) (*models.Transaction, error) {
	return nil, nil
}

func (s *stubTransferService) DeclineRequest(context.Context, uuid.UUID, string) (*models.Transaction, error) {
	return nil, nil
}

func (s *stubTransferService) History(context.Context, string) ([]models.Transaction, error) {
	return nil, nil
}

type stubSavingsService struct {
	confirmFn func(uuid.UUID) error
}

func (s *stubSavingsService) InitiateLock(context.Context, string, uuid.UUID, decimal.Decimal, int, string) (*models.LockedSaving, string, error) {
	return nil, "", nil
}

func (s *stubSavingsService) ConfirmLock(_ context.Context, id uuid.UUID) error {
	return s.confirmFn(id)
}

func (s *stubSavingsService) Withdraw(context.Context, string, uuid.UUID) (*service.WithdrawResult, error) {
	return nil, nil
}

func (s *stubSavingsService) ListByAccount(context.Context, string, uuid.UUID) ([]models.LockedSaving, error) {
	return nil, nil
}

func claimRouter(transfers service.TransferService) *mux.Router {
	h := NewHandler(transfers, nil, nil)
	r := mux.NewRouter()
	h.RegisterProtectedRoutes(r)
	return r
}

func TestClaimErrorKinds(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantKind   string
	}{
		{"expired", pkgerrors.ErrExpired, http.StatusGone, "EXPIRED"},
		{"outside fence", pkgerrors.ErrOutsideFence, http.StatusForbidden, "OUTSIDE_FENCE"},
		{"location required", pkgerrors.ErrLocationRequired, http.StatusBadRequest, "LOCATION_REQUIRED"},
		{"not claimable", pkgerrors.ErrNotClaimable, http.StatusConflict, "NOT_CLAIMABLE"},
		{"insufficient funds", pkgerrors.ErrInsufficientFunds, http.StatusBadRequest, "INSUFFICIENT_FUNDS"},
		{"balance locked", pkgerrors.ErrBalanceLocked, http.StatusConflict, "BALANCE_LOCKED"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transfers := &stubTransferService{claimFn: func() (*models.Transaction, error) {
				return nil, fmt.Errorf("%w: details", tc.err)
			}}
			router := claimRouter(transfers)

			body := bytes.NewBufferString(fmt.Sprintf(`{"destination_account_id":%q}`, uuid.New()))
			req := httptest.NewRequest("POST", "/transfers/"+uuid.NewString()+"/claim", body)
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tc.wantStatus, rec.Code)
			var resp errorResponse
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
			assert.Equal(t, tc.wantKind, resp.Kind)
		})
	}
}

func TestClaimReturnsSettledTransaction(t *testing.T) {
	txID := uuid.New()
	transfers := &stubTransferService{claimFn: func() (*models.Transaction, error) {
		return &models.Transaction{ID: txID, Type: models.TypeSend, Status: models.StatusCompleted}, nil
	}}
	router := claimRouter(transfers)

	body := bytes.NewBufferString(fmt.Sprintf(`{"destination_account_id":%q,"coordinates":{"latitude":55.75,"longitude":37.62}}`, uuid.New()))
	req := httptest.NewRequest("POST", "/transfers/"+txID.String()+"/claim", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var tx models.Transaction
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&tx))
	assert.Equal(t, txID, tx.ID)
	assert.Equal(t, models.StatusCompleted, tx.Status)
}

func TestCreateSendRequiresRequestID(t *testing.T) {
	called := false
	transfers := &stubTransferService{createSendFn: func() (*models.Transaction, error) {
		called = true
		return nil, nil
	}}
	router := claimRouter(transfers)

	body := bytes.NewBufferString(`{"recipient_identity":"bob","amount":"10"}`)
	req := httptest.NewRequest("POST", "/transfers", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.False(t, called)
}

func TestClaimMalformedIDRejected(t *testing.T) {
	router := claimRouter(&stubTransferService{})

	req := httptest.NewRequest("POST", "/transfers/not-a-uuid/claim", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestProviderConfirmationIgnoresNonConfirmed(t *testing.T) {
	confirmed := false
	savings := &stubSavingsService{confirmFn: func(uuid.UUID) error {
		confirmed = true
		return nil
	}}
	h := NewHandler(nil, savings, nil)
	router := mux.NewRouter()
	h.RegisterPublicRoutes(router)

	body := bytes.NewBufferString(fmt.Sprintf(`{"locked_saving_id":%q,"status":"rejected"}`, uuid.New()))
	req := httptest.NewRequest("POST", "/provider/confirmations", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, confirmed)
}

func TestProviderConfirmationAppliesConfirmed(t *testing.T) {
	var got uuid.UUID
	savings := &stubSavingsService{confirmFn: func(id uuid.UUID) error {
		got = id
		return nil
	}}
	h := NewHandler(nil, savings, nil)
	router := mux.NewRouter()
	h.RegisterPublicRoutes(router)

	id := uuid.New()
	body := bytes.NewBufferString(fmt.Sprintf(`{"locked_saving_id":%q,"status":"confirmed"}`, id))
	req := httptest.NewRequest("POST", "/provider/confirmations", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, id, got)
}
