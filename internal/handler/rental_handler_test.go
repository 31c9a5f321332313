package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"otp-service/internal/auth"
	"otp-service/internal/domain"
	"otp-service/internal/errors"
	"otp-service/internal/fivesim"
	"otp-service/internal/service"
)

// stubStore backs the handlers with just enough state for HTTP-level tests;
// the lifecycle itself is covered in the service package.
type stubStore struct {
	user   *domain.User
	rental *domain.PhoneRental
}

func (s *stubStore) Users() domain.UserRepository     { return (*stubUserRepo)(s) }
func (s *stubStore) Rentals() domain.RentalRepository { return (*stubRentalRepo)(s) }
func (s *stubStore) WithTransaction(fn func(domain.Store) error) error {
	userBefore := *s.user
	var rentalBefore *domain.PhoneRental
	if s.rental != nil {
		copied := *s.rental
		rentalBefore = &copied
	}
	if err := fn(s); err != nil {
		*s.user = userBefore
		s.rental = rentalBefore
		return err
	}
	return nil
}

type stubUserRepo stubStore

func (s *stubUserRepo) CreateUser(user *domain.User) error { return nil }
func (s *stubUserRepo) GetUserByID(id uuid.UUID) (*domain.User, error) {
	if s.user != nil && s.user.ID == id {
		return s.user, nil
	}
	return nil, nil
}
func (s *stubUserRepo) GetUserByEmail(email string) (*domain.User, error) { return nil, nil }
func (s *stubUserRepo) Debit(id uuid.UUID, amount decimal.Decimal) error {
	if s.user.Balance.LessThan(amount) {
		return errors.ErrInsufficientFunds
	}
	s.user.Balance = s.user.Balance.Sub(amount)
	return nil
}
func (s *stubUserRepo) Credit(id uuid.UUID, amount decimal.Decimal) error {
	s.user.Balance = s.user.Balance.Add(amount)
	return nil
}

type stubRentalRepo stubStore

func (s *stubRentalRepo) CreateRental(rental *domain.PhoneRental) error {
	copied := *rental
	s.rental = &copied
	return nil
}
func (s *stubRentalRepo) GetOwnedRental(userID, id uuid.UUID) (*domain.PhoneRental, error) {
	if s.rental == nil || s.rental.ID != id || s.rental.UserID != userID {
		return nil, errors.ErrRentalNotFound
	}
	copied := *s.rental
	return &copied, nil
}
func (s *stubRentalRepo) RecordCheck(id uuid.UUID, status string, smsText *string, smsReceivedAt *time.Time) error {
	if s.rental == nil || domain.IsTerminalStatus(s.rental.Status) {
		return nil
	}
	s.rental.Status = status
	if smsText != nil {
		s.rental.SMSText = smsText
		s.rental.SMSReceivedAt = smsReceivedAt
	}
	return nil
}
func (s *stubRentalRepo) MarkTerminal(id uuid.UUID, status string) error {
	if domain.IsTerminalStatus(s.rental.Status) {
		return errors.ErrInvalidTransition
	}
	s.rental.Status = status
	return nil
}
func (s *stubRentalRepo) ListByUser(userID uuid.UUID, limit, offset int) ([]domain.PhoneRental, error) {
	if s.rental == nil || offset > 0 {
		return []domain.PhoneRental{}, nil
	}
	return []domain.PhoneRental{*s.rental}, nil
}
func (s *stubRentalRepo) CountByUser(userID uuid.UUID) (int64, error) {
	if s.rental == nil {
		return 0, nil
	}
	return 1, nil
}
func (s *stubRentalRepo) ListActiveByUser(userID uuid.UUID) ([]domain.PhoneRental, error) {
	return s.ListByUser(userID, 10, 0)
}

type stubProvider struct {
	buy    *fivesim.Activation
	buyErr error
	check  *fivesim.Activation
	cancel *fivesim.Activation
	finish *fivesim.Activation
}

func (p *stubProvider) Countries(ctx context.Context) (map[string]string, error) {
	return map[string]string{"russia": "Russia"}, nil
}
func (p *stubProvider) Products(ctx context.Context, country, operator string) (map[string]fivesim.Product, error) {
	return map[string]fivesim.Product{}, nil
}
func (p *stubProvider) Prices(ctx context.Context, country, product string) (fivesim.PriceTable, error) {
	return fivesim.PriceTable{}, nil
}
func (p *stubProvider) BuyActivation(ctx context.Context, country, operator, product string) (*fivesim.Activation, error) {
	return p.buy, p.buyErr
}
func (p *stubProvider) CheckActivation(ctx context.Context, providerID string) (*fivesim.Activation, error) {
	return p.check, nil
}
func (p *stubProvider) CancelActivation(ctx context.Context, providerID string) (*fivesim.Activation, error) {
	return p.cancel, nil
}
func (p *stubProvider) FinishActivation(ctx context.Context, providerID string) (*fivesim.Activation, error) {
	return p.finish, nil
}

type testEnv struct {
	router *mux.Router
	store  *stubStore
	token  string
	userID uuid.UUID
}

func newTestEnv(t *testing.T, store *stubStore, provider *stubProvider) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens := auth.NewManager("test-secret", time.Hour)
	rentalService := service.NewRentalService(store, provider, logger)

	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.Use(tokens.Middleware)

	rentalHandler := NewRentalHandler(rentalService)
	catalogHandler := NewCatalogHandler(rentalService)
	api.HandleFunc("/otp/countries", catalogHandler.Countries).Methods("GET")
	api.HandleFunc("/otp/purchase", rentalHandler.Purchase).Methods("POST")
	api.HandleFunc("/otp/check-sms/{rental_id}", rentalHandler.CheckSMS).Methods("POST")
	api.HandleFunc("/otp/cancel/{rental_id}", rentalHandler.Cancel).Methods("POST")
	api.HandleFunc("/otp/history", rentalHandler.History).Methods("GET")

	token, err := tokens.Issue(store.user.ID)
	require.NoError(t, err)

	return &testEnv{
		router: router,
		store:  store,
		token:  token,
		userID: store.user.ID,
	}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+e.token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func baseStore() *stubStore {
	return &stubStore{
		user: &domain.User{
			ID:      uuid.New(),
			Email:   "alice@example.com",
			Balance: decimal.RequireFromString("10.00"),
		},
	}
}

func TestPurchaseEndpoint(t *testing.T) {
	store := baseStore()
	provider := &stubProvider{
		buy: &fivesim.Activation{
			ID:      188290404,
			Phone:   "+79000381454",
			Product: "telegram",
			Country: "russia",
			Price:   decimal.RequireFromString("3.50"),
			Status:  "PENDING",
			Expires: time.Now().Add(15 * time.Minute),
		},
	}
	env := newTestEnv(t, store, provider)

	rec := env.do(t, http.MethodPost, "/api/otp/purchase",
		PurchaseRequest{Country: "russia", Operator: "any", Product: "telegram"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeResponse(t, rec)
	require.Nil(t, resp.Error)
	assert.True(t, store.user.Balance.Equal(decimal.RequireFromString("6.50")))
}

func TestPurchaseEndpoint_InsufficientFunds(t *testing.T) {
	store := baseStore()
	store.user.Balance = decimal.RequireFromString("2.00")
	provider := &stubProvider{
		buy: &fivesim.Activation{
			ID:      1,
			Phone:   "+79000381454",
			Price:   decimal.RequireFromString("5.00"),
			Status:  "PENDING",
			Expires: time.Now().Add(15 * time.Minute),
		},
		cancel: &fivesim.Activation{ID: 1, Status: domain.StatusCanceled},
	}
	env := newTestEnv(t, store, provider)

	rec := env.do(t, http.MethodPost, "/api/otp/purchase",
		PurchaseRequest{Country: "russia", Operator: "any", Product: "telegram"})

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "insufficient_funds", resp.Error.Code)
	assert.True(t, store.user.Balance.Equal(decimal.RequireFromString("2.00")))
}

func TestPurchaseEndpoint_MissingFields(t *testing.T) {
	env := newTestEnv(t, baseStore(), &stubProvider{})

	rec := env.do(t, http.MethodPost, "/api/otp/purchase", PurchaseRequest{Country: "russia"})

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckSMSEndpoint(t *testing.T) {
	store := baseStore()
	rentalID := uuid.New()
	store.rental = &domain.PhoneRental{
		ID:         rentalID,
		UserID:     store.user.ID,
		ProviderID: "1",
		Status:     domain.StatusPending,
		Price:      decimal.RequireFromString("3.50"),
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}
	provider := &stubProvider{
		check: &fivesim.Activation{
			Status: domain.StatusPending,
			SMS:    []fivesim.SMS{{Text: "Your code is 482913", CreatedAt: time.Now()}},
		},
	}
	env := newTestEnv(t, store, provider)

	rec := env.do(t, http.MethodPost, "/api/otp/check-sms/"+rentalID.String(), nil)

	assert.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data CheckSMSResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Data.HasSMS)
	assert.False(t, resp.Data.Expired)
	assert.Equal(t, domain.StatusReceived, resp.Data.Rental.Status)
	require.NotNil(t, resp.Data.Rental.SMSText)
	assert.Equal(t, "Your code is 482913", *resp.Data.Rental.SMSText)
}

func TestRentalEndpoints_MalformedIDLooksMissing(t *testing.T) {
	env := newTestEnv(t, baseStore(), &stubProvider{})

	rec := env.do(t, http.MethodPost, "/api/otp/check-sms/not-a-uuid", nil)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	resp := decodeResponse(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "rental_not_found", resp.Error.Code)
}

func TestEndpointsRequireAuth(t *testing.T) {
	env := newTestEnv(t, baseStore(), &stubProvider{})

	req := httptest.NewRequest(http.MethodGet, "/api/otp/history", nil)
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCancelEndpoint_SecondCancelConflicts(t *testing.T) {
	store := baseStore()
	rentalID := uuid.New()
	store.rental = &domain.PhoneRental{
		ID:         rentalID,
		UserID:     store.user.ID,
		ProviderID: "1",
		Status:     domain.StatusPending,
		Price:      decimal.RequireFromString("4.25"),
		ExpiresAt:  time.Now().Add(15 * time.Minute),
	}
	provider := &stubProvider{
		cancel: &fivesim.Activation{ID: 1, Status: domain.StatusCanceled},
	}
	env := newTestEnv(t, store, provider)

	rec := env.do(t, http.MethodPost, "/api/otp/cancel/"+rentalID.String(), nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, store.user.Balance.Equal(decimal.RequireFromString("14.25")))

	rec = env.do(t, http.MethodPost, "/api/otp/cancel/"+rentalID.String(), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.True(t, store.user.Balance.Equal(decimal.RequireFromString("14.25")))
}

func TestHistoryEndpoint(t *testing.T) {
	store := baseStore()
	rentalID := uuid.New()
	store.rental = &domain.PhoneRental{
		ID:         rentalID,
		UserID:     store.user.ID,
		ProviderID: "1",
		Status:     domain.StatusFinished,
		Price:      decimal.RequireFromString("3.50"),
		ExpiresAt:  time.Now(),
	}
	env := newTestEnv(t, store, &stubProvider{})

	rec := env.do(t, http.MethodGet, "/api/otp/history", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Data HistoryResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.EqualValues(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Rentals, 1)
	assert.Equal(t, rentalID.String(), resp.Data.Rentals[0].ID)

	rec = env.do(t, http.MethodGet, "/api/otp/history?page=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
