package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/idempotency"
	"github.com/punchamoorthee/walletops/internal/models"
	"github.com/punchamoorthee/walletops/internal/paystack"
	"github.com/punchamoorthee/walletops/internal/service"
	"github.com/punchamoorthee/walletops/internal/store/memory"
	"github.com/shopspring/decimal"
)

const (
	jwtSecret      = "test-jwt-secret"
	paystackSecret = "sk_test_paystack"

	aliceID = "0b8f6c3e-2f4a-4d8e-9b1c-5a7d3e2f1a01"
	bobID   = "7c2e9a14-6b3d-4f2a-8e5c-1d9b4a6f3e02"
)

type stubProvider struct {
	initErr error
	calls   int
}

func (p *stubProvider) Initialize(_ context.Context, req paystack.InitializeRequest) (paystack.Checkout, error) {
	p.calls++
	if p.initErr != nil {
		return paystack.Checkout{}, p.initErr
	}
	return paystack.Checkout{AuthorizationURL: "https://checkout.paystack.com/" + req.Reference, Reference: req.Reference}, nil
}

func (p *stubProvider) Verify(context.Context, string) (paystack.Verification, error) {
	return paystack.Verification{}, errors.New("not used")
}

type testServer struct {
	router   *mux.Router
	store    *memory.Store
	clock    *clock.Fixed
	provider *stubProvider
	wallets  *service.WalletService
	signer   *auth.JWTSigner
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := memory.New()
	c := &clock.Fixed{T: time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)}
	p := &stubProvider{}

	wallets := service.NewWalletService(st, c)
	h := NewHandler(
		wallets,
		service.NewTransferService(st, wallets, c, nil),
		service.NewDepositService(st, st, wallets, p, paystackSecret, c, nil),
		service.NewKeyService(st, c),
		"test",
		c,
	)
	gate := auth.NewGate(auth.NewJWTVerifier(jwtSecret, c), st, c, nil)
	idem := idempotency.NewMiddleware(idempotency.NewMemoryStore(c), auth.IdempotencyScope, time.Hour, c, nil)

	return &testServer{
		router:   NewRouter(h, gate, idem),
		store:    st,
		clock:    c,
		provider: p,
		wallets:  wallets,
		signer:   auth.NewJWTSigner(jwtSecret),
	}
}

// user registers userID with a wallet holding balance kobo and returns a
// session token for it.
func (s *testServer) user(t *testing.T, userID string, balance int64) (string, domain.Wallet) {
	t.Helper()
	ctx := context.Background()
	if err := s.store.CreateUser(ctx, domain.User{ID: userID, Email: userID + "@example.com"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	w, err := s.wallets.GetOrCreateWallet(ctx, userID)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	s.store.SetBalance(w.ID, balance)
	token, err := s.signer.Sign(userID, auth.DefaultRole, s.clock.Now(), time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token, w
}

type call struct {
	method  string
	path    string
	body    any
	headers map[string]string
}

func (s *testServer) do(t *testing.T, c call) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := c.body.(type) {
	case nil:
	case []byte:
		buf.Write(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(c.method, c.path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func bearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rr.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return out
}

func (s *testServer) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := s.store.WalletByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	return w.Balance
}

func TestGetBalance(t *testing.T) {
	s := newTestServer(t)
	token, w := s.user(t, aliceID, 123_456)

	rr := s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet/balance", headers: bearer(token)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[models.BalanceResponse](t, rr)
	if !got.Balance.Equal(decimal.RequireFromString("1234.56")) || got.WalletNumber != w.WalletNumber {
		t.Fatalf("unexpected balance response %+v", got)
	}
	if !strings.Contains(rr.Body.String(), `"balance":1234.56`) {
		t.Fatalf("balance should be a JSON number: %s", rr.Body.String())
	}
}

func TestTransferEndpoint(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 10_000)
	_, bob := s.user(t, bobID, 0)

	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"malformed", []byte(`{"wallet_number":`), http.StatusBadRequest, "ValidationError"},
		{"short wallet number", map[string]any{"wallet_number": "123", "amount": 10}, http.StatusBadRequest, "ValidationError"},
		{"zero amount", map[string]any{"wallet_number": bob.WalletNumber, "amount": 0}, http.StatusUnprocessableEntity, "InvalidAmount"},
		{"sub-kobo amount", map[string]any{"wallet_number": bob.WalletNumber, "amount": "1.234"}, http.StatusUnprocessableEntity, "InvalidAmount"},
		{"unknown recipient", map[string]any{"wallet_number": "9999999999999", "amount": 10}, http.StatusNotFound, "RecipientNotFound"},
		{"insufficient", map[string]any{"wallet_number": bob.WalletNumber, "amount": 100.01}, http.StatusUnprocessableEntity, "InsufficientBalance"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/transfer", body: tt.body, headers: bearer(token)})
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if got := decode[models.ErrorResponse](t, rr); got.Code != tt.wantCode {
				t.Fatalf("expected code %s, got %+v", tt.wantCode, got)
			}
		})
	}

	rr := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/transfer", body: map[string]any{"wallet_number": bob.WalletNumber, "amount": "25.50"}, headers: bearer(token)})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[models.StatusResponse](t, rr); got.Status != "success" || got.Reference == "" {
		t.Fatalf("unexpected transfer response %+v", got)
	}
	if a, b := s.balance(t, aliceID), s.balance(t, bobID); a != 7_450 || b != 2_550 {
		t.Fatalf("expected balances 7450/2550, got %d/%d", a, b)
	}
}

func TestTransferReplayDoesNotDebitTwice(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 10_000)
	_, bob := s.user(t, bobID, 0)

	headers := bearer(token)
	headers[idempotency.HeaderKey] = "transfer-1"
	body := map[string]any{"wallet_number": bob.WalletNumber, "amount": 30}

	first := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/transfer", body: body, headers: headers})
	second := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/transfer", body: body, headers: headers})

	if first.Code != http.StatusOK || second.Code != http.StatusOK {
		t.Fatalf("expected 200 twice, got %d and %d", first.Code, second.Code)
	}
	if first.Body.String() != second.Body.String() {
		t.Fatalf("replay body differs:\n%s\n%s", first.Body.String(), second.Body.String())
	}
	if second.Header().Get(idempotency.HeaderReplayed) != "true" {
		t.Fatal("expected replay header on second response")
	}
	if a, b := s.balance(t, aliceID), s.balance(t, bobID); a != 7_000 || b != 3_000 {
		t.Fatalf("expected a single debit, balances %d/%d", a, b)
	}
}

func TestAPIKeyCapabilities(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 10_000)
	_, bob := s.user(t, bobID, 0)

	rr := s.do(t, call{
		method:  http.MethodPost,
		path:    "/api/v1/keys/create",
		body:    models.CreateKeyRequest{Name: "reporting", Permissions: []string{"read"}, Expiry: "1D"},
		headers: bearer(token),
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	key := decode[models.APIKeyResponse](t, rr).APIKey
	keyHeaders := map[string]string{auth.HeaderAPIKey: key}

	if rr := s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet/balance", headers: keyHeaders}); rr.Code != http.StatusOK {
		t.Fatalf("read key on balance: expected 200, got %d", rr.Code)
	}
	rr = s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/transfer", body: map[string]any{"wallet_number": bob.WalletNumber, "amount": 1}, headers: keyHeaders})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("read key on transfer: expected 403, got %d", rr.Code)
	}
	if s.balance(t, aliceID) != 10_000 {
		t.Fatal("forbidden transfer moved money")
	}
	rr = s.do(t, call{method: http.MethodPost, path: "/api/v1/keys/create", body: models.CreateKeyRequest{Name: "x", Permissions: []string{"read"}, Expiry: "1D"}, headers: keyHeaders})
	if rr.Code != http.StatusForbidden {
		t.Fatalf("api key on key management: expected 403, got %d", rr.Code)
	}

	rr = s.do(t, call{method: http.MethodGet, path: "/api/v1/keys", headers: bearer(token)})
	if rr.Code != http.StatusOK {
		t.Fatalf("list keys: expected 200, got %d", rr.Code)
	}
	views := decode[[]models.KeyView](t, rr)
	if len(views) != 1 || !views[0].Active || views[0].KeyPrefix != key[:12]+"..." {
		t.Fatalf("unexpected key list %+v", views)
	}
	if bytes.Contains(rr.Body.Bytes(), []byte(key)) {
		t.Fatal("key list leaked the raw key")
	}
}

func TestKeyLifecycleErrors(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 0)
	create := func() *httptest.ResponseRecorder {
		return s.do(t, call{method: http.MethodPost, path: "/api/v1/keys/create", body: models.CreateKeyRequest{Name: "k", Permissions: []string{"read"}, Expiry: "1H"}, headers: bearer(token)})
	}

	for i := 0; i < service.MaxActiveKeys; i++ {
		if rr := create(); rr.Code != http.StatusCreated {
			t.Fatalf("create %d: expected 201, got %d", i, rr.Code)
		}
	}
	rr := create()
	if rr.Code != http.StatusConflict || decode[models.ErrorResponse](t, rr).Code != "MaxKeysReached" {
		t.Fatalf("expected 409 MaxKeysReached, got %d: %s", rr.Code, rr.Body.String())
	}

	tests := []struct {
		name       string
		path       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"bad expiry", "/api/v1/keys/create", models.CreateKeyRequest{Name: "k", Permissions: []string{"read"}, Expiry: "2W"}, http.StatusBadRequest, "InvalidExpiry"},
		{"bad permission", "/api/v1/keys/create", models.CreateKeyRequest{Name: "k", Permissions: []string{"admin"}, Expiry: "1H"}, http.StatusBadRequest, "InvalidPermissions"},
		{"missing name", "/api/v1/keys/create", models.CreateKeyRequest{Permissions: []string{"read"}, Expiry: "1H"}, http.StatusBadRequest, "ValidationError"},
		{"revoke unknown", "/api/v1/keys/revoke", models.RevokeKeyRequest{KeyID: "nope"}, http.StatusNotFound, "KeyNotFound"},
		{"rollover unknown", "/api/v1/keys/rollover", models.RolloverKeyRequest{ExpiredKeyID: "nope", Expiry: "1D"}, http.StatusNotFound, "KeyNotFound"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, call{method: http.MethodPost, path: tt.path, body: tt.body, headers: bearer(token)})
			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if got := decode[models.ErrorResponse](t, rr).Code; got != tt.wantCode {
				t.Fatalf("expected %s, got %s", tt.wantCode, got)
			}
		})
	}
}

func TestDepositAndWebhookFlow(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 0)
	bobToken, _ := s.user(t, bobID, 0)

	rr := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/deposit", body: map[string]any{"amount": 50}, headers: bearer(token)})
	if rr.Code != http.StatusOK {
		t.Fatalf("deposit: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	dep := decode[models.DepositResponse](t, rr)
	if dep.AuthorizationURL == "" {
		t.Fatal("expected an authorization url")
	}

	event, err := json.Marshal(map[string]any{
		"event": paystack.EventChargeSuccess,
		"data": map[string]any{
			"reference": dep.Reference,
			"amount":    5_000,
			"channel":   "card",
			"currency":  "NGN",
			"metadata":  map[string]string{"type": paystack.DepositMetadataType},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	rr = s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/paystack/webhook", body: event, headers: map[string]string{paystack.HeaderSignature: "deadbeef"}})
	if rr.Code != http.StatusUnauthorized || decode[models.ErrorResponse](t, rr).Code != "InvalidSignature" {
		t.Fatalf("bad signature: expected 401 InvalidSignature, got %d: %s", rr.Code, rr.Body.String())
	}
	if s.balance(t, aliceID) != 0 {
		t.Fatal("unsigned webhook credited the wallet")
	}

	signed := map[string]string{paystack.HeaderSignature: paystack.Sign(paystackSecret, event)}
	for i := 0; i < 2; i++ {
		rr = s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/paystack/webhook", body: event, headers: signed})
		if rr.Code != http.StatusOK || !decode[models.WebhookAck](t, rr).Status {
			t.Fatalf("delivery %d: expected 200 ack, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}
	if got := s.balance(t, aliceID); got != 5_000 {
		t.Fatalf("expected a single credit of 5000, got %d", got)
	}

	statusPath := "/api/v1/wallet/deposit/" + dep.Reference + "/status"
	rr = s.do(t, call{method: http.MethodGet, path: statusPath, headers: bearer(token)})
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	st := decode[models.DepositStatusResponse](t, rr)
	if st.Status != "success" || !st.Amount.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unexpected deposit status %+v", st)
	}
	if rr := s.do(t, call{method: http.MethodGet, path: statusPath, headers: bearer(bobToken)}); rr.Code != http.StatusNotFound {
		t.Fatalf("other user's deposit: expected 404, got %d", rr.Code)
	}

	rr = s.do(t, call{method: http.MethodGet, path: "/api/v1/wallet/transactions", headers: bearer(token)})
	txs := decode[[]models.TransactionView](t, rr)
	if len(txs) != 1 || txs[0].Type != "deposit" || txs[0].Status != "success" {
		t.Fatalf("unexpected history %+v", txs)
	}
}

func TestDepositProviderFailureIsNotCached(t *testing.T) {
	s := newTestServer(t)
	token, _ := s.user(t, aliceID, 0)
	s.provider.initErr = errors.New("timeout")

	headers := bearer(token)
	headers[idempotency.HeaderKey] = "deposit-1"
	for i := 0; i < 2; i++ {
		rr := s.do(t, call{method: http.MethodPost, path: "/api/v1/wallet/deposit", body: map[string]any{"amount": 10}, headers: headers})
		if rr.Code != http.StatusBadGateway || decode[models.ErrorResponse](t, rr).Code != "PaymentInitError" {
			t.Fatalf("attempt %d: expected 502 PaymentInitError, got %d: %s", i, rr.Code, rr.Body.String())
		}
	}
	if s.provider.calls != 2 {
		t.Fatalf("expected the retry to reach the provider, got %d calls", s.provider.calls)
	}
}

func TestUnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t)
	for _, path := range []string{"/api/v1/wallet/balance", "/api/v1/wallet/transactions", "/api/v1/keys"} {
		rr := s.do(t, call{method: http.MethodGet, path: path})
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
		if code := decode[models.ErrorResponse](t, rr).Code; code != "AuthenticationError" {
			t.Fatalf("%s: expected AuthenticationError, got %s", path, code)
		}
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	s.clock.Advance(90 * time.Second)

	rr := s.do(t, call{method: http.MethodGet, path: "/health"})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	got := decode[map[string]string](t, rr)
	if got["status"] != "ok" || got["version"] != "test" || got["uptime"] != "1m30s" {
		t.Fatalf("unexpected health body %v", got)
	}
}
