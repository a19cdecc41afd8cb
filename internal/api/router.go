package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/idempotency"
)

// chain wraps h so that the first middleware is the outermost.
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NewRouter wires every route. Protected routes run gate, capability check,
// then idempotency, so idempotency records are scoped to the resolved user.
func NewRouter(h *Handler, gate *auth.Gate, idem *idempotency.Middleware) *mux.Router {
	r := mux.NewRouter()
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	can := func(p domain.Permission) []func(http.Handler) http.Handler {
		return []func(http.Handler) http.Handler{gate.Authenticate, gate.Require(p)}
	}
	session := []func(http.Handler) http.Handler{gate.Authenticate, gate.RequireSession}
	once := func(mws []func(http.Handler) http.Handler) []func(http.Handler) http.Handler {
		out := make([]func(http.Handler) http.Handler, 0, len(mws)+1)
		return append(append(out, mws...), idem.Wrap)
	}

	apiV1 := r.PathPrefix("/api/v1").Subrouter()

	apiV1.Handle("/wallet/balance", chain(http.HandlerFunc(h.GetBalanceHandler), can(domain.PermissionRead)...)).Methods(http.MethodGet)
	apiV1.Handle("/wallet/deposit", chain(http.HandlerFunc(h.DepositHandler), once(can(domain.PermissionDeposit))...)).Methods(http.MethodPost)
	apiV1.Handle("/wallet/deposit/{reference}/status", chain(http.HandlerFunc(h.DepositStatusHandler), can(domain.PermissionRead)...)).Methods(http.MethodGet)
	apiV1.HandleFunc("/wallet/paystack/webhook", h.PaystackWebhookHandler).Methods(http.MethodPost)
	apiV1.Handle("/wallet/transfer", chain(http.HandlerFunc(h.TransferHandler), once(can(domain.PermissionTransfer))...)).Methods(http.MethodPost)
	apiV1.Handle("/wallet/transactions", chain(http.HandlerFunc(h.TransactionsHandler), can(domain.PermissionRead)...)).Methods(http.MethodGet)

	apiV1.Handle("/keys", chain(http.HandlerFunc(h.ListKeysHandler), session...)).Methods(http.MethodGet)
	apiV1.Handle("/keys/create", chain(http.HandlerFunc(h.CreateKeyHandler), once(session)...)).Methods(http.MethodPost)
	apiV1.Handle("/keys/revoke", chain(http.HandlerFunc(h.RevokeKeyHandler), once(session)...)).Methods(http.MethodPost)
	apiV1.Handle("/keys/rollover", chain(http.HandlerFunc(h.RolloverKeyHandler), once(session)...)).Methods(http.MethodPost)

	return r
}
