package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/metrics"
)

var (
	ErrMissingCredential = errors.New("authentication required")
	ErrAPIKeyInvalid     = errors.New("api key is invalid")
	ErrAPIKeyRevoked     = errors.New("api key has been revoked")
	ErrAPIKeyExpired     = errors.New("api key has expired")
)

// APIKeyLookup is the part of the credential store the gate reads.
type APIKeyLookup interface {
	APIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
}

// Gate resolves a request to a Principal and enforces capabilities.
type Gate struct {
	verifier *JWTVerifier
	keys     APIKeyLookup
	clock    clock.Clock
	metrics  *metrics.Metrics
}

func NewGate(verifier *JWTVerifier, keys APIKeyLookup, c clock.Clock, m *metrics.Metrics) *Gate {
	if c == nil {
		c = clock.RealClock{}
	}
	return &Gate{verifier: verifier, keys: keys, clock: c, metrics: m}
}

// Resolve picks the credential for r. A Bearer Authorization header wins over
// x-api-key, even when the token turns out to be invalid. Other Authorization
// schemes are not session credentials and are ignored.
func (g *Gate) Resolve(r *http.Request) (Principal, error) {
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		token = strings.TrimSpace(token)
		if token == "" {
			return Principal{}, ErrTokenInvalid
		}
		return g.verifier.ParseSession(token)
	}

	if raw := r.Header.Get(HeaderAPIKey); raw != "" {
		return g.resolveAPIKey(r.Context(), raw)
	}

	return Principal{}, ErrMissingCredential
}

func (g *Gate) resolveAPIKey(ctx context.Context, raw string) (Principal, error) {
	if !strings.HasPrefix(raw, APIKeyPrefix) {
		return Principal{}, ErrAPIKeyInvalid
	}
	k, err := g.keys.APIKeyByHash(ctx, HashAPIKey(raw))
	if errors.Is(err, domain.ErrKeyNotFound) {
		return Principal{}, ErrAPIKeyInvalid
	}
	if err != nil {
		return Principal{}, err
	}
	if k.Revoked {
		return Principal{}, ErrAPIKeyRevoked
	}
	if !k.ExpiresAt.After(g.clock.Now()) {
		return Principal{}, ErrAPIKeyExpired
	}
	return APIKeyPrincipal(k), nil
}

// Authenticate rejects requests without a valid credential and stores the
// Principal in the request context.
func (g *Gate) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := g.Resolve(r)
		if err != nil {
			reason, message, ok := describe(err)
			if !ok {
				logger.WithError(err).Error("credential lookup failed")
				writeError(w, http.StatusInternalServerError, "ServerError", "Internal server error")
				return
			}
			g.metrics.ObserveAuthFailure(reason)
			writeError(w, http.StatusUnauthorized, "AuthenticationError", message)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
	})
}

// Require admits session principals and API keys holding perm.
func (g *Gate) Require(perm domain.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "AuthenticationError", "Authentication required")
				return
			}
			if !p.Can(perm) {
				g.metrics.ObserveAuthFailure("forbidden")
				writeError(w, http.StatusForbidden, "ForbiddenError", "API key lacks the '"+string(perm)+"' permission")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireSession admits only session principals. Key management sits behind
// it so an API key cannot mint or revoke keys.
func (g *Gate) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "AuthenticationError", "Authentication required")
			return
		}
		if p.Kind != KindSession {
			g.metrics.ObserveAuthFailure("session_required")
			writeError(w, http.StatusForbidden, "ForbiddenError", "API keys cannot manage keys; use a session token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// describe maps a credential error to its metric reason and client message.
// ok is false for errors that are not the caller's fault.
func describe(err error) (reason, message string, ok bool) {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return "missing", "Authentication required", true
	case errors.Is(err, ErrTokenExpired):
		return "token_expired", "Session token has expired", true
	case errors.Is(err, ErrTokenInvalid):
		return "token_invalid", "Invalid session token", true
	case errors.Is(err, ErrAPIKeyInvalid):
		return "key_invalid", "Invalid API key", true
	case errors.Is(err, ErrAPIKeyRevoked):
		return "key_revoked", "API key has been revoked", true
	case errors.Is(err, ErrAPIKeyExpired):
		return "key_expired", "API key has expired", true
	}
	return "", "", false
}

func writeError(w http.ResponseWriter, code int, errCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"code": errCode, "message": message})
}
