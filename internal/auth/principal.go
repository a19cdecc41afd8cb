package auth

import (
	"context"
	"net/http"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/idempotency"
)

type CredentialKind string

const (
	KindSession CredentialKind = "session"
	KindAPIKey  CredentialKind = "api_key"
)

// Principal is the caller resolved from either credential. Session principals
// hold every capability; API key principals hold exactly the key's tags.
type Principal struct {
	UserID       string
	Kind         CredentialKind
	Role         string
	KeyID        string
	Capabilities []domain.Permission
}

func SessionPrincipal(userID, role string) Principal {
	return Principal{
		UserID:       userID,
		Kind:         KindSession,
		Role:         role,
		Capabilities: append([]domain.Permission(nil), domain.AllPermissions...),
	}
}

func APIKeyPrincipal(k domain.APIKey) Principal {
	return Principal{
		UserID:       k.UserID,
		Kind:         KindAPIKey,
		KeyID:        k.ID,
		Capabilities: append([]domain.Permission(nil), k.Permissions...),
	}
}

func (p Principal) Can(perm domain.Permission) bool {
	if p.Kind == KindSession {
		return true
	}
	for _, c := range p.Capabilities {
		if c == perm {
			return true
		}
	}
	return false
}

type contextKey string

const principalContextKey contextKey = "principal"

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, p)
}

func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(Principal)
	return p, ok
}

// IdempotencyScope keys idempotency records by the resolved user.
func IdempotencyScope(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return p.UserID
	}
	return idempotency.AnonymousScope
}
