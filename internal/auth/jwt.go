package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/clock"
)

var (
	ErrTokenExpired = errors.New("session token has expired")
	ErrTokenInvalid = errors.New("session token is invalid")
)

const DefaultRole = "user"

// SessionClaims is the access-token payload. Subject is the user id.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

type JWTVerifier struct {
	secret []byte
	clock  clock.Clock
}

func NewJWTVerifier(secret string, c clock.Clock) *JWTVerifier {
	if c == nil {
		c = clock.RealClock{}
	}
	return &JWTVerifier{secret: []byte(secret), clock: c}
}

// ParseSession verifies signature and expiry and returns the session
// principal. Expired tokens yield ErrTokenExpired, all other failures
// ErrTokenInvalid.
func (v *JWTVerifier) ParseSession(tokenString string) (Principal, error) {
	claims := &SessionClaims{}
	tok, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(5*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.clock.Now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, ErrTokenExpired
		}
		return Principal{}, ErrTokenInvalid
	}
	if !tok.Valid {
		return Principal{}, ErrTokenInvalid
	}
	// User ids are UUIDs; anything else could never match a stored user.
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Principal{}, ErrTokenInvalid
	}

	role := claims.Role
	if role == "" {
		role = DefaultRole
	}
	return SessionPrincipal(claims.Subject, role), nil
}

// JWTSigner issues access tokens. The login flow is external; the seeder and
// tests use this to mint sessions.
type JWTSigner struct {
	secret []byte
}

func NewJWTSigner(secret string) *JWTSigner {
	return &JWTSigner{secret: []byte(secret)}
}

func (s *JWTSigner) Sign(userID, role string, now time.Time, ttl time.Duration) (string, error) {
	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
