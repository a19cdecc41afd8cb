package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/auth"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/sirupsen/logrus"
)

// MaxActiveKeys caps keys per user that are neither revoked nor expired.
const MaxActiveKeys = 5

// IssuedKey carries the raw key. It is only ever returned to the caller that
// created it.
type IssuedKey struct {
	RawKey string
	Key    domain.APIKey
}

type KeyService struct {
	keys  store.APIKeyStore
	clock clock.Clock
}

func NewKeyService(keys store.APIKeyStore, c clock.Clock) *KeyService {
	if c == nil {
		c = clock.RealClock{}
	}
	return &KeyService{keys: keys, clock: c}
}

func (s *KeyService) Create(ctx context.Context, userID, name string, permissions []string, expiry string) (IssuedKey, error) {
	perms, err := parsePermissions(permissions)
	if err != nil {
		return IssuedKey{}, err
	}
	return s.issue(ctx, userID, name, perms, expiry)
}

func (s *KeyService) Revoke(ctx context.Context, userID, keyID string) error {
	if err := s.keys.RevokeAPIKey(ctx, userID, keyID); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"user_id": userID, "key_id": keyID}).Info("api key revoked")
	return nil
}

// Rollover issues a replacement for a key that is expired or revoked, keeping
// its name and permissions.
func (s *KeyService) Rollover(ctx context.Context, userID, expiredKeyID, expiry string) (IssuedKey, error) {
	old, err := s.keys.APIKeyByID(ctx, userID, expiredKeyID)
	if err != nil {
		return IssuedKey{}, err
	}
	if old.Active(s.clock.Now()) {
		return IssuedKey{}, domain.ErrKeyNotExpired
	}
	return s.issue(ctx, userID, old.Name, old.Permissions, expiry)
}

func (s *KeyService) List(ctx context.Context, userID string) ([]domain.APIKey, error) {
	return s.keys.ListAPIKeys(ctx, userID)
}

// Now exposes the service clock so views can compute Active consistently.
func (s *KeyService) Now() time.Time {
	return s.clock.Now()
}

func (s *KeyService) issue(ctx context.Context, userID, name string, perms []domain.Permission, expiry string) (IssuedKey, error) {
	now := s.clock.Now()
	expiresAt, err := auth.ExpiryFrom(expiry, now)
	if err != nil {
		return IssuedKey{}, err
	}
	material, err := auth.GenerateAPIKey()
	if err != nil {
		return IssuedKey{}, err
	}

	k := domain.APIKey{
		ID:          uuid.NewString(),
		UserID:      userID,
		Name:        name,
		KeyHash:     material.Hash,
		KeyPrefix:   material.Prefix,
		Permissions: perms,
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
	}
	if err := s.keys.CreateAPIKey(ctx, k, MaxActiveKeys, now); err != nil {
		return IssuedKey{}, err
	}

	logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"key_id":     k.ID,
		"key_prefix": k.KeyPrefix,
	}).Info("api key issued")
	return IssuedKey{RawKey: material.Raw, Key: k}, nil
}

func parsePermissions(raw []string) ([]domain.Permission, error) {
	if len(raw) == 0 {
		return nil, domain.ErrInvalidPermissions
	}
	seen := make(map[domain.Permission]bool, len(raw))
	out := make([]domain.Permission, 0, len(raw))
	for _, r := range raw {
		p := domain.Permission(r)
		if !p.Valid() {
			return nil, domain.ErrInvalidPermissions
		}
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	return out, nil
}
