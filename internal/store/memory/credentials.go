package memory

import (
	"context"
	"sort"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

func (s *Store) CreateUser(_ context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return nil
}

func (s *Store) UserByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

func (s *Store) CreateAPIKey(_ context.Context, k domain.APIKey, maxActive int, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	active := 0
	for _, existing := range s.keys {
		if existing.UserID == k.UserID && existing.Active(now) {
			active++
		}
	}
	if active >= maxActive {
		return domain.ErrMaxKeysReached
	}
	s.keys[k.ID] = k
	return nil
}

func (s *Store) APIKeyByHash(_ context.Context, hash string) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if k.KeyHash == hash {
			return k, nil
		}
	}
	return domain.APIKey{}, domain.ErrKeyNotFound
}

func (s *Store) APIKeyByID(_ context.Context, userID, keyID string) (domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return domain.APIKey{}, domain.ErrKeyNotFound
	}
	return k, nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID string) ([]domain.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.APIKey
	for _, k := range s.keys {
		if k.UserID == userID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, userID, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok || k.UserID != userID {
		return domain.ErrKeyNotFound
	}
	if k.Revoked {
		return domain.ErrKeyAlreadyRevoked
	}
	k.Revoked = true
	s.keys[keyID] = k
	return nil
}
