package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletops/internal/domain"
)

const apiKeyColumns = `id::text, user_id::text, name, key_hash, key_prefix, permissions, expires_at, revoked, created_at`

func scanAPIKey(row pgx.Row) (domain.APIKey, error) {
	var (
		k     domain.APIKey
		perms []string
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &perms, &k.ExpiresAt, &k.Revoked, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.APIKey{}, domain.ErrKeyNotFound
	}
	if err != nil {
		return domain.APIKey{}, err
	}
	k.Permissions = make([]domain.Permission, len(perms))
	for i, p := range perms {
		k.Permissions[i] = domain.Permission(p)
	}
	return k, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	_, err := s.Db.Exec(ctx,
		"INSERT INTO users (id, email, role, created_at) VALUES ($1, $2, $3, $4)",
		u.ID, u.Email, u.Role, u.CreatedAt)
	if err != nil {
		return fmt.Errorf("user insert failed: %w", err)
	}
	return nil
}

func (s *Store) UserByID(ctx context.Context, id string) (domain.User, error) {
	var u domain.User
	err := s.Db.QueryRow(ctx,
		"SELECT id::text, email, role, created_at FROM users WHERE id = $1", id,
	).Scan(&u.ID, &u.Email, &u.Role, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, err
}

// CreateAPIKey serializes key creation per owner on the users row so the
// active-key count cannot be raced past maxActive.
func (s *Store) CreateAPIKey(ctx context.Context, k domain.APIKey, maxActive int, now time.Time) error {
	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var owner string
	err = tx.QueryRow(ctx, "SELECT id::text FROM users WHERE id = $1 FOR UPDATE", k.UserID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrUserNotFound
	}
	if err != nil {
		return fmt.Errorf("owner lock failed: %w", err)
	}

	var active int
	err = tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM api_keys WHERE user_id = $1 AND revoked = FALSE AND expires_at > $2",
		k.UserID, now).Scan(&active)
	if err != nil {
		return fmt.Errorf("active key count failed: %w", err)
	}
	if active >= maxActive {
		return domain.ErrMaxKeysReached
	}

	perms := make([]string, len(k.Permissions))
	for i, p := range k.Permissions {
		perms[i] = string(p)
	}
	_, err = tx.Exec(ctx, `
INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, permissions, expires_at, revoked, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, $8)`,
		k.ID, k.UserID, k.Name, k.KeyHash, k.KeyPrefix, perms, k.ExpiresAt, k.CreatedAt)
	if err != nil {
		return fmt.Errorf("api key insert failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Store) APIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error) {
	return scanAPIKey(s.Db.QueryRow(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, hash))
}

func (s *Store) APIKeyByID(ctx context.Context, userID, keyID string) (domain.APIKey, error) {
	return scanAPIKey(s.Db.QueryRow(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id::text = $1 AND user_id = $2`, keyID, userID))
}

func (s *Store) ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []domain.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (s *Store) RevokeAPIKey(ctx context.Context, userID, keyID string) error {
	tag, err := s.Db.Exec(ctx,
		"UPDATE api_keys SET revoked = TRUE WHERE id::text = $1 AND user_id = $2 AND revoked = FALSE",
		keyID, userID)
	if err != nil {
		return fmt.Errorf("api key revoke failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	if _, err := s.APIKeyByID(ctx, userID, keyID); err != nil {
		return err
	}
	return domain.ErrKeyAlreadyRevoked
}
