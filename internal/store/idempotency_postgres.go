package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/punchamoorthee/walletops/internal/idempotency"
)

// IdempotencyStore keeps idempotency records in the idempotency_keys table.
type IdempotencyStore struct {
	s *Store
}

var _ idempotency.Store = (*IdempotencyStore)(nil)

func (s *Store) Idempotency() *IdempotencyStore {
	return &IdempotencyStore{s: s}
}

// Reserve inserts an in-progress row, or takes over a row whose expiry has
// passed. Either way the unique (principal, key) index makes the claim
// atomic; losing the claim means a live record exists and is returned.
func (i *IdempotencyStore) Reserve(ctx context.Context, scope, key string, expiresAt time.Time) (*idempotency.Record, bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		var claimed string
		err := i.s.Db.QueryRow(ctx, `
INSERT INTO idempotency_keys (principal, key, state, expires_at)
VALUES ($1, $2, 'in_progress', $3)
ON CONFLICT (principal, key) DO UPDATE
SET state = 'in_progress', status_code = NULL, content_type = '', body = NULL,
    expires_at = EXCLUDED.expires_at, created_at = NOW()
WHERE idempotency_keys.expires_at <= NOW()
RETURNING principal`, scope, key, expiresAt).Scan(&claimed)
		if err == nil {
			return nil, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("idempotency reservation failed: %w", err)
		}

		rec := idempotency.Record{Scope: scope, Key: key}
		var (
			state      string
			statusCode *int
		)
		err = i.s.Db.QueryRow(ctx, `
SELECT state, status_code, content_type, COALESCE(body, ''::bytea), expires_at
FROM idempotency_keys
WHERE principal = $1 AND key = $2`, scope, key,
		).Scan(&state, &statusCode, &rec.ContentType, &rec.Body, &rec.ExpiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Removed by cleanup between the two statements; claim again.
			continue
		}
		if err != nil {
			return nil, false, fmt.Errorf("idempotency query failed: %w", err)
		}
		rec.State = idempotency.State(state)
		if statusCode != nil {
			rec.StatusCode = *statusCode
		}
		return &rec, false, nil
	}
	return nil, false, fmt.Errorf("idempotency reservation for %q did not settle", key)
}

func (i *IdempotencyStore) Complete(ctx context.Context, scope, key string, resp idempotency.Response, expiresAt time.Time) error {
	_, err := i.s.Db.Exec(ctx, `
UPDATE idempotency_keys
SET state = 'completed', status_code = $3, content_type = $4, body = $5, expires_at = $6
WHERE principal = $1 AND key = $2`,
		scope, key, resp.StatusCode, resp.ContentType, resp.Body, expiresAt)
	if err != nil {
		return fmt.Errorf("idempotency update failed: %w", err)
	}
	return nil
}

func (i *IdempotencyStore) Release(ctx context.Context, scope, key string) error {
	_, err := i.s.Db.Exec(ctx, "DELETE FROM idempotency_keys WHERE principal = $1 AND key = $2", scope, key)
	return err
}

// CleanupExpired deletes up to batchSize expired rows and reports how many
// were removed.
func (i *IdempotencyStore) CleanupExpired(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}
	const q = `
WITH doomed AS (
  SELECT ctid
  FROM idempotency_keys
  WHERE expires_at <= NOW()
  ORDER BY expires_at ASC
  LIMIT $1
)
DELETE FROM idempotency_keys
WHERE ctid IN (SELECT ctid FROM doomed)`
	tag, err := i.s.Db.Exec(ctx, q, batchSize)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// StartCleanupWorker runs CleanupExpired every interval until ctx is done,
// draining in batches each tick.
func (i *IdempotencyStore) StartCleanupWorker(
	ctx context.Context,
	interval time.Duration,
	batchSize int,
	logf func(string, ...any),
	observer func(deleted int64, err error),
) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				deleted, err := i.CleanupExpired(ctx, batchSize)
				if observer != nil {
					observer(deleted, err)
				}
				if err != nil {
					if logf != nil {
						logf("idempotency cleanup failed: %v", err)
					}
					break
				}
				if deleted == 0 {
					break
				}
				if logf != nil {
					logf("idempotency cleanup removed %d expired keys", deleted)
				}
			}
		}
	}
}
