package store

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/idempotency"
)

// These tests run against a real database:
//
//	WALLET_TEST_DATABASE_URL=postgres://... go test ./internal/store/
func newTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv("WALLET_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("WALLET_TEST_DATABASE_URL not set")
	}
	if err := Migrate(url); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	s, err := NewStore(context.Background(), url)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

var numberSeq atomic.Int64

func uniqueNumber() string {
	n := time.Now().UnixNano()%1e11*10 + numberSeq.Add(1)%10
	return fmt.Sprintf("7%012d", n%1e12)
}

func seedUser(t *testing.T, s *Store) domain.User {
	t.Helper()
	u := domain.User{ID: uuid.NewString(), Role: "user", CreatedAt: time.Now().UTC()}
	u.Email = u.ID + "@test.local"
	if err := s.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

func seedWallet(t *testing.T, s *Store, userID string, balance int64) domain.Wallet {
	t.Helper()
	w, err := s.CreateWallet(context.Background(), domain.Wallet{
		ID:           uuid.NewString(),
		UserID:       userID,
		WalletNumber: uniqueNumber(),
		Balance:      balance,
		Currency:     "NGN",
		CreatedAt:    time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return w
}

func TestPostgresCreateWallet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, s)
	first := seedWallet(t, s, owner.ID, 0)

	// A second create for the same owner returns the existing wallet.
	again, err := s.CreateWallet(ctx, domain.Wallet{
		ID: uuid.NewString(), UserID: owner.ID, WalletNumber: uniqueNumber(), Currency: "NGN", CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.ID != first.ID || again.WalletNumber != first.WalletNumber {
		t.Errorf("got wallet %s/%s, want existing %s/%s", again.ID, again.WalletNumber, first.ID, first.WalletNumber)
	}

	other := seedUser(t, s)
	_, err = s.CreateWallet(ctx, domain.Wallet{
		ID: uuid.NewString(), UserID: other.ID, WalletNumber: first.WalletNumber, Currency: "NGN", CreatedAt: time.Now().UTC(),
	})
	if !errors.Is(err, ErrWalletNumberTaken) {
		t.Errorf("duplicate number: got %v, want ErrWalletNumberTaken", err)
	}

	exists, err := s.WalletNumberExists(ctx, first.WalletNumber)
	if err != nil || !exists {
		t.Errorf("WalletNumberExists = %v, %v; want true", exists, err)
	}
	if _, err := s.WalletByNumber(ctx, "0000000000000"); !errors.Is(err, domain.ErrWalletNotFound) {
		t.Errorf("unknown number: got %v", err)
	}
}

func TestPostgresBalanceNeverNegative(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, seedUser(t, s).ID, 100)

	err := s.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		_, err := tx.AdjustBalance(ctx, w.ID, -101)
		return err
	})
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("got %v, want ErrInsufficientBalance", err)
	}

	got, err := s.WalletByUser(ctx, w.UserID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Balance != 100 {
		t.Errorf("balance = %d, want 100", got.Balance)
	}
}

func TestPostgresRunInTxRollsBack(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, seedUser(t, s).ID, 0)
	ref := "dep_" + uuid.NewString()
	boom := errors.New("boom")

	err := s.RunInTx(ctx, func(ctx context.Context, tx LedgerTx) error {
		if _, err := tx.AdjustBalance(ctx, w.ID, 500); err != nil {
			return err
		}
		if err := tx.InsertTransaction(ctx, domain.Transaction{
			ID: uuid.NewString(), UserID: w.UserID, Type: domain.TransactionDeposit, Reference: ref,
			Amount: 500, Status: domain.StatusSuccess, WalletID: w.ID, Currency: "NGN", CreatedAt: time.Now().UTC(),
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}

	got, _ := s.WalletByUser(ctx, w.UserID)
	if got.Balance != 0 {
		t.Errorf("balance = %d after rollback, want 0", got.Balance)
	}
	if _, err := s.TransactionByReference(ctx, ref); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("transaction survived rollback: %v", err)
	}
}

func TestPostgresSettleOnlyPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	w := seedWallet(t, s, seedUser(t, s).ID, 0)
	ref := "dep_" + uuid.NewString()

	err := s.InsertTransaction(ctx, domain.Transaction{
		ID: uuid.NewString(), UserID: w.UserID, Type: domain.TransactionDeposit, Reference: ref,
		Amount: 2500, Status: domain.StatusPending, WalletID: w.ID, Currency: "NGN",
		Metadata:  map[string]string{"type": "wallet_deposit", "wallet_id": w.ID},
		CreatedAt: time.Now().UTC().Add(-48 * time.Hour),
	})
	if err != nil {
		t.Fatal(err)
	}

	pending, err := s.PendingDeposits(ctx, time.Now().UTC().Add(-24*time.Hour), 1000)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, p := range pending {
		if p.Reference == ref {
			found = true
			if p.Metadata["wallet_id"] != w.ID {
				t.Errorf("metadata = %v", p.Metadata)
			}
		}
	}
	if !found {
		t.Errorf("%s missing from pending deposits", ref)
	}

	changed, err := s.SettleTransaction(ctx, ref, domain.Settlement{Status: domain.StatusAbandoned})
	if err != nil || !changed {
		t.Fatalf("first settle = %v, %v; want true", changed, err)
	}
	changed, err = s.SettleTransaction(ctx, ref, domain.Settlement{Status: domain.StatusFailed})
	if err != nil || changed {
		t.Errorf("second settle = %v, %v; want false", changed, err)
	}
	got, _ := s.TransactionByReference(ctx, ref)
	if got.Status != domain.StatusAbandoned {
		t.Errorf("status = %s, want abandoned", got.Status)
	}

	if _, err := s.SettleTransaction(ctx, "dep_missing_"+uuid.NewString(), domain.Settlement{Status: domain.StatusFailed}); !errors.Is(err, domain.ErrTransactionNotFound) {
		t.Errorf("unknown reference: got %v", err)
	}
}

func TestPostgresIdempotencyLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idem := s.Idempotency()
	scope := "user:" + uuid.NewString()
	expires := time.Now().Add(time.Hour)

	_, reserved, err := idem.Reserve(ctx, scope, "k1", expires)
	if err != nil || !reserved {
		t.Fatalf("first reserve = %v, %v", reserved, err)
	}

	rec, reserved, err := idem.Reserve(ctx, scope, "k1", expires)
	if err != nil || reserved {
		t.Fatalf("second reserve = %v, %v; want held", reserved, err)
	}
	if rec.State != idempotency.StateInProgress {
		t.Errorf("state = %s, want in_progress", rec.State)
	}

	resp := idempotency.Response{StatusCode: 200, ContentType: "application/json", Body: []byte(`{"status":"success"}`)}
	if err := idem.Complete(ctx, scope, "k1", resp, expires); err != nil {
		t.Fatal(err)
	}
	rec, reserved, err = idem.Reserve(ctx, scope, "k1", expires)
	if err != nil || reserved {
		t.Fatalf("reserve after complete = %v, %v", reserved, err)
	}
	if rec.State != idempotency.StateCompleted || rec.StatusCode != 200 || string(rec.Body) != string(resp.Body) {
		t.Errorf("replayed record = %+v", rec)
	}

	// Keys are scoped: the same key under another principal is free.
	if _, reserved, _ := idem.Reserve(ctx, "user:"+uuid.NewString(), "k1", expires); !reserved {
		t.Error("key leaked across scopes")
	}

	if err := idem.Release(ctx, scope, "k1"); err != nil {
		t.Fatal(err)
	}
	if _, reserved, _ := idem.Reserve(ctx, scope, "k1", expires); !reserved {
		t.Error("released key could not be reserved again")
	}
}

func TestPostgresIdempotencyExpiredTakeover(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idem := s.Idempotency()
	scope := "user:" + uuid.NewString()

	if _, reserved, err := idem.Reserve(ctx, scope, "old", time.Now().Add(-time.Minute)); err != nil || !reserved {
		t.Fatalf("seed reserve = %v, %v", reserved, err)
	}
	if _, reserved, err := idem.Reserve(ctx, scope, "old", time.Now().Add(time.Hour)); err != nil || !reserved {
		t.Errorf("expired record was not taken over: %v, %v", reserved, err)
	}
}

func TestPostgresAPIKeyCap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	owner := seedUser(t, s)
	now := time.Now().UTC()

	newKey := func(expires time.Time) domain.APIKey {
		id := uuid.NewString()
		return domain.APIKey{
			ID: id, UserID: owner.ID, Name: "ci",
			KeyHash:     fmt.Sprintf("%x", sha256.Sum256([]byte(id))),
			KeyPrefix:   "sk_live_test",
			Permissions: []domain.Permission{domain.PermissionRead},
			ExpiresAt:   expires, CreatedAt: now,
		}
	}

	// Expired keys do not count against the cap.
	if err := s.CreateAPIKey(ctx, newKey(now.Add(-time.Hour)), 2, now.Add(-2*time.Hour)); err != nil {
		t.Fatal(err)
	}
	first := newKey(now.Add(time.Hour))
	for _, k := range []domain.APIKey{first, newKey(now.Add(time.Hour))} {
		if err := s.CreateAPIKey(ctx, k, 2, now); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.CreateAPIKey(ctx, newKey(now.Add(time.Hour)), 2, now); !errors.Is(err, domain.ErrMaxKeysReached) {
		t.Fatalf("third active key: got %v, want ErrMaxKeysReached", err)
	}

	if err := s.RevokeAPIKey(ctx, owner.ID, first.ID); err != nil {
		t.Fatal(err)
	}
	if err := s.RevokeAPIKey(ctx, owner.ID, first.ID); !errors.Is(err, domain.ErrKeyAlreadyRevoked) {
		t.Errorf("second revoke: got %v", err)
	}
	if err := s.CreateAPIKey(ctx, newKey(now.Add(time.Hour)), 2, now); err != nil {
		t.Errorf("create after revoke: %v", err)
	}

	got, err := s.APIKeyByHash(ctx, first.KeyHash)
	if err != nil || !got.Revoked || got.Permissions[0] != domain.PermissionRead {
		t.Errorf("lookup by hash = %+v, %v", got, err)
	}
	keys, err := s.ListAPIKeys(ctx, owner.ID)
	if err != nil || len(keys) != 4 {
		t.Errorf("list = %d keys, %v; want 4", len(keys), err)
	}
}

func TestPostgresIdempotencyCleanup(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idem := s.Idempotency()
	scope := "user:" + uuid.NewString()

	for _, k := range []string{"a", "b", "c"} {
		if _, _, err := idem.Reserve(ctx, scope, k, time.Now().Add(-time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	if _, _, err := idem.Reserve(ctx, scope, "live", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	for {
		deleted, err := idem.CleanupExpired(ctx, 2)
		if err != nil {
			t.Fatal(err)
		}
		if deleted == 0 {
			break
		}
	}

	var left []string
	rows, err := s.Db.Query(ctx, "SELECT key FROM idempotency_keys WHERE principal = $1", scope)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatal(err)
		}
		left = append(left, k)
	}
	if len(left) != 1 || left[0] != "live" {
		t.Errorf("remaining keys = %v, want [live]", left)
	}
}

func TestPostgresConcurrentReserveHasOneWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	idem := s.Idempotency()
	scope := "user:" + uuid.NewString()
	expires := time.Now().Add(time.Minute)

	const callers = 16
	var (
		wg      sync.WaitGroup
		winners atomic.Int32
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, reserved, err := idem.Reserve(ctx, scope, "same-key", expires)
			if err != nil {
				t.Errorf("reserve: %v", err)
				return
			}
			if reserved {
				winners.Add(1)
				return
			}
			if rec == nil || rec.State != idempotency.StateInProgress {
				t.Errorf("loser saw %+v, want in_progress record", rec)
			}
		}()
	}
	wg.Wait()

	if n := winners.Load(); n != 1 {
		t.Fatalf("%d callers reserved the key, want exactly 1", n)
	}
}
