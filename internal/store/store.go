package store

import (
	"context"
	"errors"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
)

// ErrWalletNumberTaken is returned by CreateWallet when the candidate number
// already belongs to another wallet.
var ErrWalletNumberTaken = errors.New("wallet number already in use")

// LedgerStore persists wallets and transactions. Multi-row changes go through
// RunInTx so that they commit or roll back together.
type LedgerStore interface {
	// RunInTx runs fn in a single unit of work. A non-nil error from fn
	// discards every write fn made. The context handed to fn is detached from
	// the caller's cancellation so a started unit always commits or aborts.
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error

	WalletByUser(ctx context.Context, userID string) (domain.Wallet, error)
	WalletByNumber(ctx context.Context, number string) (domain.Wallet, error)
	WalletNumberExists(ctx context.Context, number string) (bool, error)
	// CreateWallet inserts w. When the owner already has a wallet (a
	// concurrent first access won the race) the existing wallet is returned.
	CreateWallet(ctx context.Context, w domain.Wallet) (domain.Wallet, error)

	InsertTransaction(ctx context.Context, t domain.Transaction) error
	TransactionByReference(ctx context.Context, reference string) (domain.Transaction, error)
	TransactionsByUser(ctx context.Context, userID string) ([]domain.Transaction, error)
	PendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error)
	// SettleTransaction moves a transaction out of pending without touching
	// any balance. Rows no longer pending are left alone.
	SettleTransaction(ctx context.Context, reference string, s domain.Settlement) (bool, error)
}

// LedgerTx is the view of the ledger inside RunInTx.
type LedgerTx interface {
	// LockWallet reads the wallet and holds it until the unit of work ends.
	// Callers locking more than one wallet must lock in ascending ID order.
	LockWallet(ctx context.Context, walletID string) (domain.Wallet, error)
	AdjustBalance(ctx context.Context, walletID string, delta int64) (domain.Wallet, error)
	InsertTransaction(ctx context.Context, t domain.Transaction) error
	LockTransaction(ctx context.Context, reference string) (domain.Transaction, error)
	UpdateTransaction(ctx context.Context, reference string, s domain.Settlement) error
}

// APIKeyStore is the credential half of the store.
type APIKeyStore interface {
	// CreateAPIKey persists k unless the owner already holds maxActive keys
	// that are neither revoked nor expired at now, in which case it returns
	// domain.ErrMaxKeysReached. Count and insert are atomic per owner.
	CreateAPIKey(ctx context.Context, k domain.APIKey, maxActive int, now time.Time) error
	APIKeyByHash(ctx context.Context, hash string) (domain.APIKey, error)
	APIKeyByID(ctx context.Context, userID, keyID string) (domain.APIKey, error)
	ListAPIKeys(ctx context.Context, userID string) ([]domain.APIKey, error)
	// RevokeAPIKey returns domain.ErrKeyAlreadyRevoked when the flag was
	// already set.
	RevokeAPIKey(ctx context.Context, userID, keyID string) error
}

type UserStore interface {
	UserByID(ctx context.Context, id string) (domain.User, error)
	CreateUser(ctx context.Context, u domain.User) error
}
