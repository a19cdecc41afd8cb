package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/punchamoorthee/walletops/internal/domain"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const walletColumns = `id::text, user_id::text, wallet_number, balance, currency, created_at, updated_at`

const transactionColumns = `id::text, user_id::text, type, reference, amount, status,
	COALESCE(direction, ''), COALESCE(wallet_id::text, ''),
	COALESCE(sender_wallet_id::text, ''), COALESCE(recipient_wallet_id::text, ''),
	email, currency, channel, paid_at, metadata, created_at, updated_at`

func scanWallet(row pgx.Row) (domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(&w.ID, &w.UserID, &w.WalletNumber, &w.Balance, &w.Currency, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, err
}

func scanTransaction(row pgx.Row) (domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.UserID, &t.Type, &t.Reference, &t.Amount, &t.Status,
		&t.Direction, &t.WalletID, &t.SenderWalletID, &t.RecipientWalletID,
		&t.Email, &t.Currency, &t.Channel, &t.PaidAt, &t.Metadata, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return t, err
}

// RunInTx executes fn inside a READ COMMITTED transaction. Callers serialize
// on rows through LockWallet/LockTransaction (SELECT ... FOR UPDATE).
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx LedgerTx) error) error {
	ctx = context.WithoutCancel(ctx)

	tx, err := s.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &pgLedgerTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (s *Store) WalletByUser(ctx context.Context, userID string) (domain.Wallet, error) {
	return scanWallet(s.Db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

func (s *Store) WalletByNumber(ctx context.Context, number string) (domain.Wallet, error) {
	return scanWallet(s.Db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE wallet_number = $1`, number))
}

func (s *Store) WalletNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := s.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM wallets WHERE wallet_number = $1)", number).Scan(&exists)
	return exists, err
}

func (s *Store) CreateWallet(ctx context.Context, w domain.Wallet) (domain.Wallet, error) {
	created, err := scanWallet(s.Db.QueryRow(ctx, `
INSERT INTO wallets (id, user_id, wallet_number, balance, currency, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6)
ON CONFLICT (user_id) DO NOTHING
RETURNING `+walletColumns,
		w.ID, w.UserID, w.WalletNumber, w.Balance, w.Currency, w.CreatedAt,
	))
	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, domain.ErrWalletNotFound):
		// Lost the race against another first access for the same owner.
		return s.WalletByUser(ctx, w.UserID)
	case isUniqueViolation(err, "wallets_wallet_number_key"):
		return domain.Wallet{}, ErrWalletNumberTaken
	default:
		return domain.Wallet{}, fmt.Errorf("wallet insert failed: %w", err)
	}
}

func insertTransaction(ctx context.Context, q querier, t domain.Transaction) error {
	metadata := t.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	_, err := q.Exec(ctx, `
INSERT INTO transactions (id, user_id, type, reference, amount, status, direction, wallet_id,
	sender_wallet_id, recipient_wallet_id, email, currency, channel, paid_at, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $16)`,
		t.ID, t.UserID, string(t.Type), t.Reference, t.Amount, string(t.Status), nullable(string(t.Direction)),
		nullable(t.WalletID), nullable(t.SenderWalletID), nullable(t.RecipientWalletID),
		t.Email, t.Currency, t.Channel, t.PaidAt, metadata, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("transaction insert failed (%s): %w", t.Reference, err)
	}
	return nil
}

func (s *Store) InsertTransaction(ctx context.Context, t domain.Transaction) error {
	return insertTransaction(ctx, s.Db, t)
}

func (s *Store) TransactionByReference(ctx context.Context, reference string) (domain.Transaction, error) {
	return scanTransaction(s.Db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1`, reference))
}

func (s *Store) TransactionsByUser(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func (s *Store) PendingDeposits(ctx context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := s.Db.Query(ctx, `
SELECT `+transactionColumns+`
FROM transactions
WHERE type = 'deposit' AND status = 'pending' AND created_at < $1
ORDER BY created_at
LIMIT $2`, createdBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTransactions(rows)
}

func collectTransactions(rows pgx.Rows) ([]domain.Transaction, error) {
	defer rows.Close()
	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

const settleSQL = `
UPDATE transactions
SET status = $2,
    channel = COALESCE(NULLIF($3, ''), channel),
    currency = COALESCE(NULLIF($4, ''), currency),
    paid_at = COALESCE($5, paid_at),
    updated_at = NOW()
WHERE reference = $1`

func (s *Store) SettleTransaction(ctx context.Context, reference string, st domain.Settlement) (bool, error) {
	tag, err := s.Db.Exec(ctx, settleSQL+` AND status = 'pending'`,
		reference, string(st.Status), st.Channel, st.Currency, st.PaidAt)
	if err != nil {
		return false, fmt.Errorf("settle transaction failed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.TransactionByReference(ctx, reference); err != nil {
		return false, err
	}
	return false, nil
}

type pgLedgerTx struct {
	tx pgx.Tx
}

func (t *pgLedgerTx) LockWallet(ctx context.Context, walletID string) (domain.Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, walletID))
}

func (t *pgLedgerTx) AdjustBalance(ctx context.Context, walletID string, delta int64) (domain.Wallet, error) {
	w, err := scanWallet(t.tx.QueryRow(ctx,
		`UPDATE wallets SET balance = balance + $1, updated_at = NOW() WHERE id = $2 RETURNING `+walletColumns,
		delta, walletID))
	if isCheckViolation(err) {
		return domain.Wallet{}, domain.ErrInsufficientBalance
	}
	return w, err
}

func (t *pgLedgerTx) InsertTransaction(ctx context.Context, txn domain.Transaction) error {
	return insertTransaction(ctx, t.tx, txn)
}

func (t *pgLedgerTx) LockTransaction(ctx context.Context, reference string) (domain.Transaction, error) {
	return scanTransaction(t.tx.QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 FOR UPDATE`, reference))
}

func (t *pgLedgerTx) UpdateTransaction(ctx context.Context, reference string, st domain.Settlement) error {
	tag, err := t.tx.Exec(ctx, settleSQL, reference, string(st.Status), st.Channel, st.Currency, st.PaidAt)
	if err != nil {
		return fmt.Errorf("transaction update failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTransactionNotFound
	}
	return nil
}
