package service

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/rand"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/sirupsen/logrus"
)

const walletNumberAttempts = 5

// NumberGenerator produces candidate 13-digit wallet numbers.
type NumberGenerator func() string

type WalletService struct {
	ledger  store.LedgerStore
	clock   clock.Clock
	numbers NumberGenerator
}

func NewWalletService(ledger store.LedgerStore, c clock.Clock) *WalletService {
	if c == nil {
		c = clock.RealClock{}
	}
	s := &WalletService{ledger: ledger, clock: c}
	s.numbers = s.timeBasedNumber
	return s
}

// WithNumberGenerator replaces the wallet number source. Tests use it to force
// collisions.
func (s *WalletService) WithNumberGenerator(g NumberGenerator) *WalletService {
	s.numbers = g
	return s
}

// timeBasedNumber is the last 10 digits of the unix-ms clock followed by 3
// random digits.
func (s *WalletService) timeBasedNumber() string {
	ms := s.clock.Now().UnixMilli() % 10_000_000_000
	return fmt.Sprintf("%010d%03d", ms, rand.Intn(1000))
}

// GetOrCreateWallet returns the user's wallet, creating an empty one on first
// access.
func (s *WalletService) GetOrCreateWallet(ctx context.Context, userID string) (domain.Wallet, error) {
	w, err := s.ledger.WalletByUser(ctx, userID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrWalletNotFound) {
		return domain.Wallet{}, fmt.Errorf("wallet lookup failed: %w", err)
	}

	for attempt := 1; attempt <= walletNumberAttempts; attempt++ {
		number := s.numbers()
		taken, err := s.ledger.WalletNumberExists(ctx, number)
		if err != nil {
			return domain.Wallet{}, fmt.Errorf("wallet number lookup failed: %w", err)
		}
		if taken {
			continue
		}

		now := s.clock.Now()
		w, err := s.ledger.CreateWallet(ctx, domain.Wallet{
			ID:           uuid.NewString(),
			UserID:       userID,
			WalletNumber: number,
			Currency:     domain.DefaultCurrency,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if errors.Is(err, store.ErrWalletNumberTaken) {
			continue
		}
		if err != nil {
			return domain.Wallet{}, fmt.Errorf("wallet create failed: %w", err)
		}
		if w.WalletNumber == number {
			logger.WithFields(logrus.Fields{"user_id": userID, "wallet_number": number}).Info("wallet created")
		}
		return w, nil
	}
	return domain.Wallet{}, domain.ErrWalletNumberExhausted
}

func (s *WalletService) Credit(ctx context.Context, walletID string, amount int64) (domain.Wallet, error) {
	var out domain.Wallet
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		var err error
		out, err = creditInTx(ctx, tx, walletID, amount)
		return err
	})
	return out, err
}

func (s *WalletService) Debit(ctx context.Context, walletID string, amount int64) (domain.Wallet, error) {
	if amount <= 0 {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	var out domain.Wallet
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		w, err := tx.LockWallet(ctx, walletID)
		if err != nil {
			return err
		}
		out, err = debitLocked(ctx, tx, w, amount)
		return err
	})
	return out, err
}

// creditInTx is the single place balances grow. Transfers and deposit
// settlement call it inside their own unit of work.
func creditInTx(ctx context.Context, tx store.LedgerTx, walletID string, amount int64) (domain.Wallet, error) {
	if amount <= 0 {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	return tx.AdjustBalance(ctx, walletID, amount)
}

// debitLocked takes amount from w, which the caller must already hold
// through tx.LockWallet so the balance check cannot go stale.
func debitLocked(ctx context.Context, tx store.LedgerTx, w domain.Wallet, amount int64) (domain.Wallet, error) {
	if amount <= 0 {
		return domain.Wallet{}, domain.ErrInvalidAmount
	}
	if w.Balance < amount {
		return domain.Wallet{}, domain.ErrInsufficientBalance
	}
	return tx.AdjustBalance(ctx, w.ID, -amount)
}

func (s *WalletService) Balance(ctx context.Context, userID string) (domain.Wallet, error) {
	return s.GetOrCreateWallet(ctx, userID)
}

// History lists the user's transactions, newest first.
func (s *WalletService) History(ctx context.Context, userID string) ([]domain.Transaction, error) {
	return s.ledger.TransactionsByUser(ctx, userID)
}

// newReference returns prefix followed by 32 hex characters.
func newReference(prefix string) string {
	id := uuid.New()
	return prefix + hex.EncodeToString(id[:])
}
