package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/metrics"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/sirupsen/logrus"
)

type TransferInput struct {
	SenderUserID          string
	RecipientWalletNumber string
	Amount                int64
}

type TransferResult struct {
	Reference string
	Amount    int64
	Sender    domain.Wallet
	Recipient domain.Wallet
}

type TransferService struct {
	ledger  store.LedgerStore
	wallets *WalletService
	clock   clock.Clock
	metrics *metrics.Metrics
}

func NewTransferService(ledger store.LedgerStore, wallets *WalletService, c clock.Clock, m *metrics.Metrics) *TransferService {
	if c == nil {
		c = clock.RealClock{}
	}
	return &TransferService{ledger: ledger, wallets: wallets, clock: c, metrics: m}
}

// Transfer moves in.Amount from the sender's wallet to the wallet numbered
// in.RecipientWalletNumber. Both balance changes and both audit records commit
// together with deterministic locking.
func (s *TransferService) Transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	res, err := s.transfer(ctx, in)
	s.metrics.ObserveTransfer(transferResult(err), in.Amount)

	log := logger.WithFields(logrus.Fields{
		"sender_user_id":   in.SenderUserID,
		"recipient_wallet": in.RecipientWalletNumber,
		"amount":           in.Amount,
	})
	switch {
	case err == nil:
		log.WithField("reference", res.Reference).Info("transfer committed")
	case isBusinessError(err):
		log.WithError(err).Info("transfer rejected")
	default:
		log.WithError(err).Error("transfer failed")
	}
	return res, err
}

func (s *TransferService) transfer(ctx context.Context, in TransferInput) (TransferResult, error) {
	// 1. Validation
	if in.Amount <= 0 {
		return TransferResult{}, domain.ErrInvalidAmount
	}
	sender, err := s.wallets.GetOrCreateWallet(ctx, in.SenderUserID)
	if err != nil {
		return TransferResult{}, err
	}
	recipient, err := s.ledger.WalletByNumber(ctx, in.RecipientWalletNumber)
	if errors.Is(err, domain.ErrWalletNotFound) {
		return TransferResult{}, domain.ErrRecipientNotFound
	}
	if err != nil {
		return TransferResult{}, fmt.Errorf("recipient lookup failed: %w", err)
	}
	if sender.ID == recipient.ID {
		return TransferResult{}, domain.ErrInvalidTransfer
	}

	reference := newReference("txf_")
	res := TransferResult{Reference: reference, Amount: in.Amount}

	err = s.ledger.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		// 2. Deterministic Locking (Deadlock Prevention)
		first, second := sender.ID, recipient.ID
		if first > second {
			first, second = second, first
		}
		locked := make(map[string]domain.Wallet, 2)
		for _, id := range []string{first, second} {
			w, err := tx.LockWallet(ctx, id)
			if err != nil {
				return fmt.Errorf("lock acquisition failed: %w", err)
			}
			locked[id] = w
		}

		// 3. Business Logic Check and Balance Update
		var err error
		if res.Sender, err = debitLocked(ctx, tx, locked[sender.ID], in.Amount); err != nil {
			return err
		}
		if res.Recipient, err = creditInTx(ctx, tx, recipient.ID, in.Amount); err != nil {
			return err
		}

		// 4. Audit Records
		now := s.clock.Now()
		out := domain.Transaction{
			ID:                uuid.NewString(),
			UserID:            sender.UserID,
			Type:              domain.TransactionTransfer,
			Reference:         reference,
			Amount:            in.Amount,
			Status:            domain.StatusSuccess,
			Direction:         domain.DirectionOutgoing,
			WalletID:          sender.ID,
			SenderWalletID:    sender.ID,
			RecipientWalletID: recipient.ID,
			Currency:          sender.Currency,
			CreatedAt:         now,
			UpdatedAt:         now,
		}
		if err := tx.InsertTransaction(ctx, out); err != nil {
			return fmt.Errorf("transfer insert failed: %w", err)
		}

		incoming := out
		incoming.ID = uuid.NewString()
		incoming.UserID = recipient.UserID
		incoming.Reference = reference + "_in"
		incoming.Direction = domain.DirectionIncoming
		incoming.WalletID = recipient.ID
		if err := tx.InsertTransaction(ctx, incoming); err != nil {
			return fmt.Errorf("transfer insert failed: %w", err)
		}
		return nil
	})
	if err != nil {
		return TransferResult{}, err
	}
	return res, nil
}

func transferResult(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance"
	case isBusinessError(err):
		return "rejected"
	default:
		return "error"
	}
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		domain.ErrInvalidAmount,
		domain.ErrInsufficientBalance,
		domain.ErrInvalidTransfer,
		domain.ErrRecipientNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
