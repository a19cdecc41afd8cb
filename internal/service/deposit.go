package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/logger"
	"github.com/punchamoorthee/walletops/internal/metrics"
	"github.com/punchamoorthee/walletops/internal/paystack"
	"github.com/punchamoorthee/walletops/internal/store"
	"github.com/sirupsen/logrus"
)

// PaymentProvider is the hosted-checkout API deposits go through.
type PaymentProvider interface {
	Initialize(ctx context.Context, req paystack.InitializeRequest) (paystack.Checkout, error)
	Verify(ctx context.Context, reference string) (paystack.Verification, error)
}

type DepositCheckout struct {
	Reference        string
	AuthorizationURL string
}

type DepositService struct {
	ledger        store.LedgerStore
	users         store.UserStore
	wallets       *WalletService
	provider      PaymentProvider
	webhookSecret string
	clock         clock.Clock
	metrics       *metrics.Metrics
}

func NewDepositService(
	ledger store.LedgerStore,
	users store.UserStore,
	wallets *WalletService,
	provider PaymentProvider,
	webhookSecret string,
	c clock.Clock,
	m *metrics.Metrics,
) *DepositService {
	if c == nil {
		c = clock.RealClock{}
	}
	return &DepositService{
		ledger:        ledger,
		users:         users,
		wallets:       wallets,
		provider:      provider,
		webhookSecret: webhookSecret,
		clock:         c,
		metrics:       m,
	}
}

// InitiateDeposit records a pending deposit and opens a provider checkout for
// it. The record is written first so a webhook can never arrive for a
// reference the ledger does not know.
func (s *DepositService) InitiateDeposit(ctx context.Context, userID string, amount int64) (DepositCheckout, error) {
	if amount <= 0 {
		return DepositCheckout{}, domain.ErrInvalidAmount
	}
	user, err := s.users.UserByID(ctx, userID)
	if err != nil {
		return DepositCheckout{}, err
	}
	wallet, err := s.wallets.GetOrCreateWallet(ctx, userID)
	if err != nil {
		return DepositCheckout{}, err
	}

	reference := newReference("dep_")
	now := s.clock.Now()
	err = s.ledger.InsertTransaction(ctx, domain.Transaction{
		ID:        uuid.NewString(),
		UserID:    userID,
		Type:      domain.TransactionDeposit,
		Reference: reference,
		Amount:    amount,
		Status:    domain.StatusPending,
		WalletID:  wallet.ID,
		Email:     user.Email,
		Currency:  wallet.Currency,
		Metadata:  map[string]string{"type": paystack.DepositMetadataType, "wallet_id": wallet.ID},
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		s.metrics.ObserveDepositInit("error")
		return DepositCheckout{}, fmt.Errorf("deposit insert failed: %w", err)
	}

	log := logger.WithFields(logrus.Fields{"user_id": userID, "reference": reference, "amount": amount})

	checkout, err := s.provider.Initialize(ctx, paystack.InitializeRequest{
		Email:     user.Email,
		Amount:    amount,
		Reference: reference,
		Metadata: paystack.Metadata{
			UserID:   userID,
			WalletID: wallet.ID,
			Type:     paystack.DepositMetadataType,
		},
	})
	if err != nil {
		log.WithError(err).Error("deposit initialization failed")
		s.metrics.ObserveDepositInit("provider_error")
		if _, serr := s.ledger.SettleTransaction(context.WithoutCancel(ctx), reference, domain.Settlement{Status: domain.StatusFailed}); serr != nil {
			log.WithError(serr).Warn("could not mark deposit failed")
		}
		return DepositCheckout{}, fmt.Errorf("%w: %v", domain.ErrProviderUnavailable, err)
	}

	s.metrics.ObserveDepositInit("success")
	log.Info("deposit initialized")
	return DepositCheckout{Reference: reference, AuthorizationURL: checkout.AuthorizationURL}, nil
}

// HandleWebhook authenticates a provider delivery and settles the deposit it
// names. Only ErrInvalidSignature and store failures are returned; deliveries
// that do not apply are logged and dropped.
func (s *DepositService) HandleWebhook(ctx context.Context, rawBody []byte, signature string) error {
	if !paystack.VerifySignature(s.webhookSecret, rawBody, signature) {
		s.metrics.ObserveWebhook("unknown", "bad_signature")
		logger.Warn("webhook signature rejected")
		return domain.ErrInvalidSignature
	}

	var ev paystack.Event
	if err := json.Unmarshal(rawBody, &ev); err != nil {
		s.metrics.ObserveWebhook("unknown", "malformed")
		logger.WithError(err).Warn("webhook body could not be decoded")
		return nil
	}

	log := logger.WithFields(logrus.Fields{"event": ev.Event, "reference": ev.Data.Reference})
	if ev.Data.Metadata.Type != paystack.DepositMetadataType {
		s.metrics.ObserveWebhook(ev.Event, "ignored")
		log.Debugf("ignoring webhook with metadata type %q", ev.Data.Metadata.Type)
		return nil
	}

	var status domain.TransactionStatus
	switch ev.Event {
	case paystack.EventChargeSuccess:
		status = domain.StatusSuccess
	case paystack.EventChargeFailed:
		status = domain.StatusFailed
	default:
		s.metrics.ObserveWebhook(ev.Event, "ignored")
		log.Info("ignoring unhandled webhook event")
		return nil
	}

	outcome := "applied"
	var credited int64
	err := s.ledger.RunInTx(ctx, func(ctx context.Context, tx store.LedgerTx) error {
		t, err := tx.LockTransaction(ctx, ev.Data.Reference)
		if errors.Is(err, domain.ErrTransactionNotFound) {
			outcome = "unknown_reference"
			return nil
		}
		if err != nil {
			return err
		}
		if t.Type != domain.TransactionDeposit {
			outcome = "ignored"
			return nil
		}
		if t.Status == domain.StatusSuccess {
			outcome = "duplicate"
			return nil
		}

		if status == domain.StatusFailed {
			return tx.UpdateTransaction(ctx, t.Reference, domain.Settlement{Status: domain.StatusFailed})
		}

		if ev.Data.Amount != 0 && ev.Data.Amount != t.Amount {
			log.WithFields(logrus.Fields{"recorded": t.Amount, "reported": ev.Data.Amount}).Warn("webhook amount differs from recorded deposit")
		}
		if _, err := creditInTx(ctx, tx, t.WalletID, t.Amount); err != nil {
			return fmt.Errorf("deposit credit failed: %w", err)
		}
		paidAt := ev.Data.PaidAt
		if paidAt == nil {
			now := s.clock.Now()
			paidAt = &now
		}
		credited = t.Amount
		return tx.UpdateTransaction(ctx, t.Reference, domain.Settlement{
			Status:   domain.StatusSuccess,
			Channel:  ev.Data.Channel,
			Currency: ev.Data.Currency,
			PaidAt:   paidAt,
		})
	})
	if err != nil {
		s.metrics.ObserveWebhook(ev.Event, "error")
		log.WithError(err).Error("webhook settlement failed")
		return err
	}

	s.metrics.ObserveWebhook(ev.Event, outcome)
	if credited > 0 {
		s.metrics.ObserveDepositCredit(credited)
	}
	log.WithField("outcome", outcome).Info("webhook processed")
	return nil
}

// DepositStatus reports a deposit owned by userID. It never talks to the
// provider and never credits.
func (s *DepositService) DepositStatus(ctx context.Context, userID, reference string) (domain.Transaction, error) {
	t, err := s.ledger.TransactionByReference(ctx, reference)
	if err != nil {
		return domain.Transaction{}, err
	}
	if t.UserID != userID || t.Type != domain.TransactionDeposit {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return t, nil
}

const sweepBatchSize = 100

// SweepAbandoned asks the provider about deposits still pending after
// olderThan and closes the ones it reports as failed or abandoned. Credits
// only ever come from the webhook.
func (s *DepositService) SweepAbandoned(ctx context.Context, olderThan time.Duration) (int, error) {
	pending, err := s.ledger.PendingDeposits(ctx, s.clock.Now().Add(-olderThan), sweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("pending deposit query failed: %w", err)
	}

	settled := 0
	for _, t := range pending {
		if ctx.Err() != nil {
			return settled, ctx.Err()
		}
		log := logger.WithField("reference", t.Reference)
		v, err := s.provider.Verify(ctx, t.Reference)
		if err != nil {
			log.WithError(err).Warn("deposit verification failed")
			continue
		}

		var status domain.TransactionStatus
		switch v.Status {
		case "failed":
			status = domain.StatusFailed
		case "abandoned":
			status = domain.StatusAbandoned
		case "success":
			log.Warn("provider reports success but no webhook was applied")
			continue
		default:
			continue
		}

		ok, err := s.ledger.SettleTransaction(ctx, t.Reference, domain.Settlement{
			Status:   status,
			Channel:  v.Channel,
			Currency: v.Currency,
		})
		if err != nil {
			log.WithError(err).Error("deposit settlement failed")
			continue
		}
		if ok {
			settled++
			s.metrics.ObserveSweep(string(status))
			log.WithField("status", status).Info("stale deposit closed")
		}
	}
	return settled, nil
}

// RunSweeper calls SweepAbandoned every interval until ctx is done.
func (s *DepositService) RunSweeper(ctx context.Context, interval, olderThan time.Duration) {
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
			if _, err := s.SweepAbandoned(ctx, olderThan); err != nil && ctx.Err() == nil {
				logger.Errorf("deposit sweep failed: %v", err)
			}
		}
	}
}
