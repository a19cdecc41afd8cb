package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/punchamoorthee/walletops/internal/clock"
	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/paystack"
	"github.com/punchamoorthee/walletops/internal/store/memory"
)

const webhookSecret = "sk_test_webhook"

type fakeProvider struct {
	mu           sync.Mutex
	initErr      error
	initialized  []paystack.InitializeRequest
	verification map[string]paystack.Verification
	verifyErr    error
}

func (p *fakeProvider) Initialize(_ context.Context, req paystack.InitializeRequest) (paystack.Checkout, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = append(p.initialized, req)
	if p.initErr != nil {
		return paystack.Checkout{}, p.initErr
	}
	return paystack.Checkout{
		AuthorizationURL: "https://checkout.paystack.com/" + req.Reference,
		Reference:        req.Reference,
	}, nil
}

func (p *fakeProvider) Verify(_ context.Context, reference string) (paystack.Verification, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifyErr != nil {
		return paystack.Verification{}, p.verifyErr
	}
	v, ok := p.verification[reference]
	if !ok {
		return paystack.Verification{}, errors.New("not found")
	}
	return v, nil
}

type fixture struct {
	store     *memory.Store
	clock     *clock.Fixed
	provider  *fakeProvider
	wallets   *WalletService
	transfers *TransferService
	deposits  *DepositService
	keys      *KeyService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	c := &clock.Fixed{T: time.Date(2025, 5, 10, 8, 30, 0, 0, time.UTC)}
	p := &fakeProvider{verification: map[string]paystack.Verification{}}
	wallets := NewWalletService(st, c)
	return &fixture{
		store:     st,
		clock:     c,
		provider:  p,
		wallets:   wallets,
		transfers: NewTransferService(st, wallets, c, nil),
		deposits:  NewDepositService(st, st, wallets, p, webhookSecret, c, nil),
		keys:      NewKeyService(st, c),
	}
}

// fundedWallet registers a user and gives their wallet balance minor units.
func (f *fixture) fundedWallet(t *testing.T, userID string, balance int64) domain.Wallet {
	t.Helper()
	ctx := context.Background()
	if err := f.store.CreateUser(ctx, domain.User{ID: userID, Email: userID + "@example.com", Role: "user"}); err != nil {
		t.Fatalf("create user: %v", err)
	}
	w, err := f.wallets.GetOrCreateWallet(ctx, userID)
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	f.store.SetBalance(w.ID, balance)
	w.Balance = balance
	return w
}

func (f *fixture) balance(t *testing.T, userID string) int64 {
	t.Helper()
	w, err := f.store.WalletByUser(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet lookup: %v", err)
	}
	return w.Balance
}

func (f *fixture) history(t *testing.T, userID string) []domain.Transaction {
	t.Helper()
	txs, err := f.wallets.History(context.Background(), userID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	return txs
}
