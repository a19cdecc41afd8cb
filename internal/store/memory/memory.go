// Package memory is an in-process implementation of the store interfaces.
// Every operation, including a whole RunInTx closure, runs under one mutex.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/punchamoorthee/walletops/internal/domain"
	"github.com/punchamoorthee/walletops/internal/store"
)

type Store struct {
	mu sync.Mutex

	users          map[string]domain.User
	wallets        map[string]domain.Wallet
	walletByUser   map[string]string
	walletByNumber map[string]string
	txs            []domain.Transaction
	txByRef        map[string]int
	keys           map[string]domain.APIKey
}

var (
	_ store.LedgerStore = (*Store)(nil)
	_ store.APIKeyStore = (*Store)(nil)
	_ store.UserStore   = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:          make(map[string]domain.User),
		wallets:        make(map[string]domain.Wallet),
		walletByUser:   make(map[string]string),
		walletByNumber: make(map[string]string),
		txByRef:        make(map[string]int),
		keys:           make(map[string]domain.APIKey),
	}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.LedgerTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &ledgerTx{
		s:       s,
		wallets: make(map[string]domain.Wallet),
		updated: make(map[string]domain.Transaction),
	}
	if err := fn(context.WithoutCancel(ctx), tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *Store) WalletByUser(_ context.Context, userID string) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletByUser[userID]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return s.wallets[id], nil
}

func (s *Store) WalletByNumber(_ context.Context, number string) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.walletByNumber[number]
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return s.wallets[id], nil
}

func (s *Store) WalletNumberExists(_ context.Context, number string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.walletByNumber[number]
	return ok, nil
}

func (s *Store) CreateWallet(_ context.Context, w domain.Wallet) (domain.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.walletByUser[w.UserID]; ok {
		return s.wallets[id], nil
	}
	if _, ok := s.walletByNumber[w.WalletNumber]; ok {
		return domain.Wallet{}, store.ErrWalletNumberTaken
	}
	s.wallets[w.ID] = w
	s.walletByUser[w.UserID] = w.ID
	s.walletByNumber[w.WalletNumber] = w.ID
	return w, nil
}

// SetBalance is a test helper for funding a wallet directly.
func (s *Store) SetBalance(walletID string, balance int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[walletID]
	w.Balance = balance
	s.wallets[walletID] = w
}

func (s *Store) InsertTransaction(_ context.Context, t domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.txByRef[t.Reference]; ok {
		return fmt.Errorf("duplicate transaction reference %q", t.Reference)
	}
	s.appendTx(t)
	return nil
}

func (s *Store) appendTx(t domain.Transaction) {
	s.txByRef[t.Reference] = len(s.txs)
	s.txs = append(s.txs, t)
}

func (s *Store) TransactionByReference(_ context.Context, reference string) (domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.txByRef[reference]
	if !ok {
		return domain.Transaction{}, domain.ErrTransactionNotFound
	}
	return s.txs[i], nil
}

func (s *Store) TransactionsByUser(_ context.Context, userID string) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for i := len(s.txs) - 1; i >= 0; i-- {
		if s.txs[i].UserID == userID {
			out = append(out, s.txs[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) PendingDeposits(_ context.Context, createdBefore time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Transaction
	for _, t := range s.txs {
		if len(out) == limit {
			break
		}
		if t.Type == domain.TransactionDeposit && t.Status == domain.StatusPending && t.CreatedAt.Before(createdBefore) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Store) SettleTransaction(_ context.Context, reference string, st domain.Settlement) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.txByRef[reference]
	if !ok {
		return false, domain.ErrTransactionNotFound
	}
	if s.txs[i].Status != domain.StatusPending {
		return false, nil
	}
	s.txs[i] = applySettlement(s.txs[i], st)
	return true, nil
}

func applySettlement(t domain.Transaction, st domain.Settlement) domain.Transaction {
	t.Status = st.Status
	if st.Channel != "" {
		t.Channel = st.Channel
	}
	if st.Currency != "" {
		t.Currency = st.Currency
	}
	if st.PaidAt != nil {
		t.PaidAt = st.PaidAt
	}
	return t
}

type ledgerTx struct {
	s        *Store
	wallets  map[string]domain.Wallet
	inserted []domain.Transaction
	updated  map[string]domain.Transaction
}

func (tx *ledgerTx) wallet(id string) (domain.Wallet, bool) {
	if w, ok := tx.wallets[id]; ok {
		return w, true
	}
	w, ok := tx.s.wallets[id]
	return w, ok
}

func (tx *ledgerTx) LockWallet(_ context.Context, walletID string) (domain.Wallet, error) {
	w, ok := tx.wallet(walletID)
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	return w, nil
}

func (tx *ledgerTx) AdjustBalance(_ context.Context, walletID string, delta int64) (domain.Wallet, error) {
	w, ok := tx.wallet(walletID)
	if !ok {
		return domain.Wallet{}, domain.ErrWalletNotFound
	}
	if w.Balance+delta < 0 {
		return domain.Wallet{}, domain.ErrInsufficientBalance
	}
	w.Balance += delta
	tx.wallets[walletID] = w
	return w, nil
}

func (tx *ledgerTx) InsertTransaction(_ context.Context, t domain.Transaction) error {
	if _, err := tx.transaction(t.Reference); err == nil {
		return fmt.Errorf("duplicate transaction reference %q", t.Reference)
	}
	tx.inserted = append(tx.inserted, t)
	return nil
}

func (tx *ledgerTx) transaction(reference string) (domain.Transaction, error) {
	if t, ok := tx.updated[reference]; ok {
		return t, nil
	}
	for _, t := range tx.inserted {
		if t.Reference == reference {
			return t, nil
		}
	}
	if i, ok := tx.s.txByRef[reference]; ok {
		return tx.s.txs[i], nil
	}
	return domain.Transaction{}, domain.ErrTransactionNotFound
}

func (tx *ledgerTx) LockTransaction(_ context.Context, reference string) (domain.Transaction, error) {
	return tx.transaction(reference)
}

func (tx *ledgerTx) UpdateTransaction(_ context.Context, reference string, st domain.Settlement) error {
	t, err := tx.transaction(reference)
	if err != nil {
		return err
	}
	tx.updated[reference] = applySettlement(t, st)
	return nil
}

func (tx *ledgerTx) commit() {
	for id, w := range tx.wallets {
		tx.s.wallets[id] = w
	}
	for _, t := range tx.inserted {
		tx.s.appendTx(t)
	}
	for ref, t := range tx.updated {
		tx.s.txs[tx.s.txByRef[ref]] = t
	}
}
