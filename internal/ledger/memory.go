package ledger

import (
	"context"
	"sort"
	"sync"
)

// memoryStore is a concurrency-safe in-memory ledger backend used by unit
// tests and by dev mode when no database is configured. Each wallet has its
// own mutex so unrelated owners never serialize against each other; the
// store-wide mutex only guards map bookkeeping.
type memoryStore struct {
	mu      sync.Mutex
	wallets map[string]Wallet
	entries []Transaction
	byID    map[int64]int
	nextID  int64
	locks   map[string]*sync.Mutex
}

// NewMemory creates an in-memory ledger store.
func NewMemory() Store {
	return &memoryStore{
		wallets: make(map[string]Wallet),
		byID:    make(map[int64]int),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *memoryStore) walletLock(ownerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[ownerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[ownerID] = l
	}
	return l
}

// Atomically locks the named owners' wallets in ascending order, runs fn
// against a buffered view, and commits the buffered writes only when fn
// returns nil.
func (s *memoryStore) Atomically(_ context.Context, ownerIDs []string, fn func(tx Tx) error) error {
	owners := dedupeSorted(ownerIDs)
	for _, o := range owners {
		s.walletLock(o).Lock()
	}
	defer func() {
		for i := len(owners) - 1; i >= 0; i-- {
			s.locks[owners[i]].Unlock()
		}
	}()

	view := &memoryTx{
		s:        s,
		wallets:  make(map[string]Wallet),
		statuses: make(map[int64]Status),
	}
	if err := fn(view); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for owner, w := range view.wallets {
		s.wallets[owner] = w
	}
	for id, status := range view.statuses {
		s.entries[s.byID[id]].Status = status
	}
	for _, tx := range view.appends {
		s.nextID++
		tx.ID = s.nextID
		s.entries = append(s.entries, *tx)
		s.byID[tx.ID] = len(s.entries) - 1
	}
	return nil
}

func (s *memoryStore) WalletByOwner(_ context.Context, ownerID string) (Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (s *memoryStore) TransactionByID(_ context.Context, id int64) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx, ok := s.byID[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.entries[idx], nil
}

func (s *memoryStore) Transactions(_ context.Context, f Filter) ([]Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []Transaction
	for i := len(s.entries) - 1; i >= 0; i-- {
		if f.Matches(s.entries[i]) {
			matched = append(matched, s.entries[i])
		}
	}
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, nil
}

func (s *memoryStore) OpenHold(_ context.Context, referenceID string) (Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return openHoldLocked(s.entries, referenceID, nil)
}

func openHoldLocked(entries []Transaction, referenceID string, overrides map[int64]Status) (Transaction, error) {
	for _, tx := range entries {
		if tx.ReferenceID != referenceID || tx.Type != TypeEscrowHold {
			continue
		}
		status := tx.Status
		if overrides != nil {
			if o, ok := overrides[tx.ID]; ok {
				status = o
			}
		}
		if status == StatusEscrowed {
			return tx, nil
		}
	}
	return Transaction{}, ErrEscrowNotFound
}

// memoryTx buffers writes so a failing operation leaves no trace. Wallet
// reads see the staged state first, then committed state.
type memoryTx struct {
	s        *memoryStore
	wallets  map[string]Wallet
	appends  []*Transaction
	statuses map[int64]Status
}

func (t *memoryTx) Wallet(_ context.Context, ownerID string) (Wallet, error) {
	if w, ok := t.wallets[ownerID]; ok {
		return w, nil
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	w, ok := t.s.wallets[ownerID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (t *memoryTx) CreateWallet(_ context.Context, w Wallet) error {
	if _, ok := t.wallets[w.OwnerID]; ok {
		return ErrWalletExists
	}
	t.s.mu.Lock()
	_, exists := t.s.wallets[w.OwnerID]
	t.s.mu.Unlock()
	if exists {
		return ErrWalletExists
	}
	t.wallets[w.OwnerID] = w
	return nil
}

func (t *memoryTx) SaveWallet(_ context.Context, w Wallet) error {
	t.wallets[w.OwnerID] = w
	return nil
}

func (t *memoryTx) Append(_ context.Context, tx *Transaction) error {
	t.appends = append(t.appends, tx)
	return nil
}

func (t *memoryTx) SetStatus(_ context.Context, id int64, status Status) error {
	t.s.mu.Lock()
	_, ok := t.s.byID[id]
	t.s.mu.Unlock()
	if !ok {
		return ErrTransactionNotFound
	}
	t.statuses[id] = status
	return nil
}

func (t *memoryTx) OpenHold(_ context.Context, referenceID string) (Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return openHoldLocked(t.s.entries, referenceID, t.statuses)
}

func (t *memoryTx) ByReference(_ context.Context, referenceID string, typ Type, status Status) ([]Transaction, error) {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	var matched []Transaction
	for _, tx := range t.s.entries {
		if tx.ReferenceID != referenceID || tx.Type != typ {
			continue
		}
		effective := tx.Status
		if o, ok := t.statuses[tx.ID]; ok {
			effective = o
		}
		if status != "" && effective != status {
			continue
		}
		matched = append(matched, tx)
	}
	return matched, nil
}

func dedupeSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
