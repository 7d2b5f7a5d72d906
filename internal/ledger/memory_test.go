package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func seedWallet(t *testing.T, s Store, ownerID string, balance int64) Wallet {
	t.Helper()
	now := time.Now().UTC()
	w := Wallet{
		ID:             "w-" + ownerID,
		OwnerID:        ownerID,
		Balance:        decimal.NewFromInt(balance),
		PendingBalance: decimal.Zero,
		TotalEarned:    decimal.NewFromInt(balance),
		TotalSpent:     decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.Atomically(context.Background(), []string{ownerID}, func(tx Tx) error {
		return tx.CreateWallet(context.Background(), w)
	})
	if err != nil {
		t.Fatalf("seed wallet %s: %v", ownerID, err)
	}
	return w
}

func TestAtomicallyCommitsBufferedWrites(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 100)

	var entry Transaction
	err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
		w, err := tx.Wallet(ctx, "alice")
		if err != nil {
			return err
		}
		w.Debit(decimal.NewFromInt(40), time.Now().UTC())
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry = Transaction{
			FromOwnerID:  "alice",
			FromWalletID: w.ID,
			Amount:       decimal.NewFromInt(40),
			Type:         TypeSpend,
			Category:     CategoryPurchase,
			Status:       StatusCompleted,
			CreatedAt:    time.Now().UTC(),
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		t.Fatalf("atomically: %v", err)
	}
	if entry.ID == 0 {
		t.Fatalf("commit must assign an id")
	}

	w, err := s.WalletByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected 60, got %s", w.Balance)
	}
	got, err := s.TransactionByID(ctx, entry.ID)
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
	if got.Type != TypeSpend || !got.Amount.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("unexpected entry %+v", got)
	}
}

func TestAtomicallyDiscardsWritesOnError(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 100)

	sentinel := errors.New("validation failed")
	err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
		w, err := tx.Wallet(ctx, "alice")
		if err != nil {
			return err
		}
		w.Debit(decimal.NewFromInt(100), time.Now().UTC())
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry := Transaction{FromOwnerID: "alice", Amount: decimal.NewFromInt(100), Type: TypeSpend, Status: StatusCompleted}
		if err := tx.Append(ctx, &entry); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected sentinel, got %v", err)
	}

	w, err := s.WalletByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("aborted tx must leave balance intact, got %s", w.Balance)
	}
	entries, err := s.Transactions(ctx, Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("aborted tx must append nothing, got %d", len(entries))
	}
}

func TestAtomicallySerializesPerWallet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 0)

	const increments = 50
	var wg sync.WaitGroup
	for i := 0; i < increments; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
				w, err := tx.Wallet(ctx, "alice")
				if err != nil {
					return err
				}
				w.Credit(decimal.NewFromInt(1), time.Now().UTC())
				return tx.SaveWallet(ctx, w)
			})
			if err != nil {
				t.Errorf("atomically: %v", err)
			}
		}()
	}
	wg.Wait()

	w, err := s.WalletByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("wallet: %v", err)
	}
	if !w.Balance.Equal(decimal.NewFromInt(increments)) {
		t.Fatalf("lost update: expected %d, got %s", increments, w.Balance)
	}
}

func TestAtomicallyDeduplicatesOwnerLocks(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 10)

	// Passing the same owner twice must not self-deadlock.
	done := make(chan error, 1)
	go func() {
		done <- s.Atomically(ctx, []string{"alice", "alice"}, func(tx Tx) error {
			_, err := tx.Wallet(ctx, "alice")
			return err
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("atomically: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("self-deadlock on duplicate owner ids")
	}
}

func TestCreateWalletRejectsDuplicateOwner(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	w := seedWallet(t, s, "alice", 0)

	err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
		return tx.CreateWallet(ctx, w)
	})
	if !errors.Is(err, ErrWalletExists) {
		t.Fatalf("expected ErrWalletExists, got %v", err)
	}
}

func TestOpenHoldTracksStatusTransitions(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 100)

	var hold Transaction
	err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
		hold = Transaction{
			FromOwnerID: "alice",
			Amount:      decimal.NewFromInt(20),
			Type:        TypeEscrowHold,
			ReferenceID: "ORDER-1",
			Status:      StatusEscrowed,
			CreatedAt:   time.Now().UTC(),
		}
		return tx.Append(ctx, &hold)
	})
	if err != nil {
		t.Fatalf("append hold: %v", err)
	}

	got, err := s.OpenHold(ctx, "ORDER-1")
	if err != nil {
		t.Fatalf("open hold: %v", err)
	}
	if got.ID != hold.ID {
		t.Fatalf("expected hold %d, got %d", hold.ID, got.ID)
	}

	// Within a transaction, a staged status change hides the hold immediately.
	err = s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
		if err := tx.SetStatus(ctx, hold.ID, StatusCompleted); err != nil {
			return err
		}
		if _, err := tx.OpenHold(ctx, "ORDER-1"); !errors.Is(err, ErrEscrowNotFound) {
			t.Errorf("staged resolution must hide hold, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("resolve hold: %v", err)
	}

	if _, err := s.OpenHold(ctx, "ORDER-1"); !errors.Is(err, ErrEscrowNotFound) {
		t.Fatalf("resolved hold must not be open, got %v", err)
	}
}

func TestTransactionsFilterNewestFirst(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()
	seedWallet(t, s, "alice", 0)

	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		entry := Transaction{
			ToOwnerID: "alice",
			Amount:    decimal.NewFromInt(int64(i + 1)),
			Type:      TypeEarn,
			Category:  CategoryDailyLogin,
			Status:    StatusCompleted,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
		err := s.Atomically(ctx, []string{"alice"}, func(tx Tx) error {
			return tx.Append(ctx, &entry)
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := s.Transactions(ctx, Filter{OwnerID: "alice"})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(got))
	}
	if !got[0].Amount.Equal(decimal.NewFromInt(3)) {
		t.Fatalf("expected newest first, got %s", got[0].Amount)
	}

	windowed, err := s.Transactions(ctx, Filter{OwnerID: "alice", From: base.Add(1500 * time.Millisecond)})
	if err != nil {
		t.Fatalf("transactions: %v", err)
	}
	if len(windowed) != 1 {
		t.Fatalf("expected 1 entry in window, got %d", len(windowed))
	}
}
