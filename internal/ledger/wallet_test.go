package ledger

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestWalletMutatorsMaintainCounters(t *testing.T) {
	now := time.Now().UTC()
	w := Wallet{
		ID:             "w1",
		OwnerID:        "alice",
		Balance:        decimal.Zero,
		PendingBalance: decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalSpent:     decimal.Zero,
	}

	w.Credit(decimal.NewFromInt(100), now)
	if !w.Balance.Equal(decimal.NewFromInt(100)) || !w.TotalEarned.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("after credit: %+v", w)
	}

	w.Hold(decimal.NewFromInt(40), now)
	if !w.Balance.Equal(decimal.NewFromInt(100)) || !w.PendingBalance.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("after hold: %+v", w)
	}
	if !w.Available().Equal(decimal.NewFromInt(60)) {
		t.Fatalf("held funds must not be spendable: %s", w.Available())
	}

	w.Settle(decimal.NewFromInt(40), now)
	if !w.Balance.Equal(decimal.NewFromInt(60)) || !w.PendingBalance.IsZero() || !w.TotalSpent.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("after settle: %+v", w)
	}

	w.Debit(decimal.NewFromInt(10), now)
	if !w.Balance.Equal(decimal.NewFromInt(50)) || !w.TotalSpent.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("after debit: %+v", w)
	}

	w.Hold(decimal.NewFromInt(5), now)
	w.Unhold(decimal.NewFromInt(5), now)
	if !w.Balance.Equal(decimal.NewFromInt(50)) || !w.PendingBalance.IsZero() {
		t.Fatalf("unhold must restore availability: %+v", w)
	}
	if !w.TotalSpent.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("unhold must not touch totalSpent: %s", w.TotalSpent)
	}
}

func TestTransactionCreditsAndDebits(t *testing.T) {
	transfer := Transaction{FromOwnerID: "alice", ToOwnerID: "bob", Type: TypeTransfer}
	if !transfer.Debits("alice") || transfer.Credits("alice") {
		t.Fatalf("transfer must debit sender only")
	}
	if !transfer.Credits("bob") || transfer.Debits("bob") {
		t.Fatalf("transfer must credit recipient only")
	}

	hold := Transaction{FromOwnerID: "alice", Type: TypeEscrowHold}
	if !hold.Debits("alice") {
		t.Fatalf("hold must debit holder")
	}

	refund := Transaction{ToOwnerID: "alice", Type: TypeRefund}
	if !refund.Credits("alice") {
		t.Fatalf("refund must credit holder")
	}
}

func TestStatusTerminal(t *testing.T) {
	for status, terminal := range map[Status]bool{
		StatusCompleted: true,
		StatusCancelled: true,
		StatusFailed:    true,
		StatusReversed:  true,
		StatusEscrowed:  false,
		StatusPending:   false,
	} {
		if status.Terminal() != terminal {
			t.Fatalf("%s: expected terminal=%v", status, terminal)
		}
	}
}
