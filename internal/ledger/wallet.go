package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet holds the spendable and escrowed coin balances for one owner. A
// wallet is created lazily on the first operation referencing the owner and
// is only ever mutated through the engine.
type Wallet struct {
	ID             string
	OwnerID        string
	Balance        decimal.Decimal
	PendingBalance decimal.Decimal
	TotalEarned    decimal.Decimal
	TotalSpent     decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Available is the only amount eligible for new spend, transfer, or escrow
// hold operations: committed balance minus funds currently held in escrow.
func (w Wallet) Available() decimal.Decimal {
	return w.Balance.Sub(w.PendingBalance)
}

// Credit adds earned funds to the wallet.
func (w *Wallet) Credit(amount decimal.Decimal, now time.Time) {
	w.Balance = w.Balance.Add(amount)
	w.TotalEarned = w.TotalEarned.Add(amount)
	w.UpdatedAt = now
}

// Debit removes spent funds from the wallet. Callers must have verified the
// available balance first.
func (w *Wallet) Debit(amount decimal.Decimal, now time.Time) {
	w.Balance = w.Balance.Sub(amount)
	w.TotalSpent = w.TotalSpent.Add(amount)
	w.UpdatedAt = now
}

// Hold places amount in escrow. The committed balance is untouched until the
// hold resolves; the funds simply stop being available. Lifetime counters are
// untouched: held funds have not been spent yet.
func (w *Wallet) Hold(amount decimal.Decimal, now time.Time) {
	w.PendingBalance = w.PendingBalance.Add(amount)
	w.UpdatedAt = now
}

// Settle removes a held amount permanently; the funds left this wallet for a
// counterparty, so the balance drops and the spend counter advances.
func (w *Wallet) Settle(amount decimal.Decimal, now time.Time) {
	w.Balance = w.Balance.Sub(amount)
	w.PendingBalance = w.PendingBalance.Sub(amount)
	w.TotalSpent = w.TotalSpent.Add(amount)
	w.UpdatedAt = now
}

// Unhold releases a held amount back to availability, undoing a Hold.
// Balance and lifetime counters stay untouched since the original hold never
// settled.
func (w *Wallet) Unhold(amount decimal.Decimal, now time.Time) {
	w.PendingBalance = w.PendingBalance.Sub(amount)
	w.UpdatedAt = now
}
