// Package engine is the sole authority over wallet balances. Every balance
// change flows through one of its operations, is paired with exactly one (or
// two, for transfers) ledger entries, and never leaves a wallet with a
// negative available balance.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"

	"github.com/joytrade/joycoin/internal/ledger"
	"github.com/joytrade/joycoin/internal/notification"
)

var (
	transactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joycoin_ledger_transactions_total",
		Help: "Ledger entries written, by type.",
	}, []string{"type"})

	operationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "joycoin_ledger_operation_failures_total",
		Help: "Rejected ledger operations, by reason.",
	}, []string{"reason"})
)

// Engine mutates wallets through a ledger store. Each operation acquires
// exclusive access to every wallet it touches for the duration of its
// read-validate-write-append sequence; two-wallet operations lock in
// ascending owner order via the store.
type Engine struct {
	store    ledger.Store
	notifier notification.Notifier
	logger   *slog.Logger
}

// New constructs an engine. The notifier may be nil.
func New(store ledger.Store, notifier notification.Notifier, logger *slog.Logger) *Engine {
	return &Engine{store: store, notifier: notifier, logger: logger}
}

// GetOrCreateWallet returns the owner's wallet, creating an empty one on
// first use. Idempotent; creation writes no ledger entry.
func (e *Engine) GetOrCreateWallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	if err := validOwner(ownerID); err != nil {
		return ledger.Wallet{}, e.fail(err)
	}

	var out ledger.Wallet
	err := e.store.Atomically(ctx, []string{ownerID}, func(tx ledger.Tx) error {
		w, err := e.getOrCreate(ctx, tx, ownerID, time.Now().UTC())
		if err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

// Wallet returns a consistent-as-of-last-commit snapshot without creating
// anything.
func (e *Engine) Wallet(ctx context.Context, ownerID string) (ledger.Wallet, error) {
	return e.store.WalletByOwner(ctx, ownerID)
}

// History returns ledger entries matching the filter, newest first.
func (e *Engine) History(ctx context.Context, f ledger.Filter) ([]ledger.Transaction, error) {
	return e.store.Transactions(ctx, f)
}

// Award unconditionally credits coins to the owner and records a COMPLETED
// EARN entry. Used for upload rewards, welcome bonuses, and achievements;
// referenceID ties the entry to the rewarded entity for later reversal.
func (e *Engine) Award(ctx context.Context, ownerID string, amount decimal.Decimal, category ledger.Category, description, referenceID string) (ledger.Transaction, error) {
	if err := validOwner(ownerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if err := validAmount(amount); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	var entry ledger.Transaction
	err := e.store.Atomically(ctx, []string{ownerID}, func(tx ledger.Tx) error {
		now := time.Now().UTC()
		w, err := e.getOrCreate(ctx, tx, ownerID, now)
		if err != nil {
			return err
		}
		w.Credit(amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry = ledger.Transaction{
			ToOwnerID:   ownerID,
			ToWalletID:  w.ID,
			Amount:      amount,
			Type:        ledger.TypeEarn,
			Category:    category,
			Description: description,
			ReferenceID: referenceID,
			Status:      ledger.StatusCompleted,
			CreatedAt:   now,
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("coins awarded", "owner", ownerID, "amount", amount.String(), "category", category, "reference", referenceID)
	e.notify(ctx, notification.Message{
		Kind:        notification.KindCoinsEarned,
		Destination: ownerID,
		Title:       "Coins Earned!",
		Body:        fmt.Sprintf("You earned %s coins! %s", amount.String(), description),
	})
	return entry, nil
}

// Spend debits the owner's available balance and records a COMPLETED SPEND
// entry.
func (e *Engine) Spend(ctx context.Context, ownerID string, amount decimal.Decimal, category ledger.Category, description, referenceID string) (ledger.Transaction, error) {
	if err := validOwner(ownerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if err := validAmount(amount); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	var entry ledger.Transaction
	err := e.store.Atomically(ctx, []string{ownerID}, func(tx ledger.Tx) error {
		now := time.Now().UTC()
		w, err := tx.Wallet(ctx, ownerID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return ErrInsufficientBalance
		}
		w.Debit(amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry = ledger.Transaction{
			FromOwnerID:  ownerID,
			FromWalletID: w.ID,
			Amount:       amount,
			Type:         ledger.TypeSpend,
			Category:     category,
			Description:  description,
			ReferenceID:  referenceID,
			Status:       ledger.StatusCompleted,
			CreatedAt:    now,
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("coins spent", "owner", ownerID, "amount", amount.String(), "category", category, "reference", referenceID)
	return entry, nil
}

// Transfer moves coins between two owners in a single both-or-neither
// mutation, recorded as one COMPLETED TRANSFER entry referencing both
// wallets. The recipient wallet is created lazily.
func (e *Engine) Transfer(ctx context.Context, fromOwnerID, toOwnerID string, amount decimal.Decimal, description string) (ledger.Transaction, error) {
	if err := validOwner(fromOwnerID, toOwnerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if err := validAmount(amount); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if fromOwnerID == toOwnerID {
		return ledger.Transaction{}, e.fail(ErrSelfTransfer)
	}
	if description == "" {
		description = "User-to-user transfer"
	}

	var entry ledger.Transaction
	err := e.store.Atomically(ctx, []string{fromOwnerID, toOwnerID}, func(tx ledger.Tx) error {
		now := time.Now().UTC()
		from, err := tx.Wallet(ctx, fromOwnerID)
		if err != nil {
			return err
		}
		to, err := e.getOrCreate(ctx, tx, toOwnerID, now)
		if err != nil {
			return err
		}
		if from.Available().LessThan(amount) {
			return ErrInsufficientBalance
		}
		from.Debit(amount, now)
		to.Credit(amount, now)
		if err := tx.SaveWallet(ctx, from); err != nil {
			return err
		}
		if err := tx.SaveWallet(ctx, to); err != nil {
			return err
		}
		entry = ledger.Transaction{
			FromOwnerID:  fromOwnerID,
			ToOwnerID:    toOwnerID,
			FromWalletID: from.ID,
			ToWalletID:   to.ID,
			Amount:       amount,
			Type:         ledger.TypeTransfer,
			Category:     ledger.CategoryManualAdjustment,
			Description:  description,
			Status:       ledger.StatusCompleted,
			CreatedAt:    now,
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("coins transferred", "from", fromOwnerID, "to", toOwnerID, "amount", amount.String())
	e.notify(ctx, notification.Message{
		Kind:        notification.KindCoinsReceived,
		Destination: toOwnerID,
		Title:       "Coins Received!",
		Body:        fmt.Sprintf("You received %s coins", amount.String()),
	})
	return entry, nil
}

// HoldInEscrow places amount from the owner's available balance in escrow and records
// an ESCROWED ESCROW_HOLD entry. A second hold for the same reference does
// not double-hold: the original entry is returned with ErrDuplicateReference.
func (e *Engine) HoldInEscrow(ctx context.Context, ownerID string, amount decimal.Decimal, referenceID, description string) (ledger.Transaction, error) {
	if err := validOwner(ownerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if err := validAmount(amount); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if referenceID == "" {
		return ledger.Transaction{}, e.fail(ErrMissingReference)
	}

	var entry ledger.Transaction
	err := e.store.Atomically(ctx, []string{ownerID}, func(tx ledger.Tx) error {
		existing, err := tx.OpenHold(ctx, referenceID)
		if err == nil {
			entry = existing
			return ErrDuplicateReference
		}
		if !errors.Is(err, ledger.ErrEscrowNotFound) {
			return err
		}

		now := time.Now().UTC()
		w, err := tx.Wallet(ctx, ownerID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(amount) {
			return ErrInsufficientBalance
		}
		w.Hold(amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry = ledger.Transaction{
			FromOwnerID:  ownerID,
			FromWalletID: w.ID,
			Amount:       amount,
			Type:         ledger.TypeEscrowHold,
			Category:     ledger.CategoryEscrowPayment,
			Description:  description,
			ReferenceID:  referenceID,
			Status:       ledger.StatusEscrowed,
			CreatedAt:    now,
		}
		return tx.Append(ctx, &entry)
	})
	if errors.Is(err, ErrDuplicateReference) {
		operationFailures.WithLabelValues("duplicate_reference").Inc()
		return entry, err
	}
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("coins held in escrow", "owner", ownerID, "amount", amount.String(), "reference", referenceID)
	return entry, nil
}

// ReleaseEscrow resolves the open hold for referenceID by paying the held
// amount out to toOwnerID. The recipient is whoever the caller names; the
// order flow supplies the seller. Atomic across both wallets.
func (e *Engine) ReleaseEscrow(ctx context.Context, referenceID, toOwnerID, description string) (ledger.Transaction, error) {
	if err := validOwner(toOwnerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	hold, err := e.store.OpenHold(ctx, referenceID)
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	holderID := hold.FromOwnerID

	var entry ledger.Transaction
	err = e.store.Atomically(ctx, []string{holderID, toOwnerID}, func(tx ledger.Tx) error {
		// Re-read under lock; a concurrent release or refund may have won.
		hold, err := tx.OpenHold(ctx, referenceID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		holder, err := tx.Wallet(ctx, holderID)
		if err != nil {
			return err
		}

		var toWalletID string
		if holderID == toOwnerID {
			holder.Settle(hold.Amount, now)
			holder.Credit(hold.Amount, now)
			if err := tx.SaveWallet(ctx, holder); err != nil {
				return err
			}
			toWalletID = holder.ID
		} else {
			to, err := e.getOrCreate(ctx, tx, toOwnerID, now)
			if err != nil {
				return err
			}
			holder.Settle(hold.Amount, now)
			to.Credit(hold.Amount, now)
			if err := tx.SaveWallet(ctx, holder); err != nil {
				return err
			}
			if err := tx.SaveWallet(ctx, to); err != nil {
				return err
			}
			toWalletID = to.ID
		}

		if err := tx.SetStatus(ctx, hold.ID, ledger.StatusCompleted); err != nil {
			return err
		}
		entry = ledger.Transaction{
			FromOwnerID:  holderID,
			ToOwnerID:    toOwnerID,
			FromWalletID: hold.FromWalletID,
			ToWalletID:   toWalletID,
			Amount:       hold.Amount,
			Type:         ledger.TypeEscrowRelease,
			Category:     ledger.CategoryEscrowPayment,
			Description:  description,
			ReferenceID:  referenceID,
			Status:       ledger.StatusCompleted,
			CreatedAt:    now,
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("escrow released", "reference", referenceID, "holder", holderID, "to", toOwnerID, "amount", entry.Amount.String())
	e.notify(ctx, notification.Message{
		Kind:        notification.KindEscrowReleased,
		Destination: toOwnerID,
		Title:       "Payment Received!",
		Body:        fmt.Sprintf("You received %s coins for your sale!", entry.Amount.String()),
	})
	return entry, nil
}

// RefundEscrow makes the held amount for referenceID available to the
// original holder again. The hold entry is marked CANCELLED and a COMPLETED
// REFUND entry is appended; balance and lifetime counters are untouched since
// the hold never settled.
func (e *Engine) RefundEscrow(ctx context.Context, referenceID, reason string) (ledger.Transaction, error) {
	hold, err := e.store.OpenHold(ctx, referenceID)
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	holderID := hold.FromOwnerID

	var entry ledger.Transaction
	err = e.store.Atomically(ctx, []string{holderID}, func(tx ledger.Tx) error {
		hold, err := tx.OpenHold(ctx, referenceID)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		w, err := tx.Wallet(ctx, holderID)
		if err != nil {
			return err
		}
		w.Unhold(hold.Amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, hold.ID, ledger.StatusCancelled); err != nil {
			return err
		}
		entry = ledger.Transaction{
			ToOwnerID:   holderID,
			ToWalletID:  w.ID,
			Amount:      hold.Amount,
			Type:        ledger.TypeRefund,
			Category:    ledger.CategoryDisputeResolution,
			Description: "Refund: " + reason,
			ReferenceID: referenceID,
			Status:      ledger.StatusCompleted,
			CreatedAt:   now,
		}
		return tx.Append(ctx, &entry)
	})
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("escrow refunded", "reference", referenceID, "holder", holderID, "amount", entry.Amount.String())
	e.notify(ctx, notification.Message{
		Kind:        notification.KindRefundIssued,
		Destination: holderID,
		Title:       "Refund Processed",
		Body:        fmt.Sprintf("Your %s coins have been refunded. Reason: %s", entry.Amount.String(), reason),
	})
	return entry, nil
}

// Reversal is the per-entry outcome of ReverseByReference: either a
// compensating transaction or the error that prevented it.
type Reversal struct {
	Original     ledger.Transaction
	Compensation *ledger.Transaction
	Err          error
}

// ReverseByReference compensates every COMPLETED EARN entry carrying the
// reference, debiting the same amount from the same owner. Each compensation
// carries a reference derived from the original entry id, which makes the
// operation idempotent and keeps reversals from ever being re-reversed. An
// owner whose reward was already spent elsewhere yields an
// ErrInsufficientBalance outcome for that entry and no mutation; callers
// decide how to handle a partial reversal.
func (e *Engine) ReverseByReference(ctx context.Context, referenceID, reason string) ([]Reversal, error) {
	if referenceID == "" {
		return nil, e.fail(ErrMissingReference)
	}
	earns, err := e.store.Transactions(ctx, ledger.Filter{
		ReferenceID: referenceID,
		Type:        ledger.TypeEarn,
		Status:      ledger.StatusCompleted,
	})
	if err != nil {
		return nil, err
	}

	out := make([]Reversal, 0, len(earns))
	for _, earn := range earns {
		out = append(out, e.reverseOne(ctx, earn, reason))
	}
	return out, nil
}

func (e *Engine) reverseOne(ctx context.Context, earn ledger.Transaction, reason string) Reversal {
	result := Reversal{Original: earn}
	reverseRef := ledger.ReverseRef(earn.ID)

	err := e.store.Atomically(ctx, []string{earn.ToOwnerID}, func(tx ledger.Tx) error {
		prior, err := tx.ByReference(ctx, reverseRef, ledger.TypeSpend, ledger.StatusCompleted)
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			result.Compensation = &prior[0]
			return nil
		}

		now := time.Now().UTC()
		w, err := tx.Wallet(ctx, earn.ToOwnerID)
		if err != nil {
			return err
		}
		if w.Available().LessThan(earn.Amount) {
			return ErrInsufficientBalance
		}
		w.Debit(earn.Amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		comp := ledger.Transaction{
			FromOwnerID:  earn.ToOwnerID,
			FromWalletID: w.ID,
			Amount:       earn.Amount,
			Type:         ledger.TypeSpend,
			Category:     ledger.CategoryManualAdjustment,
			Description:  "Reversal: " + reason,
			ReferenceID:  reverseRef,
			Status:       ledger.StatusCompleted,
			CreatedAt:    now,
		}
		if err := tx.Append(ctx, &comp); err != nil {
			return err
		}
		result.Compensation = &comp
		return nil
	})
	if err != nil {
		result.Err = err
		operationFailures.WithLabelValues(failReason(err)).Inc()
		e.logger.Error("reversal failed", "transaction", earn.ID, "owner", earn.ToOwnerID, "error", err)
		return result
	}

	if result.Compensation != nil && result.Err == nil {
		transactionsTotal.WithLabelValues(string(ledger.TypeSpend)).Inc()
		e.logger.Info("transaction reversed", "transaction", earn.ID, "owner", earn.ToOwnerID, "reason", reason)
	}
	return result
}

// TopUp credits coins purchased through an external payment provider. The
// provider-assigned reference makes retried webhooks safe: a duplicate
// returns the original entry with ErrDuplicateReference and credits nothing.
func (e *Engine) TopUp(ctx context.Context, ownerID string, amount decimal.Decimal, paymentMethod, paymentRef string) (ledger.Transaction, error) {
	if err := validOwner(ownerID); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if err := validAmount(amount); err != nil {
		return ledger.Transaction{}, e.fail(err)
	}
	if paymentRef == "" {
		return ledger.Transaction{}, e.fail(ErrMissingReference)
	}
	description := "Top-up"
	if paymentMethod != "" {
		description = "Top-up via " + paymentMethod
	}

	var entry ledger.Transaction
	err := e.store.Atomically(ctx, []string{ownerID}, func(tx ledger.Tx) error {
		prior, err := tx.ByReference(ctx, paymentRef, ledger.TypeTopUp, "")
		if err != nil {
			return err
		}
		if len(prior) > 0 {
			entry = prior[0]
			return ErrDuplicateReference
		}

		now := time.Now().UTC()
		w, err := e.getOrCreate(ctx, tx, ownerID, now)
		if err != nil {
			return err
		}
		w.Credit(amount, now)
		if err := tx.SaveWallet(ctx, w); err != nil {
			return err
		}
		entry = ledger.Transaction{
			ToOwnerID:   ownerID,
			ToWalletID:  w.ID,
			Amount:      amount,
			Type:        ledger.TypeTopUp,
			Category:    ledger.CategoryDeposit,
			Description: description,
			ReferenceID: paymentRef,
			Status:      ledger.StatusCompleted,
			CreatedAt:   now,
		}
		return tx.Append(ctx, &entry)
	})
	if errors.Is(err, ErrDuplicateReference) {
		operationFailures.WithLabelValues("duplicate_reference").Inc()
		return entry, err
	}
	if err != nil {
		return ledger.Transaction{}, e.fail(err)
	}

	e.record(entry)
	e.logger.Info("wallet topped up", "owner", ownerID, "amount", amount.String(), "reference", paymentRef)
	e.notify(ctx, notification.Message{
		Kind:        notification.KindTopUpConfirmed,
		Destination: ownerID,
		Title:       "Top-up Successful!",
		Body:        fmt.Sprintf("Your wallet has been credited with %s coins", amount.String()),
	})
	return entry, nil
}

func (e *Engine) getOrCreate(ctx context.Context, tx ledger.Tx, ownerID string, now time.Time) (ledger.Wallet, error) {
	w, err := tx.Wallet(ctx, ownerID)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, ledger.ErrWalletNotFound) {
		return ledger.Wallet{}, err
	}
	w = ledger.Wallet{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Balance:        decimal.Zero,
		PendingBalance: decimal.Zero,
		TotalEarned:    decimal.Zero,
		TotalSpent:     decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := tx.CreateWallet(ctx, w); err != nil {
		return ledger.Wallet{}, err
	}
	return w, nil
}

func (e *Engine) notify(ctx context.Context, message notification.Message) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Send(ctx, message); err != nil {
		e.logger.Warn("notification send failed", "kind", message.Kind, "destination", message.Destination, "error", err)
	}
}

func (e *Engine) fail(err error) error {
	operationFailures.WithLabelValues(failReason(err)).Inc()
	return err
}

func (e *Engine) record(entry ledger.Transaction) {
	transactionsTotal.WithLabelValues(string(entry.Type)).Inc()
}

func validAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	return nil
}

func validOwner(ownerIDs ...string) error {
	for _, id := range ownerIDs {
		if id == "" {
			return ErrMissingOwner
		}
	}
	return nil
}
