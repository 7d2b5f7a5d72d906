package engine

import (
	"errors"

	"github.com/joytrade/joycoin/internal/ledger"
)

var (
	// ErrInvalidAmount rejects non-positive amounts. Always the caller's
	// fault; never retried.
	ErrInvalidAmount = errors.New("amount must be positive")

	// ErrInsufficientBalance occurs when the available balance cannot cover a
	// spend, transfer, hold, or reversal.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrSelfTransfer rejects transfers where sender and recipient match.
	ErrSelfTransfer = errors.New("cannot transfer to self")

	// ErrMissingReference rejects idempotency-sensitive operations called
	// without a correlation key.
	ErrMissingReference = errors.New("reference id is required")

	// ErrMissingOwner rejects operations called without an owner id, so a
	// malformed request can never mint a wallet for the empty owner.
	ErrMissingOwner = errors.New("owner id is required")

	// ErrDuplicateReference indicates the reference was already applied. The
	// original entry is returned alongside it, so retried callers can treat
	// the outcome as a benign no-op.
	ErrDuplicateReference = errors.New("reference already applied")
)

func failReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrMissingReference), errors.Is(err, ErrMissingOwner):
		return "invalid_argument"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrDuplicateReference):
		return "duplicate_reference"
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrEscrowNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		return "not_found"
	case errors.Is(err, ledger.ErrConflict):
		return "conflict"
	default:
		return "internal"
	}
}
