package ledger

import (
	"context"
	"errors"
)

var (
	// ErrWalletNotFound occurs when an operation references an owner with no wallet.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound occurs when a ledger entry lookup misses.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrEscrowNotFound occurs when no open escrow hold exists for a reference.
	ErrEscrowNotFound = errors.New("escrow hold not found")

	// ErrWalletExists indicates a concurrent creation raced for the same owner.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrConflict reports lock or version contention the backend could not
	// resolve within its bounded retries. It is never swallowed into a wrong
	// balance; callers may retry the whole operation.
	ErrConflict = errors.New("concurrent update conflict")
)

// Store is the contract implemented by ledger backends (Postgres in
// production, memory in tests and dev mode). It persists wallets and the
// append-only transaction table.
type Store interface {
	// Atomically runs fn with exclusive access to the wallets of the named
	// owners. Implementations acquire wallet locks in ascending owner order,
	// so concurrent operations touching overlapping wallets serialize without
	// deadlocking. Either every write made through tx commits, or none does.
	Atomically(ctx context.Context, ownerIDs []string, fn func(tx Tx) error) error

	// WalletByOwner returns a consistent-as-of-last-commit wallet snapshot.
	WalletByOwner(ctx context.Context, ownerID string) (Wallet, error)

	// TransactionByID fetches a single ledger entry.
	TransactionByID(ctx context.Context, id int64) (Transaction, error)

	// Transactions returns history entries matching the filter, newest first.
	Transactions(ctx context.Context, f Filter) ([]Transaction, error)

	// OpenHold returns the single ESCROWED hold entry for the reference.
	OpenHold(ctx context.Context, referenceID string) (Transaction, error)
}

// Tx is the transactional view handed to Atomically callbacks. Wallet reads
// through a Tx observe no concurrent writer; writes become visible only when
// the callback returns nil.
type Tx interface {
	// Wallet returns the locked wallet row, or ErrWalletNotFound.
	Wallet(ctx context.Context, ownerID string) (Wallet, error)

	// CreateWallet inserts a wallet for an owner seen for the first time.
	CreateWallet(ctx context.Context, w Wallet) error

	// SaveWallet persists mutated balances for an existing wallet.
	SaveWallet(ctx context.Context, w Wallet) error

	// Append writes a new ledger entry and assigns its monotonically
	// increasing ID.
	Append(ctx context.Context, tx *Transaction) error

	// SetStatus transitions an entry's status. The store does not police the
	// state machine; the engine only calls this for ESCROWED entries.
	SetStatus(ctx context.Context, id int64, status Status) error

	// OpenHold returns the single ESCROWED hold entry for the reference.
	OpenHold(ctx context.Context, referenceID string) (Transaction, error)

	// ByReference lists entries matching reference, type and status, oldest
	// first. Used for idempotency guards and reversal lookups.
	ByReference(ctx context.Context, referenceID string, typ Type, status Status) ([]Transaction, error)
}
