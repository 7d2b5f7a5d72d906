package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const maxTxAttempts = 3

// PostgresStore persists wallets and ledger entries in PostgreSQL. Wallet
// rows are locked with SELECT ... FOR UPDATE in ascending owner order;
// transaction ids come from a BIGSERIAL column, so entry order matches
// commit order.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgres constructs a Postgres-backed ledger store.
func NewPostgres(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Atomically wraps fn in a database transaction. Serialization failures,
// deadlocks, and wallet-creation races are retried a bounded number of
// times; exhausted retries surface ErrConflict rather than a partial write.
func (s *PostgresStore) Atomically(ctx context.Context, ownerIDs []string, fn func(tx Tx) error) error {
	owners := dedupeSorted(ownerIDs)

	var lastErr error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		err := s.runOnce(ctx, owners, fn)
		if err == nil {
			return nil
		}
		if !retryable(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w: %v", ErrConflict, lastErr)
}

func (s *PostgresStore) runOnce(ctx context.Context, owners []string, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	// Lock existing wallet rows up front, in ascending owner order. Rows that
	// do not exist yet are protected by the unique owner constraint instead.
	for _, owner := range owners {
		var id string
		err := tx.QueryRow(ctx, `SELECT id FROM wallets WHERE owner_id = $1 FOR UPDATE`, owner).Scan(&id)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func retryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case "40001", "40P01": // serialization failure, deadlock detected
		return true
	case "23505": // wallet creation race on the owner unique index
		return strings.Contains(pgErr.ConstraintName, "wallets")
	}
	return false
}

func (s *PostgresStore) WalletByOwner(ctx context.Context, ownerID string) (Wallet, error) {
	return scanWallet(s.db.QueryRow(ctx, walletSelect+` WHERE owner_id = $1`, ownerID))
}

func (s *PostgresStore) TransactionByID(ctx context.Context, id int64) (Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRow(ctx, txSelect+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, err
}

func (s *PostgresStore) Transactions(ctx context.Context, f Filter) ([]Transaction, error) {
	query := txSelect + ` WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if f.OwnerID != "" {
		p := arg(f.OwnerID)
		query += fmt.Sprintf(` AND (from_owner_id = %s OR to_owner_id = %s)`, p, p)
	}
	if f.ReferenceID != "" {
		query += ` AND reference_id = ` + arg(f.ReferenceID)
	}
	if f.Type != "" {
		query += ` AND type = ` + arg(string(f.Type))
	}
	if f.Category != "" {
		query += ` AND category = ` + arg(string(f.Category))
	}
	if f.Status != "" {
		query += ` AND status = ` + arg(string(f.Status))
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ` + arg(f.From.UTC())
	}
	if !f.To.IsZero() {
		query += ` AND created_at <= ` + arg(f.To.UTC())
	}
	query += ` ORDER BY id DESC`
	if f.Limit > 0 {
		query += ` LIMIT ` + arg(f.Limit)
	}
	if f.Offset > 0 {
		query += ` OFFSET ` + arg(f.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *PostgresStore) OpenHold(ctx context.Context, referenceID string) (Transaction, error) {
	tx, err := scanTransaction(s.db.QueryRow(ctx,
		txSelect+` WHERE reference_id = $1 AND type = $2 AND status = $3`,
		referenceID, string(TypeEscrowHold), string(StatusEscrowed)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrEscrowNotFound
	}
	return tx, err
}

// pgTx adapts a pgx transaction to the ledger Tx contract.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Wallet(ctx context.Context, ownerID string) (Wallet, error) {
	return scanWallet(t.tx.QueryRow(ctx, walletSelect+` WHERE owner_id = $1`, ownerID))
}

func (t *pgTx) CreateWallet(ctx context.Context, w Wallet) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO wallets
        (id, owner_id, balance, pending_balance, total_earned, total_spent, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		w.ID, w.OwnerID, w.Balance.String(), w.PendingBalance.String(),
		w.TotalEarned.String(), w.TotalSpent.String(), w.CreatedAt.UTC(), w.UpdatedAt.UTC())
	return err
}

func (t *pgTx) SaveWallet(ctx context.Context, w Wallet) error {
	tag, err := t.tx.Exec(ctx, `UPDATE wallets
        SET balance = $2, pending_balance = $3, total_earned = $4, total_spent = $5, updated_at = $6
        WHERE owner_id = $1`,
		w.OwnerID, w.Balance.String(), w.PendingBalance.String(),
		w.TotalEarned.String(), w.TotalSpent.String(), w.UpdatedAt.UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrWalletNotFound
	}
	return nil
}

func (t *pgTx) Append(ctx context.Context, entry *Transaction) error {
	return t.tx.QueryRow(ctx, `INSERT INTO coin_transactions
        (from_owner_id, to_owner_id, from_wallet_id, to_wallet_id, amount,
         type, category, description, reference_id, status, created_at)
        VALUES (NULLIF($1,''), NULLIF($2,''), NULLIF($3,''), NULLIF($4,''), $5, $6, NULLIF($7,''), $8, NULLIF($9,''), $10, $11)
        RETURNING id`,
		entry.FromOwnerID, entry.ToOwnerID, entry.FromWalletID, entry.ToWalletID,
		entry.Amount.String(), string(entry.Type), string(entry.Category),
		entry.Description, entry.ReferenceID, string(entry.Status), entry.CreatedAt.UTC()).
		Scan(&entry.ID)
}

func (t *pgTx) SetStatus(ctx context.Context, id int64, status Status) error {
	tag, err := t.tx.Exec(ctx, `UPDATE coin_transactions SET status = $2 WHERE id = $1`, id, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (t *pgTx) OpenHold(ctx context.Context, referenceID string) (Transaction, error) {
	tx, err := scanTransaction(t.tx.QueryRow(ctx,
		txSelect+` WHERE reference_id = $1 AND type = $2 AND status = $3 FOR UPDATE`,
		referenceID, string(TypeEscrowHold), string(StatusEscrowed)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrEscrowNotFound
	}
	return tx, err
}

func (t *pgTx) ByReference(ctx context.Context, referenceID string, typ Type, status Status) ([]Transaction, error) {
	query := txSelect + ` WHERE reference_id = $1 AND type = $2`
	args := []any{referenceID, string(typ)}
	if status != "" {
		query += ` AND status = $3`
		args = append(args, string(status))
	}
	query += ` ORDER BY id ASC`

	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

const walletSelect = `SELECT id, owner_id, balance::text, pending_balance::text,
    total_earned::text, total_spent::text, created_at, updated_at FROM wallets`

const txSelect = `SELECT id, COALESCE(from_owner_id,''), COALESCE(to_owner_id,''),
    COALESCE(from_wallet_id,''), COALESCE(to_wallet_id,''), amount::text,
    type, COALESCE(category,''), COALESCE(description,''), COALESCE(reference_id,''),
    status, created_at FROM coin_transactions`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var balance, pending, earned, spent string
	var createdAt, updatedAt time.Time
	err := row.Scan(&w.ID, &w.OwnerID, &balance, &pending, &earned, &spent, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Wallet{}, ErrWalletNotFound
	}
	if err != nil {
		return Wallet{}, err
	}
	if w.Balance, err = decimal.NewFromString(balance); err != nil {
		return Wallet{}, err
	}
	if w.PendingBalance, err = decimal.NewFromString(pending); err != nil {
		return Wallet{}, err
	}
	if w.TotalEarned, err = decimal.NewFromString(earned); err != nil {
		return Wallet{}, err
	}
	if w.TotalSpent, err = decimal.NewFromString(spent); err != nil {
		return Wallet{}, err
	}
	w.CreatedAt = createdAt.UTC()
	w.UpdatedAt = updatedAt.UTC()
	return w, nil
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	var amount, typ, category, status string
	var createdAt time.Time
	err := row.Scan(&tx.ID, &tx.FromOwnerID, &tx.ToOwnerID, &tx.FromWalletID, &tx.ToWalletID,
		&amount, &typ, &category, &tx.Description, &tx.ReferenceID, &status, &createdAt)
	if err != nil {
		return Transaction{}, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, err
	}
	tx.Type = Type(typ)
	tx.Category = Category(category)
	tx.Status = Status(status)
	tx.CreatedAt = createdAt.UTC()
	return tx, nil
}
