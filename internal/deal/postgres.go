package deal

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// PostgresStore persists deal mirrors in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds a Postgres-backed deal store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

const dealSelect = `SELECT id, deal_id, COALESCE(order_id, 0), buyer_address, seller_address,
    token_address, amount::text, fee_bps, status,
    COALESCE(created_tx_hash,''), COALESCE(funded_tx_hash,''),
    COALESCE(released_tx_hash,''), COALESCE(refunded_tx_hash,''),
    created_at, updated_at FROM escrow_deals`

func (s *PostgresStore) Create(ctx context.Context, d Deal) (Deal, error) {
	err := s.db.QueryRow(ctx, `INSERT INTO escrow_deals
        (deal_id, order_id, buyer_address, seller_address, token_address, amount,
         fee_bps, status, created_tx_hash, created_at, updated_at)
        VALUES ($1, NULLIF($2, 0), $3, $4, $5, $6, $7, $8, NULLIF($9,''), $10, $11)
        RETURNING id`,
		d.DealID, d.OrderID, d.BuyerAddress, d.SellerAddress, d.TokenAddress,
		d.Amount.String(), d.FeeBps, string(d.Status), d.CreatedTxHash,
		d.CreatedAt.UTC(), d.UpdatedAt.UTC()).Scan(&d.ID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Deal{}, ErrDealExists
		}
		return Deal{}, err
	}
	return d, nil
}

func (s *PostgresStore) ByDealID(ctx context.Context, dealID int64) (Deal, error) {
	return scanDeal(s.db.QueryRow(ctx, dealSelect+` WHERE deal_id = $1`, dealID))
}

func (s *PostgresStore) ByOrderID(ctx context.Context, orderID int64) (Deal, error) {
	return scanDeal(s.db.QueryRow(ctx, dealSelect+` WHERE order_id = $1`, orderID))
}

func (s *PostgresStore) Update(ctx context.Context, d Deal, prev Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE escrow_deals
        SET status = $2, funded_tx_hash = NULLIF($3,''), released_tx_hash = NULLIF($4,''),
            refunded_tx_hash = NULLIF($5,''), updated_at = $6
        WHERE deal_id = $1 AND status = $7`,
		d.DealID, string(d.Status), d.FundedTxHash, d.ReleasedTxHash,
		d.RefundedTxHash, d.UpdatedAt.UTC(), string(prev))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Zero rows means the deal is gone or a concurrent transition already
		// moved it past prev; tell them apart for the caller.
		if _, err := s.ByDealID(ctx, d.DealID); err != nil {
			return err
		}
		return ErrInvalidState
	}
	return nil
}

func scanDeal(row pgx.Row) (Deal, error) {
	var d Deal
	var amount, status string
	var createdAt, updatedAt time.Time
	err := row.Scan(&d.ID, &d.DealID, &d.OrderID, &d.BuyerAddress, &d.SellerAddress,
		&d.TokenAddress, &amount, &d.FeeBps, &status,
		&d.CreatedTxHash, &d.FundedTxHash, &d.ReleasedTxHash, &d.RefundedTxHash,
		&createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Deal{}, ErrNotFound
	}
	if err != nil {
		return Deal{}, err
	}
	if d.Amount, err = decimal.NewFromString(amount); err != nil {
		return Deal{}, err
	}
	d.Status = Status(status)
	d.CreatedAt = createdAt.UTC()
	d.UpdatedAt = updatedAt.UTC()
	return d, nil
}
