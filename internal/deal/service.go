package deal

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

// Service owns deal mirror transitions. Each transition validates the prior
// state before recording the external transaction reference, so out-of-order
// or replayed rail events cannot corrupt the mirror.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService constructs a deal mirror service.
func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CreateInput captures the data recorded when an external deal is opened.
type CreateInput struct {
	DealID        int64
	OrderID       int64
	BuyerAddress  string
	SellerAddress string
	TokenAddress  string
	Amount        decimal.Decimal
	FeeBps        int
	CreatedTxHash string
}

// Create mirrors a newly opened deal in OPEN state.
func (s *Service) Create(ctx context.Context, input CreateInput) (Deal, error) {
	now := time.Now().UTC()
	d, err := s.store.Create(ctx, Deal{
		DealID:        input.DealID,
		OrderID:       input.OrderID,
		BuyerAddress:  input.BuyerAddress,
		SellerAddress: input.SellerAddress,
		TokenAddress:  input.TokenAddress,
		Amount:        input.Amount,
		FeeBps:        input.FeeBps,
		Status:        StatusOpen,
		CreatedTxHash: input.CreatedTxHash,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if err != nil {
		return Deal{}, err
	}
	s.logger.Info("escrow deal mirrored", "deal", d.DealID, "order", d.OrderID, "amount", d.Amount.String())
	return d, nil
}

// Get returns the mirror for an external deal id.
func (s *Service) Get(ctx context.Context, dealID int64) (Deal, error) {
	return s.store.ByDealID(ctx, dealID)
}

// GetByOrder returns the mirror correlated to a marketplace order.
func (s *Service) GetByOrder(ctx context.Context, orderID int64) (Deal, error) {
	return s.store.ByOrderID(ctx, orderID)
}

// MarkFunded transitions OPEN → FUNDED.
func (s *Service) MarkFunded(ctx context.Context, dealID int64, txHash string) (Deal, error) {
	return s.transition(ctx, dealID, StatusFunded, func(d *Deal) { d.FundedTxHash = txHash })
}

// MarkReleased transitions FUNDED → RELEASED.
func (s *Service) MarkReleased(ctx context.Context, dealID int64, txHash string) (Deal, error) {
	return s.transition(ctx, dealID, StatusReleased, func(d *Deal) { d.ReleasedTxHash = txHash })
}

// MarkRefunded transitions FUNDED → REFUNDED.
func (s *Service) MarkRefunded(ctx context.Context, dealID int64, txHash string) (Deal, error) {
	return s.transition(ctx, dealID, StatusRefunded, func(d *Deal) { d.RefundedTxHash = txHash })
}

// MarkCanceled transitions OPEN → CANCELED.
func (s *Service) MarkCanceled(ctx context.Context, dealID int64) (Deal, error) {
	return s.transition(ctx, dealID, StatusCanceled, func(*Deal) {})
}

func (s *Service) transition(ctx context.Context, dealID int64, next Status, apply func(*Deal)) (Deal, error) {
	d, err := s.store.ByDealID(ctx, dealID)
	if err != nil {
		return Deal{}, err
	}
	if !d.canTransition(next) {
		return Deal{}, ErrInvalidState
	}
	prev := d.Status
	d.Status = next
	apply(&d)
	d.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(ctx, d, prev); err != nil {
		return Deal{}, err
	}
	s.logger.Info("escrow deal transitioned", "deal", d.DealID, "status", d.Status)
	return d, nil
}
