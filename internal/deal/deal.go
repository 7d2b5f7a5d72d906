// Package deal mirrors the lifecycle of custodial escrow deals settled on an
// external value-transfer rail. The mirror carries no balances; it correlates
// an external deal to a marketplace order and records each status transition
// with the external transaction reference for audit.
package deal

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the mirrored lifecycle state of an external deal.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusFunded   Status = "FUNDED"
	StatusReleased Status = "RELEASED"
	StatusRefunded Status = "REFUNDED"
	StatusCanceled Status = "CANCELED"
)

var (
	// ErrNotFound occurs when no mirror exists for the deal id.
	ErrNotFound = errors.New("escrow deal not found")

	// ErrDealExists indicates the external deal id was already mirrored.
	ErrDealExists = errors.New("escrow deal already exists")

	// ErrInvalidState rejects a transition the deal's current state does not
	// permit. Terminal states permit none.
	ErrInvalidState = errors.New("invalid deal state for transition")
)

// Deal is the local record of one external escrow deal.
type Deal struct {
	ID             int64
	DealID         int64 // id assigned by the external escrow rail
	OrderID        int64 // optional marketplace order correlation, 0 when absent
	BuyerAddress   string
	SellerAddress  string
	TokenAddress   string
	Amount         decimal.Decimal // in the token's smallest units
	FeeBps         int
	Status         Status
	CreatedTxHash  string
	FundedTxHash   string
	ReleasedTxHash string
	RefundedTxHash string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// canTransition returns whether the state machine permits moving to next.
func (d Deal) canTransition(next Status) bool {
	switch d.Status {
	case StatusOpen:
		return next == StatusFunded || next == StatusCanceled
	case StatusFunded:
		return next == StatusReleased || next == StatusRefunded
	}
	return false
}
