package ledger

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Type classifies the balance effect of a ledger entry.
type Type string

const (
	TypeEarn          Type = "EARN"
	TypeSpend         Type = "SPEND"
	TypeTransfer      Type = "TRANSFER"
	TypeRefund        Type = "REFUND"
	TypeTopUp         Type = "TOP_UP"
	TypeEscrowHold    Type = "ESCROW_HOLD"
	TypeEscrowRelease Type = "ESCROW_RELEASE"
)

// Status is the lifecycle state of a ledger entry. Only ESCROWED entries ever
// transition (to COMPLETED on release, CANCELLED on refund); every other
// status is final once written.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusEscrowed  Status = "ESCROWED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
	StatusReversed  Status = "REVERSED"
)

// Terminal reports whether the status permits no further transition.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed, StatusReversed:
		return true
	}
	return false
}

// Category tags an entry for reporting. Categories carry no consistency
// semantics; they exist so downstream reporting can slice transaction volume.
type Category string

const (
	CategoryPhotoUpload         Category = "PHOTO_UPLOAD"
	CategoryLotteryWin          Category = "LOTTERY_WIN"
	CategoryPurchase            Category = "PURCHASE"
	CategoryReferral            Category = "REFERRAL"
	CategoryDailyLogin          Category = "DAILY_LOGIN"
	CategoryFirstPurchase       Category = "FIRST_PURCHASE"
	CategoryMarketplaceSale     Category = "MARKETPLACE_SALE"
	CategoryMarketplacePurchase Category = "MARKETPLACE_PURCHASE"
	CategoryServiceFee          Category = "SERVICE_FEE"
	CategoryWithdrawal          Category = "WITHDRAWAL"
	CategoryDeposit             Category = "DEPOSIT"
	CategoryBonus               Category = "BONUS"
	CategoryAchievementUnlock   Category = "ACHIEVEMENT_UNLOCK"
	CategoryEscrowPayment       Category = "ESCROW_PAYMENT"
	CategoryDisputeResolution   Category = "DISPUTE_RESOLUTION"
	CategoryManualAdjustment    Category = "MANUAL_ADJUSTMENT"
	CategoryOther               Category = "OTHER"
)

// Transaction is one immutable, append-only ledger entry. Entries are never
// deleted; compensations are expressed as new entries referencing the
// original through ReferenceID.
type Transaction struct {
	ID           int64
	FromOwnerID  string
	ToOwnerID    string
	FromWalletID string
	ToWalletID   string
	Amount       decimal.Decimal
	Type         Type
	Category     Category
	Description  string
	ReferenceID  string
	Status       Status
	CreatedAt    time.Time
}

// Credits reports whether the entry, once terminal, credits the wallet owned
// by ownerID. Together with Debits it defines the closed-form balance a
// wallet must agree with.
func (t Transaction) Credits(ownerID string) bool {
	if t.ToOwnerID != ownerID {
		return false
	}
	switch t.Type {
	case TypeEarn, TypeTransfer, TypeRefund, TypeTopUp, TypeEscrowRelease:
		return true
	}
	return false
}

// Debits reports whether the entry debits the wallet owned by ownerID.
func (t Transaction) Debits(ownerID string) bool {
	if t.FromOwnerID != ownerID {
		return false
	}
	switch t.Type {
	case TypeSpend, TypeTransfer, TypeEscrowHold:
		return true
	}
	return false
}

// Reference helpers. References are namespaced correlation keys supplied by
// callers (an order, an upload, an external payment) and are the lookup key
// for idempotency and reversal.

// OrderRef builds the reference for a marketplace order.
func OrderRef(orderID int64) string { return fmt.Sprintf("ORDER-%d", orderID) }

// PhotoRef builds the reference for a rewarded photo upload.
func PhotoRef(photoID int64) string { return fmt.Sprintf("PHOTO-%d", photoID) }

// ReverseRef builds the reference a compensating entry carries so a reversal
// can be detected and is itself never re-reversed.
func ReverseRef(txID int64) string { return fmt.Sprintf("REVERSE-%d", txID) }

// Filter narrows transaction history queries. Zero values match everything.
type Filter struct {
	OwnerID     string
	ReferenceID string
	Type        Type
	Category    Category
	Status      Status
	From        time.Time
	To          time.Time
	Limit       int
	Offset      int
}

// Matches reports whether tx satisfies every populated filter field.
func (f Filter) Matches(tx Transaction) bool {
	if f.OwnerID != "" && tx.FromOwnerID != f.OwnerID && tx.ToOwnerID != f.OwnerID {
		return false
	}
	if f.ReferenceID != "" && tx.ReferenceID != f.ReferenceID {
		return false
	}
	if f.Type != "" && tx.Type != f.Type {
		return false
	}
	if f.Category != "" && tx.Category != f.Category {
		return false
	}
	if f.Status != "" && tx.Status != f.Status {
		return false
	}
	if !f.From.IsZero() && tx.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && tx.CreatedAt.After(f.To) {
		return false
	}
	return true
}
