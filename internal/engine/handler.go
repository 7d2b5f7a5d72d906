package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/joytrade/joycoin/internal/ledger"
)

// Handler exposes the engine's operations over HTTP.
type Handler struct {
	engine *Engine
}

// NewHandler constructs an engine HTTP handler.
func NewHandler(engine *Engine) *Handler {
	return &Handler{engine: engine}
}

type walletResponse struct {
	ID               string `json:"id"`
	OwnerID          string `json:"owner_id"`
	Balance          string `json:"balance"`
	PendingBalance   string `json:"pending_balance"`
	AvailableBalance string `json:"available_balance"`
	TotalEarned      string `json:"total_earned"`
	TotalSpent       string `json:"total_spent"`
	UpdatedAt        string `json:"updated_at"`
}

func toWalletResponse(w ledger.Wallet) walletResponse {
	return walletResponse{
		ID:               w.ID,
		OwnerID:          w.OwnerID,
		Balance:          w.Balance.String(),
		PendingBalance:   w.PendingBalance.String(),
		AvailableBalance: w.Available().String(),
		TotalEarned:      w.TotalEarned.String(),
		TotalSpent:       w.TotalSpent.String(),
		UpdatedAt:        w.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type transactionResponse struct {
	ID          int64  `json:"id"`
	FromOwnerID string `json:"from_owner_id,omitempty"`
	ToOwnerID   string `json:"to_owner_id,omitempty"`
	Amount      string `json:"amount"`
	Type        string `json:"type"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	ReferenceID string `json:"reference_id,omitempty"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
}

func toTransactionResponse(tx ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:          tx.ID,
		FromOwnerID: tx.FromOwnerID,
		ToOwnerID:   tx.ToOwnerID,
		Amount:      tx.Amount.String(),
		Type:        string(tx.Type),
		Category:    string(tx.Category),
		Description: tx.Description,
		ReferenceID: tx.ReferenceID,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// Wallet returns the owner's wallet snapshot, creating an empty wallet on
// first sight of the owner.
func (h *Handler) Wallet(c *fiber.Ctx) error {
	ownerID := c.Params("ownerId")
	w, err := h.engine.GetOrCreateWallet(c.UserContext(), ownerID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(toWalletResponse(w))
}

// History returns the owner's paginated transaction history.
func (h *Handler) History(c *fiber.Ctx) error {
	f := ledger.Filter{
		OwnerID:  c.Params("ownerId"),
		Type:     ledger.Type(c.Query("type")),
		Category: ledger.Category(c.Query("category")),
		Status:   ledger.Status(c.Query("status")),
		Limit:    c.QueryInt("limit", 50),
		Offset:   c.QueryInt("offset", 0),
	}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid from timestamp")
		}
		f.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid to timestamp")
		}
		f.To = t
	}

	entries, err := h.engine.History(c.UserContext(), f)
	if err != nil {
		return httpError(err)
	}
	out := make([]transactionResponse, 0, len(entries))
	for _, tx := range entries {
		out = append(out, toTransactionResponse(tx))
	}
	return c.JSON(fiber.Map{"transactions": out, "limit": f.Limit, "offset": f.Offset})
}

type awardRequest struct {
	OwnerID     string          `json:"owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

// Award credits reward coins to an owner.
func (h *Handler) Award(c *fiber.Ctx) error {
	var req awardRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Award(c.UserContext(), req.OwnerID, req.Amount, ledger.Category(req.Category), req.Description, req.ReferenceID)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type spendRequest struct {
	OwnerID     string          `json:"owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	ReferenceID string          `json:"reference_id"`
}

// Spend debits coins from an owner's available balance.
func (h *Handler) Spend(c *fiber.Ctx) error {
	var req spendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Spend(c.UserContext(), req.OwnerID, req.Amount, ledger.Category(req.Category), req.Description, req.ReferenceID)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type transferRequest struct {
	FromOwnerID string          `json:"from_owner_id"`
	ToOwnerID   string          `json:"to_owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description"`
}

// Transfer moves coins between two owners.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.Transfer(c.UserContext(), req.FromOwnerID, req.ToOwnerID, req.Amount, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type holdRequest struct {
	OwnerID     string          `json:"owner_id"`
	Amount      decimal.Decimal `json:"amount"`
	ReferenceID string          `json:"reference_id"`
	Description string          `json:"description"`
}

// Hold places coins in escrow for a marketplace order.
func (h *Handler) Hold(c *fiber.Ctx) error {
	var req holdRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.HoldInEscrow(c.UserContext(), req.OwnerID, req.Amount, req.ReferenceID, req.Description)
	if errors.Is(err, ErrDuplicateReference) {
		return c.Status(http.StatusConflict).JSON(fiber.Map{"duplicate": true, "transaction": toTransactionResponse(tx)})
	}
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type releaseRequest struct {
	ReferenceID string `json:"reference_id"`
	ToOwnerID   string `json:"to_owner_id"`
	Description string `json:"description"`
}

// Release pays a held amount out to the named counterparty.
func (h *Handler) Release(c *fiber.Ctx) error {
	var req releaseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.ReleaseEscrow(c.UserContext(), req.ReferenceID, req.ToOwnerID, req.Description)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type refundRequest struct {
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
}

// Refund returns a held amount to the original holder.
func (h *Handler) Refund(c *fiber.Ctx) error {
	var req refundRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.RefundEscrow(c.UserContext(), req.ReferenceID, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

type reverseRequest struct {
	ReferenceID string `json:"reference_id"`
	Reason      string `json:"reason"`
}

// Reverse compensates earlier reward credits tied to a deleted entity. Each
// matching entry's outcome is reported individually so the caller can decide
// what a partial reversal means for the triggering action.
func (h *Handler) Reverse(c *fiber.Ctx) error {
	var req reverseRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	results, err := h.engine.ReverseByReference(c.UserContext(), req.ReferenceID, req.Reason)
	if err != nil {
		return httpError(err)
	}

	type reversalResponse struct {
		OriginalID   int64                `json:"original_id"`
		Compensation *transactionResponse `json:"compensation,omitempty"`
		Error        string               `json:"error,omitempty"`
	}
	out := make([]reversalResponse, 0, len(results))
	allOK := true
	for _, r := range results {
		item := reversalResponse{OriginalID: r.Original.ID}
		if r.Compensation != nil {
			resp := toTransactionResponse(*r.Compensation)
			item.Compensation = &resp
		}
		if r.Err != nil {
			item.Error = r.Err.Error()
			allOK = false
		}
		out = append(out, item)
	}
	status := http.StatusOK
	if !allOK {
		status = http.StatusConflict
	}
	return c.Status(status).JSON(fiber.Map{"reversals": out})
}

type topUpRequest struct {
	OwnerID       string          `json:"owner_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentRef    string          `json:"payment_ref"`
}

// TopUp credits coins for a verified external payment. Retried webhooks with
// the same payment reference return the original entry.
func (h *Handler) TopUp(c *fiber.Ctx) error {
	var req topUpRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	tx, err := h.engine.TopUp(c.UserContext(), req.OwnerID, req.Amount, req.PaymentMethod, req.PaymentRef)
	if errors.Is(err, ErrDuplicateReference) {
		return c.Status(http.StatusConflict).JSON(fiber.Map{"duplicate": true, "transaction": toTransactionResponse(tx)})
	}
	if err != nil {
		return httpError(err)
	}
	return c.Status(http.StatusCreated).JSON(toTransactionResponse(tx))
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrSelfTransfer),
		errors.Is(err, ErrMissingReference),
		errors.Is(err, ErrMissingOwner):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrInsufficientBalance):
		return fiber.NewError(http.StatusBadRequest, "insufficient balance")
	case errors.Is(err, ledger.ErrWalletNotFound),
		errors.Is(err, ledger.ErrEscrowNotFound),
		errors.Is(err, ledger.ErrTransactionNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrDuplicateReference), errors.Is(err, ledger.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
