package deal

import (
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

// Handler exposes deal mirror endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs a deal mirror handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type dealResponse struct {
	DealID         int64  `json:"deal_id"`
	OrderID        int64  `json:"order_id,omitempty"`
	BuyerAddress   string `json:"buyer_address"`
	SellerAddress  string `json:"seller_address"`
	TokenAddress   string `json:"token_address"`
	Amount         string `json:"amount"`
	FeeBps         int    `json:"fee_bps"`
	Status         string `json:"status"`
	CreatedTxHash  string `json:"created_tx_hash,omitempty"`
	FundedTxHash   string `json:"funded_tx_hash,omitempty"`
	ReleasedTxHash string `json:"released_tx_hash,omitempty"`
	RefundedTxHash string `json:"refunded_tx_hash,omitempty"`
	UpdatedAt      string `json:"updated_at"`
}

func toDealResponse(d Deal) dealResponse {
	return dealResponse{
		DealID:         d.DealID,
		OrderID:        d.OrderID,
		BuyerAddress:   d.BuyerAddress,
		SellerAddress:  d.SellerAddress,
		TokenAddress:   d.TokenAddress,
		Amount:         d.Amount.String(),
		FeeBps:         d.FeeBps,
		Status:         string(d.Status),
		CreatedTxHash:  d.CreatedTxHash,
		FundedTxHash:   d.FundedTxHash,
		ReleasedTxHash: d.ReleasedTxHash,
		RefundedTxHash: d.RefundedTxHash,
		UpdatedAt:      d.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

type createDealRequest struct {
	DealID        int64           `json:"deal_id"`
	OrderID       int64           `json:"order_id"`
	BuyerAddress  string          `json:"buyer_address"`
	SellerAddress string          `json:"seller_address"`
	TokenAddress  string          `json:"token_address"`
	Amount        decimal.Decimal `json:"amount"`
	FeeBps        int             `json:"fee_bps"`
	TxHash        string          `json:"tx_hash"`
}

// Create mirrors a newly opened external deal.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createDealRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if req.BuyerAddress == "" || req.SellerAddress == "" || req.TokenAddress == "" {
		return fiber.NewError(http.StatusBadRequest, "buyer, seller and token addresses are required")
	}
	d, err := h.service.Create(c.UserContext(), CreateInput{
		DealID:        req.DealID,
		OrderID:       req.OrderID,
		BuyerAddress:  req.BuyerAddress,
		SellerAddress: req.SellerAddress,
		TokenAddress:  req.TokenAddress,
		Amount:        req.Amount,
		FeeBps:        req.FeeBps,
		CreatedTxHash: req.TxHash,
	})
	if err != nil {
		return dealError(err)
	}
	return c.Status(http.StatusCreated).JSON(toDealResponse(d))
}

// Get returns the mirror for an external deal id.
func (h *Handler) Get(c *fiber.Ctx) error {
	dealID, err := c.ParamsInt("dealId")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid deal id")
	}
	d, err := h.service.Get(c.UserContext(), int64(dealID))
	if err != nil {
		return dealError(err)
	}
	return c.JSON(toDealResponse(d))
}

// GetByOrder returns the mirror correlated to a marketplace order.
func (h *Handler) GetByOrder(c *fiber.Ctx) error {
	orderID, err := c.ParamsInt("orderId")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid order id")
	}
	d, err := h.service.GetByOrder(c.UserContext(), int64(orderID))
	if err != nil {
		return dealError(err)
	}
	return c.JSON(toDealResponse(d))
}

type transitionRequest struct {
	TxHash string `json:"tx_hash"`
}

// Transition applies a lifecycle event reported by the external rail.
func (h *Handler) Transition(c *fiber.Ctx) error {
	dealID, err := c.ParamsInt("dealId")
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid deal id")
	}
	var req transitionRequest
	if err := c.BodyParser(&req); err != nil && len(c.Body()) > 0 {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	var d Deal
	switch c.Params("event") {
	case "funded":
		d, err = h.service.MarkFunded(c.UserContext(), int64(dealID), req.TxHash)
	case "released":
		d, err = h.service.MarkReleased(c.UserContext(), int64(dealID), req.TxHash)
	case "refunded":
		d, err = h.service.MarkRefunded(c.UserContext(), int64(dealID), req.TxHash)
	case "canceled":
		d, err = h.service.MarkCanceled(c.UserContext(), int64(dealID))
	default:
		return fiber.NewError(http.StatusNotFound, "unknown transition")
	}
	if err != nil {
		return dealError(err)
	}
	return c.JSON(toDealResponse(d))
}

func dealError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrDealExists):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
