package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/joytrade/joycoin/internal/engine"
)

// RegisterWalletRoutes wires wallet balance and ledger endpoints.
func RegisterWalletRoutes(r fiber.Router, h *engine.Handler) {
	r.Get("/wallets/:ownerId", h.Wallet)
	r.Get("/wallets/:ownerId/transactions", h.History)

	r.Post("/coins/award", h.Award)
	r.Post("/coins/spend", h.Spend)
	r.Post("/coins/transfer", h.Transfer)
	r.Post("/coins/topup", h.TopUp)
	r.Post("/coins/reverse", h.Reverse)
}
