package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/joytrade/joycoin/internal/engine"
)

// RegisterEscrowRoutes wires escrow hold lifecycle endpoints.
func RegisterEscrowRoutes(r fiber.Router, h *engine.Handler) {
	r.Post("/escrow/hold", h.Hold)
	r.Post("/escrow/release", h.Release)
	r.Post("/escrow/refund", h.Refund)
}
