package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/joytrade/joycoin/internal/deal"
)

// RegisterDealRoutes wires the escrow deal mirror endpoints.
func RegisterDealRoutes(r fiber.Router, h *deal.Handler) {
	r.Post("/deals", h.Create)
	r.Get("/deals/:dealId", h.Get)
	r.Get("/deals/by-order/:orderId", h.GetByOrder)
	r.Post("/deals/:dealId/:event", h.Transition)
}
