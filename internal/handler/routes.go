package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/pkg/middleware"
)

// Handlers groups every HTTP handler the API serves
type Handlers struct {
	Health   *HealthHandler
	Catalog  *CatalogHandler
	Purchase *PurchaseHandler
	Ticket   *TicketHandler
	Admin    *AdminHandler
}

// RouteConfig carries the middleware routes are guarded by
type RouteConfig struct {
	// Auth authenticates buyers and staff
	Auth gin.HandlerFunc
	// RedeemLimiter throttles the admission gate
	RedeemLimiter gin.HandlerFunc
}

// RegisterRoutes mounts the API on router
func RegisterRoutes(router *gin.Engine, h *Handlers, cfg RouteConfig) {
	router.GET("/health", h.Health.Health)
	router.GET("/ready", h.Health.Ready)

	v1 := router.Group("/api/v1")

	events := v1.Group("/events")
	{
		events.GET("", h.Catalog.ListEvents)
		events.GET("/:eventId", h.Catalog.GetEvent)
		events.GET("/:eventId/ticket-types", h.Catalog.ListTicketTypes)
	}

	authed := v1.Group("")
	if cfg.Auth != nil {
		authed.Use(cfg.Auth)
	}

	authed.POST("/discounts/validate", h.Purchase.ValidateDiscount)

	purchases := authed.Group("/purchases")
	{
		purchases.POST("", middleware.RequireIdempotencyKey(), h.Purchase.CreatePurchase)
		purchases.GET("", h.Purchase.ListPurchases)
		purchases.GET("/:id", h.Purchase.GetPurchase)
		purchases.POST("/:id/cancel", h.Purchase.CancelPurchase)
	}

	tickets := authed.Group("/tickets")
	{
		tickets.GET("", h.Ticket.ListMyTickets)
		tickets.GET("/:id/qr", h.Ticket.GetTicketQR)
	}

	gate := authed.Group("/admission", middleware.RequireRole(middleware.RoleStaff, middleware.RoleAdmin))
	{
		gate.POST("/validate", h.Ticket.ValidateAdmission)
		if cfg.RedeemLimiter != nil {
			gate.POST("/redeem", cfg.RedeemLimiter, h.Ticket.RedeemAdmission)
		} else {
			gate.POST("/redeem", h.Ticket.RedeemAdmission)
		}
	}

	admin := authed.Group("/admin", middleware.RequireRole(middleware.RoleAdmin))
	{
		admin.POST("/events", h.Admin.CreateEvent)
		admin.POST("/ticket-types", h.Admin.SaveTicketType)
		admin.PUT("/ticket-types/:id/capacity", h.Admin.UpdateCapacity)
		admin.POST("/vouchers", h.Admin.CreateVoucher)
		admin.GET("/sweeper/stats", h.Admin.SweeperStats)
		admin.POST("/orders/:id/refund", h.Purchase.RefundPurchase)
	}
}
