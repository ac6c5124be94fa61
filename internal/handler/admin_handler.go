package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/catalog"
	"github.com/prohmpiriya/ticket-engine/internal/dto"
	"github.com/prohmpiriya/ticket-engine/internal/voucher"
	"github.com/prohmpiriya/ticket-engine/internal/worker"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// SweeperStatsProvider exposes the reservation sweeper's counters
type SweeperStatsProvider interface {
	GetStats() *worker.ReservationSweeperStats
}

// AdminHandler handles catalog administration and worker introspection
type AdminHandler struct {
	catalog  catalog.Service
	vouchers voucher.Evaluator
	sweeper  SweeperStatsProvider
}

// NewAdminHandler creates a new admin handler. sweeper may be nil when the
// sweeper runs in its own process.
func NewAdminHandler(svc catalog.Service, vouchers voucher.Evaluator, sweeper SweeperStatsProvider) *AdminHandler {
	return &AdminHandler{catalog: svc, vouchers: vouchers, sweeper: sweeper}
}

// CreateEvent handles POST /admin/events
func (h *AdminHandler) CreateEvent(c *gin.Context) {
	var req dto.EventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	event, err := h.catalog.CreateEvent(c.Request.Context(), req.ToDomain())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, event)
}

// SaveTicketType handles POST /admin/ticket-types
func (h *AdminHandler) SaveTicketType(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.save_ticket_type")
	defer span.End()

	var req dto.TicketTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	span.SetAttributes(attribute.String("ticket_type_id", req.ID), attribute.Int("capacity", req.Capacity))

	view, err := h.catalog.SaveTicketType(ctx, req.ToDomain())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Created(c, view)
}

// UpdateCapacity handles PUT /admin/ticket-types/:id/capacity
func (h *AdminHandler) UpdateCapacity(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admin.update_capacity")
	defer span.End()

	var req dto.CapacityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		span.SetStatus(codes.Error, "invalid request")
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	ticketTypeID := c.Param("id")
	span.SetAttributes(attribute.String("ticket_type_id", ticketTypeID), attribute.Int("capacity", *req.Capacity))

	view, err := h.catalog.AdjustCapacity(ctx, ticketTypeID, *req.Capacity)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, view)
}

// CreateVoucher handles POST /admin/vouchers
func (h *AdminHandler) CreateVoucher(c *gin.Context) {
	var req dto.VoucherRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}
	v := req.ToDomain()
	if err := h.vouchers.Create(c.Request.Context(), v); err != nil {
		handleError(c, err)
		return
	}
	response.Created(c, v)
}

// SweeperStats handles GET /admin/sweeper/stats
func (h *AdminHandler) SweeperStats(c *gin.Context) {
	if h.sweeper == nil {
		response.Error(c, http.StatusNotFound, "SWEEPER_DISABLED", "reservation sweeper is not running in this process", "")
		return
	}
	response.Success(c, h.sweeper.GetStats())
}
