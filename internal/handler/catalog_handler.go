package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/catalog"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// CatalogHandler serves events and ticket types with live availability
type CatalogHandler struct {
	catalog catalog.Service
}

// NewCatalogHandler creates a new catalog handler
func NewCatalogHandler(svc catalog.Service) *CatalogHandler {
	return &CatalogHandler{catalog: svc}
}

// ListEvents handles GET /events
func (h *CatalogHandler) ListEvents(c *gin.Context) {
	events, err := h.catalog.ListEvents(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, events)
}

// GetEvent handles GET /events/:eventId
func (h *CatalogHandler) GetEvent(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.catalog.get_event")
	defer span.End()

	eventID := c.Param("eventId")
	span.SetAttributes(attribute.String("event_id", eventID))

	view, err := h.catalog.GetEvent(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, view)
}

// ListTicketTypes handles GET /events/:eventId/ticket-types
func (h *CatalogHandler) ListTicketTypes(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.catalog.list_ticket_types")
	defer span.End()

	eventID := c.Param("eventId")
	span.SetAttributes(attribute.String("event_id", eventID))

	if _, err := h.catalog.GetEvent(ctx, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	types, err := h.catalog.ListTicketTypes(ctx, eventID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, types)
}
