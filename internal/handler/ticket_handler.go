package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/ticket-engine/internal/admission"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/dto"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/internal/qrcodec"
	"github.com/prohmpiriya/ticket-engine/pkg/middleware"
	"github.com/prohmpiriya/ticket-engine/pkg/response"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const maxQRSize = 1024

// TicketHandler serves issued tickets and the admission gate
type TicketHandler struct {
	registry admission.Registry
}

// NewTicketHandler creates a new ticket handler
func NewTicketHandler(registry admission.Registry) *TicketHandler {
	return &TicketHandler{registry: registry}
}

// ListMyTickets handles GET /tickets
func (h *TicketHandler) ListMyTickets(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.list")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	span.SetAttributes(attribute.String("user_id", userID))

	tickets, err := h.registry.TicketsByBuyer(ctx, userID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	response.Success(c, dto.FromTickets(tickets))
}

// GetTicketQR handles GET /tickets/:id/qr and returns a PNG
func (h *TicketHandler) GetTicketQR(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.ticket.qr")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, ok := middleware.GetUserID(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	ticketID := c.Param("id")
	span.SetAttributes(attribute.String("ticket_id", ticketID))

	ticket, err := h.registry.Get(ctx, ticketID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	if ticket.BuyerID != userID {
		span.SetStatus(codes.Error, "not owner")
		handleError(c, domain.ErrTicketNotFound)
		return
	}

	size := qrcodec.DefaultSize
	if s := c.Query("size"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 64 && n <= maxQRSize {
			size = n
		}
	}

	png, err := qrcodec.EncodeSize(ticket.Token, size)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetStatus(codes.Ok, "")
	c.Header("Cache-Control", "private, no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// ValidateAdmission handles POST /admission/validate. It never redeems.
func (h *TicketHandler) ValidateAdmission(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admission.validate")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := h.scannedToken(c)
	if !ok {
		return
	}

	ticket, err := h.registry.Lookup(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		handleError(c, err)
		return
	}
	span.SetAttributes(attribute.String("ticket_id", ticket.ID), attribute.Bool("redeemed", ticket.IsRedeemed()))
	span.SetStatus(codes.Ok, "")
	response.Success(c, &dto.AdmissionResponse{
		Valid:    !ticket.IsRedeemed(),
		Redeemed: ticket.IsRedeemed(),
		Ticket:   dto.FromTicket(ticket, false),
	})
}

// RedeemAdmission handles POST /admission/redeem
func (h *TicketHandler) RedeemAdmission(c *gin.Context) {
	ctx, span := telemetry.StartSpan(c.Request.Context(), "handler.admission.redeem")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, ok := h.scannedToken(c)
	if !ok {
		metrics.RecordRedemption(ctx, "invalid")
		return
	}

	ticket, err := h.registry.Redeem(ctx, token)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		metrics.RecordRedemption(ctx, redemptionOutcome(err))
		handleError(c, err)
		return
	}

	metrics.RecordRedemption(ctx, "redeemed")
	span.SetAttributes(attribute.String("ticket_id", ticket.ID))
	span.SetStatus(codes.Ok, "")
	response.Success(c, &dto.AdmissionResponse{
		Valid:    true,
		Redeemed: true,
		Ticket:   dto.FromTicket(ticket, false),
	})
}

func (h *TicketHandler) scannedToken(c *gin.Context) (string, bool) {
	var req dto.AdmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return "", false
	}
	token, err := qrcodec.Decode(req.Payload)
	if err != nil {
		handleError(c, err)
		return "", false
	}
	return token, true
}

func redemptionOutcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrAlreadyRedeemed):
		return "already_redeemed"
	case domain.IsNotFoundError(err):
		return "not_found"
	case errors.Is(err, domain.ErrConcurrencyExceeded):
		return "contention"
	default:
		return "error"
	}
}
