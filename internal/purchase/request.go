package purchase

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
)

// DefaultMaxTicketsPerOrder caps the total quantity of one purchase
const DefaultMaxTicketsPerOrder = 10

// LineRequest asks for a quantity of one ticket type
type LineRequest struct {
	TicketTypeID string `json:"ticket_type_id"`
	Quantity     int    `json:"quantity"`
}

// Request is one purchase attempt
type Request struct {
	BuyerID        string        `json:"buyer_id"`
	Email          string        `json:"email,omitempty"`
	IdempotencyKey string        `json:"-"`
	Lines          []LineRequest `json:"lines"`
	VoucherCode    string        `json:"voucher_code,omitempty"`
	PaymentToken   string        `json:"payment_token"`
	Currency       string        `json:"currency,omitempty"`
}

// Validate checks the request shape; catalog checks happen later
func (r *Request) Validate(maxTickets int) error {
	if strings.TrimSpace(r.BuyerID) == "" {
		return domain.ErrInvalidBuyer
	}
	if strings.TrimSpace(r.IdempotencyKey) == "" {
		return domain.ErrMissingKey
	}
	if strings.TrimSpace(r.PaymentToken) == "" {
		return domain.ErrMissingPayment
	}
	if len(r.Lines) == 0 {
		return domain.ErrEmptyOrder
	}

	total := 0
	for i, l := range r.Lines {
		if strings.TrimSpace(l.TicketTypeID) == "" {
			return fmt.Errorf("%w: line %d has no ticket type", domain.ErrEmptyOrder, i)
		}
		if l.Quantity <= 0 {
			return fmt.Errorf("%w: line %d", domain.ErrInvalidQuantity, i)
		}
		total += l.Quantity
	}
	if maxTickets > 0 && total > maxTickets {
		return fmt.Errorf("%w: %d requested, at most %d allowed", domain.ErrTooManyTickets, total, maxTickets)
	}
	return nil
}

// mergedLines folds repeated ticket types into one line, keeping first-seen order
func (r *Request) mergedLines() []LineRequest {
	index := make(map[string]int, len(r.Lines))
	var out []LineRequest
	for _, l := range r.Lines {
		if i, ok := index[l.TicketTypeID]; ok {
			out[i].Quantity += l.Quantity
			continue
		}
		index[l.TicketTypeID] = len(out)
		out = append(out, l)
	}
	return out
}

// Hash fingerprints everything that changes what a purchase does, so a
// reused idempotency key with a different payload can be told apart
func (r *Request) Hash() string {
	canonical := struct {
		BuyerID      string        `json:"b"`
		Lines        []LineRequest `json:"l"`
		VoucherCode  string        `json:"v"`
		PaymentToken string        `json:"p"`
		Currency     string        `json:"c"`
	}{
		BuyerID:      r.BuyerID,
		Lines:        r.mergedLines(),
		VoucherCode:  domain.NormalizeCode(r.VoucherCode),
		PaymentToken: r.PaymentToken,
		Currency:     strings.ToLower(r.Currency),
	}
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
