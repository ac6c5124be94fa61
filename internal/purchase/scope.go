package purchase

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/internal/voucher"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
)

// scope tracks what one purchase holds so every exit path can give it back
type scope struct {
	ledger   ledger.Ledger
	vouchers voucher.Evaluator
	log      *logger.Logger

	reservations []*domain.Reservation
	settled      map[string]bool
	voucherCode  string
	voucherHeld  bool
	detached     bool
}

func newScope(l ledger.Ledger, v voucher.Evaluator, log *logger.Logger) *scope {
	return &scope{ledger: l, vouchers: v, log: log, settled: make(map[string]bool)}
}

func (s *scope) addReservation(res *domain.Reservation) {
	s.reservations = append(s.reservations, res)
}

func (s *scope) holdVoucher(code string) {
	s.voucherCode = code
	s.voucherHeld = true
}

func (s *scope) markCommitted(reservationID string) {
	s.settled[reservationID] = true
}

func (s *scope) voucherConsumed() {
	s.voucherHeld = false
}

// detach leaves everything in place for manual reconciliation
func (s *scope) detach() {
	s.detached = true
}

// release gives back every uncommitted reservation and the voucher hold.
// Safe to call more than once.
func (s *scope) release(ctx context.Context, reason string) {
	if s.detached {
		return
	}
	for _, res := range s.reservations {
		if s.settled[res.ID] {
			continue
		}
		if err := s.ledger.Release(ctx, res.ID, reason); err != nil {
			// The sweeper reclaims it once the hold expires
			s.log.Error(fmt.Sprintf("Failed to release reservation %s: %v", res.ID, err))
			continue
		}
		metrics.RecordHoldReleased(ctx, res.TicketTypeID, res.Quantity)
		s.settled[res.ID] = true
	}
	if s.voucherHeld {
		if err := s.vouchers.ReleaseHold(ctx, s.voucherCode); err != nil {
			s.log.Error(fmt.Sprintf("Failed to release voucher hold %s: %v", s.voucherCode, err))
		}
		s.voucherHeld = false
	}
}
