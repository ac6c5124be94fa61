// Package purchase drives a purchase from reservation through payment to
// issued tickets.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/ticket-engine/internal/admission"
	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/internal/gateway"
	"github.com/prohmpiriya/ticket-engine/internal/ledger"
	"github.com/prohmpiriya/ticket-engine/internal/metrics"
	"github.com/prohmpiriya/ticket-engine/internal/notify"
	"github.com/prohmpiriya/ticket-engine/internal/qrcodec"
	"github.com/prohmpiriya/ticket-engine/internal/repository"
	"github.com/prohmpiriya/ticket-engine/internal/voucher"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Defaults
const (
	DefaultPaymentTimeout = 30 * time.Second
	DefaultCurrency       = "eur"
	cleanupTimeout        = 10 * time.Second
)

// Result is the outcome of a purchase, or of a lookup of one
type Result struct {
	Order    *domain.Order    `json:"order"`
	Tickets  []*domain.Ticket `json:"tickets,omitempty"`
	Replayed bool             `json:"replayed,omitempty"`
}

// Orchestrator runs purchases and answers questions about them
type Orchestrator interface {
	// Purchase is idempotent per buyer and idempotency key
	Purchase(ctx context.Context, req *Request) (*Result, error)
	GetOrder(ctx context.Context, orderID, buyerID string) (*Result, error)
	ListOrders(ctx context.Context, buyerID string, limit, offset int) ([]*domain.Order, error)
	// Abandon cancels a pending order that is no longer in flight
	Abandon(ctx context.Context, orderID, buyerID string) (*domain.Order, error)
	// Expire fails a pending order whose hold was swept
	Expire(ctx context.Context, orderID string) (*domain.Order, error)
	// Refund returns the payment of an order flagged for reconciliation
	Refund(ctx context.Context, orderID string) (*domain.Order, error)
}

// Deps are the collaborators of the orchestrator
type Deps struct {
	Ledger      ledger.Ledger
	Vouchers    voucher.Evaluator
	Registry    admission.Registry
	Gateway     gateway.PaymentGateway
	Notifier    notify.Notifier
	Publisher   EventPublisher
	Catalog     repository.CatalogRepository
	Orders      repository.OrderRepository
	Idempotency IdempotencyStore
}

// Config contains orchestrator configuration
type Config struct {
	PaymentTimeout     time.Duration
	IdempotencyTTL     time.Duration
	MaxTicketsPerOrder int
	Currency           string
	Now                func() time.Time
	Logger             *logger.Logger
}

type orchestrator struct {
	Deps
	paymentTimeout time.Duration
	idempotencyTTL time.Duration
	inFlight       time.Duration
	maxTickets     int
	currency       string
	now            func() time.Time
	log            *logger.Logger
}

// NewOrchestrator creates a new purchase orchestrator
func NewOrchestrator(deps Deps, cfg *Config) Orchestrator {
	if cfg == nil {
		cfg = &Config{}
	}
	o := &orchestrator{
		Deps:           deps,
		paymentTimeout: cfg.PaymentTimeout,
		idempotencyTTL: cfg.IdempotencyTTL,
		maxTickets:     cfg.MaxTicketsPerOrder,
		currency:       strings.ToLower(cfg.Currency),
		now:            cfg.Now,
		log:            cfg.Logger,
	}
	if o.paymentTimeout <= 0 {
		o.paymentTimeout = DefaultPaymentTimeout
	}
	if o.idempotencyTTL <= 0 {
		o.idempotencyTTL = DefaultIdempotencyTTL
	}
	if o.maxTickets <= 0 {
		o.maxTickets = DefaultMaxTicketsPerOrder
	}
	if o.currency == "" {
		o.currency = DefaultCurrency
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.log == nil {
		o.log = logger.Get()
	}
	if o.Notifier == nil {
		o.Notifier = notify.NewNoOpNotifier(o.log)
	}
	if o.Publisher == nil {
		o.Publisher = NewNoOpEventPublisher()
	}
	if o.Idempotency == nil {
		o.Idempotency = NewMemoryIdempotencyStore()
	}
	// A purchase that has not touched its order for this long is not running anymore
	o.inFlight = o.paymentTimeout + 30*time.Second
	return o
}

// failure describes how a purchase left the happy path
type failure struct {
	via           domain.PurchaseState
	final         domain.PurchaseState
	code          string
	releaseReason string
	err           error
}

func (o *orchestrator) Purchase(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.execute")
	defer span.End()

	if err := req.Validate(o.maxTickets); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("buyer_id", req.BuyerID),
		attribute.Int("lines", len(req.Lines)),
		attribute.Bool("voucher", req.VoucherCode != ""),
	)

	start := o.now()
	hash := req.Hash()
	claim := &IdempotencyRecord{
		Key:         scopedKey(req.BuyerID, req.IdempotencyKey),
		Status:      StatusProcessing,
		RequestHash: hash,
		CreatedAt:   start,
	}

	existing, claimed, err := o.Idempotency.Claim(ctx, claim, o.inFlight)
	if err != nil {
		// The unique (buyer, key) constraint on orders still guards duplicates
		o.log.Warn(fmt.Sprintf("Idempotency store unavailable, continuing: %v", err))
		claimed = true
	}
	if !claimed {
		if existing.RequestHash != hash {
			span.SetStatus(codes.Error, "idempotency conflict")
			return nil, domain.ErrIdempotencyConflict
		}
		if existing.Status == StatusProcessing {
			span.SetStatus(codes.Error, "in progress")
			return nil, domain.ErrRequestInProgress
		}
		span.SetAttributes(attribute.Bool("replayed", true))
		return o.replay(ctx, existing.OrderID)
	}

	order, err := o.newOrder(ctx, req, hash, start)
	if err != nil {
		o.releaseClaim(ctx, claim.Key)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := o.Orders.Create(ctx, order); err != nil {
		if errors.Is(err, domain.ErrIdempotencyConflict) {
			return o.replayByKey(ctx, claim, req)
		}
		o.releaseClaim(ctx, claim.Key)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	span.SetAttributes(attribute.String("order_id", order.ID))

	result, runErr := o.run(ctx, order, req.PaymentToken)

	done := o.now()
	claim.Status = StatusCompleted
	claim.OrderID = order.ID
	claim.CompletedAt = &done
	if err := o.Idempotency.Complete(context.WithoutCancel(ctx), claim, o.idempotencyTTL); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to complete idempotency record for order %s: %v", order.ID, err))
	}

	elapsed := done.Sub(start).Seconds()
	if runErr != nil {
		if order.State == domain.StateReconciliationRequired {
			metrics.RecordReconciliation(ctx)
		} else {
			metrics.RecordFailure(ctx, order.FailureCode, elapsed)
		}
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return result, runErr
	}

	metrics.RecordCommit(ctx, len(result.Tickets), elapsed)
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (o *orchestrator) releaseClaim(ctx context.Context, key string) {
	if err := o.Idempotency.Release(context.WithoutCancel(ctx), key); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to release idempotency key %s: %v", key, err))
	}
}

// newOrder prices the lines from the catalog. Client prices are never trusted.
func (o *orchestrator) newOrder(ctx context.Context, req *Request, hash string, now time.Time) (*domain.Order, error) {
	order := &domain.Order{
		ID:             uuid.New().String(),
		BuyerID:        req.BuyerID,
		Email:          strings.TrimSpace(req.Email),
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    hash,
		VoucherCode:    domain.NormalizeCode(req.VoucherCode),
		Currency:       strings.ToLower(strings.TrimSpace(req.Currency)),
		Status:         domain.OrderPending,
		State:          domain.StateInitiated,
		Discount:       decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	subtotal := decimal.Zero
	for _, line := range req.mergedLines() {
		tt, err := o.Catalog.GetTicketType(ctx, line.TicketTypeID)
		if err != nil {
			return nil, err
		}
		currency := strings.ToLower(tt.Currency)
		if currency == "" {
			currency = o.currency
		}
		if order.Currency == "" {
			order.Currency = currency
		}
		if currency != order.Currency {
			return nil, fmt.Errorf("%w: %s is sold in %s", domain.ErrInvalidCurrency, tt.ID, currency)
		}

		ol := domain.OrderLine{
			TicketTypeID: tt.ID,
			Quantity:     line.Quantity,
			UnitPrice:    domain.RoundMoney(tt.UnitPrice),
		}
		order.Lines = append(order.Lines, ol)
		subtotal = subtotal.Add(ol.Subtotal())
	}

	order.Subtotal = domain.RoundMoney(subtotal)
	order.Total = order.Subtotal
	return order, nil
}

// run drives the state machine for a freshly created order. A panic is
// turned into an outcome so the idempotency record is still completed.
func (o *orchestrator) run(ctx context.Context, order *domain.Order, token string) (result *Result, err error) {
	sc := newScope(o.Ledger, o.Vouchers, o.log)

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
		defer cancel()

		if p := recover(); p != nil {
			o.log.Error(fmt.Sprintf("Purchase %s panicked in state %s: %v\n%s", order.ID, order.State, p, debug.Stack()))
			result, err = o.recovered(cleanupCtx, sc, order, fmt.Errorf("purchase aborted: %v", p))
		}
		sc.release(cleanupCtx, domain.ReleaseReasonAborted)
	}()

	if f := o.reserve(ctx, sc, order); f != nil {
		return &Result{Order: order}, o.fail(ctx, sc, order, *f)
	}
	if f := o.price(ctx, sc, order); f != nil {
		return &Result{Order: order}, o.fail(ctx, sc, order, *f)
	}
	if f := o.authorize(ctx, order, token); f != nil {
		return &Result{Order: order}, o.fail(ctx, sc, order, *f)
	}

	// Money has moved; finish even if the caller goes away
	return o.commit(context.WithoutCancel(ctx), sc, order)
}

// recovered settles an order whose purchase panicked, by how far it got
func (o *orchestrator) recovered(ctx context.Context, sc *scope, order *domain.Order, cause error) (*Result, error) {
	switch {
	case order.State == domain.StateCommitted:
		// The panic may have hit the write itself
		if err := o.save(ctx, order, domain.StateCommitted); err != nil {
			return o.reconcile(ctx, sc, order, fmt.Errorf("%v: %w", cause, err))
		}
		tickets, err := o.Registry.TicketsByOrder(ctx, order.ID)
		if err != nil {
			o.log.Warn(fmt.Sprintf("Failed to load tickets of committed order %s: %v", order.ID, err))
		}
		return &Result{Order: order, Tickets: tickets}, nil
	case order.State == domain.StateAuthorized || order.PaymentReference != "":
		return o.reconcile(ctx, sc, order, cause)
	default:
		return &Result{Order: order}, o.fail(ctx, sc, order, failure{
			final:         domain.StateReleased,
			code:          domain.FailureInternal,
			releaseReason: domain.ReleaseReasonAborted,
			err:           cause,
		})
	}
}

func (o *orchestrator) save(ctx context.Context, order *domain.Order, state domain.PurchaseState) error {
	order.State = state
	order.UpdatedAt = o.now()
	if err := o.Orders.Update(ctx, order); err != nil {
		return fmt.Errorf("failed to record state %s: %w", state, err)
	}
	return nil
}

func internalFailure(err error) *failure {
	return &failure{
		final:         domain.StateReleased,
		code:          domain.FailureInternal,
		releaseReason: domain.ReleaseReasonAborted,
		err:           err,
	}
}

// Initiated -> Reserved
func (o *orchestrator) reserve(ctx context.Context, sc *scope, order *domain.Order) *failure {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.reserve")
	defer span.End()

	for i := range order.Lines {
		line := &order.Lines[i]
		res, err := o.Ledger.Reserve(ctx, line.TicketTypeID, order.ID, line.Quantity)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			code := domain.FailureInternal
			switch {
			case errors.Is(err, domain.ErrOutOfStock):
				code = domain.FailureOutOfStock
			case errors.Is(err, domain.ErrConcurrencyExceeded):
				code = domain.FailureContention
			}
			return &failure{
				final:         domain.StateReservationFailed,
				code:          code,
				releaseReason: domain.ReleaseReasonAborted,
				err:           err,
			}
		}
		sc.addReservation(res)
		line.ReservationID = res.ID
		metrics.RecordHold(ctx, res.TicketTypeID, res.Quantity)
	}

	if err := o.save(ctx, order, domain.StateReserved); err != nil {
		return internalFailure(err)
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Reserved -> Priced
func (o *orchestrator) price(ctx context.Context, sc *scope, order *domain.Order) *failure {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.price")
	defer span.End()

	if order.VoucherCode != "" {
		invalid := func(err error) *failure {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			code := domain.FailureInvalidDiscount
			if errors.Is(err, domain.ErrConcurrencyExceeded) {
				code = domain.FailureContention
			} else if !errors.Is(err, domain.ErrInvalidDiscount) {
				code = domain.FailureInternal
			}
			return &failure{
				final:         domain.StateReleased,
				code:          code,
				releaseReason: domain.ReleaseReasonInvalidVoucher,
				err:           err,
			}
		}

		quote, err := o.Vouchers.Price(ctx, order.VoucherCode, order.Subtotal)
		if err != nil {
			return invalid(err)
		}
		if err := o.Vouchers.Hold(ctx, order.VoucherCode); err != nil {
			return invalid(err)
		}
		sc.holdVoucher(order.VoucherCode)
		order.Discount = quote.Discount
		order.Total = quote.Total
	}

	if err := o.save(ctx, order, domain.StatePriced); err != nil {
		return internalFailure(err)
	}
	span.SetAttributes(attribute.String("total", order.Total.StringFixed(2)))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Priced -> Authorized. No ledger state is locked while the authority works.
func (o *orchestrator) authorize(ctx context.Context, order *domain.Order, token string) *failure {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.authorize")
	defer span.End()

	order.PaymentProvider = o.Gateway.Name()
	if order.Total.IsZero() {
		// Fully discounted orders have nothing to charge
		order.PaymentProvider = "none"
		if err := o.save(ctx, order, domain.StateAuthorized); err != nil {
			return internalFailure(err)
		}
		span.SetStatus(codes.Ok, "")
		return nil
	}

	payCtx, cancel := context.WithTimeout(ctx, o.paymentTimeout)
	started := o.now()
	resp, err := o.Gateway.Charge(payCtx, &gateway.ChargeRequest{
		OrderID:     order.ID,
		BuyerID:     order.BuyerID,
		Amount:      order.Total,
		Currency:    order.Currency,
		Token:       token,
		Description: fmt.Sprintf("Order %s", order.ID),
		Metadata:    map[string]string{"order_id": order.ID},
	})
	timedOut := errors.Is(payCtx.Err(), context.DeadlineExceeded)
	cancel()
	elapsed := o.now().Sub(started).Seconds()

	switch {
	case err != nil && (timedOut || errors.Is(err, context.DeadlineExceeded)):
		metrics.RecordPayment(ctx, order.PaymentProvider, "timeout", elapsed)
		span.SetStatus(codes.Error, "payment timed out")
		return &failure{
			via:           domain.StateTimedOut,
			final:         domain.StateReleased,
			code:          domain.FailurePaymentTimeout,
			releaseReason: domain.ReleaseReasonTimedOut,
			err:           &domain.PaymentDeclinedError{Code: "timeout", Reason: "payment authority did not answer in time"},
		}
	case err != nil && errors.Is(err, context.Canceled):
		metrics.RecordPayment(ctx, order.PaymentProvider, "canceled", elapsed)
		span.SetStatus(codes.Error, "canceled")
		return &failure{
			via:           domain.StatePaymentFailed,
			final:         domain.StateReleased,
			code:          domain.FailurePaymentDeclined,
			releaseReason: domain.ReleaseReasonPaymentFailed,
			err:           err,
		}
	case err != nil:
		metrics.RecordPayment(ctx, order.PaymentProvider, "error", elapsed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return &failure{
			via:           domain.StatePaymentFailed,
			final:         domain.StateReleased,
			code:          domain.FailurePaymentDeclined,
			releaseReason: domain.ReleaseReasonPaymentFailed,
			err:           &domain.PaymentDeclinedError{Code: "gateway_error", Reason: err.Error()},
		}
	case resp == nil || !resp.Success:
		reason, code := "payment not settled", "not_settled"
		if resp != nil {
			if resp.FailureReason != "" {
				reason = resp.FailureReason
			}
			if resp.FailureCode != "" {
				code = resp.FailureCode
			}
		}
		metrics.RecordPayment(ctx, order.PaymentProvider, "declined", elapsed)
		span.SetStatus(codes.Error, reason)
		return &failure{
			via:           domain.StatePaymentFailed,
			final:         domain.StateReleased,
			code:          domain.FailurePaymentDeclined,
			releaseReason: domain.ReleaseReasonPaymentFailed,
			err:           &domain.PaymentDeclinedError{Code: code, Reason: reason},
		}
	}

	metrics.RecordPayment(ctx, order.PaymentProvider, "succeeded", elapsed)
	order.PaymentReference = resp.TransactionID
	if err := o.save(ctx, order, domain.StateAuthorized); err != nil {
		// The charge went through, so this is no longer a plain failure
		o.log.Error(fmt.Sprintf("Order %s charged as %s but state not recorded: %v", order.ID, resp.TransactionID, err))
	}
	span.SetAttributes(attribute.String("payment_reference", resp.TransactionID))
	span.SetStatus(codes.Ok, "")
	return nil
}

// Authorized -> Committed
func (o *orchestrator) commit(ctx context.Context, sc *scope, order *domain.Order) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.commit")
	defer span.End()

	var (
		tickets    []*domain.Ticket
		unitPrices []decimal.Decimal
	)
	for _, line := range order.Lines {
		ids, err := o.Ledger.Commit(ctx, line.ReservationID)
		if err != nil {
			return o.reconcile(ctx, sc, order, fmt.Errorf("commit reservation %s: %w", line.ReservationID, err))
		}
		sc.markCommitted(line.ReservationID)
		metrics.RecordHoldReleased(ctx, line.TicketTypeID, line.Quantity)

		tt, err := o.Catalog.GetTicketType(ctx, line.TicketTypeID)
		if err != nil {
			return o.reconcile(ctx, sc, order, fmt.Errorf("load ticket type %s: %w", line.TicketTypeID, err))
		}
		for _, id := range ids {
			token, err := qrcodec.NewToken()
			if err != nil {
				return o.reconcile(ctx, sc, order, fmt.Errorf("mint token: %w", err))
			}
			tickets = append(tickets, &domain.Ticket{
				ID:           id,
				TicketTypeID: line.TicketTypeID,
				EventID:      tt.EventID,
				OrderID:      order.ID,
				BuyerID:      order.BuyerID,
				Token:        token,
				State:        domain.TicketUnredeemed,
				IssuedAt:     o.now(),
			})
			unitPrices = append(unitPrices, line.UnitPrice)
		}
	}

	for i, price := range domain.AllocateTotal(unitPrices, order.Total) {
		tickets[i].PricePaid = price
	}

	if err := o.Registry.Issue(ctx, tickets); err != nil {
		return o.reconcile(ctx, sc, order, fmt.Errorf("issue tickets: %w", err))
	}

	if sc.voucherHeld {
		if err := o.Vouchers.Consume(ctx, order.VoucherCode); err != nil {
			return o.reconcile(ctx, sc, order, fmt.Errorf("consume voucher %s: %w", order.VoucherCode, err))
		}
		sc.voucherConsumed()
	}

	order.Status = domain.OrderPaid
	if err := o.save(ctx, order, domain.StateCommitted); err != nil {
		return o.reconcile(ctx, sc, order, err)
	}

	if err := o.Publisher.PublishOrderPaid(ctx, order, tickets); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to publish order paid event for %s: %v", order.ID, err))
	}
	o.notify(ctx, order, tickets)

	o.log.Info(fmt.Sprintf("Order %s committed with %d tickets, total %s %s", order.ID, len(tickets), order.Total.StringFixed(2), order.Currency))
	span.SetAttributes(attribute.Int("tickets", len(tickets)))
	span.SetStatus(codes.Ok, "")
	return &Result{Order: order, Tickets: tickets}, nil
}

// notify delivers tickets; failures never undo the purchase
func (o *orchestrator) notify(ctx context.Context, order *domain.Order, tickets []*domain.Ticket) {
	recipient := order.Email
	if recipient == "" {
		recipient = order.BuyerID
	}
	for _, t := range tickets {
		png, err := qrcodec.Encode(t.Token)
		if err != nil {
			o.log.Warn(fmt.Sprintf("Failed to render QR for ticket %s: %v", t.ID, err))
			continue
		}
		if err := o.Notifier.SendTicket(ctx, recipient, t.ID, png); err != nil {
			o.log.Warn(fmt.Sprintf("Failed to notify %s about ticket %s: %v", recipient, t.ID, err))
		}
	}
}

// reconcile records a charged order that could not be completed
func (o *orchestrator) reconcile(ctx context.Context, sc *scope, order *domain.Order, cause error) (*Result, error) {
	sc.detach()

	order.Status = domain.OrderPaid
	order.ReconciliationRequired = true
	order.FailureReason = cause.Error()
	if err := o.save(ctx, order, domain.StateReconciliationRequired); err != nil {
		o.log.Error(fmt.Sprintf("Failed to flag order %s for reconciliation: %v", order.ID, err))
	}
	if err := o.Publisher.PublishReconciliationRequired(ctx, order, cause); err != nil {
		o.log.Error(fmt.Sprintf("Failed to publish reconciliation event for %s: %v", order.ID, err))
	}

	o.log.Error(fmt.Sprintf("RECONCILIATION REQUIRED: order %s payment %s via %s: %v",
		order.ID, order.PaymentReference, order.PaymentProvider, cause))
	return &Result{Order: order}, fmt.Errorf("%w: %v", domain.ErrReconciliationRequired, cause)
}

// fail releases the scope and records the terminal failure
func (o *orchestrator) fail(ctx context.Context, sc *scope, order *domain.Order, f failure) error {
	cleanupCtx := context.WithoutCancel(ctx)

	if f.via != "" {
		if err := o.save(cleanupCtx, order, f.via); err != nil {
			o.log.Warn(fmt.Sprintf("Failed to record state %s for order %s: %v", f.via, order.ID, err))
		}
	}
	sc.release(cleanupCtx, f.releaseReason)

	order.Status = domain.OrderFailed
	order.FailureCode = f.code
	order.FailureReason = f.err.Error()
	if err := o.save(cleanupCtx, order, f.final); err != nil {
		o.log.Error(fmt.Sprintf("Failed to record failure for order %s: %v", order.ID, err))
	}
	if err := o.Publisher.PublishOrderFailed(cleanupCtx, order); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to publish order failed event for %s: %v", order.ID, err))
	}
	return f.err
}

// replay answers a repeated request from the recorded order
func (o *orchestrator) replay(ctx context.Context, orderID string) (*Result, error) {
	order, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load replayed order: %w", err)
	}
	metrics.RecordReplay(ctx)

	result := &Result{Order: order, Replayed: true}
	if order.Status == domain.OrderPaid {
		if result.Tickets, err = o.Registry.TicketsByOrder(ctx, order.ID); err != nil {
			return nil, err
		}
	}
	return result, replayError(order)
}

// replayByKey handles a claim that was lost while its order survived
func (o *orchestrator) replayByKey(ctx context.Context, claim *IdempotencyRecord, req *Request) (*Result, error) {
	prior, err := o.Orders.GetByIdempotencyKey(ctx, req.BuyerID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load order for idempotency key: %w", err)
	}
	if prior.RequestHash != claim.RequestHash {
		o.releaseClaim(ctx, claim.Key)
		return nil, domain.ErrIdempotencyConflict
	}
	if !prior.Status.IsTerminal() {
		return nil, domain.ErrRequestInProgress
	}

	done := o.now()
	claim.Status = StatusCompleted
	claim.OrderID = prior.ID
	claim.CompletedAt = &done
	if err := o.Idempotency.Complete(ctx, claim, o.idempotencyTTL); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to restore idempotency record for order %s: %v", prior.ID, err))
	}
	return o.replay(ctx, prior.ID)
}

// replayError rebuilds the error the original request returned
func replayError(order *domain.Order) error {
	if order.Status == domain.OrderRefunded {
		return fmt.Errorf("%w: %s", domain.ErrOrderRefunded, order.FailureReason)
	}
	if order.State == domain.StateReconciliationRequired {
		return fmt.Errorf("%w: %s", domain.ErrReconciliationRequired, order.FailureReason)
	}
	if order.Status != domain.OrderFailed {
		return nil
	}
	switch order.FailureCode {
	case domain.FailureOutOfStock:
		return fmt.Errorf("%w: %s", domain.ErrOutOfStock, order.FailureReason)
	case domain.FailureInvalidDiscount:
		return fmt.Errorf("%w: %s", domain.ErrInvalidDiscount, order.FailureReason)
	case domain.FailurePaymentDeclined, domain.FailurePaymentTimeout:
		return &domain.PaymentDeclinedError{Code: strings.ToLower(order.FailureCode), Reason: order.FailureReason}
	case domain.FailureContention:
		return domain.ErrConcurrencyExceeded
	default:
		return fmt.Errorf("purchase failed: %s", order.FailureReason)
	}
}

func (o *orchestrator) GetOrder(ctx context.Context, orderID, buyerID string) (*Result, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.get_order")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if buyerID != "" && order.BuyerID != buyerID {
		span.SetStatus(codes.Error, "not owner")
		return nil, domain.ErrOrderNotFound
	}

	result := &Result{Order: order}
	if order.Status == domain.OrderPaid {
		if result.Tickets, err = o.Registry.TicketsByOrder(ctx, order.ID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (o *orchestrator) ListOrders(ctx context.Context, buyerID string, limit, offset int) ([]*domain.Order, error) {
	if buyerID == "" {
		return nil, domain.ErrInvalidBuyer
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return o.Orders.ListByBuyer(ctx, buyerID, limit, offset)
}

func (o *orchestrator) Abandon(ctx context.Context, orderID, buyerID string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.abandon")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if order.BuyerID != buyerID {
		span.SetStatus(codes.Error, "not owner")
		return nil, domain.ErrOrderNotFound
	}

	order, err = o.reclaim(ctx, order, domain.FailureAbandoned, domain.ReleaseReasonAbandoned)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return order, nil
}

func (o *orchestrator) Expire(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.expire")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	order, err = o.reclaim(ctx, order, domain.FailureExpired, domain.ReleaseReasonExpired)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return order, nil
}

func (o *orchestrator) Refund(ctx context.Context, orderID string) (*domain.Order, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.purchase.refund")
	defer span.End()
	span.SetAttributes(attribute.String("order_id", orderID))

	order, err := o.Orders.GetByID(ctx, orderID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if order.Status != domain.OrderPaid || !order.ReconciliationRequired {
		span.SetStatus(codes.Error, "not refundable")
		return nil, domain.ErrOrderNotRefundable
	}

	// Tickets that reached the registry stay valid, so their money stays too
	tickets, err := o.Registry.TicketsByOrder(ctx, order.ID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(tickets) > 0 {
		span.SetStatus(codes.Error, "tickets issued")
		return nil, fmt.Errorf("%w: %d tickets already issued", domain.ErrOrderNotRefundable, len(tickets))
	}

	if order.PaymentReference != "" {
		if err := o.Gateway.Refund(ctx, order.PaymentReference, order.Total); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("failed to refund payment %s: %w", order.PaymentReference, err)
		}
	}

	cleanupCtx := context.WithoutCancel(ctx)
	if sc, err := o.heldScope(cleanupCtx, order); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to collect holds of refunded order %s, leaving them to the sweeper: %v", order.ID, err))
	} else {
		sc.release(cleanupCtx, domain.ReleaseReasonRefunded)
	}

	order.Status = domain.OrderRefunded
	order.ReconciliationRequired = false
	if err := o.save(cleanupCtx, order, domain.StateReleased); err != nil {
		o.log.Error(fmt.Sprintf("Order %s refunded as %s but not recorded: %v", order.ID, order.PaymentReference, err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := o.Publisher.PublishOrderRefunded(cleanupCtx, order); err != nil {
		o.log.Warn(fmt.Sprintf("Failed to publish order refunded event for %s: %v", order.ID, err))
	}

	o.log.Info(fmt.Sprintf("Order %s refunded, %s %s returned via %s", order.ID, order.Total.StringFixed(2), order.Currency, order.PaymentProvider))
	span.SetStatus(codes.Ok, "")
	return order, nil
}

// reclaim fails a pending order whose purchase is no longer running and
// gives back whatever it still holds
func (o *orchestrator) reclaim(ctx context.Context, order *domain.Order, code, releaseReason string) (*domain.Order, error) {
	if order.Status != domain.OrderPending {
		return nil, domain.ErrOrderNotPending
	}
	if o.now().Sub(order.UpdatedAt) < o.inFlight {
		return nil, domain.ErrRequestInProgress
	}
	if order.State == domain.StateAuthorized {
		// The charge went through before the purchase died
		_, err := o.reconcile(ctx, newScope(o.Ledger, o.Vouchers, o.log), order,
			fmt.Errorf("charged order %s stalled before commit", order.ID))
		metrics.RecordReconciliation(ctx)
		return order, err
	}

	sc, err := o.heldScope(ctx, order)
	if err != nil {
		return nil, err
	}
	if order.VoucherCode != "" && order.State == domain.StatePriced {
		sc.holdVoucher(order.VoucherCode)
	}

	err = o.fail(ctx, sc, order, failure{
		final:         domain.StateReleased,
		code:          code,
		releaseReason: releaseReason,
		err:           fmt.Errorf("order %s", strings.ToLower(code)),
	})
	o.log.Info(fmt.Sprintf("Order %s reclaimed: %v", order.ID, err))
	return order, nil
}

// heldScope collects the reservations of order that are still held
func (o *orchestrator) heldScope(ctx context.Context, order *domain.Order) (*scope, error) {
	sc := newScope(o.Ledger, o.Vouchers, o.log)
	for _, line := range order.Lines {
		if line.ReservationID == "" {
			continue
		}
		res, err := o.Ledger.GetReservation(ctx, line.ReservationID)
		if err != nil {
			if domain.IsNotFoundError(err) {
				continue
			}
			return nil, err
		}
		if res.IsHeld() {
			sc.addReservation(res)
		}
	}
	return sc, nil
}
