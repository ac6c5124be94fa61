package domain

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	// Stock and reservation errors
	ErrOutOfStock          = errors.New("out of stock")
	ErrReservationReleased = errors.New("reservation already released")
	ErrInvalidCapacity     = errors.New("capacity cannot be below sold plus reserved")

	// Contention
	ErrConcurrencyExceeded = errors.New("too much contention, retry later")

	// Voucher errors
	ErrInvalidDiscount = errors.New("invalid discount code")

	// Payment errors
	ErrPaymentDeclined        = errors.New("payment declined")
	ErrReconciliationRequired = errors.New("payment captured but purchase could not be completed")

	// Admission errors
	ErrAlreadyRedeemed = errors.New("ticket already redeemed")
	ErrInvalidToken    = errors.New("invalid ticket token")
	ErrDuplicateToken  = errors.New("ticket token already issued")

	// Not found errors
	ErrNotFound            = errors.New("not found")
	ErrTicketNotFound      = fmt.Errorf("ticket %w", ErrNotFound)
	ErrTicketTypeNotFound  = fmt.Errorf("ticket type %w", ErrNotFound)
	ErrReservationNotFound = fmt.Errorf("reservation %w", ErrNotFound)
	ErrOrderNotFound       = fmt.Errorf("order %w", ErrNotFound)
	ErrVoucherNotFound     = fmt.Errorf("voucher %w", ErrNotFound)
	ErrEventNotFound       = fmt.Errorf("event %w", ErrNotFound)

	// Validation errors
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	ErrInvalidBuyer    = errors.New("invalid buyer id")
	ErrEmptyOrder      = errors.New("order must contain at least one line")
	ErrInvalidPrice    = errors.New("price cannot be negative")
	ErrInvalidCurrency = errors.New("currency does not match the catalog currency")
	ErrMissingKey      = errors.New("idempotency key is required")
	ErrMissingPayment  = errors.New("payment token is required")
	ErrTooManyTickets  = errors.New("too many tickets in one order")
	ErrInvalidEvent    = errors.New("invalid catalog entry")

	// Idempotency errors
	ErrIdempotencyConflict = errors.New("idempotency key already used with a different request")
	ErrRequestInProgress   = errors.New("a request with this idempotency key is in progress")

	// Order state errors
	ErrOrderNotPending    = errors.New("order is not pending")
	ErrOrderNotRefundable = errors.New("order is not awaiting reconciliation")
	ErrOrderRefunded      = errors.New("order was refunded")
)

// OutOfStockError names the ticket type that could not satisfy a reservation
type OutOfStockError struct {
	TicketTypeID string
	Requested    int
	Available    int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("ticket type %s: requested %d, available %d: %s", e.TicketTypeID, e.Requested, e.Available, ErrOutOfStock)
}

func (e *OutOfStockError) Unwrap() error { return ErrOutOfStock }

// PaymentDeclinedError carries the decline reason reported by the payment authority
type PaymentDeclinedError struct {
	Reason string
	Code   string
}

func (e *PaymentDeclinedError) Error() string {
	if e.Reason == "" {
		return ErrPaymentDeclined.Error()
	}
	return fmt.Sprintf("%s: %s", ErrPaymentDeclined, e.Reason)
}

func (e *PaymentDeclinedError) Unwrap() error { return ErrPaymentDeclined }

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrInvalidBuyer) ||
		errors.Is(err, ErrEmptyOrder) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrInvalidCurrency) ||
		errors.Is(err, ErrMissingKey) ||
		errors.Is(err, ErrMissingPayment) ||
		errors.Is(err, ErrTooManyTickets) ||
		errors.Is(err, ErrInvalidEvent) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidToken)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrOutOfStock) ||
		errors.Is(err, ErrAlreadyRedeemed) ||
		errors.Is(err, ErrReservationReleased) ||
		errors.Is(err, ErrRequestInProgress) ||
		errors.Is(err, ErrOrderNotPending) ||
		errors.Is(err, ErrDuplicateToken)
}
