package voucher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-engine/internal/domain"
	"github.com/prohmpiriya/ticket-engine/pkg/logger"
	"github.com/prohmpiriya/ticket-engine/pkg/retry"
	"github.com/prohmpiriya/ticket-engine/pkg/telemetry"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Quote is the binding price of a subtotal under a voucher
type Quote struct {
	Code     string             `json:"code"`
	Kind     domain.VoucherKind `json:"kind"`
	Subtotal decimal.Decimal    `json:"subtotal"`
	Discount decimal.Decimal    `json:"discount"`
	Total    decimal.Decimal    `json:"total"`
}

// Evaluator validates vouchers, prices subtotals and tracks voucher usage
type Evaluator interface {
	// Price has no side effects
	Price(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error)
	// Hold claims one use for an in-flight purchase
	Hold(ctx context.Context, code string) error
	// Consume turns a held use into a spent one
	Consume(ctx context.Context, code string) error
	// ReleaseHold gives a held use back
	ReleaseHold(ctx context.Context, code string) error
	Create(ctx context.Context, v *domain.Voucher) error
}

// Config contains evaluator configuration
type Config struct {
	Retry  *retry.Config
	Now    func() time.Time
	Logger *logger.Logger
}

type evaluator struct {
	store   Store
	retrier *retry.Retrier
	now     func() time.Time
	log     *logger.Logger
}

// NewEvaluator creates an Evaluator over store
func NewEvaluator(store Store, cfg *Config) Evaluator {
	if cfg == nil {
		cfg = &Config{}
	}
	e := &evaluator{
		store:   store,
		retrier: retry.New(cfg.Retry),
		now:     cfg.Now,
		log:     cfg.Logger,
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.log == nil {
		e.log = logger.Get()
	}
	return e
}

func invalid(reason string) error {
	return fmt.Errorf("%w: %s", domain.ErrInvalidDiscount, reason)
}

// load fetches a voucher, mapping unknown codes to ErrInvalidDiscount
func (e *evaluator) load(ctx context.Context, code string) (*domain.Voucher, error) {
	v, err := e.store.Get(ctx, domain.NormalizeCode(code))
	if errors.Is(err, domain.ErrVoucherNotFound) {
		return nil, invalid("unknown code")
	}
	return v, err
}

func (e *evaluator) check(v *domain.Voucher) error {
	if v.Expired(e.now()) {
		return invalid("expired")
	}
	if v.Limited() && v.FreeUses() <= 0 {
		return invalid("no uses remaining")
	}
	return nil
}

func (e *evaluator) Price(ctx context.Context, code string, subtotal decimal.Decimal) (*Quote, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.voucher.price")
	defer span.End()
	span.SetAttributes(attribute.String("code", code), attribute.String("subtotal", subtotal.String()))

	if subtotal.IsNegative() {
		return nil, domain.ErrInvalidPrice
	}

	v, err := e.load(ctx, code)
	if err == nil {
		err = e.check(v)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	subtotal = domain.RoundMoney(subtotal)
	total := v.Apply(subtotal)
	span.SetStatus(codes.Ok, "")
	return &Quote{
		Code:     v.Code,
		Kind:     v.Kind,
		Subtotal: subtotal,
		Discount: subtotal.Sub(total),
		Total:    total,
	}, nil
}

// update runs a CAS loop; mutate returns false when nothing needs writing
func (e *evaluator) update(ctx context.Context, spanName, code string, mutate func(v *domain.Voucher) (bool, error)) error {
	ctx, s := telemetry.StartSpan(ctx, spanName)
	defer s.End()
	s.SetAttributes(attribute.String("code", code))

	result := e.retrier.Do(ctx, func(ctx context.Context) error {
		v, err := e.load(ctx, code)
		if err != nil {
			return retry.Permanent(err)
		}
		write, err := mutate(v)
		if err != nil {
			return retry.Permanent(err)
		}
		if !write {
			return nil
		}
		if err := e.store.CompareAndSwap(ctx, v); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				return err
			}
			return retry.Permanent(err)
		}
		return nil
	})

	err := result.Err
	if result.Exhausted() {
		err = domain.ErrConcurrencyExceeded
	}
	if err != nil {
		s.RecordError(err)
		s.SetStatus(codes.Error, err.Error())
		return err
	}
	s.SetAttributes(attribute.Int("attempts", result.Attempts))
	s.SetStatus(codes.Ok, "")
	return nil
}

func (e *evaluator) Hold(ctx context.Context, code string) error {
	return e.update(ctx, "service.voucher.hold", code, func(v *domain.Voucher) (bool, error) {
		if err := e.check(v); err != nil {
			return false, err
		}
		if !v.Limited() {
			return false, nil
		}
		v.HeldUses++
		return true, nil
	})
}

func (e *evaluator) Consume(ctx context.Context, code string) error {
	return e.update(ctx, "service.voucher.consume", code, func(v *domain.Voucher) (bool, error) {
		if !v.Limited() {
			return false, nil
		}
		if *v.RemainingUses <= 0 {
			return false, invalid("no uses remaining")
		}
		n := *v.RemainingUses - 1
		v.RemainingUses = &n
		if v.HeldUses > 0 {
			v.HeldUses--
		}
		return true, nil
	})
}

func (e *evaluator) ReleaseHold(ctx context.Context, code string) error {
	return e.update(ctx, "service.voucher.release_hold", code, func(v *domain.Voucher) (bool, error) {
		if !v.Limited() || v.HeldUses == 0 {
			return false, nil
		}
		v.HeldUses--
		return true, nil
	})
}

func (e *evaluator) Create(ctx context.Context, v *domain.Voucher) error {
	v.Code = domain.NormalizeCode(v.Code)
	switch {
	case v.Code == "":
		return invalid("empty code")
	case v.Kind != domain.VoucherPercentage && v.Kind != domain.VoucherFixed:
		return invalid("unknown kind")
	case v.Amount.IsNegative():
		return domain.ErrInvalidPrice
	case v.RemainingUses != nil && *v.RemainingUses < 0:
		return invalid("negative uses")
	}
	if err := e.store.Save(ctx, v); err != nil {
		return err
	}
	e.log.Info(fmt.Sprintf("Voucher %s saved (%s %s)", v.Code, v.Kind, v.Amount))
	return nil
}
