package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// VoucherKind selects how a voucher discounts a subtotal
type VoucherKind string

const (
	VoucherPercentage VoucherKind = "percentage"
	VoucherFixed      VoucherKind = "fixed"
)

var hundred = decimal.NewFromInt(100)

// Voucher is a discount code. RemainingUses nil means unlimited.
type Voucher struct {
	Code          string          `json:"code"`
	Kind          VoucherKind     `json:"kind"`
	Amount        decimal.Decimal `json:"amount"`
	ExpiresAt     *time.Time      `json:"expires_at,omitempty"`
	RemainingUses *int            `json:"remaining_uses,omitempty"`
	HeldUses      int             `json:"held_uses"`
	Version       int64           `json:"version"`
}

// NormalizeCode canonicalizes user-entered voucher codes
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Expired reports whether the voucher is past its expiry at now
func (v *Voucher) Expired(now time.Time) bool {
	return v.ExpiresAt != nil && !now.Before(*v.ExpiresAt)
}

// Limited reports whether the voucher has a finite number of uses
func (v *Voucher) Limited() bool {
	return v.RemainingUses != nil
}

// FreeUses returns uses not yet consumed or held; -1 when unlimited
func (v *Voucher) FreeUses() int {
	if v.RemainingUses == nil {
		return -1
	}
	return *v.RemainingUses - v.HeldUses
}

// Usable reports whether a new purchase may apply the voucher at now
func (v *Voucher) Usable(now time.Time) bool {
	if v.Expired(now) {
		return false
	}
	return !v.Limited() || v.FreeUses() > 0
}

// Apply returns the discounted price, clamped at zero and rounded to cents
func (v *Voucher) Apply(subtotal decimal.Decimal) decimal.Decimal {
	var final decimal.Decimal
	switch v.Kind {
	case VoucherPercentage:
		final = subtotal.Mul(decimal.NewFromInt(1).Sub(v.Amount.Div(hundred)))
	case VoucherFixed:
		final = subtotal.Sub(v.Amount)
	default:
		final = subtotal
	}
	if final.IsNegative() {
		final = decimal.Zero
	}
	return RoundMoney(final)
}

// Clone returns a deep copy
func (v *Voucher) Clone() *Voucher {
	if v == nil {
		return nil
	}
	c := *v
	if v.ExpiresAt != nil {
		t := *v.ExpiresAt
		c.ExpiresAt = &t
	}
	if v.RemainingUses != nil {
		n := *v.RemainingUses
		c.RemainingUses = &n
	}
	return &c
}
