package pricing

import (
	"errors"
	"fmt"
	"math"

	"beanpos/backend/internal/domain"
)

// DefaultTaxRatePercent applies when no settings override exists.
const DefaultTaxRatePercent = 8.0

var ErrInvalidDiscount = errors.New("invalid discount")

// Line is one (unit price, quantity) pair of a priced sale.
type Line struct {
	UnitPriceCents int64
	Quantity       int
}

// Subtotal sums unit price times quantity over all lines.
func Subtotal(lines []Line) int64 {
	var subtotal int64
	for _, line := range lines {
		subtotal += line.UnitPriceCents * int64(line.Quantity)
	}
	return subtotal
}

// Compute prices a sale. The effective discount is clamped to [0, subtotal],
// tax applies to the discounted base, and the total never goes negative.
func Compute(lines []Line, discount domain.Discount, taxRatePercent float64) domain.Totals {
	subtotal := Subtotal(lines)

	var raw int64
	switch discount.Type {
	case domain.DiscountPercentage:
		raw = int64(math.Round(float64(subtotal) * discount.Percent / 100))
	case domain.DiscountFixed:
		raw = discount.AmountCents
	}
	if raw < 0 {
		raw = 0
	}
	if raw > subtotal {
		raw = subtotal
	}

	taxBase := subtotal - raw
	tax := int64(math.Round(float64(taxBase) * taxRatePercent / 100))
	total := taxBase + tax
	if total < 0 {
		total = 0
	}

	return domain.Totals{
		SubtotalCents: subtotal,
		DiscountCents: raw,
		TaxCents:      tax,
		TotalCents:    total,
	}
}

// ValidateDiscount enforces the acceptance rules at the apply boundary:
// percentages must be in (0, 100], fixed amounts in (0, subtotal]. Values
// that fail are rejected outright rather than clamped, so the caller can
// give actionable feedback.
func ValidateDiscount(discount domain.Discount, subtotalCents int64) error {
	switch discount.Type {
	case domain.DiscountNone:
		return nil
	case domain.DiscountPercentage:
		if discount.Percent <= 0 {
			return fmt.Errorf("%w: percentage must be greater than zero", ErrInvalidDiscount)
		}
		if discount.Percent > 100 {
			return fmt.Errorf("%w: percentage cannot exceed 100", ErrInvalidDiscount)
		}
	case domain.DiscountFixed:
		if discount.AmountCents <= 0 {
			return fmt.Errorf("%w: fixed amount must be greater than zero", ErrInvalidDiscount)
		}
		if discount.AmountCents > subtotalCents {
			return fmt.Errorf("%w: fixed amount exceeds subtotal", ErrInvalidDiscount)
		}
	default:
		return fmt.Errorf("%w: unknown discount type %q", ErrInvalidDiscount, discount.Type)
	}
	return nil
}
