package pricing

import (
	"errors"
	"testing"

	"beanpos/backend/internal/domain"
)

func TestComputeNoDiscount(t *testing.T) {
	lines := []Line{
		{UnitPriceCents: 250, Quantity: 2},
		{UnitPriceCents: 300, Quantity: 1},
	}

	totals := Compute(lines, domain.Discount{Type: domain.DiscountNone}, 8)

	if totals.SubtotalCents != 800 {
		t.Fatalf("subtotal = %d, want 800", totals.SubtotalCents)
	}
	if totals.DiscountCents != 0 {
		t.Fatalf("discount = %d, want 0", totals.DiscountCents)
	}
	if totals.TaxCents != 64 {
		t.Fatalf("tax = %d, want 64", totals.TaxCents)
	}
	if totals.TotalCents != 864 {
		t.Fatalf("total = %d, want 864", totals.TotalCents)
	}
}

func TestComputePercentageDiscount(t *testing.T) {
	lines := []Line{{UnitPriceCents: 10000, Quantity: 1}}

	totals := Compute(lines, domain.Discount{Type: domain.DiscountPercentage, Percent: 15}, 0)

	if totals.DiscountCents != 1500 {
		t.Fatalf("discount = %d, want 1500", totals.DiscountCents)
	}
	if totals.TotalCents != 8500 {
		t.Fatalf("total = %d, want 8500", totals.TotalCents)
	}
}

func TestComputeClampsFixedDiscountToSubtotal(t *testing.T) {
	lines := []Line{{UnitPriceCents: 500, Quantity: 1}}

	totals := Compute(lines, domain.Discount{Type: domain.DiscountFixed, AmountCents: 2000}, 8)

	if totals.DiscountCents != 500 {
		t.Fatalf("discount = %d, want 500", totals.DiscountCents)
	}
	if totals.TaxCents != 0 {
		t.Fatalf("tax = %d, want 0", totals.TaxCents)
	}
	if totals.TotalCents != 0 {
		t.Fatalf("total = %d, want 0", totals.TotalCents)
	}
}

func TestComputeTaxRounding(t *testing.T) {
	// 333 * 8% = 26.64, rounds to 27.
	totals := Compute([]Line{{UnitPriceCents: 333, Quantity: 1}}, domain.Discount{Type: domain.DiscountNone}, 8)
	if totals.TaxCents != 27 {
		t.Fatalf("tax = %d, want 27", totals.TaxCents)
	}
}

func TestValidateDiscountRejectsOutOfRange(t *testing.T) {
	cases := []struct {
		name     string
		discount domain.Discount
	}{
		{"zero percent", domain.Discount{Type: domain.DiscountPercentage, Percent: 0}},
		{"negative percent", domain.Discount{Type: domain.DiscountPercentage, Percent: -5}},
		{"over hundred percent", domain.Discount{Type: domain.DiscountPercentage, Percent: 101}},
		{"zero fixed", domain.Discount{Type: domain.DiscountFixed, AmountCents: 0}},
		{"fixed above subtotal", domain.Discount{Type: domain.DiscountFixed, AmountCents: 12000}},
		{"unknown type", domain.Discount{Type: "bogo"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateDiscount(tc.discount, 10000)
			if !errors.Is(err, ErrInvalidDiscount) {
				t.Fatalf("expected ErrInvalidDiscount, got %v", err)
			}
		})
	}
}

func TestValidateDiscountAcceptsBounds(t *testing.T) {
	if err := ValidateDiscount(domain.Discount{Type: domain.DiscountPercentage, Percent: 100}, 10000); err != nil {
		t.Fatalf("100%% should be accepted: %v", err)
	}
	if err := ValidateDiscount(domain.Discount{Type: domain.DiscountFixed, AmountCents: 10000}, 10000); err != nil {
		t.Fatalf("fixed equal to subtotal should be accepted: %v", err)
	}
	if err := ValidateDiscount(domain.Discount{Type: domain.DiscountNone}, 0); err != nil {
		t.Fatalf("none discount should always pass: %v", err)
	}
}
