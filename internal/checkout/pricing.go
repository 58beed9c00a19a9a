package checkout

import (
	"github.com/shopspring/decimal"

	"github.com/recurforge/commerce-backend/pkg/enums"
)

var oneHundred = decimal.NewFromInt(100)

// LinePricing is the resolved initial-versus-recurring schedule for one
// recurring cart line.
type LinePricing struct {
	InitialAmount  decimal.Decimal
	InitialTax     decimal.Decimal
	InitialTaxRate decimal.Decimal

	RecurringAmount decimal.Decimal
	RecurringTax    decimal.Decimal
	RecurringRate   decimal.Decimal

	Status enums.SubscriptionStatus
}

// ComputeTax returns the tax portion for amount at a percentage rate.
// Inclusive pricing extracts the tax already contained in the amount;
// exclusive pricing adds it on top.
func ComputeTax(amount, rate decimal.Decimal, inclusive bool) decimal.Decimal {
	if rate.IsZero() || amount.IsZero() {
		return decimal.Zero
	}
	fraction := rate.Div(oneHundred)
	if inclusive {
		return amount.Sub(amount.Div(fraction.Add(decimal.NewFromInt(1)))).Round(2)
	}
	return amount.Mul(fraction).Round(2)
}

// NormalizeTaxRate pads a rate to at least two decimal places without
// truncating rates stored at higher precision.
func NormalizeTaxRate(rate decimal.Decimal) decimal.Decimal {
	if rate.Exponent() >= -1 {
		return decimal.RequireFromString(rate.StringFixed(2))
	}
	return rate
}

// PriceLine resolves the billing schedule for one recurring line.
//
// A trial zeroes the entire initial side regardless of every other
// setting. With one-time discounts enabled (and no trial), renewals are
// priced from the undiscounted subtotal with freshly computed tax so a
// discount code only ever touches the first payment. Otherwise the
// discounted price recurs as-is.
func PriceLine(line Line, tax TaxSettings) LinePricing {
	pricing := LinePricing{Status: enums.SubscriptionStatusPending}

	switch {
	case line.HasTrial():
		pricing.Status = enums.SubscriptionStatusTrialling
		pricing.InitialAmount = decimal.Zero
		pricing.InitialTax = decimal.Zero
		pricing.InitialTaxRate = decimal.Zero
		pricing.RecurringAmount = line.Amount
		pricing.RecurringTax = line.Tax
		pricing.RecurringRate = NormalizeTaxRate(line.TaxRate)

	case tax.OneTimeDiscounts:
		pricing.InitialAmount = line.Amount
		pricing.InitialTax = line.Tax
		pricing.InitialTaxRate = NormalizeTaxRate(line.TaxRate)
		pricing.RecurringAmount = line.Subtotal
		pricing.RecurringTax = ComputeTax(line.Subtotal, tax.Rate, tax.Inclusive)
		pricing.RecurringRate = NormalizeTaxRate(tax.Rate)

	default:
		pricing.InitialAmount = line.Amount
		pricing.InitialTax = line.Tax
		pricing.InitialTaxRate = NormalizeTaxRate(line.TaxRate)
		pricing.RecurringAmount = line.Amount
		pricing.RecurringTax = line.Tax
		pricing.RecurringRate = pricing.InitialTaxRate
	}

	// Signup fees hit the first payment only. Fee tax ignores the
	// store's inclusive-pricing setting: fees are tax-exclusive. A trial
	// keeps the first payment at zero, fee included.
	if line.SignupFee.IsPositive() && !line.HasTrial() {
		feeTax := ComputeTax(line.SignupFee, tax.Rate, false)
		pricing.InitialAmount = pricing.InitialAmount.Add(line.SignupFee)
		pricing.InitialTax = pricing.InitialTax.Add(feeTax)
		if pricing.InitialTaxRate.IsZero() && feeTax.IsPositive() {
			pricing.InitialTaxRate = NormalizeTaxRate(tax.Rate)
		}
	}

	return pricing
}

// CartFees sums the chargeable cart fees and their tax. Negative fees
// are already folded into discounted line prices and are skipped so they
// are not applied twice.
func CartFees(fees []Fee, tax TaxSettings) (total, feeTax decimal.Decimal) {
	total = decimal.Zero
	feeTax = decimal.Zero
	for _, fee := range fees {
		if !fee.Amount.IsPositive() {
			continue
		}
		total = total.Add(fee.Amount)
		feeTax = feeTax.Add(ComputeTax(fee.Amount, tax.Rate, false))
	}
	return total, feeTax
}
