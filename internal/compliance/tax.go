package compliance

import (
	"github.com/shopspring/decimal"

	"github.com/finkor/brokergate/pkg/models"
)

// TaxRates is the rate table the calculators select from. Replaced wholesale
// by tax-rate-change regulatory updates; the calculators themselves never
// mutate it.
type TaxRates struct {
	// Securities transaction tax on sell value, by exchange. The KOSPI rate
	// includes the agricultural special tax component.
	TransactionKOSPI  decimal.Decimal `json:"transaction_kospi" yaml:"transaction_kospi"`
	TransactionKOSDAQ decimal.Decimal `json:"transaction_kosdaq" yaml:"transaction_kosdaq"`
	TransactionKONEX  decimal.Decimal `json:"transaction_konex" yaml:"transaction_konex"`
	// TransactionSME overrides the exchange rate for designated SME issues.
	TransactionSME decimal.Decimal `json:"transaction_sme" yaml:"transaction_sme"`
	// PreferredSurcharge is added to the exchange rate for preferred shares.
	PreferredSurcharge decimal.Decimal `json:"preferred_surcharge" yaml:"preferred_surcharge"`

	// Capital gains rates selected by holding period and shareholder status.
	CapitalGainsShortTerm decimal.Decimal `json:"capital_gains_short_term" yaml:"capital_gains_short_term"`
	CapitalGainsMajor     decimal.Decimal `json:"capital_gains_major" yaml:"capital_gains_major"`
	CapitalGainsDefault   decimal.Decimal `json:"capital_gains_default" yaml:"capital_gains_default"`
	// CapitalGainsDeduction is the annual basic deduction; gains at or below
	// it owe nothing.
	CapitalGainsDeduction decimal.Decimal `json:"capital_gains_deduction" yaml:"capital_gains_deduction"`
	// LongTermDays is the holding period at which short-term rates stop
	// applying.
	LongTermDays int `json:"long_term_days" yaml:"long_term_days"`

	// Dividend withholding: the standard rate, the comprehensive-taxation
	// rate above the threshold, and the small-tax collection floor.
	DividendRate          decimal.Decimal `json:"dividend_rate" yaml:"dividend_rate"`
	DividendHighRate      decimal.Decimal `json:"dividend_high_rate" yaml:"dividend_high_rate"`
	DividendHighThreshold decimal.Decimal `json:"dividend_high_threshold" yaml:"dividend_high_threshold"`
	// SmallTaxFloor: computed withholding below this amount is not collected.
	SmallTaxFloor decimal.Decimal `json:"small_tax_floor" yaml:"small_tax_floor"`
}

// DefaultTaxRates returns the statutory Korean rates.
func DefaultTaxRates() TaxRates {
	f := decimal.NewFromFloat
	return TaxRates{
		TransactionKOSPI:   f(0.0018), // 0.03% STT + 0.15% agricultural special
		TransactionKOSDAQ:  f(0.0018),
		TransactionKONEX:   f(0.0010),
		TransactionSME:     f(0.0010),
		PreferredSurcharge: decimal.Zero,

		CapitalGainsShortTerm: f(0.33),
		CapitalGainsMajor:     f(0.22),
		CapitalGainsDefault:   f(0.22),
		CapitalGainsDeduction: decimal.NewFromInt(2_500_000),
		LongTermDays:          365,

		DividendRate:          f(0.154), // 14% income + 1.4% local
		DividendHighRate:      f(0.275),
		DividendHighThreshold: decimal.NewFromInt(20_000_000),
		SmallTaxFloor:         decimal.NewFromInt(1_000),
	}
}

// RateSelection names which rate a calculator picked.
type RateSelection string

const (
	RateShortTerm RateSelection = "short-term"
	RateLongTerm  RateSelection = "long-term"
	RateStandard  RateSelection = "standard"
	RateHigh      RateSelection = "comprehensive"
)

// TaxResult is the outcome of one tax calculation.
type TaxResult struct {
	Tax             decimal.Decimal `json:"tax"`
	Rate            decimal.Decimal `json:"rate"`
	Selection       RateSelection   `json:"selection"`
	TaxableBase     decimal.Decimal `json:"taxable_base"`
	Exempted        bool            `json:"exempted"`
	ExemptionReason string          `json:"exemption_reason,omitempty"`
}

// TransactionTax computes the securities transaction tax on a sell.
// Pure function of its inputs.
func (r TaxRates) TransactionTax(exchange models.Exchange, sellValue decimal.Decimal, preferred, sme bool) TaxResult {
	var rate decimal.Decimal
	switch {
	case sme && !r.TransactionSME.IsZero():
		rate = r.TransactionSME
	case exchange == models.ExchangeKOSDAQ:
		rate = r.TransactionKOSDAQ
	case exchange == models.ExchangeKONEX:
		rate = r.TransactionKONEX
	default:
		rate = r.TransactionKOSPI
	}
	if preferred {
		rate = rate.Add(r.PreferredSurcharge)
	}

	tax := sellValue.Mul(rate).Floor()
	return TaxResult{
		Tax:         tax,
		Rate:        rate,
		Selection:   RateStandard,
		TaxableBase: sellValue,
	}
}

// CapitalGainsTax computes the capital gains tax on a disposal. The rate is
// selected by holding period and major-shareholder status; gains at or below
// the basic deduction are exempt. Pure function of its inputs.
func (r TaxRates) CapitalGainsTax(proceeds, costBasis decimal.Decimal, holdingDays int, majorShareholder bool) TaxResult {
	gain := proceeds.Sub(costBasis)
	if gain.Sign() < 0 {
		gain = decimal.Zero
	}

	rate := r.CapitalGainsDefault
	selection := RateLongTerm
	if majorShareholder {
		if holdingDays < r.LongTermDays {
			rate = r.CapitalGainsShortTerm
			selection = RateShortTerm
		} else {
			rate = r.CapitalGainsMajor
		}
	}

	taxable := gain.Sub(r.CapitalGainsDeduction)
	if taxable.Sign() <= 0 {
		return TaxResult{
			Tax:             decimal.Zero,
			Rate:            rate,
			Selection:       selection,
			TaxableBase:     decimal.Zero,
			Exempted:        true,
			ExemptionReason: "gain within basic deduction",
		}
	}

	return TaxResult{
		Tax:         taxable.Mul(rate).Floor(),
		Rate:        rate,
		Selection:   selection,
		TaxableBase: taxable,
	}
}

// DividendTax computes the withholding on a dividend payment. Amounts above
// the comprehensive-taxation threshold use the high rate; computed tax below
// the small-tax floor is not collected. Pure function of its inputs.
func (r TaxRates) DividendTax(amount decimal.Decimal) TaxResult {
	rate := r.DividendRate
	selection := RateStandard
	if amount.GreaterThan(r.DividendHighThreshold) {
		rate = r.DividendHighRate
		selection = RateHigh
	}

	tax := amount.Mul(rate).Floor()
	if tax.LessThan(r.SmallTaxFloor) {
		return TaxResult{
			Tax:             decimal.Zero,
			Rate:            rate,
			Selection:       selection,
			TaxableBase:     amount,
			Exempted:        true,
			ExemptionReason: "withholding below collection floor",
		}
	}

	return TaxResult{
		Tax:         tax,
		Rate:        rate,
		Selection:   selection,
		TaxableBase: amount,
	}
}
