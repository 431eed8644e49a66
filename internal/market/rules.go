package market

import (
	"github.com/shopspring/decimal"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

// TickBand maps a half-open price range [Min, Max) to its tick size. A zero
// Max marks the unbounded top band.
type TickBand struct {
	Min  decimal.Decimal `yaml:"min" json:"min"`
	Max  decimal.Decimal `yaml:"max" json:"max"`
	Tick decimal.Decimal `yaml:"tick" json:"tick"`
}

func (b TickBand) contains(price decimal.Decimal) bool {
	if price.LessThan(b.Min) {
		return false
	}
	return b.Max.IsZero() || price.LessThan(b.Max)
}

// TickTable holds one exchange's ordered tick bands and board lot.
type TickTable struct {
	Exchange models.Exchange `yaml:"exchange" json:"exchange"`
	Bands    []TickBand      `yaml:"bands" json:"bands"`
	BoardLot int64           `yaml:"board_lot" json:"board_lot"`
}

// KRXTickTable returns the unified KRX price-band table (in force since
// January 2023, identical across KOSPI and KOSDAQ) with a board lot of one
// share.
func KRXTickTable(ex models.Exchange) TickTable {
	d := decimal.NewFromInt
	return TickTable{
		Exchange: ex,
		BoardLot: 1,
		Bands: []TickBand{
			{Min: d(0), Max: d(2000), Tick: d(1)},
			{Min: d(2000), Max: d(5000), Tick: d(5)},
			{Min: d(5000), Max: d(20000), Tick: d(10)},
			{Min: d(20000), Max: d(50000), Tick: d(50)},
			{Min: d(50000), Max: d(200000), Tick: d(100)},
			{Min: d(200000), Max: d(500000), Tick: d(500)},
			{Min: d(500000), Max: decimal.Zero, Tick: d(1000)},
		},
	}
}

// TickFor returns the tick size for price, or zero when no band matches.
func (t TickTable) TickFor(price decimal.Decimal) decimal.Decimal {
	for _, b := range t.Bands {
		if b.contains(price) {
			return b.Tick
		}
	}
	return decimal.Zero
}

// CheckTick rejects prices that are not an exact multiple of their band's
// tick size.
func (t TickTable) CheckTick(price decimal.Decimal) error {
	if price.Sign() <= 0 {
		return gwerrors.New(gwerrors.KindValidation, "InvalidPrice", "price must be positive").
			WithDetail("price", price.String())
	}
	tick := t.TickFor(price)
	if tick.IsZero() {
		return gwerrors.New(gwerrors.KindValidation, "TickSizeViolation", "price outside configured bands").
			WithDetail("price", price.String())
	}
	if !price.Mod(tick).IsZero() {
		return gwerrors.New(gwerrors.KindValidation, "TickSizeViolation", "price is not a tick multiple").
			WithDetail("price", price.String()).
			WithDetail("tick_size", tick.String())
	}
	return nil
}

// CheckQuantity rejects quantities that are not a board-lot multiple.
func (t TickTable) CheckQuantity(qty int64) error {
	if qty <= 0 {
		return gwerrors.New(gwerrors.KindValidation, "InvalidQuantity", "quantity must be positive").
			WithDetail("quantity", qty)
	}
	if t.BoardLot > 1 && qty%t.BoardLot != 0 {
		return gwerrors.New(gwerrors.KindValidation, "BoardLotViolation", "quantity is not a board-lot multiple").
			WithDetail("quantity", qty).
			WithDetail("board_lot", t.BoardLot)
	}
	return nil
}

// PriceLimit is an exchange's daily price-limit and market-halt percentages.
// The halt levels are exchange-wide trading halt thresholds, unrelated to the
// software circuit breaker in internal/resilience.
type PriceLimit struct {
	LimitPct      decimal.Decimal `yaml:"limit_pct" json:"limit_pct"`
	HaltLevel1Pct decimal.Decimal `yaml:"halt_level1_pct" json:"halt_level1_pct"`
	HaltLevel2Pct decimal.Decimal `yaml:"halt_level2_pct" json:"halt_level2_pct"`
}

// KRXPriceLimit returns the statutory limits: ±30% for KOSPI/KOSDAQ, ±15% for
// KONEX; halt levels at 8% and 15%.
func KRXPriceLimit(ex models.Exchange) PriceLimit {
	limit := decimal.NewFromInt(30)
	if ex == models.ExchangeKONEX {
		limit = decimal.NewFromInt(15)
	}
	return PriceLimit{
		LimitPct:      limit,
		HaltLevel1Pct: decimal.NewFromInt(8),
		HaltLevel2Pct: decimal.NewFromInt(15),
	}
}

// PriceBand is the tradeable range derived from a reference price. Recomputed
// per validation, never cached across prices.
type PriceBand struct {
	Reference  decimal.Decimal `json:"reference"`
	Upper      decimal.Decimal `json:"upper"`
	Lower      decimal.Decimal `json:"lower"`
	HaltLevel1 decimal.Decimal `json:"halt_level1"`
	HaltLevel2 decimal.Decimal `json:"halt_level2"`
}

var hundred = decimal.NewFromInt(100)

// BandFor derives the band around the reference price.
func (p PriceLimit) BandFor(ref decimal.Decimal) PriceBand {
	limit := ref.Mul(p.LimitPct).Div(hundred)
	return PriceBand{
		Reference:  ref,
		Upper:      ref.Add(limit),
		Lower:      ref.Sub(limit),
		HaltLevel1: ref.Sub(ref.Mul(p.HaltLevel1Pct).Div(hundred)),
		HaltLevel2: ref.Sub(ref.Mul(p.HaltLevel2Pct).Div(hundred)),
	}
}

// Check rejects prices outside [Lower, Upper]; the bounds themselves pass.
func (b PriceBand) Check(price decimal.Decimal) error {
	if price.LessThan(b.Lower) || price.GreaterThan(b.Upper) {
		return gwerrors.New(gwerrors.KindValidation, "PriceLimitViolation", "price outside daily limit band").
			WithDetail("price", price.String()).
			WithDetail("lower", b.Lower.String()).
			WithDetail("upper", b.Upper.String()).
			WithDetail("reference", b.Reference.String())
	}
	return nil
}
