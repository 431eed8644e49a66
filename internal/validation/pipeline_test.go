package validation

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/finkor/brokergate/internal/compliance"
	"github.com/finkor/brokergate/internal/market"
	"github.com/finkor/brokergate/pkg/models"
)

func tradingClock(t *testing.T) func() time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	// Wednesday, mid regular session.
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, loc)
	return func() time.Time { return at }
}

func closedClock(t *testing.T) func() time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	at := time.Date(2026, 3, 4, 20, 0, 0, 0, loc)
	return func() time.Time { return at }
}

func testPipeline(t *testing.T, clock func() time.Time) (*Pipeline, *compliance.Engine) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	sessions := market.NewSessionEngine(
		map[models.Exchange]market.Hours{models.ExchangeKOSPI: market.KRXHours()},
		market.DefaultKoreanCalendar(), 0, logger).WithClock(clock)

	comp := compliance.NewEngine(compliance.DefaultThresholds(), logger)

	pipeline := NewPipeline(
		sessions,
		map[models.Exchange]market.TickTable{models.ExchangeKOSPI: market.KRXTickTable(models.ExchangeKOSPI)},
		map[models.Exchange]market.PriceLimit{models.ExchangeKOSPI: market.KRXPriceLimit(models.ExchangeKOSPI)},
		comp, logger)
	return pipeline, comp
}

func limitOrder(side models.OrderSide, price int64, qty int64) *models.Order {
	return models.NewOrder("005930", models.ExchangeKOSPI, side, models.TypeLimit,
		qty, decimal.NewFromInt(price), models.TIFDay)
}

func TestPipeline_CompliantOrder(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_000, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	assert.True(t, res.OverallCompliant)
	assert.Empty(t, res.Violations)
	assert.Empty(t, res.Advisories)
}

func TestPipeline_RejectsOutsideSession(t *testing.T) {
	p, _ := testPipeline(t, closedClock(t))

	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_000, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	require.False(t, res.OverallCompliant)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "MarketSessionClosed", res.Violations[0].Code)
}

func TestPipeline_RejectsTickViolation(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	// 70,050 is not a multiple of the 100-won tick for that band.
	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_050, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	require.False(t, res.OverallCompliant)
	assert.Equal(t, "TickSizeViolation", res.Violations[0].Code)
}

func TestPipeline_RejectsPriceLimitViolation(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	// +30% of 70,000 is 91,000; 92,000 is outside the band.
	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 92_000, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	require.False(t, res.OverallCompliant)
	assert.Equal(t, "PriceLimitViolation", res.Violations[0].Code)
}

func TestPipeline_MarketOrderSkipsPriceChecks(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	order := models.NewOrder("005930", models.ExchangeKOSPI, models.SideBuy,
		models.TypeMarket, 10, decimal.Zero, models.TIFIOC)
	res := p.Validate(context.Background(), order, Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	assert.True(t, res.OverallCompliant)
}

func TestPipeline_ShortCircuitsOnFirstViolation(t *testing.T) {
	p, comp := testPipeline(t, tradingClock(t))
	comp.SetShortSaleRestriction(compliance.ShortSaleRestriction{
		Symbol: "005930",
		From:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	// Bad tick AND restricted symbol: only the first hard violation surfaces.
	res := p.Validate(context.Background(), limitOrder(models.SideSell, 70_050, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	require.False(t, res.OverallCompliant)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "TickSizeViolation", res.Violations[0].Code)
}

func TestPipeline_ForeignQuotaRejection(t *testing.T) {
	p, comp := testPipeline(t, tradingClock(t))
	comp.SetForeignLimit(compliance.ForeignOwnershipLimit{
		Symbol:      "005930",
		LimitRatio:  decimal.NewFromFloat(0.50),
		TotalShares: 10_000,
		ForeignHeld: 3_000,
	})

	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_000, 2_500), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
		InvestorType:   models.InvestorForeign,
	})

	require.False(t, res.OverallCompliant)
	assert.Equal(t, "ForeignInvestmentLimitExceeded", res.Violations[0].Code)
	assert.Equal(t, "0.2", res.Violations[0].Details["remaining_quota"])
}

func TestPipeline_ShortSaleRejection(t *testing.T) {
	p, comp := testPipeline(t, tradingClock(t))
	comp.SetShortSaleRestriction(compliance.ShortSaleRestriction{
		Symbol: "005930",
		From:   time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	})

	res := p.Validate(context.Background(), limitOrder(models.SideSell, 70_000, 10), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
		Now:            time.Date(2026, 3, 4, 1, 0, 0, 0, time.UTC),
	})

	require.False(t, res.OverallCompliant)
	assert.Equal(t, "ShortSellingRestricted", res.Violations[0].Code)
}

func TestPipeline_AdvisoryDoesNotBlock(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	// 4% -> 6% of total shares crosses the major-shareholder line.
	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_000, 200), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
		HolderShares:   400,
		TotalShares:    10_000,
	})

	assert.True(t, res.OverallCompliant)
	require.Len(t, res.Advisories, 1)
	assert.Equal(t, "MajorShareholderReportingRequired", res.Advisories[0].Code)
}

func TestPipeline_RejectsBadQuantity(t *testing.T) {
	p, _ := testPipeline(t, tradingClock(t))

	res := p.Validate(context.Background(), limitOrder(models.SideBuy, 70_000, 0), Context{
		ReferencePrice: decimal.NewFromInt(70_000),
	})

	require.False(t, res.OverallCompliant)
	assert.Equal(t, "InvalidQuantity", res.Violations[0].Code)
}
