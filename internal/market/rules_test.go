package market

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

func TestTickTable_TickFor(t *testing.T) {
	table := KRXTickTable(models.ExchangeKOSPI)

	tests := []struct {
		price int64
		tick  int64
	}{
		{1999, 1},
		{2000, 5},
		{4999, 1}, // not a multiple of 5, but band lookup is by price alone
		{5000, 10},
		{19990, 10},
		{20000, 50},
		{49950, 50},
		{50000, 100},
		{199900, 100},
		{200000, 500},
		{499500, 500},
		{500000, 1000},
		{1500000, 1000},
	}
	for _, tt := range tests {
		got := table.TickFor(decimal.NewFromInt(tt.price))
		assert.Equalf(t, tt.tick, got.IntPart(), "price %d", tt.price)
	}
}

func TestTickTable_CheckTickAtBandEdges(t *testing.T) {
	table := KRXTickTable(models.ExchangeKOSDAQ)

	// At every band edge, the edge itself passes and edge±1 behaves per the
	// edge's own band.
	edges := []int64{2000, 5000, 20000, 50000, 200000, 500000}
	for _, edge := range edges {
		assert.NoErrorf(t, table.CheckTick(decimal.NewFromInt(edge)), "edge %d", edge)
		// One won below the edge belongs to the lower band; for bands with
		// tick 1 it passes, otherwise it must fail.
		below := decimal.NewFromInt(edge - 1)
		if table.TickFor(below).IntPart() == 1 {
			assert.NoErrorf(t, table.CheckTick(below), "below edge %d", edge)
		} else {
			assert.Errorf(t, table.CheckTick(below), "below edge %d", edge)
		}
		// One won above the edge is never a multiple of the edge band's tick.
		assert.Errorf(t, table.CheckTick(decimal.NewFromInt(edge+1)), "above edge %d", edge)
	}
}

func TestTickTable_CheckTickViolationDetails(t *testing.T) {
	table := KRXTickTable(models.ExchangeKOSPI)

	err := table.CheckTick(decimal.NewFromInt(50050))
	require.Error(t, err)

	var ge *gwerrors.Error
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, gwerrors.KindValidation, ge.Kind)
	assert.Equal(t, "TickSizeViolation", ge.Code)
	assert.Equal(t, "100", ge.Details["tick_size"])
}

func TestTickTable_RejectsNonPositivePrice(t *testing.T) {
	table := KRXTickTable(models.ExchangeKOSPI)
	assert.Error(t, table.CheckTick(decimal.Zero))
	assert.Error(t, table.CheckTick(decimal.NewFromInt(-100)))
}

func TestTickTable_CheckQuantity(t *testing.T) {
	table := TickTable{Exchange: models.ExchangeKOSPI, BoardLot: 10}

	assert.NoError(t, table.CheckQuantity(10))
	assert.NoError(t, table.CheckQuantity(500))
	assert.Error(t, table.CheckQuantity(15))
	assert.Error(t, table.CheckQuantity(0))
	assert.Error(t, table.CheckQuantity(-10))
}

func TestPriceLimit_BandFor(t *testing.T) {
	limit := KRXPriceLimit(models.ExchangeKOSPI)
	band := limit.BandFor(decimal.NewFromInt(10000))

	assert.True(t, band.Upper.Equal(decimal.NewFromInt(13000)), "upper=%s", band.Upper)
	assert.True(t, band.Lower.Equal(decimal.NewFromInt(7000)), "lower=%s", band.Lower)
	assert.True(t, band.HaltLevel1.Equal(decimal.NewFromInt(9200)), "halt1=%s", band.HaltLevel1)
	assert.True(t, band.HaltLevel2.Equal(decimal.NewFromInt(8500)), "halt2=%s", band.HaltLevel2)
}

func TestPriceBand_Check(t *testing.T) {
	band := KRXPriceLimit(models.ExchangeKOSPI).BandFor(decimal.NewFromInt(10000))

	assert.NoError(t, band.Check(decimal.NewFromInt(13000))) // upper bound passes
	assert.NoError(t, band.Check(decimal.NewFromInt(7000)))  // lower bound passes
	assert.NoError(t, band.Check(decimal.NewFromInt(10000)))

	err := band.Check(decimal.NewFromInt(13001))
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindValidation, gwerrors.KindOf(err))

	assert.Error(t, band.Check(decimal.NewFromInt(6999)))
}

func TestKRXPriceLimit_KONEX(t *testing.T) {
	limit := KRXPriceLimit(models.ExchangeKONEX)
	band := limit.BandFor(decimal.NewFromInt(10000))
	assert.True(t, band.Upper.Equal(decimal.NewFromInt(11500)))
	assert.True(t, band.Lower.Equal(decimal.NewFromInt(8500)))
}
