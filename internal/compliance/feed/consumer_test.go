package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/finkor/brokergate/internal/compliance"
	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

type fakeSource struct {
	messages  []kafka.Message
	fetched   int
	committed []int64
	closed    bool
}

func (f *fakeSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if f.fetched >= len(f.messages) {
		return kafka.Message{}, context.Canceled
	}
	msg := f.messages[f.fetched]
	f.fetched++
	return msg, nil
}

func (f *fakeSource) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func mustDecimal(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func updateMessage(t *testing.T, offset int64, update compliance.Update) kafka.Message {
	t.Helper()
	payload, err := json.Marshal(update)
	require.NoError(t, err)
	return kafka.Message{Offset: offset, Value: payload}
}

func foreignLimitUpdate(t *testing.T, symbol string, held, total int64, effective time.Time) compliance.Update {
	t.Helper()
	data, err := json.Marshal(compliance.ForeignOwnershipLimit{
		Symbol:      symbol,
		LimitRatio:  mustDecimal("0.50"),
		TotalShares: total,
		ForeignHeld: held,
	})
	require.NoError(t, err)
	return compliance.Update{
		Type:          compliance.UpdateForeignLimit,
		Symbol:        symbol,
		EffectiveDate: effective,
		Data:          data,
	}
}

func TestConsumer_AppliesUpdatesInOrder(t *testing.T) {
	engine := compliance.NewEngine(compliance.DefaultThresholds(), zaptest.NewLogger(t))
	now := time.Now()

	source := &fakeSource{messages: []kafka.Message{
		updateMessage(t, 10, foreignLimitUpdate(t, "005930", 5000, 10000, now)),
		updateMessage(t, 11, foreignLimitUpdate(t, "005930", 4999, 10000, now.Add(time.Hour))),
	}}
	consumer := newConsumerWithSource(source, engine, zaptest.NewLogger(t))

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, []int64{10, 11}, source.committed)

	// The newer record (4,999 held of 10,000, 50% cap) leaves room for one share.
	err := engine.CheckForeignInvestment("005930", models.InvestorForeign, models.SideBuy, 1, 0, 0)
	assert.NoError(t, err)
	err = engine.CheckForeignInvestment("005930", models.InvestorForeign, models.SideBuy, 2, 0, 0)
	require.Error(t, err)
	assert.Equal(t, gwerrors.KindValidation, gwerrors.KindOf(err))
}

func TestConsumer_CommitsPastBadEvents(t *testing.T) {
	engine := compliance.NewEngine(compliance.DefaultThresholds(), zaptest.NewLogger(t))
	now := time.Now()

	source := &fakeSource{messages: []kafka.Message{
		{Offset: 20, Value: []byte("{broken")},
		updateMessage(t, 21, compliance.Update{Type: "unknown-kind", EffectiveDate: now}),
		updateMessage(t, 22, foreignLimitUpdate(t, "000660", 1000, 10000, now)),
	}}
	consumer := newConsumerWithSource(source, engine, zaptest.NewLogger(t))

	require.NoError(t, consumer.Run(context.Background()))
	assert.Equal(t, []int64{20, 21, 22}, source.committed)

	// The well-formed trailing event still landed.
	err := engine.CheckForeignInvestment("000660", models.InvestorForeign, models.SideBuy, 3999, 0, 0)
	assert.NoError(t, err)
}

func TestConsumer_StaleEventIsIdempotent(t *testing.T) {
	engine := compliance.NewEngine(compliance.DefaultThresholds(), zaptest.NewLogger(t))
	now := time.Now()

	source := &fakeSource{messages: []kafka.Message{
		updateMessage(t, 30, foreignLimitUpdate(t, "005930", 4000, 10000, now)),
		// Redelivered older snapshot must not roll state back.
		updateMessage(t, 31, foreignLimitUpdate(t, "005930", 1000, 10000, now.Add(-time.Hour))),
	}}
	consumer := newConsumerWithSource(source, engine, zaptest.NewLogger(t))

	require.NoError(t, consumer.Run(context.Background()))

	// 4,000 of 10,000 at the 50% cap leaves exactly 1,000 shares of quota.
	err := engine.CheckForeignInvestment("005930", models.InvestorForeign, models.SideBuy, 1001, 0, 0)
	require.Error(t, err)
}

func TestConsumer_Close(t *testing.T) {
	engine := compliance.NewEngine(compliance.DefaultThresholds(), zaptest.NewLogger(t))
	source := &fakeSource{}
	consumer := newConsumerWithSource(source, engine, zaptest.NewLogger(t))
	require.NoError(t, consumer.Close())
	assert.True(t, source.closed)
}
