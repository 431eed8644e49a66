package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/finkor/brokergate/pkg/models"
)

// breakHours models an exchange with a lunch break: 09:00-15:30 with
// 12:00-13:00 break and 08:00 pre-market.
func breakHours() Hours {
	return Hours{
		Timezone:      "Asia/Seoul",
		PreMarketOpen: &Clock{8, 0},
		Open:          Clock{9, 0},
		BreakStart:    &Clock{12, 0},
		BreakEnd:      &Clock{13, 0},
		Close:         Clock{15, 30},
	}
}

func seoulTime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	// 2026-03-04 is a Wednesday with no holiday.
	return time.Date(2026, 3, 4, hour, minute, 0, 0, loc)
}

func TestSessionEngine_BoundaryTable(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: breakHours()},
		DefaultKoreanCalendar(), 0, zaptest.NewLogger(t))

	tests := []struct {
		hour, minute int
		want         Session
	}{
		{8, 59, SessionPreMarket},
		{9, 0, SessionRegular},     // open is inclusive
		{12, 0, SessionLunchBreak}, // break start wins over regular end
		{12, 59, SessionLunchBreak},
		{13, 0, SessionRegular},  // break end is exclusive
		{15, 30, SessionRegular}, // final close is inclusive
		{15, 31, SessionClosed},
	}
	for _, tt := range tests {
		got, err := engine.At(models.ExchangeKOSPI, seoulTime(t, tt.hour, tt.minute))
		require.NoError(t, err)
		assert.Equalf(t, tt.want, got, "at %02d:%02d", tt.hour, tt.minute)
	}
}

func TestSessionEngine_WeekendIsHoliday(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: KRXHours()},
		DefaultKoreanCalendar(), 0, zaptest.NewLogger(t))

	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// 2026-03-07 is a Saturday.
	got, err := engine.At(models.ExchangeKOSPI, time.Date(2026, 3, 7, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, SessionHoliday, got)
}

func TestSessionEngine_FixedHoliday(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: KRXHours()},
		DefaultKoreanCalendar(), 0, zaptest.NewLogger(t))

	loc, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)

	// Christmas 2026 falls on a Friday.
	got, err := engine.At(models.ExchangeKOSPI, time.Date(2026, 12, 25, 10, 0, 0, 0, loc))
	require.NoError(t, err)
	assert.Equal(t, SessionHoliday, got)
}

func TestSessionEngine_AfterHoursWindow(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: KRXHours()},
		DefaultKoreanCalendar(), 0, zaptest.NewLogger(t))

	got, err := engine.At(models.ExchangeKOSPI, seoulTime(t, 16, 30))
	require.NoError(t, err)
	assert.Equal(t, SessionAfterHours, got)

	// Gap between close and after-hours start.
	got, err = engine.At(models.ExchangeKOSPI, seoulTime(t, 15, 45))
	require.NoError(t, err)
	assert.Equal(t, SessionClosed, got)
}

func TestSessionEngine_UnknownExchange(t *testing.T) {
	engine := NewSessionEngine(map[models.Exchange]Hours{}, nil, 0, zaptest.NewLogger(t))

	_, err := engine.At(models.Exchange("NASDAQ"), time.Now())
	require.Error(t, err)
}

func TestSessionEngine_CacheServesUntilTTL(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: KRXHours()},
		DefaultKoreanCalendar(), 30*time.Second, zaptest.NewLogger(t))

	current := seoulTime(t, 10, 0)
	engine.WithClock(func() time.Time { return current })

	got, err := engine.Current(models.ExchangeKOSPI)
	require.NoError(t, err)
	assert.Equal(t, SessionRegular, got)

	// Time moves past the close but the TTL has not elapsed: stale value.
	current = seoulTime(t, 16, 30)
	got, err = engine.Current(models.ExchangeKOSPI)
	require.NoError(t, err)
	assert.Equal(t, SessionRegular, got)

	// Explicit invalidation forces recomputation.
	engine.Invalidate(models.ExchangeKOSPI)
	got, err = engine.Current(models.ExchangeKOSPI)
	require.NoError(t, err)
	assert.Equal(t, SessionAfterHours, got)
}

func TestSessionEngine_CacheExpires(t *testing.T) {
	engine := NewSessionEngine(
		map[models.Exchange]Hours{models.ExchangeKOSPI: KRXHours()},
		DefaultKoreanCalendar(), 10*time.Second, zaptest.NewLogger(t))

	current := seoulTime(t, 10, 0)
	engine.WithClock(func() time.Time { return current })

	_, err := engine.Current(models.ExchangeKOSPI)
	require.NoError(t, err)

	current = seoulTime(t, 16, 30) // 6.5h later, well past the TTL
	got, err := engine.Current(models.ExchangeKOSPI)
	require.NoError(t, err)
	assert.Equal(t, SessionAfterHours, got)
}

func TestNewSessionEngine_ClampsTTL(t *testing.T) {
	engine := NewSessionEngine(nil, nil, 10*time.Minute, zaptest.NewLogger(t))
	assert.Equal(t, maxSessionCacheTTL, engine.ttl)
}
