// Package market implements the exchange microstructure rules every order is
// validated against: trading-session state, tick sizes, price limit bands,
// board lots, and the holiday calendar.
package market

import (
	"sync"
	"time"

	"go.uber.org/zap"

	gwerrors "github.com/finkor/brokergate/pkg/errors"
	"github.com/finkor/brokergate/pkg/models"
)

// Session is the trading-session state of an exchange at a point in time.
type Session string

const (
	SessionPreMarket  Session = "pre-market"
	SessionRegular    Session = "regular"
	SessionLunchBreak Session = "lunch-break"
	SessionAfterHours Session = "after-hours"
	SessionClosed     Session = "closed"
	SessionHoliday    Session = "holiday"
)

// Trading reports whether regular orders are accepted in this session.
func (s Session) Trading() bool {
	return s == SessionRegular
}

// Clock is a wall-clock time of day in exchange-local time.
type Clock struct {
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
}

func (c Clock) minutes() int { return c.Hour*60 + c.Minute }

// Hours describes one exchange's session boundaries. Optional windows are nil
// when the exchange has no such session.
//
// Boundary convention, pinned: every window is start-inclusive and
// end-exclusive, except the close of the last regular window, which is
// inclusive. Comparison is at minute granularity.
type Hours struct {
	Timezone        string `yaml:"timezone" json:"timezone"`
	PreMarketOpen   *Clock `yaml:"pre_market_open" json:"pre_market_open,omitempty"`
	Open            Clock  `yaml:"open" json:"open"`
	BreakStart      *Clock `yaml:"break_start" json:"break_start,omitempty"`
	BreakEnd        *Clock `yaml:"break_end" json:"break_end,omitempty"`
	Close           Clock  `yaml:"close" json:"close"`
	AfterHoursStart *Clock `yaml:"after_hours_start" json:"after_hours_start,omitempty"`
	AfterHoursEnd   *Clock `yaml:"after_hours_end" json:"after_hours_end,omitempty"`
}

// KRXHours returns the boundaries for the Korean exchanges: regular session
// 09:00-15:30, pre-market 08:30, after-hours single price 16:00-18:00, no
// lunch break.
func KRXHours() Hours {
	return Hours{
		Timezone:        "Asia/Seoul",
		PreMarketOpen:   &Clock{8, 30},
		Open:            Clock{9, 0},
		Close:           Clock{15, 30},
		AfterHoursStart: &Clock{16, 0},
		AfterHoursEnd:   &Clock{18, 0},
	}
}

// sessionAt evaluates the ordered windows for minute-of-day m.
func (h Hours) sessionAt(m int) Session {
	if h.PreMarketOpen != nil && m >= h.PreMarketOpen.minutes() && m < h.Open.minutes() {
		return SessionPreMarket
	}
	if h.BreakStart != nil && h.BreakEnd != nil {
		switch {
		case m >= h.Open.minutes() && m < h.BreakStart.minutes():
			return SessionRegular
		case m >= h.BreakStart.minutes() && m < h.BreakEnd.minutes():
			return SessionLunchBreak
		case m >= h.BreakEnd.minutes() && m <= h.Close.minutes():
			return SessionRegular
		}
	} else if m >= h.Open.minutes() && m <= h.Close.minutes() {
		return SessionRegular
	}
	if h.AfterHoursStart != nil && h.AfterHoursEnd != nil &&
		m >= h.AfterHoursStart.minutes() && m < h.AfterHoursEnd.minutes() {
		return SessionAfterHours
	}
	return SessionClosed
}

type cachedSession struct {
	session Session
	expires time.Time
}

// SessionEngine computes per-exchange session state from wall-clock time, the
// weekday, and the holiday calendar. Results are cached per exchange for a
// bounded TTL to absorb recomputation storms from the validation pipeline.
type SessionEngine struct {
	hours    map[models.Exchange]Hours
	calendar *HolidayCalendar
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu    sync.RWMutex
	cache map[models.Exchange]cachedSession
}

const maxSessionCacheTTL = 60 * time.Second

// NewSessionEngine builds an engine over the given exchange hours. The TTL is
// clamped to 60s; zero disables caching.
func NewSessionEngine(hours map[models.Exchange]Hours, calendar *HolidayCalendar, ttl time.Duration, logger *zap.Logger) *SessionEngine {
	if ttl > maxSessionCacheTTL {
		ttl = maxSessionCacheTTL
	}
	return &SessionEngine{
		hours:    hours,
		calendar: calendar,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		cache:    make(map[models.Exchange]cachedSession),
	}
}

// WithClock overrides the time source. Test hook.
func (e *SessionEngine) WithClock(now func() time.Time) *SessionEngine {
	e.now = now
	return e
}

// At computes the session for exchange ex at time t. Never cached.
func (e *SessionEngine) At(ex models.Exchange, t time.Time) (Session, error) {
	h, ok := e.hours[ex]
	if !ok {
		return SessionClosed, gwerrors.New(gwerrors.KindValidation, "UnknownExchange",
			"no session hours configured for exchange "+string(ex))
	}

	loc, err := time.LoadLocation(h.Timezone)
	if err != nil {
		return SessionClosed, gwerrors.Wrap(gwerrors.KindConfiguration, "BadTimezone", err)
	}
	local := t.In(loc)

	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return SessionHoliday, nil
	}
	if e.calendar != nil && e.calendar.IsHoliday(local) {
		return SessionHoliday, nil
	}

	return h.sessionAt(local.Hour()*60 + local.Minute()), nil
}

// Current returns the session for ex now, serving from the TTL cache when
// fresh. Concurrent-safe.
func (e *SessionEngine) Current(ex models.Exchange) (Session, error) {
	now := e.now()

	e.mu.RLock()
	if c, ok := e.cache[ex]; ok && now.Before(c.expires) {
		e.mu.RUnlock()
		return c.session, nil
	}
	e.mu.RUnlock()

	s, err := e.At(ex, now)
	if err != nil {
		return s, err
	}

	if e.ttl > 0 {
		e.mu.Lock()
		e.cache[ex] = cachedSession{session: s, expires: now.Add(e.ttl)}
		e.mu.Unlock()
	}
	return s, nil
}

// Invalidate drops the cached session for ex.
func (e *SessionEngine) Invalidate(ex models.Exchange) {
	e.mu.Lock()
	delete(e.cache, ex)
	e.mu.Unlock()
}
