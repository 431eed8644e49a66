package market

import (
	"sync"
	"time"
)

// FixedHoliday is a holiday falling on the same Gregorian date every year.
type FixedHoliday struct {
	Month time.Month `yaml:"month" json:"month"`
	Day   int        `yaml:"day" json:"day"`
	Name  string     `yaml:"name" json:"name"`
}

// HolidayCalendar combines fixed-date holidays with externally supplied
// dates. Lunar-calendar holidays (Seollal, Chuseok, Buddha's Birthday) cannot
// be derived here and must be injected through AddExternal; the calendar
// never guesses them.
type HolidayCalendar struct {
	fixed []FixedHoliday

	mu       sync.RWMutex
	external map[string]string // "2006-01-02" -> name
	observed map[int]map[string]string
}

// DefaultKoreanCalendar returns the fixed-date Korean market holidays.
func DefaultKoreanCalendar() *HolidayCalendar {
	return NewHolidayCalendar([]FixedHoliday{
		{time.January, 1, "New Year's Day"},
		{time.March, 1, "Independence Movement Day"},
		{time.May, 1, "Labor Day"},
		{time.May, 5, "Children's Day"},
		{time.June, 6, "Memorial Day"},
		{time.August, 15, "Liberation Day"},
		{time.October, 3, "National Foundation Day"},
		{time.October, 9, "Hangul Day"},
		{time.December, 25, "Christmas Day"},
		{time.December, 31, "Year-End Market Closure"},
	})
}

func NewHolidayCalendar(fixed []FixedHoliday) *HolidayCalendar {
	return &HolidayCalendar{
		fixed:    fixed,
		external: make(map[string]string),
		observed: make(map[int]map[string]string),
	}
}

const dateKey = "2006-01-02"

// AddExternal registers an externally supplied holiday (lunar dates,
// ad hoc market closures). Invalidates the observed-set cache for that year.
func (c *HolidayCalendar) AddExternal(date time.Time, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.external[date.Format(dateKey)] = name
	delete(c.observed, date.Year())
}

// IsHoliday reports whether t's date is an observed market holiday. Weekends
// are not holidays by themselves; the session engine handles them.
func (c *HolidayCalendar) IsHoliday(t time.Time) bool {
	_, ok := c.ForYear(t.Year())[t.Format(dateKey)]
	return ok
}

// ForYear returns the observed holiday set for a year, keyed by date string.
// Fixed holidays landing on a weekend shift forward to the next free weekday
// (a Sunday holiday is observed Monday; a Saturday holiday the next free day
// after that).
func (c *HolidayCalendar) ForYear(year int) map[string]string {
	c.mu.RLock()
	if set, ok := c.observed[year]; ok {
		c.mu.RUnlock()
		return set
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if set, ok := c.observed[year]; ok {
		return set
	}

	set := make(map[string]string)
	type shifted struct {
		date time.Time
		name string
	}
	var weekendHits []shifted
	for _, h := range c.fixed {
		d := time.Date(year, h.Month, h.Day, 0, 0, 0, 0, time.UTC)
		set[d.Format(dateKey)] = h.Name
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			weekendHits = append(weekendHits, shifted{d, h.Name})
		}
	}

	// Sunday holidays claim the following Monday first; Saturday holidays
	// take the next free weekday after that.
	for pass := 0; pass < 2; pass++ {
		want := time.Sunday
		if pass == 1 {
			want = time.Saturday
		}
		for _, hit := range weekendHits {
			if hit.date.Weekday() != want {
				continue
			}
			sub := hit.date.AddDate(0, 0, 1)
			for {
				wd := sub.Weekday()
				_, taken := set[sub.Format(dateKey)]
				if wd != time.Saturday && wd != time.Sunday && !taken {
					break
				}
				sub = sub.AddDate(0, 0, 1)
			}
			set[sub.Format(dateKey)] = hit.name + " (substitute)"
		}
	}

	for k, v := range c.external {
		if t, err := time.Parse(dateKey, k); err == nil && t.Year() == year {
			set[k] = v
		}
	}

	c.observed[year] = set
	return set
}
