package market

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// holidayFile is the on-disk layout for externally sourced holidays, chiefly
// the lunar-calendar dates (Seollal, Chuseok, Buddha's Birthday) that cannot
// be derived and must be refreshed from KRX notices each year.
type holidayFile struct {
	Holidays []struct {
		Date string `yaml:"date"` // 2006-01-02
		Name string `yaml:"name"`
	} `yaml:"holidays"`
}

// LoadHolidayFile merges the YAML file at path into the calendar via
// AddExternal. Dates are interpreted in the calendar's convention, one per
// line, no substitution applied here.
func LoadHolidayFile(c *HolidayCalendar, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read holiday file: %w", err)
	}

	var file holidayFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return 0, fmt.Errorf("parse holiday file %s: %w", path, err)
	}

	for i, h := range file.Holidays {
		date, err := time.Parse("2006-01-02", h.Date)
		if err != nil {
			return 0, fmt.Errorf("holiday %d in %s: bad date %q", i, path, h.Date)
		}
		if h.Name == "" {
			return 0, fmt.Errorf("holiday %d in %s: missing name", i, path)
		}
		c.AddExternal(date, h.Name)
	}
	return len(file.Holidays), nil
}
