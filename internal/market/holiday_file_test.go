package market

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeHolidayFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadHolidayFile(t *testing.T) {
	cal := DefaultKoreanCalendar()
	path := writeHolidayFile(t, `
holidays:
  - date: 2026-02-16
    name: Seollal Holiday
  - date: 2026-02-17
    name: Seollal
  - date: 2026-02-18
    name: Seollal Holiday
`)

	n, err := LoadHolidayFile(cal, path)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seoul, err := time.LoadLocation("Asia/Seoul")
	require.NoError(t, err)
	assert.True(t, cal.IsHoliday(time.Date(2026, 2, 17, 10, 0, 0, 0, seoul)))
	assert.False(t, cal.IsHoliday(time.Date(2026, 2, 20, 10, 0, 0, 0, seoul)))
}

func TestLoadHolidayFile_BadDate(t *testing.T) {
	cal := DefaultKoreanCalendar()
	path := writeHolidayFile(t, `
holidays:
  - date: 17-02-2026
    name: Seollal
`)
	_, err := LoadHolidayFile(cal, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad date")
}

func TestLoadHolidayFile_MissingName(t *testing.T) {
	cal := DefaultKoreanCalendar()
	path := writeHolidayFile(t, `
holidays:
  - date: 2026-02-17
`)
	_, err := LoadHolidayFile(cal, path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing name")
}

func TestLoadHolidayFile_MissingFile(t *testing.T) {
	cal := DefaultKoreanCalendar()
	_, err := LoadHolidayFile(cal, filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
