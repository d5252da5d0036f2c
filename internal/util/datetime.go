package util

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	// DRMS T_REC strings look like "2012.01.01_00:12:00_TAI". Seconds, fractional
	// seconds and the time-scale suffix are all optional.
	drmsTimeRegex = regexp.MustCompile(`^(\d{4})\.(\d{2})\.(\d{2})(?:_(\d{2}):(\d{2})(?::(\d{2})(\.\d+)?)?)?(?:_([A-Z]+))?$`)
)

// ParseDRMSTime parses a DRMS time string. The time scale suffix (TAI, UTC...) is
// not applied: the value is returned as a wall-clock reading in time.UTC, which is
// what the cadence arithmetic needs. Missing values ("MISSING", "Invalid KeyLink",
// empty) are errors.
func ParseDRMSTime(s string) (time.Time, error) {
	trimmed := strings.Trim(strings.TrimSpace(s), `"`)
	m := drmsTimeRegex.FindStringSubmatch(trimmed)
	if m == nil {
		return time.Time{}, fmt.Errorf("failed to parse DRMS time from '%s'", s)
	}

	layout := "2006.01.02"
	value := m[1] + "." + m[2] + "." + m[3]
	if m[4] != "" {
		layout += "_15:04"
		value += "_" + m[4] + ":" + m[5]
		if m[6] != "" {
			layout += ":05"
			value += ":" + m[6]
			if m[7] != "" {
				layout += ".999999999"
				value += m[7]
			}
		}
	}
	t, err := time.ParseInLocation(layout, value, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse DRMS time from '%s': %w", s, err)
	}
	return t, nil
}

// Midnight truncates t to the start of its calendar day.
func Midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// HEKTimeLayout is the timestamp layout the HEK search API accepts.
const HEKTimeLayout = "2006-01-02T15:04:05"
