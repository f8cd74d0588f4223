package schema

import (
	"strconv"
	"strings"
	"time"
)

type layoutKind int

const (
	dated layoutKind = iota
	clockOnly
	yearless
)

var timeLayouts = []struct {
	layout string
	kind   layoutKind
}{
	{"2006-01-02 15:04:05,000", dated},
	{"2006-01-02 15:04:05.000", dated},
	{"2006-01-02 15:04:05", dated},
	{time.RFC3339Nano, dated},
	{time.RFC3339, dated},
	{"2006-01-02T15:04:05.999999999", dated},
	{"2006-01-02T15:04:05", dated},
	{"15:04:05.000000000", clockOnly},
	{"Jan _2 15:04:05", yearless},
	{"Mon Jan _2 15:04:05 2006", dated},
}

// yearSkew tolerates yearless stamps slightly ahead of now (clock skew,
// zone differences) before treating them as last year's.
const yearSkew = 24 * time.Hour

// ParseTime coerces the timestamp formats emitted by the supervised tools
// into a time.Time. Unix epochs (seconds, optionally fractional) are accepted.
// Clock-only stamps take now's date; syslog stamps without a year take the
// most recent year that does not put them in the future. Anything
// unparsable falls back to now.
func ParseTime(raw string, now time.Time) time.Time {
	t, kind, ok := parseTime(raw)
	if !ok {
		return now
	}
	switch kind {
	case clockOnly:
		return time.Date(now.Year(), now.Month(), now.Day(),
			t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), now.Location())
	case yearless:
		out := time.Date(now.Year(), t.Month(), t.Day(),
			t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), now.Location())
		if out.After(now.Add(yearSkew)) {
			out = out.AddDate(-1, 0, 0)
		}
		return out
	}
	return t
}

// TryParseTime is ParseTime without the fallback or date anchoring; yearless
// and clock-only stamps come back in year 0.
func TryParseTime(raw string) (time.Time, bool) {
	t, _, ok := parseTime(raw)
	return t, ok
}

func parseTime(raw string) (time.Time, layoutKind, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, dated, false
	}
	if epoch, err := strconv.ParseFloat(raw, 64); err == nil && !strings.Contains(raw, ":") {
		sec := int64(epoch)
		nsec := int64((epoch - float64(sec)) * 1e9)
		return time.Unix(sec, nsec).UTC(), dated, true
	}
	for _, l := range timeLayouts {
		if t, err := time.ParseInLocation(l.layout, raw, time.Local); err == nil {
			return t, l.kind, true
		}
	}
	return time.Time{}, dated, false
}
