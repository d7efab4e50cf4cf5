package attendance

import (
	"fmt"
	"time"
)

// Postgres hands back time.Time for DATE and TIMESTAMPTZ columns; SQLite may
// hand back strings. These scanners accept both.

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DayLayout,
}

type timeScanner struct{ dst *time.Time }

func scanTime(dst *time.Time) timeScanner { return timeScanner{dst: dst} }

func (s timeScanner) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*s.dst = time.Time{}
		return nil
	case time.Time:
		*s.dst = v
		return nil
	case string:
		return s.parse(v)
	case []byte:
		return s.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into time", src)
	}
}

func (s timeScanner) parse(v string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			*s.dst = t
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", v)
}

type dayScanner struct{ dst *string }

func scanDay(dst *string) dayScanner { return dayScanner{dst: dst} }

func (s dayScanner) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*s.dst = v.Format(DayLayout)
	case string:
		*s.dst = trimDay(v)
	case []byte:
		*s.dst = trimDay(string(v))
	default:
		return fmt.Errorf("cannot scan %T into day", src)
	}
	return nil
}

func trimDay(v string) string {
	if len(v) > len(DayLayout) {
		return v[:len(DayLayout)]
	}
	return v
}
