package servers

import (
	"strings"
	"time"

	"github.com/justVisiting992/subkeeper/internal/proxyuri"
)

const (
	TimeLayout = "2006-01-02 15:04"
	separator  = " | "
)

// Entry is one row of the non-working list: uri | [source |] YYYY-MM-DD HH:MM.
type Entry struct {
	URI    string
	Source string
	At     time.Time
}

func (e Entry) String() string {
	parts := []string{e.URI}
	if e.Source != "" {
		parts = append(parts, e.Source)
	}
	parts = append(parts, e.At.Format(TimeLayout))
	return strings.Join(parts, separator)
}

// NewEntry quarantines uri. Its remark is re-escaped so the row stays
// parseable.
func NewEntry(uri, source string, at time.Time) Entry {
	if safe, err := proxyuri.SetRemark(uri, proxyuri.Remark(uri)); err == nil {
		uri = safe
	}
	return Entry{URI: uri, Source: source, At: at.Truncate(time.Minute)}
}

// ParseEntry reads a non-working row. Times are read in loc.
func ParseEntry(line string, loc *time.Location) (Entry, bool) {
	fields := strings.Split(strings.TrimSpace(line), separator)
	n := len(fields)
	if n < 2 {
		return Entry{}, false
	}
	at, err := time.ParseInLocation(TimeLayout, strings.TrimSpace(fields[n-1]), loc)
	if err != nil {
		return Entry{}, false
	}
	e := Entry{At: at}
	if n == 2 {
		e.URI = strings.TrimSpace(fields[0])
	} else {
		e.Source = strings.TrimSpace(fields[n-2])
		e.URI = strings.TrimSpace(strings.Join(fields[:n-2], separator))
	}
	if e.URI == "" {
		return Entry{}, false
	}
	return e, true
}

// Expired reports whether e has been quarantined longer than window.
func (e Entry) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(e.At) > window
}
