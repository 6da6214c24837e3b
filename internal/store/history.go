package store

import (
	"strings"
	"time"
)

const HistoryTimeLayout = "2006-01-02 15:04"

// HistoryRecord renders as "field | field | ... | YYYY-MM-DD HH:MM".
type HistoryRecord struct {
	Fields []string
	At     time.Time
}

func (r HistoryRecord) String() string {
	parts := make([]string, 0, len(r.Fields)+1)
	for _, f := range r.Fields {
		f = strings.TrimSpace(strings.ReplaceAll(f, "|", "/"))
		if f != "" {
			parts = append(parts, f)
		}
	}
	parts = append(parts, r.At.Format(HistoryTimeLayout))
	return strings.Join(parts, " | ")
}

// PrependHistory writes records newest first above the existing log and keeps
// at most limit lines. records is expected oldest first.
func PrependHistory(path string, records []HistoryRecord, limit int) error {
	if len(records) == 0 {
		return nil
	}
	old, err := ReadOptional(path)
	if err != nil {
		return err
	}
	lines := make([]string, 0, len(records)+len(old))
	for i := len(records) - 1; i >= 0; i-- {
		lines = append(lines, records[i].String())
	}
	lines = append(lines, old...)
	if limit > 0 && len(lines) > limit {
		lines = lines[:limit]
	}
	return WriteLines(path, lines)
}
