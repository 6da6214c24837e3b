// Package expiry turns relative time expressions into deadlines and renders
// them into registry lines that can be recognized again later.
package expiry

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var ErrMalformed = errors.New("malformed expiry expression")

const (
	dateLayout   = "2006-01-02"
	clockLayout  = "15:04"
	todaySuffix  = " expires today"
	datedSuffix  = " expires"
	defaultHour  = 23
	defaultMin   = 59
	daysPerMonth = 30
)

var (
	clockOnly  = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)
	hoursExpr  = regexp.MustCompile(`^(\d+)\s*(?:hours?|hrs?|h)$`)
	unitExpr   = regexp.MustCompile(`^(\d+)\s*(days?|d|weeks?|w|months?|m)(?:\s+(\d{1,2}):(\d{2}))?$`)
	absoluteEx = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2})(?:\s+(\d{1,2}):(\d{2}))?$`)

	datedMark = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}) (\d{2}:\d{2}) expires\b`)
	todayMark = regexp.MustCompile(`(?:^|\s)(\d{2}:\d{2}) expires today\b`)
)

// ParseRelative resolves expr against now. The result is minute aligned.
func ParseRelative(expr string, now time.Time) (time.Time, error) {
	e := strings.ToLower(strings.Join(strings.Fields(expr), " "))
	base := now.Truncate(time.Minute)
	if m := clockOnly.FindStringSubmatch(e); m != nil {
		h, mi, err := clock(m[1], m[2])
		if err != nil {
			return time.Time{}, err
		}
		t := at(now, 0, h, mi)
		if !t.After(now) {
			t = at(now, 1, h, mi)
		}
		return t, nil
	}
	if m := hoursExpr.FindStringSubmatch(e); m != nil {
		n, err := count(m[1])
		if err != nil {
			return time.Time{}, err
		}
		return base.Add(time.Duration(n) * time.Hour), nil
	}
	if m := unitExpr.FindStringSubmatch(e); m != nil {
		n, err := count(m[1])
		if err != nil {
			return time.Time{}, err
		}
		days := n
		switch m[2][0] {
		case 'w':
			days = n * 7
		case 'm':
			days = n * daysPerMonth
		}
		h, mi := defaultHour, defaultMin
		if m[3] != "" {
			if h, mi, err = clock(m[3], m[4]); err != nil {
				return time.Time{}, err
			}
		}
		return at(now, days, h, mi), nil
	}
	if m := absoluteEx.FindStringSubmatch(e); m != nil {
		day, err := time.ParseInLocation(dateLayout, m[1], now.Location())
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, expr)
		}
		h, mi := defaultHour, defaultMin
		if m[2] != "" {
			if h, mi, err = clock(m[2], m[3]); err != nil {
				return time.Time{}, err
			}
		}
		return at(day, 0, h, mi), nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrMalformed, expr)
}

// Format renders ts relative to now's calendar day.
func Format(ts, now time.Time) string {
	if sameDay(ts, now) {
		return ts.Format(clockLayout) + todaySuffix
	}
	return ts.Format(dateLayout+" "+clockLayout) + datedSuffix
}

// Status is the outcome of Check on a line that carries an expiry.
type Status struct {
	Expired bool
	At      time.Time
	// Match is the exact expiry text found in the line.
	Match string
}

// Check finds an expiry written by Format inside line. ref is the moment the
// line was rendered and anchors the "today" form; now is the evaluation time.
func Check(line string, ref, now time.Time) (Status, bool) {
	if m := datedMark.FindStringSubmatchIndex(line); m != nil {
		stamp := line[m[2]:m[3]] + " " + line[m[4]:m[5]]
		ts, err := time.ParseInLocation(dateLayout+" "+clockLayout, stamp, now.Location())
		if err == nil {
			return Status{Expired: !now.Before(ts), At: ts, Match: line[m[0]:m[1]]}, true
		}
	}
	if m := todayMark.FindStringSubmatchIndex(line); m != nil {
		parts := strings.SplitN(line[m[2]:m[3]], ":", 2)
		h, mi, err := clock(parts[0], parts[1])
		if err == nil {
			ts := at(ref.In(now.Location()), 0, h, mi)
			return Status{Expired: !now.Before(ts), At: ts, Match: line[m[2]:m[1]]}, true
		}
	}
	return Status{}, false
}

func clock(hs, ms string) (int, int, error) {
	h, err := strconv.Atoi(hs)
	if err != nil || h > 23 {
		return 0, 0, fmt.Errorf("%w: hour %q", ErrMalformed, hs)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m > 59 {
		return 0, 0, fmt.Errorf("%w: minute %q", ErrMalformed, ms)
	}
	return h, m, nil
}

func count(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 || n > 100000 {
		return 0, fmt.Errorf("%w: count %q", ErrMalformed, s)
	}
	return n, nil
}

func at(day time.Time, addDays, h, m int) time.Time {
	y, mo, d := day.Date()
	return time.Date(y, mo, d+addDays, h, m, 0, 0, day.Location())
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
