package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"statusbridge/tools/errs"
)

type SpecKind int

const (
	// After: a duration relative to the moment the command is handled.
	After SpecKind = iota + 1
	// At: an absolute deadline, used as given.
	At
	// Until: a wall-clock time, resolved to its next occurrence.
	Until
)

// TimeSpec is an expiry as the user wrote it, before it is pinned to a
// clock reading.
type TimeSpec struct {
	Kind     SpecKind
	Duration time.Duration
	Deadline time.Time
	Hour     int
	Minute   int
}

// Resolve turns the spec into an absolute time. Until-specs are
// interpreted in loc and roll over to the next day once passed.
// The caller checks that the result lies in the future.
func (s TimeSpec) Resolve(now time.Time, loc *time.Location) time.Time {
	switch s.Kind {
	case After:
		return now.Add(s.Duration)
	case At:
		return s.Deadline
	case Until:
		if loc == nil {
			loc = time.UTC
		}
		local := now.In(loc)
		t := time.Date(local.Year(), local.Month(), local.Day(), s.Hour, s.Minute, 0, 0, loc)
		if !t.After(now) {
			t = t.AddDate(0, 0, 1)
		}
		return t
	}
	return time.Time{}
}

func (s TimeSpec) String() string {
	switch s.Kind {
	case After:
		return "in " + s.Duration.String()
	case At:
		return "at " + s.Deadline.Format(time.RFC3339)
	case Until:
		return fmt.Sprintf("until %02d:%02d", s.Hour, s.Minute)
	}
	return ""
}

var (
	reZulipTime = regexp.MustCompile(`^<time:([^>]+)>$`)
	reCount     = regexp.MustCompile(`^(\d+)\s*(m|min|mins|minute|minutes|h|hr|hrs|hour|hours|d|day|days)$`)
	reClock     = regexp.MustCompile(`^(\d{1,2})(?::(\d{2}))?\s*(am|pm)?$`)
)

// parseZulipTime parses Zulip's global time token "<time:ISO8601>".
func parseZulipTime(tok string) (TimeSpec, bool, error) {
	m := reZulipTime.FindStringSubmatch(tok)
	if m == nil {
		return TimeSpec{}, false, nil
	}
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(m[1]))
	if err != nil {
		return TimeSpec{}, true, errs.ErrInvalidTimeSpec.WrapMsg("unreadable <time:...> value", "value", m[1])
	}
	return TimeSpec{Kind: At, Deadline: t}, true, nil
}

// parseKeywordSpec parses "in|for <duration>" and "until <clock|RFC3339>".
// ok is false when the words don't form an expiry.
func parseKeywordSpec(keyword string, words []string) (TimeSpec, bool) {
	if len(words) == 0 || len(words) > 2 {
		return TimeSpec{}, false
	}
	arg := strings.ToLower(strings.Join(words, " "))

	switch strings.ToLower(keyword) {
	case "in", "for":
		d, ok := parseDuration(arg)
		if !ok {
			return TimeSpec{}, false
		}
		return TimeSpec{Kind: After, Duration: d}, true
	case "until", "till":
		if t, err := time.Parse(time.RFC3339, strings.Join(words, " ")); err == nil {
			return TimeSpec{Kind: At, Deadline: t}, true
		}
		h, m, ok := parseClock(arg)
		if !ok {
			return TimeSpec{}, false
		}
		return TimeSpec{Kind: Until, Hour: h, Minute: m}, true
	}
	return TimeSpec{}, false
}

func parseDuration(arg string) (time.Duration, bool) {
	if d, err := time.ParseDuration(strings.ReplaceAll(arg, " ", "")); err == nil {
		return d, true
	}
	m := reCount.FindStringSubmatch(arg)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	switch m[2][0] {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	default:
		return time.Duration(n) * 24 * time.Hour, true
	}
}

// parseClock accepts "15:04", "3pm", "3 pm", "10:30am" and "noon"/"midnight".
func parseClock(arg string) (hour, minute int, ok bool) {
	switch arg {
	case "noon":
		return 12, 0, true
	case "midnight":
		return 0, 0, true
	}
	m := reClock.FindStringSubmatch(arg)
	if m == nil {
		return 0, 0, false
	}
	hour, _ = strconv.Atoi(m[1])
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	switch m[3] {
	case "":
		if m[2] == "" {
			// a bare number is too ambiguous ("until 3")
			return 0, 0, false
		}
	case "am", "pm":
		if hour < 1 || hour > 12 {
			return 0, 0, false
		}
		hour %= 12
		if m[3] == "pm" {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return 0, 0, false
	}
	return hour, minute, true
}
