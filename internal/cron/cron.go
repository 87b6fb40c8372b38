// Package cron parses 5-field cron expressions and fires a callback on schedule.
// All schedules are evaluated in UTC.
package cron

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression.
type Schedule struct {
	Minute     []int
	Hour       []int
	DayOfMonth []int
	Month      []int
	DayOfWeek  []int

	// Standard cron: when both day fields are restricted a day matches if
	// either matches.
	domAny bool
	dowAny bool
}

var macros = map[string]string{
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
	"@monthly":  "0 0 1 * *",
	"@weekly":   "0 0 * * 0",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@hourly":   "0 * * * *",
}

// Parse parses "minute hour day-of-month month day-of-week" or one of the
// @daily style macros. Day-of-week accepts 0-7 with both 0 and 7 meaning Sunday.
func Parse(expr string) (*Schedule, error) {
	expr = strings.TrimSpace(expr)
	if m, ok := macros[strings.ToLower(expr)]; ok {
		expr = m
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	specs := []struct {
		name     string
		min, max int
	}{
		{"minute", 0, 59},
		{"hour", 0, 23},
		{"day-of-month", 1, 31},
		{"month", 1, 12},
		{"day-of-week", 0, 7},
	}
	parsed := make([][]int, len(specs))
	for i, sp := range specs {
		vals, err := parseField(fields[i], sp.min, sp.max)
		if err != nil {
			return nil, fmt.Errorf("cron: %s: %w", sp.name, err)
		}
		parsed[i] = vals
	}

	// "*/N" counts as a star field for the day-of-month OR day-of-week rule.
	return &Schedule{
		Minute:     parsed[0],
		Hour:       parsed[1],
		DayOfMonth: parsed[2],
		Month:      parsed[3],
		DayOfWeek:  foldSunday(parsed[4]),
		domAny:     strings.HasPrefix(fields[2], "*"),
		dowAny:     strings.HasPrefix(fields[4], "*"),
	}, nil
}

// Next returns the first fire time strictly after from, in UTC. The zero time
// means nothing matched within four years (e.g. "0 0 31 2 *").
func (s *Schedule) Next(from time.Time) time.Time {
	t := from.UTC().Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !slices.Contains(s.Month, int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !s.dayMatches(t) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}
		if !slices.Contains(s.Hour, t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}
		if !slices.Contains(s.Minute, t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}

func (s *Schedule) dayMatches(t time.Time) bool {
	dom := slices.Contains(s.DayOfMonth, t.Day())
	dow := slices.Contains(s.DayOfWeek, int(t.Weekday()))
	switch {
	case s.domAny && s.dowAny:
		return true
	case s.domAny:
		return dow
	case s.dowAny:
		return dom
	default:
		return dom || dow
	}
}

// foldSunday maps 7 to 0 and keeps the result sorted and unique.
func foldSunday(days []int) []int {
	out := make([]int, 0, len(days))
	for _, d := range days {
		if d == 7 {
			d = 0
		}
		if !slices.Contains(out, d) {
			out = append(out, d)
		}
	}
	slices.Sort(out)
	return out
}

// parseField handles *, single values, ranges, steps and comma lists.
func parseField(field string, min, max int) ([]int, error) {
	var result []int
	for _, part := range strings.Split(field, ",") {
		vals, err := parsePart(part, min, max)
		if err != nil {
			return nil, err
		}
		for _, v := range vals {
			if !slices.Contains(result, v) {
				result = append(result, v)
			}
		}
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("empty field")
	}
	slices.Sort(result)
	return result, nil
}

func parsePart(part string, min, max int) ([]int, error) {
	step := 1
	hasStep := false
	if base, s, ok := strings.Cut(part, "/"); ok {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step %q", s)
		}
		step, hasStep, part = n, true, base
	}

	var low, high int
	switch {
	case part == "*":
		low, high = min, max
	case strings.Contains(part, "-"):
		lo, hi, _ := strings.Cut(part, "-")
		var err error
		if low, err = strconv.Atoi(lo); err != nil {
			return nil, fmt.Errorf("invalid range start %q", lo)
		}
		if high, err = strconv.Atoi(hi); err != nil {
			return nil, fmt.Errorf("invalid range end %q", hi)
		}
	default:
		v, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", part)
		}
		low, high = v, v
		if hasStep {
			// "5/15" means 5, 20, 35, ...
			high = max
		}
	}

	if low < min || high > max || low > high {
		return nil, fmt.Errorf("range %d-%d out of bounds [%d, %d]", low, high, min, max)
	}

	var vals []int
	for i := low; i <= high; i += step {
		vals = append(vals, i)
	}
	return vals, nil
}
