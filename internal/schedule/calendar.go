package schedule

import (
	"iter"
	"sort"
	"time"

	"schoolattend/internal/apperr"
)

// Rule is a weekly recurrence: a set of weekdays (0 = Sunday) and a daily time window.
type Rule struct {
	Weekdays []int
	Start    Clock
	End      Clock
}

// Validate rejects rules that cannot produce a session.
func (r Rule) Validate() error {
	if len(r.Weekdays) == 0 {
		return apperr.InvalidRecurrence("at least one weekday is required")
	}
	for _, d := range r.Weekdays {
		if d < 0 || d > 6 {
			return apperr.InvalidRecurrence("weekdays must be between 0 and 6")
		}
	}
	if !r.Start.Before(r.End) {
		return apperr.InvalidRecurrence("daily start time must be before end time")
	}
	return nil
}

// Days returns the weekday set sorted and without duplicates.
func (r Rule) Days() []int {
	seen := make(map[int]bool, len(r.Weekdays))
	out := make([]int, 0, len(r.Weekdays))
	for _, d := range r.Weekdays {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	sort.Ints(out)
	return out
}

// Occurrence is one generated meeting.
type Occurrence struct {
	Date time.Time
	Interval
}

// GenerationWindow returns the inclusive date range sessions are generated for:
// from the later of today and the semester start, through the semester end.
func GenerationWindow(today, semesterStart, semesterEnd time.Time) (from, to time.Time) {
	from = Day(semesterStart)
	if t := Day(today); t.After(from) {
		from = t
	}
	return from, Day(semesterEnd)
}

// Expand yields one occurrence for every date in [from, to] whose weekday is in the rule,
// in chronological order. The sequence is empty when to is before from and may be ranged
// over any number of times.
func Expand(rule Rule, from, to time.Time) (iter.Seq[Occurrence], error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	var want [7]bool
	for _, d := range rule.Weekdays {
		want[d] = true
	}
	first, last := Day(from), Day(to)

	return func(yield func(Occurrence) bool) {
		for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
			if !want[day.Weekday()] {
				continue
			}
			occ := Occurrence{
				Date:     day,
				Interval: Interval{Start: rule.Start.On(day), End: rule.End.On(day)},
			}
			if !yield(occ) {
				return
			}
		}
	}, nil
}
