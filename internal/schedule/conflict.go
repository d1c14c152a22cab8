package schedule

import (
	"context"
	"fmt"
	"time"

	"schoolattend/internal/apperr"
)

// Booking is an existing session occupying a teacher's time.
type Booking struct {
	SessionID string
	Interval  Interval
}

// BookingSource lists the non-cancelled sessions a teacher holds on a date.
type BookingSource interface {
	TeacherBookings(ctx context.Context, teacherID string, date time.Time) ([]Booking, error)
}

// FindConflict returns the first booking overlapping candidate, ignoring excludeID.
func FindConflict(existing []Booking, candidate Interval, excludeID string) (Booking, bool) {
	for _, b := range existing {
		if excludeID != "" && b.SessionID == excludeID {
			continue
		}
		if b.Interval.Overlaps(candidate) {
			return b, true
		}
	}
	return Booking{}, false
}

// Checker rejects a candidate interval that would double-book a teacher.
type Checker struct {
	src BookingSource
}

// NewChecker creates a checker reading bookings from src.
func NewChecker(src BookingSource) *Checker {
	return &Checker{src: src}
}

// Check returns a SchedulingConflict error naming the clashing session, or nil.
// excludeID skips the session being rescheduled.
func (c *Checker) Check(ctx context.Context, teacherID string, candidate Interval, excludeID string) error {
	if !candidate.Valid() {
		return apperr.Field("startTime", "must be before endTime")
	}
	existing, err := c.src.TeacherBookings(ctx, teacherID, Day(candidate.Start))
	if err != nil {
		return fmt.Errorf("load teacher bookings: %w", err)
	}
	if b, ok := FindConflict(existing, candidate, excludeID); ok {
		return apperr.Conflict(b.SessionID)
	}
	return nil
}
