package attendance

import (
	"context"
	"math"
	"time"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
)

// Scope selects the sessions a summary covers. With ClassSectionID set only that section
// counts; otherwise every section of the course the student is enrolled in.
type Scope struct {
	StudentID      string
	CourseID       string
	ClassSectionID string
	// AsOf is the last session date included.
	AsOf time.Time
}

// Tally is the raw count behind a summary.
type Tally struct {
	Total   int
	Present int
	Absent  int
	Late    int
	Excused int
	// InstitutionID owns the scoped sections; empty when the student has none.
	InstitutionID string
}

// TallySource counts sessions and a student's marks.
type TallySource interface {
	Tally(ctx context.Context, scope Scope) (Tally, error)
}

// Summary is a student's attendance statistics for a course or section.
type Summary struct {
	StudentID      string `json:"studentId"`
	CourseID       string `json:"courseId"`
	ClassSectionID string `json:"classSectionId,omitempty"`
	TotalSessions  int    `json:"totalSessions"`
	Present        int    `json:"present"`
	Absent         int    `json:"absent"`
	Late           int    `json:"late"`
	Excused        int    `json:"excused"`
	Percentage     int    `json:"percentage"`
	MinimumPercent int    `json:"minimumPercentage"`
	MeetsMinimum   bool   `json:"meetsMinimum"`
}

// Percentage returns round(100 * (present + late) / total), or 0 without sessions.
func Percentage(present, late, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(present+late) / float64(total)))
}

// Aggregator computes summaries on demand.
type Aggregator struct {
	tallies  TallySource
	settings SettingsSource
	loc      *time.Location
	now      func() time.Time
}

// NewAggregator builds an aggregator.
func NewAggregator(tallies TallySource, settings SettingsSource, loc *time.Location) *Aggregator {
	return &Aggregator{tallies: tallies, settings: settings, loc: loc, now: time.Now}
}

// Summary reports the student's attendance over sessions held up to today.
func (a *Aggregator) Summary(ctx context.Context, actor auth.Actor, studentID, courseID, classSectionID string) (Summary, error) {
	if studentID == "" {
		return Summary{}, apperr.Field("studentId", "is required")
	}
	if courseID == "" && classSectionID == "" {
		return Summary{}, apperr.Field("courseId", "is required")
	}
	if actor.IsStudent() && actor.ID != studentID {
		return Summary{}, apperr.Forbidden("students can only view their own attendance")
	}

	t, err := a.tallies.Tally(ctx, Scope{
		StudentID:      studentID,
		CourseID:       courseID,
		ClassSectionID: classSectionID,
		AsOf:           schedule.Day(schedule.WallClock(a.now(), a.loc)),
	})
	if err != nil {
		return Summary{}, err
	}
	policy := model.DefaultSettings(t.InstitutionID)
	if t.InstitutionID != "" {
		if policy, err = a.settings.Get(ctx, t.InstitutionID); err != nil {
			return Summary{}, err
		}
	}

	pct := Percentage(t.Present, t.Late, t.Total)
	return Summary{
		StudentID:      studentID,
		CourseID:       courseID,
		ClassSectionID: classSectionID,
		TotalSessions:  t.Total,
		Present:        t.Present,
		Absent:         t.Absent,
		Late:           t.Late,
		Excused:        t.Excused,
		Percentage:     pct,
		MinimumPercent: policy.MinAttendancePercentage,
		MeetsMinimum:   pct >= policy.MinAttendancePercentage,
	}, nil
}
