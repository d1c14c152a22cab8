package session

import (
	"context"

	"go.uber.org/zap"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/metrics"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
)

// RecurrenceRequest asks for a semester of sessions following a weekly rule.
type RecurrenceRequest struct {
	TeacherID      string
	CourseID       string
	ClassSectionID string
	SemesterID     string
	Days           []int
	Start          schedule.Clock
	End            schedule.Clock
	SessionType    model.SessionType
}

// ScheduleResult is what GenerateSchedule stored.
type ScheduleResult struct {
	Relation          model.TeacherCourseSection `json:"relation"`
	SessionsGenerated int                        `json:"sessionsGenerated"`
	SkippedDates      []SkippedDate              `json:"skippedDates"`
	Sessions          []model.Session            `json:"-"`
}

// GenerateSchedule expands the weekly rule over the rest of the semester and stores the
// resulting sessions together with the teacher/course/section relation. Dates on which the
// teacher is already booked are skipped and reported.
func (s *Service) GenerateSchedule(ctx context.Context, actor auth.Actor, req RecurrenceRequest) (ScheduleResult, error) {
	if !actor.IsAdmin() {
		return ScheduleResult{}, apperr.Forbidden("only administrators can generate schedules")
	}
	if req.SessionType == "" {
		req.SessionType = model.SessionClass
	}
	if !req.SessionType.Valid() {
		return ScheduleResult{}, apperr.Field("sessionType", "must be one of LECTURE, LAB, TUTORIAL, CLASS")
	}
	rule := schedule.Rule{Weekdays: req.Days, Start: req.Start, End: req.End}
	if err := rule.Validate(); err != nil {
		return ScheduleResult{}, err
	}

	sem, err := s.store.Semester(ctx, req.SemesterID)
	if err != nil {
		return ScheduleResult{}, err
	}
	cs, err := s.store.ClassSection(ctx, req.ClassSectionID)
	if err != nil {
		return ScheduleResult{}, err
	}
	ok, err := s.store.TeacherExists(ctx, req.TeacherID)
	if err != nil {
		return ScheduleResult{}, err
	}
	if !ok {
		return ScheduleResult{}, apperr.NotFound("teacher", req.TeacherID)
	}
	if fields := mismatches(cs, req); len(fields) > 0 {
		return ScheduleResult{}, apperr.Validation("request does not match the class section", fields)
	}

	from, to := schedule.GenerationWindow(s.Today(), sem.StartDate, sem.EndDate)
	if to.Before(from) {
		return ScheduleResult{}, apperr.Field("semesterId", "semester has ended")
	}
	occurrences, err := schedule.Expand(rule, from, to)
	if err != nil {
		return ScheduleResult{}, err
	}

	var candidates []model.Session
	for occ := range occurrences {
		candidates = append(candidates, model.Session{
			ClassSectionID: cs.ID,
			CourseID:       cs.CourseID,
			TeacherID:      req.TeacherID,
			InstitutionID:  cs.InstitutionID,
			SessionDate:    occ.Date,
			StartTime:      occ.Start,
			EndTime:        occ.End,
			SessionType:    req.SessionType,
			Status:         model.SessionScheduled,
		})
	}

	rel := model.TeacherCourseSection{
		TeacherID:      req.TeacherID,
		CourseID:       req.CourseID,
		ClassSectionID: req.ClassSectionID,
		SemesterID:     req.SemesterID,
		Days:           rule.Days(),
		StartTime:      req.Start.String(),
		EndTime:        req.End.String(),
	}
	rel, res, err := s.store.CreateSchedule(ctx, rel, candidates)
	if err != nil {
		return ScheduleResult{}, err
	}

	metrics.SessionsCreated.WithLabelValues("generated").Add(float64(len(res.Created)))
	metrics.SchedulingConflicts.WithLabelValues("generated").Add(float64(len(res.Skipped)))
	s.log.Info("schedule generated",
		zap.String("class_section_id", cs.ID),
		zap.String("teacher_id", req.TeacherID),
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("created", len(res.Created)),
		zap.Int("skipped", len(res.Skipped)))

	return ScheduleResult{
		Relation:          rel,
		SessionsGenerated: len(res.Created),
		SkippedDates:      res.Skipped,
		Sessions:          res.Created,
	}, nil
}

func mismatches(cs model.ClassSection, req RecurrenceRequest) map[string]string {
	fields := map[string]string{}
	if cs.TeacherID != req.TeacherID {
		fields["teacherId"] = "is not the teacher of this class section"
	}
	if cs.CourseID != req.CourseID {
		fields["courseId"] = "is not the course of this class section"
	}
	if cs.SemesterID != req.SemesterID {
		fields["semesterId"] = "is not the semester of this class section"
	}
	return fields
}
