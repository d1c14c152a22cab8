package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/metrics"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
)

// Store is the persistence the session service needs. *Repository implements it.
type Store interface {
	ClassSection(ctx context.Context, id string) (model.ClassSection, error)
	Semester(ctx context.Context, id string) (model.Semester, error)
	TeacherExists(ctx context.Context, id string) (bool, error)
	IsEnrolled(ctx context.Context, studentID, classSectionID string) (bool, error)
	Get(ctx context.Context, id string) (model.Session, error)
	List(ctx context.Context, f Filter) ([]model.Session, error)
	CreateSessions(ctx context.Context, sessions []model.Session, skipConflicts bool) (CreateResult, error)
	CreateSchedule(ctx context.Context, rel model.TeacherCourseSection, sessions []model.Session) (model.TeacherCourseSection, CreateResult, error)
	Update(ctx context.Context, id string, fn func(*model.Session) error) (model.Session, error)
}

// Filter narrows session listings. Dates are inclusive.
type Filter struct {
	TeacherID      string
	ClassSectionID string
	Status         model.SessionStatus
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// SkippedDate is a generated candidate dropped because the teacher was already booked.
type SkippedDate struct {
	Date              time.Time `json:"date"`
	ConflictSessionID string    `json:"conflictSessionId"`
}

// CreateResult reports what a (bulk) creation stored.
type CreateResult struct {
	Created []model.Session
	Skipped []SkippedDate
}

// CreateInput is a manual single-session request.
type CreateInput struct {
	ClassSectionID string
	TeacherID      string
	SessionDate    time.Time
	Start          schedule.Clock
	End            schedule.Clock
	SessionType    model.SessionType
	Status         model.SessionStatus
}

// UpdateInput carries the fields a PUT may change; nil means unchanged.
type UpdateInput struct {
	Status      *model.SessionStatus
	SessionDate *time.Time
	Start       *schedule.Clock
	End         *schedule.Clock
	SessionType *model.SessionType
}

// Service coordinates session creation, rescheduling and listing.
type Service struct {
	store Store
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

// NewService creates a service. loc is the institution's time zone used to decide "today".
func NewService(store Store, loc *time.Location, log *zap.Logger) *Service {
	if loc == nil {
		loc = time.UTC
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{store: store, loc: loc, now: time.Now, log: log}
}

// Today returns the current calendar date in the institution's zone.
func (s *Service) Today() time.Time {
	return schedule.Day(schedule.WallClock(s.now(), s.loc))
}

// Create validates and stores one session, rejecting it on any scheduling conflict.
func (s *Service) Create(ctx context.Context, actor auth.Actor, in CreateInput) (model.Session, error) {
	if in.SessionType == "" {
		in.SessionType = model.SessionClass
	}
	if in.Status == "" {
		in.Status = model.SessionScheduled
	}
	if !in.SessionType.Valid() {
		return model.Session{}, apperr.Field("sessionType", "must be one of LECTURE, LAB, TUTORIAL, CLASS")
	}
	if !in.Status.Valid() || in.Status.Terminal() {
		return model.Session{}, apperr.Field("status", "must be SCHEDULED or IN_PROGRESS")
	}
	if !in.Start.Before(in.End) {
		return model.Session{}, apperr.Field("startTime", "must be before endTime")
	}
	if !actor.CanActFor(in.TeacherID) {
		return model.Session{}, apperr.Forbidden("sessions can only be created for your own classes")
	}

	cs, err := s.store.ClassSection(ctx, in.ClassSectionID)
	if err != nil {
		return model.Session{}, err
	}
	ok, err := s.store.TeacherExists(ctx, in.TeacherID)
	if err != nil {
		return model.Session{}, err
	}
	if !ok {
		return model.Session{}, apperr.NotFound("teacher", in.TeacherID)
	}
	if cs.TeacherID != in.TeacherID {
		return model.Session{}, apperr.Field("teacherId", "is not the teacher of this class section")
	}

	day := schedule.Day(in.SessionDate)
	sess := model.Session{
		ClassSectionID: cs.ID,
		CourseID:       cs.CourseID,
		TeacherID:      in.TeacherID,
		InstitutionID:  cs.InstitutionID,
		SessionDate:    day,
		StartTime:      in.Start.On(day),
		EndTime:        in.End.On(day),
		SessionType:    in.SessionType,
		Status:         in.Status,
	}
	res, err := s.store.CreateSessions(ctx, []model.Session{sess}, false)
	if err != nil {
		if apperr.Is(err, apperr.KindSchedulingConflict) {
			metrics.SchedulingConflicts.WithLabelValues("manual").Inc()
		}
		return model.Session{}, err
	}
	metrics.SessionsCreated.WithLabelValues("manual").Inc()
	created := res.Created[0]
	created.InstitutionID = cs.InstitutionID
	s.log.Info("session created",
		zap.String("session_id", created.ID),
		zap.String("teacher_id", created.TeacherID),
		zap.Time("start", created.StartTime))
	return created, nil
}

// Get returns one session the actor may see.
func (s *Service) Get(ctx context.Context, actor auth.Actor, id string) (model.Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return model.Session{}, err
	}
	if actor.IsStudent() {
		ok, err := s.store.IsEnrolled(ctx, actor.ID, sess.ClassSectionID)
		if err != nil {
			return model.Session{}, err
		}
		if !ok {
			return model.Session{}, apperr.Forbidden("not enrolled in this class section")
		}
	}
	return sess, nil
}

// List returns sessions matching f. Students must name a class section they belong to.
func (s *Service) List(ctx context.Context, actor auth.Actor, f Filter) ([]model.Session, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Field("status", "is not a session status")
	}
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Field("toDate", "must not be before fromDate")
	}
	if actor.IsStudent() {
		if f.ClassSectionID == "" {
			return nil, apperr.Field("classSectionId", "is required for students")
		}
		ok, err := s.store.IsEnrolled(ctx, actor.ID, f.ClassSectionID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.Forbidden("not enrolled in this class section")
		}
	}
	return s.store.List(ctx, f)
}

// Update applies a PUT. Ownership, time ordering and status transitions are validated
// against the locked row; a moved slot is conflict-checked again by the store.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id string, in UpdateInput) (model.Session, error) {
	if in.Status != nil && !in.Status.Valid() {
		return model.Session{}, apperr.Field("status", "is not a session status")
	}
	if in.SessionType != nil && !in.SessionType.Valid() {
		return model.Session{}, apperr.Field("sessionType", "must be one of LECTURE, LAB, TUTORIAL, CLASS")
	}
	if actor.IsStudent() {
		return model.Session{}, apperr.Forbidden("students cannot modify sessions")
	}

	return s.store.Update(ctx, id, func(sess *model.Session) error {
		if !actor.CanActFor(sess.TeacherID) {
			return apperr.Forbidden("sessions can only be modified by their teacher")
		}
		rescheduled := in.SessionDate != nil || in.Start != nil || in.End != nil
		if rescheduled && sess.Status.Terminal() {
			return apperr.Validation("a "+string(sess.Status)+" session cannot be rescheduled", nil)
		}
		if in.Status != nil {
			if !CanTransition(sess.Status, *in.Status) {
				return apperr.Field("status", "cannot change from "+string(sess.Status)+" to "+string(*in.Status))
			}
			sess.Status = *in.Status
		}
		if in.SessionType != nil {
			sess.SessionType = *in.SessionType
		}
		if rescheduled {
			day := sess.SessionDate
			if in.SessionDate != nil {
				day = schedule.Day(*in.SessionDate)
			}
			start, end := schedule.ClockOf(sess.StartTime), schedule.ClockOf(sess.EndTime)
			if in.Start != nil {
				start = *in.Start
			}
			if in.End != nil {
				end = *in.End
			}
			if !start.Before(end) {
				return apperr.Field("startTime", "must be before endTime")
			}
			sess.SessionDate = day
			sess.StartTime = start.On(day)
			sess.EndTime = end.On(day)
		}
		return nil
	})
}
