package attendance

import (
	"context"
	"time"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
)

// Filter narrows attendance listings. Dates apply to the session date and are inclusive.
type Filter struct {
	SessionID      string
	StudentID      string
	ClassSectionID string
	TeacherID      string
	From           *time.Time
	To             *time.Time
	Limit          int
	Offset         int
}

// Lister reads stored attendance rows.
type Lister interface {
	List(ctx context.Context, f Filter) ([]model.Attendance, error)
}

// Service answers attendance queries with role scoping applied.
type Service struct {
	repo Lister
}

// NewService creates a service backed by a repository.
func NewService(repo Lister) *Service {
	return &Service{repo: repo}
}

// List returns attendance rows visible to the actor. Students only see their own rows and
// teachers only rows of sessions they teach.
func (s *Service) List(ctx context.Context, actor auth.Actor, f Filter) ([]model.Attendance, error) {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return nil, apperr.Field("toDate", "must not be before fromDate")
	}
	switch {
	case actor.IsStudent():
		if f.StudentID != "" && f.StudentID != actor.ID {
			return nil, apperr.Forbidden("students can only view their own attendance")
		}
		f.StudentID = actor.ID
	case actor.IsTeacher():
		f.TeacherID = actor.ID
	}
	return s.repo.List(ctx, f)
}
