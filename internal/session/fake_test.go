package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"schoolattend/internal/apperr"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
)

// memStore is an in-memory Store with the same conflict semantics as the Postgres repository.
type memStore struct {
	mu         sync.Mutex
	sections   map[string]model.ClassSection
	semesters  map[string]model.Semester
	teachers   map[string]bool
	enrolled   map[string]bool // studentID|sectionID
	sessions   []model.Session
	relations  map[string]bool // teacherID|sectionID
	nextID     int
	createErrs error
}

func newMemStore() *memStore {
	return &memStore{
		sections:  map[string]model.ClassSection{},
		semesters: map[string]model.Semester{},
		teachers:  map[string]bool{},
		enrolled:  map[string]bool{},
		relations: map[string]bool{},
	}
}

func (m *memStore) ClassSection(_ context.Context, id string) (model.ClassSection, error) {
	cs, ok := m.sections[id]
	if !ok {
		return model.ClassSection{}, apperr.NotFound("class section", id)
	}
	return cs, nil
}

func (m *memStore) Semester(_ context.Context, id string) (model.Semester, error) {
	sem, ok := m.semesters[id]
	if !ok {
		return model.Semester{}, apperr.NotFound("semester", id)
	}
	return sem, nil
}

func (m *memStore) TeacherExists(_ context.Context, id string) (bool, error) {
	return m.teachers[id], nil
}

func (m *memStore) IsEnrolled(_ context.Context, studentID, sectionID string) (bool, error) {
	return m.enrolled[studentID+"|"+sectionID], nil
}

func (m *memStore) Get(_ context.Context, id string) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			return s, nil
		}
	}
	return model.Session{}, apperr.NotFound("session", id)
}

func (m *memStore) List(_ context.Context, f Filter) ([]model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []model.Session{}
	for _, s := range m.sessions {
		if f.TeacherID != "" && s.TeacherID != f.TeacherID {
			continue
		}
		if f.ClassSectionID != "" && s.ClassSectionID != f.ClassSectionID {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		if f.From != nil && s.SessionDate.Before(*f.From) {
			continue
		}
		if f.To != nil && s.SessionDate.After(*f.To) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func (m *memStore) TeacherBookings(_ context.Context, teacherID string, date time.Time) ([]schedule.Booking, error) {
	var out []schedule.Booking
	for _, s := range m.sessions {
		if s.TeacherID == teacherID && s.SessionDate.Equal(date) && s.Status != model.SessionCancelled {
			out = append(out, schedule.Booking{SessionID: s.ID, Interval: schedule.Interval{Start: s.StartTime, End: s.EndTime}})
		}
	}
	return out, nil
}

func (m *memStore) create(ctx context.Context, sessions []model.Session, skip bool) (CreateResult, error) {
	res := CreateResult{Created: []model.Session{}, Skipped: []SkippedDate{}}
	staged := slices.Clone(m.sessions)
	checker := schedule.NewChecker(m)
	for _, s := range sessions {
		if err := checker.Check(ctx, s.TeacherID, schedule.Interval{Start: s.StartTime, End: s.EndTime}, ""); err != nil {
			if skip && apperr.Is(err, apperr.KindSchedulingConflict) {
				res.Skipped = append(res.Skipped, SkippedDate{Date: s.SessionDate, ConflictSessionID: apperr.As(err).ConflictSessionID})
				continue
			}
			m.sessions = staged
			return CreateResult{}, err
		}
		m.nextID++
		s.ID = fmt.Sprintf("sess-%d", m.nextID)
		m.sessions = append(m.sessions, s)
		res.Created = append(res.Created, s)
	}
	return res, nil
}

func (m *memStore) CreateSessions(ctx context.Context, sessions []model.Session, skip bool) (CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErrs != nil {
		return CreateResult{}, m.createErrs
	}
	return m.create(ctx, sessions, skip)
}

func (m *memStore) CreateSchedule(ctx context.Context, rel model.TeacherCourseSection, sessions []model.Session) (model.TeacherCourseSection, CreateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := rel.TeacherID + "|" + rel.ClassSectionID
	if m.relations[key] {
		return model.TeacherCourseSection{}, CreateResult{}, apperr.Validation("sessions were already generated for this teacher and class section", nil)
	}
	res, err := m.create(ctx, sessions, true)
	if err != nil {
		return model.TeacherCourseSection{}, CreateResult{}, err
	}
	m.relations[key] = true
	rel.ID = "rel-1"
	return rel, res, nil
}

func (m *memStore) Update(ctx context.Context, id string, fn func(*model.Session) error) (model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sessions {
		if s.ID != id {
			continue
		}
		before := s
		if err := fn(&s); err != nil {
			return model.Session{}, err
		}
		moved := !s.StartTime.Equal(before.StartTime) || !s.EndTime.Equal(before.EndTime)
		if moved && s.Status != model.SessionCancelled {
			if err := schedule.NewChecker(m).Check(ctx, s.TeacherID, schedule.Interval{Start: s.StartTime, End: s.EndTime}, s.ID); err != nil {
				return model.Session{}, err
			}
		}
		m.sessions[i] = s
		return s, nil
	}
	return model.Session{}, apperr.NotFound("session", id)
}
