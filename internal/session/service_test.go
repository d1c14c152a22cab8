package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
)

var (
	admin    = auth.Actor{ID: "admin-1", Role: auth.RoleAdmin}
	teacher  = auth.Actor{ID: "teacher-1", Role: auth.RoleTeacher}
	intruder = auth.Actor{ID: "teacher-2", Role: auth.RoleTeacher}
	student  = auth.Actor{ID: "student-1", Role: auth.RoleStudent}
)

func day(s string) time.Time {
	d, err := schedule.ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

func fixture(now string) (*Service, *memStore) {
	m := newMemStore()
	m.teachers["teacher-1"] = true
	m.teachers["teacher-2"] = true
	m.semesters["sem-1"] = model.Semester{ID: "sem-1", Name: "Spring", StartDate: day("2024-01-01"), EndDate: day("2024-01-10")}
	m.sections["cs-1"] = model.ClassSection{ID: "cs-1", InstitutionID: "inst-1", TeacherID: "teacher-1", CourseID: "course-1", SemesterID: "sem-1"}
	m.sections["cs-2"] = model.ClassSection{ID: "cs-2", InstitutionID: "inst-1", TeacherID: "teacher-1", CourseID: "course-2", SemesterID: "sem-1"}
	m.enrolled["student-1|cs-1"] = true

	svc := NewService(m, time.UTC, nil)
	svc.now = func() time.Time { return day(now).Add(8 * time.Hour) }
	return svc, m
}

func monWed() RecurrenceRequest {
	return RecurrenceRequest{
		TeacherID:      "teacher-1",
		CourseID:       "course-1",
		ClassSectionID: "cs-1",
		SemesterID:     "sem-1",
		Days:           []int{1, 3},
		Start:          schedule.Clock{Hour: 9},
		End:            schedule.Clock{Hour: 10},
	}
}

func manual(date string, startHour, endHour int) CreateInput {
	return CreateInput{
		ClassSectionID: "cs-2",
		TeacherID:      "teacher-1",
		SessionDate:    day(date),
		Start:          schedule.Clock{Hour: startHour},
		End:            schedule.Clock{Hour: endHour},
	}
}

func TestGenerateScheduleMondayWednesday(t *testing.T) {
	svc, m := fixture("2023-12-15")

	res, err := svc.GenerateSchedule(context.Background(), admin, monWed())
	require.NoError(t, err)

	assert.Equal(t, 4, res.SessionsGenerated)
	assert.Empty(t, res.SkippedDates)
	assert.Equal(t, []int{1, 3}, res.Relation.Days)
	assert.Equal(t, "09:00:00", res.Relation.StartTime)

	var dates []string
	for _, s := range m.sessions {
		dates = append(dates, s.SessionDate.Format(time.DateOnly))
		assert.Equal(t, model.SessionScheduled, s.Status)
		assert.Equal(t, model.SessionClass, s.SessionType)
		assert.Equal(t, 9, s.StartTime.Hour())
		assert.Equal(t, "inst-1", s.InstitutionID)
	}
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10"}, dates)
}

func TestGenerateScheduleSkipsBookedDates(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()

	existing, err := svc.Create(ctx, teacher, manual("2024-01-03", 9, 11))
	require.NoError(t, err)

	res, err := svc.GenerateSchedule(ctx, admin, monWed())
	require.NoError(t, err)
	assert.Equal(t, 3, res.SessionsGenerated)
	require.Len(t, res.SkippedDates, 1)
	assert.Equal(t, day("2024-01-03"), res.SkippedDates[0].Date)
	assert.Equal(t, existing.ID, res.SkippedDates[0].ConflictSessionID)
}

func TestGenerateScheduleStartsToday(t *testing.T) {
	svc, _ := fixture("2024-01-04")
	res, err := svc.GenerateSchedule(context.Background(), admin, monWed())
	require.NoError(t, err)
	assert.Equal(t, 2, res.SessionsGenerated)
}

func TestGenerateScheduleRejections(t *testing.T) {
	ctx := context.Background()

	svc, _ := fixture("2023-12-15")
	_, err := svc.GenerateSchedule(ctx, teacher, monWed())
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	bad := monWed()
	bad.Days = []int{7}
	_, err = svc.GenerateSchedule(ctx, admin, bad)
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidRecurrence, apperr.As(err).Code)

	missing := monWed()
	missing.SemesterID = "sem-x"
	_, err = svc.GenerateSchedule(ctx, admin, missing)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	mismatch := monWed()
	mismatch.CourseID = "course-2"
	_, err = svc.GenerateSchedule(ctx, admin, mismatch)
	require.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, apperr.As(err).Fields, "courseId")

	ended, _ := fixture("2024-02-01")
	_, err = ended.GenerateSchedule(ctx, admin, monWed())
	require.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, err.Error(), "semester has ended")

	_, err = svc.GenerateSchedule(ctx, admin, monWed())
	require.NoError(t, err)
	_, err = svc.GenerateSchedule(ctx, admin, monWed())
	assert.True(t, apperr.Is(err, apperr.KindValidation), "relation already exists")
}

func TestCreateValidation(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()

	_, err := svc.Create(ctx, teacher, manual("2024-01-02", 10, 10))
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Create(ctx, intruder, manual("2024-01-02", 9, 10))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = svc.Create(ctx, student, manual("2024-01-02", 9, 10))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	in := manual("2024-01-02", 9, 10)
	in.ClassSectionID = "cs-missing"
	_, err = svc.Create(ctx, teacher, in)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	in = manual("2024-01-02", 9, 10)
	in.TeacherID = "teacher-missing"
	_, err = svc.Create(ctx, admin, in)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	in = manual("2024-01-02", 9, 10)
	in.Status = model.SessionCompleted
	_, err = svc.Create(ctx, teacher, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateConflicts(t *testing.T) {
	svc, m := fixture("2023-12-15")
	ctx := context.Background()

	first, err := svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	require.NoError(t, err)
	assert.Equal(t, model.SessionScheduled, first.Status)

	_, err = svc.Create(ctx, teacher, manual("2024-01-02", 9, 11))
	require.True(t, apperr.Is(err, apperr.KindSchedulingConflict))
	assert.Equal(t, first.ID, apperr.As(err).ConflictSessionID)

	_, err = svc.Create(ctx, teacher, manual("2024-01-02", 10, 11))
	assert.NoError(t, err, "back to back sessions do not overlap")
	assert.Len(t, m.sessions, 2)
}

func TestCancelledSessionsFreeTheSlot(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()

	first, err := svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	require.NoError(t, err)
	cancelled := model.SessionCancelled
	_, err = svc.Update(ctx, teacher, first.ID, UpdateInput{Status: &cancelled})
	require.NoError(t, err)

	_, err = svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	assert.NoError(t, err)
}

func TestUpdateReschedule(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()

	a, err := svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	require.NoError(t, err)
	b, err := svc.Create(ctx, teacher, manual("2024-01-02", 11, 12))
	require.NoError(t, err)

	start := schedule.Clock{Hour: 9, Minute: 30}
	_, err = svc.Update(ctx, teacher, b.ID, UpdateInput{Start: &start})
	require.True(t, apperr.Is(err, apperr.KindSchedulingConflict))
	assert.Equal(t, a.ID, apperr.As(err).ConflictSessionID)

	start = schedule.Clock{Hour: 9, Minute: 15}
	moved, err := svc.Update(ctx, teacher, a.ID, UpdateInput{Start: &start})
	require.NoError(t, err, "a session never conflicts with itself")
	assert.Equal(t, 15, moved.StartTime.Minute())

	end := schedule.Clock{Hour: 8}
	_, err = svc.Update(ctx, teacher, a.ID, UpdateInput{End: &end})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	newDay := day("2024-01-05")
	moved, err = svc.Update(ctx, teacher, b.ID, UpdateInput{SessionDate: &newDay})
	require.NoError(t, err)
	assert.Equal(t, newDay, moved.SessionDate)
	assert.Equal(t, 5, moved.StartTime.Day())
	assert.Equal(t, 11, moved.StartTime.Hour())
}

func TestUpdateStatusTransitions(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()

	s, err := svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	require.NoError(t, err)

	_, err = svc.Update(ctx, intruder, s.ID, UpdateInput{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	completed := model.SessionCompleted
	_, err = svc.Update(ctx, teacher, s.ID, UpdateInput{Status: &completed})
	require.NoError(t, err)

	scheduled := model.SessionScheduled
	_, err = svc.Update(ctx, teacher, s.ID, UpdateInput{Status: &scheduled})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	start := schedule.Clock{Hour: 13}
	_, err = svc.Update(ctx, admin, s.ID, UpdateInput{Start: &start})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "terminal sessions cannot move")

	_, err = svc.Update(ctx, teacher, "missing", UpdateInput{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestListScopesStudents(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()
	_, err := svc.GenerateSchedule(ctx, admin, monWed())
	require.NoError(t, err)

	_, err = svc.List(ctx, student, Filter{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.List(ctx, student, Filter{ClassSectionID: "cs-2"})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	got, err := svc.List(ctx, student, Filter{ClassSectionID: "cs-1"})
	require.NoError(t, err)
	assert.Len(t, got, 4)

	from, to := day("2024-01-03"), day("2024-01-08")
	got, err = svc.List(ctx, teacher, Filter{TeacherID: "teacher-1", From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = svc.List(ctx, teacher, Filter{From: &to, To: &from})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = svc.Get(ctx, student, got[0].ID)
	assert.NoError(t, err)
}

func TestGetScopesStudents(t *testing.T) {
	svc, _ := fixture("2023-12-15")
	ctx := context.Background()
	other, err := svc.Create(ctx, teacher, manual("2024-01-02", 9, 10))
	require.NoError(t, err)

	_, err = svc.Get(ctx, student, other.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	got, err := svc.Get(ctx, admin, other.ID)
	require.NoError(t, err)
	assert.Equal(t, "cs-2", got.ClassSectionID)

	_, err = svc.Get(ctx, admin, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
