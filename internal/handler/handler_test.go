package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schoolattend/internal/apperr"
	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
	"schoolattend/internal/queue"
	"schoolattend/internal/session"
)

const (
	testKey    = "test-signing-key"
	testIssuer = "test-issuer"
)

type fakeSessions struct {
	createIn session.CreateInput
	createFn func(session.CreateInput) (model.Session, error)
	listF    session.Filter
	updateIn session.UpdateInput
	genReq   session.RecurrenceRequest
	genRes   session.ScheduleResult
	err      error
}

func (f *fakeSessions) Create(_ context.Context, _ auth.Actor, in session.CreateInput) (model.Session, error) {
	f.createIn = in
	if f.createFn != nil {
		return f.createFn(in)
	}
	return model.Session{ID: "new", Status: model.SessionScheduled}, f.err
}

func (f *fakeSessions) Get(_ context.Context, _ auth.Actor, id string) (model.Session, error) {
	return model.Session{ID: id}, f.err
}

func (f *fakeSessions) List(_ context.Context, _ auth.Actor, fl session.Filter) ([]model.Session, error) {
	f.listF = fl
	return []model.Session{}, f.err
}

func (f *fakeSessions) Update(_ context.Context, _ auth.Actor, id string, in session.UpdateInput) (model.Session, error) {
	f.updateIn = in
	return model.Session{ID: id}, f.err
}

func (f *fakeSessions) GenerateSchedule(_ context.Context, _ auth.Actor, req session.RecurrenceRequest) (session.ScheduleResult, error) {
	f.genReq = req
	return f.genRes, f.err
}

type fakeRecorder struct {
	sessionID string
	entries   []attendance.Entry
	res       attendance.Result
	err       error
}

func (f *fakeRecorder) Record(_ context.Context, _ auth.Actor, id string, entries []attendance.Entry) (attendance.Result, error) {
	f.sessionID, f.entries = id, entries
	return f.res, f.err
}

type fakeQueries struct{ f attendance.Filter }

func (q *fakeQueries) List(_ context.Context, _ auth.Actor, f attendance.Filter) ([]model.Attendance, error) {
	q.f = f
	return []model.Attendance{}, nil
}

type fakeSummaries struct{}

func (fakeSummaries) Summary(_ context.Context, actor auth.Actor, studentID, courseID, _ string) (attendance.Summary, error) {
	if actor.IsStudent() && actor.ID != studentID {
		return attendance.Summary{}, apperr.Forbidden("students can only view their own attendance")
	}
	return attendance.Summary{StudentID: studentID, CourseID: courseID, TotalSessions: 10, Percentage: 80}, nil
}

type rig struct {
	router   *gin.Engine
	sessions *fakeSessions
	recorder *fakeRecorder
	queries  *fakeQueries
	events   *queue.InMemory
}

func newRig() *rig {
	gin.SetMode(gin.TestMode)
	r := &rig{
		sessions: &fakeSessions{},
		recorder: &fakeRecorder{},
		queries:  &fakeQueries{},
		events:   queue.NewInMemory(8),
	}
	h := New(r.sessions, r.recorder, r.queries, fakeSummaries{}, r.events, nil)
	r.router = gin.New()
	h.Register(r.router.Group("/", auth.Authenticate(testKey, testIssuer)))
	return r
}

func token(t *testing.T, sub string, role auth.Role) string {
	tok, _, err := auth.Issue(sub, role, testIssuer, testKey, time.Minute)
	require.NoError(t, err)
	return tok
}

func (r *rig) do(t *testing.T, method, path, tok string, body any) (int, map[string]any) {
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	out := map[string]any{}
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func errorBody(t *testing.T, out map[string]any) map[string]any {
	e, ok := out["error"].(map[string]any)
	require.True(t, ok, "missing error body: %v", out)
	return e
}

var (
	teacherID = uuid.NewString()
	sectionID = uuid.NewString()
	sessionID = uuid.NewString()
)

func validSession() map[string]any {
	return map[string]any{
		"classSectionId": sectionID,
		"teacherId":      teacherID,
		"sessionDate":    "2024-01-08",
		"startTime":      "09:00",
		"endTime":        "10:00",
		"sessionType":    "LECTURE",
	}
}

func TestRequiresBearerToken(t *testing.T) {
	r := newRig()
	code, out := r.do(t, http.MethodGet, "/attendance-sessions", "", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", errorBody(t, out)["code"])

	code, _ = r.do(t, http.MethodGet, "/attendance-sessions", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCreateSessionParsesBody(t *testing.T) {
	r := newRig()
	code, out := r.do(t, http.MethodPost, "/attendance-sessions", token(t, teacherID, auth.RoleTeacher), validSession())
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "new", out["id"])

	in := r.sessions.createIn
	assert.Equal(t, sectionID, in.ClassSectionID)
	assert.Equal(t, time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC), in.SessionDate)
	assert.Equal(t, 9, in.Start.Hour)
	assert.Equal(t, 10, in.End.Hour)
	assert.Equal(t, model.SessionLecture, in.SessionType)
}

func TestCreateSessionRejectsBadBodies(t *testing.T) {
	r := newRig()
	tok := token(t, teacherID, auth.RoleTeacher)

	unknown := validSession()
	unknown["room"] = "B12"
	code, out := r.do(t, http.MethodPost, "/attendance-sessions", tok, unknown)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorBody(t, out)["fields"], "room")

	badClock := validSession()
	badClock["startTime"] = "9am"
	code, out = r.do(t, http.MethodPost, "/attendance-sessions", tok, badClock)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorBody(t, out)["fields"], "startTime")

	missing := validSession()
	delete(missing, "teacherId")
	code, out = r.do(t, http.MethodPost, "/attendance-sessions", tok, missing)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION", errorBody(t, out)["code"])

	code, _ = r.do(t, http.MethodPost, "/attendance-sessions", tok, "{")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.Forbidden("no"), http.StatusForbidden, "FORBIDDEN"},
		{apperr.NotFound("class section", sectionID), http.StatusNotFound, "NOT_FOUND"},
		{apperr.Conflict("sess-9"), http.StatusConflict, "SCHEDULING_CONFLICT"},
		{apperr.Field("startTime", "must be before endTime"), http.StatusBadRequest, "VALIDATION"},
		{errors.New("connection reset"), http.StatusInternalServerError, "INTERNAL"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			r := newRig()
			r.sessions.err = tc.err
			code, out := r.do(t, http.MethodPost, "/attendance-sessions", token(t, teacherID, auth.RoleTeacher), validSession())
			assert.Equal(t, tc.status, code)
			body := errorBody(t, out)
			assert.Equal(t, tc.code, body["code"])
			if tc.code == "SCHEDULING_CONFLICT" {
				assert.Equal(t, "sess-9", body["conflictSessionId"])
			}
			if tc.code == "INTERNAL" {
				assert.Equal(t, "internal error", body["message"])
			}
		})
	}
}

func TestListSessionsFilters(t *testing.T) {
	r := newRig()
	path := "/attendance-sessions?teacherId=" + teacherID + "&status=COMPLETED&fromDate=2024-01-01&toDate=2024-01-31&limit=20"
	code, out := r.do(t, http.MethodGet, path, token(t, teacherID, auth.RoleTeacher), nil)
	require.Equal(t, http.StatusOK, code, out)
	f := r.sessions.listF
	assert.Equal(t, teacherID, f.TeacherID)
	assert.Equal(t, model.SessionCompleted, f.Status)
	require.NotNil(t, f.From)
	assert.Equal(t, 31, f.To.Day())
	assert.Equal(t, 20, f.Limit)

	code, _ = r.do(t, http.MethodGet, "/attendance-sessions?fromDate=01/01/2024", token(t, teacherID, auth.RoleTeacher), nil)
	assert.Equal(t, http.StatusBadRequest, code)
	code, _ = r.do(t, http.MethodGet, "/attendance-sessions?status=DONE", token(t, teacherID, auth.RoleTeacher), nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateSessionPartialBody(t *testing.T) {
	r := newRig()
	body := map[string]any{"status": "CANCELLED"}
	code, _ := r.do(t, http.MethodPut, "/attendance-sessions/"+sessionID, token(t, teacherID, auth.RoleTeacher), body)
	require.Equal(t, http.StatusOK, code)
	require.NotNil(t, r.sessions.updateIn.Status)
	assert.Equal(t, model.SessionCancelled, *r.sessions.updateIn.Status)
	assert.Nil(t, r.sessions.updateIn.Start)
	assert.Nil(t, r.sessions.updateIn.SessionDate)
}

func TestGenerateScheduleAdminOnly(t *testing.T) {
	r := newRig()
	body := map[string]any{
		"teacherId":      teacherID,
		"courseId":       uuid.NewString(),
		"classSectionId": sectionID,
		"semesterId":     uuid.NewString(),
		"days":           []int{1, 3},
		"startTime":      "09:00",
		"endTime":        "10:00",
	}
	code, _ := r.do(t, http.MethodPost, "/teacher-course-sections", token(t, teacherID, auth.RoleTeacher), body)
	assert.Equal(t, http.StatusForbidden, code)

	r.sessions.genRes = session.ScheduleResult{
		Relation:          model.TeacherCourseSection{ID: "rel-1", TeacherID: teacherID},
		SessionsGenerated: 3,
		SkippedDates:      []session.SkippedDate{{Date: time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC), ConflictSessionID: "sess-1"}},
	}
	code, out := r.do(t, http.MethodPost, "/teacher-course-sections", token(t, "admin-1", auth.RoleAdmin), body)
	require.Equal(t, http.StatusCreated, code, out)
	assert.EqualValues(t, 3, out["sessionsGenerated"])
	assert.Len(t, out["skippedDates"], 1)
	assert.Equal(t, []int{1, 3}, r.sessions.genReq.Days)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := r.events.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, queue.TypeScheduleGenerated, msg.Type)
	var evt queue.ScheduleGenerated
	require.NoError(t, json.Unmarshal(msg.Body, &evt))
	assert.Equal(t, []string{"2024-01-03"}, evt.SkippedDates)
}

func TestRecordAttendance(t *testing.T) {
	r := newRig()
	s1, s2 := uuid.NewString(), uuid.NewString()
	r.recorder.res = attendance.Result{
		SessionID:     sessionID,
		SessionStatus: model.SessionCompleted,
		Records:       []attendance.Record{{Attendance: model.Attendance{StudentID: s1, Status: model.AttendancePresent}, Created: true}},
		Completed:     true,
		Session:       attendance.LockedSession{ID: sessionID, SessionDate: time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)},
	}
	body := map[string]any{
		"attendanceSessionId": sessionID,
		"records": []map[string]any{
			{"studentId": s1, "status": "PRESENT"},
			{"studentId": s2, "status": "LATE", "remarks": "bus"},
		},
	}
	code, out := r.do(t, http.MethodPost, "/attendance", token(t, teacherID, auth.RoleTeacher), body)
	require.Equal(t, http.StatusCreated, code, out)
	assert.Equal(t, "COMPLETED", out["sessionStatus"])
	require.Len(t, r.recorder.entries, 2)
	assert.Equal(t, model.AttendanceLate, r.recorder.entries[1].Status)
	require.NotNil(t, r.recorder.entries[1].Remarks)
	assert.Equal(t, "bus", *r.recorder.entries[1].Remarks)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ch, err := r.events.Consume(ctx)
	require.NoError(t, err)
	msg := <-ch
	assert.Equal(t, queue.TypeSessionCompleted, msg.Type)
}

func TestRecordAttendanceErrors(t *testing.T) {
	r := newRig()
	tok := token(t, teacherID, auth.RoleTeacher)

	code, out := r.do(t, http.MethodPost, "/attendance", tok, map[string]any{"attendanceSessionId": sessionID, "records": []any{}})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, errorBody(t, out)["fields"], "records")

	code, _ = r.do(t, http.MethodPost, "/attendance", tok, map[string]any{
		"attendanceSessionId": sessionID,
		"records":             []map[string]any{{"studentId": uuid.NewString(), "status": "SICK"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)

	ghost := uuid.NewString()
	r.recorder.err = apperr.InvalidEnrollment([]string{ghost})
	code, out = r.do(t, http.MethodPost, "/attendance", tok, map[string]any{
		"attendanceSessionId": sessionID,
		"records":             []map[string]any{{"studentId": ghost, "status": "PRESENT"}},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, code)
	assert.Equal(t, []any{ghost}, errorBody(t, out)["studentIds"])

	r.recorder.err = apperr.SessionLocked("session is COMPLETED")
	code, out = r.do(t, http.MethodPost, "/attendance", tok, map[string]any{
		"attendanceSessionId": sessionID,
		"records":             []map[string]any{{"studentId": ghost, "status": "PRESENT"}},
	})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "SESSION_LOCKED", errorBody(t, out)["code"])
}

func TestListAttendanceAndSummary(t *testing.T) {
	r := newRig()
	studentID := uuid.NewString()
	stok := token(t, studentID, auth.RoleStudent)

	code, _ := r.do(t, http.MethodGet, "/attendance?attendanceSessionId="+sessionID+"&fromDate=2024-01-01", stok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, sessionID, r.queries.f.SessionID)
	require.NotNil(t, r.queries.f.From)

	code, out := r.do(t, http.MethodGet, "/students/"+studentID+"/courses/course-1/attendance", stok, nil)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 80, out["percentage"])

	code, _ = r.do(t, http.MethodGet, "/students/"+uuid.NewString()+"/courses/course-1/attendance", stok, nil)
	assert.Equal(t, http.StatusForbidden, code)
}
