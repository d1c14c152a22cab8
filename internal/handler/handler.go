// Package handler exposes the scheduling and attendance services over HTTP.
package handler

import (
	"context"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"schoolattend/internal/apperr"
	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/model"
	"schoolattend/internal/queue"
	"schoolattend/internal/schedule"
	"schoolattend/internal/session"
)

// Sessions is the session service surface used by the handlers.
type Sessions interface {
	Create(ctx context.Context, actor auth.Actor, in session.CreateInput) (model.Session, error)
	Get(ctx context.Context, actor auth.Actor, id string) (model.Session, error)
	List(ctx context.Context, actor auth.Actor, f session.Filter) ([]model.Session, error)
	Update(ctx context.Context, actor auth.Actor, id string, in session.UpdateInput) (model.Session, error)
	GenerateSchedule(ctx context.Context, actor auth.Actor, req session.RecurrenceRequest) (session.ScheduleResult, error)
}

// Recorder writes attendance rosters.
type Recorder interface {
	Record(ctx context.Context, actor auth.Actor, sessionID string, entries []attendance.Entry) (attendance.Result, error)
}

// AttendanceQueries answers attendance reads.
type AttendanceQueries interface {
	List(ctx context.Context, actor auth.Actor, f attendance.Filter) ([]model.Attendance, error)
}

// Summaries computes per-student statistics.
type Summaries interface {
	Summary(ctx context.Context, actor auth.Actor, studentID, courseID, classSectionID string) (attendance.Summary, error)
}

type Handler struct {
	sessions  Sessions
	recorder  Recorder
	queries   AttendanceQueries
	summaries Summaries
	events    queue.Queue // nil disables event publishing
	log       *zap.Logger
}

func New(sessions Sessions, recorder Recorder, queries AttendanceQueries, summaries Summaries, events queue.Queue, log *zap.Logger) *Handler {
	setupBinding()
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{sessions: sessions, recorder: recorder, queries: queries, summaries: summaries, events: events, log: log}
}

// Register mounts every authenticated route on rg.
func (h *Handler) Register(rg gin.IRoutes) {
	rg.POST("/attendance-sessions", h.CreateSession)
	rg.GET("/attendance-sessions", h.ListSessions)
	rg.GET("/attendance-sessions/:id", h.GetSession)
	rg.PUT("/attendance-sessions/:id", h.UpdateSession)
	rg.POST("/attendance", h.RecordAttendance)
	rg.GET("/attendance", h.ListAttendance)
	rg.GET("/students/:id/courses/:courseId/attendance", h.StudentSummary)
	rg.POST("/teacher-course-sections", auth.RequireRole(auth.RoleAdmin), h.GenerateSchedule)
}

// fail writes the error body for err. Internal errors are logged and reported generically.
func (h *Handler) fail(c *gin.Context, err error) {
	e := apperr.As(err)
	if e.Kind == apperr.KindInternal {
		h.log.Error("request failed",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		_ = c.Error(err)
	}
	body := gin.H{"code": e.Code, "message": e.Message}
	if e.Kind == apperr.KindInternal {
		body["message"] = "internal error"
	}
	if len(e.Fields) > 0 {
		body["fields"] = e.Fields
	}
	if e.ConflictSessionID != "" {
		body["conflictSessionId"] = e.ConflictSessionID
	}
	if len(e.StudentIDs) > 0 {
		body["studentIds"] = e.StudentIDs
	}
	c.AbortWithStatusJSON(apperr.Status(e.Kind), gin.H{"error": body})
}

func (h *Handler) actor(c *gin.Context) (auth.Actor, bool) {
	a, ok := auth.ActorFrom(c)
	if !ok {
		h.fail(c, apperr.Unauthorized("not authenticated"))
	}
	return a, ok
}

// publish enqueues an event after the write committed. Failures are logged, not returned:
// the write already succeeded.
func (h *Handler) publish(c *gin.Context, typ string, payload any) {
	if h.events == nil {
		return
	}
	msg, err := queue.NewMessage(typ, payload)
	if err == nil {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request.Context()), 2*time.Second)
		defer cancel()
		err = h.events.Publish(ctx, msg)
	}
	if err != nil {
		h.log.Warn("event publish failed", zap.String("type", typ), zap.Error(err))
	}
}

// ---------- query helpers ----------

func optionalDate(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	d, err := schedule.ParseDate(v)
	if err != nil {
		return nil, apperr.Field(name, "must be a date YYYY-MM-DD")
	}
	return &d, nil
}

func paging(c *gin.Context) (limit, offset int, err error) {
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, apperr.Field("limit", "must be a non-negative integer")
		}
	}
	if v := c.Query("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, apperr.Field("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
