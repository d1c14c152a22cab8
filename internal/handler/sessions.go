package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/model"
	"schoolattend/internal/queue"
	"schoolattend/internal/schedule"
	"schoolattend/internal/session"
)

// ---------- Sessions ----------

type createSessionRequest struct {
	ClassSectionID string `json:"classSectionId" binding:"required,uuid"`
	TeacherID      string `json:"teacherId" binding:"required,uuid"`
	SessionDate    string `json:"sessionDate" binding:"required,date"`
	StartTime      string `json:"startTime" binding:"required,clock"`
	EndTime        string `json:"endTime" binding:"required,clock"`
	SessionType    string `json:"sessionType" binding:"omitempty,oneof=LECTURE LAB TUTORIAL CLASS"`
	Status         string `json:"status" binding:"omitempty,oneof=SCHEDULED IN_PROGRESS"`
}

// CreateSession handles POST /attendance-sessions.
func (h *Handler) CreateSession(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req createSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	// the binding tags already validated the formats
	date, _ := schedule.ParseDate(req.SessionDate)
	start, _ := schedule.ParseClock(req.StartTime)
	end, _ := schedule.ParseClock(req.EndTime)

	sess, err := h.sessions.Create(c.Request.Context(), actor, session.CreateInput{
		ClassSectionID: req.ClassSectionID,
		TeacherID:      req.TeacherID,
		SessionDate:    date,
		Start:          start,
		End:            end,
		SessionType:    model.SessionType(req.SessionType),
		Status:         model.SessionStatus(req.Status),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

type listSessionsQuery struct {
	TeacherID      string `form:"teacherId" binding:"omitempty,uuid"`
	ClassSectionID string `form:"classSectionId" binding:"omitempty,uuid"`
	Status         string `form:"status" binding:"omitempty,oneof=SCHEDULED IN_PROGRESS COMPLETED CANCELLED"`
}

// ListSessions handles GET /attendance-sessions.
func (h *Handler) ListSessions(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var q listSessionsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		h.fail(c, bindError(err))
		return
	}
	from, err := optionalDate(c, "fromDate")
	if err != nil {
		h.fail(c, err)
		return
	}
	to, err := optionalDate(c, "toDate")
	if err != nil {
		h.fail(c, err)
		return
	}
	limit, offset, err := paging(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	sessions, err := h.sessions.List(c.Request.Context(), actor, session.Filter{
		TeacherID:      q.TeacherID,
		ClassSectionID: q.ClassSectionID,
		Status:         model.SessionStatus(q.Status),
		From:           from,
		To:             to,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// GetSession handles GET /attendance-sessions/:id.
func (h *Handler) GetSession(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	sess, err := h.sessions.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

type updateSessionRequest struct {
	Status      *string `json:"status" binding:"omitempty,oneof=SCHEDULED IN_PROGRESS COMPLETED CANCELLED"`
	SessionDate *string `json:"sessionDate" binding:"omitempty,date"`
	StartTime   *string `json:"startTime" binding:"omitempty,clock"`
	EndTime     *string `json:"endTime" binding:"omitempty,clock"`
	SessionType *string `json:"sessionType" binding:"omitempty,oneof=LECTURE LAB TUTORIAL CLASS"`
}

// UpdateSession handles PUT /attendance-sessions/:id.
func (h *Handler) UpdateSession(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req updateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}

	var in session.UpdateInput
	if req.Status != nil {
		st := model.SessionStatus(*req.Status)
		in.Status = &st
	}
	if req.SessionType != nil {
		tp := model.SessionType(*req.SessionType)
		in.SessionType = &tp
	}
	if req.SessionDate != nil {
		d, _ := schedule.ParseDate(*req.SessionDate)
		in.SessionDate = &d
	}
	if req.StartTime != nil {
		clk, _ := schedule.ParseClock(*req.StartTime)
		in.Start = &clk
	}
	if req.EndTime != nil {
		clk, _ := schedule.ParseClock(*req.EndTime)
		in.End = &clk
	}

	sess, err := h.sessions.Update(c.Request.Context(), actor, c.Param("id"), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

// ---------- Schedule generation ----------

type generateScheduleRequest struct {
	TeacherID      string `json:"teacherId" binding:"required,uuid"`
	CourseID       string `json:"courseId" binding:"required,uuid"`
	ClassSectionID string `json:"classSectionId" binding:"required,uuid"`
	SemesterID     string `json:"semesterId" binding:"required,uuid"`
	Days           []int  `json:"days" binding:"required"`
	StartTime      string `json:"startTime" binding:"required,clock"`
	EndTime        string `json:"endTime" binding:"required,clock"`
	SessionType    string `json:"sessionType" binding:"omitempty,oneof=LECTURE LAB TUTORIAL CLASS"`
}

// GenerateSchedule handles POST /teacher-course-sections.
func (h *Handler) GenerateSchedule(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req generateScheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	start, _ := schedule.ParseClock(req.StartTime)
	end, _ := schedule.ParseClock(req.EndTime)

	res, err := h.sessions.GenerateSchedule(c.Request.Context(), actor, session.RecurrenceRequest{
		TeacherID:      req.TeacherID,
		CourseID:       req.CourseID,
		ClassSectionID: req.ClassSectionID,
		SemesterID:     req.SemesterID,
		Days:           req.Days,
		Start:          start,
		End:            end,
		SessionType:    model.SessionType(req.SessionType),
	})
	if err != nil {
		h.fail(c, err)
		return
	}

	skipped := make([]string, 0, len(res.SkippedDates))
	for _, s := range res.SkippedDates {
		skipped = append(skipped, s.Date.Format(time.DateOnly))
	}
	h.publish(c, queue.TypeScheduleGenerated, queue.ScheduleGenerated{
		RelationID:        res.Relation.ID,
		TeacherID:         res.Relation.TeacherID,
		ClassSectionID:    res.Relation.ClassSectionID,
		SemesterID:        res.Relation.SemesterID,
		SessionsGenerated: res.SessionsGenerated,
		SkippedDates:      skipped,
	})
	c.JSON(http.StatusCreated, res)
}
