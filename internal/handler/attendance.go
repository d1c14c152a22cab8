package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/attendance"
	"schoolattend/internal/model"
	"schoolattend/internal/queue"
)

// ---------- Attendance ----------

type recordEntry struct {
	StudentID string  `json:"studentId" binding:"required,uuid"`
	Status    string  `json:"status" binding:"required,oneof=PRESENT ABSENT LATE EXCUSED"`
	Remarks   *string `json:"remarks"`
}

type recordRequest struct {
	AttendanceSessionID string        `json:"attendanceSessionId" binding:"required,uuid"`
	Records             []recordEntry `json:"records" binding:"required,min=1,dive"`
}

// RecordAttendance handles POST /attendance.
func (h *Handler) RecordAttendance(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var req recordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, bindError(err))
		return
	}
	entries := make([]attendance.Entry, 0, len(req.Records))
	for _, r := range req.Records {
		entries = append(entries, attendance.Entry{
			StudentID: r.StudentID,
			Status:    model.AttendanceStatus(r.Status),
			Remarks:   r.Remarks,
		})
	}

	res, err := h.recorder.Record(c.Request.Context(), actor, req.AttendanceSessionID, entries)
	if err != nil {
		h.fail(c, err)
		return
	}
	if res.Completed {
		h.publish(c, queue.TypeSessionCompleted, queue.SessionCompleted{
			SessionID:      res.SessionID,
			ClassSectionID: res.Session.ClassSectionID,
			TeacherID:      res.Session.TeacherID,
			SessionDate:    res.Session.SessionDate.Format(time.DateOnly),
			CompletedBy:    actor.ID,
		})
	}
	c.JSON(http.StatusCreated, res)
}

type listAttendanceQuery struct {
	AttendanceSessionID string `form:"attendanceSessionId" binding:"omitempty,uuid"`
	StudentID           string `form:"studentId" binding:"omitempty,uuid"`
	ClassSectionID      string `form:"classSectionId" binding:"omitempty,uuid"`
}

// ListAttendance handles GET /attendance.
func (h *Handler) ListAttendance(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	var q listAttendanceQuery
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
	rows, err := h.queries.List(c.Request.Context(), actor, attendance.Filter{
		SessionID:      q.AttendanceSessionID,
		StudentID:      q.StudentID,
		ClassSectionID: q.ClassSectionID,
		From:           from,
		To:             to,
		Limit:          limit,
		Offset:         offset,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": rows})
}

// StudentSummary handles GET /students/:id/courses/:courseId/attendance.
func (h *Handler) StudentSummary(c *gin.Context) {
	actor, ok := h.actor(c)
	if !ok {
		return
	}
	sum, err := h.summaries.Summary(c.Request.Context(), actor, c.Param("id"), c.Param("courseId"), c.Query("classSectionId"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusOK, sum)
}
