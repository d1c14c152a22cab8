package attendance

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"schoolattend/internal/apperr"
	"schoolattend/internal/auth"
	"schoolattend/internal/metrics"
	"schoolattend/internal/model"
	"schoolattend/internal/schedule"
	"schoolattend/internal/session"
)

// LockedSession is the slice of a session row the recorder needs, read under a row lock.
type LockedSession struct {
	ID             string
	ClassSectionID string
	TeacherID      string
	InstitutionID  string
	SessionDate    time.Time
	Status         model.SessionStatus
}

// Tx is the work the recorder performs while the session row is locked.
type Tx interface {
	ActiveEnrollments(ctx context.Context, classSectionID string) (map[string]bool, error)
	// Upsert inserts or overwrites the (session, student) row and reports whether it was created.
	Upsert(ctx context.Context, a model.Attendance) (model.Attendance, bool, error)
	// CountRecorded counts actively enrolled students of the section with a row for the session.
	CountRecorded(ctx context.Context, sessionID, classSectionID string) (int, error)
	SetSessionStatus(ctx context.Context, sessionID string, status model.SessionStatus) error
}

// SessionLocker runs fn in a transaction holding the session row lock.
// Both methods fail with NotFound for an unknown session; WithSession commits only when fn
// returns nil.
type SessionLocker interface {
	// Institution reads the institution owning the session's class section without locking.
	Institution(ctx context.Context, sessionID string) (string, error)
	WithSession(ctx context.Context, sessionID string, fn func(tx Tx, sess LockedSession) error) error
}

// SettingsSource resolves an institution's attendance policy.
type SettingsSource interface {
	Get(ctx context.Context, institutionID string) (model.Settings, error)
}

// Entry is one student's mark in a submitted roster.
type Entry struct {
	StudentID string
	Status    model.AttendanceStatus
	Remarks   *string
}

// Record is a stored attendance row and whether this write created it.
type Record struct {
	model.Attendance
	Created bool `json:"created"`
}

// Result is the outcome of a roster submission.
type Result struct {
	SessionID     string              `json:"attendanceSessionId"`
	SessionStatus model.SessionStatus `json:"sessionStatus"`
	Records       []Record            `json:"records"`
	// Completed is true when this write moved the session to COMPLETED.
	Completed bool          `json:"-"`
	Session   LockedSession `json:"-"`
}

// Recorder writes rosters against sessions.
type Recorder struct {
	store    SessionLocker
	settings SettingsSource
	loc      *time.Location
	now      func() time.Time
	log      *zap.Logger
}

// NewRecorder builds a recorder. loc is the zone session times are expressed in.
func NewRecorder(store SessionLocker, settings SettingsSource, loc *time.Location, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{store: store, settings: settings, loc: loc, now: time.Now, log: log}
}

// Record validates and writes a roster in one transaction. Either every entry is written or
// none is. The session advances SCHEDULED -> IN_PROGRESS on the first write and to COMPLETED
// once every actively enrolled student has a row.
func (r *Recorder) Record(ctx context.Context, actor auth.Actor, sessionID string, entries []Entry) (Result, error) {
	if err := validateEntries(sessionID, entries); err != nil {
		r.reject(err)
		return Result{}, err
	}

	// Settings are resolved before the transaction: a cache miss reads Postgres and must not
	// wait for a second pool connection while the session row is locked.
	institutionID, err := r.store.Institution(ctx, sessionID)
	if err != nil {
		r.reject(err)
		return Result{}, err
	}
	policy, err := r.settings.Get(ctx, institutionID)
	if err != nil {
		r.reject(err)
		return Result{}, err
	}

	var res Result
	err = r.store.WithSession(ctx, sessionID, func(tx Tx, sess LockedSession) error {
		if !actor.CanActFor(sess.TeacherID) {
			return apperr.Forbidden("only the session's teacher or an administrator can record attendance")
		}
		if err := session.CheckRecordable(sess.Status); err != nil {
			return err
		}
		if policy.LockedAt(sess.SessionDate, schedule.WallClock(r.now(), r.loc)) {
			return apperr.SessionLocked("attendance for this session is locked")
		}
		if !policy.AllowExcusedAbsences {
			for _, e := range entries {
				if e.Status == model.AttendanceExcused {
					return apperr.Field("status", "EXCUSED is not allowed by the institution")
				}
			}
		}

		active, err := tx.ActiveEnrollments(ctx, sess.ClassSectionID)
		if err != nil {
			return err
		}
		if bad := notEnrolled(entries, active); len(bad) > 0 {
			return apperr.InvalidEnrollment(bad)
		}

		records := make([]Record, 0, len(entries))
		for _, e := range entries {
			row, created, err := tx.Upsert(ctx, model.Attendance{
				SessionID:  sess.ID,
				StudentID:  e.StudentID,
				Status:     e.Status,
				Remarks:    e.Remarks,
				RecordedBy: actor.ID,
			})
			if err != nil {
				return err
			}
			records = append(records, Record{Attendance: row, Created: created})
		}

		recorded, err := tx.CountRecorded(ctx, sess.ID, sess.ClassSectionID)
		if err != nil {
			return err
		}
		next := session.Next(sess.Status, session.WriteOutcome{
			Written:  len(records),
			Recorded: recorded,
			Enrolled: len(active),
		})
		if next != sess.Status {
			if err := tx.SetSessionStatus(ctx, sess.ID, next); err != nil {
				return err
			}
		}
		res = Result{
			SessionID:     sess.ID,
			SessionStatus: next,
			Records:       records,
			Completed:     next == model.SessionCompleted && sess.Status != model.SessionCompleted,
			Session:       sess,
		}
		return nil
	})
	if err != nil {
		r.reject(err)
		return Result{}, err
	}

	for _, rec := range res.Records {
		if rec.Created {
			metrics.AttendanceWrites.WithLabelValues("created").Inc()
		} else {
			metrics.AttendanceWrites.WithLabelValues("updated").Inc()
		}
	}
	if res.Completed {
		metrics.SessionsCompleted.Inc()
	}
	r.log.Info("attendance recorded",
		zap.String("session_id", res.SessionID),
		zap.String("actor", actor.ID),
		zap.Int("records", len(res.Records)),
		zap.String("session_status", string(res.SessionStatus)))
	return res, nil
}

func (r *Recorder) reject(err error) {
	metrics.RecordRejections.WithLabelValues(strings.ToLower(string(apperr.As(err).Kind))).Inc()
}

func validateEntries(sessionID string, entries []Entry) error {
	if strings.TrimSpace(sessionID) == "" {
		return apperr.Field("attendanceSessionId", "is required")
	}
	if len(entries) == 0 {
		return apperr.Field("records", "must not be empty")
	}
	for _, e := range entries {
		if strings.TrimSpace(e.StudentID) == "" {
			return apperr.Field("studentId", "is required")
		}
		if !e.Status.Valid() {
			return apperr.Field("status", "must be one of PRESENT, ABSENT, LATE, EXCUSED")
		}
	}
	return nil
}

func notEnrolled(entries []Entry, active map[string]bool) []string {
	seen := map[string]bool{}
	var bad []string
	for _, e := range entries {
		if active[e.StudentID] || seen[e.StudentID] {
			continue
		}
		seen[e.StudentID] = true
		bad = append(bad, e.StudentID)
	}
	return bad
}
