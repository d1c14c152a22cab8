package session

import (
	"fmt"

	"schoolattend/internal/apperr"
	"schoolattend/internal/model"
)

// WriteOutcome describes an attendance write against a session, as seen inside the
// transaction that performed it.
type WriteOutcome struct {
	// Written is the number of attendance rows inserted or updated by the write.
	Written int
	// Recorded is the number of actively enrolled students that now have a row.
	Recorded int
	// Enrolled is the number of active enrollments in the session's class section.
	Enrolled int
}

// Next returns the status a session moves to after an attendance write.
// A section with no active enrollments never completes this way.
func Next(current model.SessionStatus, out WriteOutcome) model.SessionStatus {
	if current.Terminal() || out.Written == 0 {
		return current
	}
	next := current
	if next == model.SessionScheduled {
		next = model.SessionInProgress
	}
	if next == model.SessionInProgress && out.Enrolled > 0 && out.Recorded >= out.Enrolled {
		next = model.SessionCompleted
	}
	return next
}

// CheckRecordable fails with SessionLocked unless attendance may be written in status s.
func CheckRecordable(s model.SessionStatus) error {
	switch s {
	case model.SessionScheduled, model.SessionInProgress:
		return nil
	default:
		return apperr.SessionLocked(fmt.Sprintf("session is %s", s))
	}
}

// CanTransition reports whether an explicit status change is allowed.
func CanTransition(from, to model.SessionStatus) bool {
	if from == to {
		return true
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case model.SessionCancelled, model.SessionCompleted:
		return true
	case model.SessionInProgress:
		return from == model.SessionScheduled
	default:
		return false
	}
}
