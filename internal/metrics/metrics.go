package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsCreated counts sessions persisted, by origin ("manual" or "generated").
	SessionsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "sessions_created_total",
		Help:      "Attendance sessions persisted.",
	}, []string{"origin"})

	// SchedulingConflicts counts candidates rejected or skipped for double-booking.
	SchedulingConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "scheduling_conflicts_total",
		Help:      "Session candidates that overlapped an existing session of the same teacher.",
	}, []string{"origin"})

	// AttendanceWrites counts attendance rows written, by outcome ("created" or "updated").
	AttendanceWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "attendance_writes_total",
		Help:      "Attendance rows inserted or updated.",
	}, []string{"outcome"})

	// RecordRejections counts attendance batches rejected, by error kind.
	RecordRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "attendance_rejections_total",
		Help:      "Attendance batches rejected before writing.",
	}, []string{"kind"})

	// SessionsCompleted counts sessions auto-completed by attendance recording.
	SessionsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "sessions_completed_total",
		Help:      "Sessions that reached COMPLETED because every enrolled student was marked.",
	})

	// EventsForwarded counts events the worker delivered to the notification service.
	EventsForwarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "schoolattend",
		Name:      "events_forwarded_total",
		Help:      "Domain events forwarded by the worker, by type and result.",
	}, []string{"type", "result"})
)
