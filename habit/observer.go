package habit

import "time"

// Operation names reported to an Observer.
const (
	OpLogHabit = "log_habit"
	OpUndoLast = "undo_last"
	OpRebuild  = "rebuild"
	OpUpsert   = "upsert_habit"
)

// Recompute modes reported to an Observer.
const (
	RecomputeIncremental = "incremental"
	RecomputeReplay      = "replay"
)

// Observer receives engine events. metrics.Observer implements it with
// Prometheus collectors.
type Observer interface {
	// OperationDone reports the outcome ("ok" or an error class) of a mutation.
	OperationDone(op, outcome string)

	// Recomputed reports how an aggregate was derived and how long it took.
	Recomputed(mode string, took time.Duration)

	// DriftRepaired reports a stored aggregate that disagreed with its log.
	DriftRepaired(user UserID)
}

type nopObserver struct{}

func (nopObserver) OperationDone(string, string)     {}
func (nopObserver) Recomputed(string, time.Duration) {}
func (nopObserver) DriftRepaired(UserID)             {}

// Outcome classifies err for observers and logs.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsRetryable(err):
		return "storage_error"
	case IsNotFound(err):
		return "not_found"
	case IsClientError(err):
		return "rejected"
	default:
		return "error"
	}
}
