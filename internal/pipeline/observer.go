package pipeline

import "time"

// Attempt results reported to an Observer.
const (
	attemptAccepted = "accepted"
	attemptRejected = "rejected"
	attemptFailed   = "failed"
)

// Observer receives pipeline measurements. Implementations must be safe
// for concurrent use.
type Observer interface {
	// Attempt records one gateway call: accepted, rejected or failed.
	Attempt(stage, source, result string, elapsed time.Duration)
	// Finished records a run reaching a terminal status.
	Finished(status string, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) Attempt(string, string, string, time.Duration) {}
func (nopObserver) Finished(string, time.Duration)                {}
