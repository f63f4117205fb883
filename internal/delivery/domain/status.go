package domain

import "encoding/json"

type Status string

const (
	StatusPending            Status = "pending"
	StatusParsing            Status = "parsing"
	StatusAwaitingValidation Status = "awaiting_validation"
	StatusValidating         Status = "validating"
	StatusProcessingReleases Status = "processing_releases"
	StatusCompleted          Status = "completed"

	StatusFailed           Status = "failed"
	StatusParseFailed      Status = "parse_failed"
	StatusValidationFailed Status = "validation_failed"
	StatusValidationError  Status = "validation_error"
	StatusProcessingFailed Status = "processing_failed"
)

// transitions is the forward-only stage chain. Terminal statuses have no
// outgoing edges; Reprocess bypasses the table deliberately.
var transitions = map[Status][]Status{
	StatusPending:            {StatusParsing, StatusFailed},
	StatusParsing:            {StatusAwaitingValidation, StatusParseFailed},
	StatusAwaitingValidation: {StatusValidating},
	StatusValidating:         {StatusProcessingReleases, StatusValidationFailed, StatusValidationError},
	StatusProcessingReleases: {StatusCompleted, StatusProcessingFailed},
}

// CanTransition reports whether from → to is a legal forward move.
// Re-asserting the current status is allowed so redelivered messages stay
// idempotent.
func CanTransition(from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// chainOrder ranks the success-path statuses. Failure statuses are not on
// the chain and rank as unknown.
var chainOrder = map[Status]int{
	StatusPending:            0,
	StatusParsing:            1,
	StatusAwaitingValidation: 2,
	StatusValidating:         3,
	StatusProcessingReleases: 4,
	StatusCompleted:          5,
}

// Reached reports whether current is at or past target on the success chain.
// Redelivered stage jobs use it to tell work already done from work still
// owed, so a retry after a failed downstream publish can resume instead of
// tripping the transition guard.
func Reached(current, target Status) bool {
	c, okC := chainOrder[current]
	tr, okT := chainOrder[target]
	return okC && okT && c >= tr
}

// IsTerminal reports whether no further stage may run for this status.
func IsTerminal(s Status) bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusParseFailed,
		StatusValidationFailed, StatusValidationError, StatusProcessingFailed:
		return true
	}
	return false
}

func jsonUnmarshal(data []byte, out any) error { return json.Unmarshal(data, out) }
