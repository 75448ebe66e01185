package refresh

import "errors"

// Failure classes of a run. Returned errors wrap exactly one of these.
var (
	// ErrConnection means the glossifier database could not be reached.
	ErrConnection = errors.New("glossifier database connection failed")
	// ErrTransport means the terms document could not be retrieved.
	ErrTransport = errors.New("terms document fetch failed")
	// ErrPersistence means the update, the cache clear or the commit failed.
	ErrPersistence = errors.New("terms persistence failed")
)

// Outcome labels a finished run.
type Outcome string

// Run outcomes.
const (
	OutcomeSuccess          Outcome = "success"
	OutcomeConnectionError  Outcome = "connection_error"
	OutcomeTransportError   Outcome = "transport_error"
	OutcomePersistenceError Outcome = "persistence_error"
)

// OutcomeOf classifies err. Errors outside the three failure classes count as
// persistence errors.
func OutcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, ErrConnection):
		return OutcomeConnectionError
	case errors.Is(err, ErrTransport):
		return OutcomeTransportError
	default:
		return OutcomePersistenceError
	}
}
