package proc

import "fmt"

// SpawnErrorKind classifies why a spawn request was rejected.
type SpawnErrorKind int

const (
	SpawnNotFound SpawnErrorKind = iota
	SpawnAlreadyRunning
	SpawnPermissionDenied
)

func (k SpawnErrorKind) String() string {
	switch k {
	case SpawnNotFound:
		return "not_found"
	case SpawnAlreadyRunning:
		return "already_running"
	case SpawnPermissionDenied:
		return "permission_denied"
	default:
		return "unknown"
	}
}

// SpawnError reports a failed spawn attempt. Matched by callers via errors.As.
type SpawnError struct {
	Kind SpawnErrorKind
	Role string
	Err  error
}

func (e *SpawnError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("spawn %s: %s: %v", e.Role, e.Kind, e.Err)
	}
	return fmt.Sprintf("spawn %s: %s", e.Role, e.Kind)
}

func (e *SpawnError) Unwrap() error { return e.Err }
