package transport

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by Fetch when the remote has no such entity.
var ErrNotFound = errors.New("remote entity not found")

// TransientError is a failure worth retrying: network errors, timeouts,
// 5xx, 408 and 429.
type TransientError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: transient failure (HTTP %d): %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a rejection that will not succeed on replay: validation
// failures and other 4xx responses.
type PermanentError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *PermanentError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: rejected (HTTP %d): %s", e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Message)
}

// ConflictError reports that the remote copy diverged. Remote carries the
// current server state when the server returned it.
type ConflictError struct {
	EntityType string
	EntityID   string
	Remote     *RemoteState
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s/%s", e.EntityType, e.EntityID)
}

func IsPermanent(err error) bool {
	var perm *PermanentError
	return errors.As(err, &perm)
}

func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
