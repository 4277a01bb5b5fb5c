package publish

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound signals that the requested listing does not exist.
	ErrNotFound = errors.New("listing not found")
	// ErrInvalidTransition signals a status change outside the lifecycle graph.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrAlreadyPosted is returned when enqueueing a listing that is already published.
	ErrAlreadyPosted = errors.New("listing already posted")
	// ErrInProgress is returned when enqueueing a listing the worker is submitting.
	ErrInProgress = errors.New("listing is being published")
	// ErrQueueClosed is returned by blocked consumers once the queue shuts down.
	ErrQueueClosed = errors.New("queue closed")
	// ErrSessionInvalid means the stored session no longer reaches the protected area.
	ErrSessionInvalid = errors.New("session invalid, manual re-authentication required")
	// ErrStorageIO is the sentinel matched by StorageIOError.
	ErrStorageIO = errors.New("storage io error")
	// ErrInvalidListing rejects intake records missing a fingerprint field.
	ErrInvalidListing = errors.New("listing requires kvartil, xet and tell")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

// Is matches ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// StorageIOError reports an unreadable or corrupt persisted snapshot. The store
// recovers from it by archiving the file and starting empty.
type StorageIOError struct {
	Path   string
	Backup string
	Err    error
}

func (e *StorageIOError) Error() string {
	if e.Backup != "" {
		return fmt.Sprintf("storage io %s (archived to %s): %v", e.Path, e.Backup, e.Err)
	}
	return fmt.Sprintf("storage io %s: %v", e.Path, e.Err)
}

// Unwrap exposes the underlying cause.
func (e *StorageIOError) Unwrap() error {
	return e.Err
}

// Is matches ErrStorageIO.
func (e *StorageIOError) Is(target error) bool {
	return target == ErrStorageIO
}

// SubmitError is returned by a BrowserSession when a submission does not go through.
type SubmitError struct {
	Reason    string
	Retryable bool
	Err       error
}

func (e *SubmitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("submit failed: %s: %v", e.Reason, e.Err)
	}
	return "submit failed: " + e.Reason
}

// Unwrap exposes the underlying cause.
func (e *SubmitError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err should send the listing back to the queue. Errors that
// are not SubmitErrors (timeouts, navigation failures) are treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var subErr *SubmitError
	if errors.As(err, &subErr) {
		return subErr.Retryable
	}
	return true
}
