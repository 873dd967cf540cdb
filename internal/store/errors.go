package store

import "fmt"

// ValidationError covers malformed input detected before any mutation:
// misaligned timestamps, unknown ids, bad enum values, empty labels.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func validationErrorf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError marks a lookup of an unknown node. Reservation termination
// does not use it: mark-complete and cancel report false instead so repeat
// calls stay idempotent.
type NotFoundError struct {
	NodeID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("unknown node id %q", e.NodeID)
}

// ConflictError is raised only from the atomic overlap check: a requested
// GPU already has an active reservation intersecting the window.
type ConflictError struct {
	GPUID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("GPU %q is already booked for the requested window", e.GPUID)
}

// CapacityError is raised only on the auto-select path when fewer GPUs are
// free than requested.
type CapacityError struct {
	Requested int
	Free      int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("not enough GPUs available for the requested window (requested %d, free %d)", e.Requested, e.Free)
}
