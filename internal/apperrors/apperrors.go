package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound       = errors.New("resource not found")
	ErrInvalidRequest = errors.New("invalid request body")
	ErrValidation     = errors.New("validation failed")

	// ErrFetchFailed marks an upstream metadata-store failure. It aborts the
	// whole snapshot assembly; callers must be able to tell it apart from an
	// empty result.
	ErrFetchFailed = errors.New("upstream fetch failed")

	// ErrImpossibleWorkItem marks a record whose derived timestamps violate
	// the lifecycle ordering invariants. The item is dropped from the batch,
	// never fatal to it.
	ErrImpossibleWorkItem = errors.New("internally inconsistent work item")

	// ErrCacheRequired is a configuration error: a memoized operation was
	// declared with a mandatory cache handle but none was supplied.
	ErrCacheRequired = errors.New("cache client is required but not configured")
)

// ImpossibleWorkItemError carries the identity and the violated invariant of
// a rejected record.
type ImpossibleWorkItemError struct {
	NodeID string
	Reason string
}

func (e *ImpossibleWorkItemError) Error() string {
	return fmt.Sprintf("work item '%s' is internally inconsistent: %s", e.NodeID, e.Reason)
}

func (e *ImpossibleWorkItemError) Is(target error) bool { return target == ErrImpossibleWorkItem }

// FetchFailedError wraps the failing sub-fetch so the caller can log which
// table aborted the assembly.
type FetchFailedError struct {
	Entity string
	Err    error
}

func (e *FetchFailedError) Error() string {
	return fmt.Sprintf("fetching %s failed: %v", e.Entity, e.Err)
}

func (e *FetchFailedError) Is(target error) bool { return target == ErrFetchFailed }

func (e *FetchFailedError) Unwrap() error { return e.Err }
