package api

import (
	"errors"
	"fmt"
)

// NotFoundError represents a resource not found error with contextual information.
// It is returned when a caller addresses a mapper id or a persisted run that
// does not exist.
type NotFoundError struct {
	// ResourceType categorizes the type of resource that was not found
	// (e.g., "mapper", "run")
	ResourceType string

	// ResourceName is the specific identifier of the resource that was not found
	ResourceName string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.ResourceType, e.ResourceName)
}

// IsNotFound checks if an error is a NotFoundError using error unwrapping.
//
// Example:
//
//	_, err := store.Get(runID)
//	if api.IsNotFound(err) {
//	    return fmt.Errorf("no such run %s", runID)
//	}
func IsNotFound(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// NewNotFoundError creates a new NotFoundError with the specified resource type and name.
func NewNotFoundError(resourceType, resourceName string) *NotFoundError {
	return &NotFoundError{
		ResourceType: resourceType,
		ResourceName: resourceName,
	}
}

// InvalidParameterError is returned when setup or runtime parameters are out
// of range. It is always raised before any state is mutated.
type InvalidParameterError struct {
	// Parameter is the parameter name as it appears in configuration (e.g. "loopgain").
	Parameter string

	// Value is the rejected value.
	Value any

	// Reason describes the accepted range.
	Reason string
}

// Error implements the error interface for InvalidParameterError.
func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s=%v: %s", e.Parameter, e.Value, e.Reason)
}

// NewInvalidParameterError creates a new InvalidParameterError.
func NewInvalidParameterError(parameter string, value any, reason string) *InvalidParameterError {
	return &InvalidParameterError{Parameter: parameter, Value: value, Reason: reason}
}

// IsInvalidParameter reports whether err is or wraps an InvalidParameterError.
func IsInvalidParameter(err error) bool {
	var target *InvalidParameterError
	return errors.As(err, &target)
}

// InvalidStateError is returned when an operation is attempted in a state
// that does not permit it. State is left unchanged.
//
// Lifecycle distinguishes per-mapper grid/degrid ordering violations
// (InvalidLifecycleState) from controller state-machine violations
// (InvalidState).
type InvalidStateError struct {
	// Operation is the rejected call, e.g. "ChangeLoopGain" or "grid".
	Operation string

	// State is the state the object was in when the call was rejected.
	State string

	// Lifecycle is true for per-mapper grid/degrid lifecycle violations.
	Lifecycle bool
}

// Error implements the error interface for InvalidStateError.
func (e *InvalidStateError) Error() string {
	if e.Lifecycle {
		return fmt.Sprintf("invalid lifecycle state: %s not allowed in phase %s", e.Operation, e.State)
	}
	return fmt.Sprintf("invalid state: %s not allowed in state %s", e.Operation, e.State)
}

// NewInvalidStateError creates an InvalidStateError for the controller state machine.
func NewInvalidStateError(operation, state string) *InvalidStateError {
	return &InvalidStateError{Operation: operation, State: state}
}

// NewInvalidLifecycleStateError creates an InvalidStateError for a mapper lifecycle violation.
func NewInvalidLifecycleStateError(operation, phase string) *InvalidStateError {
	return &InvalidStateError{Operation: operation, State: phase, Lifecycle: true}
}

// IsInvalidState reports whether err is or wraps a controller InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target) && !target.Lifecycle
}

// IsInvalidLifecycleState reports whether err is or wraps a mapper lifecycle error.
func IsInvalidLifecycleState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target) && target.Lifecycle
}

// NotAllocatedError is returned when an image artifact is accessed before it
// has been created. Allocating the artifact first makes the call succeed.
type NotAllocatedError struct {
	// Image is the accumulator name.
	Image string

	// Artifact is the artifact kind (psf, residual, model, weight, image).
	Artifact ArtifactKind
}

// Error implements the error interface for NotAllocatedError.
func (e *NotAllocatedError) Error() string {
	return fmt.Sprintf("image %s: %s not allocated", e.Image, e.Artifact)
}

// NewNotAllocatedError creates a new NotAllocatedError.
func NewNotAllocatedError(image string, artifact ArtifactKind) *NotAllocatedError {
	return &NotAllocatedError{Image: image, Artifact: artifact}
}

// IsNotAllocated reports whether err is or wraps a NotAllocatedError.
func IsNotAllocated(err error) bool {
	var target *NotAllocatedError
	return errors.As(err, &target)
}

// DuplicateMapperError is returned by AddMapper on an id collision.
type DuplicateMapperError struct {
	ID int
}

// Error implements the error interface for DuplicateMapperError.
func (e *DuplicateMapperError) Error() string {
	return fmt.Sprintf("mapper %d already registered", e.ID)
}

// IsDuplicateMapper reports whether err is or wraps a DuplicateMapperError.
func IsDuplicateMapper(err error) bool {
	var target *DuplicateMapperError
	return errors.As(err, &target)
}

// WorkerUnreachableError is returned when a worker fails to contribute to a
// gather or receive a scatter within the transport timeout. The whole
// collective is aborted; nothing partial is published.
type WorkerUnreachableError struct {
	// Rank is the failing worker's rank.
	Rank int

	// Phase is "gather" or "scatter".
	Phase string

	// Cause is the underlying transport error.
	Cause error
}

// Error implements the error interface for WorkerUnreachableError.
func (e *WorkerUnreachableError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("worker %d unreachable during %s", e.Rank, e.Phase)
	}
	return fmt.Sprintf("worker %d unreachable during %s: %v", e.Rank, e.Phase, e.Cause)
}

// Unwrap returns the transport error.
func (e *WorkerUnreachableError) Unwrap() error {
	return e.Cause
}

// IsWorkerUnreachable reports whether err is or wraps a WorkerUnreachableError.
func IsWorkerUnreachable(err error) bool {
	var target *WorkerUnreachableError
	return errors.As(err, &target)
}

// OutOfOrderSyncError is returned when gather/normalize/scatter are invoked
// out of their required order within a cycle.
type OutOfOrderSyncError struct {
	// Operation is the rejected call.
	Operation string

	// Expected describes what must happen first.
	Expected string
}

// Error implements the error interface for OutOfOrderSyncError.
func (e *OutOfOrderSyncError) Error() string {
	return fmt.Sprintf("out of order sync: %s requires %s first", e.Operation, e.Expected)
}

// IsOutOfOrderSync reports whether err is or wraps an OutOfOrderSyncError.
func IsOutOfOrderSync(err error) bool {
	var target *OutOfOrderSyncError
	return errors.As(err, &target)
}
