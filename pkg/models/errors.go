package models

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownScenario   = errors.New("unknown scenario")
	ErrInvalidInstanceID = errors.New("invalid instance id")
	ErrInstanceNotFound  = errors.New("instance not found")
	ErrTargetNotReady    = errors.New("target file not ready")
	ErrCapacityExceeded  = errors.New("instance capacity exceeded")
)

// ProvisionError means the underlying container could not be launched.
type ProvisionError struct {
	InstanceID string
	Detail     string
	Err        error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision %s: %s", e.InstanceID, e.Detail)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// SetupError means the post-create setup procedure failed. It is fatal for
// scenarios not marked best-effort and logged-and-ignored otherwise.
type SetupError struct {
	InstanceID string
	Step       string
	Detail     string
	Err        error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setup %s (%s): %s", e.InstanceID, e.Step, e.Detail)
}

func (e *SetupError) Unwrap() error { return e.Err }
