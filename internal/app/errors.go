package app

import "errors"

var (
	// ErrNotFound indicates the build does not exist.
	ErrNotFound = errors.New("build not found")
	// ErrForbidden indicates the user does not own the build.
	ErrForbidden = errors.New("forbidden")
	// ErrBuildLocked indicates the build has entered contract signing and its
	// priced configuration can no longer change.
	ErrBuildLocked = errors.New("build locked for signing")
	// ErrCardDisabled indicates the card option is switched off in settings.
	ErrCardDisabled = errors.New("card payments are disabled")
	// ErrPlanRequired indicates a payment operation ran before a plan was chosen.
	ErrPlanRequired = errors.New("payment plan required")
)

// NotReadyError carries the user-facing reason payment readiness was refused.
type NotReadyError struct {
	Reason string
}

func (e *NotReadyError) Error() string {
	return "payment not ready: " + e.Reason
}
