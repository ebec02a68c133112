package unit

import "errors"

// ActionError is returned by UnitSubtype operations (start/stop/reload).
// The job engine's dispatcher maps them as follows:
// ErrActionAgain is transient (pause the slot, retry later),
// ErrActionBadR and ErrActionUnsupported both finish the job with
// ResultUnsupported, and anything else finishes it with ResultInvalid.
// Transaction expansion does not call subtype operations, so
// ErrActionBadR never becomes a BadRequest error.
var (
	ErrActionAgain       = errors.New("unit: action not ready, retry")
	ErrActionBadR        = errors.New("unit: action not loadable")
	ErrActionUnsupported = errors.New("unit: action not supported by this subtype")
)
