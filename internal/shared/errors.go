package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict means the state was already changed by another actor.
	ErrConflict = errors.New("conflict")
	// ErrInvalidState means the operation is not valid for the entity's current state.
	ErrInvalidState = errors.New("invalid state")
	// ErrUnauthorized means the actor's role lacks the permission.
	ErrUnauthorized = errors.New("not authorized")
	// ErrScan reports a presence collaborator failure.
	ErrScan = errors.New("scan failed")
	// ErrStorage reports the durable store being unavailable. Fatal to the triggering operation.
	ErrStorage = errors.New("storage unavailable")
)

// UserSafeMessage returns an error message that can be shown to API callers
// without leaking internals.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidState),
		errors.Is(err, ErrUnauthorized),
		errors.Is(err, ErrInvalidCredentials):
		return err.Error()
	case errors.Is(err, ErrScan):
		return "network scan failed"
	case errors.Is(err, ErrStorage):
		return "storage unavailable"
	default:
		return "internal error"
	}
}
