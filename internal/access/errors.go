package access

import "errors"

// Shared error taxonomy for the control core. Handlers map these onto HTTP
// status codes; Denied and InvalidTransition are terminal, Conflict and
// Storage are safe to retry with fresh state.
var (
	ErrDenied            = errors.New("access: denied")
	ErrNotFound          = errors.New("access: not found")
	ErrConflict          = errors.New("access: conflict")
	ErrInvalidTransition = errors.New("access: invalid transition")
	ErrInvalidInput      = errors.New("access: invalid input")
	ErrStorage           = errors.New("access: storage failure")
)
