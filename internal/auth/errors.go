package auth

import "errors"

// Error taxonomy. The HTTP layer maps these to fixed statuses; messages
// never carry hashes or raw token material.
var (
	ErrInvalidRequest = errors.New("auth: invalid request")
	ErrAuthentication = errors.New("auth: authentication failed")
	ErrForbidden      = errors.New("auth: forbidden")
	ErrNotFound       = errors.New("auth: not found")
	ErrConflict       = errors.New("auth: conflict")
)
