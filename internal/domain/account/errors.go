package account

import "errors"

// Sentinel errors returned by the lifecycle service and its stores. Handlers
// branch on these; translation to HTTP status codes happens at the edge.
var (
	ErrValidation         = errors.New("invalid input")
	ErrEmailTaken         = errors.New("email already in use")
	ErrAccountNotFound    = errors.New("account not found")
	ErrTokenNotFound      = errors.New("token not found or expired")
	ErrInvalidCredentials = errors.New("invalid credentials")
)
