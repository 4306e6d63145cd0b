package authorization

import "errors"

// Repository errors.
var (
	ErrAuthorizationNotFound  = errors.New("service authorization not found")
	ErrDuplicateAuthorization = errors.New("service authorization already exists")
)
