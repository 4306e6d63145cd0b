package indicators

import "errors"

// Repository errors.
var (
	ErrIndicatorNotFound  = errors.New("indicator not found")
	ErrDuplicateIndicator = errors.New("indicator already exists for service")
)
