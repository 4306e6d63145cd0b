package validation

import "errors"

// Repository errors.
var (
	ErrRuleNotFound  = errors.New("check rule not found")
	ErrDuplicateRule = errors.New("check rule already exists for service")
)
