package incidents

import "errors"

// Repository errors.
var ErrIncidentNotFound = errors.New("incident not found")
