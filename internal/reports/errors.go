package reports

import "errors"

// Repository errors.
var (
	ErrReportNotFound  = errors.New("report not found")
	ErrDuplicateReport = errors.New("report already exists for this period")
)
