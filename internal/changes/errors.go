package changes

import "errors"

// Repository errors.
var ErrChangeNotFound = errors.New("change request not found")
