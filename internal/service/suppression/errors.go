package suppression

import "errors"

var ErrNotFound = errors.New("address is not suppressed")
