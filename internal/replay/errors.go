package replay

import "errors"

// ErrInvalidOrdering is returned when a series is not strictly increasing by timestamp.
var ErrInvalidOrdering = errors.New("series not in strictly increasing timestamp order")
