package repository

import "errors"

// ErrNotFound indicates a requested record does not exist. The quota
// loader maps it to a fresh zero-usage state.
var ErrNotFound = errors.New("repository: not found")
