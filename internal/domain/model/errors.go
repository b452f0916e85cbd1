package model

import "errors"

// ErrValidation marks input that violates a record invariant.
var ErrValidation = errors.New("validation failed")
