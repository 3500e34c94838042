package engine

import "errors"

var (
	ErrInvalidPhase = errors.New("invalid phase")
	ErrInvalidState = errors.New("invalid state")
	ErrValidation   = errors.New("validation failed")
)
