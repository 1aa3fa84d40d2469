package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")

	ErrAlreadySent     = fmt.Errorf("%w: campaign already sent", ErrConflict)
	ErrAlreadySending  = fmt.Errorf("%w: campaign already sending", ErrConflict)
	ErrAlreadyVerified = fmt.Errorf("%w: subscriber already verified", ErrConflict)
)
