package domain

import "errors"

var (
	ErrStreamNotFound          = errors.New("stream not found")
	ErrAlertNotFound           = errors.New("alert not found")
	ErrStreamAlreadyRegistered = errors.New("stream already registered")
)
