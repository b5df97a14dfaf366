package entity

import "errors"

var (
	ErrEmptyName         = errors.New("entity: name must not be empty")
	ErrInvalidBaseURL    = errors.New("entity: base_url must be an absolute URL")
	ErrUnknownCapability = errors.New("entity: unknown capability")
)
