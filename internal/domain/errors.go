package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrMappingGap         = errors.New("no local/remote mapping")
	ErrConnectionInactive = errors.New("connection inactive")
	ErrDuplicate          = errors.New("already exists")
)
