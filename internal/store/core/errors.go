package core

import "errors"

var (
	// ErrNotFound: la fila pedida no existe.
	ErrNotFound = errors.New("store: not found")
)
