package store

import "errors"

var (
	errClosed   = errors.New("store: frame already closed")
	errReadOnly = errors.New("store: frame is read-only")
)
