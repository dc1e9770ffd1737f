package receipt

import "errors"

var (
	// ErrNotFound is wrapped by lookups of receipts and line items that do not exist
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput is wrapped by rejected corrective edits
	ErrInvalidInput = errors.New("invalid input")
)
