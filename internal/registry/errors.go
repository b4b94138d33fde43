package registry

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord marks a payload the normaliser cannot map to a row.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrMultipleListFilters is returned when more than one filter field holds a list.
	ErrMultipleListFilters = errors.New("only one filter field may hold a list of values")
)

// APIError is returned when a registry answers with success=false.
type APIError struct {
	Op      string
	Message string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: registry reported failure", e.Op)
	}
	return fmt.Sprintf("%s: registry reported failure: %s", e.Op, e.Message)
}

func malformed(id int64, format string, args ...any) error {
	return fmt.Errorf("%w: member %d: %s", ErrMalformedRecord, id, fmt.Sprintf(format, args...))
}
