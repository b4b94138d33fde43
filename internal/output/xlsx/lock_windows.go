//go:build windows

package xlsx

import (
	"errors"

	"golang.org/x/sys/windows"
)

// isShareViolation matches the errors Windows returns while Excel has the
// workbook open.
func isShareViolation(err error) bool {
	return errors.Is(err, windows.ERROR_SHARING_VIOLATION) || errors.Is(err, windows.ERROR_LOCK_VIOLATION)
}
