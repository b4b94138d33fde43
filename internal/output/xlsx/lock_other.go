//go:build !windows

package xlsx

import (
	"errors"
	"syscall"
)

func isShareViolation(err error) bool {
	return errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY)
}
