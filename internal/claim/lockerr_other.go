//go:build !windows

package claim

import (
	"errors"
	"syscall"
)

// isSharingViolation matches errors that usually clear once another
// process (scanner, sync client, SMB oplock holder) lets go of the file.
func isSharingViolation(err error) bool {
	return errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETXTBSY) ||
		errors.Is(err, syscall.EACCES) ||
		errors.Is(err, syscall.EPERM)
}
