//go:build unix

package airtunes

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"
)

// isAddrInUse reports whether a bind failed only because the port is taken
func isAddrInUse(err error) bool {
	return errors.Is(err, unix.EADDRINUSE)
}

// errorCode returns the errno name behind err, e.g. "EACCES"
func errorCode(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return unix.ErrnoName(errno)
	}
	return ""
}
