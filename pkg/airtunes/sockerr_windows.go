//go:build windows

package airtunes

import (
	"errors"
	"strconv"
	"syscall"

	"golang.org/x/sys/windows"
)

// isAddrInUse reports whether a bind failed only because the port is taken
func isAddrInUse(err error) bool {
	return errors.Is(err, windows.WSAEADDRINUSE)
}

// errorCode returns the numeric WSA error behind err
func errorCode(err error) string {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return strconv.Itoa(int(errno))
	}
	return ""
}
