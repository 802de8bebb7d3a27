package airtunes

import (
	"errors"
	"fmt"
)

var (
	ErrHostRequired          = errors.New("host is mandatory")
	ErrNotReady              = errors.New("device not ready")
	ErrSessionStopped        = errors.New("device session already stopped")
	ErrPortsExhausted        = errors.New("no free UDP port in probe range")
	ErrServiceClosed         = errors.New("udp servers closed")
	ErrEncryptionUnavailable = errors.New("encryption required but no encrypter configured")
	ErrDeviceExists          = errors.New("device already registered")
	ErrDeviceNotFound        = errors.New("device not found")

	// ErrTeardown marks an intentional teardown; sessions ending with it raise no error
	ErrTeardown = errors.New("stopped")
)

// Error kinds carried by SessionError
const (
	ErrorKindUDPPorts  = "udp_ports"
	ErrorKindHandshake = "handshake"
)

// SessionError is raised to a device's error listeners for failures the
// session itself detected
type SessionError struct {
	Kind string
	Code string // errno name for socket failures, e.g. EACCES
	Err  error
}

func (e *SessionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s): %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// errorKind picks the metrics label for an error raised by a session
func errorKind(err error) string {
	var se *SessionError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrorKindHandshake
}
