//go:build windows

package airtunes

import "golang.org/x/sys/windows"

const errnoAddrInUse = windows.WSAEADDRINUSE
