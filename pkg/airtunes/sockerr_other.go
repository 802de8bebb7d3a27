//go:build !unix && !windows

package airtunes

func isAddrInUse(err error) bool {
	return false
}

func errorCode(err error) string {
	return ""
}
