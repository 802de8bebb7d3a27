// Package crypt implements the payload encryption AirTunes receivers expect
// when the handshake negotiates an encrypted stream.
package crypt
