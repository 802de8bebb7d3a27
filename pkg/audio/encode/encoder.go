// ABOUTME: Encoder interface definition
// ABOUTME: Common interface for the codec that turns PCM into packet payloads
package encode

import "errors"

// ErrPayloadTooLarge is returned when the coded payload does not fit the destination buffer
var ErrPayloadTooLarge = errors.New("encoded payload exceeds buffer")

// Encoder encodes 16-bit PCM into a codec payload
type Encoder interface {
	// Encode writes the coded form of pcm into dst and returns its length
	Encode(dst, pcm []byte) (int, error)

	// Close releases encoder resources
	Close() error
}
