// ABOUTME: Decoder interface definition
// ABOUTME: Decoders expose PCM as a plain io.Reader for the frame producer
package decode

import "io"

// Reader yields 16-bit little-endian stereo PCM at a known sample rate
type Reader interface {
	io.Reader

	// SampleRate of the produced PCM
	SampleRate() int
}
