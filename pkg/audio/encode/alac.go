// ABOUTME: Uncompressed ALAC encoder
// ABOUTME: Wraps 16-bit PCM in ALAC "escape" frames accepted by AirTunes receivers
package encode

import (
	"bytes"
	"fmt"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/icza/bitio"
)

const (
	// bits before the samples: channels(3) unused(4+12) hasSize(1) unused(2) uncompressed(1) size(32)
	alacHeaderBits = 3 + 4 + 12 + 1 + 2 + 1 + 32
	alacEndTagBits = 3
	alacEndTag     = 0x7
)

// ALACEncoder encodes PCM as uncompressed ALAC frames
type ALACEncoder struct {
	channels int
	buf      bytes.Buffer
}

// NewALAC creates a new ALAC encoder
func NewALAC(format audio.Format) (Encoder, error) {
	if format.Codec != "alac" {
		return nil, fmt.Errorf("invalid codec for ALAC encoder: %s", format.Codec)
	}
	if format.BitDepth != 16 {
		return nil, fmt.Errorf("unsupported bit depth: %d (supported: 16)", format.BitDepth)
	}
	if format.Channels < 1 || format.Channels > 2 {
		return nil, fmt.Errorf("unsupported channel count: %d", format.Channels)
	}

	return &ALACEncoder{channels: format.Channels}, nil
}

// EncodedSize returns the byte length of a frame carrying the given sample frames
func (e *ALACEncoder) EncodedSize(frames int) int {
	bits := alacHeaderBits + frames*e.channels*16 + alacEndTagBits
	return (bits + 7) / 8
}

// Encode converts little-endian PCM into an uncompressed ALAC frame
func (e *ALACEncoder) Encode(dst, pcm []byte) (int, error) {
	frameBytes := 2 * e.channels
	if len(pcm)%frameBytes != 0 {
		return 0, fmt.Errorf("pcm length %d is not a multiple of %d", len(pcm), frameBytes)
	}

	frames := len(pcm) / frameBytes
	if size := e.EncodedSize(frames); size > len(dst) {
		return 0, fmt.Errorf("%w: need %d bytes, have %d", ErrPayloadTooLarge, size, len(dst))
	}

	e.buf.Reset()
	w := bitio.NewWriter(&e.buf)

	w.TryWriteBits(uint64(e.channels-1), 3)
	w.TryWriteBits(0, 4)
	w.TryWriteBits(0, 12)
	w.TryWriteBits(1, 1) // has size
	w.TryWriteBits(0, 2)
	w.TryWriteBits(1, 1) // not compressed
	w.TryWriteBits(uint64(frames), 32)

	// Samples go out big-endian, interleaved as they arrive
	for i := 0; i < frames*e.channels; i++ {
		w.TryWriteBits(uint64(uint16(audio.SampleAt(pcm, i))), 16)
	}

	w.TryWriteBits(alacEndTag, alacEndTagBits)

	if w.TryError != nil {
		return 0, fmt.Errorf("alac encode error: %w", w.TryError)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("alac flush error: %w", err)
	}

	return copy(dst, e.buf.Bytes()), nil
}

// Close releases resources
func (e *ALACEncoder) Close() error {
	return nil
}
