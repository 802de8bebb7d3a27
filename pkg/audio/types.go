// ABOUTME: Audio type definitions
// ABOUTME: Defines the PCM stream format, audio frames and sequence arithmetic
package audio

import "encoding/binary"

const (
	// AirTunes streams 16-bit stereo PCM at 44.1kHz
	DefaultSampleRate      = 44100
	DefaultChannels        = 2
	DefaultBitDepth        = 16
	DefaultFramesPerPacket = 352

	// BytesPerFrame is the size of one interleaved stereo 16-bit sample frame
	BytesPerFrame = DefaultChannels * DefaultBitDepth / 8
)

// Format describes audio stream format
type Format struct {
	Codec      string
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat returns the PCM format AirTunes receivers expect
func DefaultFormat() Format {
	return Format{
		Codec:      "pcm",
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// Frame is one packet worth of PCM produced by a frame source
type Frame struct {
	Seq       uint32 // Monotonic packet counter; the wire carries Low16(Seq)
	Timestamp uint32 // RTP timestamp in samples
	PCM       []byte // 16-bit little-endian interleaved samples
}

// Low16 truncates a sequence counter to the 16 bits carried on the wire
func Low16(n uint32) uint16 {
	return uint16(n & 0xffff)
}

// Low32 truncates a 64-bit value to 32 bits (wrapping arithmetic)
func Low32(n uint64) uint32 {
	return uint32(n & 0xffffffff)
}

// SampleAt reads the little-endian 16-bit sample at index i of pcm
func SampleAt(pcm []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(pcm[i*2:]))
}

// PutSample writes a little-endian 16-bit sample at index i of pcm
func PutSample(pcm []byte, i int, sample int16) {
	binary.LittleEndian.PutUint16(pcm[i*2:], uint16(sample))
}
