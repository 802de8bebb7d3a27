// ABOUTME: Test tone PCM reader
// ABOUTME: Generates an endless 16-bit stereo sine wave
package audioout

import (
	"math"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
)

// ToneReader generates a sine tone as 16-bit little-endian stereo PCM
type ToneReader struct {
	frequency   float64
	sampleRate  int
	sampleIndex uint64
	pending     []byte
}

// NewToneReader creates a tone generator; zero values give 440Hz at 44.1kHz
func NewToneReader(frequency float64, sampleRate int) *ToneReader {
	if frequency == 0 {
		frequency = 440.0 // A4 note
	}
	if sampleRate == 0 {
		sampleRate = audio.DefaultSampleRate
	}
	return &ToneReader{frequency: frequency, sampleRate: sampleRate}
}

// Read fills p with whole sample frames; it never returns EOF
func (t *ToneReader) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if len(t.pending) == 0 {
			t.pending = t.nextFrame()
		}
		c := copy(p[n:], t.pending)
		t.pending = t.pending[c:]
		n += c
	}
	return n, nil
}

func (t *ToneReader) nextFrame() []byte {
	ts := float64(t.sampleIndex) / float64(t.sampleRate)
	t.sampleIndex++

	// 50% volume to avoid clipping
	sample := int16(math.Sin(2*math.Pi*t.frequency*ts) * math.MaxInt16 * 0.5)

	frame := make([]byte, audio.BytesPerFrame)
	for ch := 0; ch < audio.DefaultChannels; ch++ {
		audio.PutSample(frame, ch, sample)
	}
	return frame
}
