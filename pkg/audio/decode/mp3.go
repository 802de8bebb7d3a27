// ABOUTME: MP3 audio decoder
// ABOUTME: Decodes MP3 to 16-bit stereo PCM at the AirTunes stream rate
package decode

import (
	"fmt"
	"io"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/audio/resample"
	"github.com/hajimehoshi/go-mp3"
)

const mp3ReadChunk = 4608 // bytes; one MPEG-1 Layer III frame of stereo PCM

// pcmSource is decoded 16-bit stereo PCM at its native rate
type pcmSource interface {
	io.Reader
	SampleRate() int
}

// MP3Reader decodes an MP3 stream into PCM, resampling when needed
type MP3Reader struct {
	decoder    pcmSource
	resampler  *resample.Resampler
	outputRate int

	in      []byte
	carry   []byte
	pending []byte
	err     error
}

// NewMP3Reader decodes r and produces PCM at the default AirTunes sample rate
func NewMP3Reader(r io.Reader) (*MP3Reader, error) {
	decoder, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create mp3 decoder: %w", err)
	}

	return newMP3Reader(decoder), nil
}

func newMP3Reader(decoder pcmSource) *MP3Reader {
	m := &MP3Reader{
		decoder:    decoder,
		outputRate: audio.DefaultSampleRate,
		in:         make([]byte, mp3ReadChunk),
	}
	if decoder.SampleRate() != audio.DefaultSampleRate {
		m.resampler = resample.New(decoder.SampleRate(), audio.DefaultSampleRate, audio.DefaultChannels)
	}
	return m
}

// SampleRate returns the rate of the produced PCM
func (m *MP3Reader) SampleRate() int {
	return m.outputRate
}

// SourceSampleRate returns the rate the MP3 was encoded at
func (m *MP3Reader) SourceSampleRate() int {
	return m.decoder.SampleRate()
}

// Read fills p with PCM bytes
func (m *MP3Reader) Read(p []byte) (int, error) {
	if m.resampler == nil {
		return m.decoder.Read(p)
	}

	for len(m.pending) == 0 {
		if m.err != nil {
			return 0, m.err
		}
		m.fill()
	}

	n := copy(p, m.pending)
	m.pending = m.pending[n:]
	return n, nil
}

// fill decodes one chunk and resamples whole sample frames of it
func (m *MP3Reader) fill() {
	n, err := m.decoder.Read(m.in)
	if err != nil {
		m.err = err
		if err != io.EOF {
			m.err = fmt.Errorf("mp3 decode error: %w", err)
		}
	}

	data := append(m.carry, m.in[:n]...)
	whole := len(data) - len(data)%audio.BytesPerFrame
	m.carry = append([]byte(nil), data[whole:]...)

	samples := make([]int16, whole/2)
	for i := range samples {
		samples[i] = audio.SampleAt(data, i)
	}

	out := m.resampler.Resample(samples)
	pcm := make([]byte, len(out)*2)
	for i, s := range out {
		audio.PutSample(pcm, i, s)
	}
	m.pending = pcm
}
