// ABOUTME: Streaming linear resampler for 16-bit interleaved PCM
// ABOUTME: Keeps the last input frame so interpolation continues across chunks
package resample

import "math"

// Resampler performs linear interpolation to convert between sample rates
type Resampler struct {
	inputRate  int
	outputRate int
	channels   int
	ratio      float64 // input frames consumed per output frame
	position   float64 // next output position; -1 refers to lastFrame
	lastFrame  []int16
}

// New creates a new resampler
func New(inputRate, outputRate, channels int) *Resampler {
	return &Resampler{
		inputRate:  inputRate,
		outputRate: outputRate,
		channels:   channels,
		ratio:      float64(inputRate) / float64(outputRate),
		lastFrame:  make([]int16, channels),
	}
}

// Resample converts one chunk of interleaved samples. The final input frame
// is held back until the next chunk arrives.
func (r *Resampler) Resample(input []int16) []int16 {
	frames := len(input) / r.channels
	if frames == 0 {
		return nil
	}

	sample := func(frame, ch int) float64 {
		if frame < 0 {
			return float64(r.lastFrame[ch])
		}
		return float64(input[frame*r.channels+ch])
	}

	output := make([]int16, 0, r.OutputSamplesNeeded(len(input))+r.channels)
	for {
		idx := int(math.Floor(r.position))
		if idx+1 >= frames {
			break
		}
		frac := r.position - float64(idx)

		for ch := 0; ch < r.channels; ch++ {
			interpolated := sample(idx, ch)*(1.0-frac) + sample(idx+1, ch)*frac
			output = append(output, int16(math.Round(interpolated)))
		}
		r.position += r.ratio
	}

	r.position -= float64(frames)
	copy(r.lastFrame, input[(frames-1)*r.channels:frames*r.channels])

	return output
}

// Reset resets the resampler state
func (r *Resampler) Reset() {
	r.position = 0.0
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// OutputSamplesNeeded estimates how many output samples input samples produce
func (r *Resampler) OutputSamplesNeeded(inputSamples int) int {
	inputFrames := inputSamples / r.channels
	outputFrames := int(float64(inputFrames) / r.ratio)
	return outputFrames * r.channels
}
