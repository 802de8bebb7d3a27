// ABOUTME: Audio resampling package
// ABOUTME: Linear interpolation resampler used to bring input to the stream rate
// Package resample converts 16-bit interleaved PCM between sample rates.
//
// Example:
//
//	r := resample.New(48000, 44100, 2)
//	out := r.Resample(samples)
package resample
