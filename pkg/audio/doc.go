// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines Format, Frame types and sequence number helpers
// Package audio provides the audio types shared by the AirTunes engine.
//
// This package defines core types used throughout the library:
//   - Format: Describes the PCM stream format (sample rate, channels, bit depth)
//   - Frame: One packet of PCM with its sequence counter and RTP timestamp
//
// Sequence counters are 32-bit and monotonic; receivers only ever see the low
// 16 bits, so lookups by wire sequence must go through Low16.
//
// Example:
//
//	frame := audio.Frame{Seq: 65537, Timestamp: 88200, PCM: pcm}
//	wireSeq := audio.Low16(frame.Seq) // 1
package audio
