// ABOUTME: Audio encoder package for encoding PCM to AirTunes payloads
// ABOUTME: Provides Encoder interface and the uncompressed ALAC implementation
// Package encode provides the audio codec used for AirTunes packets.
//
// AirTunes receivers decode ALAC. The encoder here emits uncompressed ALAC
// frames, which every receiver accepts and which cost no CPU to produce.
//
// Example:
//
//	encoder, err := encode.NewALAC(audio.Format{Codec: "alac", SampleRate: 44100, Channels: 2, BitDepth: 16})
//	n, err := encoder.Encode(payload, pcm)
package encode
