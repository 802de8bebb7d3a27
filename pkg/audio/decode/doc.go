// ABOUTME: Audio decoder package for feeding files into the stream
// ABOUTME: Provides the MP3 reader producing 44.1kHz 16-bit stereo PCM
// Package decode turns compressed audio files into PCM for audioout.
//
// Example:
//
//	f, err := os.Open("song.mp3")
//	pcm, err := decode.NewMP3Reader(f)
//	err = out.Run(ctx, pcm)
package decode
