// ABOUTME: Audio frame source for AirTunes devices
// ABOUTME: Paces PCM into sequenced frames and requests periodic control syncs
// Package audioout produces the frame stream consumed by airtunes devices.
//
// An Out reads 16-bit stereo PCM, cuts it into packets of FramesPerPacket
// sample frames and publishes them at real-time pace. Every SyncPeriod frames
// (and on the first one) it asks subscribers to send a control sync.
//
// Example:
//
//	out := audioout.New(audioout.Config{})
//	registry.Attach(out)
//	go out.Run(ctx, os.Stdin)
package audioout
