// ABOUTME: AirTunes streaming engine
// ABOUTME: Sessions, shared timing/control servers, packet framing and resend history
// Package airtunes streams PCM audio to AirTunes receivers.
//
// The package is built from four parts:
//   - UDPServers: the timing and control sockets shared by every session
//   - Device: one session per receiver, from port binding through teardown
//   - Framer: turns an audio frame into an RTP-style wire packet
//   - History: the window of sent packets used to answer resend requests
//
// A Registry ties sessions to the shared servers so that the servers are only
// bound while at least one receiver is active.
//
// The handshake with the receiver, the frame producer and payload encryption
// are supplied by the caller through Collaborators.
//
// Example:
//
//	servers, err := airtunes.NewUDPServers(airtunes.Config{})
//	registry := airtunes.NewRegistry(servers)
//	registry.Attach(out)
//
//	dev, err := registry.Add("192.168.1.20", airtunes.DeviceOptions{Volume: 40}, airtunes.Collaborators{
//	    Handshake: rtspClient,
//	    Frames:    out,
//	    Crypto:    cbc,
//	})
//	dev.OnStatus(func(s airtunes.Status) { log.Printf("device %s", s) })
package airtunes
