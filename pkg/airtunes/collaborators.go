// ABOUTME: Contracts for the components the engine drives but does not own
// ABOUTME: Handshake, frame source, encrypter and sync source interfaces
package airtunes

import (
	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/audio/encode"
)

// Setup holds the parameters negotiated by the handshake
type Setup struct {
	AudioLatency      uint32
	RequireEncryption bool
	ServerPort        int
	ControlPort       int
	TimingPort        int
}

// HandshakeParams is what a handshake needs to reach a receiver
type HandshakeParams struct {
	Host        string
	Port        int
	Volume      int
	Password    string
	ControlPort int
	TimingPort  int
}

// HandshakeEvent is one of ConfigEvent, ReadyEvent or EndEvent
type HandshakeEvent interface {
	handshakeEvent()
}

// ConfigEvent delivers the negotiated setup
type ConfigEvent struct {
	Setup Setup
}

// ReadyEvent signals that audio may flow
type ReadyEvent struct{}

// EndEvent signals the control channel is gone. Err is ErrTeardown (or nil)
// after an intentional teardown.
type EndEvent struct {
	Err error
}

func (ConfigEvent) handshakeEvent() {}
func (ReadyEvent) handshakeEvent()  {}
func (EndEvent) handshakeEvent()    {}

// Handshake negotiates a session with a receiver over its control channel.
// Implementations report progress by calling emit, from any goroutine.
type Handshake interface {
	Start(params HandshakeParams, emit func(HandshakeEvent))
	Teardown()
	SetVolume(volume int, done func(error))
	SetTrackInfo(name, artist, album string, done func(error))
	SetArtwork(art []byte, contentType string, done func(error))
}

// FrameSource publishes audio frames in production order
type FrameSource interface {
	Subscribe(fn func(audio.Frame)) (unsubscribe func())
}

// SyncSource asks for control sync packets at the given sequence
type SyncSource interface {
	OnSyncNeeded(fn func(seq uint32)) (unsubscribe func())
}

// Encrypter transforms a payload in place without changing its length
type Encrypter interface {
	EncryptInPlace(buf []byte)
}

// EncoderFactory creates a codec handle owned by one device
type EncoderFactory func() (encode.Encoder, error)

// Collaborators are the external components a Device works with
type Collaborators struct {
	Handshake  Handshake
	Frames     FrameSource
	Crypto     Encrypter      // optional; needed when the receiver requires encryption
	NewEncoder EncoderFactory // optional; defaults to uncompressed ALAC
}
