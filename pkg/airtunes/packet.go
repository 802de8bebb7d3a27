// ABOUTME: Audio packet framing for AirTunes
// ABOUTME: Encodes PCM, optionally encrypts it and prefixes an RTP header
package airtunes

import (
	"fmt"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/audio/encode"
	"github.com/pion/rtp"
)

const (
	// RTPHeaderSize is the fixed audio packet header length
	RTPHeaderSize = 12

	// payloadTypeAudio with the marker bit gives 0x80e0 on the first packet, 0x8060 after
	payloadTypeAudio = 0x60
	rtpVersion       = 2
)

// Framer turns audio frames into wire packets
type Framer struct {
	DeviceMagic    uint32
	MaxPayloadSize int
	Crypto         Encrypter
}

// NewFramer builds a framer from the stream configuration
func NewFramer(config Config, crypto Encrypter) *Framer {
	return &Framer{
		DeviceMagic:    config.DeviceMagic,
		MaxPayloadSize: config.MaxPayloadSize,
		Crypto:         crypto,
	}
}

// Frame encodes frame with enc and returns header ++ payload
func (f *Framer) Frame(frame audio.Frame, enc encode.Encoder, requireEncryption bool) ([]byte, error) {
	if requireEncryption && f.Crypto == nil {
		return nil, ErrEncryptionUnavailable
	}

	packet := make([]byte, RTPHeaderSize+f.MaxPayloadSize)

	n, err := enc.Encode(packet[RTPHeaderSize:], frame.PCM)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame %d: %w", frame.Seq, err)
	}
	if n > f.MaxPayloadSize {
		return nil, fmt.Errorf("coded payload of %d bytes exceeds maximum %d", n, f.MaxPayloadSize)
	}

	if requireEncryption {
		f.Crypto.EncryptInPlace(packet[RTPHeaderSize : RTPHeaderSize+n])
	}

	header := rtp.Header{
		Version:        rtpVersion,
		Marker:         frame.Seq == 0,
		PayloadType:    payloadTypeAudio,
		SequenceNumber: audio.Low16(frame.Seq),
		Timestamp:      frame.Timestamp,
		SSRC:           f.DeviceMagic,
	}

	hn, err := header.MarshalTo(packet[:RTPHeaderSize])
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP header: %w", err)
	}
	if hn != RTPHeaderSize {
		return nil, fmt.Errorf("unexpected RTP header size: %d", hn)
	}

	return packet[:RTPHeaderSize+n], nil
}
