// ABOUTME: Configuration for the AirTunes protocol engine
// ABOUTME: Holds stream constants, port probing settings and injected dependencies
package airtunes

import (
	"fmt"
	"math/rand"
	"net"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/ntp"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultUDPPort is the first port probed for the control socket
	DefaultUDPPort = 6002

	// DefaultPortProbeRange bounds how many ports are tried before giving up
	DefaultPortProbeRange = 100

	// DefaultHistorySize is the recommended retransmission window in packets
	DefaultHistorySize = 1000

	// DefaultDevicePort is the receiver's RTSP port
	DefaultDevicePort = 5000

	// DefaultVolume is handed to the handshake when none is given
	DefaultVolume = 50
)

// Clock samples the local synchronized clock
type Clock interface {
	Now() ntp.Timestamp
}

// ListenFunc opens a packet socket bound to address
type ListenFunc func(network, address string) (net.PacketConn, error)

// Config configures the shared UDP servers and every device bound to them
type Config struct {
	// UDPDefaultPort is where port probing starts (default: 6002)
	UDPDefaultPort int

	// PortProbeRange is the number of ports probed from UDPDefaultPort (default: 100)
	PortProbeRange int

	// BindAddress is the local address sockets bind to (default: all interfaces)
	BindAddress string

	// DeviceMagic is the SSRC carried by every audio packet (default: random)
	DeviceMagic uint32

	// FramesPerPacket is the number of stereo sample frames per packet (default: 352)
	FramesPerPacket int

	// SamplingRate of the stream in Hz (default: 44100)
	SamplingRate int

	// MaxPayloadSize caps the coded payload (default: FramesPerPacket*4 + 8)
	MaxPayloadSize int

	// HistorySize is the per-device retransmission window (default: 1000)
	HistorySize int

	// Clock provides NTP timestamps for timing replies and sync packets
	Clock Clock

	// Listen opens UDP sockets; tests replace it to observe binding
	Listen ListenFunc

	// Logger receives structured logs (default: logrus standard logger)
	Logger logrus.FieldLogger

	// Metrics collects protocol counters (default: private registry)
	Metrics *Metrics
}

func (c *Config) applyDefaults() {
	if c.UDPDefaultPort == 0 {
		c.UDPDefaultPort = DefaultUDPPort
	}
	if c.PortProbeRange == 0 {
		c.PortProbeRange = DefaultPortProbeRange
	}
	for c.DeviceMagic == 0 {
		c.DeviceMagic = rand.Uint32()
	}
	if c.FramesPerPacket == 0 {
		c.FramesPerPacket = audio.DefaultFramesPerPacket
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = audio.DefaultSampleRate
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = c.FramesPerPacket*audio.BytesPerFrame + 8
	}
	if c.HistorySize == 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.Clock == nil {
		c.Clock = ntp.SystemClock{}
	}
	if c.Listen == nil {
		c.Listen = net.ListenPacket
	}
	if c.Logger == nil {
		c.Logger = logrus.StandardLogger()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
}

// Validate checks the configuration after defaults are applied
func (c *Config) Validate() error {
	if c.UDPDefaultPort < 1 || c.UDPDefaultPort > 65535 {
		return fmt.Errorf("invalid UDP default port: %d", c.UDPDefaultPort)
	}
	if c.PortProbeRange < 2 {
		return fmt.Errorf("port probe range must cover at least 2 ports, got %d", c.PortProbeRange)
	}
	if c.FramesPerPacket < 1 {
		return fmt.Errorf("invalid frames per packet: %d", c.FramesPerPacket)
	}
	if c.SamplingRate < 1 {
		return fmt.Errorf("invalid sampling rate: %d", c.SamplingRate)
	}
	if c.MaxPayloadSize < 1 {
		return fmt.Errorf("invalid max payload size: %d", c.MaxPayloadSize)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("invalid history size: %d", c.HistorySize)
	}
	return nil
}
