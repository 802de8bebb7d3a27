// ABOUTME: Shared timing and control UDP servers
// ABOUTME: Binds both sockets with port probing, answers timing probes and relays resend requests
package airtunes

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/ntp"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Wire layout of the timing reply (32 bytes)
const (
	timingReplySize       = 32
	timingReplyMarker     = 0x80d3
	timingLengthField     = 0x0007
	timingReplyOriginOff  = 8  // echo of request bytes [24:28]
	timingReplyZeroOff    = 12 // explicitly zero
	timingReplyReceiveOff = 16
	timingReplySendOff    = 24
	timingRequestEchoOff  = 24
	timingRequestMinSize  = timingRequestEchoOff + 4
)

// Wire layout of control packets
const (
	controlSyncSize      = 20
	controlSyncMarker    = 0x80d4
	controlResendMarker  = 0x80 | 0x55
	controlResendMinSize = 8
	controlSyncRTPOff    = 4
	controlSyncNTPOff    = 8
	controlSyncNowOff    = 16
)

const maxDatagramSize = 2048

// BindStatus is the binding state of the UDP servers
type BindStatus int

const (
	Unbound BindStatus = iota
	Binding
	Bound
)

func (s BindStatus) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Binding:
		return "binding"
	case Bound:
		return "bound"
	default:
		return "unknown"
	}
}

// Ports are the locally bound control and timing ports
type Ports struct {
	Control int
	Timing  int
}

// PortsHandler is called once when a Bind request resolves
type PortsHandler func(Ports, error)

// ResendHandler receives resend requests from receivers
type ResendHandler func(missedSeq, count uint16)

// SyncTarget identifies where a control sync goes and the latency to apply
type SyncTarget struct {
	Host        string
	ControlPort int
	Latency     uint32
}

type endpoint struct {
	name string
	conn net.PacketConn
	port int
}

// UDPServers owns the timing and control sockets shared by all devices.
// Create one per process and hand it to every Device.
type UDPServers struct {
	config  Config
	id      string
	log     logrus.FieldLogger
	metrics *Metrics

	mu         sync.Mutex
	status     BindStatus
	control    endpoint
	timing     endpoint
	waiters    []PortsHandler
	generation uint64
	resendSubs map[uint64]ResendHandler
	nextSubID  uint64
}

// NewUDPServers creates unbound UDP servers
func NewUDPServers(config Config) (*UDPServers, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	id := uuid.New().String()
	return &UDPServers{
		config:     config,
		id:         id,
		log:        config.Logger.WithField("udp_servers", id),
		metrics:    config.Metrics,
		control:    endpoint{name: "control"},
		timing:     endpoint{name: "timing"},
		resendSubs: make(map[uint64]ResendHandler),
	}, nil
}

// Config returns the configuration with defaults applied
func (s *UDPServers) Config() Config {
	return s.config
}

// Status returns the current binding state
func (s *UDPServers) Status() BindStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Ports returns the bound ports, or false if not bound
func (s *UDPServers) Ports() (Ports, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != Bound {
		return Ports{}, false
	}
	return s.portsLocked(), true
}

func (s *UDPServers) portsLocked() Ports {
	return Ports{Control: s.control.port, Timing: s.timing.port}
}

// Bind makes sure both sockets are bound and calls fn with their ports.
// fn always runs on another goroutine. Concurrent calls share one attempt.
func (s *UDPServers) Bind(fn PortsHandler) {
	s.mu.Lock()
	switch s.status {
	case Bound:
		ports := s.portsLocked()
		s.mu.Unlock()
		go fn(ports, nil)
		return
	case Binding:
		s.waiters = append(s.waiters, fn)
		s.mu.Unlock()
		return
	}

	s.status = Binding
	s.waiters = append(s.waiters, fn)
	s.generation++
	gen := s.generation
	s.mu.Unlock()

	s.log.WithField("port", s.config.UDPDefaultPort).Info("Binding timing and control ports")
	go s.bindPorts(gen)
}

// bindPorts probes control first, then timing from the next port up
func (s *UDPServers) bindPorts(gen uint64) {
	limit := s.config.UDPDefaultPort + s.config.PortProbeRange

	control, controlPort, err := s.probe("control", s.config.UDPDefaultPort, limit)

	var timing net.PacketConn
	var timingPort int
	if err == nil {
		timing, timingPort, err = s.probe("timing", controlPort+1, limit)
		if err != nil {
			_ = control.Close()
		}
	}

	s.mu.Lock()
	if gen != s.generation {
		// Closed while binding; the waiters were already told
		s.mu.Unlock()
		if err == nil {
			_ = control.Close()
			_ = timing.Close()
		}
		return
	}

	waiters := s.waiters
	s.waiters = nil

	if err != nil {
		s.status = Unbound
		s.mu.Unlock()

		s.metrics.portBinds.WithLabelValues("failure").Inc()
		s.log.WithError(err).Error("Failed to bind timing and control ports")
		for _, w := range waiters {
			w(Ports{}, err)
		}
		return
	}

	s.control = endpoint{name: "control", conn: control, port: controlPort}
	s.timing = endpoint{name: "timing", conn: timing, port: timingPort}
	s.status = Bound
	ports := s.portsLocked()
	s.mu.Unlock()

	s.metrics.portBinds.WithLabelValues("success").Inc()
	s.log.WithFields(logrus.Fields{
		"control_port": ports.Control,
		"timing_port":  ports.Timing,
	}).Info("Timing and control ports bound")

	go s.serve(control, s.handleControl)
	go s.serve(timing, s.handleTiming)

	for _, w := range waiters {
		w(ports, nil)
	}
}

// probe tries ports sequentially, skipping ones already in use
func (s *UDPServers) probe(name string, start, limit int) (net.PacketConn, int, error) {
	for port := start; port < limit && port <= 65535; port++ {
		addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(port))
		conn, err := s.config.Listen("udp4", addr)
		if err == nil {
			return conn, port, nil
		}
		if isAddrInUse(err) {
			s.log.WithFields(logrus.Fields{"socket": name, "port": port}).Debug("Port in use, trying next")
			continue
		}
		return nil, 0, fmt.Errorf("failed to bind %s socket on port %d: %w", name, port, err)
	}
	return nil, 0, fmt.Errorf("%w: %s socket, ports %d-%d", ErrPortsExhausted, name, start, limit-1)
}

// Close releases both sockets. Pending Bind callers get ErrServiceClosed on
// their own goroutines.
func (s *UDPServers) Close() error {
	s.mu.Lock()
	switch s.status {
	case Unbound:
		s.mu.Unlock()
		return nil
	case Binding:
		s.status = Unbound
		s.generation++
		waiters := s.waiters
		s.waiters = nil
		s.mu.Unlock()

		for _, w := range waiters {
			go w(Ports{}, ErrServiceClosed)
		}
		return nil
	}

	s.status = Unbound
	control, timing := s.control.conn, s.timing.conn
	s.control = endpoint{name: "control"}
	s.timing = endpoint{name: "timing"}
	s.mu.Unlock()

	s.log.Info("Closing timing and control ports")
	return errors.Join(timing.Close(), control.Close())
}

// OnResendRequested subscribes fn to resend requests from any receiver
func (s *UDPServers) OnResendRequested(fn ResendHandler) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.resendSubs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.resendSubs, id)
		s.mu.Unlock()
	}
}

// SendControlSync sends a sync packet for seq to target. It does nothing
// unless the servers are bound.
func (s *UDPServers) SendControlSync(seq uint32, target SyncTarget) error {
	s.mu.Lock()
	if s.status != Bound {
		s.mu.Unlock()
		return nil
	}
	conn := s.control.conn
	s.mu.Unlock()

	addr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(target.Host, strconv.Itoa(target.ControlPort)))
	if err != nil {
		return fmt.Errorf("failed to resolve control address: %w", err)
	}

	packet := buildControlSync(seq, target.Latency, s.config.FramesPerPacket, s.config.SamplingRate, s.config.Clock.Now())
	if _, err := conn.WriteTo(packet[:], addr); err != nil {
		return fmt.Errorf("failed to send control sync: %w", err)
	}

	s.metrics.controlSyncs.Inc()
	return nil
}

func (s *UDPServers) serve(conn net.PacketConn, handle func(net.PacketConn, []byte, net.Addr)) {
	buf := make([]byte, maxDatagramSize)
	for {
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.WithError(err).Warn("UDP read error")
			continue
		}
		handle(conn, buf[:n], addr)
	}
}

func (s *UDPServers) handleTiming(conn net.PacketConn, msg []byte, addr net.Addr) {
	if len(msg) < timingRequestMinSize {
		s.log.WithFields(logrus.Fields{"remote": addr.String(), "size": len(msg)}).Debug("Ignoring short timing request")
		return
	}

	reply := buildTimingReply(msg, s.config.Clock.Now())
	if _, err := conn.WriteTo(reply[:], addr); err != nil {
		s.log.WithError(err).WithField("remote", addr.String()).Warn("Failed to send timing reply")
		return
	}
	s.metrics.timingReplies.Inc()
}

func (s *UDPServers) handleControl(_ net.PacketConn, msg []byte, addr net.Addr) {
	missedSeq, count, ok := parseResendRequest(msg)
	if !ok {
		return
	}

	s.metrics.resendRequests.Inc()
	s.log.WithFields(logrus.Fields{
		"remote":     addr.String(),
		"missed_seq": missedSeq,
		"count":      count,
	}).Debug("Resend requested")

	s.mu.Lock()
	subs := make([]ResendHandler, 0, len(s.resendSubs))
	for _, fn := range s.resendSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, fn := range subs {
		fn(missedSeq, count)
	}
}

// buildTimingReply answers a timing probe. Receive and transmit timestamps
// carry the same clock sample.
func buildTimingReply(request []byte, now ntp.Timestamp) [timingReplySize]byte {
	var reply [timingReplySize]byte

	binary.BigEndian.PutUint16(reply[0:2], timingReplyMarker)
	binary.BigEndian.PutUint16(reply[2:4], timingLengthField)
	binary.BigEndian.PutUint32(reply[4:8], 0)
	copy(reply[timingReplyOriginOff:timingReplyOriginOff+4], request[timingRequestEchoOff:timingRequestEchoOff+4])
	binary.BigEndian.PutUint32(reply[timingReplyZeroOff:timingReplyZeroOff+4], 0)
	now.Put(reply[timingReplyReceiveOff:])
	now.Put(reply[timingReplySendOff:])

	return reply
}

// buildControlSync lays out a sync packet; all arithmetic wraps at 32 bits
func buildControlSync(seq, latency uint32, framesPerPacket, samplingRate int, clock ntp.Timestamp) [controlSyncSize]byte {
	var packet [controlSyncSize]byte

	now := audio.Low32(uint64(seq)*uint64(framesPerPacket) + uint64(samplingRate)*2)

	binary.BigEndian.PutUint16(packet[0:2], controlSyncMarker)
	binary.BigEndian.PutUint16(packet[2:4], timingLengthField)
	binary.BigEndian.PutUint32(packet[controlSyncRTPOff:], now-latency)
	clock.Put(packet[controlSyncNTPOff:])
	binary.BigEndian.PutUint32(packet[controlSyncNowOff:], now)

	return packet
}

// parseResendRequest extracts the missed range from a control datagram
func parseResendRequest(msg []byte) (missedSeq, count uint16, ok bool) {
	if len(msg) < controlResendMinSize || msg[1] != controlResendMarker {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(msg[4:6]), binary.BigEndian.Uint16(msg[6:8]), true
}
