// ABOUTME: Per-receiver AirTunes session
// ABOUTME: Drives port binding, the handshake, audio relay and resends through a state machine
package airtunes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/audio/encode"
	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"
)

// Status is the state of a device session
type Status string

const (
	StatusIdle          Status = "idle"
	StatusAwaitingPorts Status = "awaiting_ports"
	StatusHandshaking   Status = "handshaking"
	StatusReady         Status = "ready"
	StatusStopped       Status = "stopped"
)

// State machine events
const (
	eventStart = "start"
	eventPorts = "ports"
	eventReady = "ready"
	eventStop  = "stop"
)

// DeviceOptions configures a single receiver
type DeviceOptions struct {
	// Port is the receiver's handshake port (default: 5000)
	Port int

	// Volume handed to the handshake (default: 50)
	Volume int

	// Password for receivers that require one
	Password string
}

// Device streams audio to one AirTunes receiver. A stopped device cannot be
// restarted; create a new one instead.
type Device struct {
	host string
	port int
	key  string
	id   string
	opts DeviceOptions

	service   *UDPServers
	framer    *Framer
	handshake Handshake
	frames    FrameSource
	log       logrus.FieldLogger
	metrics   *Metrics

	mu                sync.Mutex
	machine           *fsm.FSM
	started           bool
	setup             Setup
	encoder           encode.Encoder
	history           *History
	audioConn         net.PacketConn
	serverAddr        net.Addr
	unsubscribeFrames func()
	unsubscribeResend func()
	stopCallbacks     []func()

	listenersMu     sync.Mutex
	statusListeners []func(Status)
	errorListeners  []func(error)
}

// NewDevice creates an idle session for host using the shared service
func NewDevice(host string, opts DeviceOptions, service *UDPServers, collab Collaborators) (*Device, error) {
	if host == "" {
		return nil, ErrHostRequired
	}
	if service == nil {
		return nil, errors.New("udp servers are required")
	}
	if collab.Handshake == nil {
		return nil, errors.New("handshake is required")
	}
	if collab.Frames == nil {
		return nil, errors.New("frame source is required")
	}

	if opts.Port == 0 {
		opts.Port = DefaultDevicePort
	}
	if opts.Volume == 0 {
		opts.Volume = DefaultVolume
	}

	config := service.Config()

	newEncoder := collab.NewEncoder
	if newEncoder == nil {
		newEncoder = func() (encode.Encoder, error) {
			return encode.NewALAC(audio.Format{
				Codec:      "alac",
				SampleRate: config.SamplingRate,
				Channels:   audio.DefaultChannels,
				BitDepth:   audio.DefaultBitDepth,
			})
		}
	}
	encoder, err := newEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create encoder: %w", err)
	}

	key := deviceKey(host, opts.Port)
	id := uuid.New().String()

	d := &Device{
		host:      host,
		port:      opts.Port,
		key:       key,
		id:        id,
		opts:      opts,
		service:   service,
		framer:    NewFramer(config, collab.Crypto),
		handshake: collab.Handshake,
		frames:    collab.Frames,
		metrics:   config.Metrics,
		encoder:   encoder,
		history:   NewHistory(config.HistorySize),
		log: config.Logger.WithFields(logrus.Fields{
			"device":     key,
			"session_id": id,
		}),
	}
	d.machine = d.newStateMachine()

	return d, nil
}

// deviceKey identifies a receiver by host and handshake port
func deviceKey(host string, port int) string {
	if port == 0 {
		port = DefaultDevicePort
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func (d *Device) newStateMachine() *fsm.FSM {
	return fsm.NewFSM(
		string(StatusIdle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(StatusIdle)}, Dst: string(StatusAwaitingPorts)},
			{Name: eventPorts, Src: []string{string(StatusAwaitingPorts)}, Dst: string(StatusHandshaking)},
			{Name: eventReady, Src: []string{string(StatusHandshaking)}, Dst: string(StatusReady)},
			{Name: eventStop, Src: []string{
				string(StatusIdle),
				string(StatusAwaitingPorts),
				string(StatusHandshaking),
				string(StatusReady),
			}, Dst: string(StatusStopped)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				d.log.WithFields(logrus.Fields{
					"event": e.Event,
					"from":  e.Src,
					"to":    e.Dst,
				}).Debug("Device state changed")
			},
		},
	)
}

// Host returns the receiver host
func (d *Device) Host() string { return d.host }

// Port returns the receiver handshake port
func (d *Device) Port() int { return d.port }

// Key returns host:port, unique per receiver
func (d *Device) Key() string { return d.key }

// ID returns the session identifier used in logs
func (d *Device) ID() string { return d.id }

// Status returns the current session state
func (d *Device) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.statusLocked()
}

// Setup returns the parameters negotiated by the handshake
func (d *Device) Setup() Setup {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setup
}

// RequireEncryption reports whether the receiver asked for encrypted audio
func (d *Device) RequireEncryption() bool {
	return d.Setup().RequireEncryption
}

func (d *Device) statusLocked() Status {
	return Status(d.machine.Current())
}

func (d *Device) fire(event string) error {
	return d.machine.Event(context.Background(), event)
}

// OnStatus registers a status listener. Listeners are dropped once the session stops.
func (d *Device) OnStatus(fn func(Status)) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.statusListeners = append(d.statusListeners, fn)
}

// OnError registers an error listener. Listeners are dropped once the session stops.
func (d *Device) OnError(fn func(error)) {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.errorListeners = append(d.errorListeners, fn)
}

func (d *Device) emitStatus(status Status) {
	d.listenersMu.Lock()
	listeners := append([]func(Status){}, d.statusListeners...)
	d.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(status)
	}
}

func (d *Device) emitError(err error) {
	d.listenersMu.Lock()
	listeners := append([]func(error){}, d.errorListeners...)
	d.listenersMu.Unlock()

	for _, fn := range listeners {
		fn(err)
	}
}

func (d *Device) clearListeners() {
	d.listenersMu.Lock()
	defer d.listenersMu.Unlock()
	d.statusListeners = nil
	d.errorListeners = nil
}

// Start opens the audio socket and asks the shared service for ports.
// The handshake begins once they are known.
func (d *Device) Start() error {
	if d.host == "" {
		return ErrHostRequired
	}

	d.mu.Lock()
	if !d.machine.Can(eventStart) {
		status := d.statusLocked()
		d.mu.Unlock()
		return fmt.Errorf("cannot start device %s in state %s", d.key, status)
	}

	config := d.service.Config()
	conn, err := config.Listen("udp4", net.JoinHostPort(config.BindAddress, "0"))
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to open audio socket: %w", err)
	}
	d.audioConn = conn

	if err := d.fire(eventStart); err != nil {
		d.audioConn = nil
		d.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("failed to start device %s: %w", d.key, err)
	}
	d.started = true
	d.mu.Unlock()

	d.metrics.sessionsActive.Inc()
	d.log.Info("Starting device session")

	d.service.Bind(d.onPorts)
	return nil
}

func (d *Device) onPorts(ports Ports, err error) {
	d.mu.Lock()
	if d.statusLocked() != StatusAwaitingPorts {
		d.mu.Unlock()
		return
	}

	if err != nil {
		d.mu.Unlock()
		d.finish(&SessionError{Kind: ErrorKindUDPPorts, Code: errorCode(err), Err: err})
		return
	}

	if err := d.fire(eventPorts); err != nil {
		d.mu.Unlock()
		d.log.WithError(err).Warn("Unexpected ports transition failure")
		return
	}
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"control_port": ports.Control,
		"timing_port":  ports.Timing,
	}).Debug("Ports available, starting handshake")

	d.handshake.Start(HandshakeParams{
		Host:        d.host,
		Port:        d.port,
		Volume:      d.opts.Volume,
		Password:    d.opts.Password,
		ControlPort: ports.Control,
		TimingPort:  ports.Timing,
	}, d.HandleHandshakeEvent)
}

// HandleHandshakeEvent is the single entry point for handshake progress
func (d *Device) HandleHandshakeEvent(ev HandshakeEvent) {
	switch e := ev.(type) {
	case ConfigEvent:
		d.mu.Lock()
		if d.statusLocked() == StatusHandshaking {
			d.setup = e.Setup
		}
		d.mu.Unlock()

	case ReadyEvent:
		d.becomeReady()

	case EndEvent:
		d.finish(e.Err)
	}
}

func (d *Device) becomeReady() {
	d.mu.Lock()
	if !d.machine.Can(eventReady) {
		d.mu.Unlock()
		return
	}

	serverAddr, err := net.ResolveUDPAddr("udp4", net.JoinHostPort(d.host, strconv.Itoa(d.setup.ServerPort)))
	if err != nil {
		d.mu.Unlock()
		d.finish(fmt.Errorf("failed to resolve audio server address: %w", err))
		return
	}
	d.serverAddr = serverAddr
	setup := d.setup

	if err := d.fire(eventReady); err != nil {
		d.mu.Unlock()
		d.log.WithError(err).Warn("Unexpected ready transition failure")
		return
	}
	d.mu.Unlock()

	d.log.WithFields(logrus.Fields{
		"server_port":        setup.ServerPort,
		"require_encryption": setup.RequireEncryption,
		"latency":            setup.AudioLatency,
	}).Info("Device ready, relaying audio")
	d.emitStatus(StatusReady)

	unsubscribeFrames := d.frames.Subscribe(d.relay)
	unsubscribeResend := d.service.OnResendRequested(d.resend)

	d.mu.Lock()
	if d.statusLocked() != StatusReady {
		// Stopped while subscribing
		d.mu.Unlock()
		unsubscribeFrames()
		unsubscribeResend()
		return
	}
	d.unsubscribeFrames = unsubscribeFrames
	d.unsubscribeResend = unsubscribeResend
	d.mu.Unlock()
}

// relay frames, sends and records one audio packet
func (d *Device) relay(frame audio.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.statusLocked() != StatusReady {
		return
	}

	packet, err := d.framer.Frame(frame, d.encoder, d.setup.RequireEncryption)
	if err != nil {
		d.log.WithError(err).WithField("seq", frame.Seq).Warn("Failed to build audio packet")
		return
	}

	if _, err := d.audioConn.WriteTo(packet, d.serverAddr); err != nil {
		d.log.WithError(err).WithField("seq", frame.Seq).Warn("Failed to send audio packet")
	} else {
		d.metrics.packetsSent.WithLabelValues(d.key).Inc()
	}

	d.history.Add(audio.Low16(frame.Seq), packet)
}

// resend replays count packets starting at missedSeq; evicted ones are skipped
func (d *Device) resend(missedSeq, count uint16) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.statusLocked() != StatusReady {
		return
	}

	for i := 0; i < int(count); i++ {
		seq := missedSeq + uint16(i)

		packet, ok := d.history.GetLatestNamed(seq)
		if !ok {
			d.metrics.resendMisses.WithLabelValues(d.key).Inc()
			d.log.WithField("seq", seq).Debug("Packet no longer in history, skipping resend")
			continue
		}

		if _, err := d.audioConn.WriteTo(packet, d.serverAddr); err != nil {
			d.log.WithError(err).WithField("seq", seq).Warn("Failed to resend audio packet")
			continue
		}
		d.metrics.packetsResent.WithLabelValues(d.key).Inc()
	}
}

// OnSyncNeeded sends a control sync for seq to this receiver
func (d *Device) OnSyncNeeded(seq uint32) error {
	d.mu.Lock()
	if d.statusLocked() != StatusReady {
		d.mu.Unlock()
		return ErrNotReady
	}
	target := SyncTarget{
		Host:        d.host,
		ControlPort: d.setup.ControlPort,
		Latency:     d.setup.AudioLatency,
	}
	d.mu.Unlock()

	return d.service.SendControlSync(seq, target)
}

// Stop tears the session down. done runs once the session has stopped.
func (d *Device) Stop(done func()) error {
	d.mu.Lock()
	status := d.statusLocked()
	if status == StatusStopped {
		d.mu.Unlock()
		return ErrSessionStopped
	}
	if done != nil {
		d.stopCallbacks = append(d.stopCallbacks, done)
	}
	d.mu.Unlock()

	if status != StatusHandshaking && status != StatusReady {
		// No handshake to tear down; its end event will never come
		d.finish(ErrTeardown)
		return nil
	}

	d.log.Info("Tearing down device session")
	d.handshake.Teardown()
	return nil
}

// finish moves to STOPPED, releases resources and notifies listeners once
func (d *Device) finish(cause error) {
	d.mu.Lock()
	if d.statusLocked() == StatusStopped {
		d.mu.Unlock()
		return
	}
	if err := d.fire(eventStop); err != nil {
		d.mu.Unlock()
		d.log.WithError(err).Warn("Unexpected stop transition failure")
		return
	}

	started := d.started
	d.releaseLocked()
	callbacks := d.stopCallbacks
	d.stopCallbacks = nil
	d.mu.Unlock()

	if started {
		d.metrics.sessionsActive.Dec()
	}

	entry := d.log
	if cause != nil {
		entry = entry.WithError(cause)
	}
	entry.Info("Device session stopped")

	d.emitStatus(StatusStopped)
	if cause != nil && !errors.Is(cause, ErrTeardown) {
		d.metrics.sessionErrors.WithLabelValues(errorKind(cause)).Inc()
		d.emitError(cause)
	}
	d.clearListeners()

	for _, cb := range callbacks {
		cb()
	}
}

func (d *Device) releaseLocked() {
	if d.unsubscribeFrames != nil {
		d.unsubscribeFrames()
		d.unsubscribeFrames = nil
	}
	if d.unsubscribeResend != nil {
		d.unsubscribeResend()
		d.unsubscribeResend = nil
	}
	if d.audioConn != nil {
		_ = d.audioConn.Close()
		d.audioConn = nil
	}
	if d.encoder != nil {
		_ = d.encoder.Close()
		d.encoder = nil
	}
}

// SetVolume forwards to the handshake once the session is ready
func (d *Device) SetVolume(volume int, done func(error)) error {
	if d.Status() != StatusReady {
		return ErrNotReady
	}
	d.handshake.SetVolume(volume, done)
	return nil
}

// SetTrackInfo forwards track metadata once the session is ready
func (d *Device) SetTrackInfo(name, artist, album string, done func(error)) error {
	if d.Status() != StatusReady {
		return ErrNotReady
	}
	d.handshake.SetTrackInfo(name, artist, album, done)
	return nil
}

// SetArtwork forwards cover art once the session is ready
func (d *Device) SetArtwork(art []byte, contentType string, done func(error)) error {
	if d.Status() != StatusReady {
		return ErrNotReady
	}
	d.handshake.SetArtwork(art, contentType, done)
	return nil
}
