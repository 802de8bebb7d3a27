// ABOUTME: Shared fakes for airtunes tests
// ABOUTME: Stub sockets, listen hooks, a scripted handshake and a frame source
package airtunes

import (
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/Resonate-Protocol/airtunes-go/pkg/ntp"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

const testBasePort = 46200

type fixedClock ntp.Timestamp

func (c fixedClock) Now() ntp.Timestamp { return ntp.Timestamp(c) }

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testConfig() Config {
	return Config{
		UDPDefaultPort: testBasePort,
		BindAddress:    "127.0.0.1",
		DeviceMagic:    0x12345678,
		Clock:          fixedClock(0x0102030405060708),
		Logger:         quietLogger(),
		Metrics:        NewMetrics(nil),
	}
}

func newTestServers(t *testing.T, config Config) *UDPServers {
	t.Helper()
	s, err := NewUDPServers(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

type bindResult struct {
	ports Ports
	err   error
}

func bindAndWait(t *testing.T, s *UDPServers) bindResult {
	t.Helper()
	ch := make(chan bindResult, 1)
	s.Bind(func(p Ports, err error) { ch <- bindResult{p, err} })
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("bind did not resolve")
		return bindResult{}
	}
}

// stubConn is a PacketConn that never receives and records writes
type stubConn struct {
	addr   net.Addr
	closed chan struct{}
	once   sync.Once

	mu     sync.Mutex
	writes [][]byte
}

func newStubConn(port int) *stubConn {
	return &stubConn{
		addr:   &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port},
		closed: make(chan struct{}),
	}
}

func (c *stubConn) ReadFrom([]byte) (int, net.Addr, error) {
	<-c.closed
	return 0, nil, net.ErrClosed
}

func (c *stubConn) WriteTo(p []byte, _ net.Addr) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, append([]byte(nil), p...))
	return len(p), nil
}

func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *stubConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *stubConn) LocalAddr() net.Addr { return c.addr }
func (c *stubConn) SetDeadline(time.Time) error { return nil }
func (c *stubConn) SetReadDeadline(time.Time) error { return nil }
func (c *stubConn) SetWriteDeadline(time.Time) error { return nil }

// stubListener hands out stub sockets and fails chosen ports
type stubListener struct {
	mu    sync.Mutex
	fail  map[int]error
	conns map[int]*stubConn
	gate  chan struct{}
	calls atomic.Int32
}

func newStubListener() *stubListener {
	return &stubListener{
		fail:  make(map[int]error),
		conns: make(map[int]*stubConn),
	}
}

func bindError(errno syscall.Errno) error {
	return &net.OpError{Op: "listen", Net: "udp4", Err: os.NewSyscallError("bind", errno)}
}

func (l *stubListener) listen(_ string, address string) (net.PacketConn, error) {
	_, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	port, _ := strconv.Atoi(portStr)

	// Ephemeral audio sockets are not counted or gated
	if port != 0 {
		l.calls.Add(1)
		if l.gate != nil {
			<-l.gate
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.fail[port]; err != nil {
		return nil, err
	}
	conn := newStubConn(port)
	if port != 0 {
		l.conns[port] = conn
	}
	return conn, nil
}

func (l *stubListener) conn(port int) *stubConn {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conns[port]
}

// onlyEphemeral listens for real on port 0 and fails everything else with errno
func onlyEphemeral(errno syscall.Errno) ListenFunc {
	return func(network, address string) (net.PacketConn, error) {
		if strings.HasSuffix(address, ":0") {
			return net.ListenPacket(network, address)
		}
		return nil, bindError(errno)
	}
}

// fakeHandshake records calls and lets tests drive events
type fakeHandshake struct {
	started     chan HandshakeParams
	teardownErr error

	mu        sync.Mutex
	emit      func(HandshakeEvent)
	pending   bool
	teardowns int
	volumes   []int
	tracks    []string
	artwork   []string
}

func newFakeHandshake() *fakeHandshake {
	return &fakeHandshake{
		started:     make(chan HandshakeParams, 4),
		teardownErr: ErrTeardown,
	}
}

func (h *fakeHandshake) Start(params HandshakeParams, emit func(HandshakeEvent)) {
	h.mu.Lock()
	h.emit = emit
	pending := h.pending
	h.mu.Unlock()

	h.started <- params
	if pending {
		emit(EndEvent{Err: h.teardownErr})
	}
}

func (h *fakeHandshake) Emit(ev HandshakeEvent) {
	h.mu.Lock()
	emit := h.emit
	h.mu.Unlock()
	emit(ev)
}

// Teardown ends the session; a teardown racing Start ends it once Start runs
func (h *fakeHandshake) Teardown() {
	h.mu.Lock()
	h.teardowns++
	emit := h.emit
	if emit == nil {
		h.pending = true
	}
	h.mu.Unlock()

	if emit != nil {
		emit(EndEvent{Err: h.teardownErr})
	}
}

func (h *fakeHandshake) SetVolume(volume int, done func(error)) {
	h.mu.Lock()
	h.volumes = append(h.volumes, volume)
	h.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (h *fakeHandshake) SetTrackInfo(name, artist, album string, done func(error)) {
	h.mu.Lock()
	h.tracks = append(h.tracks, name+"/"+artist+"/"+album)
	h.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (h *fakeHandshake) SetArtwork(_ []byte, contentType string, done func(error)) {
	h.mu.Lock()
	h.artwork = append(h.artwork, contentType)
	h.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (h *fakeHandshake) waitStarted(t *testing.T) HandshakeParams {
	t.Helper()
	select {
	case p := <-h.started:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("handshake was not started")
		return HandshakeParams{}
	}
}

// fakeFrames is a synchronous FrameSource and SyncSource
type fakeFrames struct {
	mu     sync.Mutex
	next   int
	frames map[int]func(audio.Frame)
	syncs  map[int]func(uint32)
}

func newFakeFrames() *fakeFrames {
	return &fakeFrames{
		frames: make(map[int]func(audio.Frame)),
		syncs:  make(map[int]func(uint32)),
	}
}

func (f *fakeFrames) Subscribe(fn func(audio.Frame)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.frames[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.frames, id)
	}
}

func (f *fakeFrames) OnSyncNeeded(fn func(uint32)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	f.syncs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.syncs, id)
	}
}

func (f *fakeFrames) Emit(frame audio.Frame) {
	f.mu.Lock()
	subs := make([]func(audio.Frame), 0, len(f.frames))
	for _, fn := range f.frames {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(frame)
	}
}

func (f *fakeFrames) Sync(seq uint32) {
	f.mu.Lock()
	subs := make([]func(uint32), 0, len(f.syncs))
	for _, fn := range f.syncs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()
	for _, fn := range subs {
		fn(seq)
	}
}

func (f *fakeFrames) subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

// fakeEncoder copies PCM through unchanged
type fakeEncoder struct {
	closed bool
}

func (e *fakeEncoder) Encode(dst, pcm []byte) (int, error) {
	return copy(dst, pcm), nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return nil
}

// xorCrypto flips every payload byte
type xorCrypto struct{}

func (xorCrypto) EncryptInPlace(buf []byte) {
	for i := range buf {
		buf[i] ^= 0xFF
	}
}

// receiver is a loopback UDP socket standing in for the device
type receiver struct {
	conn net.PacketConn
	port int
}

func newReceiver(t *testing.T) *receiver {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &receiver{conn: conn, port: conn.LocalAddr().(*net.UDPAddr).Port}
}

func (r *receiver) read(t *testing.T) []byte {
	t.Helper()
	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, maxDatagramSize)
	n, _, err := r.conn.ReadFrom(buf)
	require.NoError(t, err)
	return buf[:n]
}

func (r *receiver) expectSilence(t *testing.T, wait time.Duration) {
	t.Helper()
	require.NoError(t, r.conn.SetReadDeadline(time.Now().Add(wait)))
	buf := make([]byte, maxDatagramSize)
	n, _, err := r.conn.ReadFrom(buf)
	require.Error(t, err, "unexpected datagram of %d bytes", n)
}

func (r *receiver) sendTo(t *testing.T, port int, payload []byte) {
	t.Helper()
	_, err := r.conn.WriteTo(payload, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
}
