// ABOUTME: Tests for the paced frame producer
// ABOUTME: Tests sequencing, timestamps, sync requests and end of input
package audioout

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestDefaults(t *testing.T) {
	o := New(Config{Logger: quietLogger()})

	assert.Equal(t, 352*4, o.PacketSize())
	assert.Equal(t, 352*time.Second/44100, o.PacketDuration())
	assert.Equal(t, uint32(0), o.Seq())
}

func TestEmitSequenceAndTimestamp(t *testing.T) {
	o := New(Config{Logger: quietLogger()})

	var frames []audio.Frame
	o.Subscribe(func(f audio.Frame) { frames = append(frames, f) })

	o.Emit(make([]byte, o.PacketSize()))
	o.Emit(make([]byte, o.PacketSize()))
	o.Emit(make([]byte, o.PacketSize()))

	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, uint32(i), f.Seq)
		assert.Equal(t, uint32(i*352+44100*2), f.Timestamp)
	}
	assert.Equal(t, uint32(3), o.Seq())
}

func TestSyncRequestedEverySyncPeriod(t *testing.T) {
	o := New(Config{SyncPeriod: 3, Logger: quietLogger()})

	var events []string
	o.OnSyncNeeded(func(seq uint32) { events = append(events, "sync") })
	o.Subscribe(func(f audio.Frame) { events = append(events, "frame") })

	var syncs []uint32
	o.OnSyncNeeded(func(seq uint32) { syncs = append(syncs, seq) })

	for i := 0; i < 7; i++ {
		o.Emit(nil)
	}

	assert.Equal(t, []uint32{0, 3, 6}, syncs)
	// Sync is requested before the frame it precedes
	assert.Equal(t, []string{"sync", "frame", "frame"}, events[:3])
}

func TestUnsubscribe(t *testing.T) {
	o := New(Config{Logger: quietLogger()})

	var a, b int
	unsubA := o.Subscribe(func(audio.Frame) { a++ })
	o.Subscribe(func(audio.Frame) { b++ })

	o.Emit(nil)
	unsubA()
	unsubA()
	o.Emit(nil)

	assert.Equal(t, 1, a)
	assert.Equal(t, 2, b)
}

func TestRunPadsFinalPacketAndStopsAtEOF(t *testing.T) {
	o := New(Config{FramesPerPacket: 4, SamplingRate: 44100, Logger: quietLogger()})

	input := bytes.Repeat([]byte{0x11}, o.PacketSize()+6)

	var frames []audio.Frame
	o.Subscribe(func(f audio.Frame) { frames = append(frames, f) })

	err := o.Run(context.Background(), bytes.NewReader(input))
	require.NoError(t, err)

	require.Len(t, frames, 2)
	assert.Equal(t, bytes.Repeat([]byte{0x11}, 16), frames[0].PCM)

	want := append(bytes.Repeat([]byte{0x11}, 6), make([]byte, 10)...)
	assert.Equal(t, want, frames[1].PCM)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("device unplugged") }

func TestRunReturnsReadError(t *testing.T) {
	o := New(Config{Logger: quietLogger()})

	err := o.Run(context.Background(), failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device unplugged")
}

func TestRunStopsOnContextCancel(t *testing.T) {
	o := New(Config{Logger: quietLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	received := make(chan struct{}, 1)
	o.Subscribe(func(audio.Frame) {
		select {
		case received <- struct{}{}:
		default:
		}
	})

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx, NewToneReader(0, 0)) }()

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("no frame produced")
	}
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestToneReader(t *testing.T) {
	r := NewToneReader(1000, 44100)

	buf := make([]byte, 4*100+2)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, len(buf), n)

	// First sample is sin(0)
	assert.Equal(t, int16(0), audio.SampleAt(buf, 0))

	for i := 0; i < 100; i++ {
		left := audio.SampleAt(buf, 2*i)
		right := audio.SampleAt(buf, 2*i+1)
		assert.Equal(t, left, right)
		assert.LessOrEqual(t, int(left), 16384)
		assert.GreaterOrEqual(t, int(left), -16384)
	}
	assert.NotEqual(t, int16(0), audio.SampleAt(buf, 2*10))
}
