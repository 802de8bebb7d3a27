// ABOUTME: Paced audio frame producer
// ABOUTME: Cuts PCM from a reader into sequenced frames and signals when sync is due
package audioout

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/airtunes-go/pkg/audio"
	"github.com/sirupsen/logrus"
)

// DefaultSyncPeriod is the number of frames between control sync requests
const DefaultSyncPeriod = 126

// Config configures an Out
type Config struct {
	// FramesPerPacket is the number of stereo sample frames per packet (default: 352)
	FramesPerPacket int

	// SamplingRate in Hz (default: 44100)
	SamplingRate int

	// SyncPeriod is the number of frames between sync requests (default: 126)
	SyncPeriod int

	// Logger receives structured logs (default: logrus standard logger)
	Logger logrus.FieldLogger
}

// Out reads PCM and publishes one frame per packet interval
type Out struct {
	config Config
	log    logrus.FieldLogger

	mu          sync.Mutex
	seq         uint32
	nextSubID   uint64
	packetSubs  map[uint64]func(audio.Frame)
	syncSubs    map[uint64]func(uint32)
	packetOrder []uint64
	syncOrder   []uint64
}

// New creates a frame producer
func New(config Config) *Out {
	if config.FramesPerPacket == 0 {
		config.FramesPerPacket = audio.DefaultFramesPerPacket
	}
	if config.SamplingRate == 0 {
		config.SamplingRate = audio.DefaultSampleRate
	}
	if config.SyncPeriod == 0 {
		config.SyncPeriod = DefaultSyncPeriod
	}
	if config.Logger == nil {
		config.Logger = logrus.StandardLogger()
	}

	return &Out{
		config:     config,
		log:        config.Logger.WithField("component", "audioout"),
		packetSubs: make(map[uint64]func(audio.Frame)),
		syncSubs:   make(map[uint64]func(uint32)),
	}
}

// PacketSize is the PCM byte count of one frame
func (o *Out) PacketSize() int {
	return o.config.FramesPerPacket * audio.BytesPerFrame
}

// PacketDuration is the playback time of one frame
func (o *Out) PacketDuration() time.Duration {
	return time.Duration(o.config.FramesPerPacket) * time.Second / time.Duration(o.config.SamplingRate)
}

// Subscribe registers fn for every frame, in production order
func (o *Out) Subscribe(fn func(audio.Frame)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	o.packetSubs[id] = fn
	o.packetOrder = append(o.packetOrder, id)

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.packetSubs, id)
		o.packetOrder = removeID(o.packetOrder, id)
	}
}

// OnSyncNeeded registers fn for sync requests
func (o *Out) OnSyncNeeded(fn func(seq uint32)) (unsubscribe func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.nextSubID
	o.nextSubID++
	o.syncSubs[id] = fn
	o.syncOrder = append(o.syncOrder, id)

	return func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		delete(o.syncSubs, id)
		o.syncOrder = removeID(o.syncOrder, id)
	}
}

func removeID(ids []uint64, id uint64) []uint64 {
	for i, v := range ids {
		if v == id {
			return append(ids[:i:i], ids[i+1:]...)
		}
	}
	return ids
}

// Run streams r until EOF, a read error or ctx is done. It returns nil on EOF.
func (o *Out) Run(ctx context.Context, r io.Reader) error {
	ticker := time.NewTicker(o.PacketDuration())
	defer ticker.Stop()

	o.log.WithField("packet_duration", o.PacketDuration()).Info("Audio output started")

	for {
		pcm, err := o.readPacket(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				o.log.Info("Audio input ended")
				return nil
			}
			return fmt.Errorf("failed to read audio input: %w", err)
		}

		o.Emit(pcm)

		select {
		case <-ticker.C:
		case <-ctx.Done():
			o.log.Info("Audio output stopping")
			return ctx.Err()
		}
	}
}

// readPacket reads one packet, zero-padding a short final read
func (o *Out) readPacket(r io.Reader) ([]byte, error) {
	pcm := make([]byte, o.PacketSize())
	n, err := io.ReadFull(r, pcm)
	switch {
	case err == nil:
		return pcm, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		clear(pcm[n:])
		return pcm, nil
	default:
		return nil, err
	}
}

// Emit publishes pcm as the next frame without pacing
func (o *Out) Emit(pcm []byte) {
	o.mu.Lock()
	seq := o.seq
	o.seq++
	packetSubs := make([]func(audio.Frame), 0, len(o.packetOrder))
	for _, id := range o.packetOrder {
		packetSubs = append(packetSubs, o.packetSubs[id])
	}
	var syncSubs []func(uint32)
	if seq%uint32(o.config.SyncPeriod) == 0 {
		for _, id := range o.syncOrder {
			syncSubs = append(syncSubs, o.syncSubs[id])
		}
	}
	o.mu.Unlock()

	for _, fn := range syncSubs {
		fn(seq)
	}

	frame := audio.Frame{
		Seq:       seq,
		Timestamp: o.timestamp(seq),
		PCM:       pcm,
	}
	for _, fn := range packetSubs {
		fn(frame)
	}
}

// timestamp runs two seconds ahead of the sequence, matching control sync packets
func (o *Out) timestamp(seq uint32) uint32 {
	return audio.Low32(uint64(seq)*uint64(o.config.FramesPerPacket) + uint64(o.config.SamplingRate)*2)
}

// Seq returns the sequence number the next frame will carry
func (o *Out) Seq() uint32 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.seq
}
