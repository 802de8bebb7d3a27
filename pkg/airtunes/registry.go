// ABOUTME: Registry of active AirTunes devices
// ABOUTME: Tracks sessions by host:port and closes the shared UDP servers when none remain
package airtunes

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry owns the set of device sessions sharing one UDPServers. When the
// last device stops the servers are closed; the next Add binds them again.
type Registry struct {
	service *UDPServers
	log     logrus.FieldLogger

	// lifecycle orders membership changes against binding and closing the
	// servers, so an Add never receives ports that a concurrent drop closes
	lifecycle sync.Mutex

	mu      sync.Mutex
	devices map[string]*Device
	detach  []func()
}

// NewRegistry creates an empty registry for service
func NewRegistry(service *UDPServers) *Registry {
	return &Registry{
		service: service,
		log:     service.Config().Logger.WithField("component", "registry"),
		devices: make(map[string]*Device),
	}
}

// Add creates and starts a session for host
func (r *Registry) Add(host string, opts DeviceOptions, collab Collaborators) (*Device, error) {
	key := deviceKey(host, opts.Port)

	r.lifecycle.Lock()
	if _, exists := r.Get(key); exists {
		r.lifecycle.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeviceExists, key)
	}

	dev, err := NewDevice(host, opts, r.service, collab)
	if err != nil {
		r.lifecycle.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.devices[key] = dev
	r.mu.Unlock()

	dev.OnStatus(func(status Status) {
		if status == StatusStopped {
			r.drop(dev)
		}
	})

	startErr := dev.Start()
	if startErr != nil {
		r.dropLocked(dev)
	}
	r.lifecycle.Unlock()

	if startErr != nil {
		// Releases the encoder; the status listener finds nothing left to drop
		_ = dev.Stop(nil)
		return nil, startErr
	}

	r.log.WithField("device", key).Info("Device added")
	return dev, nil
}

// drop forgets dev and closes the servers once no device needs them
func (r *Registry) drop(dev *Device) {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.dropLocked(dev)
}

func (r *Registry) dropLocked(dev *Device) {
	r.mu.Lock()
	if r.devices[dev.Key()] != dev {
		r.mu.Unlock()
		return
	}
	delete(r.devices, dev.Key())
	empty := len(r.devices) == 0
	r.mu.Unlock()

	r.log.WithField("device", dev.Key()).Info("Device removed")

	if empty {
		r.log.Info("No devices left, closing UDP servers")
		if err := r.service.Close(); err != nil {
			r.log.WithError(err).Warn("Error closing UDP servers")
		}
	}
}

// Get returns the device registered under key
func (r *Registry) Get(key string) (*Device, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dev, ok := r.devices[key]
	return dev, ok
}

// Len returns the number of registered devices
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices)
}

// Keys returns the registered keys in sorted order
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.devices))
	for k := range r.devices {
		keys = append(keys, k)
	}
	r.mu.Unlock()

	sort.Strings(keys)
	return keys
}

func (r *Registry) snapshot() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	devices := make([]*Device, 0, len(r.devices))
	for _, dev := range r.devices {
		devices = append(devices, dev)
	}
	return devices
}

// Remove stops the device under key; done runs once it has stopped
func (r *Registry) Remove(key string, done func()) error {
	dev, ok := r.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, key)
	}
	return dev.Stop(done)
}

// SyncNeeded sends a control sync to every ready device
func (r *Registry) SyncNeeded(seq uint32) {
	for _, dev := range r.snapshot() {
		if err := dev.OnSyncNeeded(seq); err != nil && !errors.Is(err, ErrNotReady) {
			r.log.WithError(err).WithField("device", dev.Key()).Warn("Failed to send control sync")
		}
	}
}

// Attach forwards a source's sync requests to all devices
func (r *Registry) Attach(source SyncSource) {
	unsubscribe := source.OnSyncNeeded(r.SyncNeeded)

	r.mu.Lock()
	r.detach = append(r.detach, unsubscribe)
	r.mu.Unlock()
}

// SetVolumeAll applies volume to every ready device
func (r *Registry) SetVolumeAll(volume int) error {
	var errs []error
	for _, dev := range r.snapshot() {
		if err := dev.SetVolume(volume, nil); err != nil && !errors.Is(err, ErrNotReady) {
			errs = append(errs, fmt.Errorf("%s: %w", dev.Key(), err))
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every device and waits until they have all stopped
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	detach := r.detach
	r.detach = nil
	r.mu.Unlock()

	for _, fn := range detach {
		fn()
	}

	var wg sync.WaitGroup
	for _, dev := range r.snapshot() {
		wg.Add(1)
		if err := dev.Stop(wg.Done); err != nil {
			wg.Done()
		}
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
