// Package relay binds the remediation device that power-cycles the
// monitored host.
//
// Discovery adapters (see the shelly and modbus subpackages) deliver every
// device they see to a Binder. The Binder keeps the first device whose
// identifier starts with the configured prefix and that exposes the
// power-switch capability; every later offer is ignored. Once bound, the
// handle never changes for the lifetime of the process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Device is a device reported by a discovery adapter.
type Device interface {
	// ID is the unique device identifier, e.g. "shelly1-8CAAB5".
	ID() string
	// Name is a human-readable name for logs.
	Name() string
	// PowerSwitch returns the power-control capability, if the device has one.
	PowerSwitch() (types.PowerSwitch, bool)
}

// DeviceHandler receives discovered devices. It may be called from the
// adapter's own goroutine.
type DeviceHandler func(Device)

// Discoverer delivers devices to a handler until Stop is called.
type Discoverer interface {
	Start(ctx context.Context, handler DeviceHandler) error
	Stop()
}

// Logger is the logging interface used by the binder.
type Logger interface {
	Infof(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// ErrNotBound is returned by WaitReady when the context ends before a
// device was bound.
var ErrNotBound = errors.New("no relay device bound")

// Binder holds the one-shot relay handle.
type Binder struct {
	prefix string
	logger Logger

	mu     sync.Mutex
	device Device
	sw     types.PowerSwitch
	ready  chan struct{}
}

// NewBinder creates a binder accepting devices whose ID starts with prefix.
func NewBinder(prefix string, logger Logger) (*Binder, error) {
	if prefix == "" {
		return nil, fmt.Errorf("relay id prefix cannot be empty")
	}
	return &Binder{
		prefix: prefix,
		logger: logger,
		ready:  make(chan struct{}),
	}, nil
}

// Offer considers a discovered device and reports whether it was bound.
// It is safe to call from any goroutine.
func (b *Binder) Offer(dev Device) bool {
	if dev == nil {
		return false
	}
	if !strings.HasPrefix(dev.ID(), b.prefix) {
		b.debugf("Device %s ignored", dev.ID())
		return false
	}
	sw, ok := dev.PowerSwitch()
	if !ok || sw == nil {
		b.debugf("Device %s matches %q but has no relay", dev.ID(), b.prefix)
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.device != nil {
		b.debugf("Device %s ignored, already bound to %s", dev.ID(), b.device.ID())
		return false
	}

	b.device = dev
	b.sw = sw
	close(b.ready)

	if b.logger != nil {
		b.logger.Infof("Device found: %s | %s", dev.ID(), dev.Name())
	}
	return true
}

// Handler returns Offer as a DeviceHandler.
func (b *Binder) Handler() DeviceHandler {
	return func(dev Device) {
		b.Offer(dev)
	}
}

// Handle returns the bound power switch, or false if nothing is bound yet.
func (b *Binder) Handle() (types.PowerSwitch, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sw, b.sw != nil
}

// Device returns the bound device, or nil.
func (b *Binder) Device() Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.device
}

// Ready is closed when a device is bound.
func (b *Binder) Ready() <-chan struct{} {
	return b.ready
}

// WaitReady blocks until a device is bound or ctx ends.
func (b *Binder) WaitReady(ctx context.Context) error {
	select {
	case <-b.ready:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrNotBound, ctx.Err())
	}
}

// Prefix returns the configured identifier prefix.
func (b *Binder) Prefix() string {
	return b.prefix
}

func (b *Binder) debugf(format string, args ...interface{}) {
	if b.logger != nil {
		b.logger.Debugf(format, args...)
	}
}
