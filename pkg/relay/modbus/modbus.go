// Package modbus drives a relay wired to a Modbus TCP coil, for hosts that
// are power-cycled through an industrial I/O module instead of a Shelly.
package modbus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/goburrow/modbus"

	"github.com/supporttools/hass-watchdog/pkg/relay"
	"github.com/supporttools/hass-watchdog/pkg/types"
)

// Coil values for WriteSingleCoil.
const (
	coilOn  uint16 = 0xFF00
	coilOff uint16 = 0x0000
)

// coilWriter is the part of modbus.Client the switch uses.
type coilWriter interface {
	WriteSingleCoil(address, value uint16) ([]byte, error)
}

// Switch toggles a single coil. It serializes requests on one TCP connection;
// the handler connects on first use and reconnects after idle close.
type Switch struct {
	mu      sync.Mutex
	handler *modbus.TCPClientHandler
	client  coilWriter
	coil    uint16
}

// NewSwitch creates a coil switch for the given configuration.
func NewSwitch(cfg types.ModbusConfig) (*Switch, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus relay: endpoint required")
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	return &Switch{
		handler: h,
		client:  modbus.NewClient(h),
		coil:    cfg.Coil,
	}, nil
}

// PowerOn implements types.PowerSwitch.
func (s *Switch) PowerOn(ctx context.Context) error {
	return s.write(ctx, coilOn)
}

// PowerOff implements types.PowerSwitch.
func (s *Switch) PowerOff(ctx context.Context) error {
	return s.write(ctx, coilOff)
}

func (s *Switch) write(ctx context.Context, value uint16) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.client.WriteSingleCoil(s.coil, value); err != nil {
		return fmt.Errorf("write coil %d: %w", s.coil, err)
	}
	return nil
}

// Close closes the TCP connection.
func (s *Switch) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler == nil {
		return nil
	}
	return s.handler.Close()
}

// Device is a statically configured coil relay.
type Device struct {
	id       string
	endpoint string
	coil     uint16
	sw       types.PowerSwitch
}

// ID implements relay.Device.
func (d *Device) ID() string { return d.id }

// Name implements relay.Device.
func (d *Device) Name() string {
	return fmt.Sprintf("modbus coil %d @ %s", d.coil, d.endpoint)
}

// PowerSwitch implements relay.Device.
func (d *Device) PowerSwitch() (types.PowerSwitch, bool) {
	return d.sw, d.sw != nil
}

// Discoverer delivers the single configured device as soon as it starts.
// Modbus has no announcement mechanism, so the device id is the configured
// relay id itself.
type Discoverer struct {
	device *Device
	sw     *Switch
}

// NewDiscoverer creates a discoverer for the coil relay identified by id.
func NewDiscoverer(id string, cfg types.ModbusConfig) (*Discoverer, error) {
	sw, err := NewSwitch(cfg)
	if err != nil {
		return nil, err
	}
	return &Discoverer{
		device: &Device{id: id, endpoint: cfg.Endpoint, coil: cfg.Coil, sw: sw},
		sw:     sw,
	}, nil
}

// Start implements relay.Discoverer.
func (d *Discoverer) Start(ctx context.Context, handler relay.DeviceHandler) error {
	if handler == nil {
		return fmt.Errorf("device handler cannot be nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	handler(d.device)
	return nil
}

// Stop implements relay.Discoverer.
func (d *Discoverer) Stop() {
	_ = d.sw.Close()
}
