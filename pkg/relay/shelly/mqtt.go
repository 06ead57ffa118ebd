package shelly

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/supporttools/hass-watchdog/pkg/relay"
	"github.com/supporttools/hass-watchdog/pkg/types"
)

const (
	qosAtLeastOnce      = 1
	maxConnectAttempts  = 5
	disconnectQuiesceMs = 250
)

// ErrNotConnected is returned when a command is published while the broker
// connection is down.
var ErrNotConnected = errors.New("mqtt client not connected")

// Logger is the logging interface used by the discoverer.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// Publisher sends one MQTT message.
type Publisher interface {
	Publish(topic, payload string) error
}

// Discoverer listens for Gen1 announcements on an MQTT broker and hands
// every announced device to a relay.DeviceHandler.
type Discoverer struct {
	cfg    types.ShellyConfig
	logger Logger

	newClient func(*mqtt.ClientOptions) mqtt.Client

	mu      sync.Mutex
	client  mqtt.Client
	handler relay.DeviceHandler
}

// NewDiscoverer creates a discoverer for the given configuration.
func NewDiscoverer(cfg types.ShellyConfig, logger Logger) *Discoverer {
	return &Discoverer{
		cfg:       cfg,
		logger:    logger,
		newClient: mqtt.NewClient,
	}
}

// Start connects to the broker, subscribes to announcements and asks all
// devices to announce themselves. Connecting is retried with exponential
// backoff; Start fails once the attempts are exhausted or ctx ends.
func (d *Discoverer) Start(ctx context.Context, handler relay.DeviceHandler) error {
	if handler == nil {
		return fmt.Errorf("device handler cannot be nil")
	}

	d.mu.Lock()
	if d.client != nil {
		d.mu.Unlock()
		return fmt.Errorf("discoverer already started")
	}
	d.handler = handler
	client := d.newClient(d.clientOptions())
	d.client = client
	d.mu.Unlock()

	connect := func() error {
		token := client.Connect()
		if !token.WaitTimeout(d.cfg.ConnectTimeout) {
			return fmt.Errorf("timed out connecting to %s", d.cfg.Broker)
		}
		return token.Error()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	policy := backoff.WithContext(backoff.WithMaxRetries(b, maxConnectAttempts-1), ctx)

	notify := func(err error, next time.Duration) {
		d.warnf("MQTT connect to %s failed: %v, retrying in %v", d.cfg.Broker, err, next)
	}
	if err := backoff.RetryNotify(connect, policy, notify); err != nil {
		d.mu.Lock()
		d.client = nil
		d.mu.Unlock()
		return fmt.Errorf("failed to connect to MQTT broker %s: %w", d.cfg.Broker, err)
	}
	return nil
}

// Stop disconnects from the broker.
func (d *Discoverer) Stop() {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client != nil && client.IsConnected() {
		client.Disconnect(disconnectQuiesceMs)
	}
}

// CheckConnection reports an error while the broker connection is down.
func (d *Discoverer) CheckConnection() error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}
	return nil
}

// Publish implements Publisher on the discoverer's broker connection.
func (d *Discoverer) Publish(topic, payload string) error {
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()

	if client == nil || !client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := client.Publish(topic, qosAtLeastOnce, false, payload)
	if !token.WaitTimeout(d.cfg.CommandTimeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	return token.Error()
}

func (d *Discoverer) clientOptions() *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.cfg.Broker)
	opts.SetClientID(d.cfg.ClientID)
	if d.cfg.Username != "" {
		opts.SetUsername(d.cfg.Username)
	}
	if d.cfg.Password != "" {
		opts.SetPassword(d.cfg.Password)
	}
	opts.SetConnectTimeout(d.cfg.ConnectTimeout)
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(d.onConnect)
	opts.SetConnectionLostHandler(d.onConnectionLost)
	return opts
}

// onConnect subscribes on every (re)connect since the session is clean.
func (d *Discoverer) onConnect(c mqtt.Client) {
	d.infof("Connected to MQTT broker %s", d.cfg.Broker)

	if token := c.Subscribe(TopicAnnounce, qosAtLeastOnce, d.onAnnounce); token.Wait() && token.Error() != nil {
		d.warnf("Failed to subscribe to %s: %v", TopicAnnounce, token.Error())
		return
	}

	// Devices only announce on boot; ask the ones already online.
	if token := c.Publish(TopicCommand, qosAtLeastOnce, false, CommandAnnounce); token.Wait() && token.Error() != nil {
		d.warnf("Failed to request announcements: %v", token.Error())
	}
}

func (d *Discoverer) onConnectionLost(_ mqtt.Client, err error) {
	d.warnf("MQTT connection lost: %v", err)
}

func (d *Discoverer) onAnnounce(_ mqtt.Client, msg mqtt.Message) {
	d.HandleAnnouncement(msg.Payload())
}

// HandleAnnouncement parses an announce payload and delivers the device.
func (d *Discoverer) HandleAnnouncement(payload []byte) {
	ann, err := ParseAnnouncement(payload)
	if err != nil {
		d.debugf("Ignoring announcement: %v", err)
		return
	}

	d.mu.Lock()
	handler := d.handler
	d.mu.Unlock()
	if handler == nil {
		return
	}

	handler(d.newDevice(*ann))
}

func (d *Discoverer) newDevice(ann Announcement) *Device {
	dev := &Device{Info: ann}
	switch d.cfg.Transport {
	case types.TransportHTTP:
		if ann.IP != "" {
			dev.sw = NewHTTPSwitch("http://"+ann.IP, d.cfg.Channel, d.cfg.CommandTimeout, d.cfg.HTTPRetries)
		}
	default:
		dev.sw = NewMQTTSwitch(d, ann.ID, d.cfg.Channel)
	}
	return dev
}

func (d *Discoverer) infof(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Infof(format, args...)
	}
}

func (d *Discoverer) warnf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Warnf(format, args...)
	}
}

func (d *Discoverer) debugf(format string, args ...interface{}) {
	if d.logger != nil {
		d.logger.Debugf(format, args...)
	}
}

// MQTTSwitch switches a relay by publishing to its command topic.
type MQTTSwitch struct {
	publisher Publisher
	topic     string
}

// NewMQTTSwitch creates a switch for channel ch of device id.
func NewMQTTSwitch(p Publisher, id string, ch int) *MQTTSwitch {
	return &MQTTSwitch{
		publisher: p,
		topic:     fmt.Sprintf("shellies/%s/relay/%d/command", id, ch),
	}
}

// Topic returns the command topic.
func (s *MQTTSwitch) Topic() string {
	return s.topic
}

// PowerOn implements types.PowerSwitch.
func (s *MQTTSwitch) PowerOn(ctx context.Context) error {
	return s.send(ctx, "on")
}

// PowerOff implements types.PowerSwitch.
func (s *MQTTSwitch) PowerOff(ctx context.Context) error {
	return s.send(ctx, "off")
}

func (s *MQTTSwitch) send(ctx context.Context, payload string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.publisher.Publish(s.topic, payload); err != nil {
		return fmt.Errorf("publish %q to %s: %w", payload, s.topic, err)
	}
	return nil
}
