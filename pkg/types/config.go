// Package types defines configuration types for hass-watchdog.
package types

import (
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Package-level defaults
const (
	DefaultLogLevel           = "info"
	DefaultLogFormat          = "text"
	DefaultLogOutput          = "stdout"
	DefaultMaxFailedResponses = 3
	DefaultSleepTime          = "30s"
	DefaultResetSleepTime     = "300s"
	DefaultSettleDelay        = "5s"
	DefaultProbeTimeout       = "10s"
	DefaultStatsEvery         = 10
	DefaultSecondaryPath      = "/hacsfiles/iconset.js"
	DefaultRelayDriver        = DriverShelly
	DefaultMQTTBroker         = "tcp://localhost:1883"
	DefaultMQTTClientID       = "hass-watchdog"
	DefaultShellyTransport    = TransportMQTT
	DefaultConnectTimeout     = "10s"
	DefaultCommandTimeout     = "5s"
	DefaultHTTPRetries        = 2
	DefaultModbusUnitID       = 1
	DefaultModbusTimeout      = "3s"
	DefaultStatusBindAddress  = "0.0.0.0"
	DefaultStatusPort         = 8099
	DefaultMetricsNamespace   = "hass_watchdog"
	DefaultDebounceInterval   = "500ms"
)

// Relay drivers and transports.
const (
	DriverShelly = "shelly"
	DriverModbus = "modbus"

	TransportMQTT = "mqtt"
	TransportHTTP = "http"
)

// Environment variables recognised as overrides. The names are kept from the
// original deployment so existing env files keep working.
const (
	EnvMaxFailedResponses = "MAX_FAILED_RESPONSES"
	EnvSleepTime          = "SLEEP_TIME"
	EnvResetSleepTime     = "RESET_SLEEP_TIME"
	EnvHassURL            = "HASS_URL"
	EnvWatchdogWebhook    = "WATCHDOG_WEBHOOK"
	EnvShellyRelayID      = "SHELLY_RELAY_ID"
)

var (
	prometheusNamespaceRegex = regexp.MustCompile(`^[a-zA-Z_:][a-zA-Z0-9_:]*$`)

	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
		"fatal": true,
	}

	validLogFormats = map[string]bool{
		"json": true,
		"text": true,
	}

	validLogOutputs = map[string]bool{
		"stdout": true,
		"stderr": true,
		"file":   true,
	}

	// MinSleepTime keeps the loop from hammering the monitored service.
	MinSleepTime = 1 * time.Second
)

// WatchdogConfig is the top-level configuration structure.
type WatchdogConfig struct {
	APIVersion string         `json:"apiVersion" yaml:"apiVersion"`
	Kind       string         `json:"kind" yaml:"kind"`
	Settings   GlobalSettings `json:"settings" yaml:"settings"`
	Watchdog   LoopConfig     `json:"watchdog" yaml:"watchdog"`
	Target     TargetConfig   `json:"target" yaml:"target"`
	Relay      RelayConfig    `json:"relay" yaml:"relay"`
	Status     StatusConfig   `json:"status" yaml:"status"`
	Metrics    MetricsConfig  `json:"metrics" yaml:"metrics"`
	Reload     ReloadConfig   `json:"reload,omitempty" yaml:"reload,omitempty"`
}

// GlobalSettings contains process-wide settings.
type GlobalSettings struct {
	LogLevel  string `json:"logLevel,omitempty" yaml:"logLevel,omitempty"`
	LogFormat string `json:"logFormat,omitempty" yaml:"logFormat,omitempty"`
	LogOutput string `json:"logOutput,omitempty" yaml:"logOutput,omitempty"`
	LogFile   string `json:"logFile,omitempty" yaml:"logFile,omitempty"`

	// DryRun logs the power-cycle sequence without touching the relay.
	DryRun bool `json:"dryRun,omitempty" yaml:"dryRun,omitempty"`
}

// LoopConfig holds the watchdog loop tunables.
type LoopConfig struct {
	// MaxFailedResponses is the number of consecutive failures tolerated
	// before the service is declared down.
	MaxFailedResponses *int `json:"maxFailedResponses,omitempty" yaml:"maxFailedResponses,omitempty"`

	SleepTimeString      string `json:"sleepTime,omitempty" yaml:"sleepTime,omitempty"`
	ResetSleepTimeString string `json:"resetSleepTime,omitempty" yaml:"resetSleepTime,omitempty"`
	SettleDelayString    string `json:"settleDelay,omitempty" yaml:"settleDelay,omitempty"`
	ProbeTimeoutString   string `json:"probeTimeout,omitempty" yaml:"probeTimeout,omitempty"`

	// StatsEvery controls how many cycles pass between full statistics reports.
	StatsEvery int `json:"statsEvery,omitempty" yaml:"statsEvery,omitempty"`

	// Parsed duration fields (not in JSON/YAML)
	SleepTime      time.Duration `json:"-" yaml:"-"`
	ResetSleepTime time.Duration `json:"-" yaml:"-"`
	SettleDelay    time.Duration `json:"-" yaml:"-"`
	ProbeTimeout   time.Duration `json:"-" yaml:"-"`
}

// Threshold returns the configured failure threshold.
// ApplyDefaults guarantees the pointer is set.
func (l *LoopConfig) Threshold() int {
	if l.MaxFailedResponses == nil {
		return DefaultMaxFailedResponses
	}
	return *l.MaxFailedResponses
}

// TargetConfig describes the monitored Home Assistant instance.
type TargetConfig struct {
	HassURL         string `json:"hassURL" yaml:"hassURL"`
	WatchdogWebhook string `json:"watchdogWebhook" yaml:"watchdogWebhook"`
	SecondaryPath   string `json:"secondaryPath,omitempty" yaml:"secondaryPath,omitempty"`
}

// PrimaryURL is the webhook endpoint used as liveness check.
func (t *TargetConfig) PrimaryURL() string {
	return fmt.Sprintf("%s/api/webhook/%s", strings.TrimRight(t.HassURL, "/"), t.WatchdogWebhook)
}

// SecondaryURL is the content-serving endpoint checked after the webhook.
func (t *TargetConfig) SecondaryURL() string {
	return strings.TrimRight(t.HassURL, "/") + t.SecondaryPath
}

// RelayConfig selects and configures the remediation device.
type RelayConfig struct {
	// ID is the identifier prefix a discovered device must carry.
	ID     string        `json:"id" yaml:"id"`
	Driver string        `json:"driver,omitempty" yaml:"driver,omitempty"`
	Shelly *ShellyConfig `json:"shelly,omitempty" yaml:"shelly,omitempty"`
	Modbus *ModbusConfig `json:"modbus,omitempty" yaml:"modbus,omitempty"`
}

// ShellyConfig configures MQTT discovery and control of Shelly relays.
type ShellyConfig struct {
	Broker    string `json:"broker,omitempty" yaml:"broker,omitempty"`
	ClientID  string `json:"clientID,omitempty" yaml:"clientID,omitempty"`
	Username  string `json:"username,omitempty" yaml:"username,omitempty"`
	Password  string `json:"password,omitempty" yaml:"password,omitempty"`
	Transport string `json:"transport,omitempty" yaml:"transport,omitempty"`
	Channel   int    `json:"channel,omitempty" yaml:"channel,omitempty"`

	ConnectTimeoutString string `json:"connectTimeout,omitempty" yaml:"connectTimeout,omitempty"`
	CommandTimeoutString string `json:"commandTimeout,omitempty" yaml:"commandTimeout,omitempty"`
	HTTPRetries          int    `json:"httpRetries,omitempty" yaml:"httpRetries,omitempty"`

	ConnectTimeout time.Duration `json:"-" yaml:"-"`
	CommandTimeout time.Duration `json:"-" yaml:"-"`
}

// ModbusConfig configures a relay driven through a Modbus TCP coil.
type ModbusConfig struct {
	Endpoint      string `json:"endpoint" yaml:"endpoint"`
	UnitID        uint8  `json:"unitID,omitempty" yaml:"unitID,omitempty"`
	Coil          uint16 `json:"coil" yaml:"coil"`
	TimeoutString string `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	Timeout time.Duration `json:"-" yaml:"-"`
}

// StatusConfig configures the HTTP status API.
type StatusConfig struct {
	Enabled     bool   `json:"enabled" yaml:"enabled"`
	BindAddress string `json:"bindAddress,omitempty" yaml:"bindAddress,omitempty"`
	Port        int    `json:"port,omitempty" yaml:"port,omitempty"`
}

// Addr returns the listen address for the status server.
func (s *StatusConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.BindAddress, s.Port)
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled   bool   `json:"enabled" yaml:"enabled"`
	Namespace string `json:"namespace,omitempty" yaml:"namespace,omitempty"`
}

// ReloadConfig contains configuration hot reload settings.
type ReloadConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// DebounceIntervalString is the debounce interval as a string (e.g., "500ms")
	DebounceIntervalString string `json:"debounceInterval,omitempty" yaml:"debounceInterval,omitempty"`

	DebounceInterval time.Duration `json:"-" yaml:"-"`
}

// ApplyDefaults applies default values to the configuration.
func (c *WatchdogConfig) ApplyDefaults() error {
	if c.APIVersion == "" {
		c.APIVersion = "hass-watchdog.io/v1alpha1"
	}
	if c.Kind == "" {
		c.Kind = "WatchdogConfig"
	}

	c.Settings.ApplyDefaults()

	if err := c.Watchdog.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to watchdog: %w", err)
	}

	if c.Target.SecondaryPath == "" {
		c.Target.SecondaryPath = DefaultSecondaryPath
	}

	if err := c.Relay.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to relay: %w", err)
	}

	if c.Status.BindAddress == "" {
		c.Status.BindAddress = DefaultStatusBindAddress
	}
	if c.Status.Port == 0 {
		c.Status.Port = DefaultStatusPort
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}

	if err := c.Reload.ApplyDefaults(); err != nil {
		return fmt.Errorf("failed to apply defaults to reload: %w", err)
	}

	return nil
}

// ApplyDefaults applies default values to GlobalSettings.
func (s *GlobalSettings) ApplyDefaults() {
	if s.LogLevel == "" {
		s.LogLevel = DefaultLogLevel
	}
	if s.LogFormat == "" {
		s.LogFormat = DefaultLogFormat
	}
	if s.LogOutput == "" {
		s.LogOutput = DefaultLogOutput
	}
}

// ApplyDefaults applies default values to LoopConfig and parses durations.
func (l *LoopConfig) ApplyDefaults() error {
	if l.MaxFailedResponses == nil {
		v := DefaultMaxFailedResponses
		l.MaxFailedResponses = &v
	}
	if l.SleepTimeString == "" {
		l.SleepTimeString = DefaultSleepTime
	}
	if l.ResetSleepTimeString == "" {
		l.ResetSleepTimeString = DefaultResetSleepTime
	}
	if l.SettleDelayString == "" {
		l.SettleDelayString = DefaultSettleDelay
	}
	if l.ProbeTimeoutString == "" {
		l.ProbeTimeoutString = DefaultProbeTimeout
	}
	if l.StatsEvery == 0 {
		l.StatsEvery = DefaultStatsEvery
	}

	var err error
	if l.SleepTime, err = parseSeconds(l.SleepTimeString); err != nil {
		return fmt.Errorf("invalid sleepTime %q: %w", l.SleepTimeString, err)
	}
	if l.ResetSleepTime, err = parseSeconds(l.ResetSleepTimeString); err != nil {
		return fmt.Errorf("invalid resetSleepTime %q: %w", l.ResetSleepTimeString, err)
	}
	if l.SettleDelay, err = parseSeconds(l.SettleDelayString); err != nil {
		return fmt.Errorf("invalid settleDelay %q: %w", l.SettleDelayString, err)
	}
	if l.ProbeTimeout, err = parseSeconds(l.ProbeTimeoutString); err != nil {
		return fmt.Errorf("invalid probeTimeout %q: %w", l.ProbeTimeoutString, err)
	}

	return nil
}

// ApplyDefaults applies default values to the relay configuration.
func (r *RelayConfig) ApplyDefaults() error {
	if r.Driver == "" {
		r.Driver = DefaultRelayDriver
	}

	switch r.Driver {
	case DriverShelly:
		if r.Shelly == nil {
			r.Shelly = &ShellyConfig{}
		}
		return r.Shelly.ApplyDefaults()
	case DriverModbus:
		if r.Modbus == nil {
			r.Modbus = &ModbusConfig{}
		}
		return r.Modbus.ApplyDefaults()
	}

	// Unknown drivers are reported by Validate.
	return nil
}

// ApplyDefaults applies default values to ShellyConfig.
func (s *ShellyConfig) ApplyDefaults() error {
	if s.Broker == "" {
		s.Broker = DefaultMQTTBroker
	}
	if s.ClientID == "" {
		s.ClientID = DefaultMQTTClientID
	}
	if s.Transport == "" {
		s.Transport = DefaultShellyTransport
	}
	if s.ConnectTimeoutString == "" {
		s.ConnectTimeoutString = DefaultConnectTimeout
	}
	if s.CommandTimeoutString == "" {
		s.CommandTimeoutString = DefaultCommandTimeout
	}
	if s.HTTPRetries == 0 {
		s.HTTPRetries = DefaultHTTPRetries
	}

	var err error
	if s.ConnectTimeout, err = time.ParseDuration(s.ConnectTimeoutString); err != nil {
		return fmt.Errorf("invalid connectTimeout %q: %w", s.ConnectTimeoutString, err)
	}
	if s.CommandTimeout, err = time.ParseDuration(s.CommandTimeoutString); err != nil {
		return fmt.Errorf("invalid commandTimeout %q: %w", s.CommandTimeoutString, err)
	}
	return nil
}

// ApplyDefaults applies default values to ModbusConfig.
func (m *ModbusConfig) ApplyDefaults() error {
	if m.UnitID == 0 {
		m.UnitID = DefaultModbusUnitID
	}
	if m.TimeoutString == "" {
		m.TimeoutString = DefaultModbusTimeout
	}

	duration, err := time.ParseDuration(m.TimeoutString)
	if err != nil {
		return fmt.Errorf("invalid timeout %q: %w", m.TimeoutString, err)
	}
	m.Timeout = duration
	return nil
}

// ApplyDefaults applies default values to reload configuration.
func (r *ReloadConfig) ApplyDefaults() error {
	if r.DebounceIntervalString == "" {
		r.DebounceIntervalString = DefaultDebounceInterval
	}

	duration, err := time.ParseDuration(r.DebounceIntervalString)
	if err != nil {
		return fmt.Errorf("invalid debounceInterval %q: %w", r.DebounceIntervalString, err)
	}
	r.DebounceInterval = duration

	return nil
}

// ApplyEnvOverrides applies the legacy environment variables on top of the
// file configuration. Durations given through the environment are seconds.
// It must be called before ApplyDefaults so parsed fields are refreshed.
func (c *WatchdogConfig) ApplyEnvOverrides(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	if v, ok := lookup(EnvMaxFailedResponses); ok && v != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s %q: %w", EnvMaxFailedResponses, v, err)
		}
		c.Watchdog.MaxFailedResponses = &n
	}
	if v, ok := lookup(EnvSleepTime); ok && v != "" {
		c.Watchdog.SleepTimeString = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvResetSleepTime); ok && v != "" {
		c.Watchdog.ResetSleepTimeString = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvHassURL); ok && v != "" {
		c.Target.HassURL = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvWatchdogWebhook); ok && v != "" {
		c.Target.WatchdogWebhook = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvShellyRelayID); ok && v != "" {
		c.Relay.ID = strings.TrimSpace(v)
	}

	return nil
}

// Validate validates the whole configuration.
func (c *WatchdogConfig) Validate() error {
	if c.APIVersion == "" {
		return fmt.Errorf("apiVersion is required")
	}
	if c.Kind != "WatchdogConfig" {
		return fmt.Errorf("kind must be 'WatchdogConfig', got %q", c.Kind)
	}

	if err := c.Settings.Validate(); err != nil {
		return fmt.Errorf("settings validation failed: %w", err)
	}
	if err := c.Watchdog.Validate(); err != nil {
		return fmt.Errorf("watchdog validation failed: %w", err)
	}
	if err := c.Target.Validate(); err != nil {
		return fmt.Errorf("target validation failed: %w", err)
	}
	if err := c.Relay.Validate(); err != nil {
		return fmt.Errorf("relay validation failed: %w", err)
	}

	if c.Status.Enabled && (c.Status.Port <= 0 || c.Status.Port > 65535) {
		return fmt.Errorf("status.port must be between 1 and 65535, got %d", c.Status.Port)
	}
	if c.Metrics.Enabled && !prometheusNamespaceRegex.MatchString(c.Metrics.Namespace) {
		return fmt.Errorf("invalid metrics namespace %q", c.Metrics.Namespace)
	}

	return nil
}

// Validate validates the GlobalSettings configuration.
func (s *GlobalSettings) Validate() error {
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("invalid logLevel %q, must be one of: debug, info, warn, error, fatal", s.LogLevel)
	}
	if !validLogFormats[s.LogFormat] {
		return fmt.Errorf("invalid logFormat %q, must be one of: json, text", s.LogFormat)
	}
	if !validLogOutputs[s.LogOutput] {
		return fmt.Errorf("invalid logOutput %q, must be one of: stdout, stderr, file", s.LogOutput)
	}
	if s.LogOutput == "file" && s.LogFile == "" {
		return fmt.Errorf("logFile is required when logOutput is 'file'")
	}
	return nil
}

// Validate validates the loop tunables.
func (l *LoopConfig) Validate() error {
	if l.Threshold() < 0 {
		return fmt.Errorf("maxFailedResponses must not be negative, got %d", l.Threshold())
	}
	if l.SleepTime < MinSleepTime {
		return fmt.Errorf("sleepTime %v is below minimum of %v", l.SleepTime, MinSleepTime)
	}
	if l.ResetSleepTime <= 0 {
		return fmt.Errorf("resetSleepTime must be positive, got %v", l.ResetSleepTime)
	}
	if l.SettleDelay <= 0 {
		return fmt.Errorf("settleDelay must be positive, got %v", l.SettleDelay)
	}
	if l.ProbeTimeout <= 0 {
		return fmt.Errorf("probeTimeout must be positive, got %v", l.ProbeTimeout)
	}
	if l.ProbeTimeout >= l.SleepTime {
		return fmt.Errorf("probeTimeout (%v) must be less than sleepTime (%v)", l.ProbeTimeout, l.SleepTime)
	}
	if l.StatsEvery < 0 {
		return fmt.Errorf("statsEvery must not be negative, got %d", l.StatsEvery)
	}
	return nil
}

// Validate validates the target configuration.
func (t *TargetConfig) Validate() error {
	if t.HassURL == "" {
		return fmt.Errorf("hassURL is required")
	}
	u, err := url.Parse(t.HassURL)
	if err != nil {
		return fmt.Errorf("invalid hassURL %q: %w", t.HassURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("hassURL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("hassURL %q has no host", t.HassURL)
	}
	if t.WatchdogWebhook == "" {
		return fmt.Errorf("watchdogWebhook is required")
	}
	if !strings.HasPrefix(t.SecondaryPath, "/") {
		return fmt.Errorf("secondaryPath must start with '/', got %q", t.SecondaryPath)
	}
	return nil
}

// Validate validates the relay configuration.
func (r *RelayConfig) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}

	switch r.Driver {
	case DriverShelly:
		if r.Shelly == nil {
			return fmt.Errorf("shelly configuration is required for driver %q", r.Driver)
		}
		return r.Shelly.Validate()
	case DriverModbus:
		if r.Modbus == nil {
			return fmt.Errorf("modbus configuration is required for driver %q", r.Driver)
		}
		return r.Modbus.Validate()
	default:
		return fmt.Errorf("invalid driver %q, must be one of: shelly, modbus", r.Driver)
	}
}

// Validate validates ShellyConfig.
func (s *ShellyConfig) Validate() error {
	if s.Broker == "" {
		return fmt.Errorf("shelly.broker is required")
	}
	if s.Transport != TransportMQTT && s.Transport != TransportHTTP {
		return fmt.Errorf("invalid shelly.transport %q, must be one of: mqtt, http", s.Transport)
	}
	if s.Channel < 0 {
		return fmt.Errorf("shelly.channel must not be negative, got %d", s.Channel)
	}
	if s.ConnectTimeout <= 0 || s.CommandTimeout <= 0 {
		return fmt.Errorf("shelly timeouts must be positive")
	}
	if s.HTTPRetries < 0 {
		return fmt.Errorf("shelly.httpRetries must not be negative, got %d", s.HTTPRetries)
	}
	return nil
}

// Validate validates ModbusConfig.
func (m *ModbusConfig) Validate() error {
	if m.Endpoint == "" {
		return fmt.Errorf("modbus.endpoint is required")
	}
	if m.Timeout <= 0 {
		return fmt.Errorf("modbus.timeout must be positive, got %v", m.Timeout)
	}
	return nil
}

// SubstituteEnvVars expands ${VAR} references in string fields that are
// commonly injected from secrets.
func (c *WatchdogConfig) SubstituteEnvVars() {
	c.Target.HassURL = os.ExpandEnv(c.Target.HassURL)
	c.Target.WatchdogWebhook = os.ExpandEnv(c.Target.WatchdogWebhook)
	c.Relay.ID = os.ExpandEnv(c.Relay.ID)
	if c.Relay.Shelly != nil {
		c.Relay.Shelly.Broker = os.ExpandEnv(c.Relay.Shelly.Broker)
		c.Relay.Shelly.Username = os.ExpandEnv(c.Relay.Shelly.Username)
		c.Relay.Shelly.Password = os.ExpandEnv(c.Relay.Shelly.Password)
	}
	if c.Relay.Modbus != nil {
		c.Relay.Modbus.Endpoint = os.ExpandEnv(c.Relay.Modbus.Endpoint)
	}
}

// parseSeconds accepts either a Go duration ("30s", "5m") or a bare number of
// seconds, which is how SLEEP_TIME and RESET_SLEEP_TIME were always given.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(n * float64(time.Second)), nil
	}
	return time.ParseDuration(s)
}
