// Package shelly discovers Shelly (Gen1) relays over MQTT and switches them
// either through MQTT commands or the device's local HTTP API.
package shelly

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/supporttools/hass-watchdog/pkg/types"
)

// MQTT topics used by Gen1 devices.
const (
	TopicAnnounce = "shellies/announce"
	TopicCommand  = "shellies/command"

	// CommandAnnounce asks every device on the broker to announce itself.
	CommandAnnounce = "announce"
)

// Models whose outputs are relays. The 2-channel models can run in roller
// mode, in which case they expose no relay.
var (
	relayModels = map[string]bool{
		"SHSW-1":   true,
		"SHSW-PM":  true,
		"SHSW-L":   true,
		"SHSW-44":  true,
		"SHSW-21":  true,
		"SHSW-25":  true,
		"SHPLG-1":  true,
		"SHPLG-S":  true,
		"SHPLG2-1": true,
		"SHPLG-U1": true,
		"SHUNI-1":  true,
		"SHEM":     true,
		"SHEM-3":   true,
	}

	rollerCapableModels = map[string]bool{
		"SHSW-21": true,
		"SHSW-25": true,
	}
)

// Announcement is the payload a device publishes on shellies/announce.
type Announcement struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	MAC     string `json:"mac"`
	IP      string `json:"ip"`
	NewFW   bool   `json:"new_fw"`
	FWVer   string `json:"fw_ver"`
	Mode    string `json:"mode,omitempty"`
}

// ParseAnnouncement decodes an announce payload.
func ParseAnnouncement(payload []byte) (*Announcement, error) {
	var a Announcement
	if err := json.Unmarshal(payload, &a); err != nil {
		return nil, fmt.Errorf("invalid announce payload: %w", err)
	}
	if a.ID == "" {
		return nil, fmt.Errorf("announce payload has no id")
	}
	return &a, nil
}

// HasRelay reports whether the announced device exposes a relay output.
func (a *Announcement) HasRelay() bool {
	model := strings.ToUpper(a.Model)
	if !relayModels[model] {
		return false
	}
	if rollerCapableModels[model] && strings.EqualFold(a.Mode, "roller") {
		return false
	}
	return true
}

// Device is a discovered Shelly device.
type Device struct {
	Info Announcement
	sw   types.PowerSwitch
}

// ID implements relay.Device.
func (d *Device) ID() string {
	return d.Info.ID
}

// Name implements relay.Device.
func (d *Device) Name() string {
	return fmt.Sprintf("%s @ %s (fw %s)", d.Info.Model, d.Info.IP, d.Info.FWVer)
}

// PowerSwitch implements relay.Device. Devices without a relay output have
// no switch.
func (d *Device) PowerSwitch() (types.PowerSwitch, bool) {
	if d.sw == nil || !d.Info.HasRelay() {
		return nil, false
	}
	return d.sw, true
}
