package hardware

import (
	"time"
)

// ConnectionState is the lifecycle state of a tracked device.
type ConnectionState string

const (
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateReconnecting ConnectionState = "reconnecting"
)

// DeviceRecord describes one known hardware signer. Records are owned by the
// Manager: callers receive copies and never mutate the registry directly.
// A disconnected record stays in the registry so "disconnected" remains
// distinguishable from "never seen".
type DeviceRecord struct {
	ID                string
	Vendor            string
	Model             string
	FirmwareVersion   string
	State             ConnectionState
	FirstSeen         time.Time
	LastSeen          time.Time
	ReconnectAttempts int
}

// IsConnected reports whether the device is currently usable.
func (d DeviceRecord) IsConnected() bool {
	return d.State == StateConnected
}

// DeviceInfo is what a vendor capability reports for one attached device.
type DeviceInfo struct {
	ID              string
	Model           string
	FirmwareVersion string
}
