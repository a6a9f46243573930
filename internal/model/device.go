package model

import "time"

// DeviceStatus represents device status
type DeviceStatus string

const (
	DeviceStatusOnline  DeviceStatus = "online"
	DeviceStatusOffline DeviceStatus = "offline"
	DeviceStatusBusy    DeviceStatus = "busy"
	DeviceStatusError   DeviceStatus = "error"
)

// Device represents a registered worker device. The hardware identifier is
// the natural key: re-registration with a known hardware id updates the
// existing row, it never creates a second one.
type Device struct {
	BaseModel
	HardwareID    string       `gorm:"type:varchar(128);uniqueIndex;not null" json:"hardware_id"`
	Name          string       `gorm:"type:varchar(128)" json:"name"`
	Status        DeviceStatus `gorm:"type:varchar(16);default:'offline';index" json:"status"`
	Token         string       `gorm:"type:varchar(64);not null" json:"-"`
	LastHeartbeat *time.Time   `json:"last_heartbeat,omitempty"`
	LastIP        string       `gorm:"type:varchar(64)" json:"last_ip,omitempty"`
}

// TableName specifies the table name for Device model
func (Device) TableName() string {
	return "devices"
}

// LiveWithin reports whether the device heartbeated inside the staleness
// window. Liveness is derived at read time, not a stored flag.
func (d *Device) LiveWithin(window time.Duration, now time.Time) bool {
	return d.LastHeartbeat != nil && now.Sub(*d.LastHeartbeat) <= window
}
