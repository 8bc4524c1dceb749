package models

import "time"

// Device represents a registered plant monitor
type Device struct {
	DeviceID     string    `json:"deviceId"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registeredAt"`
	LastSeen     time.Time `json:"lastSeen"`
	IsActive     bool      `json:"isActive"`
}
