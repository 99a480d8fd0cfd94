// Package channel holds the channel record, the registry that persists it and
// the M3U lineup built from transmitting channels.
package channel

import (
	"strings"
	"time"

	"signally/fault"
)

type RepeatMode string

const (
	RepeatLoop RepeatMode = "loop"
	RepeatOnce RepeatMode = "once"
)

// Transmission describes the encoder process pushing a channel live.
type Transmission struct {
	Pid       int       `json:"pid"`
	Pgid      int       `json:"pgid,omitempty"` // 0 when unknown
	Command   []string  `json:"command"`
	StartedAt time.Time `json:"startedAt"`
}

// Channel is a configured content rotation. Transmission and Transmitting are
// written only by the supervisor and always change together.
type Channel struct {
	ID           int64         `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string        `gorm:"not null" json:"name"`
	Content      []string      `gorm:"serializer:json" json:"content"`
	Rotation     int           `gorm:"not null;default:0" json:"rotation"`
	RepeatMode   RepeatMode    `gorm:"size:8;not null;default:loop" json:"repeatMode"`
	Transmission *Transmission `gorm:"serializer:json" json:"transmission,omitempty"`
	Transmitting bool          `gorm:"not null;default:false" json:"transmitting"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

func (Channel) TableName() string { return "channels" }

// Validate checks the operator-editable fields.
func (c *Channel) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return fault.New(fault.InvalidArgument, "channel name is required")
	}
	switch c.Rotation {
	case 0, 90, 180, 270:
	default:
		return fault.New(fault.InvalidArgument, "rotation must be 0, 90, 180 or 270, got %d", c.Rotation)
	}
	switch c.RepeatMode {
	case "":
		c.RepeatMode = RepeatLoop
	case RepeatLoop, RepeatOnce:
	default:
		return fault.New(fault.InvalidArgument, "repeat mode must be loop or once, got %q", c.RepeatMode)
	}
	return nil
}

// StreamName is the ingest key the channel publishes under.
func (c *Channel) StreamName() string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(c.Name), " ", "_"))
}

// ClearTransmission resets both transmission fields together.
func (c *Channel) ClearTransmission() {
	c.Transmission = nil
	c.Transmitting = false
}

// SetTransmission records a confirmed launch.
func (c *Channel) SetTransmission(tx Transmission) {
	c.Transmission = &tx
	c.Transmitting = true
}

// Consistent reports whether the transmission fields agree with each other.
func (c *Channel) Consistent() bool {
	return c.Transmitting == (c.Transmission != nil)
}
