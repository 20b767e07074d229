package model

import (
	"time"

	"gorm.io/datatypes"
)

// RegionFiring records one region trigger action taken by a map event.
type RegionFiring struct {
	ID      int64  `gorm:"primaryKey;autoIncrement" json:"id"`
	TraceID string `gorm:"index:idx_firing_trace;size:36;not null" json:"trace_id"`
	MapID   int    `gorm:"index:idx_firing_map;not null" json:"map_id"`
	EventID int    `gorm:"not null" json:"event_id"`
	// Kind is "common_event" or "page".
	Kind     string `gorm:"size:16;not null" json:"kind"`
	RegionID int    `gorm:"not null" json:"region_id"`
	// Target is the common event ID or page index.
	Target int `json:"target"`
	X      int `json:"x"`
	Y      int `json:"y"`
	// Detail holds the event name and room tick.
	Detail    datatypes.JSON `json:"detail"`
	CreatedAt time.Time      `gorm:"index:idx_firing_created;autoCreateTime:milli" json:"created_at"`
}

func (RegionFiring) TableName() string { return "region_firings" }
