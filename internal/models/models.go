package models

import (
	"fmt"
	"strings"
	"time"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority validates a wire-level priority string. Empty input selects
// the default. Internal code carries the typed value and never re-parses.
func ParsePriority(s string) (Priority, error) {
	switch Priority(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return PriorityMedium, nil
	case PriorityLow:
		return PriorityLow, nil
	case PriorityMedium:
		return PriorityMedium, nil
	case PriorityHigh:
		return PriorityHigh, nil
	}
	return "", fmt.Errorf("priority must be one of low, medium, high")
}

// Rank orders priorities for display tie-breaking: high > medium > low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	}
	return 0
}

type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

type Resolution string

const (
	ResolutionHour Resolution = "hour"
	ResolutionDay  Resolution = "day"
)

func ParseResolution(s string) (Resolution, error) {
	switch Resolution(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ResolutionHour, nil
	case ResolutionHour:
		return ResolutionHour, nil
	case ResolutionDay:
		return ResolutionDay, nil
	}
	return "", fmt.Errorf("resolution must be one of hour, day")
}

type GPU struct {
	ID   string `json:"id"`
	Kind string `json:"kind"`
}

type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	GPUCount int    `json:"gpu_count"`
	GPUs     []GPU  `json:"gpus"`
}

type Reservation struct {
	ID        int64     `json:"id"`
	NodeID    string    `json:"node_id"`
	GPUIDs    []string  `json:"gpu_ids"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	UserLabel string    `json:"user_label"`
	Priority  Priority  `json:"priority"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is the public shape of a reservation attached to availability
// grids and returned to clients.
func (r Reservation) Summary() ReservationSummary {
	return ReservationSummary{
		ID:        r.ID,
		UserLabel: r.UserLabel,
		Start:     r.Start,
		End:       r.End,
		Status:    r.Status,
		GPUIDs:    r.GPUIDs,
		Priority:  r.Priority,
	}
}

type ReservationSummary struct {
	ID        int64     `json:"id"`
	UserLabel string    `json:"user_label"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Status    Status    `json:"status"`
	GPUIDs    []string  `json:"gpu_ids"`
	Priority  Priority  `json:"priority"`
}

type SlotStatus string

const (
	SlotFree     SlotStatus = "free"
	SlotBooked   SlotStatus = "booked"
	SlotPartial  SlotStatus = "partial"
	SlotOccupied SlotStatus = "occupied"
)

// Availability is the occupancy grid for one node and window. Hour-resolution
// responses fill Hours and Grid; day-resolution responses fill Days and Rows.
type Availability struct {
	Node       Node          `json:"node"`
	Start      time.Time     `json:"start"`
	End        time.Time     `json:"end"`
	Resolution Resolution    `json:"resolution"`
	Hours      []HourSummary `json:"hours,omitempty"`
	Grid       *HourGrid     `json:"grid,omitempty"`
	Days       []DayWindow   `json:"days,omitempty"`
	Rows       []DayRow      `json:"rows,omitempty"`
}

type HourWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// HourSummary aggregates one hour bucket across all GPUs of the node.
// Bookings lists every reservation touching the hour regardless of status.
type HourSummary struct {
	Start           time.Time            `json:"start"`
	End             time.Time            `json:"end"`
	AvailableGPUIDs []string             `json:"available_gpu_ids"`
	UsedGPUIDs      []string             `json:"used_gpu_ids"`
	AvailableCount  int                  `json:"available_count"`
	UsedCount       int                  `json:"used_count"`
	Bookings        []ReservationSummary `json:"bookings"`
}

type HourSlot struct {
	Start   time.Time           `json:"start"`
	End     time.Time           `json:"end"`
	Status  SlotStatus          `json:"status"`
	Booking *ReservationSummary `json:"booking,omitempty"`
}

type HourRow struct {
	GPU       GPU        `json:"gpu"`
	HourSlots []HourSlot `json:"hour_slots"`
}

type HourGrid struct {
	Hours []HourWindow `json:"hours"`
	Rows  []HourRow    `json:"rows"`
}

// DayWindow is one UTC calendar-day bucket. Edge buckets may cover fewer
// than 24 hours when the query window does not align to day boundaries.
type DayWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Hours int       `json:"hours"`
}

type DaySlot struct {
	Start         time.Time           `json:"start"`
	End           time.Time           `json:"end"`
	TotalHours    int                 `json:"total_hours"`
	BookedHours   int                 `json:"booked_hours"`
	Status        SlotStatus          `json:"status"`
	Booking       *ReservationSummary `json:"booking,omitempty"`
	Contributions []Contribution      `json:"contributions,omitempty"`
}

// Contribution records how much of a day bucket a single reservation covers.
type Contribution struct {
	Booking ReservationSummary `json:"booking"`
	Hours   int                `json:"hours"`
	Start   time.Time          `json:"start"`
	End     time.Time          `json:"end"`
}

type DayRow struct {
	GPU      GPU       `json:"gpu"`
	DaySlots []DaySlot `json:"day_slots"`
}
