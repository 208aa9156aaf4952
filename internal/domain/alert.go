package domain

import (
	"encoding/json"
	"time"
)

// Alert statuses.
const (
	AlertOpen   = "open"
	AlertClosed = "closed"
)

// Alert is a public hazard alert for one partition cell.
type Alert struct {
	ID          string
	Partition   string
	Title       string
	Description string
	Severity    Severity
	Type        string
	Level       CrisisLevel
	Location    Location
	StartTime   time.Time
	UpdatedAt   time.Time
	ExpiresAt   time.Time
	ClosedAt    *time.Time
}

// Open reports whether the alert has not been closed.
func (a Alert) Open() bool { return a.ClosedAt == nil }

// EndTime is the close time, or the scheduled expiry while the alert is open.
func (a Alert) EndTime() time.Time {
	if a.ClosedAt != nil {
		return *a.ClosedAt
	}
	return a.ExpiresAt
}

type alertJSON struct {
	ID          string      `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	StartTime   string      `json:"startTime"`
	EndTime     string      `json:"endTime"`
	Location    Location    `json:"location"`
	Type        string      `json:"type"`
	Status      string      `json:"status"`
	State       CrisisLevel `json:"state"`
	Partition   string      `json:"partition"`
	UpdatedAt   string      `json:"updatedAt"`
}

// MarshalJSON renders times as RFC 3339 strings.
func (a Alert) MarshalJSON() ([]byte, error) {
	status := AlertOpen
	if !a.Open() {
		status = AlertClosed
	}
	return json.Marshal(alertJSON{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		Severity:    a.Severity,
		StartTime:   a.StartTime.UTC().Format(time.RFC3339),
		EndTime:     a.EndTime().UTC().Format(time.RFC3339),
		Location:    a.Location,
		Type:        a.Type,
		Status:      status,
		State:       a.Level,
		Partition:   a.Partition,
		UpdatedAt:   a.UpdatedAt.UTC().Format(time.RFC3339),
	})
}

// Alert event kinds.
const (
	AlertEventOpened  = "alert.opened"
	AlertEventUpdated = "alert.updated"
	AlertEventClosed  = "alert.closed"
)

// AlertEvent is published when an alert opens, changes severity, or closes.
type AlertEvent struct {
	Kind       string    `json:"kind"`
	Alert      Alert     `json:"alert"`
	OccurredAt time.Time `json:"occurredAt"`
}

// AlertDescriptor is the human-facing content of an alert.
type AlertDescriptor struct {
	Title       string
	Description string
	Type        string
	Level       CrisisLevel
}
