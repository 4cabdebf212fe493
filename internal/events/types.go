// Package events fans scan and comment state changes out to live sessions
// and external consumers without blocking the write path.
package events

import (
	"time"
)

// Type tags an event.
type Type string

const (
	ScanCreated    Type = "scan-created"
	ScanCompleted  Type = "scan-completed"
	ScanFailed     Type = "scan-failed"
	ScanReviewed   Type = "scan-reviewed"
	CommentAdded   Type = "comment-added"
	CommentDeleted Type = "comment-deleted"
)

// Rooms group event types for WebSocket subscriptions.
const (
	RoomScans         = "scans"
	RoomNotifications = "notifications"
)

// Room returns the subscription room the type belongs to.
func (t Type) Room() string {
	switch t {
	case CommentAdded, CommentDeleted:
		return RoomNotifications
	default:
		return RoomScans
	}
}

// Event carries the identifiers a subscriber needs to refetch state.
type Event struct {
	Seq       uint64    `json:"seq"`
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	ScanID    string    `json:"scanId"`
	PatientID string    `json:"patientId"`
	CommentID uint      `json:"commentId,omitempty"`
	Status    string    `json:"status,omitempty"`
	RiskLevel string    `json:"riskLevel,omitempty"`
}

// Publisher accepts events without blocking. It reports whether the event was queued.
type Publisher interface {
	Publish(event Event) bool
}

// Consumer is an external sink that receives every event.
type Consumer interface {
	// Name returns the consumer name for identification
	Name() string

	// Consume handles one event. Errors are logged and counted, never propagated.
	Consume(event Event) error
}

// Filter selects the events a subscriber may see.
type Filter struct {
	// Staff subscribers receive events for every patient.
	Staff bool
	// PatientID restricts a non-staff subscriber to its own scans.
	PatientID string
}

// Matches reports whether e is visible under f.
func (f Filter) Matches(e Event) bool {
	if f.Staff {
		return true
	}
	return f.PatientID != "" && e.PatientID == f.PatientID
}

// Stats contains runtime statistics for monitoring
type Stats struct {
	Published       uint64 `json:"published"`
	Delivered       uint64 `json:"delivered"`
	Dropped         uint64 `json:"dropped"`
	Evicted         uint64 `json:"evicted"`
	ConsumerErrors  uint64 `json:"consumerErrors"`
	ConsumerDropped uint64 `json:"consumerDropped"`
	Subscribers     int    `json:"subscribers"`
}

// Recorder receives broadcaster metrics. The observability package implements it.
type Recorder interface {
	RecordPublished(eventType string)
	RecordDropped(eventType string)
	RecordDelivered(eventType string)
	RecordEvicted()
	SetSubscribers(n int)
}

type nopRecorder struct{}

func (nopRecorder) RecordPublished(string) {}
func (nopRecorder) RecordDropped(string)   {}
func (nopRecorder) RecordDelivered(string) {}
func (nopRecorder) RecordEvicted()         {}
func (nopRecorder) SetSubscribers(int)     {}

// Nop is a Publisher that discards every event.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(Event) bool { return false }
