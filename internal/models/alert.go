package models

import (
	"errors"
	"time"
)

// Severity represents the severity level of an alert
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRank = map[Severity]int{
	SeverityLow:      0,
	SeverityMedium:   1,
	SeverityHigh:     2,
	SeverityCritical: 3,
}

// IsValid checks if the severity is a known level
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// Rank returns the ordinal position of the severity, low = 0
func (s Severity) Rank() int {
	return severityRank[s]
}

// MaxSeverity returns the higher of two severities
func MaxSeverity(a, b Severity) Severity {
	if severityRank[b] > severityRank[a] {
		return b
	}
	return a
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusNew           AlertStatus = "new"
	AlertStatusAcknowledged  AlertStatus = "acknowledged"
	AlertStatusResolved      AlertStatus = "resolved"
	AlertStatusDismissed     AlertStatus = "dismissed"
	AlertStatusFalsePositive AlertStatus = "false_positive"
)

// IsOpen reports whether the alert still needs human disposition
func (s AlertStatus) IsOpen() bool {
	return s == AlertStatusNew || s == AlertStatusAcknowledged
}

// IsTerminal reports whether the alert has reached a final state
func (s AlertStatus) IsTerminal() bool {
	return s == AlertStatusResolved || s == AlertStatusDismissed || s == AlertStatusFalsePositive
}

// ErrAlertNotFound is returned when an alert id does not exist in the store.
var ErrAlertNotFound = errors.New("alert not found")

// Note is one append-only audit entry on an alert
type Note struct {
	Actor     string    `json:"actor"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Alert is the canonical, deduplicated unit of work. At most one open alert
// (new or acknowledged) exists per dedup key at any time.
type Alert struct {
	ID              string      `json:"id"`
	DedupKey        string      `json:"dedup_key"`
	Category        string      `json:"category"`
	SourceType      SourceType  `json:"source_type"`
	SourceID        string      `json:"source_id"`
	Location        string      `json:"location"`
	Severity        Severity    `json:"severity"`
	Confidence      float64     `json:"confidence"`
	Status          AlertStatus `json:"status"`
	RuleID          string      `json:"rule_id,omitempty"`
	AssignedTeam    string      `json:"assigned_team,omitempty"`
	OpenedAt        time.Time   `json:"opened_at"`
	LastDetectionAt time.Time   `json:"last_detection_at"`
	ClosedAt        *time.Time  `json:"closed_at,omitempty"`

	EscalationLevel            int  `json:"escalation_level"`
	NeedsManualFollowUp        bool `json:"needs_manual_follow_up,omitempty"`
	UndeliveredEscalation      bool `json:"undelivered_escalation,omitempty"`
	ContributingDetectionCount int  `json:"contributing_detection_count"`

	// BurstMemberIDs is set only on storm meta-alerts and references the
	// individual alerts coalesced into the burst.
	BurstMemberIDs []string `json:"burst_member_ids,omitempty"`

	Notes []Note `json:"notes,omitempty"`
}

// Clone returns a deep copy safe to hand to readers while the store keeps
// mutating the original under its per-key lock.
func (a *Alert) Clone() *Alert {
	cp := *a
	if a.ClosedAt != nil {
		t := *a.ClosedAt
		cp.ClosedAt = &t
	}
	cp.Notes = make([]Note, len(a.Notes))
	copy(cp.Notes, a.Notes)
	if a.BurstMemberIDs != nil {
		cp.BurstMemberIDs = make([]string, len(a.BurstMemberIDs))
		copy(cp.BurstMemberIDs, a.BurstMemberIDs)
	}
	return &cp
}

// EscalationEvent is an append-only audit record of one escalation decision
type EscalationEvent struct {
	ID        string    `json:"id"`
	AlertID   string    `json:"alert_id"`
	FromLevel int       `json:"from_level"`
	ToLevel   int       `json:"to_level"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// NotificationPayload is the outbound shape published to NATS and POSTed to
// the configured webhook when an escalation is dispatched.
type NotificationPayload struct {
	AlertID         string    `json:"alert_id"`
	DedupKey        string    `json:"dedup_key"`
	Category        string    `json:"category"`
	Severity        Severity  `json:"severity"`
	EscalationLevel int       `json:"escalation_level"`
	AssignedTeam    string    `json:"assigned_team"`
	Summary         string    `json:"summary"`
	Timestamp       time.Time `json:"timestamp"`
}

// MessagePublisher interface for publishing notifications
type MessagePublisher interface {
	Publish(subject string, data interface{}) error
}
