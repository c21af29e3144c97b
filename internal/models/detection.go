package models

import (
	"errors"
	"fmt"
	"time"
)

// SourceType identifies the kind of producer a detection came from
type SourceType string

const (
	SourceTypeCamera          SourceType = "camera"
	SourceTypeSensor          SourceType = "sensor"
	SourceTypeWeather         SourceType = "weather"
	SourceTypeGrid            SourceType = "grid"
	SourceTypeBackgroundCheck SourceType = "background-check"
	SourceTypeGeofence        SourceType = "geofence"
	SourceTypeCustom          SourceType = "custom"
)

// IsValid checks if the source type is one of the known producers
func (st SourceType) IsValid() bool {
	switch st {
	case SourceTypeCamera, SourceTypeSensor, SourceTypeWeather, SourceTypeGrid,
		SourceTypeBackgroundCheck, SourceTypeGeofence, SourceTypeCustom:
		return true
	default:
		return false
	}
}

// String returns the string representation of SourceType
func (st SourceType) String() string {
	return string(st)
}

// ErrInvalidDetection is returned when an incoming detection is missing
// required fields. Invalid detections are rejected at ingestion and never
// reach the rule engine.
var ErrInvalidDetection = errors.New("invalid detection")

// RawDetection is the wire shape accepted from producers (HTTP or NATS)
// before normalization.
type RawDetection struct {
	SourceID     string                 `json:"source_id"`
	SourceType   string                 `json:"source_type"`
	DetectedAt   time.Time              `json:"detected_at"`
	Location     string                 `json:"location"`
	Category     string                 `json:"category"`
	Confidence   float64                `json:"confidence"`
	SeverityHint string                 `json:"severity_hint,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// DetectionEvent is one normalized observation from a source. It is immutable
// after ingestion and lives only long enough to be folded into an Alert.
type DetectionEvent struct {
	SourceID     string                 `json:"source_id"`
	SourceType   SourceType             `json:"source_type"`
	DetectedAt   time.Time              `json:"detected_at"`
	Location     string                 `json:"location"`
	Category     string                 `json:"category"`
	Confidence   float64                `json:"confidence"`
	SeverityHint Severity               `json:"severity_hint,omitempty"`
	Payload      map[string]interface{} `json:"payload,omitempty"`
}

// DedupKey derives the identity used to match a detection against open
// alerts. Two sources reporting the same category in the same location are
// treated as the same real-world condition.
func (d DetectionEvent) DedupKey() string {
	return fmt.Sprintf("%s/%s/%s", d.SourceType, d.Category, d.Location)
}
