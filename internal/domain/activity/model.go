package activity

import (
	"encoding/json"
	"time"
)

// ActivityType represents the type of activity event
type ActivityType string

const (
	TypeRecordCreated     ActivityType = "record_created"
	TypeStageTransition   ActivityType = "stage_transition"
	TypeStatusChanged     ActivityType = "status_changed"
	TypeVisibilityChanged ActivityType = "visibility_changed"
	TypeAnchorConfirmed   ActivityType = "anchor_confirmed"
	TypeAnchorAbandoned   ActivityType = "anchor_abandoned"
)

// ActivityEntry represents an event in the audit log
type ActivityEntry struct {
	ID           int64        `json:"id"`
	RecordID     *string      `json:"record_id,omitempty"`
	ActorID      string       `json:"actor_id,omitempty"`
	ActivityType ActivityType `json:"type"`
	Summary      string       `json:"summary"`
	Details      string       `json:"details,omitempty"` // JSON string
	CreatedAt    time.Time    `json:"created_at"`
}

// Details encodes v as the JSON details string of an entry. Encoding
// failures yield an empty string.
func Details(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
