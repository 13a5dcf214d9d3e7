package trace

import (
	"encoding/json"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// VerificationStatus tells consumers whether the data hash is anchored.
type VerificationStatus string

const (
	Verified VerificationStatus = "VERIFIED"
	Pending  VerificationStatus = "PENDING"
)

// Summary is the public identity of a traced batch.
type Summary struct {
	ID           string           `json:"id"`
	BatchCode    string           `json:"batchCode"`
	ProductName  string           `json:"productName"`
	Species      string           `json:"species,omitempty"`
	SourceType   stage.SourceType `json:"sourceType"`
	CurrentStage stage.Stage      `json:"currentStage"`
	Status       record.Status    `json:"status"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// Attachment is a content reference with a retrievable URL. Stage is empty
// for attachments supplied at creation.
type Attachment struct {
	Ref   string      `json:"ref"`
	URL   string      `json:"url,omitempty"`
	Stage stage.Stage `json:"stage,omitempty"`
}

// TimelineEntry is one history entry as shown to consumers.
type TimelineEntry struct {
	Seq         int             `json:"seq"`
	Stage       stage.Stage     `json:"stage"`
	Timestamp   time.Time       `json:"timestamp"`
	ActorID     string          `json:"actorId"`
	Location    string          `json:"location,omitempty"`
	Notes       string          `json:"notes,omitempty"`
	Data        json.RawMessage `json:"data,omitempty"`
	Attachments []Attachment    `json:"attachments,omitempty"`
}

// StageProgress marks one catalog stage as reached or not.
type StageProgress struct {
	Stage     stage.Stage `json:"stage"`
	Reached   bool        `json:"reached"`
	Current   bool        `json:"current"`
	ReachedAt *time.Time  `json:"reachedAt,omitempty"`
}

// Verification reports the anchoring state of the record's data hash.
type Verification struct {
	DataHash       string             `json:"dataHash"`
	BlockchainHash string             `json:"blockchainHash,omitempty"`
	Status         VerificationStatus `json:"status"`
}

// View is the consumer-facing projection of a record.
type View struct {
	Record          Summary         `json:"record"`
	OriginStage     stage.Stage     `json:"originStage"`
	StageData       stage.Payloads  `json:"stageData"`
	History         []TimelineEntry `json:"history"`
	RemainingStages []stage.Stage   `json:"remainingStages"`
	Progress        []StageProgress `json:"progress"`
	Attachments     []Attachment    `json:"attachments"`
	Verification    Verification    `json:"verification"`
}
