package record

import (
	"encoding/json"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// Status represents the lifecycle status of a record.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusCompleted Status = "COMPLETED"
	StatusExpired   Status = "EXPIRED"
	StatusRecalled  Status = "RECALLED"
)

// Terminal reports whether no further stage transitions are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusRecalled:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusActive || s.Terminal()
}

// Role is the supply-chain role of an actor.
type Role string

const (
	RoleAdmin       Role = "ADMIN"
	RoleFarmer      Role = "FARMER"
	RoleFisher      Role = "FISHER"
	RoleProcessor   Role = "PROCESSOR"
	RoleDistributor Role = "DISTRIBUTOR"
	RoleRetailer    Role = "RETAILER"
	RoleConsumer    Role = "CONSUMER"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{RoleAdmin, RoleFarmer, RoleFisher, RoleProcessor, RoleDistributor, RoleRetailer, RoleConsumer}
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	for _, known := range Roles() {
		if r == known {
			return true
		}
	}
	return false
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Record is a traceable seafood batch.
type Record struct {
	ID           string           `json:"id"`
	BatchCode    string           `json:"batchCode"`
	ProductName  string           `json:"productName"`
	Species      string           `json:"species,omitempty"`
	SourceType   stage.SourceType `json:"sourceType"`
	InitialStage stage.Stage      `json:"initialStage"`
	CurrentStage stage.Stage      `json:"currentStage"`
	Status       Status           `json:"status"`
	IsPublic     bool             `json:"isPublic"`
	OwnerID      string           `json:"ownerId"`
	Location     string           `json:"location,omitempty"`

	stage.Payloads

	FileHashes     []string            `json:"fileHashes"`
	DataHash       string              `json:"dataHash"`
	BlockchainHash *string             `json:"blockchainHash,omitempty"`
	Version        int64               `json:"version"`
	CreatedAt      time.Time           `json:"createdAt"`
	UpdatedAt      time.Time           `json:"updatedAt"`
	History        []StageHistoryEntry `json:"history"`
}

// StageHistoryEntry is one accepted stage transition. Entries are never
// modified once written.
type StageHistoryEntry struct {
	ID         string          `json:"id"`
	RecordID   string          `json:"recordId"`
	Seq        int             `json:"seq"`
	Stage      stage.Stage     `json:"stage"`
	Timestamp  time.Time       `json:"timestamp"`
	ActorID    string          `json:"actorId"`
	Location   string          `json:"location,omitempty"`
	Notes      string          `json:"notes,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
	FileHashes []string        `json:"fileHashes,omitempty"`
}

// Summary is a lightweight view of a record for listings.
type Summary struct {
	ID           string           `json:"id"`
	BatchCode    string           `json:"batchCode"`
	ProductName  string           `json:"productName"`
	Species      string           `json:"species,omitempty"`
	SourceType   stage.SourceType `json:"sourceType"`
	CurrentStage stage.Stage      `json:"currentStage"`
	Status       Status           `json:"status"`
	IsPublic     bool             `json:"isPublic"`
	OwnerID      string           `json:"ownerId"`
	UpdatedAt    time.Time        `json:"updatedAt"`
}

// SearchResult represents a search hit with relevance
type SearchResult struct {
	Record  Summary `json:"record"`
	Rank    float64 `json:"rank"`
	Snippet string  `json:"snippet,omitempty"`
}

// Summary returns the listing view of r.
func (r *Record) Summary() Summary {
	return Summary{
		ID:           r.ID,
		BatchCode:    r.BatchCode,
		ProductName:  r.ProductName,
		Species:      r.Species,
		SourceType:   r.SourceType,
		CurrentStage: r.CurrentStage,
		Status:       r.Status,
		IsPublic:     r.IsPublic,
		OwnerID:      r.OwnerID,
		UpdatedAt:    r.UpdatedAt,
	}
}

// LastEntry returns the most recent history entry, or nil.
func (r *Record) LastEntry() *StageHistoryEntry {
	if len(r.History) == 0 {
		return nil
	}
	return &r.History[len(r.History)-1]
}

// Clone returns a copy of r that shares no slices with it. Payload structs
// are immutable once assigned and are shared.
func (r *Record) Clone() *Record {
	out := *r
	out.FileHashes = append([]string(nil), r.FileHashes...)
	out.History = append([]StageHistoryEntry(nil), r.History...)
	if r.BlockchainHash != nil {
		h := *r.BlockchainHash
		out.BlockchainHash = &h
	}
	return &out
}
