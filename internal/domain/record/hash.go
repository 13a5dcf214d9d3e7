package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// hashedRecord is the canonical traceable state. Status, visibility, version
// and anchoring fields are excluded so that lifecycle bookkeeping does not
// change the anchored fingerprint.
type hashedRecord struct {
	ID           string           `json:"id"`
	BatchCode    string           `json:"batchCode"`
	ProductName  string           `json:"productName"`
	Species      string           `json:"species"`
	SourceType   stage.SourceType `json:"sourceType"`
	InitialStage stage.Stage      `json:"initialStage"`
	CurrentStage stage.Stage      `json:"currentStage"`
	OwnerID      string           `json:"ownerId"`
	Location     string           `json:"location"`
	CreatedAt    string           `json:"createdAt"`
	stage.Payloads
	FileHashes []string      `json:"fileHashes"`
	History    []hashedEntry `json:"history"`
}

type hashedEntry struct {
	Seq        int             `json:"seq"`
	Stage      stage.Stage     `json:"stage"`
	Timestamp  string          `json:"timestamp"`
	ActorID    string          `json:"actorId"`
	Location   string          `json:"location"`
	Notes      string          `json:"notes"`
	Data       json.RawMessage `json:"data"`
	FileHashes []string        `json:"fileHashes"`
}

// ComputeDataHash returns the hex SHA-256 of the record's canonical JSON.
func ComputeDataHash(rec *Record) (string, error) {
	h := hashedRecord{
		ID:           rec.ID,
		BatchCode:    rec.BatchCode,
		ProductName:  rec.ProductName,
		Species:      rec.Species,
		SourceType:   rec.SourceType,
		InitialStage: rec.InitialStage,
		CurrentStage: rec.CurrentStage,
		OwnerID:      rec.OwnerID,
		Location:     rec.Location,
		CreatedAt:    canonicalTime(rec.CreatedAt),
		Payloads:     rec.Payloads,
		FileHashes:   nonNil(rec.FileHashes),
		History:      make([]hashedEntry, 0, len(rec.History)),
	}
	for _, e := range rec.History {
		data := e.Data
		if len(data) == 0 {
			data = json.RawMessage("null")
		}
		h.History = append(h.History, hashedEntry{
			Seq:        e.Seq,
			Stage:      e.Stage,
			Timestamp:  canonicalTime(e.Timestamp),
			ActorID:    e.ActorID,
			Location:   e.Location,
			Notes:      e.Notes,
			Data:       data,
			FileHashes: nonNil(e.FileHashes),
		})
	}

	payload, err := json.Marshal(h)
	if err != nil {
		return "", fmt.Errorf("encoding canonical record: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

func canonicalTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
