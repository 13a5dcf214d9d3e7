package mcp

import (
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

type ListStagesParams struct {
	SourceType string `json:"source_type,omitempty" jsonschema:"FARMED or WILD_CAPTURE; omit for both"`
}

type CreateRecordParams struct {
	BatchCode    string         `json:"batch_code,omitempty" jsonschema:"unique batch code; generated when omitted"`
	ProductName  string         `json:"product_name" jsonschema:"product display name"`
	Species      string         `json:"species,omitempty"`
	SourceType   string         `json:"source_type" jsonschema:"FARMED or WILD_CAPTURE"`
	InitialStage string         `json:"initial_stage" jsonschema:"stage the batch starts in, HARVEST at the latest"`
	IsPublic     bool           `json:"is_public,omitempty" jsonschema:"whether anyone may view the trace"`
	Location     string         `json:"location,omitempty"`
	Data         map[string]any `json:"data,omitempty" jsonschema:"payload of the initial stage"`
	FileHashes   []string       `json:"file_hashes,omitempty" jsonschema:"attachment references"`
}

type UpdateStageParams struct {
	RecordID   string         `json:"record_id"`
	Stage      string         `json:"stage" jsonschema:"target stage"`
	Data       map[string]any `json:"data,omitempty" jsonschema:"stage payload; see tracceaqua://docs/stages"`
	Location   string         `json:"location,omitempty"`
	Notes      string         `json:"notes,omitempty"`
	FileHashes []string       `json:"file_hashes,omitempty" jsonschema:"attachment references to add"`
	Override   bool           `json:"override,omitempty" jsonschema:"admins only: allow a stage at or before the current one"`
}

type GetRecordParams struct {
	ID string `json:"id"`
}

type ListRecordsParams struct {
	Status     string `json:"status,omitempty"`
	SourceType string `json:"source_type,omitempty"`
	Stage      string `json:"stage,omitempty"`
	Mine       bool   `json:"mine,omitempty" jsonschema:"only records owned by the caller"`
	Limit      int    `json:"limit,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

type SearchRecordsParams struct {
	Query    string   `json:"query" jsonschema:"words matched against batch code, product name and species"`
	Statuses []string `json:"statuses,omitempty"`
	Limit    int      `json:"limit,omitempty"`
	Offset   int      `json:"offset,omitempty"`
}

type GetTraceParams struct {
	ID string `json:"id"`
}

type SetRecordStatusParams struct {
	ID     string `json:"id"`
	Status string `json:"status" jsonschema:"COMPLETED, EXPIRED or RECALLED"`
	Reason string `json:"reason,omitempty"`
}

type SetRecordVisibilityParams struct {
	ID       string `json:"id"`
	IsPublic bool   `json:"is_public"`
}

type GetRecordActivityParams struct {
	ID    string `json:"id"`
	Limit int    `json:"limit,omitempty"`
}

type StagesResult struct {
	Catalogs []stage.SourceCatalog `json:"catalogs"`
}

type RecordResult struct {
	Record    *record.Record `json:"record"`
	NextStage stage.Stage    `json:"next_stage,omitempty"`
}

type RecordListResult struct {
	Records []record.Summary `json:"records"`
}

type SearchResult struct {
	Results []record.SearchResult `json:"results"`
}

type ActivityResult struct {
	Entries []activity.ActivityEntry `json:"entries"`
}
