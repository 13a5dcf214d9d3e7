package record

import "github.com/tracceaqua/tracceaqua/internal/domain/stage"

// ListRecordsOptions provides filtering options for listing records.
type ListRecordsOptions struct {
	Status     *Status
	SourceType *stage.SourceType
	Stage      *stage.Stage
	OwnerID    string
	PublicOnly bool
	Limit      int
	Offset     int
}

// SearchOptions provides filtering options for search.
type SearchOptions struct {
	Statuses   []Status
	PublicOnly bool
	Limit      int
	Offset     int
}
