package repository

import (
	"encoding/json"
	"fmt"

	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// PayloadColumns is the per-stage payload of a record as stored in its own
// nullable JSON text column. Column order matches PayloadColumnNames.
type PayloadColumns [7]*string

// PayloadColumnNames lists the payload columns in storage order.
var PayloadColumnNames = []string{
	"hatchery_data", "grow_out_data", "fishing_data", "harvest_data",
	"processing_data", "storage_data", "transport_data",
}

// EncodePayloads converts populated payloads to JSON text columns.
func EncodePayloads(p stage.Payloads) (PayloadColumns, error) {
	var cols PayloadColumns
	values := []any{p.Hatchery, p.GrowOut, p.Fishing, p.Harvest, p.Processing, p.Storage, p.Transport}
	nils := []bool{p.Hatchery == nil, p.GrowOut == nil, p.Fishing == nil, p.Harvest == nil, p.Processing == nil, p.Storage == nil, p.Transport == nil}
	for i, v := range values {
		if nils[i] {
			continue
		}
		data, err := json.Marshal(v)
		if err != nil {
			return cols, fmt.Errorf("encoding %s: %w", PayloadColumnNames[i], err)
		}
		s := string(data)
		cols[i] = &s
	}
	return cols, nil
}

// DecodePayloads is the inverse of EncodePayloads.
func DecodePayloads(cols PayloadColumns) (stage.Payloads, error) {
	var p stage.Payloads
	targets := []func() any{
		func() any { p.Hatchery = &stage.HatcheryData{}; return p.Hatchery },
		func() any { p.GrowOut = &stage.GrowOutData{}; return p.GrowOut },
		func() any { p.Fishing = &stage.FishingData{}; return p.Fishing },
		func() any { p.Harvest = &stage.HarvestData{}; return p.Harvest },
		func() any { p.Processing = &stage.ProcessingData{}; return p.Processing },
		func() any { p.Storage = &stage.StorageData{}; return p.Storage },
		func() any { p.Transport = &stage.TransportData{}; return p.Transport },
	}
	for i, col := range cols {
		if col == nil {
			continue
		}
		if err := json.Unmarshal([]byte(*col), targets[i]()); err != nil {
			return p, fmt.Errorf("decoding %s: %w", PayloadColumnNames[i], err)
		}
	}
	return p, nil
}

// EncodeStrings stores a string list as a JSON array. Nil becomes "[]".
func EncodeStrings(values []string) string {
	if len(values) == 0 {
		return "[]"
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "[]"
	}
	return string(data)
}

// DecodeStrings parses a JSON array column. Empty arrays decode to nil.
func DecodeStrings(raw string) ([]string, error) {
	if raw == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decoding string list: %w", err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
