// Package stage defines the lifecycle stage catalog for traceable seafood
// batches and the structured payload each stage carries.
//
// A single flat Stage enum is shared by every source type. Which stages a
// record may enter, and in what canonical order, is looked up in a static
// per-source-type table.
package stage

import (
	"fmt"
	"strings"
)

// SourceType identifies how a batch was sourced.
type SourceType string

const (
	SourceFarmed      SourceType = "FARMED"
	SourceWildCapture SourceType = "WILD_CAPTURE"
)

// Stage is one step of a record's lifecycle.
type Stage string

const (
	Hatchery    Stage = "HATCHERY"
	GrowOut     Stage = "GROW_OUT"
	Fishing     Stage = "FISHING"
	Harvest     Stage = "HARVEST"
	Processing  Stage = "PROCESSING"
	ColdStorage Stage = "COLD_STORAGE"
	Transport   Stage = "TRANSPORT"
	Retail      Stage = "RETAIL"
	Consumer    Stage = "CONSUMER"
)

// downstream is shared by every source type.
var downstream = []Stage{Harvest, Processing, ColdStorage, Transport, Retail, Consumer}

var catalog = map[SourceType][]Stage{
	SourceFarmed:      append([]Stage{Hatchery, GrowOut}, downstream...),
	SourceWildCapture: append([]Stage{Fishing}, downstream...),
}

// All lists every stage in display order.
func All() []Stage {
	return []Stage{Hatchery, GrowOut, Fishing, Harvest, Processing, ColdStorage, Transport, Retail, Consumer}
}

// SourceTypes lists the supported source types.
func SourceTypes() []SourceType {
	return []SourceType{SourceFarmed, SourceWildCapture}
}

// ParseSourceType converts a case-insensitive name into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	st := SourceType(strings.ToUpper(strings.TrimSpace(s)))
	if _, ok := catalog[st]; !ok {
		return "", fmt.Errorf("%w: unknown source type %q", ErrUnknown, s)
	}
	return st, nil
}

// ParseStage converts a case-insensitive name into a Stage.
func ParseStage(s string) (Stage, error) {
	name := Stage(strings.ToUpper(strings.TrimSpace(s)))
	for _, st := range All() {
		if st == name {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrUnknown, s)
}

// Valid reports whether s is a known source type.
func (s SourceType) Valid() bool {
	_, ok := catalog[s]
	return ok
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	_, err := ParseStage(string(s))
	return err == nil
}

// Applicable returns the ordered stages available to a source type. The
// returned slice is a copy.
func Applicable(source SourceType) []Stage {
	stages := catalog[source]
	out := make([]Stage, len(stages))
	copy(out, stages)
	return out
}

// IsApplicable reports whether st belongs to the catalog of source.
func IsApplicable(source SourceType, st Stage) bool {
	_, ok := Position(source, st)
	return ok
}

// Position returns the zero-based catalog index of st for source.
func Position(source SourceType, st Stage) (int, bool) {
	for i, candidate := range catalog[source] {
		if candidate == st {
			return i, true
		}
	}
	return -1, false
}

// Next suggests the stage that follows current in the catalog.
func Next(source SourceType, current Stage) (Stage, bool) {
	pos, ok := Position(source, current)
	if !ok {
		return "", false
	}
	stages := catalog[source]
	if pos+1 >= len(stages) {
		return "", false
	}
	return stages[pos+1], true
}

// Remaining lists the stages after current, in catalog order.
func Remaining(source SourceType, current Stage) []Stage {
	pos, ok := Position(source, current)
	if !ok {
		return nil
	}
	stages := catalog[source]
	out := make([]Stage, len(stages)-pos-1)
	copy(out, stages[pos+1:])
	return out
}

// OriginStages lists the stages a record of the given source type may be
// created in: every stage before HARVEST plus HARVEST itself.
func OriginStages(source SourceType) []Stage {
	var out []Stage
	for _, st := range catalog[source] {
		out = append(out, st)
		if st == Harvest {
			break
		}
	}
	return out
}

// SourceRestricted reports the only source type that may carry the payload
// of st. Stages shared by all source types return false.
func SourceRestricted(st Stage) (SourceType, bool) {
	switch st {
	case Hatchery, GrowOut:
		return SourceFarmed, true
	case Fishing:
		return SourceWildCapture, true
	default:
		return "", false
	}
}

// StageInfo describes one catalog position.
type StageInfo struct {
	Stage          Stage    `json:"stage"`
	Position       int      `json:"position"`
	Origin         bool     `json:"origin"`
	RequiredFields []string `json:"requiredFields,omitempty"`
}

// SourceCatalog is the ordered stage catalog of one source type.
type SourceCatalog struct {
	SourceType SourceType  `json:"sourceType"`
	Stages     []StageInfo `json:"stages"`
}

// Describe returns the catalogs of sources, or of every source type when
// none are given.
func Describe(sources ...SourceType) []SourceCatalog {
	if len(sources) == 0 {
		sources = SourceTypes()
	}
	out := make([]SourceCatalog, 0, len(sources))
	for _, src := range sources {
		origin := len(OriginStages(src))
		cat := SourceCatalog{SourceType: src}
		for i, st := range catalog[src] {
			cat.Stages = append(cat.Stages, StageInfo{
				Stage:          st,
				Position:       i,
				Origin:         i < origin,
				RequiredFields: RequiredFields(st),
			})
		}
		out = append(out, cat)
	}
	return out
}
