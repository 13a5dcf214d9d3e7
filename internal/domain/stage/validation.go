package stage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

var requiredFields = map[Stage][]string{
	Hatchery:    {"species", "eggCount", "spawningDate", "temperature", "salinity", "feedType", "survivalRate"},
	GrowOut:     {"pondId", "stockingDate", "stockingDensity", "feedType", "waterTemperature", "salinity", "ph", "dissolvedOxygen", "growthDays"},
	Fishing:     {"vesselId", "fishingArea", "catchMethod", "catchDate", "species", "totalWeight"},
	Harvest:     {"harvestMethod", "totalWeight", "pieceCount", "qualityGrade", "postHarvestHandling"},
	Processing:  {"facilityId", "processingDate", "processingMethod", "temperature", "packagingType", "batchSize"},
	ColdStorage: {"facilityId", "storageTemperature", "storageMethod", "entryDate"},
	Transport:   {"vehicleId", "origin", "destination", "departureTime", "temperature"},
}

// RequiredFields lists the fields a payload for st must carry.
func RequiredFields(st Stage) []string {
	fields := requiredFields[st]
	out := make([]string, len(fields))
	copy(out, fields)
	return out
}

// MissingPayload reports that st was entered without its payload: every
// required field is named.
func MissingPayload(st Stage) *ValidationError {
	fields := make([]FieldError, 0, len(requiredFields[st]))
	for _, name := range requiredFields[st] {
		fields = append(fields, FieldError{Field: name, Message: "is required"})
	}
	return &ValidationError{Stage: st, Fields: fields}
}

type checker interface {
	check() []FieldError
}

// Parse validates raw against the payload shape of st. It returns the typed
// payload (nil for free-form stages or an absent payload) and the normalized
// JSON to store in history. Shape failures return a *ValidationError.
func Parse(st Stage, raw json.RawMessage) (any, json.RawMessage, error) {
	if !st.Valid() {
		return nil, nil, fmt.Errorf("%w: unknown stage %q", ErrUnknown, st)
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil, nil
	}

	var present map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &present); err != nil {
		return nil, nil, &ValidationError{Stage: st, Fields: []FieldError{{Field: "data", Message: "must be a JSON object"}}}
	}

	if !HasTypedPayload(st) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, trimmed); err != nil {
			return nil, nil, &ValidationError{Stage: st, Fields: []FieldError{{Field: "data", Message: "must be a JSON object"}}}
		}
		return nil, buf.Bytes(), nil
	}

	var missing []FieldError
	for _, name := range requiredFields[st] {
		v, ok := present[name]
		if !ok || bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			missing = append(missing, FieldError{Field: name, Message: "is required"})
		}
	}
	if len(missing) > 0 {
		return nil, nil, &ValidationError{Stage: st, Fields: missing}
	}

	target := newPayload(st)
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(target); err != nil {
		return nil, nil, &ValidationError{Stage: st, Fields: []FieldError{decodeFieldError(err)}}
	}

	if errs := target.(checker).check(); len(errs) > 0 {
		return nil, nil, &ValidationError{Stage: st, Fields: errs}
	}

	normalized, err := json.Marshal(target)
	if err != nil {
		return nil, nil, fmt.Errorf("encoding %s payload: %w", st, err)
	}
	return target, normalized, nil
}

func newPayload(st Stage) any {
	switch st {
	case Hatchery:
		return &HatcheryData{}
	case GrowOut:
		return &GrowOutData{}
	case Fishing:
		return &FishingData{}
	case Harvest:
		return &HarvestData{}
	case Processing:
		return &ProcessingData{}
	case ColdStorage:
		return &StorageData{}
	case Transport:
		return &TransportData{}
	default:
		return nil
	}
}

func decodeFieldError(err error) FieldError {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return FieldError{Field: typeErr.Field, Message: fmt.Sprintf("must be a %s", typeErr.Type.String())}
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "json: unknown field ") {
		name := strings.Trim(strings.TrimPrefix(msg, "json: unknown field "), `"`)
		return FieldError{Field: name, Message: "is not allowed"}
	}
	return FieldError{Field: "data", Message: "is malformed"}
}

type fieldChecks struct {
	errs []FieldError
}

func (c *fieldChecks) text(name, v string) {
	if strings.TrimSpace(v) == "" {
		c.errs = append(c.errs, FieldError{Field: name, Message: "must not be empty"})
	}
}

func (c *fieldChecks) date(name, v string, required bool) {
	if v == "" && !required {
		return
	}
	if !validDate(v) {
		c.errs = append(c.errs, FieldError{Field: name, Message: "must be an RFC 3339 date or timestamp"})
	}
}

func (c *fieldChecks) positive(name string, v float64) {
	if v <= 0 {
		c.errs = append(c.errs, FieldError{Field: name, Message: "must be greater than 0"})
	}
}

func (c *fieldChecks) nonNegative(name string, v float64) {
	if v < 0 {
		c.errs = append(c.errs, FieldError{Field: name, Message: "must not be negative"})
	}
}

func (c *fieldChecks) between(name string, v, lo, hi float64) {
	if v < lo || v > hi {
		c.errs = append(c.errs, FieldError{Field: name, Message: fmt.Sprintf("must be between %g and %g", lo, hi)})
	}
}

func validDate(v string) bool {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}

func (d *HatcheryData) check() []FieldError {
	var c fieldChecks
	c.text("species", d.Species)
	c.positive("eggCount", float64(d.EggCount))
	c.date("spawningDate", d.SpawningDate, true)
	c.nonNegative("salinity", d.Salinity)
	c.text("feedType", d.FeedType)
	c.between("survivalRate", d.SurvivalRate, 0, 100)
	return c.errs
}

func (d *GrowOutData) check() []FieldError {
	var c fieldChecks
	c.text("pondId", d.PondID)
	c.date("stockingDate", d.StockingDate, true)
	c.positive("stockingDensity", d.StockingDensity)
	c.text("feedType", d.FeedType)
	c.nonNegative("salinity", d.Salinity)
	c.between("ph", d.PH, 0, 14)
	c.nonNegative("dissolvedOxygen", d.DissolvedOxygen)
	c.nonNegative("growthDays", float64(d.GrowthDays))
	return c.errs
}

func (d *FishingData) check() []FieldError {
	var c fieldChecks
	c.text("vesselId", d.VesselID)
	c.text("fishingArea", d.FishingArea)
	c.text("catchMethod", d.CatchMethod)
	c.date("catchDate", d.CatchDate, true)
	c.text("species", d.Species)
	c.positive("totalWeight", d.TotalWeight)
	if d.WaterDepth != nil {
		c.nonNegative("waterDepth", *d.WaterDepth)
	}
	return c.errs
}

func (d *HarvestData) check() []FieldError {
	var c fieldChecks
	c.text("harvestMethod", d.HarvestMethod)
	c.positive("totalWeight", d.TotalWeight)
	c.positive("pieceCount", float64(d.PieceCount))
	c.text("qualityGrade", d.QualityGrade)
	c.text("postHarvestHandling", d.PostHarvestHandling)
	return c.errs
}

func (d *ProcessingData) check() []FieldError {
	var c fieldChecks
	c.text("facilityId", d.FacilityID)
	c.date("processingDate", d.ProcessingDate, true)
	c.text("processingMethod", d.ProcessingMethod)
	c.text("packagingType", d.PackagingType)
	c.positive("batchSize", d.BatchSize)
	return c.errs
}

func (d *StorageData) check() []FieldError {
	var c fieldChecks
	c.text("facilityId", d.FacilityID)
	c.text("storageMethod", d.StorageMethod)
	c.date("entryDate", d.EntryDate, true)
	if d.Humidity != nil {
		c.between("humidity", *d.Humidity, 0, 100)
	}
	c.date("expiryDate", d.ExpiryDate, false)
	return c.errs
}

func (d *TransportData) check() []FieldError {
	var c fieldChecks
	c.text("vehicleId", d.VehicleID)
	c.text("origin", d.Origin)
	c.text("destination", d.Destination)
	c.date("departureTime", d.DepartureTime, true)
	c.date("arrivalTime", d.ArrivalTime, false)
	return c.errs
}
