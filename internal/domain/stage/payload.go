package stage

// HatcheryData is captured when a farmed batch enters HATCHERY.
type HatcheryData struct {
	Species      string  `json:"species"`
	EggCount     int     `json:"eggCount"`
	SpawningDate string  `json:"spawningDate"`
	Temperature  float64 `json:"temperature"`
	Salinity     float64 `json:"salinity"`
	FeedType     string  `json:"feedType"`
	SurvivalRate float64 `json:"survivalRate"`
}

// GrowOutData is captured when a farmed batch enters GROW_OUT.
type GrowOutData struct {
	PondID           string  `json:"pondId"`
	StockingDate     string  `json:"stockingDate"`
	StockingDensity  float64 `json:"stockingDensity"`
	FeedType         string  `json:"feedType"`
	WaterTemperature float64 `json:"waterTemperature"`
	Salinity         float64 `json:"salinity"`
	PH               float64 `json:"ph"`
	DissolvedOxygen  float64 `json:"dissolvedOxygen"`
	GrowthDays       int     `json:"growthDays"`
}

// FishingData is captured when a wild-capture batch enters FISHING.
type FishingData struct {
	VesselID      string   `json:"vesselId"`
	FishingArea   string   `json:"fishingArea"`
	CatchMethod   string   `json:"catchMethod"`
	CatchDate     string   `json:"catchDate"`
	Species       string   `json:"species"`
	TotalWeight   float64  `json:"totalWeight"`
	WaterDepth    *float64 `json:"waterDepth,omitempty"`
	SeaConditions string   `json:"seaConditions,omitempty"`
}

// HarvestData is captured when a batch enters HARVEST.
type HarvestData struct {
	HarvestMethod       string  `json:"harvestMethod"`
	TotalWeight         float64 `json:"totalWeight"`
	PieceCount          int     `json:"pieceCount"`
	QualityGrade        string  `json:"qualityGrade"`
	PostHarvestHandling string  `json:"postHarvestHandling"`
}

// ProcessingData is captured when a batch enters PROCESSING.
type ProcessingData struct {
	FacilityID       string   `json:"facilityId"`
	ProcessingDate   string   `json:"processingDate"`
	ProcessingMethod string   `json:"processingMethod"`
	Temperature      float64  `json:"temperature"`
	PackagingType    string   `json:"packagingType"`
	BatchSize        float64  `json:"batchSize"`
	Certifications   []string `json:"certifications,omitempty"`
}

// StorageData is captured when a batch enters COLD_STORAGE.
type StorageData struct {
	FacilityID         string   `json:"facilityId"`
	StorageTemperature float64  `json:"storageTemperature"`
	StorageMethod      string   `json:"storageMethod"`
	EntryDate          string   `json:"entryDate"`
	Humidity           *float64 `json:"humidity,omitempty"`
	ExpiryDate         string   `json:"expiryDate,omitempty"`
}

// TransportData is captured when a batch enters TRANSPORT.
type TransportData struct {
	VehicleID     string  `json:"vehicleId"`
	Origin        string  `json:"origin"`
	Destination   string  `json:"destination"`
	DepartureTime string  `json:"departureTime"`
	Temperature   float64 `json:"temperature"`
	Carrier       string  `json:"carrier,omitempty"`
	ArrivalTime   string  `json:"arrivalTime,omitempty"`
}

// Payloads holds the per-stage structured data of a record. Each field is set
// at most once, when its stage is first entered with data.
type Payloads struct {
	Hatchery   *HatcheryData   `json:"hatcheryData,omitempty"`
	GrowOut    *GrowOutData    `json:"growOutData,omitempty"`
	Fishing    *FishingData    `json:"fishingData,omitempty"`
	Harvest    *HarvestData    `json:"harvestData,omitempty"`
	Processing *ProcessingData `json:"processingData,omitempty"`
	Storage    *StorageData    `json:"storageData,omitempty"`
	Transport  *TransportData  `json:"transportData,omitempty"`
}

// Has reports whether the payload for st is already populated.
func (p *Payloads) Has(st Stage) bool {
	switch st {
	case Hatchery:
		return p.Hatchery != nil
	case GrowOut:
		return p.GrowOut != nil
	case Fishing:
		return p.Fishing != nil
	case Harvest:
		return p.Harvest != nil
	case Processing:
		return p.Processing != nil
	case ColdStorage:
		return p.Storage != nil
	case Transport:
		return p.Transport != nil
	default:
		return false
	}
}

// Assign stores a parsed payload for st unless one is already present. It
// reports whether the value was stored.
func (p *Payloads) Assign(st Stage, v any) bool {
	if v == nil || p.Has(st) {
		return false
	}
	switch data := v.(type) {
	case *HatcheryData:
		if st == Hatchery {
			p.Hatchery = data
			return true
		}
	case *GrowOutData:
		if st == GrowOut {
			p.GrowOut = data
			return true
		}
	case *FishingData:
		if st == Fishing {
			p.Fishing = data
			return true
		}
	case *HarvestData:
		if st == Harvest {
			p.Harvest = data
			return true
		}
	case *ProcessingData:
		if st == Processing {
			p.Processing = data
			return true
		}
	case *StorageData:
		if st == ColdStorage {
			p.Storage = data
			return true
		}
	case *TransportData:
		if st == Transport {
			p.Transport = data
			return true
		}
	}
	return false
}

// ConsistentWith reports whether every populated payload is allowed for the
// given source type.
func (p *Payloads) ConsistentWith(source SourceType) bool {
	switch source {
	case SourceFarmed:
		return p.Fishing == nil
	case SourceWildCapture:
		return p.Hatchery == nil && p.GrowOut == nil
	default:
		return false
	}
}

// HasTypedPayload reports whether st has a structured payload shape.
// RETAIL and CONSUMER accept free-form data only.
func HasTypedPayload(st Stage) bool {
	switch st {
	case Retail, Consumer:
		return false
	default:
		return st.Valid()
	}
}
