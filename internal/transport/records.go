package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

const maxBodyBytes = 1 << 20

type createRecordBody struct {
	BatchCode    string          `json:"batchCode"`
	ProductName  string          `json:"productName"`
	Species      string          `json:"species"`
	SourceType   string          `json:"sourceType"`
	InitialStage string          `json:"initialStage"`
	IsPublic     bool            `json:"isPublic"`
	Location     string          `json:"location"`
	Data         json.RawMessage `json:"data"`
	FileHashes   []string        `json:"fileHashes"`
}

type updateStageBody struct {
	Stage      string          `json:"stage"`
	Data       json.RawMessage `json:"data"`
	Location   string          `json:"location"`
	Notes      string          `json:"notes"`
	FileHashes []string        `json:"fileHashes"`
	Override   bool            `json:"override"`
}

type setStatusBody struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

type setVisibilityBody struct {
	IsPublic *bool `json:"isPublic"`
}

// recordResponse adds the suggested next stage to a record.
type recordResponse struct {
	*record.Record
	NextStage stage.Stage `json:"nextStage,omitempty"`
}

func newRecordResponse(rec *record.Record) recordResponse {
	next, _ := record.SuggestNextStage(rec)
	return recordResponse{Record: rec, NextStage: next}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		badRequest(w, fmt.Sprintf("invalid JSON body: %v", err))
		return false
	}
	return true
}

func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	sources := stage.SourceTypes()
	if raw := r.URL.Query().Get("sourceType"); raw != "" {
		src, err := stage.ParseSourceType(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		sources = []stage.SourceType{src}
	}
	writeJSON(w, http.StatusOK, stage.Describe(sources...))
}

func (s *Server) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var body createRecordBody
	if !decodeBody(w, r, &body) {
		return
	}
	req := record.CreateRequest{
		BatchCode:    body.BatchCode,
		ProductName:  body.ProductName,
		Species:      body.Species,
		SourceType:   stage.SourceType(strings.ToUpper(strings.TrimSpace(body.SourceType))),
		InitialStage: stage.Stage(strings.ToUpper(strings.TrimSpace(body.InitialStage))),
		IsPublic:     body.IsPublic,
		Location:     body.Location,
		Data:         body.Data,
		FileHashes:   body.FileHashes,
	}

	rec, err := s.svc.Records.Create(r.Context(), actorFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/records/"+rec.ID)
	writeJSON(w, http.StatusCreated, newRecordResponse(rec))
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	opts := record.ListRecordsOptions{Limit: limit, Offset: offset}

	if raw := q.Get("status"); raw != "" {
		st := record.Status(strings.ToUpper(raw))
		if !st.Valid() {
			badRequest(w, fmt.Sprintf("unknown status %q", raw))
			return
		}
		opts.Status = &st
	}
	if raw := q.Get("sourceType"); raw != "" {
		src, err := stage.ParseSourceType(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		opts.SourceType = &src
	}
	if raw := q.Get("stage"); raw != "" {
		st, err := stage.ParseStage(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		opts.Stage = &st
	}

	// Admins see everything; others see public records or their own.
	actor := actorFrom(r)
	mine := q.Get("mine") == "true"
	switch {
	case mine:
		opts.OwnerID = actor.ID
	case actor.IsAdmin():
		opts.OwnerID = q.Get("ownerId")
		opts.PublicOnly = q.Get("publicOnly") == "true"
	default:
		opts.PublicOnly = true
	}

	out, err := s.svc.Records.List(r.Context(), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []record.Summary{}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSearchRecords(w http.ResponseWriter, r *http.Request) {
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	opts := record.SearchOptions{Limit: limit, Offset: offset, PublicOnly: !actorFrom(r).IsAdmin()}
	for _, raw := range r.URL.Query()["status"] {
		st := record.Status(strings.ToUpper(raw))
		if !st.Valid() {
			badRequest(w, fmt.Sprintf("unknown status %q", raw))
			return
		}
		opts.Statuses = append(opts.Statuses, st)
	}

	out, err := s.svc.Records.Search(r.Context(), r.URL.Query().Get("q"), opts)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if out == nil {
		out = []record.SearchResult{}
	}
	writeJSON(w, http.StatusOK, out)
}

// loadVisible fetches the record in the URL and hides it from actors that
// may not read it.
func (s *Server) loadVisible(w http.ResponseWriter, r *http.Request) (*record.Record, bool) {
	rec, err := s.svc.Records.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	actor := actorFrom(r)
	if s.svc.Viewer != nil && !s.svc.Viewer.CanView(&actor, rec) {
		s.writeError(w, r, record.ErrRecordNotFound)
		return nil, false
	}
	return rec, true
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	history := rec.History
	if history == nil {
		history = []record.StageHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleActivity(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.loadVisible(w, r)
	if !ok {
		return
	}
	limit, _, ok := pagination(w, r)
	if !ok {
		return
	}
	entries, err := s.svc.Activity.ForRecord(r.Context(), rec.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleUpdateStage(w http.ResponseWriter, r *http.Request) {
	var body updateStageBody
	if !decodeBody(w, r, &body) {
		return
	}
	req := record.TransitionRequest{
		RecordID:   chi.URLParam(r, "id"),
		Stage:      stage.Stage(strings.ToUpper(strings.TrimSpace(body.Stage))),
		Data:       body.Data,
		Location:   body.Location,
		Notes:      body.Notes,
		FileHashes: body.FileHashes,
		Override:   body.Override,
	}

	rec, err := s.svc.Records.UpdateStage(r.Context(), actorFrom(r), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var body setStatusBody
	if !decodeBody(w, r, &body) {
		return
	}
	to := record.Status(strings.ToUpper(strings.TrimSpace(body.Status)))
	rec, err := s.svc.Records.SetStatus(r.Context(), actorFrom(r), chi.URLParam(r, "id"), to, body.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func (s *Server) handleSetVisibility(w http.ResponseWriter, r *http.Request) {
	var body setVisibilityBody
	if !decodeBody(w, r, &body) {
		return
	}
	if body.IsPublic == nil {
		badRequest(w, "isPublic is required")
		return
	}
	rec, err := s.svc.Records.SetVisibility(r.Context(), actorFrom(r), chi.URLParam(r, "id"), *body.IsPublic)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec))
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &limit}, {"offset", &offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			badRequest(w, fmt.Sprintf("%s must be a non-negative integer", p.name))
			return 0, 0, false
		}
		*p.dst = n
	}
	return limit, offset, true
}
