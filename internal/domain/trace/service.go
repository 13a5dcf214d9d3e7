// Package trace builds the read-only consumer view of a record.
package trace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
)

// ErrTraceNotFound is returned for missing records and for records the
// viewer may not see. Callers cannot tell the two apart.
var ErrTraceNotFound = errors.New("trace not found")

// Records loads records with their history.
type Records interface {
	Get(ctx context.Context, id string) (*record.Record, error)
}

// Viewer decides visibility of non-public records.
type Viewer interface {
	CanView(viewer *record.Actor, rec *record.Record) bool
}

// AttachmentResolver turns a content reference into a retrievable URL.
type AttachmentResolver interface {
	ResolveURL(ctx context.Context, ref string) (string, error)
}

// Recorder observes trace lookups for metrics.
type Recorder interface {
	TraceViewed(outcome string)
}

// Service projects records into trace views. It never writes.
type Service struct {
	records  Records
	viewer   Viewer
	resolver AttachmentResolver
	recorder Recorder
	logger   *slog.Logger
}

// NewService creates a trace service.
func NewService(records Records, viewer Viewer, resolver AttachmentResolver, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{records: records, viewer: viewer, resolver: resolver, logger: logger}
}

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// View returns the trace of id for viewer, which is nil for anonymous
// callers.
func (s *Service) View(ctx context.Context, id string, viewer *record.Actor) (*View, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, record.ErrRecordNotFound) {
			s.observe("not_found")
			return nil, ErrTraceNotFound
		}
		return nil, fmt.Errorf("loading record for trace: %w", err)
	}
	if !s.viewer.CanView(viewer, rec) {
		s.observe("not_found")
		return nil, ErrTraceNotFound
	}

	view := Project(rec)
	s.resolveURLs(ctx, view)
	s.observe("ok")
	return view, nil
}

// Project builds a view from rec without resolving attachment URLs.
func Project(rec *record.Record) *View {
	history := append([]record.StageHistoryEntry(nil), rec.History...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Timestamp.Before(history[j].Timestamp)
	})

	view := &View{
		Record: Summary{
			ID:           rec.ID,
			BatchCode:    rec.BatchCode,
			ProductName:  rec.ProductName,
			Species:      rec.Species,
			SourceType:   rec.SourceType,
			CurrentStage: rec.CurrentStage,
			Status:       rec.Status,
			CreatedAt:    rec.CreatedAt,
			UpdatedAt:    rec.UpdatedAt,
		},
		OriginStage:     rec.InitialStage,
		StageData:       rec.Payloads,
		History:         make([]TimelineEntry, 0, len(history)),
		RemainingStages: []stage.Stage{},
		Attachments:     []Attachment{},
		Verification:    verification(rec),
	}
	if rec.Status == record.StatusActive {
		if remaining := stage.Remaining(rec.SourceType, rec.CurrentStage); remaining != nil {
			view.RemainingStages = remaining
		}
	}

	seen := make(map[string]struct{})
	for _, e := range history {
		entry := TimelineEntry{
			Seq:       e.Seq,
			Stage:     e.Stage,
			Timestamp: e.Timestamp,
			ActorID:   e.ActorID,
			Location:  e.Location,
			Notes:     e.Notes,
			Data:      e.Data,
		}
		for _, ref := range e.FileHashes {
			entry.Attachments = append(entry.Attachments, Attachment{Ref: ref, Stage: e.Stage})
			seen[ref] = struct{}{}
		}
		view.History = append(view.History, entry)
	}

	for _, ref := range rec.FileHashes {
		att := Attachment{Ref: ref}
		if _, ok := seen[ref]; ok {
			att.Stage = stageOf(view.History, ref)
		}
		view.Attachments = append(view.Attachments, att)
	}

	view.Progress = progress(rec, view.History)
	return view
}

func verification(rec *record.Record) Verification {
	v := Verification{DataHash: rec.DataHash, Status: Pending}
	if rec.BlockchainHash != nil && *rec.BlockchainHash != "" {
		v.BlockchainHash = *rec.BlockchainHash
		v.Status = Verified
	}
	return v
}

func progress(rec *record.Record, history []TimelineEntry) []StageProgress {
	reachedAt := make(map[stage.Stage]TimelineEntry, len(history))
	for _, e := range history {
		if _, ok := reachedAt[e.Stage]; !ok {
			reachedAt[e.Stage] = e
		}
	}
	catalog := stage.Applicable(rec.SourceType)
	out := make([]StageProgress, 0, len(catalog))
	for _, st := range catalog {
		p := StageProgress{Stage: st, Current: st == rec.CurrentStage}
		if e, ok := reachedAt[st]; ok {
			ts := e.Timestamp
			p.Reached = true
			p.ReachedAt = &ts
		} else if st == rec.InitialStage {
			ts := rec.CreatedAt
			p.Reached = true
			p.ReachedAt = &ts
		}
		out = append(out, p)
	}
	return out
}

func stageOf(history []TimelineEntry, ref string) stage.Stage {
	for _, e := range history {
		for _, a := range e.Attachments {
			if a.Ref == ref {
				return e.Stage
			}
		}
	}
	return ""
}

func (s *Service) resolveURLs(ctx context.Context, view *View) {
	if s.resolver == nil {
		return
	}
	cache := make(map[string]string)
	resolve := func(ref string) string {
		if url, ok := cache[ref]; ok {
			return url
		}
		url, err := s.resolver.ResolveURL(ctx, ref)
		if err != nil {
			s.logger.Warn("failed to resolve attachment", "ref", ref, "error", err)
		}
		cache[ref] = url
		return url
	}
	for i := range view.Attachments {
		view.Attachments[i].URL = resolve(view.Attachments[i].Ref)
	}
	for i := range view.History {
		for j := range view.History[i].Attachments {
			view.History[i].Attachments[j].URL = resolve(view.History[i].Attachments[j].Ref)
		}
	}
}

func (s *Service) observe(outcome string) {
	if s.recorder != nil {
		s.recorder.TraceViewed(outcome)
	}
}
