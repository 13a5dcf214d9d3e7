package record

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/clock"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
	"github.com/tracceaqua/tracceaqua/internal/domain/anchor"
	"github.com/tracceaqua/tracceaqua/internal/domain/stage"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

const (
	defaultMaxAttempts = 5
	defaultListLimit   = 50
	maxListLimit       = 500
	systemActorID      = "system"
)

// Service handles record business logic.
type Service struct {
	records     RecordRepository
	search      SearchRepository
	activities  ActivityRepository
	authz       Authorizer
	clock       clock.Clock
	ids         clock.IDGenerator
	recorder    Recorder
	maxAttempts int
	logger      *slog.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator overrides the ID source.
func WithIDGenerator(g clock.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Service) { s.recorder = r }
}

// WithMaxAttempts bounds how often a conflicting write is retried.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// NewService creates a new record service.
func NewService(
	records RecordRepository,
	search SearchRepository,
	activities ActivityRepository,
	authz Authorizer,
	logger *slog.Logger,
	opts ...Option,
) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Service{
		records:     records,
		search:      search,
		activities:  activities,
		authz:       authz,
		clock:       clock.Real{},
		ids:         clock.UUIDGenerator{},
		maxAttempts: defaultMaxAttempts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateRequest describes a record creation request.
type CreateRequest struct {
	BatchCode    string
	ProductName  string
	Species      string
	SourceType   stage.SourceType
	InitialStage stage.Stage
	IsPublic     bool
	Location     string
	// Data is the optional payload of the initial stage.
	Data       []byte
	FileHashes []string
}

// TransitionRequest describes a stage transition request.
type TransitionRequest struct {
	RecordID   string
	Stage      stage.Stage
	Data       []byte
	Location   string
	Notes      string
	FileHashes []string
	// Override lets an admin move a record to an earlier or equal stage.
	Override bool
}

// Create registers a new batch in its initial stage.
func (s *Service) Create(ctx context.Context, actor Actor, req CreateRequest) (*Record, error) {
	if err := ValidateCreateInput(req); err != nil {
		return nil, err
	}

	typed, _, err := stage.Parse(req.InitialStage, req.Data)
	if err != nil {
		return nil, err
	}
	if !s.authz.CanCreate(actor, req.SourceType) {
		return nil, fmt.Errorf("%w: %s may not create %s records", ErrUnauthorized, actor.Role, req.SourceType)
	}

	now := s.now()
	id := s.ids.New()
	rec := &Record{
		ID:           id,
		BatchCode:    strings.TrimSpace(req.BatchCode),
		ProductName:  strings.TrimSpace(req.ProductName),
		Species:      strings.TrimSpace(req.Species),
		SourceType:   req.SourceType,
		InitialStage: req.InitialStage,
		CurrentStage: req.InitialStage,
		Status:       StatusActive,
		IsPublic:     req.IsPublic,
		OwnerID:      actor.ID,
		Location:     strings.TrimSpace(req.Location),
		FileHashes:   mergeHashes(nil, req.FileHashes),
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
		History:      []StageHistoryEntry{},
	}
	if rec.BatchCode == "" {
		rec.BatchCode = generateBatchCode(now, id)
	}
	rec.Payloads.Assign(req.InitialStage, typed)
	if !rec.Payloads.ConsistentWith(rec.SourceType) {
		return nil, fmt.Errorf("%w: %s payload on a %s record", ErrStageNotApplicable, req.InitialStage, rec.SourceType)
	}

	if rec.DataHash, err = ComputeDataHash(rec); err != nil {
		return nil, err
	}
	job := anchor.NewJob(s.ids.New(), rec.ID, rec.DataHash, now)

	if err := s.records.Create(ctx, rec, job); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateBatch, rec.BatchCode)
		}
		return nil, fmt.Errorf("creating record: %w", err)
	}

	s.logActivity(ctx, rec.ID, actor.ID, activity.TypeRecordCreated,
		fmt.Sprintf("registered %s batch %s at %s", rec.SourceType, rec.BatchCode, rec.InitialStage),
		map[string]any{"initial_stage": rec.InitialStage, "data_hash": rec.DataHash})
	s.logger.Info("record created", "record_id", rec.ID, "batch_code", rec.BatchCode, "actor_id", actor.ID)

	return rec, nil
}

// UpdateStage validates and applies a stage transition. A write that loses a
// version race is re-read and re-validated a bounded number of times.
func (s *Service) UpdateStage(ctx context.Context, actor Actor, req TransitionRequest) (*Record, error) {
	if err := ValidateTransitionInput(req); err != nil {
		s.observe(req.Stage, "rejected")
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		current, err := s.records.Get(ctx, req.RecordID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				s.observe(req.Stage, "rejected")
				return nil, fmt.Errorf("%w: %w", ErrNotTransitionable, ErrRecordNotFound)
			}
			return nil, fmt.Errorf("loading record: %w", err)
		}

		updated, entry, err := s.planTransition(actor, current, req)
		if err != nil {
			s.observe(req.Stage, "rejected")
			return nil, err
		}
		job := anchor.NewJob(s.ids.New(), updated.ID, updated.DataHash, updated.UpdatedAt)

		err = s.records.ApplyTransition(ctx, updated, entry, current.Version, job)
		switch {
		case err == nil:
			s.logActivity(ctx, updated.ID, actor.ID, activity.TypeStageTransition,
				fmt.Sprintf("moved %s from %s to %s", updated.BatchCode, current.CurrentStage, updated.CurrentStage),
				map[string]any{"from": current.CurrentStage, "to": updated.CurrentStage, "seq": entry.Seq, "override": req.Override})
			s.logger.Info("stage transition applied",
				"record_id", updated.ID,
				"from", current.CurrentStage,
				"to", updated.CurrentStage,
				"actor_id", actor.ID,
				"attempt", attempt,
			)
			s.observe(req.Stage, "accepted")
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			if attempt >= s.maxAttempts {
				s.observe(req.Stage, "conflict")
				return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, attempt)
			}
			s.logger.Debug("transition lost version race, retrying", "record_id", req.RecordID, "attempt", attempt)
		case errors.Is(err, repository.ErrNotFound):
			s.observe(req.Stage, "rejected")
			return nil, fmt.Errorf("%w: %w", ErrNotTransitionable, ErrRecordNotFound)
		default:
			return nil, fmt.Errorf("applying transition: %w", err)
		}
	}
}

// planTransition runs the ordered checks against current and returns the
// record state and history entry to write.
func (s *Service) planTransition(actor Actor, current *Record, req TransitionRequest) (*Record, *StageHistoryEntry, error) {
	if current.Status != StatusActive {
		return nil, nil, fmt.Errorf("%w: record is %s", ErrNotTransitionable, current.Status)
	}

	target, ok := stage.Position(current.SourceType, req.Stage)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s is not part of the %s catalog", ErrStageNotApplicable, req.Stage, current.SourceType)
	}
	pos, _ := stage.Position(current.SourceType, current.CurrentStage)
	if target <= pos && !(req.Override && actor.IsAdmin()) {
		return nil, nil, fmt.Errorf("%w: %s does not come after %s", ErrStageOutOfOrder, req.Stage, current.CurrentStage)
	}

	typed, normalized, err := stage.Parse(req.Stage, req.Data)
	if err != nil {
		return nil, nil, err
	}
	// Entering a typed stage sets its payload; only a re-entry may omit it.
	if typed == nil && stage.HasTypedPayload(req.Stage) && !current.Payloads.Has(req.Stage) {
		return nil, nil, stage.MissingPayload(req.Stage)
	}

	if !s.authz.CanTransition(actor, current, req.Stage) {
		return nil, nil, fmt.Errorf("%w: %s may not record %s", ErrUnauthorized, actor.Role, req.Stage)
	}

	now := s.now()
	if last := current.LastEntry(); last != nil && now.Before(last.Timestamp) {
		now = last.Timestamp
	}
	if now.Before(current.CreatedAt) {
		now = current.CreatedAt
	}

	entry := StageHistoryEntry{
		ID:         s.ids.New(),
		RecordID:   current.ID,
		Seq:        len(current.History) + 1,
		Stage:      req.Stage,
		Timestamp:  now,
		ActorID:    actor.ID,
		Location:   strings.TrimSpace(req.Location),
		Notes:      req.Notes,
		Data:       normalized,
		FileHashes: mergeHashes(nil, req.FileHashes),
	}

	updated := current.Clone()
	updated.CurrentStage = req.Stage
	updated.Payloads.Assign(req.Stage, typed)
	updated.FileHashes = mergeHashes(current.FileHashes, entry.FileHashes)
	updated.History = append(updated.History, entry)
	if entry.Location != "" {
		updated.Location = entry.Location
	}
	updated.BlockchainHash = nil
	updated.Version = current.Version + 1
	updated.UpdatedAt = now
	if updated.DataHash, err = ComputeDataHash(updated); err != nil {
		return nil, nil, err
	}

	return updated, &entry, nil
}

// SetStatus moves an ACTIVE record to a terminal status.
func (s *Service) SetStatus(ctx context.Context, actor Actor, id string, to Status, reason string) (*Record, error) {
	result, err := s.retry(ctx, id, func(current *Record) (*Record, error) {
		if err := ValidateStatusChange(current.Status, to); err != nil {
			return nil, err
		}
		if !s.authz.CanChangeStatus(actor, current, to) {
			return nil, fmt.Errorf("%w: %s may not mark record %s", ErrUnauthorized, actor.Role, to)
		}
		updated := current.Clone()
		updated.Status = to
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	s.logActivity(ctx, id, actor.ID, activity.TypeStatusChanged,
		fmt.Sprintf("marked %s %s", result.BatchCode, to),
		map[string]any{"status": to, "reason": reason})
	s.logger.Info("record status changed", "record_id", id, "status", to, "actor_id", actor.ID)
	return result, nil
}

// SetVisibility toggles whether the public trace view may show the record.
func (s *Service) SetVisibility(ctx context.Context, actor Actor, id string, isPublic bool) (*Record, error) {
	result, err := s.retry(ctx, id, func(current *Record) (*Record, error) {
		if !s.authz.CanManage(actor, current) {
			return nil, fmt.Errorf("%w: only the owner or an admin may change visibility", ErrUnauthorized)
		}
		updated := current.Clone()
		updated.IsPublic = isPublic
		return updated, nil
	})
	if err != nil {
		return nil, err
	}

	s.logActivity(ctx, id, actor.ID, activity.TypeVisibilityChanged,
		fmt.Sprintf("set %s public=%t", result.BatchCode, isPublic),
		map[string]any{"is_public": isPublic})
	return result, nil
}

// retry applies mutate to the freshest record state until the versioned
// write succeeds or attempts run out.
func (s *Service) retry(ctx context.Context, id string, mutate func(*Record) (*Record, error)) (*Record, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: record id is required", ErrInvalidInput)
	}
	for attempt := 1; ; attempt++ {
		current, err := s.records.Get(ctx, id)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, ErrRecordNotFound
			}
			return nil, fmt.Errorf("loading record: %w", err)
		}
		updated, err := mutate(current)
		if err != nil {
			return nil, err
		}
		updated.Version = current.Version + 1
		updated.UpdatedAt = s.now()

		err = s.records.Update(ctx, updated, current.Version)
		switch {
		case err == nil:
			return updated, nil
		case errors.Is(err, repository.ErrConflict):
			if attempt >= s.maxAttempts {
				return nil, fmt.Errorf("%w: gave up after %d attempts", ErrConflict, attempt)
			}
		case errors.Is(err, repository.ErrNotFound):
			return nil, ErrRecordNotFound
		default:
			return nil, fmt.Errorf("updating record: %w", err)
		}
	}
}

// ExpireStale moves ACTIVE records not updated within maxAge to EXPIRED and
// returns their IDs.
func (s *Service) ExpireStale(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		return nil, fmt.Errorf("%w: max age must be positive", ErrInvalidInput)
	}
	now := s.now()
	cutoff := now.Add(-maxAge)
	ids, err := s.records.ExpireStale(ctx, cutoff, now)
	if err != nil {
		return nil, fmt.Errorf("expiring stale records: %w", err)
	}
	for _, id := range ids {
		s.logActivity(ctx, id, systemActorID, activity.TypeStatusChanged,
			"expired after inactivity",
			map[string]any{"status": StatusExpired, "cutoff": cutoff})
	}
	if len(ids) > 0 {
		s.logger.Info("expired stale records", "count", len(ids), "cutoff", cutoff)
	}
	return ids, nil
}

// MarkAnchored records the ledger reference for dataHash. It reports false
// when the record has moved on to a newer hash.
func (s *Service) MarkAnchored(ctx context.Context, id, dataHash, ledgerRef string) (bool, error) {
	applied, err := s.records.SetBlockchainHash(ctx, id, dataHash, ledgerRef)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, ErrRecordNotFound
		}
		return false, fmt.Errorf("marking record anchored: %w", err)
	}
	if applied {
		s.logActivity(ctx, id, systemActorID, activity.TypeAnchorConfirmed,
			fmt.Sprintf("anchored %s", dataHash),
			map[string]any{"data_hash": dataHash, "ledger_ref": ledgerRef})
	}
	return applied, nil
}

// CurrentDataHash returns the stored data hash of a record.
func (s *Service) CurrentDataHash(ctx context.Context, id string) (string, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return rec.DataHash, nil
}

// Get returns a record by ID with its history.
func (s *Service) Get(ctx context.Context, id string) (*Record, error) {
	rec, err := s.records.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("getting record: %w", err)
	}
	return rec, nil
}

// History returns the ordered stage history of a record.
func (s *Service) History(ctx context.Context, id string) ([]StageHistoryEntry, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.History, nil
}

// List returns record summaries based on options.
func (s *Service) List(ctx context.Context, opts ListRecordsOptions) ([]Summary, error) {
	opts.Limit = clampLimit(opts.Limit)
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	out, err := s.records.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	return out, nil
}

// Search runs full-text search over batch code, product name and species.
func (s *Service) Search(ctx context.Context, query string, opts SearchOptions) ([]SearchResult, error) {
	if s.search == nil {
		return nil, fmt.Errorf("search repository not configured")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidInput)
	}
	opts.Limit = clampLimit(opts.Limit)
	out, err := s.search.Search(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("searching records: %w", err)
	}
	return out, nil
}

// SuggestNextStage returns the catalog successor of the record's current
// stage, if any. It is advisory; UpdateStage accepts forward skips.
func SuggestNextStage(rec *Record) (stage.Stage, bool) {
	if rec == nil || rec.Status != StatusActive {
		return "", false
	}
	return stage.Next(rec.SourceType, rec.CurrentStage)
}

func (s *Service) logActivity(ctx context.Context, recordID, actorID string, typ activity.ActivityType, summary string, details map[string]any) {
	if s.activities == nil {
		return
	}
	err := s.activities.Log(ctx, &activity.ActivityEntry{
		RecordID:     &recordID,
		ActorID:      actorID,
		ActivityType: typ,
		Summary:      summary,
		Details:      activity.Details(details),
		CreatedAt:    s.now(),
	})
	if err != nil {
		s.logger.Warn("failed to log activity", "record_id", recordID, "type", typ, "error", err)
	}
}

// observe labels names outside the catalog as "unknown" so callers cannot
// mint new series.
func (s *Service) observe(target stage.Stage, outcome string) {
	if s.recorder == nil {
		return
	}
	label := "unknown"
	if st, err := stage.ParseStage(string(target)); err == nil {
		label = string(st)
	}
	s.recorder.TransitionObserved(label, outcome)
}

// now is truncated to microseconds so stored timestamps round-trip through
// every supported database unchanged.
func (s *Service) now() time.Time {
	return s.clock.Now().UTC().Truncate(time.Microsecond)
}

func clampLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultListLimit
	case limit > maxListLimit:
		return maxListLimit
	default:
		return limit
	}
}

func generateBatchCode(now time.Time, id string) string {
	suffix := strings.ToUpper(strings.ReplaceAll(id, "-", ""))
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return fmt.Sprintf("TA-%s-%s", now.Format("20060102"), suffix)
}
