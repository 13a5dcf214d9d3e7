package anchor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tracceaqua/tracceaqua/internal/clock"
	"github.com/tracceaqua/tracceaqua/internal/domain/activity"
)

// Config tunes the anchoring worker.
type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Concurrency  int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	// Lease is how long a claimed job stays invisible to other pollers.
	Lease time.Duration
}

// DefaultConfig returns the worker defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		BatchSize:    20,
		Concurrency:  4,
		MaxAttempts:  8,
		BaseBackoff:  2 * time.Second,
		MaxBackoff:   10 * time.Minute,
		Lease:        time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = d.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.Lease <= 0 {
		c.Lease = d.Lease
	}
	return c
}

// Backoff returns the delay before retry number attempts (1-based):
// base * 2^(attempts-1), capped at max.
func Backoff(attempts int, base, max time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= max || delay <= 0 {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

// Worker drains the anchoring outbox. It never touches record rows except
// through Records.MarkAnchored, which is a separate idempotent write.
type Worker struct {
	jobs       JobRepository
	records    Records
	ledger     Ledger
	activities ActivityRepository
	clock      clock.Clock
	cfg        Config
	recorder   Recorder
	logger     *slog.Logger
}

// NewWorker creates an anchoring worker.
func NewWorker(
	jobs JobRepository,
	records Records,
	ledger Ledger,
	activities ActivityRepository,
	clk clock.Clock,
	cfg Config,
	logger *slog.Logger,
) *Worker {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Worker{
		jobs:       jobs,
		records:    records,
		ledger:     ledger,
		activities: activities,
		clock:      clk,
		cfg:        cfg.withDefaults(),
		logger:     logger,
	}
}

// SetRecorder attaches a metrics recorder.
func (w *Worker) SetRecorder(r Recorder) {
	w.recorder = r
}

// Run polls until ctx is canceled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.logger.Info("anchor worker started", "poll_interval", w.cfg.PollInterval, "concurrency", w.cfg.Concurrency)
	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("anchor pass failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("anchor worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce claims one batch of due jobs and processes them concurrently.
func (w *Worker) RunOnce(ctx context.Context) (Result, error) {
	now := w.clock.Now()
	jobs, err := w.jobs.Claim(ctx, now, w.cfg.Lease, w.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("claiming anchor jobs: %w", err)
	}

	result := Result{Claimed: len(jobs)}
	if len(jobs) == 0 {
		return result, nil
	}

	outcomes := make([]Outcome, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.Concurrency)
	for i := range jobs {
		job := jobs[i]
		g.Go(func() error {
			outcome, err := w.process(gctx, job)
			if err != nil {
				return err
			}
			outcomes[i] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	for _, o := range outcomes {
		result.add(o)
	}
	return result, nil
}

// process anchors one job. Ledger and record failures are absorbed into the
// retry schedule; only job bookkeeping failures are returned.
func (w *Worker) process(ctx context.Context, job Job) (Outcome, error) {
	logger := w.logger.With("job_id", job.ID, "record_id", job.RecordID)

	current, err := w.records.CurrentDataHash(ctx, job.RecordID)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("loading record hash: %w", err))
	}
	if current != job.DataHash {
		if err := w.jobs.Complete(ctx, job.ID, "", w.clock.Now()); err != nil {
			return "", fmt.Errorf("completing superseded job %s: %w", job.ID, err)
		}
		logger.Debug("anchor job superseded", "job_hash", job.DataHash, "current_hash", current)
		w.observe(OutcomeSuperseded)
		return OutcomeSuperseded, nil
	}

	ref, err := w.ledger.Anchor(ctx, job.RecordID, job.DataHash)
	if err != nil {
		return w.fail(ctx, job, err)
	}

	applied, err := w.records.MarkAnchored(ctx, job.RecordID, job.DataHash, ref)
	if err != nil {
		return w.fail(ctx, job, fmt.Errorf("recording anchor: %w", err))
	}
	if err := w.jobs.Complete(ctx, job.ID, ref, w.clock.Now()); err != nil {
		return "", fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	if !applied {
		logger.Debug("anchor landed after record changed", "ledger_ref", ref)
		w.observe(OutcomeSuperseded)
		return OutcomeSuperseded, nil
	}

	logger.Info("record anchored", "ledger_ref", ref, "attempts", job.Attempts+1)
	w.observe(OutcomeAnchored)
	return OutcomeAnchored, nil
}

func (w *Worker) fail(ctx context.Context, job Job, cause error) (Outcome, error) {
	attempts := job.Attempts + 1
	now := w.clock.Now()
	logger := w.logger.With("job_id", job.ID, "record_id", job.RecordID, "attempts", attempts)

	if attempts >= w.cfg.MaxAttempts {
		if err := w.jobs.Abandon(ctx, job.ID, attempts, cause.Error(), now); err != nil {
			return "", fmt.Errorf("abandoning job %s: %w", job.ID, err)
		}
		logger.Warn("anchor job abandoned", "error", cause)
		w.logAbandoned(ctx, job, attempts, cause)
		w.observe(OutcomeAbandoned)
		return OutcomeAbandoned, nil
	}

	next := now.Add(Backoff(attempts, w.cfg.BaseBackoff, w.cfg.MaxBackoff))
	if err := w.jobs.Reschedule(ctx, job.ID, attempts, next, cause.Error(), now); err != nil {
		return "", fmt.Errorf("rescheduling job %s: %w", job.ID, err)
	}
	logger.Warn("anchor attempt failed", "error", cause, "next_attempt_at", next)
	w.observe(OutcomeRetry)
	return OutcomeRetry, nil
}

func (w *Worker) logAbandoned(ctx context.Context, job Job, attempts int, cause error) {
	if w.activities == nil {
		return
	}
	recordID := job.RecordID
	err := w.activities.Log(ctx, &activity.ActivityEntry{
		RecordID:     &recordID,
		ActorID:      "system",
		ActivityType: activity.TypeAnchorAbandoned,
		Summary:      fmt.Sprintf("gave up anchoring %s after %d attempts", job.DataHash, attempts),
		Details:      activity.Details(map[string]any{"job_id": job.ID, "error": cause.Error()}),
		CreatedAt:    w.clock.Now(),
	})
	if err != nil {
		w.logger.Warn("failed to log anchor activity", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) observe(o Outcome) {
	if w.recorder != nil {
		w.recorder.AnchorProcessed(string(o))
	}
}
