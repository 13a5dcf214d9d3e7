package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

const defaultListLimit = 50

// Service handles activity log operations.
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// NewService creates a new activity service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Service{repo: repo, logger: logger}
}

// LogActivity logs an activity entry with the current timestamp if missing.
func (s *Service) LogActivity(ctx context.Context, entry *ActivityEntry) error {
	if entry == nil || entry.ActivityType == "" {
		return ErrInvalidInput
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := s.repo.Log(ctx, entry); err != nil {
		return fmt.Errorf("logging activity: %w", err)
	}
	return nil
}

// GetRecentActivity lists activity entries with filtering, newest first.
func (s *Service) GetRecentActivity(ctx context.Context, opts ListActivityOptions) ([]ActivityEntry, error) {
	if opts.Limit <= 0 {
		opts.Limit = defaultListLimit
	}
	entries, err := s.repo.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("listing activity: %w", err)
	}
	return entries, nil
}

// ForRecord lists the audit trail of one record.
func (s *Service) ForRecord(ctx context.Context, recordID string, limit int) ([]ActivityEntry, error) {
	if recordID == "" {
		return nil, ErrInvalidInput
	}
	return s.GetRecentActivity(ctx, ListActivityOptions{RecordID: &recordID, Limit: limit})
}
