package access

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/clock"
	"github.com/tracceaqua/tracceaqua/internal/domain/record"
	"github.com/tracceaqua/tracceaqua/internal/repository"
)

const tokenPrefix = "ta_"

// ErrInvalidKey indicates a missing, unknown or malformed API key.
var ErrInvalidKey = errors.New("invalid api key")

// APIKey binds a hashed bearer token to an actor. The plaintext token is
// shown once at issue time and never stored.
type APIKey struct {
	Hash        string      `json:"hash"`
	ActorID     string      `json:"actorId"`
	Role        record.Role `json:"role"`
	Description string      `json:"description,omitempty"`
	CreatedAt   time.Time   `json:"createdAt"`
	LastUsed    *time.Time  `json:"lastUsed,omitempty"`
}

// KeyStore persists API keys.
type KeyStore interface {
	CreateKey(ctx context.Context, key *APIKey) error
	LookupKey(ctx context.Context, hash string) (*APIKey, error)
	TouchKey(ctx context.Context, hash string, at time.Time) error
	ListKeys(ctx context.Context) ([]APIKey, error)
	RevokeKey(ctx context.Context, hash string) error
}

// KeyService issues API keys and resolves bearer tokens to actors.
type KeyService struct {
	store  KeyStore
	clock  clock.Clock
	logger *slog.Logger
}

// NewKeyService creates a key service.
func NewKeyService(store KeyStore, clk clock.Clock, logger *slog.Logger) *KeyService {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &KeyService{store: store, clock: clk, logger: logger}
}

// HashToken returns the hex SHA-256 of a bearer token.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Issue creates a key for actorID and returns the plaintext token.
func (s *KeyService) Issue(ctx context.Context, actorID string, role record.Role, description string) (string, *APIKey, error) {
	actorID = strings.TrimSpace(actorID)
	if actorID == "" {
		return "", nil, fmt.Errorf("%w: actor id is required", repository.ErrInvalidInput)
	}
	if !role.Valid() {
		return "", nil, fmt.Errorf("%w: unknown role %q", repository.ErrInvalidInput, role)
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}
	token := tokenPrefix + hex.EncodeToString(buf)

	key := &APIKey{
		Hash:        HashToken(token),
		ActorID:     actorID,
		Role:        role,
		Description: description,
		CreatedAt:   s.clock.Now().UTC().Truncate(time.Microsecond),
	}
	if err := s.store.CreateKey(ctx, key); err != nil {
		return "", nil, fmt.Errorf("storing api key: %w", err)
	}
	s.logger.Info("api key issued", "actor_id", actorID, "role", role)
	return token, key, nil
}

// ResolveActor maps a bearer token to its actor.
func (s *KeyService) ResolveActor(ctx context.Context, token string) (record.Actor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return record.Actor{}, ErrInvalidKey
	}
	hash := HashToken(token)
	key, err := s.store.LookupKey(ctx, hash)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return record.Actor{}, ErrInvalidKey
		}
		return record.Actor{}, fmt.Errorf("looking up api key: %w", err)
	}
	if err := s.store.TouchKey(ctx, hash, s.clock.Now()); err != nil {
		s.logger.Debug("failed to record key use", "actor_id", key.ActorID, "error", err)
	}
	return record.Actor{ID: key.ActorID, Role: key.Role}, nil
}

// List returns every issued key.
func (s *KeyService) List(ctx context.Context) ([]APIKey, error) {
	return s.store.ListKeys(ctx)
}

// Revoke deletes the key with the given hash.
func (s *KeyService) Revoke(ctx context.Context, hash string) error {
	if err := s.store.RevokeKey(ctx, hash); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrInvalidKey
		}
		return fmt.Errorf("revoking api key: %w", err)
	}
	return nil
}
