// Package attachment stores documents and photos by content hash and
// resolves their references to retrievable URLs.
package attachment

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/tracceaqua/tracceaqua/internal/blob"
)

const refPrefix = "sha256:"

var (
	// ErrNotFound indicates no content is stored for the reference.
	ErrNotFound = errors.New("attachment not found")
	// ErrInvalidRef indicates a malformed content reference.
	ErrInvalidRef = errors.New("invalid attachment reference")
	// ErrTooLarge indicates the upload exceeds the configured limit.
	ErrTooLarge = errors.New("attachment too large")
	// ErrEmpty indicates an upload without content.
	ErrEmpty = errors.New("attachment is empty")
)

// Attachment describes stored content.
type Attachment struct {
	Ref         string `json:"ref"`
	Size        int64  `json:"size"`
	ContentType string `json:"contentType,omitempty"`
	Created     bool   `json:"created"`
}

// Config tunes the attachment service.
type Config struct {
	MaxSize       int64
	PublicBaseURL string
	PresignExpiry time.Duration
}

// Service is the content-addressed attachment store.
type Service struct {
	store  blob.Store
	cfg    Config
	logger *slog.Logger
}

// NewService creates an attachment service over store.
func NewService(store blob.Store, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 25 << 20
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	return &Service{store: store, cfg: cfg, logger: logger}
}

// Put stores the content of r and returns its reference. Storing the same
// bytes twice yields the same reference and keeps the first copy.
func (s *Service) Put(ctx context.Context, r io.Reader, contentType string) (Attachment, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.cfg.MaxSize+1))
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxSize {
		return Attachment{}, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, s.cfg.MaxSize)
	}
	if len(data) == 0 {
		return Attachment{}, ErrEmpty
	}

	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	ref := refPrefix + digest
	key := keyFor(digest)

	if info, err := s.store.Head(ctx, key); err == nil {
		return Attachment{Ref: ref, Size: info.Size, ContentType: info.ContentType}, nil
	} else if !errors.Is(err, blob.ErrNotFound) {
		return Attachment{}, fmt.Errorf("checking attachment: %w", err)
	}

	info, err := s.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: contentType})
	if errors.Is(err, blob.ErrExists) {
		return Attachment{Ref: ref, Size: int64(len(data)), ContentType: contentType}, nil
	}
	if err != nil {
		return Attachment{}, fmt.Errorf("storing attachment: %w", err)
	}
	s.logger.Info("attachment stored", "ref", ref, "size", info.Size, "driver", s.store.Driver())
	return Attachment{Ref: ref, Size: info.Size, ContentType: contentType, Created: true}, nil
}

// Open streams the content behind ref. The caller closes the reader.
func (s *Service) Open(ctx context.Context, ref string) (blob.Info, io.ReadCloser, error) {
	digest, err := ParseRef(ref)
	if err != nil {
		return blob.Info{}, nil, err
	}
	info, rc, err := s.store.Get(ctx, keyFor(digest))
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			return blob.Info{}, nil, ErrNotFound
		}
		return blob.Info{}, nil, fmt.Errorf("opening attachment: %w", err)
	}
	return info, rc, nil
}

// ResolveURL returns a URL for ref. Stores that can presign return a signed
// link; everything else, including references managed elsewhere, resolves
// to this service's download route.
func (s *Service) ResolveURL(ctx context.Context, ref string) (string, error) {
	if digest, err := ParseRef(ref); err == nil {
		signed, err := s.store.PresignURL(ctx, keyFor(digest), blob.SignedURLOptions{Expiry: s.cfg.PresignExpiry})
		if err == nil {
			return signed, nil
		}
		if !errors.Is(err, blob.ErrUnsupported) {
			return "", fmt.Errorf("presigning attachment: %w", err)
		}
	}
	return s.cfg.PublicBaseURL + "/attachments/" + url.PathEscape(ref), nil
}

// ParseRef validates a "sha256:<hex>" reference and returns the digest.
func ParseRef(ref string) (string, error) {
	digest, ok := strings.CutPrefix(strings.TrimSpace(ref), refPrefix)
	if !ok || len(digest) != sha256.Size*2 {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	if _, err := hex.DecodeString(digest); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return strings.ToLower(digest), nil
}

func keyFor(digest string) string {
	return "sha256/" + digest[:2] + "/" + digest
}
