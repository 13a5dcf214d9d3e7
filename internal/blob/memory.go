package blob

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

type memObject struct {
	data []byte
	info Info
}

// Memory is an in-process Store for tests and single-node development.
type Memory struct {
	mu      sync.RWMutex
	objects map[string]memObject
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string]memObject)}
}

func (m *Memory) Driver() Driver { return DriverMemory }

func (m *Memory) Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error) {
	if strings.TrimSpace(key) == "" {
		return Info{}, fmt.Errorf("empty key")
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Info{}, err
	}
	sum := sha256.Sum256(data)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; ok {
		return Info{}, fmt.Errorf("%w: %s", ErrExists, key)
	}
	info := Info{
		Key:          key,
		Size:         int64(len(data)),
		ContentType:  opts.ContentType,
		ETag:         hex.EncodeToString(sum[:]),
		Metadata:     cloneMetadata(opts.Metadata),
		LastModified: time.Now().UTC(),
	}
	m.objects[key] = memObject{data: data, info: info}
	return info, nil
}

func (m *Memory) Get(ctx context.Context, key string) (Info, io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Info{}, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj.info, io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (m *Memory) Head(ctx context.Context, key string) (Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj.info, nil
}

func (m *Memory) Delete(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[key]; !ok {
		return false, nil
	}
	delete(m.objects, key)
	return true, nil
}

func (m *Memory) List(ctx context.Context, prefix string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Info
	for k, obj := range m.objects {
		if strings.HasPrefix(k, prefix) {
			out = append(out, obj.info)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PresignURL is unsupported; callers fall back to serving bytes themselves.
func (m *Memory) PresignURL(ctx context.Context, key string, opts SignedURLOptions) (string, error) {
	return "", ErrUnsupported
}
