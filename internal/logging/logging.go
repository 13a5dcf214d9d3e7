// Package logging builds the process logger: a slog text handler writing to
// stdout, stderr in stdio mode, or a size-capped file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	maxLogSizeBytes  = 6 * 1024 * 1024
	keepLogSizeBytes = 5 * 1024 * 1024
)

// Options configures New.
type Options struct {
	Level string
	// File, when set, replaces the console writer.
	File string
	// Stdio sends console output to stderr so stdout stays free for the
	// MCP stdio transport.
	Stdio bool
}

// New returns a logger and a close func for any opened file. A file that
// cannot be opened is reported and logging falls back to the console.
func New(opts Options) (*slog.Logger, func() error) {
	var w io.Writer = os.Stdout
	if opts.Stdio {
		w = os.Stderr
	}
	closer := func() error { return nil }

	if opts.File != "" {
		fw, err := NewFileWriter(opts.File)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file error: %v\n", err)
		} else {
			w = fw
			closer = fw.Close
		}
	}

	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(opts.Level),
	}))
	return logger, closer
}

// ParseLevel maps a level name to a slog level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// FileWriter appends to a log file and trims it back to its newest
// keepLogSizeBytes once it passes maxLogSizeBytes.
type FileWriter struct {
	mu      sync.Mutex
	file    *os.File
	maxSize int64
	keep    int64
}

// NewFileWriter opens path for appending, creating parent directories.
func NewFileWriter(path string) (*FileWriter, error) {
	return newFileWriter(path, maxLogSizeBytes, keepLogSizeBytes)
}

func newFileWriter(path string, maxSize, keep int64) (*FileWriter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	w := &FileWriter{file: file, maxSize: maxSize, keep: keep}
	if err := w.truncateIfNeeded(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.file.Write(p)
	if err != nil {
		return n, err
	}
	return n, w.truncateIfNeeded()
}

// Close closes the underlying file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

func (w *FileWriter) truncateIfNeeded() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	size := info.Size()
	if size <= w.maxSize {
		return nil
	}

	buf := make([]byte, w.keep)
	n, err := w.file.ReadAt(buf, size-w.keep)
	if err != nil && err != io.EOF {
		return err
	}
	buf = buf[:n]

	if err := w.file.Truncate(0); err != nil {
		return err
	}
	// O_APPEND writes go to the new end after the truncate.
	_, err = w.file.Write(buf)
	return err
}
