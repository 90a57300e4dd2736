// Package sink delivers scheduler records to their destinations.
package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fanyang89/sql-insight/internal/output"
)

// Sink receives one record per cycle.
type Sink interface {
	Emit(ctx context.Context, rec any) error
	Close() error
}

// Writer writes each record as a JSON document.
type Writer struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	pretty bool
}

// NewWriter wraps w. The caller owns w.
func NewWriter(w io.Writer, pretty bool) *Writer {
	return &Writer{w: w, pretty: pretty}
}

// OpenWriter opens path for writing, truncating it. "-" or "" is stdout.
func OpenWriter(path string, pretty bool) (*Writer, error) {
	if path == "" || path == "-" {
		return NewWriter(os.Stdout, pretty), nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output file: %w", err)
	}
	return &Writer{w: f, closer: f, pretty: pretty}, nil
}

func (s *Writer) Emit(_ context.Context, rec any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return output.Encode(s.w, rec, s.pretty)
}

func (s *Writer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Multi fans a record out to every sink. All sinks see every record even
// when an earlier one fails.
type Multi []Sink

func (m Multi) Emit(ctx context.Context, rec any) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
