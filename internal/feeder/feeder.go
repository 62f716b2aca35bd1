// Package feeder supplies per-iteration message data from CSV or JSON files.
package feeder

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
)

// Record is one row of data keyed by field name.
type Record map[string]string

// Feeder hands out records in deterministic round-robin order. Implementations
// must be safe for concurrent use by every VU.
type Feeder interface {
	Next(ctx context.Context) (Record, error)
	Len() int
}

// ErrEmpty is returned when a data file holds no records.
var ErrEmpty = errors.New("feeder: no records")

// Open picks a feeder by file extension: .csv or .json.
func Open(path string) (Feeder, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return NewCSVFeeder(path)
	case ".json":
		return NewJSONFeeder(path)
	default:
		return nil, fmt.Errorf("feeder: unsupported data file %q (use .csv or .json)", path)
	}
}

// roundRobin cycles through a fixed record set, wrapping at the end.
type roundRobin struct {
	mu      sync.Mutex
	records []Record
	next    int
}

func (r *roundRobin) Next(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.records) == 0 {
		return nil, ErrEmpty
	}
	rec := r.records[r.next]
	r.next = (r.next + 1) % len(r.records)
	return rec, nil
}

func (r *roundRobin) Len() int {
	return len(r.records)
}
