// Package auditlog records one row per executed scrape for offline analysis.
package auditlog

import (
	"context"
	"time"
)

// Entry is one recorded scrape execution.
type Entry struct {
	JobID      string
	JobType    string
	Target     string
	Source     string
	Status     string
	DurationMS int64
	CreatedAt  time.Time
}

// Logger records scrape audit entries.
type Logger interface {
	Record(ctx context.Context, entry Entry) error
	Close()
}

// Noop discards every entry.
type Noop struct{}

// NewNoop returns a Logger that discards entries.
func NewNoop() Noop { return Noop{} }

// Record implements Logger.
func (Noop) Record(context.Context, Entry) error { return nil }

// Close implements Logger.
func (Noop) Close() {}
