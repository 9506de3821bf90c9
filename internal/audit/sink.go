// Package audit records "an action happened" events. Sinks are append-only;
// callers treat Publish as fire-and-forget and isolate its failures.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/makt28/vigil/internal/model"
)

// Sink accepts audit records.
type Sink interface {
	Publish(ctx context.Context, rec model.AuditRecord) error
}

// Appender is the storage capability StoreSink needs.
type Appender interface {
	AppendAudit(ctx context.Context, rec model.AuditRecord) error
}

// StoreSink writes records synchronously to durable storage.
type StoreSink struct {
	store Appender
}

// NewStoreSink wraps store.
func NewStoreSink(store Appender) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Publish(ctx context.Context, rec model.AuditRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	return s.store.AppendAudit(ctx, rec)
}

// LogSink only emits a structured log line per record.
type LogSink struct{}

func (LogSink) Publish(_ context.Context, rec model.AuditRecord) error {
	slog.Info("audit",
		"id", rec.ID,
		"action", rec.Action,
		"targets", rec.Targets,
		"metadata", rec.Metadata,
	)
	return nil
}

// Nop discards every record.
type Nop struct{}

func (Nop) Publish(context.Context, model.AuditRecord) error { return nil }

// Recorder keeps records in memory. Safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	records []model.AuditRecord
	// Err, when set, is returned by Publish and the record is dropped.
	Err error
}

func (r *Recorder) Publish(_ context.Context, rec model.AuditRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.records = append(r.records, rec)
	return nil
}

// Records returns a copy of everything published so far.
func (r *Recorder) Records() []model.AuditRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditRecord, len(r.records))
	copy(out, r.records)
	return out
}
