package store

import (
	"context"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/internal/tracing"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// Observed wraps a Store with logging, metrics and tracing
type Observed struct {
	inner   Store
	backend string
	logger  *logging.Logger
}

// NewObserved instruments inner. backend names it in logs.
func NewObserved(inner Store, backend string, logger *logging.Logger) *Observed {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Observed{inner: inner, backend: backend, logger: logger.WithComponent("store")}
}

// Load delegates to the wrapped store
func (o *Observed) Load(ctx context.Context) (map[string][]models.Job, error) {
	span, ctx := tracing.StartSpan(ctx, "store.load")
	start := time.Now()

	queues, err := o.inner.Load(ctx)

	jobs := 0
	for _, q := range queues {
		jobs += len(q)
	}
	o.record("load", "", jobs, time.Since(start), err)
	tracing.SetTag(span, "store.backend", o.backend)
	tracing.FinishSpan(span, err)
	return queues, err
}

// Save delegates to the wrapped store
func (o *Observed) Save(ctx context.Context, userID string, jobs []models.Job) error {
	span, ctx := tracing.StartSpan(ctx, "store.save")
	start := time.Now()

	err := o.inner.Save(ctx, userID, jobs)

	o.record("save", userID, len(jobs), time.Since(start), err)
	tracing.SetTag(span, "store.backend", o.backend)
	tracing.SetTag(span, "user.id", userID)
	tracing.FinishSpan(span, err)
	return err
}

// Archive delegates when the wrapped store keeps history
func (o *Observed) Archive(ctx context.Context, userID string, jobs []models.Job) error {
	archiver, ok := o.inner.(Archiver)
	if !ok || len(jobs) == 0 {
		return nil
	}
	start := time.Now()
	err := archiver.Archive(ctx, userID, jobs)
	o.record("archive", userID, len(jobs), time.Since(start), err)
	return err
}

func (o *Observed) record(op, userID string, jobs int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
		metrics.RecordError("store", op)
	}
	metrics.RecordStoreOperation(op, status, d.Seconds())
	o.logger.LogStoreOperation(op, o.backend, userID, jobs, d, err)
}
