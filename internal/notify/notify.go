// Package notify fans batch completion events out to external channels.
package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/pkg/models"
)

// EventBatchCompleted is the event name of a finished batch
const EventBatchCompleted = "batch.completed"

// Notifier delivers one batch event over one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event Event) error
}

// Event is the payload sent to every channel
type Event struct {
	Event     string       `json:"event"`
	Timestamp time.Time    `json:"timestamp"`
	Data      BatchSummary `json:"data"`
}

// BatchSummary is a finished batch without any credential material
type BatchSummary struct {
	UserID    string       `json:"user_id"`
	BatchID   string       `json:"batch_id"`
	Total     int          `json:"total"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	ElapsedMs int64        `json:"elapsed_ms"`
	Jobs      []JobSummary `json:"jobs"`
}

// JobSummary is the outcome of one job in a batch
type JobSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title,omitempty"`
	Status        string    `json:"status"`
	ScheduledTime time.Time `json:"scheduled_time"`
	PublishedURL  string    `json:"published_url,omitempty"`
	ErrorMessage  string    `json:"error_message,omitempty"`
}

// NewEvent builds the batch completed event for result
func NewEvent(result models.BatchResult) Event {
	summary := BatchSummary{
		UserID:    result.UserID,
		BatchID:   result.BatchID,
		Total:     result.Total,
		Succeeded: result.Succeeded,
		Failed:    result.Failed,
		ElapsedMs: result.Elapsed.Milliseconds(),
		Jobs:      make([]JobSummary, 0, len(result.Jobs)),
	}
	for _, job := range result.Jobs {
		summary.Jobs = append(summary.Jobs, JobSummary{
			ID:            job.ID,
			Title:         job.Metadata.Title,
			Status:        string(job.Status),
			ScheduledTime: job.ScheduledTime,
			PublishedURL:  job.PublishedURL,
			ErrorMessage:  job.ErrorMessage,
		})
	}
	return Event{
		Event:     EventBatchCompleted,
		Timestamp: result.CompletedAt,
		Data:      summary,
	}
}

// Text renders a short human readable summary
func (e Event) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Batch finished: %d/%d videos published", e.Data.Succeeded, e.Data.Total)
	for _, job := range e.Data.Jobs {
		if job.PublishedURL != "" {
			fmt.Fprintf(&b, "\n%s", job.PublishedURL)
		}
	}
	return b.String()
}

// Dispatcher sends every finished batch to all notifiers without blocking
// the caller
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	logger    *logging.Logger
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. timeout bounds each delivery.
func NewDispatcher(timeout time.Duration, logger *logging.Logger, notifiers ...Notifier) *Dispatcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		logger:    logger.WithComponent("notify"),
	}
}

// Len returns the number of configured notifiers
func (d *Dispatcher) Len() int {
	return len(d.notifiers)
}

// BatchCompleted fans the result out in the background
func (d *Dispatcher) BatchCompleted(ctx context.Context, result models.BatchResult) {
	event := NewEvent(result)
	base := context.WithoutCancel(ctx)

	for _, n := range d.notifiers {
		d.wg.Add(1)
		go func(n Notifier) {
			defer d.wg.Done()

			ctx, cancel := context.WithTimeout(base, d.timeout)
			defer cancel()

			err := n.Notify(ctx, event)
			metrics.RecordNotification(n.Name(), err)

			logger := d.logger.WithUserID(result.UserID).WithBatchID(result.BatchID).WithField("channel", n.Name())
			if err != nil {
				logger.ErrorWithErr("Batch notification failed", err)
				return
			}
			logger.Debug("Batch notification sent")
		}(n)
	}
}

// Wait blocks until in-flight deliveries are done
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
