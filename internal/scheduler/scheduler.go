// Package scheduler drives every user's queue through generation and upload
// on a fixed tick.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aiprojectops/youtube-shorts-generator/internal/logging"
	"github.com/aiprojectops/youtube-shorts-generator/internal/metrics"
	"github.com/aiprojectops/youtube-shorts-generator/internal/queue"
)

// ErrAlreadyRunning is returned by Start on a running scheduler
var ErrAlreadyRunning = errors.New("scheduler already running")

// Config holds the scheduler settings
type Config struct {
	Interval           time.Duration
	GenerationLeadTime time.Duration
	MaxConcurrentUsers int
	RemoveAfterUpload  bool
}

// DefaultConfig returns the default scheduler settings
func DefaultConfig() Config {
	return Config{
		Interval:           60 * time.Second,
		GenerationLeadTime: 5 * time.Minute,
		MaxConcurrentUsers: 4,
		RemoveAfterUpload:  true,
	}
}

// Scheduler wakes on every tick and advances eligible jobs of each user.
// Users are processed concurrently; the jobs of one user run in order.
type Scheduler struct {
	cfg       Config
	queue     *queue.Manager
	generator Generator
	uploader  Uploader
	post      PostProcessor
	metadata  MetadataWriter
	clock     Clock
	newTicker TickerFactory
	logger    *logging.Logger

	// mediaPermit allows one post-processing run process-wide
	mediaPermit chan struct{}
	userSlots   chan struct{}

	mu       sync.Mutex
	inFlight map[string]bool
	cancel   context.CancelFunc
	done     chan struct{}
	passes   sync.WaitGroup
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithClock overrides the time source
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithTicker overrides how the loop is woken
func WithTicker(f TickerFactory) Option {
	return func(s *Scheduler) {
		s.newTicker = f
	}
}

// WithPostProcessor enables caption and music post-processing
func WithPostProcessor(p PostProcessor) Option {
	return func(s *Scheduler) {
		s.post = p
	}
}

// WithMetadataWriter fills missing publish metadata before upload
func WithMetadataWriter(w MetadataWriter) Option {
	return func(s *Scheduler) {
		s.metadata = w
	}
}

// New creates a scheduler over q
func New(cfg Config, q *queue.Manager, gen Generator, up Uploader, logger *logging.Logger, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.GenerationLeadTime < 0 {
		cfg.GenerationLeadTime = defaults.GenerationLeadTime
	}
	if cfg.MaxConcurrentUsers <= 0 {
		cfg.MaxConcurrentUsers = defaults.MaxConcurrentUsers
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	s := &Scheduler{
		cfg:         cfg,
		queue:       q,
		generator:   gen,
		uploader:    up,
		clock:       ClockFunc(time.Now),
		newTicker:   newRealTicker,
		logger:      logger.WithComponent("scheduler"),
		mediaPermit: make(chan struct{}, 1),
		userSlots:   make(chan struct{}, cfg.MaxConcurrentUsers),
		inFlight:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start runs the loop in the background until ctx is done or Stop is called.
// The first pass runs immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return ErrAlreadyRunning
	}

	// A previous run may still be draining; its stages must be gone before
	// their jobs are handed back to the queue.
	if s.done != nil {
		<-s.done
	}
	if n := s.queue.Rearm(ctx); n > 0 {
		s.logger.WithField("jobs", n).Info("Rearmed jobs interrupted by a previous stop")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.WithFields(map[string]interface{}{
		"interval":   s.cfg.Interval.String(),
		"lead_time":  s.cfg.GenerationLeadTime.String(),
		"user_slots": s.cfg.MaxConcurrentUsers,
	}).Info("Scheduler started")
	return nil
}

// Stop cancels in-flight stages and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

// RunOnce runs a single tick and waits for every user pass it started
func (s *Scheduler) RunOnce(ctx context.Context) {
	s.tick(ctx)
	s.passes.Wait()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := s.newTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.passes.Wait()
			return
		case <-ticker.C():
			s.tick(ctx)
		}
	}
}

// tick starts a pass for every user with a non-empty queue. A user whose
// previous pass is still running is skipped.
func (s *Scheduler) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	metrics.RecordTick()

	for _, userID := range s.queue.Users() {
		if !s.claimUser(userID) {
			metrics.RecordUserSkipped()
			s.logger.WithUserID(userID).Debug("Previous pass still running, skipping user")
			continue
		}

		s.passes.Add(1)
		go func(userID string) {
			defer s.passes.Done()
			defer s.releaseUser(userID)

			select {
			case s.userSlots <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-s.userSlots }()

			s.processUser(ctx, userID)
		}(userID)
	}
}

func (s *Scheduler) claimUser(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inFlight[userID] {
		return false
	}
	s.inFlight[userID] = true
	return true
}

func (s *Scheduler) releaseUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, userID)
}

// processUser evaluates the user's eligible jobs in scheduled order, then
// drops the ones that finished.
func (s *Scheduler) processUser(ctx context.Context, userID string) {
	start := time.Now()
	defer func() {
		metrics.RecordUserPass(time.Since(start).Seconds())
	}()

	jobs := s.queue.Eligible(userID, s.clock.Now(), s.cfg.GenerationLeadTime)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		s.processJob(ctx, userID, job)
	}

	if removed := s.queue.RemoveTerminal(ctx, userID); removed > 0 {
		s.logger.WithUserID(userID).WithField("jobs", removed).Debug("Finished jobs removed from queue")
	}
}
