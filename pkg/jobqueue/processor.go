package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentbackend/pkg/metrics"
)

// ProcessorConfig tunes the worker pool. LockDuration and HandlerTimeout
// are independent: LockDuration is how long a claimed row stays invisible
// to other workers, HandlerTimeout is how long a single handler invocation
// is allowed to run before its context is canceled. A handler that ignores
// its deadline can run past HandlerTimeout; the row's lock still expires
// on schedule and the job becomes reclaimable.
type ProcessorConfig struct {
	WorkerCount        int
	BatchSize          int
	LockDuration       time.Duration
	HandlerTimeout     time.Duration
	PollInterval       time.Duration
	PollIntervalJitter time.Duration
	MaxAttempts        int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
}

// DeadLetterFunc emits a dead-letter outbox row describing a terminally
// failed job. Injected rather than imported directly so jobqueue has no
// compile-time dependency on the outbox package.
type DeadLetterFunc func(ctx context.Context, job *Job, lastErr error) error

// Processor is a pool of workers polling Store and dispatching to
// kind-registered Handlers. The Processor owns worker lifecycle; each
// worker owns its own poll loop.
type Processor struct {
	store       *Store
	config      ProcessorConfig
	handlers    map[string]Handler
	handlersMu  sync.RWMutex
	deadLetter  DeadLetterFunc
	wakeCh      chan struct{}
	podID       string
	workers     []*worker
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	started     bool
}

// NewProcessor builds a Processor. wakeCh, if non-nil, is read by every
// worker to shortcut the poll sleep when pkg/pubsub delivers a jobs_ready
// notification; it is purely a latency optimization over the bounded poll.
func NewProcessor(store *Store, podID string, cfg ProcessorConfig, deadLetter DeadLetterFunc, wakeCh chan struct{}) *Processor {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 60 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 60 * time.Second
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = time.Hour
	}

	return &Processor{
		store:      store,
		config:     cfg,
		handlers:   make(map[string]Handler),
		deadLetter: deadLetter,
		wakeCh:     wakeCh,
		podID:      podID,
		stopCh:     make(chan struct{}),
	}
}

// RegisterHandler binds kind to fn. Must be called before Start.
func (p *Processor) RegisterHandler(kind string, fn Handler) {
	p.handlersMu.Lock()
	defer p.handlersMu.Unlock()
	p.handlers[kind] = fn
}

func (p *Processor) handlerFor(kind string) (Handler, bool) {
	p.handlersMu.RLock()
	defer p.handlersMu.RUnlock()
	h, ok := p.handlers[kind]
	return h, ok
}

// Start spawns WorkerCount worker goroutines. Safe to call once; subsequent
// calls are no-ops.
func (p *Processor) Start(ctx context.Context) {
	if p.started {
		slog.Warn("job processor already started, ignoring duplicate Start", "pod_id", p.podID)
		return
	}
	p.started = true

	slog.Info("starting job processor", "pod_id", p.podID, "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		w := &worker{
			id:        fmt.Sprintf("%s-worker-%d", p.podID, i),
			processor: p,
			stopCh:    p.stopCh,
		}
		p.workers = append(p.workers, w)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			w.run(ctx)
		}()
	}
}

// Stop signals all workers to stop claiming and waits for in-flight jobs to
// finish. Jobs still locked when the process exits are re-claimable once
// their lock expires.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()
}

// worker is one polling goroutine.
type worker struct {
	id        string
	processor *Processor
	stopCh    chan struct{}
}

func (w *worker) run(ctx context.Context) {
	log := slog.With("worker_id", w.id)
	log.Info("job worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("job worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
		}

		n, err := w.pollAndProcess(ctx)
		if err != nil {
			log.Error("poll and process error", "error", err)
			w.sleep(time.Second)
			continue
		}
		if n == 0 {
			w.sleep(w.pollInterval())
		}
	}
}

func (w *worker) sleep(d time.Duration) {
	wake := w.processor.wakeCh
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-w.stopCh:
	case <-timer.C:
	case <-wake:
	}
}

func (w *worker) pollInterval() time.Duration {
	base := w.processor.config.PollInterval
	jitter := w.processor.config.PollIntervalJitter
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// pollAndProcess claims a batch and runs each job synchronously within this
// worker, returning the number of jobs processed.
func (w *worker) pollAndProcess(ctx context.Context) (int, error) {
	cfg := w.processor.config
	jobs, err := w.processor.store.Claim(ctx, w.id, cfg.BatchSize, cfg.LockDuration)
	if errors.Is(err, ErrNoJobsAvailable) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		metrics.JobsClaimedTotal.WithLabelValues(job.Kind).Inc()
		w.processJob(ctx, job)
	}
	return len(jobs), nil
}

func (w *worker) processJob(ctx context.Context, job *Job) {
	log := slog.With("worker_id", w.id, "job_id", job.ID, "kind", job.Kind)
	cfg := w.processor.config

	handler, ok := w.processor.handlerFor(job.Kind)
	if !ok {
		log.Error("unknown job kind, dead-lettering")
		w.terminalFail(ctx, job, ErrUnknownKind)
		return
	}

	handlerCtx, cancel := context.WithTimeout(ctx, cfg.HandlerTimeout)
	defer cancel()

	start := time.Now()
	outcome, err := handler(handlerCtx, job)
	metrics.JobDurationSeconds.WithLabelValues(job.Kind).Observe(time.Since(start).Seconds())

	if err != nil && (outcome == OutcomeOK || outcome == OutcomeSkip) {
		outcome = OutcomeRetry
	}

	switch outcome {
	case OutcomeOK, OutcomeSkip:
		if completeErr := w.processor.store.Complete(ctx, job.ID, w.id); completeErr != nil {
			log.Error("failed to mark job complete", "error", completeErr)
		}
		metrics.JobsCompletedTotal.WithLabelValues(job.Kind).Inc()
	case OutcomeRetry:
		if job.Attempts+1 >= cfg.MaxAttempts {
			w.terminalFail(ctx, job, err)
			return
		}
		delay := backoff(job.Attempts+1, cfg.BackoffBase, cfg.BackoffCap)
		if failErr := w.processor.store.Fail(ctx, job.ID, w.id, err, delay); failErr != nil {
			log.Error("failed to record job retry", "error", failErr)
		}
		metrics.JobsFailedTotal.WithLabelValues(job.Kind).Inc()
	default:
		// A handler returning an undeclared outcome is treated as retryable
		// rather than silently dropped.
		delay := backoff(job.Attempts+1, cfg.BackoffBase, cfg.BackoffCap)
		if failErr := w.processor.store.Fail(ctx, job.ID, w.id, err, delay); failErr != nil {
			log.Error("failed to record job retry", "error", failErr)
		}
		metrics.JobsFailedTotal.WithLabelValues(job.Kind).Inc()
	}
}

// terminalFail marks job complete (terminal failures never retry further)
// and, when the Processor has a DeadLetterFunc, emits a dead-letter outbox
// row describing the failure through it. With a nil DeadLetterFunc, as
// cmd/server builds the Processor, no dead-letter row is written.
func (w *worker) terminalFail(ctx context.Context, job *Job, cause error) {
	metrics.JobsDeadLetteredTotal.WithLabelValues(job.Kind).Inc()
	if w.processor.deadLetter != nil {
		if err := w.processor.deadLetter(context.Background(), job, cause); err != nil {
			slog.Error("failed to emit dead-letter record", "job_id", job.ID, "error", err)
		}
	}
	if err := w.processor.store.Complete(ctx, job.ID, w.id); err != nil {
		slog.Error("failed to complete terminally-failed job", "job_id", job.ID, "error", err)
	}
}

// backoff computes base*2^(n-1) plus uniform jitter in [0, base), with the
// result capped at cap.
// The outbox's delivery retry uses the same shape.
func backoff(attempts int, base, cap time.Duration) time.Duration {
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	jitter := time.Duration(rand.Int64N(int64(base)))
	total := d + jitter
	if total > cap {
		total = cap
	}
	return total
}
