package transcribe

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/echoline-labs/streamrecog/internal/apperr"
	"github.com/echoline-labs/streamrecog/internal/resilience"
	"github.com/echoline-labs/streamrecog/internal/utterance"
)

// job is one unit of submitted work, carrying the channel its result is
// delivered on.
type job struct {
	sessionID int64
	utt       utterance.Utterance
	lang      string
	prompt    string
	deadline  time.Duration
	resultCh  chan Result
}

// Future lets a caller wait for one submitted utterance's result
// without blocking the submitter. Sessions keep Futures in submission
// order and drain them front-to-back, which is what gives per-session
// delivery its ordering guarantee (spec §4.4, §5) even though workers
// may finish out of order.
type Future struct {
	ch chan Result
}

// Wait blocks for the result or ctx cancellation, whichever comes first.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case r := <-f.ch:
		return r, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// PoolConfig tunes the worker pool (spec §4.4, §5).
type PoolConfig struct {
	Size          int
	MaxQueueDepth int
	JobDeadline   time.Duration
}

// Pool is the process-wide speech-to-text worker pool shared by all
// sessions. Submission is non-blocking: once the queue is at
// MaxQueueDepth, Submit fails with apperr.Overloaded instead of
// growing the queue unboundedly (spec §5).
type Pool struct {
	cfg     PoolConfig
	factory func() Transcriber
	queue   chan job

	mu      sync.Mutex
	workers int // currently-serving workers; shrinks as workers retire
	retired int

	wg sync.WaitGroup
}

// NewPool constructs a pool with cfg.Size workers, each built by calling
// factory once. factory lets each worker own an independent Transcriber
// instance (spec §4.4: "each worker wraps one instance of the model").
func NewPool(cfg PoolConfig, factory func() Transcriber) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.MaxQueueDepth < 1 {
		cfg.MaxQueueDepth = 1
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = 30 * time.Second
	}
	return &Pool{
		cfg:     cfg,
		factory: factory,
		queue:   make(chan job, cfg.MaxQueueDepth),
		workers: cfg.Size,
	}
}

// Start launches the worker goroutines. ctx cancellation stops all
// workers once their in-flight job (if any) completes.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Size; i++ {
		p.wg.Add(1)
		go p.runWorker(ctx, i)
	}
}

// Wait blocks until every worker goroutine has exited.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// ActiveWorkers reports how many workers are still serving (spec §6.2
// health telemetry: degraded capacity reporting).
func (p *Pool) ActiveWorkers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

func (p *Pool) runWorker(ctx context.Context, id int) {
	defer p.wg.Done()

	t := p.factory()
	breaker := resilience.New(resilience.Config{
		Threshold:         3,
		FailureWindow:     5 * time.Minute,
		ResetTimeout:      time.Hour, // workers never recover automatically; see retirement below
		HalfOpenSuccesses: 1,
	})

	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-p.queue:
			if !ok {
				return
			}
			p.serve(ctx, t, breaker, j)

			if breaker.State() == resilience.Open {
				p.retire(id)
				return
			}
		}
	}
}

// serve runs one job against t, tripping breaker only on a genuine
// model failure. A deadline-exceeded job is classified as apperr.Timeout
// (spec §7: a per-job recoverable condition, not evidence the worker
// itself is unhealthy) and reported to the breaker as a success, so
// three slow-but-eventually-working jobs never retire a worker the way
// three actual model failures do.
func (p *Pool) serve(ctx context.Context, t Transcriber, breaker *resilience.Breaker, j job) {
	jobCtx, cancel := context.WithTimeout(ctx, j.deadline)
	defer cancel()

	if err := breaker.Allow(); err != nil {
		j.resultCh <- errorResult(apperr.Overloaded, "worker circuit open")
		return
	}

	out, err := t.Transcribe(jobCtx, j.utt.Samples, j.lang, j.prompt)

	var result Result
	switch {
	case err == context.DeadlineExceeded || jobCtx.Err() == context.DeadlineExceeded:
		breaker.Success()
		result = errorResult(apperr.Timeout, "transcription deadline exceeded")
	case err != nil:
		breaker.Failure()
		result = errorResult(apperr.ModelFailure, err.Error())
	default:
		breaker.Success()
		result = out
	}

	j.resultCh <- result
}

func errorResult(kind apperr.Kind, msg string) Result {
	return Result{Err: &ResultError{Kind: string(kind), Message: msg}}
}

func (p *Pool) retire(id int) {
	p.mu.Lock()
	p.workers--
	p.retired++
	remaining := p.workers
	p.mu.Unlock()
	slog.Warn("transcription worker retired after repeated failures", "worker", id, "remaining_workers", remaining)
}

// Submit enqueues an utterance for transcription, returning a Future the
// caller can Wait on. It never blocks: if the queue is already at
// MaxQueueDepth, it returns an Overloaded result synchronously.
func (p *Pool) Submit(sessionID int64, utt utterance.Utterance, lang, prompt string) *Future {
	f := &Future{ch: make(chan Result, 1)}

	select {
	case p.queue <- job{
		sessionID: sessionID,
		utt:       utt,
		lang:      lang,
		prompt:    prompt,
		deadline:  p.cfg.JobDeadline,
		resultCh:  f.ch,
	}:
	default:
		f.ch <- errorResult(apperr.Overloaded, "worker queue saturated")
	}
	return f
}
