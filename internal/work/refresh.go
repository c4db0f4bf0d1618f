package work

import (
	"context"
	"sync"
	"time"

	"github.com/aristath/verdict/internal/metrics"
	"github.com/rs/zerolog"
)

// RefreshFunc recomputes the analysis for one symbol
type RefreshFunc func(ctx context.Context, symbol string) error

// QueueConfig sizes the refresh queue
type QueueConfig struct {
	Workers int           // Concurrent refreshes
	Buffer  int           // Queue capacity; requests beyond it are dropped
	Timeout time.Duration // Per-refresh timeout
}

// RefreshQueue runs best-effort background recomputations.
// Enqueue never blocks; a full queue drops the request.
type RefreshQueue struct {
	refresh RefreshFunc
	cfg     QueueConfig

	queue   chan string
	pending map[string]bool // Symbols queued, scheduled or running
	timers  map[string]*time.Timer
	mu      sync.Mutex

	stop    chan struct{}
	stopped chan struct{}
	closed  bool

	metrics *metrics.Recorder
	log     zerolog.Logger
}

// NewRefreshQueue creates a refresh queue. Call Run to start processing.
func NewRefreshQueue(refresh RefreshFunc, cfg QueueConfig, recorder *metrics.Recorder, log zerolog.Logger) *RefreshQueue {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}

	return &RefreshQueue{
		refresh: refresh,
		cfg:     cfg,
		queue:   make(chan string, cfg.Buffer),
		pending: make(map[string]bool),
		timers:  make(map[string]*time.Timer),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		metrics: recorder,
		log:     log.With().Str("component", "refresh_queue").Logger(),
	}
}

// Enqueue requests a refresh of symbol now. Returns false if the request was
// dropped (queue full or stopped) or the symbol is already pending.
func (q *RefreshQueue) Enqueue(symbol string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.pending[symbol] {
		return false
	}
	return q.push(symbol)
}

// Schedule requests a refresh of symbol after delay. The timer is cancelled on Stop.
func (q *RefreshQueue) Schedule(symbol string, delay time.Duration) bool {
	if delay <= 0 {
		return q.Enqueue(symbol)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || q.pending[symbol] {
		return false
	}

	q.pending[symbol] = true
	q.timers[symbol] = time.AfterFunc(delay, func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		delete(q.timers, symbol)
		delete(q.pending, symbol)
		if !q.closed {
			q.push(symbol)
		}
	})
	return true
}

// push performs the non-blocking send; caller holds mu
func (q *RefreshQueue) push(symbol string) bool {
	select {
	case q.queue <- symbol:
		q.pending[symbol] = true
		return true
	default:
		q.metrics.RecordRefreshDropped()
		q.log.Debug().Str("symbol", symbol).Msg("Refresh queue full, dropping request")
		return false
	}
}

// IsPending reports whether symbol is already queued, scheduled or running
func (q *RefreshQueue) IsPending(symbol string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending[symbol]
}

// Pending returns the number of symbols queued, scheduled or running
func (q *RefreshQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run starts the workers. This blocks until Stop() is called.
func (q *RefreshQueue) Run() {
	defer close(q.stopped)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}

	<-q.stop
	cancel()
	wg.Wait()
}

// Stop stops the workers and cancels scheduled refreshes. Queued requests are discarded.
func (q *RefreshQueue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for symbol, t := range q.timers {
		t.Stop()
		delete(q.timers, symbol)
	}
	q.mu.Unlock()

	close(q.stop)
	<-q.stopped
}

func (q *RefreshQueue) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case symbol := <-q.queue:
			q.runOne(ctx, symbol)
		}
	}
}

func (q *RefreshQueue) runOne(parent context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Interface("panic", r).Str("symbol", symbol).Msg("Refresh panicked")
		}
		q.mu.Lock()
		delete(q.pending, symbol)
		q.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(parent, q.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if err := q.refresh(ctx, symbol); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			q.log.Error().Str("symbol", symbol).Msg("Refresh timed out")
		} else {
			q.log.Warn().Err(err).Str("symbol", symbol).Msg("Refresh failed")
		}
		return
	}

	q.log.Debug().
		Str("symbol", symbol).
		Dur("duration", time.Since(start)).
		Msg("Refresh completed")
}
