package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

var (
	// ErrClosed is returned by Dispatch after Close.
	ErrClosed = errors.New("dispatcher closed")
	// ErrQueueFull is returned by Dispatch when the key already has
	// queueSize jobs waiting.
	ErrQueueFull = errors.New("queue full")
)

const (
	DefaultWorkers   = 8
	DefaultQueueSize = 16
)

type keyQueue[J any] struct {
	jobs []J
}

// Dispatcher routes jobs to one FIFO per key. A key's FIFO and its goroutine
// exist only while the key has work.
type Dispatcher[K comparable, J any] struct {
	logger    *slog.Logger
	handle    func(context.Context, J)
	ctx       context.Context
	cancel    context.CancelFunc
	sem       chan struct{}
	queueSize int

	mu      sync.Mutex
	queues  map[K]*keyQueue[J]
	closed  bool
	pending sync.WaitGroup
}

// NewDispatcher creates a dispatcher sharing workers concurrent slots
// across all keys. Each key holds up to queueSize waiting jobs.
func NewDispatcher[K comparable, J any](log *slog.Logger, workers, queueSize int, handle func(context.Context, J)) *Dispatcher[K, J] {
	if log == nil {
		log = slog.Default()
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Dispatcher[K, J]{
		logger:    log.With(slog.String("component", "dispatcher")),
		handle:    handle,
		ctx:       ctx,
		cancel:    cancel,
		sem:       make(chan struct{}, workers),
		queueSize: queueSize,
		queues:    map[K]*keyQueue[J]{},
	}
}

// Dispatch queues job behind earlier jobs with the same key and returns
// without waiting. A key whose FIFO is full gets ErrQueueFull; other keys
// are unaffected.
func (d *Dispatcher[K, J]) Dispatch(ctx context.Context, key K, job J) error {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	q, ok := d.queues[key]
	if !ok {
		q = &keyQueue[J]{}
		d.queues[key] = q
	}
	if len(q.jobs) >= d.queueSize {
		return ErrQueueFull
	}
	q.jobs = append(q.jobs, job)
	d.pending.Add(1)
	if !ok {
		go d.drain(key, q)
	}
	return nil
}

// drain runs q's jobs in order and removes q once it is empty.
func (d *Dispatcher[K, J]) drain(key K, q *keyQueue[J]) {
	for {
		d.mu.Lock()
		if len(q.jobs) == 0 {
			delete(d.queues, key)
			d.mu.Unlock()
			return
		}
		job := q.jobs[0]
		var zero J
		q.jobs[0] = zero
		q.jobs = q.jobs[1:]
		d.mu.Unlock()

		if !acquire(d.ctx, d.sem) {
			d.drop(key, q)
			return
		}
		d.run(job)
		release(d.sem)
	}
}

// drop discards the job drain was holding plus everything still queued for
// key after the dispatcher context ends.
func (d *Dispatcher[K, J]) drop(key K, q *keyQueue[J]) {
	d.mu.Lock()
	n := len(q.jobs) + 1
	q.jobs = nil
	delete(d.queues, key)
	d.mu.Unlock()

	d.logger.Warn("jobs dropped on shutdown", slog.Int("count", n))
	for i := 0; i < n; i++ {
		d.pending.Done()
	}
}

func (d *Dispatcher[K, J]) run(job J) {
	defer d.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("job panicked", slog.Any("panic", r))
		}
	}()
	d.handle(d.ctx, job)
}

// Close stops accepting jobs and waits for queued ones to finish until ctx
// ends. Remaining jobs then see a cancelled context.
func (d *Dispatcher[K, J]) Close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.pending.Wait()
		close(done)
	}()
	defer d.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		d.logger.Warn("dispatcher closed with jobs in flight")
		return ctx.Err()
	}
}
