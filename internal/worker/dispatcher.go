package worker

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"laneassist/internal/config"
	"laneassist/internal/models"
)

var (
	ErrDispatcherBusy   = errors.New("worker: job queue is full")
	ErrDispatcherClosed = errors.New("worker: dispatcher stopped")
)

// Handler processes one inbound message. The assistant pipeline satisfies it.
type Handler interface {
	Process(ctx context.Context, msg models.InboundMessage) (string, error)
}

type Job struct {
	Message    models.InboundMessage
	EnqueuedAt time.Time

	stop bool // tells a worker to exit
}

type DispatcherConfig struct {
	MinWorkers  int
	MaxWorkers  int
	QueueSize   int
	IdleTimeout time.Duration
	JobTimeout  time.Duration
}

func DispatcherConfigFrom(cfg *config.Config) DispatcherConfig {
	return DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: time.Duration(cfg.BasicConfig.WorkerIdleTimeout) * time.Minute,
		JobTimeout:  cfg.JobTimeout(),
	}
}

type userQueue struct {
	jobs     []Job
	enqueued bool // user is in the ready list
	running  bool // a job for this user is on a worker
}

// Dispatcher runs jobs on a bounded pool. Jobs of one user run one at a time in
// submission order; different users run in parallel and take turns in LRU order.
type Dispatcher struct {
	pool     *jobChannelPool
	jobQueue chan Job
	wake     chan struct{}
	quit     chan struct{}
	handler  Handler
	timeout  time.Duration

	mu        sync.Mutex
	closed    bool
	queues    map[string]*userQueue // pending jobs per user
	ready     *list.List            // LRU queue of user IDs with runnable jobs
	positions map[string]*list.Element
	inflight  sync.WaitGroup
}

func NewDispatcher(handler Handler, cfg DispatcherConfig) *Dispatcher {
	d := newDispatcher(handler, cfg)
	for i := 0; i < d.pool.min; i++ {
		d.pool.spawnWorker()
	}
	go d.pool.purgeStaleWorkers(d.quit)
	go d.run()
	return d
}

func newDispatcher(handler Handler, cfg DispatcherConfig) *Dispatcher {
	if cfg.MinWorkers <= 0 {
		cfg.MinWorkers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = config.DefaultJobTimeout
	}
	d := &Dispatcher{
		jobQueue:  make(chan Job, cfg.QueueSize),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		handler:   handler,
		timeout:   cfg.JobTimeout,
		queues:    make(map[string]*userQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(cfg.MinWorkers, cfg.MaxWorkers, cfg.IdleTimeout, d.execute)
	return d
}

// Submit queues a job without blocking.
func (d *Dispatcher) Submit(job Job) error {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return ErrDispatcherClosed
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	select {
	case d.jobQueue <- job:
		return nil
	default:
		return ErrDispatcherBusy
	}
}

// Stop refuses new jobs and waits for running ones until ctx is done.
// Jobs still queued are dropped.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	dropped := 0
	for _, q := range d.queues {
		dropped += len(q.jobs)
	}
	d.mu.Unlock()
	close(d.quit)
	if dropped > 0 {
		slog.Warn("dropping queued jobs on shutdown", "count", dropped)
	}

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.pool.stopAll()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run() {
	for {
		// dispatch one job of the user at the front of the LRU queue
		if d.dispatchOne() {
			select {
			case job := <-d.jobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			default:
			}
			continue
		}
		select {
		case job := <-d.jobQueue:
			d.enqueueJob(job)
		case <-d.wake:
		case <-d.quit:
			return
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	userID := job.Message.UserID

	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[userID]
	if q == nil {
		q = &userQueue{}
		d.queues[userID] = q
	}
	q.jobs = append(q.jobs, job)
	d.markReadyLocked(userID, q)
}

func (d *Dispatcher) markReadyLocked(userID string, q *userQueue) {
	if q.enqueued || q.running || len(q.jobs) == 0 {
		return
	}
	q.enqueued = true
	d.positions[userID] = d.ready.PushBack(userID)
}

// dispatchOne hands the next job of the least recently served user to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil || d.closed {
		d.mu.Unlock()
		return false
	}
	userID := elem.Value.(string)
	q := d.queues[userID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	// the user leaves the ready list until this job finishes
	q.enqueued = false
	q.running = true
	d.ready.Remove(elem)
	delete(d.positions, userID)
	d.inflight.Add(1)
	d.mu.Unlock()

	workerChan := d.pool.acquire()
	slog.Debug("job assigned", "user_id", userID, "worker", d.pool.workerID(workerChan), "queued_for", time.Since(job.EnqueuedAt))
	workerChan <- job
	return true
}

// finish puts the user back in line if more jobs arrived while one was running.
func (d *Dispatcher) finish(userID string) {
	d.mu.Lock()
	if q, ok := d.queues[userID]; ok {
		q.running = false
		if len(q.jobs) == 0 {
			delete(d.queues, userID)
		} else if !d.closed {
			d.markReadyLocked(userID, q)
		}
	}
	d.mu.Unlock()
	d.inflight.Done()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) execute(job Job) {
	userID := job.Message.UserID
	defer d.finish(userID)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job panicked", "user_id", userID, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if _, err := d.handler.Process(ctx, job.Message); err != nil {
		slog.Warn("job finished with error", "user_id", userID, "message_id", job.Message.PlatformMessageID, "error", err)
		return
	}
	slog.Debug("job finished", "user_id", userID, "message_id", job.Message.PlatformMessageID, "took", time.Since(job.EnqueuedAt))
}
