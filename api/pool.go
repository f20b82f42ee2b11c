package api

import (
	"context"
	"math"
	"math/rand"
	"os"
	"runtime"
	"strconv"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"slotboard/domain"
)

const (
	minWorkers       = 32
	maxWorkers       = 192
	workersPerSink   = 4
	workersPerCPU    = 24
	bufferPerWorker  = 128
	defaultAttempts  = 3
	defaultRetryBase = 100 * time.Millisecond
	defaultRetryMax  = 2 * time.Second
)

// DispatcherConfig sizes the event delivery pool.
type DispatcherConfig struct {
	Workers  int
	Buffer   int
	Timeout  time.Duration
	Handoff  time.Duration
	Attempts int
}

func computeWorkerDefaults(sinkConcurrency, cpu int) (workers, buffer int) {
	workers = minWorkers
	if n := sinkConcurrency * workersPerSink; n > workers {
		workers = n
	}
	if n := cpu * workersPerCPU; n > workers {
		workers = n
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}
	return workers, workers * bufferPerWorker
}

// DispatcherConfigFromEnv reads EVENT_WORKERS, EVENT_BUFFER, EVENT_TIMEOUT,
// EVENT_HANDOFF_TIMEOUT and EVENT_ATTEMPTS.
func DispatcherConfigFromEnv(sinkConcurrency int) DispatcherConfig {
	workers, buffer := computeWorkerDefaults(sinkConcurrency, runtime.NumCPU())
	return DispatcherConfig{
		Workers:  envInt("EVENT_WORKERS", workers),
		Buffer:   envInt("EVENT_BUFFER", buffer),
		Timeout:  envDur("EVENT_TIMEOUT", 30*time.Second),
		Handoff:  envDur("EVENT_HANDOFF_TIMEOUT", 15*time.Millisecond),
		Attempts: envInt("EVENT_ATTEMPTS", defaultAttempts),
	}
}

func envInt(name string, def int) int {
	if v, err := strconv.Atoi(os.Getenv(name)); err == nil && v > 0 {
		return v
	}
	return def
}

func envDur(name string, def time.Duration) time.Duration {
	if v, err := time.ParseDuration(os.Getenv(name)); err == nil && v >= 0 {
		return v
	}
	return def
}

type eventJob struct {
	events []domain.SlotEvent
}

// Dispatcher delivers committed slot events to every sink on a bounded worker
// pool. Delivery is best effort: a mutation is never failed because an event
// could not be published.
type Dispatcher struct {
	sinks  []EventSink
	logger *log.Logger

	jobs     chan eventJob
	timeout  time.Duration
	handoff  time.Duration
	attempts int

	workerWG  sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// NewDispatcher starts the worker pool.
func NewDispatcher(cfg DispatcherConfig, logger *log.Logger, sinks ...EventSink) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.Buffer < 0 {
		cfg.Buffer = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	d := &Dispatcher{
		sinks:    sinks,
		logger:   logger,
		jobs:     make(chan eventJob, cfg.Buffer),
		timeout:  cfg.Timeout,
		handoff:  cfg.Handoff,
		attempts: cfg.Attempts,
		closed:   make(chan struct{}),
	}
	for i := 0; i < cfg.Workers; i++ {
		d.workerWG.Add(1)
		go d.worker(i)
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, timeout: %v, handoff: %v", cfg.Workers, cfg.Buffer, cfg.Timeout, cfg.Handoff)
	return d
}

// Dispatch hands events to the pool. When the buffer stays full past the
// handoff timeout the events are delivered inline.
func (d *Dispatcher) Dispatch(events ...domain.SlotEvent) {
	if d == nil || len(events) == 0 {
		return
	}
	job := eventJob{events: events}
	if d.tryEnqueue(job) {
		return
	}
	select {
	case <-d.closed:
		d.logger.WithField("events", len(events)).Warn("event dispatcher closed; dropping events")
		return
	default:
	}
	d.logger.Warn("event buffer saturated; delivering inline")
	d.deliver(-1, job)
}

// Close stops accepting events and waits for the workers to drain the buffer.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closed)
		close(d.jobs)
	})
	d.workerWG.Wait()
}

func (d *Dispatcher) worker(id int) {
	defer d.workerWG.Done()
	for j := range d.jobs {
		d.deliver(id, j)
	}
}

func (d *Dispatcher) deliver(workerID int, j eventJob) {
	for _, sink := range d.sinks {
		var err error
		for attempt := 1; attempt <= d.attempts; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
			err = sink.PublishEvents(ctx, j.events)
			cancel()
			if err == nil {
				break
			}
			if attempt < d.attempts {
				time.Sleep(exponentialBackoff(attempt, defaultRetryBase, defaultRetryMax))
			}
		}
		if err != nil {
			d.logger.WithFields(log.Fields{
				"worker":   workerID,
				"tenant":   j.events[0].TenantID,
				"count":    len(j.events),
				"attempts": d.attempts,
			}).WithError(err).Error("event delivery failed")
		}
	}
}

func (d *Dispatcher) tryEnqueue(job eventJob) bool {
	if ok, closed := trySendNonBlocking(d.jobs, job); closed {
		return false
	} else if ok {
		return true
	}

	if d.handoff <= 0 {
		return false
	}

	timer := time.NewTimer(d.handoff)
	defer timer.Stop()

	ok, closed := sendWithTimer(d.jobs, job, timer.C)
	if closed {
		return false
	}
	return ok
}

func trySendNonBlocking(ch chan eventJob, job eventJob) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	default:
		return false, false
	}
}

func sendWithTimer(ch chan eventJob, job eventJob, timer <-chan time.Time) (ok bool, closed bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			closed = true
		}
	}()

	select {
	case ch <- job:
		return true, false
	case <-timer:
		return false, false
	}
}

func exponentialBackoff(attempt int, initial, max time.Duration) time.Duration {
	if initial <= 0 {
		initial = time.Second
	}
	if attempt <= 0 {
		return initial
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	backoff := float64(initial) * math.Pow(2, float64(attempt-1))
	if backoff > float64(max) {
		backoff = float64(max)
	}
	jitter := 0.2 * backoff
	return time.Duration(backoff + (rand.Float64()-0.5)*2*jitter)
}
