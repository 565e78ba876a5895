package worker

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrDispatcherBusy is returned by Enqueue when the intake queue is full.
	ErrDispatcherBusy = errors.New("dispatcher queue is full")
	// ErrDispatcherStopped is returned for jobs submitted or still pending after Shutdown.
	ErrDispatcherStopped = errors.New("dispatcher stopped")
)

type sessionQueue struct {
	jobs     []Job
	enqueued bool
}

// Dispatcher hands jobs to an elastic worker pool, taking turns between sessions so
// one chatty session cannot starve the rest.
type Dispatcher struct {
	pool     *jobChannelPool
	JobQueue chan Job // intake, bounded by queueSize

	cancel context.CancelFunc
	quit   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup // accepted jobs not yet finished or dropped

	intake sync.Mutex // orders wg.Add in Enqueue against Shutdown
	closed bool

	mu        sync.Mutex
	queues    map[string]*sessionQueue // pending jobs per session
	ready     *list.List               // round-robin order of session ids
	positions map[string]*list.Element
}

func NewDispatcher(minWorkers, maxWorkers, queueSize int, idleTimeout time.Duration) *Dispatcher {
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		JobQueue:  make(chan Job, queueSize),
		cancel:    cancel,
		quit:      make(chan struct{}),
		queues:    make(map[string]*sessionQueue),
		ready:     list.New(),
		positions: make(map[string]*list.Element),
	}
	d.pool = newJobChannelPool(ctx, minWorkers, maxWorkers, idleTimeout, d.finish)

	for i := 0; i < minWorkers; i++ {
		d.pool.spawnWorker()
	}

	go d.run()
	return d
}

// Submit queues task for sessionID without blocking.
func (d *Dispatcher) Submit(sessionID string, task Task) error {
	return d.Enqueue(Job{SessionID: sessionID, Task: task})
}

// Enqueue queues a run job without blocking.
func (d *Dispatcher) Enqueue(job Job) error {
	if job.Task == nil {
		return errors.New("nil task")
	}
	job.Type = Run

	d.intake.Lock()
	defer d.intake.Unlock()
	if d.closed {
		return ErrDispatcherStopped
	}
	d.wg.Add(1)
	select {
	case d.JobQueue <- job:
		return nil
	default:
		d.wg.Done()
		return ErrDispatcherBusy
	}
}

// Wait blocks until every job accepted so far has run or been dropped. Call it once
// submissions are done.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Shutdown stops intake and lets queued jobs finish until ctx expires. It then stops
// the workers, cancels the context of anything still running and drops what never started.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.intake.Lock()
	d.closed = true
	d.intake.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	d.once.Do(func() {
		close(d.quit)
		d.pool.close()
		d.cancel()
	})
	return err
}

func (d *Dispatcher) finish() {
	d.wg.Done()
}

func (d *Dispatcher) drop(job Job) {
	defer d.finish()
	logger.WithField("session", job.SessionID).Warn("dropping job, dispatcher stopped")
	if job.Dropped != nil {
		job.Dropped(ErrDispatcherStopped)
	}
}

// dropPending drops every job accepted but never handed to a worker.
func (d *Dispatcher) dropPending() {
	var pending []Job
drain:
	for {
		select {
		case job := <-d.JobQueue:
			pending = append(pending, job)
		default:
			break drain
		}
	}

	d.mu.Lock()
	for e := d.ready.Front(); e != nil; e = e.Next() {
		pending = append(pending, d.queues[e.Value.(string)].jobs...)
	}
	d.queues = make(map[string]*sessionQueue)
	d.positions = make(map[string]*list.Element)
	d.ready.Init()
	d.mu.Unlock()

	for _, job := range pending {
		d.drop(job)
	}
}

func (d *Dispatcher) run() {
	defer d.dropPending()
	for {
		// dispatch one job of the session at the front of the round
		if !d.dispatchOne() {
			select {
			case job := <-d.JobQueue:
				d.enqueueJob(job)
			case <-d.quit:
				return
			}
			continue
		}
		select {
		case job := <-d.JobQueue:
			d.enqueueJob(job)
		case <-d.quit:
			return
		default:
		}
	}
}

func (d *Dispatcher) enqueueJob(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()

	q := d.queues[job.SessionID]
	if q == nil {
		q = &sessionQueue{}
		d.queues[job.SessionID] = q
	}
	q.jobs = append(q.jobs, job)
	if q.enqueued {
		return
	}
	q.enqueued = true
	d.positions[job.SessionID] = d.ready.PushBack(job.SessionID)
}

// dispatchOne hands the next job of the front session to a worker.
func (d *Dispatcher) dispatchOne() bool {
	d.mu.Lock()
	elem := d.ready.Front()
	if elem == nil {
		d.mu.Unlock()
		return false
	}
	sessionID := elem.Value.(string)
	q := d.queues[sessionID]
	job := q.jobs[0]
	q.jobs = q.jobs[1:]
	if len(q.jobs) == 0 {
		q.enqueued = false
		d.ready.Remove(elem)
		delete(d.positions, sessionID)
		delete(d.queues, sessionID)
	} else {
		d.ready.MoveToBack(elem)
	}
	d.mu.Unlock()

	workerChan, ok := d.pool.acquire()
	if !ok {
		d.drop(job)
		return false
	}
	debugLog("[dispatcher] assign job for session %s to worker-%d", sessionID, d.pool.workerID(workerChan))
	workerChan <- job
	return true
}
