// Package worker implements the task runtime every component in this
// module runs on: a dedicated OS thread (goroutine pinned to its own
// select loop) that is started once, repeatedly loops until told to stop
// or until loop itself signals completion, and is stopped once.
//
// Grounded on the teacher's per-connection goroutine + stopChan +
// sync.WaitGroup shutdown pattern (decoder.go's MultiDecoder.running /
// stopChan / wg, websocket.go's per-connection read/write pumps).
package worker

import (
	"sync"
	"sync/atomic"
	"time"
)

// Status is the sticky lifecycle status every worker publishes on its
// "{component}.status" subject (spec.md §7).
type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
	StatusDecoding  Status = "decoding"
	StatusReading   Status = "reading"
	StatusWriting   Status = "writing"
	StatusFlush     Status = "flush"
	StatusPaused    Status = "paused"
	StatusAbsent    Status = "absent"
	StatusDisabled  Status = "disabled"
	StatusError     Status = "error"
)

// StatusReport is the payload carried on a status subject.
type StatusReport struct {
	Status   Status  `json:"status"`
	Progress float64 `json:"progress,omitempty"`
	Message  string  `json:"message,omitempty"`
}

// Loopable is implemented by the actual per-component logic. Loop is
// called repeatedly on the worker's dedicated goroutine: it should
// consume at most one command, perform one bounded unit of work, then
// return. Returning false or an error stops the worker.
type Loopable interface {
	Start() error
	Loop() (bool, error)
	Stop() error
}

// Worker drives a Loopable on its own goroutine.
type Worker struct {
	name    string
	task    Loopable
	running atomic.Bool
	done    chan struct{}
	onError func(error)
}

// New wraps task in a Worker. onError, if non-nil, is invoked once from
// the worker goroutine when Loop returns a non-nil error, before Stop is
// called.
func New(name string, task Loopable, onError func(error)) *Worker {
	return &Worker{name: name, task: task, onError: onError}
}

// Run starts the worker and blocks the calling goroutine until the task
// stops itself (Loop returns false or errors) or Shutdown is called from
// another goroutine. Callers typically invoke Run in its own goroutine:
//
//	w := worker.New("radio-decoder", task, onErr)
//	go w.Run()
func (w *Worker) Run() {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.done = make(chan struct{})
	defer close(w.done)
	defer w.running.Store(false)

	if err := w.task.Start(); err != nil {
		if w.onError != nil {
			w.onError(err)
		}
		return
	}
	defer w.task.Stop()

	for w.running.Load() {
		ok, err := w.task.Loop()
		if err != nil {
			if w.onError != nil {
				w.onError(err)
			}
			return
		}
		if !ok {
			return
		}
	}
}

// Shutdown signals the worker to stop at the next Loop boundary and
// blocks until it has exited.
func (w *Worker) Shutdown() {
	w.running.Store(false)
	<-w.waitDone()
}

func (w *Worker) waitDone() <-chan struct{} {
	if w.done == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.done
}

// Wait cooperatively sleeps for the given duration; idle loop iterations
// call this instead of spinning, per spec.md §5 ("may sleep 10-100ms when
// idle").
func Wait(d time.Duration) {
	time.Sleep(d)
}

// Pool is a bounded worker-per-core FIFO pool, the Go-native replacement
// for the teacher's (inherited, via original_source z5/util/threadpool.hxx)
// std::packaged_task thread pool: callers submit closures, a fixed set of
// goroutines drains the queue, and Wait blocks until every submitted job
// has completed. Used by the USB transpose step (internal/device/logic).
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
}

// NewPool starts n goroutines draining an internal job queue. n <= 0
// defaults to 1.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = 1
	}
	p := &Pool{jobs: make(chan func(), n*4)}
	for i := 0; i < n; i++ {
		go func() {
			for job := range p.jobs {
				job()
				p.wg.Done()
			}
		}()
	}
	return p
}

// Submit enqueues a job. It blocks if every worker is busy and the
// internal queue is full.
func (p *Pool) Submit(job func()) {
	p.wg.Add(1)
	p.jobs <- job
}

// Wait blocks until every submitted job so far has completed.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Close stops accepting new jobs. Submit after Close panics.
func (p *Pool) Close() {
	close(p.jobs)
}
