// Package scoring runs the decode -> onset -> grid pipeline on a bounded
// worker pool with per-task timeouts and crash recovery.
package scoring

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/easeverse/easeverse-server/internal/audio"
	"github.com/easeverse/easeverse-server/internal/onset"
	"github.com/easeverse/easeverse-server/internal/pocketgrid"
)

// Code identifies a scoring failure on the wire.
type Code string

const (
	CodeInvalidAudio Code = "invalid_audio"
	CodeTooShort     Code = "too_short"
	CodeTooLong      Code = "too_long"
	CodeInternal     Code = "internal"
)

// TaskError is a coded scoring failure. invalid_audio, too_short and
// too_long are user errors; internal means retry.
type TaskError struct {
	Code    Code
	Message string
}

func (e *TaskError) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

// UserError reports whether the error should surface as a 400.
func (e *TaskError) UserError() bool { return e.Code != CodeInternal }

const (
	minDurationSeconds = 0.3
	maxDurationSeconds = 20.0
)

// Request carries one scoring task. WAV is copied at submit time so callers
// may reuse their buffer.
type Request struct {
	WAV         []byte
	BPM         float64
	Grid        pocketgrid.Kind
	ToleranceMs float64
	MaxEvents   int
}

// Result is a successful scoring outcome.
type Result struct {
	DurationSeconds float64
	Score           pocketgrid.Score
}

type outcome struct {
	result Result
	err    error
}

type task struct {
	req  Request
	done chan outcome
}

// Options configures the pool. Zero values take the documented defaults.
type Options struct {
	Workers     int
	QueueLimit  int
	TaskTimeout time.Duration
	Inline      bool // run the pipeline in the caller, no pool

	// OnRestart fires whenever a worker slot is replaced after a timeout.
	OnRestart func()
}

// Pool is a bounded scoring worker pool.
type Pool struct {
	opts    Options
	tasks   chan *task
	mu      sync.Mutex
	pending int
	closed  bool
	once    sync.Once
}

// NewPool starts the worker slots and returns the pool.
func NewPool(opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 2
		if n := runtime.NumCPU(); n < 2 {
			opts.Workers = 1
		}
	}
	if opts.Workers > 4 {
		opts.Workers = 4
	}
	if opts.QueueLimit <= 0 {
		opts.QueueLimit = 32
	}
	if opts.QueueLimit < 4 {
		opts.QueueLimit = 4
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 15 * time.Second
	}
	if opts.TaskTimeout < 2*time.Second {
		opts.TaskTimeout = 2 * time.Second
	}

	p := &Pool{
		opts:  opts,
		tasks: make(chan *task, opts.QueueLimit),
	}
	if !opts.Inline {
		for i := 0; i < opts.Workers; i++ {
			go p.worker()
		}
	}
	return p
}

// ErrQueueBusy rejects submissions once queued plus in-flight tasks reach the
// queue limit.
var ErrQueueBusy = &TaskError{Code: CodeInternal, Message: "queue busy"}

// Score submits a task and waits for its outcome.
func (p *Pool) Score(ctx context.Context, req Request) (Result, error) {
	if p.opts.Inline {
		return runPipeline(req)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return Result{}, &TaskError{Code: CodeInternal, Message: "pool closed"}
	}
	if p.pending >= p.opts.QueueLimit {
		p.mu.Unlock()
		return Result{}, ErrQueueBusy
	}
	p.pending++
	p.mu.Unlock()

	t := &task{
		req:  Request{WAV: append([]byte(nil), req.WAV...), BPM: req.BPM, Grid: req.Grid, ToleranceMs: req.ToleranceMs, MaxEvents: req.MaxEvents},
		done: make(chan outcome, 1),
	}

	select {
	case p.tasks <- t:
	case <-ctx.Done():
		p.taskFinished()
		return Result{}, ctx.Err()
	}

	select {
	case out := <-t.done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Pending returns queued plus in-flight task count.
func (p *Pool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Close stops accepting tasks and lets workers drain.
func (p *Pool) Close() {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		close(p.tasks)
	})
}

func (p *Pool) taskFinished() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

// worker is a single-task loop. A timed-out task abandons the slot and a
// replacement is spawned; the stale pipeline goroutine finishes into a
// buffered channel and is discarded.
func (p *Pool) worker() {
	for t := range p.tasks {
		res := make(chan outcome, 1)
		go func(req Request) {
			defer func() {
				if r := recover(); r != nil {
					res <- outcome{err: &TaskError{Code: CodeInternal, Message: fmt.Sprintf("worker crashed: %v", r)}}
				}
			}()
			result, err := runPipeline(req)
			res <- outcome{result: result, err: err}
		}(t.req)

		timer := time.NewTimer(p.opts.TaskTimeout)
		select {
		case out := <-res:
			timer.Stop()
			t.done <- out
			p.taskFinished()
		case <-timer.C:
			t.done <- outcome{err: &TaskError{Code: CodeInternal, Message: "scoring task timed out, please retry"}}
			p.taskFinished()
			p.restartSlot()
			return
		}
	}
}

func (p *Pool) restartSlot() {
	if p.opts.OnRestart != nil {
		p.opts.OnRestart()
	}
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if !closed {
		go p.worker()
	}
}

func runPipeline(req Request) (Result, error) {
	buf, err := audio.Decode(req.WAV)
	if err != nil {
		if errors.Is(err, audio.ErrInvalidAudio) {
			return Result{}, &TaskError{Code: CodeInvalidAudio, Message: err.Error()}
		}
		return Result{}, &TaskError{Code: CodeInternal, Message: err.Error()}
	}

	dur := buf.DurationSeconds()
	if dur < minDurationSeconds {
		return Result{}, &TaskError{Code: CodeTooShort, Message: fmt.Sprintf("audio is %.2fs, need at least %.1fs", dur, minDurationSeconds)}
	}
	if dur > maxDurationSeconds {
		return Result{}, &TaskError{Code: CodeTooLong, Message: fmt.Sprintf("audio is %.2fs, limit is %.0fs", dur, maxDurationSeconds)}
	}

	onsets, err := onset.Detect(buf.Samples, buf.SampleRate, onset.Config{})
	if err != nil {
		return Result{}, &TaskError{Code: CodeInternal, Message: err.Error()}
	}

	score := pocketgrid.Run(onsets, pocketgrid.Params{
		StepMs:      pocketgrid.StepMs(req.BPM, req.Grid),
		ToleranceMs: req.ToleranceMs,
		MaxEvents:   req.MaxEvents,
	})
	return Result{DurationSeconds: dur, Score: score}, nil
}
