// Package cue delivers synthesized expression cues to an audio sink.
//
// A [Dispatcher] owns a bounded FIFO queue and a single worker goroutine, so
// cues are played strictly in submission order while the submitting caller
// never waits for audio. When the queue is full the oldest pending cue is
// dropped: a newer detection supersedes a stale one.
//
// Playback failures never propagate back to the submitter. They are logged,
// counted and handed to the optional [WithOnError] callback. An optional
// circuit breaker stops hammering a sink that keeps failing.
package cue

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/robotface/internal/observe"
	"github.com/MrWong99/robotface/internal/resilience"
	"github.com/MrWong99/robotface/pkg/audio"
)

const (
	// DefaultQueueSize is the number of pending cues kept before the oldest
	// is dropped.
	DefaultQueueSize = 8

	// DefaultPlayTimeout bounds a single Play call.
	DefaultPlayTimeout = 5 * time.Second
)

// ErrClosed is returned by [Dispatcher.Submit] after [Dispatcher.Close].
var ErrClosed = errors.New("cue: dispatcher closed")

// Item is one cue waiting for playback.
type Item struct {
	// Label is the expression the cue belongs to.
	Label string

	// Frame is the synthesized PCM audio.
	Frame audio.AudioFrame

	// Seq is assigned by the dispatcher on submission and increases
	// monotonically.
	Seq uint64
}

// Option configures a [Dispatcher].
type Option func(*Dispatcher)

// WithQueueSize sets the queue bound. Non-positive values are ignored.
func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queueSize = n
		}
	}
}

// WithBreaker guards every Play call with cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(d *Dispatcher) { d.breaker = cb }
}

// WithMetrics records playback latency, errors and drops on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// WithOnError registers fn to be called from the worker goroutine after a
// failed playback. fn must not block.
func WithOnError(fn func(Item, error)) Option {
	return func(d *Dispatcher) { d.onError = fn }
}

// WithPlayTimeout bounds each Play call. Zero disables the timeout.
func WithPlayTimeout(t time.Duration) Option {
	return func(d *Dispatcher) { d.playTimeout = t }
}

// WithSinkName sets the sink label used in logs and metrics.
func WithSinkName(name string) Option {
	return func(d *Dispatcher) { d.sinkName = name }
}

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.log = l }
}

// Dispatcher plays cues on a sink one at a time in FIFO order.
// All exported methods are safe for concurrent use.
type Dispatcher struct {
	sink        audio.Sink
	sinkName    string
	queueSize   int
	playTimeout time.Duration
	breaker     *resilience.CircuitBreaker
	metrics     *observe.Metrics
	onError     func(Item, error)
	log         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	queue   []Item
	seq     uint64
	dropped uint64
	busy    bool
	closed  bool
	idle    *sync.Cond

	notify chan struct{}
	done   chan struct{}
}

// NewDispatcher creates a [Dispatcher] for sink and starts its worker.
// Call [Dispatcher.Close] to stop it.
func NewDispatcher(sink audio.Sink, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sink:        sink,
		sinkName:    "default",
		queueSize:   DefaultQueueSize,
		playTimeout: DefaultPlayTimeout,
		log:         slog.Default(),
		notify:      make(chan struct{}, 1),
		done:        make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.idle = sync.NewCond(&d.mu)
	d.queue = make([]Item, 0, d.queueSize)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	go d.run()
	return d
}

// Submit enqueues item and returns immediately with the assigned sequence
// number. If the queue is full the oldest pending item is dropped.
func (d *Dispatcher) Submit(item Item) (uint64, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	d.seq++
	item.Seq = d.seq

	var evicted *Item
	if len(d.queue) >= d.queueSize {
		old := d.queue[0]
		evicted = &old
		d.queue = append(d.queue[:0], d.queue[1:]...)
		d.dropped++
	}
	d.queue = append(d.queue, item)
	select {
	case d.notify <- struct{}{}:
	default:
	}
	d.mu.Unlock()

	if evicted != nil {
		d.log.Debug("playback queue full, dropped oldest cue",
			"sink", d.sinkName, "label", evicted.Label, "seq", evicted.Seq)
		if d.metrics != nil {
			d.metrics.PlaybackDropped.Add(context.Background(), 1)
		}
	}
	return item.Seq, nil
}

// Pending returns the number of queued, not yet started cues.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Dropped returns how many cues have been evicted from a full queue.
func (d *Dispatcher) Dropped() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

// Wait blocks until the queue is empty and no cue is playing, or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		d.mu.Lock()
		d.idle.Broadcast()
		d.mu.Unlock()
	})
	defer stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for (len(d.queue) > 0 || d.busy) && !d.closed {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.idle.Wait()
	}
	return nil
}

// Close stops the worker, aborts the cue currently playing and discards the
// queue. Close is idempotent.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	discarded := len(d.queue)
	d.queue = nil
	d.idle.Broadcast()
	close(d.notify)
	d.mu.Unlock()

	d.cancel()
	<-d.done

	if discarded > 0 {
		d.log.Debug("dispatcher closed with pending cues", "sink", d.sinkName, "discarded", discarded)
	}
	return nil
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for {
		item, ok := d.next()
		if !ok {
			if _, open := <-d.notify; !open {
				return
			}
			continue
		}
		d.play(item)

		d.mu.Lock()
		d.busy = false
		if len(d.queue) == 0 {
			d.idle.Broadcast()
		}
		d.mu.Unlock()
	}
}

// next pops the head of the queue and marks the worker busy.
func (d *Dispatcher) next() (Item, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.queue) == 0 {
		return Item{}, false
	}
	item := d.queue[0]
	d.queue = append(d.queue[:0], d.queue[1:]...)
	d.busy = true
	return item, true
}

func (d *Dispatcher) play(item Item) {
	ctx := d.ctx
	if d.playTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.playTimeout)
		defer cancel()
	}

	start := time.Now()
	playFn := func(ctx context.Context) error { return d.sink.Play(ctx, item.Frame) }
	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, playFn)
	} else {
		err = playFn(ctx)
	}

	if err == nil {
		if d.metrics != nil {
			d.metrics.RecordPlayback(context.Background(), d.sinkName, time.Since(start).Seconds())
		}
		return
	}
	if d.ctx.Err() != nil {
		// Shutting down.
		return
	}

	reason := Reason(err)
	d.log.Warn("cue playback failed",
		"sink", d.sinkName, "label", item.Label, "seq", item.Seq, "reason", reason, "err", err)
	if d.metrics != nil {
		d.metrics.RecordPlaybackError(context.Background(), d.sinkName, reason)
	}
	if d.onError != nil {
		d.onError(item, err)
	}
}

// Reason classifies a playback error for logs and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, audio.ErrPlaybackUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
