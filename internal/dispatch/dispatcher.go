// Package dispatch multiplexes per-connection decoding streams onto a shared
// compute executor. A FIFO ready queue plus an active set give every stream
// at most one decode step in flight and round-robin progress when the number
// of live streams exceeds the recognizer's throughput.
package dispatch

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"asrd/internal/recognizer"
)

// Handle identifies one websocket session. It is opaque to the dispatcher;
// only the connection table can interpret it.
type Handle any

// ConnectionTable is the dispatcher's view of live sessions. Contains may be
// called from any goroutine. Send is only ever invoked on the connection
// executor and must be a no-op for handles that are no longer registered.
type ConnectionTable interface {
	Contains(h Handle) bool
	Send(h Handle, text string)
}

// FinalMessage is the last text frame sent on a stream that decoded its
// final frame. Clients key on the literal word.
const FinalMessage = "Done"

// decodeErrorMessage terminates a stream whose decode step failed. The
// connection itself stays open.
const decodeErrorMessage = `{"error":"decode failed"}`

type entry struct {
	h Handle
	s *recognizer.Stream
}

// Options tunes a Dispatcher. The zero value is usable.
type Options struct {
	// MaxActiveStreams bounds the ready queue; 0 means unbounded.
	MaxActiveStreams int
	// Events receives lifecycle events; nil means drop them.
	Events EventPublisher
	// Logger for decode errors and rejected pushes.
	Logger zerolog.Logger
}

// Dispatcher owns the ready queue and active set.
type Dispatcher struct {
	rec      recognizer.Recognizer
	table    ConnectionTable
	connExec *Executor
	workExec *Executor
	events   EventPublisher
	log      zerolog.Logger

	maxActive int
	steps     atomic.Uint64

	mu     sync.Mutex
	queue  []entry
	active map[*recognizer.Stream]struct{}
}

// New builds a dispatcher. connExec must behave as-if single-threaded;
// workExec may have any number of workers.
func New(rec recognizer.Recognizer, table ConnectionTable, connExec, workExec *Executor, opts Options) *Dispatcher {
	events := opts.Events
	if events == nil {
		events = noopPublisher{}
	}
	return &Dispatcher{
		rec:       rec,
		table:     table,
		connExec:  connExec,
		workExec:  workExec,
		events:    events,
		log:       opts.Logger,
		maxActive: opts.MaxActiveStreams,
		active:    make(map[*recognizer.Stream]struct{}),
	}
}

// Push enqueues (h, s) for a decode step. Idempotent: a stream that is
// already queued or in flight is left untouched. Returns a queue-full error
// when the high-water mark refuses the enqueue.
func (d *Dispatcher) Push(h Handle, s *recognizer.Stream) error {
	d.mu.Lock()
	if _, ok := d.active[s]; ok {
		d.mu.Unlock()
		return nil
	}
	if d.maxActive > 0 && len(d.queue) >= d.maxActive {
		d.mu.Unlock()
		pushRejectedTotal.Inc()
		d.events.Publish(Event{Name: EventPushRejected, Handle: h})
		return queueFullError{}
	}
	d.queue = append(d.queue, entry{h: h, s: s})
	d.active[s] = struct{}{}
	queueDepth.Set(float64(len(d.queue)))
	activeStreams.Set(float64(len(d.active)))
	d.mu.Unlock()

	d.events.Publish(Event{Name: EventStreamEnqueued, Handle: h})
	return nil
}

// Decode performs one work unit. It runs on the compute executor: pop the
// queue head, run a decode step, hand the hypothesis to the connection
// executor, then either requeue the stream or retire it from the active set.
func (d *Dispatcher) Decode() {
	d.mu.Lock()
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	e := d.queue[0]
	d.queue[0] = entry{}
	d.queue = d.queue[1:]
	queueDepth.Set(float64(len(d.queue)))
	// e.s stays in the active set: the step is now in flight.
	d.mu.Unlock()

	start := time.Now()
	err := d.rec.DecodeStream(e.s)
	decodeDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		decodeErrorsTotal.Inc()
		d.log.Error().Err(err).Msg("decode step failed")
		d.retire(e.s)
		d.events.Publish(Event{Name: EventDecodeError, Handle: e.h, Fields: map[string]any{"error": err.Error()}})
		d.connExec.Post(func() { d.table.Send(e.h, decodeErrorMessage) })
		return
	}
	decodeStepsTotal.Inc()
	d.steps.Add(1)
	d.events.Publish(Event{Name: EventDecodeStep, Handle: e.h})

	hyp := d.rec.GetResult(e.s).AsJSONString()
	d.connExec.Post(func() { d.table.Send(e.h, hyp) })

	if d.table.Contains(e.h) && d.rec.IsReady(e.s) {
		// Connection still alive and more frames buffered: back to the tail
		// so other streams get their turn first.
		d.mu.Lock()
		d.queue = append(d.queue, e)
		queueDepth.Set(float64(len(d.queue)))
		d.mu.Unlock()
		d.workExec.Post(d.Decode)
		return
	}

	d.retire(e.s)
	if e.s.IsLastFrame(e.s.NumFramesReady() - 1) {
		d.events.Publish(Event{Name: EventStreamDone, Handle: e.h})
		d.connExec.Post(func() { d.table.Send(e.h, FinalMessage) })
	}
}

func (d *Dispatcher) retire(s *recognizer.Stream) {
	d.mu.Lock()
	delete(d.active, s)
	activeStreams.Set(float64(len(d.active)))
	d.mu.Unlock()
}

// Kick schedules one Decode work unit on the compute executor.
func (d *Dispatcher) Kick() {
	d.workExec.Post(d.Decode)
}

// Snapshot is a read-only projection of the dispatcher state.
type Snapshot struct {
	QueueDepth    int
	ActiveStreams int
	StepsTotal    uint64
}

// Stats returns the current dispatcher snapshot.
func (d *Dispatcher) Stats() Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return Snapshot{
		QueueDepth:    len(d.queue),
		ActiveStreams: len(d.active),
		StepsTotal:    d.steps.Load(),
	}
}

// MaxActiveStreams returns the configured high-water mark (0 = unbounded).
func (d *Dispatcher) MaxActiveStreams() int { return d.maxActive }
