package dispatch

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"asrd/internal/recognizer"
)

// fakeTable records sends per handle and drops them once the handle is closed,
// mirroring the registry's Contains gate.
type fakeTable struct {
	mu   sync.Mutex
	open map[Handle]bool
	sent map[Handle][]string
}

func newFakeTable(handles ...Handle) *fakeTable {
	t := &fakeTable{open: make(map[Handle]bool), sent: make(map[Handle][]string)}
	for _, h := range handles {
		t.open[h] = true
	}
	return t
}

func (t *fakeTable) Contains(h Handle) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open[h]
}

func (t *fakeTable) Send(h Handle, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open[h] {
		return
	}
	t.sent[h] = append(t.sent[h], text)
}

func (t *fakeTable) close(h Handle) {
	t.mu.Lock()
	delete(t.open, h)
	t.mu.Unlock()
}

func (t *fakeTable) msgs(h Handle) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent[h]...)
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// feed pushes a finished utterance of n samples through the stream.
func feed(s *recognizer.Stream, n int) {
	s.AcceptWaveform(16000, make([]float32, n))
	s.InputFinished()
}

func TestPushIsIdempotent(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{})
	table := newFakeTable("h")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	defer work.Close()
	defer conn.Close()
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})

	s := rec.CreateStream()
	for i := 0; i < 5; i++ {
		if err := d.Push("h", s); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}
	st := d.Stats()
	if st.QueueDepth != 1 || st.ActiveStreams != 1 {
		t.Fatalf("expected one entry, got %+v", st)
	}
}

func TestQueueNeverHoldsDuplicates(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{})
	table := newFakeTable("a", "b")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	defer work.Close()
	defer conn.Close()
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})

	sa, sb := rec.CreateStream(), rec.CreateStream()
	_ = d.Push("a", sa)
	_ = d.Push("b", sb)
	_ = d.Push("a", sa)
	_ = d.Push("b", sb)
	if st := d.Stats(); st.QueueDepth != 2 {
		t.Fatalf("queue depth %d", st.QueueDepth)
	}
}

func TestPushHighWaterMark(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{})
	table := newFakeTable("a", "b", "c")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	defer work.Close()
	defer conn.Close()
	events := NewMemoryPublisher()
	d := New(rec, table, conn, work, Options{MaxActiveStreams: 2, Events: events, Logger: zerolog.Nop()})

	_ = d.Push("a", rec.CreateStream())
	_ = d.Push("b", rec.CreateStream())
	err := d.Push("c", rec.CreateStream())
	if err == nil || !IsQueueFull(err) {
		t.Fatalf("expected queue-full error, got %v", err)
	}
	rejected := events.HandlesByName(EventPushRejected)
	if len(rejected) != 1 || rejected[0] != Handle("c") {
		t.Fatalf("push_rejected handles: %v", rejected)
	}
}

func TestDecodeEmptyQueueIsNoop(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{})
	table := newFakeTable()
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	defer work.Close()
	defer conn.Close()
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})
	d.Decode()
	if st := d.Stats(); st.StepsTotal != 0 {
		t.Fatalf("steps after empty decode: %d", st.StepsTotal)
	}
}

func TestDecodeRunsStreamToCompletion(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{ChunkFrames: 32})
	table := newFakeTable("h")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})

	s := rec.CreateStream()
	feed(s, 16000) // 100 frames: 3 full chunks + 1 partial
	if err := d.Push("h", s); err != nil {
		t.Fatalf("push: %v", err)
	}
	d.Kick()

	waitFor(t, func() bool {
		st := d.Stats()
		return st.ActiveStreams == 0 && st.QueueDepth == 0
	}, "dispatcher drain")
	work.Close()
	conn.Close()

	msgs := table.msgs("h")
	if len(msgs) != 5 { // 4 hypotheses + final Done
		t.Fatalf("messages: %d %v", len(msgs), msgs)
	}
	for _, m := range msgs[:4] {
		if !strings.Contains(m, `"text"`) {
			t.Fatalf("not a hypothesis frame: %q", m)
		}
	}
	if msgs[len(msgs)-1] != FinalMessage {
		t.Fatalf("last message %q", msgs[len(msgs)-1])
	}
	if st := d.Stats(); st.StepsTotal != 4 {
		t.Fatalf("steps: %d", st.StepsTotal)
	}
}

func TestRoundRobinAcrossStreams(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{ChunkFrames: 25})
	table := newFakeTable("a", "b")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	events := NewMemoryPublisher()
	d := New(rec, table, conn, work, Options{Events: events, Logger: zerolog.Nop()})

	sa, sb := rec.CreateStream(), rec.CreateStream()
	feed(sa, 16000) // 4 chunks of 25 frames
	feed(sb, 16000)
	_ = d.Push("a", sa)
	_ = d.Push("b", sb)
	d.Kick()
	d.Kick()

	waitFor(t, func() bool { return d.Stats().ActiveStreams == 0 }, "both streams done")
	work.Close()
	conn.Close()

	steps := events.HandlesByName(EventDecodeStep)
	if len(steps) != 8 {
		t.Fatalf("decode steps: %d", len(steps))
	}
	// FIFO + tail re-append with one worker yields strict alternation: no
	// stream gets two consecutive decode quanta.
	for i := 1; i < len(steps); i++ {
		if steps[i] == steps[i-1] {
			t.Fatalf("stream %v decoded twice in a row (steps %v)", steps[i], steps)
		}
	}
	for _, h := range []Handle{"a", "b"} {
		msgs := table.msgs(h)
		if len(msgs) == 0 || msgs[len(msgs)-1] != FinalMessage {
			t.Fatalf("handle %v messages %v", h, msgs)
		}
	}
}

// guardedRec fails the test if two decode steps ever overlap on one stream.
type guardedRec struct {
	*recognizer.Stub
	mu       sync.Mutex
	inflight map[*recognizer.Stream]bool
	overlaps int
}

func (g *guardedRec) DecodeStream(s *recognizer.Stream) error {
	g.mu.Lock()
	if g.inflight == nil {
		g.inflight = make(map[*recognizer.Stream]bool)
	}
	if g.inflight[s] {
		g.overlaps++
	}
	g.inflight[s] = true
	g.mu.Unlock()

	time.Sleep(time.Millisecond) // widen the race window
	err := g.Stub.DecodeStream(s)

	g.mu.Lock()
	delete(g.inflight, s)
	g.mu.Unlock()
	return err
}

func TestAtMostOneDecodePerStream(t *testing.T) {
	rec := &guardedRec{Stub: recognizer.NewStub(recognizer.Config{ChunkFrames: 4})}
	table := newFakeTable("a", "b")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 4)
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})

	sa, sb := rec.CreateStream(), rec.CreateStream()
	feed(sa, 32000)
	feed(sb, 32000)
	// Hammer Push/Kick from several goroutines while decoding runs.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = d.Push("a", sa)
				_ = d.Push("b", sb)
				d.Kick()
			}
		}()
	}
	wg.Wait()

	waitFor(t, func() bool { return d.Stats().ActiveStreams == 0 }, "drain")
	work.Close()
	conn.Close()

	rec.mu.Lock()
	overlaps := rec.overlaps
	rec.mu.Unlock()
	if overlaps != 0 {
		t.Fatalf("observed %d overlapping decode steps", overlaps)
	}
}

func TestClosedConnectionSuppressesSendsAndDrains(t *testing.T) {
	rec := recognizer.NewStub(recognizer.Config{ChunkFrames: 25})
	table := newFakeTable("h")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	d := New(rec, table, conn, work, Options{Logger: zerolog.Nop()})

	s := rec.CreateStream()
	feed(s, 16000)
	_ = d.Push("h", s)
	table.close("h") // client disconnects before the first decode
	d.Kick()

	waitFor(t, func() bool { return d.Stats().ActiveStreams == 0 }, "active set drain")
	work.Close()
	conn.Close()

	if msgs := table.msgs("h"); len(msgs) != 0 {
		t.Fatalf("messages after close: %v", msgs)
	}
}

// failingRec turns every decode step into an error.
type failingRec struct{ *recognizer.Stub }

func (f failingRec) DecodeStream(*recognizer.Stream) error { return errors.New("model exploded") }

func TestDecodeErrorRetiresStreamKeepsConnection(t *testing.T) {
	rec := failingRec{recognizer.NewStub(recognizer.Config{})}
	table := newFakeTable("h")
	conn := NewExecutor("conn", 1)
	work := NewExecutor("work", 1)
	events := NewMemoryPublisher()
	d := New(rec, table, conn, work, Options{Events: events, Logger: zerolog.Nop()})

	s := rec.CreateStream()
	feed(s, 16000)
	_ = d.Push("h", s)
	d.Kick()

	waitFor(t, func() bool { return d.Stats().ActiveStreams == 0 }, "drain after error")
	work.Close()
	conn.Close()

	if !table.Contains("h") {
		t.Fatalf("connection dropped on decode error")
	}
	msgs := table.msgs("h")
	if len(msgs) != 1 || !strings.Contains(msgs[0], "error") {
		t.Fatalf("messages: %v", msgs)
	}
	if events.CountByName(EventDecodeError) != 1 {
		t.Fatalf("decode_error events: %d", events.CountByName(EventDecodeError))
	}
	if events.CountByName(EventStreamDone) != 0 {
		t.Fatalf("stream_done published for a failed stream")
	}
}
