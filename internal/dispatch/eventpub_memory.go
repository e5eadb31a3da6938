package dispatch

import "sync"

// MemoryPublisher records decoder lifecycle events for tests, which assert
// on them by name: how often a stream was enqueued, which handles got decode
// steps and in what order.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryPublisher() *MemoryPublisher { return &MemoryPublisher{} }

func (p *MemoryPublisher) Publish(e Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

// CountByName returns how many events with the given name were published.
func (p *MemoryPublisher) CountByName(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Name == name {
			n++
		}
	}
	return n
}

// HandlesByName returns the handles of every event with the given name, in
// publish order. The sequence for EventDecodeStep is the decode schedule,
// which the fairness tests assert on directly.
func (p *MemoryPublisher) HandlesByName(name string) []Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Handle
	for _, e := range p.events {
		if e.Name == name {
			out = append(out, e.Handle)
		}
	}
	return out
}
