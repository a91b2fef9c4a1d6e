package tileservice

import "sync"

// Event represents an ingestion lifecycle event.
// Minimal and stable: name + image ID and optional fields via key/values.
type Event struct {
	Name    string
	ImageID string
	Fields  map[string]any
}

// Event names published by the service.
const (
	EventIngestStart  = "ingest_start"
	EventIngestDone   = "ingest_done"
	EventIngestFailed = "ingest_failed"
)

// EventPublisher receives events from the service. Implementations should be
// lightweight and non-blocking; Publish must not panic.
type EventPublisher interface {
	Publish(Event)
}

// noopPublisher is the default; it drops events.
type noopPublisher struct{}

func (noopPublisher) Publish(Event) {}

// MultiPublisher fans an event out to several publishers in order.
type MultiPublisher []EventPublisher

func (m MultiPublisher) Publish(e Event) {
	for _, p := range m {
		if p != nil {
			p.Publish(e)
		}
	}
}

// MemoryPublisher records events; the CLI and tests use it to inspect what an
// ingestion emitted.
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

// Events returns a copy of everything published so far.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Names lists the event names published for imageID, in order. An empty
// imageID matches every event.
func (p *MemoryPublisher) Names(imageID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, e := range p.events {
		if imageID == "" || e.ImageID == imageID {
			out = append(out, e.Name)
		}
	}
	return out
}
