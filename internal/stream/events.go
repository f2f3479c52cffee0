package stream

import (
	"sync"
	"time"

	"tankview/internal/model"
)

type EventKind int

const (
	// EventOpened fires once per successful connection.
	EventOpened EventKind = iota
	// EventMessage fires once per decoded inbound frame.
	EventMessage
	// EventClosed fires on every disconnect, graceful or not.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventOpened:
		return "opened"
	case EventMessage:
		return "message"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind   EventKind
	URL    string
	At     time.Time
	Record model.TelemetryRecord // EventMessage only
	Err    error                 // EventClosed only; nil after Disconnect
}

type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

type subscribers struct {
	mu     sync.Mutex
	nextID int
	byKind map[EventKind][]subscription
}

func (s *subscribers) add(kind EventKind, fn Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byKind == nil {
		s.byKind = map[EventKind][]subscription{}
	}
	s.nextID++
	id := s.nextID
	s.byKind[kind] = append(s.byKind[kind], subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			subs := s.byKind[kind]
			for i, sub := range subs {
				if sub.id == id {
					s.byKind[kind] = append(subs[:i:i], subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	subs := append([]subscription(nil), s.byKind[ev.Kind]...)
	s.mu.Unlock()
	for _, sub := range subs {
		sub.fn(ev)
	}
}
