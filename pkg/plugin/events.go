package plugin

import "sync"

// EventType names an engine event.
type EventType string

const (
	EventPluginLoaded   EventType = "plugin-loaded"
	EventPluginUnloaded EventType = "plugin-unloaded"
)

// Event is delivered synchronously to every subscriber, in subscription order.
type Event struct {
	Type   EventType
	Plugin *PluginInfo
}

// EventHandler receives engine events.
type EventHandler func(Event)

type subscription struct {
	handler EventHandler
	active  bool
}

type subscribers struct {
	mu   sync.Mutex
	list []*subscription
}

func (s *subscribers) subscribe(handler EventHandler) func() {
	sub := &subscription{handler: handler, active: true}

	s.mu.Lock()
	s.list = append(s.list, sub)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		sub.active = false
		for i, other := range s.list {
			if other == sub {
				s.list = append(s.list[:i], s.list[i+1:]...)
				break
			}
		}
	}
}

// emit calls every handler subscribed when the event started. Handlers
// unsubscribed during delivery are skipped.
func (s *subscribers) emit(ev Event) {
	s.mu.Lock()
	snapshot := append([]*subscription(nil), s.list...)
	s.mu.Unlock()

	for _, sub := range snapshot {
		s.mu.Lock()
		active := sub.active
		s.mu.Unlock()
		if active {
			sub.handler(ev)
		}
	}
}
