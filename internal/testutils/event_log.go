//go:build test

package testutils

import "sync"

// EventLog records an ordered trace of simulated radio activity shared by
// several fakes, so tests can assert on interleaving across devices.
type EventLog struct {
	mu     sync.Mutex
	events []string
}

func NewEventLog() *EventLog {
	return &EventLog{}
}

func (l *EventLog) Add(event string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, event)
	l.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// Filter returns the recorded events accepted by keep, in order.
func (l *EventLog) Filter(keep func(string) bool) []string {
	var out []string
	for _, e := range l.Events() {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
