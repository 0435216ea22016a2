package events

import (
	"sync"
	"time"
)

// Event is one progress/status notification for a project. Events are
// ephemeral: delivered to live subscribers, never stored.
type Event struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Progress  *float64       `json:"progress,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Progress builds a progress-category event.
func Progress(eventType, stage string, progress float64, message string) Event {
	return Event{Type: eventType, Stage: stage, Progress: &progress, Message: message}
}

// Completed builds a completion-category event carrying a result payload.
func Completed(eventType string, data map[string]any, message string) Event {
	p := 100.0
	return Event{Type: eventType, Data: data, Progress: &p, Message: message}
}

// Failed builds an error-category event.
func Failed(eventType, message string) Event {
	return Event{Type: eventType, Message: message}
}

// Subscription is one live, ordered event inbox. Receive from C until it is
// closed; call Close to disconnect early.
type Subscription struct {
	C <-chan Event

	b         *Broadcaster
	projectID string

	mu       sync.Mutex
	queue    []Event
	closed   bool
	wake     chan struct{}
	out      chan Event
	quit     chan struct{}
	quitOnce sync.Once
}

// push appends to the unbounded inbox; it never blocks the publisher.
func (s *Subscription) push(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// shutdown marks the inbox closed; queued events are still drained to C
// before it closes.
func (s *Subscription) shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close disconnects the subscriber and removes it from the broadcaster. Any
// events still queued are discarded; a subscriber that is gone has no use for
// them.
func (s *Subscription) Close() {
	s.b.unsubscribe(s)
	s.quitOnce.Do(func() { close(s.quit) })
	s.shutdown()
}

// pump moves queued events to the out channel in publish order.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case s.out <- e:
			case <-s.quit:
				return
			}
		}
	}
}

// Broadcaster fans events out to per-project subscribers. Publishing with no
// subscribers is a no-op, not an error.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[string][]*Subscription)}
}

// Subscribe registers a new inbox for the project. Only events published
// after the call are delivered; there is no replay.
func (b *Broadcaster) Subscribe(projectID string) *Subscription {
	out := make(chan Event)
	s := &Subscription{
		b:         b,
		projectID: projectID,
		wake:      make(chan struct{}, 1),
		out:       out,
		quit:      make(chan struct{}),
	}
	s.C = out
	go s.pump()

	b.mu.Lock()
	b.subs[projectID] = append(b.subs[projectID], s)
	b.mu.Unlock()
	return s
}

func (b *Broadcaster) unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[s.projectID]
	for i, sub := range list {
		if sub == s {
			list = append(list[:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		// No empty entries accumulate over the life of the process.
		delete(b.subs, s.projectID)
	} else {
		b.subs[s.projectID] = list
	}
}

// Publish stamps the event with the project id and a UTC timestamp, delivers
// it to every current subscriber of the project in publish order, and returns
// how many inboxes received it.
func (b *Broadcaster) Publish(projectID string, e Event) int {
	e.ProjectID = projectID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[projectID] {
		s.push(e)
	}
	return len(b.subs[projectID])
}

// CloseProject ends every current subscriber stream for the project
// gracefully; queued events are still delivered first.
func (b *Broadcaster) CloseProject(projectID string) {
	b.mu.RLock()
	list := make([]*Subscription, len(b.subs[projectID]))
	copy(list, b.subs[projectID])
	b.mu.RUnlock()

	for _, s := range list {
		s.shutdown()
	}
}

// SubscriberCount reports the number of live subscribers for a project.
func (b *Broadcaster) SubscriberCount(projectID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[projectID])
}
