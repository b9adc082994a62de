// Package notify is the in-process pub/sub bus. Mutations publish one
// record per (owner, action, entity) after commit; delivery is best-effort
// and subscribers that stop draining are dropped.
package notify

import (
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/lodestar/internal/interfaces"
)

const subscriberBuffer = 64

// Service implements the Notifier interface with bounded per-subscriber
// channels.
type Service struct {
	mu          sync.RWMutex
	subscribers map[uint64]map[int]chan interfaces.Notification
	nextID      int
	closed      bool
	logger      arbor.ILogger
}

// NewService creates a new notifier.
func NewService(logger arbor.ILogger) *Service {
	return &Service{
		subscribers: make(map[uint64]map[int]chan interfaces.Notification),
		logger:      logger,
	}
}

// Publish fans one notification out to the owner's subscribers. A full
// subscriber channel means the client stopped draining; it is unsubscribed
// rather than blocking the caller.
func (s *Service) Publish(ownerID uint64, action interfaces.NotifyAction, entity interfaces.NotifyEntity, payload interface{}) {
	n := interfaces.Notification{
		OwnerID: ownerID,
		Action:  action,
		Entity:  entity,
		Payload: payload,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for id, ch := range s.subscribers[ownerID] {
		select {
		case ch <- n:
		default:
			delete(s.subscribers[ownerID], id)
			close(ch)
			s.logger.Warn().
				Int64("owner_id", int64(ownerID)).
				Str("entity", string(entity)).
				Msg("Slow notification subscriber dropped")
		}
	}
}

// Subscribe returns a channel of the owner's notifications and a cancel
// function. The channel closes on cancel, on Close, or when the subscriber
// falls behind.
func (s *Service) Subscribe(ownerID uint64) (<-chan interfaces.Notification, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan interfaces.Notification, subscriberBuffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}

	s.nextID++
	id := s.nextID
	if s.subscribers[ownerID] == nil {
		s.subscribers[ownerID] = make(map[int]chan interfaces.Notification)
	}
	s.subscribers[ownerID][id] = ch

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if sub, ok := s.subscribers[ownerID][id]; ok {
			delete(s.subscribers[ownerID], id)
			close(sub)
		}
	}
	return ch, cancel
}

// Close drops every subscriber and rejects further publishes.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for _, subs := range s.subscribers {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
}
