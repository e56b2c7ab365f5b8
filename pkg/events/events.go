// Package events is the pub/sub broker by which Sentinel surfaces
// scan-progress and job-lifecycle occurrences to external collaborators
// (CLI, TUI, or anything else watching) without coupling them to its
// internals.
package events

import (
	"sync"
	"time"

	"github.com/casparian/flow/pkg/types"
)

// Event type names. A listener filters on types.Event.Type using these.
const (
	TypeScanStarted    = "scan.started"
	TypeScanCompleted  = "scan.completed"
	TypeJobQueued      = "job.queued"
	TypeJobDispatched  = "job.dispatched"
	TypeJobCompleted   = "job.completed"
	TypeJobFailed      = "job.failed"
	TypeWorkerJoined   = "worker.joined"
	TypeWorkerOffline  = "worker.offline"
	TypeRulesReloaded  = "rules.reloaded"
)

// Subscriber is a channel that receives events.
type Subscriber chan *types.Event

// Broker manages event subscriptions and distribution.
type Broker struct {
	subscribers map[Subscriber]bool
	mu          sync.RWMutex
	eventCh     chan *types.Event
	stopCh      chan struct{}
}

// NewBroker creates a new event broker.
func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan *types.Event, 100),
		stopCh:      make(chan struct{}),
	}
}

// Start begins the broker's event distribution loop.
func (b *Broker) Start() {
	go b.run()
}

// Stop stops the broker.
func (b *Broker) Stop() {
	close(b.stopCh)
}

// Subscribe creates a new subscription and returns a channel.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 50)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subscribers, sub)
	close(sub)
}

// Publish publishes an event to all subscribers.
func (b *Broker) Publish(event *types.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event *types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			// subscriber buffer full, drop rather than block the broker
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
