package htlcswitch

import (
	"errors"
	"sync"

	"github.com/lightningnetwork/lnd/queue"
)

// DefaultEventHistory is the number of recent events a Notifier keeps.
const DefaultEventHistory = 100

// ErrNotifierShuttingDown is returned when subscribing to a stopped
// notifier.
var ErrNotifierShuttingDown = errors.New("event notifier shutting down")

// EventClient receives the events of a Notifier it subscribed to.
type EventClient struct {
	id      uint64
	updates *queue.ConcurrentQueue
	quit    chan struct{}
	cancel  func()
}

// Updates returns a read-only channel the events are delivered on. Every
// item is an Event.
func (c *EventClient) Updates() <-chan interface{} {
	return c.updates.ChanOut()
}

// Quit is closed once the client won't receive any more events.
func (c *EventClient) Quit() <-chan struct{} {
	return c.quit
}

// Cancel ends the subscription.
func (c *EventClient) Cancel() {
	c.cancel()
}

// Notifier fans the events of the switch out to subscribed clients. It
// implements EventSink. Events are served on a best-effort basis, they are
// neither persisted nor replayed, except for the last few kept in memory for
// inspection.
//
// Delivery never blocks the switch: each client buffers its events in an
// unbounded queue.
type Notifier struct {
	started sync.Once
	stopped sync.Once

	mu       sync.Mutex
	clients  map[uint64]*EventClient
	nextID   uint64
	recent   *queue.CircularBuffer
	shutdown bool
}

// A compile time check to ensure Notifier implements EventSink.
var _ EventSink = (*Notifier)(nil)

// NewNotifier creates a notifier keeping the last history events.
func NewNotifier(history int) (*Notifier, error) {
	if history == 0 {
		history = DefaultEventHistory
	}

	recent, err := queue.NewCircularBuffer(history)
	if err != nil {
		return nil, err
	}

	return &Notifier{
		clients: make(map[uint64]*EventClient),
		recent:  recent,
	}, nil
}

// Start starts the Notifier.
func (n *Notifier) Start() error {
	n.started.Do(func() {
		log.Info("Event notifier starting")
	})

	return nil
}

// Stop cancels all subscriptions.
func (n *Notifier) Stop() error {
	n.stopped.Do(func() {
		log.Info("Event notifier shutting down...")
		defer log.Debug("Event notifier shutdown complete")

		n.mu.Lock()
		defer n.mu.Unlock()

		n.shutdown = true
		for id, client := range n.clients {
			close(client.quit)
			client.updates.Stop()
			delete(n.clients, id)
		}
	})

	return nil
}

// Subscribe returns a client that receives every event delivered after the
// call.
func (n *Notifier) Subscribe() (*EventClient, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.shutdown {
		return nil, ErrNotifierShuttingDown
	}

	n.nextID++
	client := &EventClient{
		id:      n.nextID,
		updates: queue.NewConcurrentQueue(20),
		quit:    make(chan struct{}),
	}
	client.cancel = func() {
		n.cancelClient(client.id)
	}

	client.updates.Start()
	n.clients[client.id] = client

	return client, nil
}

// cancelClient removes a client and stops its queue.
func (n *Notifier) cancelClient(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	client, ok := n.clients[id]
	if !ok {
		return
	}

	close(client.quit)
	client.updates.Stop()
	delete(n.clients, id)
}

// NotifyEvent delivers the event to all clients.
//
// NOTE: Part of the EventSink interface.
func (n *Notifier) NotifyEvent(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	log.Debugf("Notifying %v clients of %v", len(n.clients), event)

	n.recent.Add(event)

	for _, client := range n.clients {
		select {
		case client.updates.ChanIn() <- event:
		case <-client.quit:
		}
	}
}

// RecentEvents returns the last events delivered, oldest first.
func (n *Notifier) RecentEvents() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	items := n.recent.List()
	events := make([]Event, 0, len(items))
	for _, item := range items {
		events = append(events, item.(Event))
	}

	return events
}

// NumEvents returns the number of events delivered so far.
func (n *Notifier) NumEvents() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.recent.Total()
}
