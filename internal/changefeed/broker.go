// Package changefeed fans document change signals out to connected clients over
// Server-Sent Events and WebSocket.
package changefeed

import (
	"encoding/json"
	"sync/atomic"
	"time"
)

// Event types.
const (
	TypeDocumentChanged = "document.changed"
	TypeDocumentDeleted = "document.deleted"
	TypeStoreChanged    = "store.changed"
)

// Event represents an event to broadcast. Origin is the client id of the writer;
// subscribers with the same id do not receive the event.
type Event struct {
	Type   string      `json:"type"`
	Data   interface{} `json:"data"`
	Origin string      `json:"-"`
}

// Message is an encoded event as delivered to a subscriber.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type subscribeReq struct {
	ch       chan Message
	clientID string
}

type changeReq struct {
	key     string
	origin  string
	deleted bool
}

// Broker manages client subscriptions and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients + store.changed throttle state). Public methods communicate with
// this loop through channels, so no mutexes are required.
type Broker struct {
	refreshMin time.Duration

	subscribeCh   chan subscribeReq
	unsubscribeCh chan chan Message
	publishCh     chan Event
	changeCh      chan changeReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one store.changed event per
// refreshThrottle. Changes suppressed by the throttle are covered by one
// store.changed at the end of the window.
func NewBroker(refreshThrottle time.Duration) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = 2 * time.Second
	}

	b := &Broker{
		refreshMin:    refreshThrottle,
		subscribeCh:   make(chan subscribeReq),
		unsubscribeCh: make(chan chan Message),
		publishCh:     make(chan Event, 256),
		changeCh:      make(chan changeReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan Message]string)
	var lastRefresh time.Time

	// A change inside the throttle window arms one trailing store.changed so
	// the last change of a burst is always followed by a refresh signal.
	var (
		trailing       *time.Timer
		trailingC      <-chan time.Time
		trailingOrigin string
	)
	defer func() {
		if trailing != nil {
			trailing.Stop()
		}
	}()

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		msg := Message{Type: event.Type, Data: payload}

		for ch, id := range clients {
			if event.Origin != "" && id == event.Origin {
				continue
			}
			select {
			case ch <- msg:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case req := <-b.subscribeCh:
			clients[req.ch] = req.clientID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.changeCh:
			typ := TypeDocumentChanged
			if req.deleted {
				typ = TypeDocumentDeleted
			}
			broadcast(Event{Type: typ, Data: map[string]string{"key": req.key}, Origin: req.origin})

			now := time.Now()
			switch {
			case trailingC != nil:
				if trailingOrigin != req.origin {
					trailingOrigin = ""
				}
			case now.Sub(lastRefresh) >= b.refreshMin:
				lastRefresh = now
				broadcast(Event{Type: TypeStoreChanged, Data: map[string]string{}, Origin: req.origin})
			default:
				trailing = time.NewTimer(b.refreshMin - now.Sub(lastRefresh))
				trailingC = trailing.C
				trailingOrigin = req.origin
			}

		case <-trailingC:
			trailingC = nil
			lastRefresh = time.Now()
			broadcast(Event{Type: TypeStoreChanged, Data: map[string]string{}, Origin: trailingOrigin})

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel. clientID may be empty.
func (b *Broker) Subscribe(clientID string) chan Message {
	ch := make(chan Message, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscribeReq{ch: ch, clientID: clientID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan Message) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all connected clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishChange publishes a document change and a throttled store.changed event.
func (b *Broker) PublishChange(key, origin string, deleted bool) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- changeReq{key: key, origin: origin, deleted: deleted}:
	case <-b.stopped:
	}
}
