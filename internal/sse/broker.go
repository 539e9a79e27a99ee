// Package sse implements a Server-Sent Events broker for note and
// notification updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/starford/sangmemo/internal/models"
	"github.com/starford/sangmemo/internal/noteservice"
)

// Event types pushed to clients.
const (
	EventNoteCreated          = "note.created"
	EventNoteUpdated          = "note.updated"
	EventNoteDeleted          = "note.deleted"
	EventNotesReloaded        = "notes.reloaded"
	EventNotificationsUpdated = "notifications.updated"
	EventNotificationPopup    = "notification.popup"
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// NotificationSummary is the payload of notifications.updated.
type NotificationSummary struct {
	Unread int `json:"unread"`
	Total  int `json:"total"`
}

// Broker manages SSE client connections and broadcasts events.
//
// Concurrency model: a single internal event loop (goroutine) owns mutable state
// (clients and the pending notification summary). Public methods communicate
// with this loop through channels, so no mutexes are required.
type Broker struct {
	throttle time.Duration

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	summaryCh     chan NotificationSummary
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that sends at most one notifications.updated
// event per throttle window.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		throttle:      throttle,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		summaryCh:     make(chan NotificationSummary, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var (
		lastSummary time.Time
		pending     *NotificationSummary
		flushTimer  *time.Timer
		flushC      <-chan time.Time
	)

	broadcast := func(event Event) {
		payload, err := json.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
	}

	sendSummary := func(s NotificationSummary) {
		lastSummary = time.Now()
		broadcast(Event{Type: EventNotificationsUpdated, Data: s})
	}

	for {
		select {
		case <-b.stopCh:
			if flushTimer != nil {
				flushTimer.Stop()
			}
			for ch := range clients {
				close(ch)
			}
			return

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case s := <-b.summaryCh:
			if wait := b.throttle - time.Since(lastSummary); wait > 0 {
				pending = &s
				if flushC == nil {
					flushTimer = time.NewTimer(wait)
					flushC = flushTimer.C
				}
				continue
			}
			sendSummary(s)

		case <-flushC:
			flushC = nil
			flushTimer = nil
			if pending != nil {
				sendSummary(*pending)
				pending = nil
			}

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

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- ch:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
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

// PublishNoteEvent maps a collection change to its event. Locked notes are
// sent redacted; deletions carry only the id.
func (b *Broker) PublishNoteEvent(kind noteservice.ChangeKind, n models.Note) {
	if n.IsLocked {
		n = n.Redacted()
	}
	switch kind {
	case noteservice.ChangeCreated:
		b.Publish(Event{Type: EventNoteCreated, Data: n})
	case noteservice.ChangeUpdated:
		b.Publish(Event{Type: EventNoteUpdated, Data: n})
	case noteservice.ChangeDeleted:
		b.Publish(Event{Type: EventNoteDeleted, Data: map[string]string{"id": n.ID}})
	case noteservice.ChangeReloaded:
		b.Publish(Event{Type: EventNotesReloaded, Data: map[string]string{}})
	}
}

// PublishNotifications reports a changed notification list. Bursts are
// coalesced so clients see the latest summary at most once per throttle
// window. It has the shape of a notify listener.
func (b *Broker) PublishNotifications(items []models.NotificationItem) {
	if b.closed.Load() {
		return
	}
	s := NotificationSummary{Total: len(items)}
	for _, it := range items {
		if !it.IsRead {
			s.Unread++
		}
	}
	select {
	case b.summaryCh <- s:
	case <-b.stopped:
	}
}

// Popup broadcasts a freshly issued notification. It satisfies notify.Popper.
func (b *Broker) Popup(item models.NotificationItem) {
	b.Publish(Event{Type: EventNotificationPopup, Data: item})
}

// ServeHTTP is the SSE endpoint handler (GET /api/events).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
