// Package sse streams registry, entity and job events to browser clients as
// Server-Sent Events.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/starford/entbrowser/internal/metrics"
	"github.com/starford/entbrowser/internal/models"
)

const (
	heartbeatInterval = 25 * time.Second
	clientBuffer      = 64
	reconnectDelay    = 3 * time.Second
)

// Event is one frame on the stream. Data is sent as JSON.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// EntityEvent is the payload of entity.created, entity.updated and
// entity.deleted events.
type EntityEvent struct {
	Database string `json:"db"`
	ID       string `json:"id"`
	Type     string `json:"type"`
}

// Subscriber is one connected stream. Encoded frames arrive on C until the
// subscriber is removed or the broker is closed, then C is closed.
type Subscriber struct {
	C  <-chan []byte
	ch chan []byte
}

// hub is owned by the broker loop goroutine.
type hub struct {
	clients   map[*Subscriber]struct{}
	lastTypes map[string]time.Time
	seq       uint64
}

// Broker fans events out to subscribers. All state lives in a hub owned by a
// single goroutine; public methods hand it closures over a buffered channel.
type Broker struct {
	typesMin time.Duration
	metrics  *metrics.Metrics

	ops     chan func(*hub)
	quit    chan struct{}
	stopped chan struct{}
	once    sync.Once
}

// NewBroker starts a broker. typesThrottle bounds how often types.updated is
// emitted per database.
func NewBroker(typesThrottle time.Duration, m *metrics.Metrics) *Broker {
	if typesThrottle <= 0 {
		typesThrottle = 2 * time.Second
	}
	b := &Broker{
		typesMin: typesThrottle,
		metrics:  m,
		ops:      make(chan func(*hub), 256),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go b.loop()
	return b
}

func (b *Broker) loop() {
	defer close(b.stopped)

	h := &hub{
		clients:   make(map[*Subscriber]struct{}),
		lastTypes: make(map[string]time.Time),
	}
	for {
		select {
		case <-b.quit:
			for s := range h.clients {
				close(s.ch)
			}
			b.metrics.SetSSEClients(0)
			return
		case op := <-b.ops:
			op(h)
		}
	}
}

// do queues op on the loop. It reports false once the broker is closing.
func (b *Broker) do(op func(*hub)) bool {
	select {
	case <-b.quit:
		return false
	default:
	}
	select {
	case b.ops <- op:
		return true
	case <-b.stopped:
		return false
	}
}

// send writes one frame to every subscriber. A subscriber whose buffer is
// full misses the frame.
func (b *Broker) send(h *hub, typ string, payload []byte) {
	h.seq++
	frame := fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", h.seq, typ, payload)
	for s := range h.clients {
		select {
		case s.ch <- frame:
		default:
			b.metrics.SSEDropped()
		}
	}
}

// Close stops the loop and closes every subscriber. It is safe to call more
// than once.
func (b *Broker) Close() {
	b.once.Do(func() { close(b.quit) })
	<-b.stopped
}

// Subscribe registers a new stream. After Close it returns a subscriber
// whose channel is already closed.
func (b *Broker) Subscribe() *Subscriber {
	ch := make(chan []byte, clientBuffer)
	s := &Subscriber{C: ch, ch: ch}

	added := make(chan struct{})
	if !b.do(func(h *hub) {
		h.clients[s] = struct{}{}
		b.metrics.SetSSEClients(len(h.clients))
		close(added)
	}) {
		close(ch)
		return s
	}

	select {
	case <-added:
	case <-b.stopped:
		// The loop has exited, so whether it ran the add is settled.
		select {
		case <-added:
		default:
			close(ch)
		}
	}
	return s
}

// Unsubscribe removes s and closes its channel.
func (b *Broker) Unsubscribe(s *Subscriber) {
	b.do(func(h *hub) {
		if _, ok := h.clients[s]; !ok {
			return
		}
		delete(h.clients, s)
		close(s.ch)
		b.metrics.SetSSEClients(len(h.clients))
	})
}

// ClientCount returns the number of connected subscribers.
func (b *Broker) ClientCount() int {
	n := make(chan int, 1)
	if !b.do(func(h *hub) { n <- len(h.clients) }) {
		return 0
	}
	select {
	case c := <-n:
		return c
	case <-b.stopped:
		return 0
	}
}

// Publish broadcasts e. Events whose data cannot be encoded are dropped.
func (b *Broker) Publish(e Event) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return
	}
	b.do(func(h *hub) { b.send(h, e.Type, payload) })
}

// PublishEntityEvent broadcasts entity.<kind> for a change in database db,
// followed by types.updated unless one was sent for db within the throttle
// window.
func (b *Broker) PublishEntityEvent(db, kind, id, entityType string) {
	payload, err := json.Marshal(EntityEvent{Database: db, ID: id, Type: entityType})
	if err != nil {
		return
	}
	b.do(func(h *hub) {
		b.send(h, "entity."+kind, payload)

		now := time.Now()
		if now.Sub(h.lastTypes[db]) < b.typesMin {
			return
		}
		h.lastTypes[db] = now
		types, _ := json.Marshal(map[string]string{"db": db})
		b.send(h, "types.updated", types)
	})
}

// PublishJob broadcasts job.updated.
func (b *Broker) PublishJob(job models.Job) {
	b.Publish(Event{Type: "job.updated", Data: job})
}

// PublishDatabase broadcasts db.<kind> (opened, closed, registered, updated,
// forgotten) with the key stripped from the summary.
func (b *Broker) PublishDatabase(kind string, db models.DatabaseSummary) {
	b.Publish(Event{Type: "db." + kind, Data: db.Public()})
}

// ServeHTTP streams events to one client until it disconnects or the broker
// closes.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "retry: %d\n\n", reconnectDelay.Milliseconds())
	flusher.Flush()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(heartbeatInterval)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case frame, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(frame)
		}
		flusher.Flush()
	}
}
