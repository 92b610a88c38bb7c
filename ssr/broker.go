// Package ssr implements the demo fixture server's push-to-client
// half of the socket/poll demo: a server-sent events broker that
// mirrors engine signal-bus activity out to connected browsers. It is
// adapted from a Buffalo-context SSE broker into a plain net/http
// handler — the fixture server carries no web framework — and wired
// directly to a signalbus.Bus so a binding's publish becomes an SSE
// event without a separate broadcast call at every call site.
package ssr

import (
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/monstercameron/htmlex-go/signalbus"
)

// Event is one server-sent event: Name becomes the SSE "event:" field,
// Data the "data:" field.
type Event struct {
	Name string
	Data []byte
}

type client struct {
	id     string
	events chan Event
}

// Broker fans published events out to every connected SSE client. One
// goroutine owns the clients map; all mutation happens through its
// channels, so no lock guards the map itself.
type Broker struct {
	broadcast  chan Event
	register   chan *client
	unregister chan *client
	clients    map[string]*client

	heartbeatInterval time.Duration
	shutdown          chan struct{}

	idMu  sync.Mutex
	idSeq uint64
}

// NewBroker creates a Broker and starts its event loop and heartbeat
// ticker immediately.
func NewBroker() *Broker {
	b := &Broker{
		broadcast:         make(chan Event, 100),
		register:          make(chan *client),
		unregister:        make(chan *client),
		clients:           make(map[string]*client),
		heartbeatInterval: 25 * time.Second,
		shutdown:          make(chan struct{}),
	}
	go b.run()
	go b.heartbeat()
	return b
}

func (b *Broker) run() {
	for {
		select {
		case <-b.shutdown:
			for _, c := range b.clients {
				close(c.events)
			}
			return
		case c := <-b.register:
			b.clients[c.id] = c
		case c := <-b.unregister:
			if _, ok := b.clients[c.id]; ok {
				delete(b.clients, c.id)
				close(c.events)
			}
		case event := <-b.broadcast:
			for _, c := range b.clients {
				select {
				case c.events <- event:
				default:
					log.Printf("ssr: dropping event %q for slow client %s", event.Name, c.id)
				}
			}
		}
	}
}

func (b *Broker) heartbeat() {
	t := time.NewTicker(b.heartbeatInterval)
	defer t.Stop()
	for {
		select {
		case <-b.shutdown:
			return
		case now := <-t.C:
			b.Broadcast("heartbeat", []byte(now.UTC().Format(time.RFC3339)))
		}
	}
}

// Shutdown stops the broker's goroutines and closes every client channel.
func (b *Broker) Shutdown() {
	close(b.shutdown)
}

// Broadcast queues an event for every connected client. Non-blocking:
// a full buffer drops the event rather than stalling the caller.
func (b *Broker) Broadcast(name string, data []byte) {
	select {
	case b.broadcast <- Event{Name: name, Data: data}:
	default:
		log.Printf("ssr: broadcast channel full, dropping event %q", name)
	}
}

// AttachToBus subscribes to each named topic on bus and rebroadcasts
// every publish as an SSE event of the same name, giving an operator
// watching /events live visibility into the engine's signal traffic
// without the publishing binding knowing the broker exists.
func (b *Broker) AttachToBus(bus *signalbus.Bus, names ...string) {
	for _, name := range names {
		topic := name
		bus.Subscribe(topic, func(payload interface{}) {
			b.Broadcast(topic, []byte(fmt.Sprintf("%v", payload)))
		})
	}
}

// ServeHTTP handles one SSE connection for its lifetime.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")

	c := &client{id: b.nextID(), events: make(chan Event, 10)}
	b.register <- c
	defer func() { b.unregister <- c }()

	fmt.Fprintf(w, "event: connected\ndata: {\"id\":%q}\n\n", c.id)
	flusher.Flush()

	notify := r.Context().Done()
	for {
		select {
		case event, ok := <-c.events:
			if !ok {
				return
			}
			if event.Name != "" {
				fmt.Fprintf(w, "event: %s\n", event.Name)
			}
			fmt.Fprintf(w, "data: %s\n\n", event.Data)
			flusher.Flush()
		case <-notify:
			return
		}
	}
}

func (b *Broker) nextID() string {
	b.idMu.Lock()
	defer b.idMu.Unlock()
	b.idSeq++
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), b.idSeq)
}
