// Package sse implements the Server-Sent Events stream shared by list views
// and the desktop frontend that hosts note windows.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Event names emitted by the broker itself.
const (
	// RefreshEvent is sent, throttled, after any change so menus and lists
	// can re-read their state.
	RefreshEvent = "state.refresh"
	// HelloEvent opens every stream. Its data tells a reconnecting client
	// whether it missed frames and must resync.
	HelloEvent = "stream.hello"
)

const (
	defaultRefresh   = 2 * time.Second
	defaultHeartbeat = 15 * time.Second
	clientBuffer     = 64
	retryMillis      = 3000
)

// Event represents an SSE event to broadcast.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hello is the payload of HelloEvent.
type Hello struct {
	Seq     uint64 `json:"seq"`
	Clients int    `json:"clients"`
	Resync  bool   `json:"resync"`
}

type notifyReq struct {
	topic string
	kind  string
	key   string
}

type stats struct {
	clients int
	seq     uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams receive a keep-alive comment.
// A non-positive value disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithIdleHook registers fn to run when the last client disconnects. fn
// runs on the broker loop and must not call back into the broker.
func WithIdleHook(fn func()) Option {
	return func(b *Broker) { b.onIdle = fn }
}

// Broker fans events out to SSE clients.
//
// A single loop goroutine owns the client set and the frame sequence.
// Public methods talk to it over channels.
type Broker struct {
	refresh   *rate.Sometimes
	heartbeat time.Duration
	onIdle    func()

	subscribeCh   chan chan []byte
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	notifyCh      chan notifyReq
	statsCh       chan chan stats

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker. At most one state.refresh event is emitted
// per refreshThrottle.
func NewBroker(refreshThrottle time.Duration, opts ...Option) *Broker {
	if refreshThrottle <= 0 {
		refreshThrottle = defaultRefresh
	}

	b := &Broker{
		refresh:       &rate.Sometimes{Interval: refreshThrottle},
		heartbeat:     defaultHeartbeat,
		subscribeCh:   make(chan chan []byte),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		notifyCh:      make(chan notifyReq, 256),
		statsCh:       make(chan chan stats),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.run()
	return b
}

// frame renders one SSE frame. seq zero omits the id line.
func frame(seq uint64, event Event) ([]byte, error) {
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	if seq == 0 {
		return fmt.Appendf(nil, "event: %s\ndata: %s\n\n", event.Type, payload), nil
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", seq, event.Type, payload), nil
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]struct{})
	var seq uint64

	broadcast := func(event Event) {
		raw, err := frame(seq+1, event)
		if err != nil {
			return
		}
		seq++
		for ch := range clients {
			select {
			case ch <- raw:
			default:
				// Slow client; it resyncs from the hello frame on reconnect.
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

		case ch := <-b.subscribeCh:
			clients[ch] = struct{}{}

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
				if len(clients) == 0 && b.onIdle != nil {
					b.onIdle()
				}
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.notifyCh:
			data := map[string]string{}
			if req.key != "" {
				data["id"] = req.key
			}
			broadcast(Event{Type: req.topic + "." + req.kind, Data: data})
			b.refresh.Do(func() {
				broadcast(Event{Type: RefreshEvent, Data: map[string]string{"topic": req.topic}})
			})

		case resp := <-b.statsCh:
			resp <- stats{clients: len(clients), seq: seq}
		}
	}
}

// Close stops the loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a new client and returns its channel.
func (b *Broker) Subscribe() chan []byte {
	ch := make(chan []byte, clientBuffer)
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

func (b *Broker) stats() stats {
	if b.closed.Load() {
		return stats{}
	}

	resp := make(chan stats, 1)
	select {
	case b.statsCh <- resp:
	case <-b.stopped:
		return stats{}
	}

	select {
	case s := <-resp:
		return s
	case <-b.stopped:
		return stats{}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	return b.stats().clients
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

// Notify publishes "<topic>.<kind>" carrying key as the id, followed by a
// throttled state.refresh.
func (b *Broker) Notify(topic, kind, key string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.notifyCh <- notifyReq{topic: topic, kind: kind, key: key}:
	case <-b.stopped:
	}
}

// hello builds the opening frame for a client that last saw lastID.
func hello(s stats, lastID string) Hello {
	h := Hello{Seq: s.seq, Clients: s.clients}
	if lastID == "" {
		return h
	}
	seen, err := strconv.ParseUint(lastID, 10, 64)
	h.Resync = err != nil || seen != s.seq
	return h
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

	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// The client count includes this stream.
	raw, _ := frame(0, Event{Type: HelloEvent, Data: hello(b.stats(), r.Header.Get("Last-Event-ID"))})
	_, _ = fmt.Fprintf(w, "retry: %d\n", retryMillis)
	_, _ = w.Write(raw)
	flusher.Flush()

	var tick <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		tick = t.C
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
