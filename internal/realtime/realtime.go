// Package realtime implements the room/namespace-scoped broadcaster behind
// the /metrics, /events and /logs channels of spec.md section 6.2. It is
// transport-agnostic: callers join a namespace/room pair and get back a
// channel of already-JSON-encoded payloads to forward over whatever framing
// the HTTP layer chooses (chunked SSE, a raw line protocol, …) — the wire
// framing itself is out of scope per spec.md section 1.
//
// The broadcaster is the teacher's LogStreamer/RingBuffer pattern
// generalized from "log clients in one implicit room" to "named rooms
// within a named namespace", since no websocket/socket.io library appears
// anywhere in the retrieval pack to ground a swap-in.
package realtime

import "sync"

// RingBuffer is a fixed-size circular history, oldest-first on read.
type RingBuffer[T any] struct {
	items []T
	head  int
	count int
}

// NewRingBuffer constructs a ring buffer holding at most size items. size<=0
// disables history entirely.
func NewRingBuffer[T any](size int) *RingBuffer[T] {
	if size < 0 {
		size = 0
	}
	return &RingBuffer[T]{items: make([]T, size)}
}

// Push records an item, overwriting the oldest once full.
func (rb *RingBuffer[T]) Push(item T) {
	if len(rb.items) == 0 {
		return
	}
	rb.items[rb.head] = item
	rb.head = (rb.head + 1) % len(rb.items)
	if rb.count < len(rb.items) {
		rb.count++
	}
}

// Items returns every buffered item, oldest first.
func (rb *RingBuffer[T]) Items() []T {
	if rb.count == 0 {
		return nil
	}
	out := make([]T, rb.count)
	if rb.count < len(rb.items) {
		copy(out, rb.items[:rb.count])
		return out
	}
	copy(out, rb.items[rb.head:])
	copy(out[len(rb.items)-rb.head:], rb.items[:rb.head])
	return out
}

// room holds the subscribers and replay history for one room within a
// namespace.
type room struct {
	clients map[uint64]chan []byte
	history *RingBuffer[[]byte]
}

// Namespace is one of /metrics, /events or /logs: a set of independently
// addressed rooms (gateway name for /metrics, "" for the single global room
// /events and /logs use).
type Namespace struct {
	mu          sync.RWMutex
	rooms       map[string]*room
	historySize int
	bufferSize  int
	nextID      uint64
}

func newNamespace(historySize int) *Namespace {
	return &Namespace{
		rooms:       make(map[string]*room),
		historySize: historySize,
		bufferSize:  64,
	}
}

func (ns *Namespace) roomFor(name string) *room {
	r, ok := ns.rooms[name]
	if !ok {
		r = &room{
			clients: make(map[uint64]chan []byte),
			history: NewRingBuffer[[]byte](ns.historySize),
		}
		ns.rooms[name] = r
	}
	return r
}

// Join subscribes to one room, optionally replaying its buffered history
// before any live traffic. Call the returned leave func when the client
// disconnects.
func (ns *Namespace) Join(roomName string, replay bool) (ch <-chan []byte, leave func()) {
	ns.mu.Lock()
	r := ns.roomFor(roomName)
	id := ns.nextID
	ns.nextID++

	out := make(chan []byte, ns.bufferSize)
	r.clients[id] = out

	if replay {
		for _, item := range r.history.Items() {
			select {
			case out <- item:
			default:
			}
		}
	}
	ns.mu.Unlock()

	return out, func() {
		ns.mu.Lock()
		defer ns.mu.Unlock()
		if r, ok := ns.rooms[roomName]; ok {
			if c, ok := r.clients[id]; ok {
				close(c)
				delete(r.clients, id)
			}
		}
	}
}

// Publish broadcasts payload to every client currently joined to roomName,
// and records it in that room's replay history. A slow client that isn't
// keeping up silently misses the broadcast rather than blocking dispatch.
func (ns *Namespace) Publish(roomName string, payload []byte) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	r := ns.roomFor(roomName)
	r.history.Push(payload)
	for _, c := range r.clients {
		select {
		case c <- payload:
		default:
		}
	}
}

// ClientCount reports how many clients are joined to roomName, for
// diagnostics.
func (ns *Namespace) ClientCount(roomName string) int {
	ns.mu.RLock()
	defer ns.mu.RUnlock()
	r, ok := ns.rooms[roomName]
	if !ok {
		return 0
	}
	return len(r.clients)
}

// Hub owns the three named namespaces of spec.md section 6.2.
type Hub struct {
	Metrics *Namespace
	Events  *Namespace
	Logs    *Namespace
}

// NewHub constructs the hub. logHistory bounds how many recent /logs
// records a newly-joined client replays.
func NewHub(logHistory int) *Hub {
	return &Hub{
		Metrics: newNamespace(0),
		Events:  newNamespace(0),
		Logs:    newNamespace(logHistory),
	}
}

// GlobalRoom is the room name /events and /logs clients join — those
// namespaces have no gateway-scoped rooms.
const GlobalRoom = ""
