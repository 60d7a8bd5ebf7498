package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// subscriberQueueSize bounds how far a subscriber may fall behind before
// it is dropped.
const subscriberQueueSize = 16

// Hub fans deploy events out to all connected subscribers. There is one
// global stream; every subscriber sees every event. Each subscriber gets
// its own buffered queue and writer goroutine, so a stalled connection
// never blocks the dispatch loop or the broadcasting caller: once its
// queue fills up the subscriber is dropped and closed.
type Hub struct {
	clients   map[Subscriber]chan []byte
	register  chan Subscriber
	unreg     chan Subscriber
	broadcast chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

// NewHub creates an initialized Hub and starts its dispatch loop.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[Subscriber]chan []byte),
		register:  make(chan Subscriber),
		unreg:     make(chan Subscriber),
		broadcast: make(chan []byte),
		done:      make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case client := <-h.register:
			queue := make(chan []byte, subscriberQueueSize)
			h.clients[client] = queue
			go h.writePump(client, queue)
		case client := <-h.unreg:
			h.drop(client, false)
		case payload := <-h.broadcast:
			for client, queue := range h.clients {
				select {
				case queue <- payload:
				default:
					// Queue full: the subscriber stopped draining.
					// Closing it unsticks a writer wedged in Send.
					h.drop(client, true)
				}
			}
		case <-h.done:
			for client := range h.clients {
				h.drop(client, true)
			}
			return
		}
	}
}

// drop removes a client and closes its queue, ending the write pump once
// it has drained. forceClose additionally closes the client right away to
// interrupt a blocked write.
func (h *Hub) drop(client Subscriber, forceClose bool) {
	queue, ok := h.clients[client]
	if !ok {
		return
	}
	delete(h.clients, client)
	close(queue)
	if forceClose {
		client.Close()
	}
}

// writePump delivers queued payloads to one subscriber. A send failure
// unregisters the client; the pump owns the final Close.
func (h *Hub) writePump(client Subscriber, queue chan []byte) {
	for payload := range queue {
		if err := client.Send(payload); err != nil {
			h.Unregister(client)
			break
		}
	}
	client.Close()
}

// Register adds a client to the stream.
func (h *Hub) Register(client Subscriber) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(client Subscriber) {
	select {
	case h.unreg <- client:
	case <-h.done:
	}
}

// Broadcast sends payload to every connected client. It never blocks on
// subscriber writes.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	case <-h.done:
	}
}

// Close stops the dispatch loop and disconnects every subscriber.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}
