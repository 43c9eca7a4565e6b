// Package ws fans dashboard update payloads out to connected clients. Streams
// are keyed by Azure DevOps project so a browser only receives deltas for the
// board it is watching.
package ws

import "sync"

// Subscriber abstracts a streaming client.
type Subscriber interface {
	Send([]byte) error
	Close()
}

// Hub manages update subscriptions by project.
type Hub struct {
	mu        sync.RWMutex
	clients   map[string]map[Subscriber]struct{}
	counts    map[string]int
	register  chan subscription
	unreg     chan subscription
	broadcast chan message
	stopCh    chan struct{}
	once      sync.Once
}

// message couples payload with project identifier.
type message struct {
	project string
	payload []byte
}

// subscription defines register/unregister requests.
type subscription struct {
	project string
	client  Subscriber
}

// NewHub creates an initialized Hub.
func NewHub() *Hub {
	h := &Hub{
		clients:   make(map[string]map[Subscriber]struct{}),
		counts:    make(map[string]int),
		register:  make(chan subscription),
		unreg:     make(chan subscription),
		broadcast: make(chan message),
		stopCh:    make(chan struct{}),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case sub := <-h.register:
			h.mu.Lock()
			if _, ok := h.clients[sub.project]; !ok {
				h.clients[sub.project] = make(map[Subscriber]struct{})
			}
			h.clients[sub.project][sub.client] = struct{}{}
			h.counts[sub.project] = len(h.clients[sub.project])
			h.mu.Unlock()
		case sub := <-h.unreg:
			h.mu.Lock()
			if clients, ok := h.clients[sub.project]; ok {
				delete(clients, sub.client)
				if len(clients) == 0 {
					delete(h.clients, sub.project)
					delete(h.counts, sub.project)
				} else {
					h.counts[sub.project] = len(clients)
				}
			}
			h.mu.Unlock()
		case msg := <-h.broadcast:
			h.mu.Lock()
			if clients, ok := h.clients[msg.project]; ok {
				for c := range clients {
					if err := c.Send(msg.payload); err != nil {
						c.Close()
						delete(clients, c)
					}
				}
				if len(clients) == 0 {
					delete(h.clients, msg.project)
					delete(h.counts, msg.project)
				} else {
					h.counts[msg.project] = len(clients)
				}
			}
			h.mu.Unlock()
		case <-h.stopCh:
			h.closeAll()
			return
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for project, clients := range h.clients {
		for c := range clients {
			c.Close()
		}
		delete(h.clients, project)
		delete(h.counts, project)
	}
}

// Register adds a client to a project stream.
func (h *Hub) Register(project string, client Subscriber) {
	select {
	case h.register <- subscription{project: project, client: client}:
	case <-h.stopCh:
	}
}

// Unregister removes a client.
func (h *Hub) Unregister(project string, client Subscriber) {
	select {
	case h.unreg <- subscription{project: project, client: client}:
	case <-h.stopCh:
	}
}

// Broadcast sends payload to all clients subscribed to the project.
func (h *Hub) Broadcast(project string, payload []byte) {
	select {
	case h.broadcast <- message{project: project, payload: payload}:
	case <-h.stopCh:
	}
}

// SubscriberCount reports connected clients for a project.
func (h *Hub) SubscriberCount(project string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.counts[project]
}

// Close shuts the hub down and disconnects every subscriber.
func (h *Hub) Close() {
	h.once.Do(func() {
		close(h.stopCh)
	})
}
