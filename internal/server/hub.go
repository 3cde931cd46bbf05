// Package server coordinates connection lifecycle and room-scoped message
// fan-out for the chat relay via the Hub type.
package server

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

// Hub owns the set of live connections and the membership registry, and
// delivers join/chat/disconnect events. Join and chat are handled
// synchronously on the originating connection's read pump; disconnects
// arrive through the unregister channel exactly once per connection.
type Hub struct {
	clients    map[*Client]bool
	registry   *Registry
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub with an empty connection set and registry.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		registry:   NewRegistry(),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Registry exposes the hub's membership registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// GetRegisterChan returns the channel used for registering new connections.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering connections.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's lifecycle loop, handling connection registration,
// disconnects, and shutdown. It should be called in its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Client connected from %s. Total connections: %d", client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.mutex.Lock()
			if _, ok := h.clients[client]; !ok {
				h.mutex.Unlock()
				continue
			}
			delete(h.clients, client)
			client.closed = true
			clientCount := len(h.clients)
			h.mutex.Unlock()

			// Close the channel after releasing the lock.
			close(client.send)
			log.Printf("Client disconnected from %s. Total connections: %d", client.addr, clientCount)

			h.handleDisconnect(client)
		}
	}
}

// handleJoin records the membership (replacing any previous one for this
// connection), then announces the new occupancy and arrival to the room and
// privately acknowledges the joiner. Ordering matters: roomInfo first, then
// the system message, then the notification.
func (h *Hub) handleJoin(c *Client, payload JoinPayload) {
	member := h.registry.Upsert(c, payload.Username, payload.RoomCode)
	log.Printf("Client %s joined room %q as %q (%s)", c.addr, member.RoomCode, member.DisplayName, member.ID)

	h.broadcastRoomInfo(member.RoomCode)
	h.broadcastToRoom(member.RoomCode, TypeMessage, NewSystemMessage(member.DisplayName+" joined the room"))
	h.sendTo(c, TypeNotification, Notification{Message: "A user has joined the room"})
}

// handleChat relays a chat message to the sender's room. A chat from a
// connection with no membership, or with a whitespace-only body, is dropped
// silently. The body is relayed untrimmed.
func (h *Hub) handleChat(c *Client, payload ChatPayload) {
	member, ok := h.registry.Find(c)
	if !ok {
		log.Printf("Dropping chat from %s: connection has not joined a room", c.addr)
		return
	}
	if strings.TrimSpace(payload.Message) == "" {
		return
	}

	h.broadcastToRoom(member.RoomCode, TypeMessage, NewChatMessage(member.DisplayName, payload.Message))
}

// handleDisconnect removes the membership, if any, and announces the
// departure and new occupancy to the room left behind. A disconnect for a
// connection that never joined is a no-op.
func (h *Hub) handleDisconnect(c *Client) {
	member, ok := h.registry.Remove(c)
	if !ok {
		return
	}
	log.Printf("Member %q (%s) left room %q", member.DisplayName, member.ID, member.RoomCode)

	h.broadcastToRoom(member.RoomCode, TypeMessage, NewSystemMessage(member.DisplayName+" left the room"))
	h.broadcastRoomInfo(member.RoomCode)
}

// broadcastToRoom delivers one envelope to every member of a room,
// best-effort. Membership is resolved at call time; an unsendable member is
// skipped and stays registered — removal happens only on its own
// disconnect, which may race benignly with an in-flight broadcast.
func (h *Hub) broadcastToRoom(roomCode, envelopeType string, payload any) {
	frame, err := encodeEnvelope(envelopeType, payload)
	if err != nil {
		log.Printf("Error encoding %s envelope for room %q: %v", envelopeType, roomCode, err)
		return
	}

	for _, member := range h.registry.MembersOf(roomCode) {
		if !h.safeSend(member.client, frame) {
			log.Printf("Skipping unsendable member %s in room %q", member.ID, roomCode)
		}
	}
}

// broadcastRoomInfo pushes the current occupancy of a room to its members.
// Invoked after every join and leave, never on chat.
func (h *Hub) broadcastRoomInfo(roomCode string) {
	h.broadcastToRoom(roomCode, TypeRoomInfo, RoomInfo{
		RoomCode:  roomCode,
		UserCount: h.registry.CountOf(roomCode),
	})
}

// sendTo delivers one envelope to a single client, best-effort.
func (h *Hub) sendTo(c *Client, envelopeType string, payload any) {
	frame, err := encodeEnvelope(envelopeType, payload)
	if err != nil {
		log.Printf("Error encoding %s envelope for %s: %v", envelopeType, c.addr, err)
		return
	}
	h.safeSend(c, frame)
}

// safeSend queues a frame for one client if it is still registered and
// sendable. The lock is held across the send attempt so the channel cannot
// be closed underneath it; a full buffer counts as unsendable.
func (h *Hub) safeSend(client *Client, frame []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- frame:
		return true
	default:
		return false
	}
}

// shutdownClients closes every live connection so the pump goroutines wind down.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				log.Printf("Error closing client connection from %s: %v", client.addr, err)
			}
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown stops the hub and waits for all client goroutines to finish, or
// until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}

var hub = NewHub()

// isExpectedCloseError reports whether an error is routine noise from a
// connection being torn down.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
