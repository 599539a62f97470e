// Package realtime maps each blood request to a broadcast room and fans
// events out to the connections subscribed there. Rooms are ephemeral:
// created on first join, dropped with the last leave, rebuildable from
// the request id alone.
package realtime

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"lifeline.org/internal/donation"
	"lifeline.org/internal/ids"
	"lifeline.org/internal/obs"
)

// DefaultTypingTTL is how long a typing indicator lives without renewal.
const DefaultTypingTTL = time.Second

const connBuffer = 32

// Coordinator owns the room registry and the connection set.
type Coordinator struct {
	mu       sync.RWMutex
	rooms    map[string]*room
	conns    map[string]*Conn
	messages donation.MessageStore

	typingTTL time.Duration
	now       func() time.Time
}

// Option configures Coordinator.
type Option func(*Coordinator)

// WithTypingTTL overrides the typing auto-expiry window.
func WithTypingTTL(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.typingTTL = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCoordinator creates an empty coordinator over the message store.
func NewCoordinator(messages donation.MessageStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		rooms:     make(map[string]*room),
		conns:     make(map[string]*Conn),
		messages:  messages,
		typingTTL: DefaultTypingTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// room guards its own subscriber set; the coordinator map lock is only
// taken to find or create the room, so fan-out in one room never blocks
// another.
type room struct {
	mu     sync.Mutex
	id     string
	subs   map[string]*Conn       // conn ID -> conn
	typing map[string]*time.Timer // user ID -> expiry timer
	dead   bool                   // set when garbage-collected; joiners retry
}

// Conn is one logical client connection. The transport (websocket, SSE,
// an in-process test double) drains Events and calls Close on disconnect.
type Conn struct {
	ID      string
	UserID  string
	IsDonor bool

	coord  *Coordinator
	ch     chan Event
	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// Connect registers a client connection for the given user.
func (c *Coordinator) Connect(userID string, isDonor bool) *Conn {
	conn := &Conn{
		ID:      uuid.NewString(),
		UserID:  userID,
		IsDonor: isDonor,
		coord:   c,
		ch:      make(chan Event, connBuffer),
		rooms:   make(map[string]struct{}),
	}
	c.mu.Lock()
	c.conns[conn.ID] = conn
	c.mu.Unlock()
	obs.ConnOpened()
	return conn
}

// Events is the channel the transport drains. Closed by Close.
func (conn *Conn) Events() <-chan Event { return conn.ch }

// Close implicitly leaves every joined room, updates presence and
// unregisters the connection. Safe to call more than once.
func (conn *Conn) Close() {
	conn.mu.Lock()
	if conn.closed {
		conn.mu.Unlock()
		return
	}
	conn.closed = true
	joined := make([]string, 0, len(conn.rooms))
	for id := range conn.rooms {
		joined = append(joined, id)
	}
	conn.rooms = map[string]struct{}{}
	conn.mu.Unlock()

	for _, roomID := range joined {
		conn.coord.leave(roomID, conn)
	}

	conn.coord.mu.Lock()
	delete(conn.coord.conns, conn.ID)
	conn.coord.mu.Unlock()
	close(conn.ch)
	obs.ConnClosed()
}

// deliver pushes an event without ever blocking the room; a subscriber
// that stopped draining loses events, not the room.
// Replay pushes an event onto the connection's own channel. Transports
// use it to interleave history with live fan-out on a single stream.
func (conn *Conn) Replay(evt Event) {
	conn.deliver(evt)
}

func (conn *Conn) deliver(evt Event) {
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if conn.closed {
		return
	}
	select {
	case conn.ch <- evt:
	default:
	}
}

// Join subscribes the connection to the request's room and returns the
// durable message history, oldest first. Presence is announced to the
// whole room, the joiner included.
func (c *Coordinator) Join(ctx context.Context, roomID string, conn *Conn) ([]*donation.Message, error) {
	var history []*donation.Message
	for {
		r := c.roomFor(roomID, true)
		r.mu.Lock()
		if r.dead {
			// Lost a race with garbage collection; fetch a fresh room.
			r.mu.Unlock()
			continue
		}
		// Snapshot history under the room lock. A concurrent send appends
		// under the same lock, so every message lands either in this
		// snapshot or in live fan-out, never both and never neither.
		var err error
		history, err = c.messages.ListByRoom(ctx, roomID, time.Time{})
		if err != nil {
			empty := len(r.subs) == 0
			r.mu.Unlock()
			if empty {
				c.dropRoom(roomID)
			}
			return nil, donation.WrapRepository("list messages", err)
		}
		r.subs[conn.ID] = conn
		r.broadcastLocked(Event{Type: EventRoomUsers, RoomID: roomID, Data: r.presenceLocked()}, "")
		r.mu.Unlock()
		break
	}

	conn.mu.Lock()
	conn.rooms[roomID] = struct{}{}
	conn.mu.Unlock()

	return history, nil
}

// Leave unsubscribes the connection from the room.
func (c *Coordinator) Leave(roomID string, conn *Conn) {
	conn.mu.Lock()
	delete(conn.rooms, roomID)
	conn.mu.Unlock()
	c.leave(roomID, conn)
}

func (c *Coordinator) leave(roomID string, conn *Conn) {
	r := c.roomFor(roomID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.subs, conn.ID)
	if t, ok := r.typing[conn.UserID]; ok {
		t.Stop()
		delete(r.typing, conn.UserID)
	}
	empty := len(r.subs) == 0
	if !empty {
		r.broadcastLocked(Event{Type: EventRoomUsers, RoomID: roomID, Data: r.presenceLocked()}, "")
	}
	r.mu.Unlock()

	if empty {
		c.dropRoom(roomID)
	}
}

// SendMessage durably appends the chat line, then fans it out to every
// other subscriber of the room. A room with no current listeners is not
// an error; the message waits in history.
func (c *Coordinator) SendMessage(ctx context.Context, roomID string, sender *Conn, text string) (*donation.Message, error) {
	if text == "" {
		return nil, donation.ErrInvalidInput
	}
	msg := &donation.Message{
		ID:        ids.New(),
		RoomID:    roomID,
		SenderID:  sender.UserID,
		Text:      text,
		CreatedAt: c.now().UTC(),
	}
	for {
		r := c.roomFor(roomID, true)
		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		// Append under the room lock, mirroring Join's history snapshot.
		if err := c.messages.Append(ctx, msg); err != nil {
			empty := len(r.subs) == 0
			r.mu.Unlock()
			if empty {
				c.dropRoom(roomID)
			}
			return nil, donation.WrapRepository("append message", err)
		}
		obs.ChatMessage()
		r.broadcastLocked(Event{Type: EventReceiveMessage, RoomID: roomID, Data: msg}, sender.ID)
		empty := len(r.subs) == 0
		r.mu.Unlock()
		if empty {
			c.dropRoom(roomID)
		}
		return msg, nil
	}
}

// Typing marks the user as composing. The indicator auto-expires after
// the TTL unless renewed; an explicit isTyping=false clears it at once.
func (c *Coordinator) Typing(roomID string, conn *Conn, isTyping bool) {
	r := c.roomFor(roomID, false)
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, subscribed := r.subs[conn.ID]; !subscribed {
		return
	}

	if t, ok := r.typing[conn.UserID]; ok {
		t.Stop()
		delete(r.typing, conn.UserID)
	}
	if isTyping {
		userID := conn.UserID
		r.typing[userID] = time.AfterFunc(c.typingTTL, func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			if _, ok := r.typing[userID]; !ok {
				return
			}
			delete(r.typing, userID)
			r.broadcastLocked(Event{Type: EventUserTyping, RoomID: roomID,
				Data: TypingNotice{UserID: userID, IsTyping: false}}, "")
		})
	}
	r.broadcastLocked(Event{Type: EventUserTyping, RoomID: roomID,
		Data: TypingNotice{UserID: conn.UserID, IsTyping: isTyping}}, conn.ID)
}

// Presence lists the user IDs currently subscribed to the room.
func (c *Coordinator) Presence(roomID string) []string {
	r := c.roomFor(roomID, false)
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.presenceLocked()
}

// History returns the room's durable messages since the given time,
// oldest first.
func (c *Coordinator) History(ctx context.Context, roomID string, since time.Time) ([]*donation.Message, error) {
	msgs, err := c.messages.ListByRoom(ctx, roomID, since)
	if err != nil {
		return nil, donation.WrapRepository("list messages", err)
	}
	return msgs, nil
}

// BroadcastGlobal delivers the event to every connection, room-agnostic.
func (c *Coordinator) BroadcastGlobal(evt Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.conns {
		conn.deliver(evt)
	}
}

// AnnounceRequest tells all connected donor clients about a new request.
func (c *Coordinator) AnnounceRequest(req *donation.Request) {
	evt := Event{Type: EventNewRequest, Data: req}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.conns {
		if conn.IsDonor {
			conn.deliver(evt)
		}
	}
}

// NotifyUser delivers a direct event to every connection of one user.
// Implements the offer lifecycle's Notifier.
func (c *Coordinator) NotifyUser(userID, event string, payload any) {
	evt := Event{Type: event, Data: payload}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, conn := range c.conns {
		if conn.UserID == userID {
			conn.deliver(evt)
		}
	}
}

func (c *Coordinator) roomFor(roomID string, create bool) *room {
	c.mu.RLock()
	r, ok := c.rooms[roomID]
	c.mu.RUnlock()
	if ok || !create {
		return r
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok = c.rooms[roomID]; ok {
		return r
	}
	r = &room{
		id:     roomID,
		subs:   make(map[string]*Conn),
		typing: make(map[string]*time.Timer),
	}
	c.rooms[roomID] = r
	obs.RoomOpened()
	return r
}

func (c *Coordinator) dropRoom(roomID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.rooms[roomID]
	if !ok {
		return
	}
	r.mu.Lock()
	if len(r.subs) == 0 {
		r.dead = true
		delete(c.rooms, roomID)
		obs.RoomClosed()
	}
	r.mu.Unlock()
}

// broadcastLocked fans the event out under the room lock, so per-room
// delivery order matches publish order. excludeConnID skips the sender.
func (r *room) broadcastLocked(evt Event, excludeConnID string) {
	for id, conn := range r.subs {
		if id == excludeConnID {
			continue
		}
		conn.deliver(evt)
	}
}

func (r *room) presenceLocked() []string {
	seen := make(map[string]struct{}, len(r.subs))
	var users []string
	for _, conn := range r.subs {
		if _, ok := seen[conn.UserID]; ok {
			continue
		}
		seen[conn.UserID] = struct{}{}
		users = append(users, conn.UserID)
	}
	sort.Strings(users)
	return users
}
