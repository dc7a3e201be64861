// Package bus implements agenthub's fan-out broadcast layer: a per-session
// bounded channel for output mirroring and a single global channel for
// session lifecycle/list-mutation events. Both are best-effort and drop the
// oldest undelivered item when a subscriber falls behind, so a slow or
// disconnected consumer can never back-pressure a producer.
package bus

import (
	"log/slog"
	"sync"
)

const (
	// SessionCapacity is the per-session broadcast channel's ring buffer size.
	SessionCapacity = 256
	// StatusCapacity is the global status channel's ring buffer size.
	StatusCapacity = 64
)

// Item is one unit of fan-out traffic. Kind distinguishes PTY byte chunks
// from JSON-mode parsed-message events and other payload shapes; Payload is
// left as `any` because bus is transport-and-shape agnostic — the HTTP/WS
// layer decides how to frame it.
type Item struct {
	Kind    string
	Payload any
}

// subscriber is a single consumer's mailbox. ch is buffered to Capacity;
// Send drops the oldest queued item rather than blocking when full.
type subscriber struct {
	id int64
	ch chan Item
}

// Channel is a bounded multi-producer/multi-consumer broadcast channel with
// drop-oldest overflow semantics.
type Channel struct {
	mu       sync.Mutex
	subs     map[int64]*subscriber
	nextID   int64
	capacity int
	name     string
}

func newChannel(name string, capacity int) *Channel {
	return &Channel{
		subs:     make(map[int64]*subscriber),
		capacity: capacity,
		name:     name,
	}
}

// Subscription is a live handle returned by Subscribe. Receive() yields
// items forwarded from the moment Subscribe was called onward; there is no
// replay of items sent before subscription.
type Subscription struct {
	ch        *Channel
	sub       *subscriber
	closeOnce sync.Once
}

// Subscribe registers a new consumer and returns a handle to read from.
func (c *Channel) Subscribe() *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	sub := &subscriber{id: c.nextID, ch: make(chan Item, c.capacity)}
	c.subs[sub.id] = sub
	return &Subscription{ch: c, sub: sub}
}

// Receive returns the channel to range/select over for incoming items.
func (s *Subscription) Receive() <-chan Item {
	return s.sub.ch
}

// Close unregisters the subscription. Safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.ch.mu.Lock()
		delete(s.ch.subs, s.sub.id)
		s.ch.mu.Unlock()
		close(s.sub.ch)
	})
}

// Send fans an item out to every current subscriber. Never blocks: a
// subscriber whose mailbox is full has its oldest item dropped to make room,
// per the drop-oldest overflow guarantee documented in Channel.
func (c *Channel) Send(item Item) {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.mu.Unlock()

	for _, sub := range subs {
		trySend(sub.ch, item, c.name)
	}
}

func trySend(ch chan Item, item Item, channelName string) {
	select {
	case ch <- item:
		return
	default:
	}
	// Mailbox full: drop the oldest queued item and retry once. A second
	// producer racing to drain concurrently is fine — worst case we drop one
	// extra item, which is within the best-effort contract.
	select {
	case <-ch:
		slog.Debug("[bus] dropping oldest item for lagging subscriber", "channel", channelName)
	default:
	}
	select {
	case ch <- item:
	default:
		slog.Debug("[bus] subscriber mailbox still full after drop, discarding item", "channel", channelName)
	}
}

// SubscriberCount reports the number of currently registered subscribers.
// Used by tests and diagnostics only.
func (c *Channel) SubscriberCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

// Bus owns every session's broadcast channel plus the single global status
// channel. Channels are created lazily on first subscribe/send and removed
// explicitly by the supervisor cleanup path (see registry.Registry.Remove).
type Bus struct {
	mu       sync.Mutex
	sessions map[string]*Channel
	status   *Channel
}

// New constructs an empty Bus with its global status channel ready.
func New() *Bus {
	return &Bus{
		sessions: make(map[string]*Channel),
		status:   newChannel("status", StatusCapacity),
	}
}

// Status returns the single global status channel.
func (b *Bus) Status() *Channel {
	return b.status
}

// Session returns the named session's broadcast channel, creating it if it
// does not yet exist. Installation must happen strictly before the first
// producer send, per the session-registry invariant that the live table and
// broadcast table share a key set at all times.
func (b *Bus) Session(id string) *Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, ok := b.sessions[id]
	if !ok {
		ch = newChannel(id, SessionCapacity)
		b.sessions[id] = ch
	}
	return ch
}

// RemoveSession drops a session's broadcast channel. Any still-subscribed
// consumers keep their existing Subscription valid (Close still works) but
// will receive nothing further once RemoveSession has been called for a
// fresh Session() lookup — existing subscribers are not force-closed here;
// the caller (supervisor cleanup) is expected to have already broadcast the
// terminal status event before calling this.
func (b *Bus) RemoveSession(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.sessions, id)
}

// HasSession reports whether a broadcast channel is currently installed for
// id. Used by the registry invariant check in tests.
func (b *Bus) HasSession(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.sessions[id]
	return ok
}
