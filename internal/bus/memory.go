package bus

import (
	"encoding/json"
	"sync"
)

// Channel is an in-process broadcast channel. Each window attaches once and
// gets a MemoryBus handle; a publish on one handle is delivered synchronously
// to the subscribers of every other handle. Used by tests and by sessions
// hosted in the same process.
type Channel struct {
	mu      sync.Mutex
	members map[*MemoryBus]struct{}
}

// NewChannel returns an empty channel.
func NewChannel() *Channel {
	return &Channel{members: make(map[*MemoryBus]struct{})}
}

// Attach adds a new member and returns its bus handle.
func (c *Channel) Attach() *MemoryBus {
	b := &MemoryBus{
		channel: c,
		subs:    make(map[string]map[int]Handler),
	}
	c.mu.Lock()
	c.members[b] = struct{}{}
	c.mu.Unlock()
	return b
}

func (c *Channel) detach(b *MemoryBus) {
	c.mu.Lock()
	delete(c.members, b)
	c.mu.Unlock()
}

// broadcast delivers raw to every member except from.
func (c *Channel) broadcast(from *MemoryBus, topic string, raw json.RawMessage) {
	c.mu.Lock()
	members := make([]*MemoryBus, 0, len(c.members))
	for m := range c.members {
		if m != from {
			members = append(members, m)
		}
	}
	c.mu.Unlock()

	for _, m := range members {
		m.dispatch(topic, raw)
	}
}

// MemoryBus is one member's handle on a Channel.
type MemoryBus struct {
	channel *Channel
	mu      sync.Mutex
	nextID  int
	subs    map[string]map[int]Handler
	closed  bool
}

// Publish implements Bus.Publish.
func (b *MemoryBus) Publish(topic string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	b.channel.broadcast(b, topic, raw)
	return nil
}

// Subscribe implements Bus.Subscribe.
func (b *MemoryBus) Subscribe(topic string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subs[topic][id] = h

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[topic], id)
	}
}

// Close implements Bus.Close.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.subs = make(map[string]map[int]Handler)
	b.mu.Unlock()

	b.channel.detach(b)
	return nil
}

// dispatch invokes the handlers subscribed to topic. Handlers are collected
// under the lock but invoked outside it, so a handler may publish without
// deadlocking.
func (b *MemoryBus) dispatch(topic string, raw json.RawMessage) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}
