package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// WSBus is a Bus backed by a websocket connection to the relay server. The
// relay fans each published frame out to every other session attached to the
// same composition.
type WSBus struct {
	conn *websocket.Conn
	log  *slog.Logger

	mu     sync.Mutex
	nextID int
	subs   map[string]map[int]Handler
	closed bool

	send chan Frame
	done chan struct{}
}

// Dial connects to the relay at wsURL (e.g.
// "ws://localhost:8080/ws/compositions/<id>") and starts the read and write
// pumps.
func Dial(ctx context.Context, wsURL string, log *slog.Logger) (*WSBus, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	b := &WSBus{
		conn: conn,
		log:  log,
		subs: make(map[string]map[int]Handler),
		send: make(chan Frame, 64),
		done: make(chan struct{}),
	}
	go b.readPump()
	go b.writePump()
	return b, nil
}

// Publish implements Bus.Publish. Delivery is fire-and-forget: the frame is
// queued for the write pump and any network failure only closes the bus.
func (b *WSBus) Publish(topic string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	select {
	case b.send <- Frame{Topic: topic, Value: raw}:
		return nil
	case <-b.done:
		return websocket.ErrCloseSent
	}
}

// Subscribe implements Bus.Subscribe.
func (b *WSBus) Subscribe(topic string, h Handler) func() {
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
func (b *WSBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.mu.Unlock()

	return b.conn.Close()
}

func (b *WSBus) readPump() {
	defer b.Close()
	for {
		_, msg, err := b.conn.ReadMessage()
		if err != nil {
			select {
			case <-b.done:
			default:
				b.log.Debug("bus connection closed", slog.String("error", err.Error()))
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			b.log.Warn("discarding malformed broadcast", slog.String("error", err.Error()))
			continue
		}
		b.dispatch(f.Topic, f.Value)
	}
}

func (b *WSBus) writePump() {
	for {
		select {
		case f := <-b.send:
			data, err := json.Marshal(f)
			if err != nil {
				continue
			}
			if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				b.Close()
				return
			}
		case <-b.done:
			return
		}
	}
}

func (b *WSBus) dispatch(topic string, raw json.RawMessage) {
	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subs[topic]))
	for _, h := range b.subs[topic] {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
}
