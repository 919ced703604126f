package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"tracklab/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
)

// redisEnvelope wraps a frame published through redis so the originating
// instance can skip its own fanout.
type redisEnvelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

// Relay hosts one broadcast room per composition and fans every frame out to
// the other sessions in the room. With a redis client configured, frames are
// also bridged across server instances through the channel "bus:<id>".
type Relay struct {
	log        *slog.Logger
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	rdb        *redis.Client
	instanceID string

	mu       sync.Mutex
	rooms    map[string]*room
	sessions atomic.Int64
}

// NewRelay returns a Relay. metrics and rdb may be nil.
func NewRelay(log *slog.Logger, m *metrics.Metrics, rdb *redis.Client, instanceID string) *Relay {
	return &Relay{
		log:     log,
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		rdb:        rdb,
		instanceID: instanceID,
		rooms:      make(map[string]*room),
	}
}

// SessionCount returns the number of sessions currently attached. Used for
// metrics.
func (r *Relay) SessionCount() int {
	return int(r.sessions.Load())
}

// ServeComposition handles GET /ws/compositions/{composition_id}: upgrades
// the connection and joins the composition's room.
func (r *Relay) ServeComposition(w http.ResponseWriter, req *http.Request) {
	id := chi.URLParam(req, "composition_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.log.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	r.join(r.room(id), c)
	go c.writePump()
	go c.readPump()
}

// join registers c with rm. A room tears itself down when its last client
// leaves, so a room fetched moments earlier may already be stopped with
// nobody draining register; in that case join fetches a fresh room and
// retries.
func (r *Relay) join(rm *room, c *client) *room {
	for {
		c.room = rm
		select {
		case rm.register <- c:
			return rm
		case <-rm.stop:
			rm = r.room(rm.id)
		}
	}
}

// room returns the room for id, creating it (and its redis bridge) on first
// use.
func (r *Relay) room(id string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()

	if rm, ok := r.rooms[id]; ok {
		return rm
	}
	rm := &room{
		id:         id,
		relay:      r,
		clients:    make(map[*client]bool),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan inbound, 64),
		stop:       make(chan struct{}),
	}
	r.rooms[id] = rm
	go rm.run()
	if r.rdb != nil {
		go rm.bridgeRedis()
	}
	return rm
}

func (r *Relay) dropRoom(rm *room) {
	r.mu.Lock()
	if r.rooms[rm.id] == rm {
		delete(r.rooms, rm.id)
	}
	r.mu.Unlock()
	close(rm.stop)
}

// inbound is one frame entering a room, with the local sender (nil when the
// frame arrived through redis).
type inbound struct {
	from *client
	data []byte
}

type room struct {
	id         string
	relay      *Relay
	clients    map[*client]bool
	register   chan *client
	unregister chan *client
	broadcast  chan inbound
	stop       chan struct{}
}

// run owns the client set. A frame from a local client is fanned out to
// every other local client (no self-echo) and bridged to redis; a frame from
// redis goes to all local clients. The room tears itself down when the last
// client leaves.
func (rm *room) run() {
	for {
		select {
		case c := <-rm.register:
			rm.clients[c] = true
			rm.relay.sessions.Add(1)
			rm.relay.log.Debug("session joined",
				slog.String("composition_id", rm.id),
				slog.Int("room_sessions", len(rm.clients)))
		case c := <-rm.unregister:
			if _, ok := rm.clients[c]; ok {
				delete(rm.clients, c)
				close(c.send)
				rm.relay.sessions.Add(-1)
			}
			if len(rm.clients) == 0 {
				rm.relay.dropRoom(rm)
				return
			}
		case in := <-rm.broadcast:
			for c := range rm.clients {
				if c == in.from {
					continue
				}
				select {
				case c.send <- in.data:
				default:
					// Slow consumer: drop it rather than stall the room.
					delete(rm.clients, c)
					close(c.send)
					rm.relay.sessions.Add(-1)
				}
			}
			if in.from != nil && rm.relay.rdb != nil {
				env, err := json.Marshal(redisEnvelope{Origin: rm.relay.instanceID, Frame: in.data})
				if err == nil {
					if err := rm.relay.rdb.Publish(context.Background(), "bus:"+rm.id, env).Err(); err != nil {
						rm.relay.log.Warn("redis publish failed",
							slog.String("composition_id", rm.id),
							slog.String("error", err.Error()))
					}
				}
			}
		}
	}
}

// bridgeRedis forwards frames published by other instances into this room.
func (rm *room) bridgeRedis() {
	pubsub := rm.relay.rdb.Subscribe(context.Background(), "bus:"+rm.id)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env redisEnvelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				continue
			}
			if env.Origin == rm.relay.instanceID {
				continue
			}
			select {
			case rm.broadcast <- inbound{from: nil, data: env.Frame}:
			case <-rm.stop:
				return
			}
		case <-rm.stop:
			return
		}
	}
}

type client struct {
	room *room
	conn *websocket.Conn
	send chan []byte
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.room.unregister <- c:
		case <-c.room.stop:
		}
		c.conn.Close()
	}()
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil || f.Topic == "" {
			c.room.relay.log.Warn("discarding malformed broadcast",
				slog.String("composition_id", c.room.id))
			continue
		}
		if c.room.relay.metrics != nil {
			c.room.relay.metrics.IncBroadcasts()
		}
		select {
		case c.room.broadcast <- inbound{from: c, data: msg}:
		case <-c.room.stop:
			return
		}
	}
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
