package devbackend

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const writeTimeout = 5 * time.Second

// TopicFor is the fan-out topic of a tenant's config updates.
func TopicFor(clientID string) string {
	return "config_updates." + clientID
}

// wsConn is the part of *websocket.Conn the pool writes to.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// connectionPool holds the realtime connections of one tenant and the
// subscription feeding them. It is torn down when its last connection
// leaves.
type connectionPool struct {
	clientID string
	logger   zerolog.Logger
	cancel   context.CancelFunc
	done     chan struct{}

	mu       sync.Mutex
	conns    map[wsConn]struct{}
	pending  int
	closed   bool
	onChange func(delta int)
}

func (p *connectionPool) reserve() {
	p.mu.Lock()
	p.pending++
	p.mu.Unlock()
}

func (p *connectionPool) unreserve() {
	p.mu.Lock()
	p.pending--
	p.mu.Unlock()
}

func (p *connectionPool) add(c wsConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending--
	if p.closed {
		return false
	}
	p.conns[c] = struct{}{}
	if p.onChange != nil {
		p.onChange(1)
	}
	return true
}

// remove drops c and reports whether the pool is now empty.
func (p *connectionPool) remove(c wsConn) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.conns[c]; ok {
		delete(p.conns, c)
		if p.onChange != nil {
			p.onChange(-1)
		}
	}
	_ = c.Close()
	return len(p.conns) == 0
}

func (p *connectionPool) broadcast(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for c := range p.conns {
		_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
			p.logger.Warn().Err(err).Msg("realtime write failed, dropping connection")
			delete(p.conns, c)
			_ = c.Close()
			if p.onChange != nil {
				p.onChange(-1)
			}
		}
	}
}

func (p *connectionPool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)
}

// busy reports whether the pool has connections or upgrades in flight.
func (p *connectionPool) busy() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.conns)+p.pending > 0
}

func (p *connectionPool) closeAll() {
	p.mu.Lock()
	p.closed = true
	for c := range p.conns {
		_ = c.Close()
		delete(p.conns, c)
		if p.onChange != nil {
			p.onChange(-1)
		}
	}
	p.mu.Unlock()
	p.cancel()
	<-p.done
}

func (p *connectionPool) forward(msgs <-chan *message.Message) {
	defer close(p.done)
	for msg := range msgs {
		p.broadcast(msg.Payload)
		msg.Ack()
	}
}

// Hub relays published config updates to every realtime connection of the
// matching tenant.
type Hub struct {
	sub    message.Subscriber
	logger zerolog.Logger
	gauge  func(delta int)

	mu    sync.Mutex
	pools map[string]*connectionPool
}

func NewHub(sub message.Subscriber, logger zerolog.Logger, gauge func(delta int)) *Hub {
	return &Hub{sub: sub, logger: logger, gauge: gauge, pools: map[string]*connectionPool{}}
}

// pool returns the tenant's pool with one pending slot reserved,
// subscribing first when there is none so that nothing published after
// this call is missed.
func (h *Hub) pool(clientID string) (*connectionPool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if p, ok := h.pools[clientID]; ok {
		p.reserve()
		return p, nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := h.sub.Subscribe(ctx, TopicFor(clientID))
	if err != nil {
		cancel()
		return nil, errors.Wrapf(err, "subscribe to %s", TopicFor(clientID))
	}
	p := &connectionPool{
		clientID: clientID,
		logger:   h.logger.With().Str("client_id", clientID).Logger(),
		cancel:   cancel,
		done:     make(chan struct{}),
		conns:    map[wsConn]struct{}{},
		onChange: h.gauge,
	}
	p.reserve()
	h.pools[clientID] = p
	go p.forward(msgs)
	return p, nil
}

// Prepare subscribes for clientID ahead of a websocket upgrade. The
// returned release must be called if the connection is never attached.
func (h *Hub) Prepare(clientID string) (attach func(conn *websocket.Conn), release func(), err error) {
	p, err := h.pool(clientID)
	if err != nil {
		return nil, nil, err
	}
	attach = func(conn *websocket.Conn) {
		if !p.add(conn) {
			_ = conn.Close()
			return
		}
		// Inbound frames are ignored; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
		if p.remove(conn) {
			h.release(clientID, p)
		}
	}
	release = func() {
		p.unreserve()
		h.release(clientID, p)
	}
	return attach, release, nil
}

func (h *Hub) release(clientID string, p *connectionPool) {
	h.mu.Lock()
	if h.pools[clientID] != p || p.busy() {
		h.mu.Unlock()
		return
	}
	delete(h.pools, clientID)
	h.mu.Unlock()
	p.closeAll()
}

// Connections returns how many realtime connections clientID has.
func (h *Hub) Connections(clientID string) int {
	h.mu.Lock()
	p, ok := h.pools[clientID]
	h.mu.Unlock()
	if !ok {
		return 0
	}
	return p.count()
}

// Close drops every connection and subscription.
func (h *Hub) Close() {
	h.mu.Lock()
	pools := h.pools
	h.pools = map[string]*connectionPool{}
	h.mu.Unlock()
	for _, p := range pools {
		p.closeAll()
	}
}
