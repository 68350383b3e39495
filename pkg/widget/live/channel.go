// Package live keeps a websocket open to the realtime endpoint of one
// tenant and hands every inbound frame to a callback.
package live

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries      = 5
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 30 * time.Second
)

// Handler receives the payload of every inbound text frame. It runs on the
// channel's read goroutine.
type Handler func(data []byte)

type Options struct {
	Dialer *websocket.Dialer
	// MaxRetries bounds consecutive failed connection attempts after the
	// first one. The budget resets after every successful connection.
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// OnConnect runs after every successful handshake. reconnect is false
	// for the first connection only.
	OnConnect func(reconnect bool)
	Logger    *zerolog.Logger
}

func (o Options) withDefaults() Options {
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.InitialInterval <= 0 {
		o.InitialInterval = DefaultInitialInterval
	}
	if o.MaxInterval <= 0 {
		o.MaxInterval = DefaultMaxInterval
	}
	return o
}

type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
	// StateFailed means the retry budget ran out.
	StateFailed State = "failed"
)

// Channel is one live connection with bounded reconnects.
type Channel struct {
	url     string
	handler Handler
	opts    Options
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.Mutex
	conn  *websocket.Conn
	state State
	err   error
}

// RealtimeURL derives `{base}/realtime/{clientID}` and maps http(s) onto
// ws(s).
func RealtimeURL(base, clientID string) (string, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(base), "/"))
	if err != nil {
		return "", errors.Wrap(err, "invalid realtime url")
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", errors.Errorf("realtime url must be ws, wss, http or https, got %q", base)
	}
	if u.Host == "" {
		return "", errors.Errorf("realtime url has no host: %q", base)
	}
	escaped := url.PathEscape(clientID)
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + "/realtime/" + escaped
	u.Path = strings.TrimRight(u.Path, "/") + "/realtime/" + clientID
	return u.String(), nil
}

// Open starts connecting to target in the background and returns at once.
// Connection failures never surface to the caller; they are logged and
// retried until the budget is spent or Close is called.
func Open(target string, handler Handler, opts Options) *Channel {
	opts = opts.withDefaults()
	logger := log.With().Str("component", "live").Str("url", target).Logger()
	if opts.Logger != nil {
		logger = opts.Logger.With().Str("url", target).Logger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		url:     target,
		handler: handler,
		opts:    opts,
		logger:  logger,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		state:   StateConnecting,
	}
	go c.run()
	return c
}

func (c *Channel) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialInterval
	b.MaxInterval = c.opts.MaxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), c.ctx)
}

func (c *Channel) run() {
	defer close(c.done)

	connected := false
	for {
		var conn *websocket.Conn
		err := backoff.RetryNotify(func() error {
			cn, resp, err := c.opts.Dialer.DialContext(c.ctx, c.url, nil)
			if resp != nil && resp.Body != nil {
				_ = resp.Body.Close()
			}
			if err != nil {
				return err
			}
			conn = cn
			return nil
		}, c.newBackOff(), func(err error, wait time.Duration) {
			c.logger.Warn().Err(err).Dur("retry_in", wait).Msg("realtime connection failed")
		})
		if err != nil {
			if c.ctx.Err() != nil {
				c.setState(StateClosed, nil)
				return
			}
			c.logger.Error().Err(err).Msg("realtime connection gave up")
			c.setState(StateFailed, err)
			return
		}

		if !c.attach(conn) {
			_ = conn.Close()
			c.setState(StateClosed, nil)
			return
		}
		c.logger.Debug().Bool("reconnect", connected).Msg("realtime connected")
		if c.opts.OnConnect != nil {
			c.opts.OnConnect(connected)
		}
		connected = true

		err = c.readLoop(conn)
		c.detach(conn)
		if c.ctx.Err() != nil {
			c.setState(StateClosed, nil)
			return
		}
		c.logger.Warn().Err(err).Msg("realtime connection lost")
		c.setState(StateConnecting, err)
	}
}

func (c *Channel) readLoop(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage {
			continue
		}
		if c.handler != nil {
			c.handler(data)
		}
	}
}

// attach stores conn unless the channel was closed meanwhile.
func (c *Channel) attach(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ctx.Err() != nil {
		return false
	}
	c.conn = conn
	c.state = StateOpen
	c.err = nil
	return true
}

func (c *Channel) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
}

func (c *Channel) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.err = err
	c.mu.Unlock()
}

// State returns the current connection state and the last error.
func (c *Channel) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.err
}

// Done is closed when the background goroutine has exited.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close stops reconnecting, closes the connection and waits for the
// reader to exit. It is safe to call more than once.
func (c *Channel) Close() {
	c.cancel()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
	<-c.done
}
