package link

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/host"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/resilience"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// ErrLinkDown is returned when no connection to the host is open
var ErrLinkDown = fmt.Errorf("%w: link down", types.ErrHostFailure)

var (
	_ host.Host   = (*Client)(nil)
	_ host.Pauser = (*Client)(nil)
)

// Client is a host.Host backed by a remote host over a websocket. Requests
// are correlated with replies by sequence number; deliveries are fire and
// forget. Writes go through a circuit breaker.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	framer  *Framer
	timeout time.Duration
	breaker *resilience.Breaker
	logger  *zap.Logger
	metrics *monitoring.Metrics

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	seq     atomic.Uint32
	mu      sync.Mutex
	pending map[uint32]chan Frame
	handler host.Handler
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithRequestTimeout bounds each request's wait for a reply
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithClientLogger sets the logger
func WithClientLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClientMetrics sets the metrics set
func WithClientMetrics(m *monitoring.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// WithBreaker replaces the default circuit breaker
func WithBreaker(b *resilience.Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// NewClient creates a client for the host at url. It connects on Connect
// or the first Serve.
func NewClient(url string, framer *Framer, opts ...ClientOption) *Client {
	c := &Client{
		url:     url,
		dialer:  websocket.DefaultDialer,
		framer:  framer,
		timeout: 3 * time.Second,
		logger:  zap.NewNop(),
		pending: make(map[uint32]chan Frame),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.New("link", resilience.Settings{
			Cooldown: 5 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				c.logger.Warn("Link breaker state changed",
					zap.Stringer("from", from),
					zap.Stringer("to", to),
				)
			},
		})
	}
	return c
}

// Connect dials the host if not already connected
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn != nil {
		return nil
	}

	conn, _, err := c.dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", types.ErrHostFailure, c.url, err)
	}
	c.conn = conn
	c.metrics.IncLinkConnections()
	c.logger.Info("Link connected", zap.String("url", c.url))
	return nil
}

// Serve connects if needed and reads frames until the connection drops or
// ctx ends. Implements suture.Service: a dropped link returns an error and
// the supervisor redials.
func (c *Client) Serve(ctx context.Context) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	conn := c.current()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	err := c.readLoop(conn)
	c.drop(conn)
	if ctx.Err() != nil {
		return nil
	}
	return fmt.Errorf("link read: %w", err)
}

// String names the client in supervisor logs
func (c *Client) String() string { return "link client " + c.url }

// Close drops the connection
func (c *Client) Close() error {
	if conn := c.current(); conn != nil {
		c.drop(conn)
	}
	return nil
}

func (c *Client) current() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

func (c *Client) drop(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
		c.metrics.DecLinkConnections()
	}
	c.connMu.Unlock()
	_ = conn.Close()
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.BinaryMessage {
			continue
		}

		fr, err := c.framer.Decode(data)
		if err != nil {
			c.logger.Warn("Dropping bad link frame", zap.Error(err))
			continue
		}
		c.metrics.RecordLinkFrame("in", fr.Kind.String())

		switch fr.Kind {
		case KindReply:
			c.mu.Lock()
			ch, ok := c.pending[fr.Seq]
			c.mu.Unlock()
			if ok {
				select {
				case ch <- fr:
				default:
				}
			}
		case KindMessage:
			var m messageBody
			if err := fr.Unmarshal(&m); err != nil {
				c.logger.Warn("Dropping bad app message", zap.Error(err))
				continue
			}
			c.mu.Lock()
			fn := c.handler
			c.mu.Unlock()
			if fn != nil {
				fn(types.Message{Type: m.Type, Src: m.Src, Dst: m.Dst, Payload: m.Payload})
			}
		default:
			c.logger.Warn("Unexpected link frame", zap.Stringer("kind", fr.Kind))
		}
	}
}

// write sends one frame through the breaker. Giving up on ctx is not
// counted as a link failure.
func (c *Client) write(ctx context.Context, kind Kind, seq uint32, body interface{}) error {
	frame, err := c.framer.Encode(kind, seq, body)
	if err != nil {
		return err
	}
	return c.breaker.Do(func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		conn := c.current()
		if conn == nil {
			return ErrLinkDown
		}
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetWriteDeadline(dl)
			defer func() { _ = conn.SetWriteDeadline(time.Time{}) }()
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: %v", types.ErrHostFailure, err)
		}
		c.metrics.RecordLinkFrame("out", kind.String())
		return nil
	})
}

// call sends a request and waits for the reply with the same sequence
func (c *Client) call(ctx context.Context, kind Kind, body interface{}) (replyBody, error) {
	seq := c.seq.Add(1)
	ch := make(chan Frame, 1)

	c.mu.Lock()
	c.pending[seq] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, seq)
		c.mu.Unlock()
	}()

	if err := c.write(ctx, kind, seq, body); err != nil {
		if errors.Is(err, resilience.ErrOpen) || errors.Is(err, resilience.ErrProbeLimit) {
			err = fmt.Errorf("%w: %v", types.ErrHostFailure, err)
		}
		return replyBody{}, fmt.Errorf("%s: %w", kind, err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case fr := <-ch:
		var r replyBody
		if err := fr.Unmarshal(&r); err != nil {
			return replyBody{}, fmt.Errorf("%w: %v", types.ErrHostFailure, err)
		}
		return r, r.err()
	case <-timer.C:
		return replyBody{}, fmt.Errorf("%w: %s timed out after %s", types.ErrHostFailure, kind, c.timeout)
	case <-ctx.Done():
		return replyBody{}, fmt.Errorf("%s: %w", kind, ctx.Err())
	}
}

// Handshake implements host.Host
func (c *Client) Handshake(ctx context.Context, version uint32) (uint32, error) {
	if err := c.Connect(ctx); err != nil {
		return 0, err
	}
	r, err := c.call(ctx, KindHello, helloBody{Version: version})
	if err != nil {
		return 0, err
	}
	return r.Version, nil
}

// Spawn implements host.Host
func (c *Client) Spawn(ctx context.Context, pid types.ProcessID, gen uint32, path string) (types.AppInfo, error) {
	r, err := c.call(ctx, KindSpawn, spawnBody{PID: pid, Gen: gen, Path: path})
	if err != nil {
		return types.AppInfo{}, err
	}
	if r.Info == nil {
		return types.AppInfo{}, fmt.Errorf("%w: spawn reply without app info", types.ErrHostFailure)
	}
	return *r.Info, nil
}

// Terminate implements host.Host
func (c *Client) Terminate(ctx context.Context, pid types.ProcessID) error {
	_, err := c.call(ctx, KindTerminate, pidBody{PID: pid})
	return err
}

// Suspend implements host.Pauser
func (c *Client) Suspend(ctx context.Context, pid types.ProcessID) error {
	_, err := c.call(ctx, KindSuspend, pidBody{PID: pid})
	return err
}

// Resume implements host.Pauser
func (c *Client) Resume(ctx context.Context, pid types.ProcessID) error {
	_, err := c.call(ctx, KindResume, pidBody{PID: pid})
	return err
}

// Deliver sends payload to pid without waiting. Remote mailbox errors are
// logged by the host, not reported here.
func (c *Client) Deliver(pid types.ProcessID, msgType types.MsgType, payload []byte) error {
	err := c.write(context.Background(), KindDeliver, 0, deliverBody{PID: pid, Type: msgType, Payload: payload})
	if err != nil && !errors.Is(err, types.ErrHostFailure) {
		err = fmt.Errorf("%w: %v", types.ErrHostFailure, err)
	}
	return err
}

// SetHandler implements host.Host
func (c *Client) SetHandler(fn host.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = fn
}
