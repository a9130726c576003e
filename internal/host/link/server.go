package link

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/host"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// DefaultPath is the websocket endpoint the host listens on
const DefaultPath = "/link"

// Server exposes a host.Host to one remote kernel at a time. A new
// connection replaces the previous one.
type Server struct {
	host     host.Host
	framer   *Framer
	upgrader websocket.Upgrader
	logger   *zap.Logger
	metrics  *monitoring.Metrics

	mu     sync.Mutex
	active *serverConn
}

type serverConn struct {
	id      string
	ws      *websocket.Conn
	writeMu sync.Mutex
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithServerLogger sets the logger
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithServerMetrics sets the metrics set
func WithServerMetrics(m *monitoring.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// NewServer wraps h. App messages from h are forwarded to the connected kernel.
func NewServer(h host.Host, framer *Framer, opts ...ServerOption) *Server {
	s := &Server{
		host:   h,
		framer: framer,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	h.SetHandler(s.forward)
	return s
}

// Register mounts the endpoint on a gin router
func (s *Server) Register(r gin.IRoutes, path string) {
	r.GET(path, gin.WrapH(s))
}

// ServeHTTP upgrades the request and serves frames until the peer leaves
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Link upgrade failed", zap.Error(err))
		return
	}

	conn := &serverConn{id: uuid.NewString(), ws: ws}
	s.mu.Lock()
	prev := s.active
	s.active = conn
	s.mu.Unlock()
	if prev != nil {
		s.logger.Info("Replacing link connection", zap.String("conn_id", prev.id))
		_ = prev.ws.Close()
	}

	s.metrics.IncLinkConnections()
	logger := s.logger.With(zap.String("conn_id", conn.id), zap.String("remote", r.RemoteAddr))
	logger.Info("Kernel connected")

	defer func() {
		s.mu.Lock()
		if s.active == conn {
			s.active = nil
		}
		s.mu.Unlock()
		_ = ws.Close()
		s.metrics.DecLinkConnections()
		logger.Info("Kernel disconnected")
	}()

	ctx := r.Context()
	for {
		mt, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		fr, err := s.framer.Decode(data)
		if err != nil {
			logger.Warn("Dropping bad link frame", zap.Error(err))
			continue
		}
		s.metrics.RecordLinkFrame("in", fr.Kind.String())
		s.handle(ctx, conn, fr, logger)
	}
}

func (s *Server) handle(ctx context.Context, conn *serverConn, fr Frame, logger *zap.Logger) {
	var reply replyBody

	switch fr.Kind {
	case KindDeliver:
		var b deliverBody
		if err := fr.Unmarshal(&b); err != nil {
			logger.Warn("Bad deliver frame", zap.Error(err))
			return
		}
		if err := s.host.Deliver(b.PID, b.Type, b.Payload); err != nil {
			logger.Warn("Delivery failed", zap.Int32("pid", int32(b.PID)), zap.Error(err))
		}
		return

	case KindHello:
		var b helloBody
		if err := fr.Unmarshal(&b); err != nil {
			reply = failure(err)
			break
		}
		v, err := s.host.Handshake(ctx, b.Version)
		if err != nil {
			reply = failure(err)
			break
		}
		reply = replyBody{OK: true, Version: v}

	case KindSpawn:
		var b spawnBody
		if err := fr.Unmarshal(&b); err != nil {
			reply = failure(err)
			break
		}
		info, err := s.host.Spawn(ctx, b.PID, b.Gen, b.Path)
		if err != nil {
			reply = failure(err)
			break
		}
		reply = replyBody{OK: true, Info: &info}

	case KindTerminate, KindSuspend, KindResume:
		var b pidBody
		if err := fr.Unmarshal(&b); err != nil {
			reply = failure(err)
			break
		}
		reply = result(s.pidOp(ctx, fr.Kind, b.PID))

	default:
		logger.Warn("Unexpected link frame", zap.Stringer("kind", fr.Kind))
		return
	}

	if err := s.send(conn, KindReply, fr.Seq, reply); err != nil {
		logger.Warn("Reply failed", zap.Stringer("kind", fr.Kind), zap.Error(err))
	}
}

func (s *Server) pidOp(ctx context.Context, kind Kind, pid types.ProcessID) error {
	if kind == KindTerminate {
		return s.host.Terminate(ctx, pid)
	}
	p, ok := s.host.(host.Pauser)
	if !ok {
		return nil
	}
	if kind == KindSuspend {
		return p.Suspend(ctx, pid)
	}
	return p.Resume(ctx, pid)
}

func result(err error) replyBody {
	if err != nil {
		return failure(err)
	}
	return replyBody{OK: true}
}

// forward relays an app message to the connected kernel
func (s *Server) forward(msg types.Message) {
	s.mu.Lock()
	conn := s.active
	s.mu.Unlock()
	if conn == nil {
		s.logger.Debug("No kernel connected, dropping app message", zap.Int32("src", int32(msg.Src)))
		return
	}
	body := messageBody{Type: msg.Type, Src: msg.Src, Dst: msg.Dst, Payload: msg.Payload}
	if err := s.send(conn, KindMessage, 0, body); err != nil {
		s.logger.Warn("Forward failed", zap.Int32("src", int32(msg.Src)), zap.Error(err))
	}
}

func (s *Server) send(conn *serverConn, kind Kind, seq uint32, body interface{}) error {
	frame, err := s.framer.Encode(kind, seq, body)
	if err != nil {
		return err
	}
	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()
	if err := conn.ws.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return err
	}
	s.metrics.RecordLinkFrame("out", kind.String())
	return nil
}
