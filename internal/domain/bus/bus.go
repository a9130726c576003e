// Package bus delivers typed, source-tagged messages between the kernel and
// application endpoints.
//
// Outbound traffic goes through the process host. Inbound envelopes enter
// through OnMessage, which the kernel loop calls once per queued message on
// its own goroutine.
package bus

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/monitoring"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Deliverer hands bytes to an application mailbox
type Deliverer interface {
	Deliver(pid types.ProcessID, msgType types.MsgType, payload []byte) error
}

// Directory answers whether a pid is a live application
type Directory interface {
	Alive(pid types.ProcessID) bool
}

// Handler processes one decoded message
type Handler func(msg types.Message, payload types.Payload)

// Bus routes messages. Not safe for concurrent use.
type Bus struct {
	host     Deliverer
	codec    codec.Codec
	dir      Directory
	handlers map[types.MsgType]Handler
	logger   *zap.Logger
	metrics  *monitoring.Metrics
}

// New creates a bus that delivers through host and encodes with c
func New(host Deliverer, c codec.Codec, logger *zap.Logger, metrics *monitoring.Metrics) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		host:     host,
		codec:    c,
		handlers: make(map[types.MsgType]Handler),
		logger:   logger,
		metrics:  metrics,
	}
}

// SetDirectory installs the liveness source used by Send
func (b *Bus) SetDirectory(dir Directory) {
	b.dir = dir
}

// Handle registers h for msgType, replacing any previous handler
func (b *Bus) Handle(msgType types.MsgType, h Handler) {
	b.handlers[msgType] = h
}

// Codec returns the command codec
func (b *Bus) Codec() codec.Codec {
	return b.codec
}

// Send delivers payload to dst. It returns false when dst is not a live
// application or the host refuses the message. A link host delivers
// without waiting, so a full remote mailbox still reports true.
func (b *Bus) Send(dst types.ProcessID, msgType types.MsgType, payload []byte) bool {
	if b.dir != nil && !b.dir.Alive(dst) {
		b.logger.Debug("Send to dead pid",
			zap.Int32("dst", int32(dst)),
			zap.Stringer("type", msgType),
		)
		b.metrics.RecordDeliveryFailure(msgType.String())
		return false
	}

	if err := b.host.Deliver(dst, msgType, payload); err != nil {
		b.logger.Warn("Delivery failed",
			zap.Int32("dst", int32(dst)),
			zap.Stringer("type", msgType),
			zap.Error(err),
		)
		b.metrics.RecordDeliveryFailure(msgType.String())
		return false
	}
	return true
}

// SendControl encodes cmd and sends it as APP_CONTROL
func (b *Bus) SendControl(dst types.ProcessID, cmd types.Command) bool {
	payload, err := b.codec.Encode(cmd)
	if err != nil {
		b.logger.Error("Encode control command",
			zap.String("cmd", cmd.Cmd),
			zap.Error(err),
		)
		return false
	}
	return b.Send(dst, types.MsgAppControl, payload)
}

// Decode turns raw envelope bytes into the payload variant for its type
func (b *Bus) Decode(msg types.Message) (types.Payload, error) {
	switch msg.Type {
	case types.MsgAppControl:
		cmd, err := b.codec.Decode(msg.Payload)
		if err != nil {
			return nil, err
		}
		if !cmd.Inbound() {
			return nil, fmt.Errorf("%w: %q is not accepted by the kernel", types.ErrMalformedPayload, cmd.Cmd)
		}
		return types.ControlPayload{Command: cmd}, nil
	case types.MsgHIDEvent:
		ev, err := types.DecodeHID(msg.Payload)
		if err != nil {
			return nil, err
		}
		return types.HIDPayload{Event: ev}, nil
	case types.MsgAppGFX, types.MsgAppAudio:
		return types.OpaquePayload{Kind: msg.Type, Data: msg.Payload}, nil
	default:
		return nil, fmt.Errorf("%w: unknown message type %d", types.ErrMalformedPayload, uint8(msg.Type))
	}
}

// OnMessage decodes msg and dispatches it to the registered handler.
// Malformed messages are logged and dropped. A panicking handler is
// recovered so later messages still dispatch.
func (b *Bus) OnMessage(msg types.Message) {
	payload, err := b.Decode(msg)
	if err != nil {
		b.logger.Warn("Dropping malformed message",
			zap.Int32("src", int32(msg.Src)),
			zap.Stringer("type", msg.Type),
			zap.Int("len", len(msg.Payload)),
			zap.Error(err),
		)
		b.metrics.RecordDrop(msg.Type.String(), "malformed")
		return
	}

	h, ok := b.handlers[msg.Type]
	if !ok {
		b.logger.Debug("No handler for message",
			zap.Int32("src", int32(msg.Src)),
			zap.Stringer("type", msg.Type),
		)
		b.metrics.RecordDrop(msg.Type.String(), "unhandled")
		return
	}

	b.dispatch(h, msg, payload)
}

func (b *Bus) dispatch(h Handler, msg types.Message, payload types.Payload) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Message handler panicked",
				zap.Int32("src", int32(msg.Src)),
				zap.Stringer("type", msg.Type),
				zap.Any("panic", r),
			)
			b.metrics.RecordDrop(msg.Type.String(), "panic")
		}
	}()

	b.metrics.RecordDispatch(msg.Type.String())
	h(msg, payload)
}
