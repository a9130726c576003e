package script

import (
	"context"
	"time"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Config defines script app limits
type Config struct {
	Timeout       time.Duration // Per-callback execution limit
	EnableConsole bool          // Expose console.log/warn/error/info
	ConsoleLimit  int           // Console entries kept for inspection
}

// DefaultConfig returns the stock limits
func DefaultConfig() Config {
	return Config{
		Timeout:       200 * time.Millisecond,
		EnableConsole: true,
		ConsoleLimit:  100,
	}
}

// LogEntry is one line of console output
type LogEntry struct {
	Level   string
	Message string
	Time    time.Time
}

// Env is what a running script can reach outside its VM
type Env interface {
	PID() types.ProcessID
	Codec() codec.Codec
	// Next blocks until a message arrives, the app is resumed, or ctx ends
	Next(ctx context.Context) (types.Message, error)
	// Send posts a message from this app to the kernel
	Send(msgType types.MsgType, payload []byte) error
	// Control posts an APP_CONTROL command to the kernel
	Control(cmd types.Command) error
}
