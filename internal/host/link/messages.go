package link

import (
	"errors"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

type helloBody struct {
	Version uint32 `msgpack:"version"`
}

type spawnBody struct {
	PID  types.ProcessID `msgpack:"pid"`
	Gen  uint32          `msgpack:"gen"`
	Path string          `msgpack:"path"`
}

type pidBody struct {
	PID types.ProcessID `msgpack:"pid"`
}

type deliverBody struct {
	PID     types.ProcessID `msgpack:"pid"`
	Type    types.MsgType   `msgpack:"type"`
	Payload []byte          `msgpack:"payload"`
}

type messageBody struct {
	Type    types.MsgType   `msgpack:"type"`
	Src     types.ProcessID `msgpack:"src"`
	Dst     types.ProcessID `msgpack:"dst"`
	Payload []byte          `msgpack:"payload"`
}

type replyBody struct {
	OK      bool           `msgpack:"ok"`
	Code    string         `msgpack:"code,omitempty"`
	Error   string         `msgpack:"error,omitempty"`
	Version uint32         `msgpack:"version,omitempty"`
	Info    *types.AppInfo `msgpack:"info,omitempty"`
}

// errorCodes maps host errors to wire codes, most specific first
var errorCodes = []struct {
	code string
	err  error
}{
	{"unknown_pid", types.ErrUnknownPid},
	{"duplicate_pid", types.ErrDuplicatePid},
	{"mailbox_full", types.ErrMailboxFull},
	{"table_full", types.ErrTableFull},
	{"app_not_found", types.ErrAppNotFound},
	{"malformed_payload", types.ErrMalformedPayload},
	{"protocol_mismatch", types.ErrProtocolMismatch},
	{"host_failure", types.ErrHostFailure},
}

func failure(err error) replyBody {
	r := replyBody{Code: "host_failure", Error: err.Error()}
	for _, c := range errorCodes {
		if errors.Is(err, c.err) {
			r.Code = c.code
			break
		}
	}
	return r
}

// remoteError carries a host error across the link and still matches its
// sentinel with errors.Is
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }
func (e *remoteError) Unwrap() error { return e.sentinel }

func (r replyBody) err() error {
	if r.OK {
		return nil
	}
	sentinel := types.ErrHostFailure
	for _, c := range errorCodes {
		if c.code == r.Code {
			sentinel = c.err
			break
		}
	}
	return &remoteError{msg: r.Error, sentinel: sentinel}
}
