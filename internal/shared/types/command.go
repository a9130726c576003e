package types

// Control command names
const (
	CmdSpawn   = "spawn"
	CmdKill    = "kill"
	CmdSuspend = "suspend"
	CmdResume  = "resume"
	CmdResult  = "result"
)

// Command is the structured APP_CONTROL object.
// PID zero (or absent) targets the sender. Gen is the sender's slot
// generation and must match for commands that target the sender.
type Command struct {
	Cmd       string    `msgpack:"cmd" json:"cmd"`
	AppName   string    `msgpack:"app_name,omitempty" json:"app_name,omitempty"`
	PID       ProcessID `msgpack:"pid,omitempty" json:"pid,omitempty"`
	NoFocus   bool      `msgpack:"no_focus,omitempty" json:"no_focus,omitempty"`
	RequestID string    `msgpack:"request_id,omitempty" json:"request_id,omitempty"`
	Gen       uint32    `msgpack:"gen,omitempty" json:"gen,omitempty"`

	// Reply fields, set on CmdResult
	OK      bool   `msgpack:"ok,omitempty" json:"ok,omitempty"`
	Error   string `msgpack:"error,omitempty" json:"error,omitempty"`
	Request string `msgpack:"request,omitempty" json:"request,omitempty"`
}

// Inbound reports whether the command is one the kernel accepts
func (c Command) Inbound() bool {
	switch c.Cmd {
	case CmdSpawn, CmdKill, CmdSuspend, CmdResume:
		return true
	}
	return false
}

// Known reports whether the command name is part of the vocabulary
func (c Command) Known() bool {
	return c.Inbound() || c.Cmd == CmdResult
}

// Result builds the reply to c
func (c Command) Result(pid ProcessID, err error) Command {
	r := Command{
		Cmd:       CmdResult,
		Request:   c.Cmd,
		RequestID: c.RequestID,
		PID:       pid,
		OK:        err == nil,
	}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}
