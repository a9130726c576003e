package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/family-mruby/fmruby-core/internal/codec"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

func testEnv(posted *[]types.Message) *Env {
	return &Env{
		pid:     2,
		gen:     1,
		mailbox: NewMailbox[types.Message](4),
		gate:    newGate(),
		post: func(m types.Message) error {
			*posted = append(*posted, m)
			return nil
		},
		codec:  codec.MsgPackCodec{},
		logger: zap.NewNop(),
	}
}

func typeInto(s *Shell, env *Env, text string) bool {
	exit := false
	for i := 0; i < len(text); i++ {
		exit = s.key(env, text[i])
	}
	return exit
}

func TestShellRunExpandsAlias(t *testing.T) {
	var posted []types.Message
	env := testEnv(&posted)
	s := NewShell(func(name string) string {
		if name == "mruby.app" {
			return "/app/sample/mruby.app.rb"
		}
		return name
	})

	assert.False(t, typeInto(s, env, "run mruby.appx\b\r"))

	require.Len(t, posted, 1)
	cmd, err := codec.MsgPackCodec{}.Decode(posted[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, types.CmdSpawn, cmd.Cmd)
	assert.Equal(t, "/app/sample/mruby.app.rb", cmd.AppName)
	assert.Equal(t, []string{"> run mruby.app"}, s.History())
}

func TestShellCommands(t *testing.T) {
	tests := []struct {
		line    string
		posts   int
		lastOut string
	}{
		{"kill 4", 1, "> kill 4"},
		{"suspend x", 0, `Error: invalid pid "x"`},
		{"resume", 0, "Error: expected one pid"},
		{"run", 0, "Error: run requires an app path"},
		{"bogus", 0, "Type 'help' for available commands"},
		{"   ", 0, ">    "},
	}

	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			var posted []types.Message
			s := NewShell(nil)
			typeInto(s, testEnv(&posted), tt.line+"\n")

			assert.Len(t, posted, tt.posts)
			h := s.History()
			assert.Equal(t, tt.lastOut, h[len(h)-1])
		})
	}
}

func TestShellExitAndResults(t *testing.T) {
	var posted []types.Message
	env := testEnv(&posted)
	s := NewShell(nil)

	s.result(types.Command{Cmd: types.CmdResult, Request: types.CmdSpawn, OK: true, PID: 3})
	s.result(types.Command{Cmd: types.CmdResult, Request: types.CmdKill, Error: "unknown pid"})
	assert.Equal(t, []string{"Spawned: pid 3", "Error: kill failed: unknown pid"}, s.History())

	assert.True(t, typeInto(s, env, "exit\r"))
}

func TestShellLineLimit(t *testing.T) {
	var posted []types.Message
	s := NewShell(nil)
	env := testEnv(&posted)

	for i := 0; i < MaxLineLength+20; i++ {
		s.key(env, 'a')
	}
	s.key(env, 0x01)
	assert.Len(t, s.line, MaxLineLength)
}
