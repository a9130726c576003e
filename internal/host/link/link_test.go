package link

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/family-mruby/fmruby-core/internal/host/catalog"
	"github.com/family-mruby/fmruby-core/internal/host/local"
	"github.com/family-mruby/fmruby-core/internal/infrastructure/resilience"
	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

func newFramer(t *testing.T, threshold int) *Framer {
	t.Helper()
	f, err := NewFramer(threshold)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f
}

func TestFrameRoundTrip(t *testing.T) {
	f := newFramer(t, 64)

	small, err := f.Encode(KindSpawn, 7, spawnBody{PID: 3, Gen: 4, Path: "default/shell"})
	require.NoError(t, err)
	assert.Equal(t, "FMRB", string(small[:4]))

	fr, err := f.Decode(small)
	require.NoError(t, err)
	assert.Equal(t, KindSpawn, fr.Kind)
	assert.Equal(t, uint32(7), fr.Seq)
	assert.Zero(t, fr.Flags&FlagCompressed)

	var b spawnBody
	require.NoError(t, fr.Unmarshal(&b))
	assert.Equal(t, spawnBody{PID: 3, Gen: 4, Path: "default/shell"}, b)

	payload := bytes.Repeat([]byte{0xAB}, 4096)
	large, err := f.Encode(KindDeliver, 0, deliverBody{PID: 2, Type: types.MsgAppGFX, Payload: payload})
	require.NoError(t, err)
	assert.Less(t, len(large), len(payload))

	fr, err = f.Decode(large)
	require.NoError(t, err)
	assert.NotZero(t, fr.Flags&FlagCompressed)
	var d deliverBody
	require.NoError(t, fr.Unmarshal(&d))
	assert.Equal(t, payload, d.Payload)
}

func TestFrameDecodeErrors(t *testing.T) {
	f := newFramer(t, -1)
	good, err := f.Encode(KindHello, 1, helloBody{Version: 1})
	require.NoError(t, err)

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'X'
	badVersion := append([]byte(nil), good...)
	badVersion[4] = 9
	truncated := good[:len(good)-1]

	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"short", good[:10], ErrShortFrame},
		{"magic", badMagic, ErrBadMagic},
		{"version", badVersion, ErrBadVersion},
		{"length", truncated, ErrShortFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.Decode(tt.frame)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestReplyErrorCodes(t *testing.T) {
	for _, sentinel := range []error{types.ErrUnknownPid, types.ErrMailboxFull, types.ErrAppNotFound, types.ErrHostFailure} {
		err := failure(sentinel).err()
		assert.ErrorIs(t, err, sentinel)
		assert.Equal(t, sentinel.Error(), err.Error())
	}
	assert.NoError(t, result(nil).err())
}

var echo = local.AppFunc(func(ctx context.Context, env *local.Env) error {
	for {
		msg, err := env.Next(ctx)
		if err != nil {
			return nil
		}
		_ = env.Send(types.MsgAppGFX, msg.Payload)
	}
})

func startLink(t *testing.T, opts ...ClientOption) (*Client, *local.Host, chan types.Message) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	h := local.New(local.WithBuiltin("gui_app", func(catalog.Manifest) (local.App, error) { return echo, nil }))
	go func() { _ = h.Serve(ctx) }()

	srv := httptest.NewServer(NewServer(h, newFramer(t, DefaultCompressThreshold)))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + DefaultPath
	c := NewClient(url, newFramer(t, DefaultCompressThreshold), opts...)
	msgs := make(chan types.Message, 16)
	c.SetHandler(func(m types.Message) { msgs <- m })

	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.Serve(ctx) }()
	return c, h, msgs
}

func TestClientServer(t *testing.T) {
	c, h, msgs := startLink(t)
	ctx := context.Background()

	v, err := c.Handshake(ctx, types.ProtocolVersion)
	require.NoError(t, err)
	assert.Equal(t, types.ProtocolVersion, v)

	info, err := c.Spawn(ctx, 2, 1, catalog.GUIAppPath)
	require.NoError(t, err)
	assert.Equal(t, "gui_app", info.Name)
	assert.Equal(t, []types.ProcessID{2}, h.Running())

	require.NoError(t, c.Deliver(2, types.MsgHIDEvent, []byte{4, 1, 2, 0, 3, 0}))
	select {
	case m := <-msgs:
		assert.Equal(t, types.MsgAppGFX, m.Type)
		assert.Equal(t, types.ProcessID(2), m.Src)
		assert.Equal(t, []byte{4, 1, 2, 0, 3, 0}, m.Payload)
	case <-time.After(2 * time.Second):
		t.Fatal("no app message over the link")
	}

	require.NoError(t, c.Suspend(ctx, 2))
	assert.True(t, h.Suspended(2))
	require.NoError(t, c.Resume(ctx, 2))

	require.NoError(t, c.Terminate(ctx, 2))
	assert.Empty(t, h.Running())

	err = c.Terminate(ctx, 2)
	assert.ErrorIs(t, err, types.ErrUnknownPid)

	_, err = c.Spawn(ctx, 3, 1, "missing/app")
	assert.ErrorIs(t, err, types.ErrAppNotFound)
	assert.ErrorIs(t, err, types.ErrHostFailure)
}

func TestClientLinkDown(t *testing.T) {
	b := resilience.New("test", resilience.Settings{
		Trip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
	})
	c := NewClient("ws://127.0.0.1:1/link", newFramer(t, -1), WithBreaker(b))

	assert.ErrorIs(t, c.Deliver(2, types.MsgHIDEvent, nil), ErrLinkDown)
	assert.ErrorIs(t, c.Deliver(2, types.MsgHIDEvent, nil), types.ErrHostFailure)

	err := c.Deliver(2, types.MsgHIDEvent, nil)
	assert.ErrorIs(t, err, types.ErrHostFailure)
	assert.Equal(t, resilience.StateOpen, b.State())

	_, err = c.Spawn(context.Background(), 2, 1, catalog.GUIAppPath)
	assert.ErrorIs(t, err, types.ErrHostFailure)
}

func TestClientCancelDoesNotTrip(t *testing.T) {
	b := resilience.New("test", resilience.Settings{
		Trip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 1 },
	})
	c := NewClient("ws://127.0.0.1:1/link", newFramer(t, -1), WithBreaker(b))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, err := c.Spawn(ctx, 2, 1, catalog.GUIAppPath)
		assert.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, resilience.StateClosed, b.State())
	assert.Zero(t, b.Counts().Failures)
}

func TestClientRequestTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// A server that accepts the connection and never answers.
	srv := httptest.NewServer(NewServer(local.New(), newFramer(t, -1)))
	defer srv.Close()

	c := NewClient("ws"+strings.TrimPrefix(srv.URL, "http"), newFramer(t, -1), WithRequestTimeout(50*time.Millisecond))
	require.NoError(t, c.Connect(ctx))
	go func() { _ = c.Serve(ctx) }()

	start := time.Now()
	_, err := c.call(ctx, Kind(42), helloBody{})
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrHostFailure)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)
}
