package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHID(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    HIDEvent
		wantErr bool
	}{
		{
			name:    "button down",
			payload: []byte{4, 1, 0x3c, 0x00, 0x2d, 0x01},
			want:    HIDEvent{Subtype: HIDButtonDown, Button: 1, X: 60, Y: 301},
		},
		{
			name:    "trailing bytes kept",
			payload: []byte{3, 0, 10, 0, 20, 0, 0xff},
			want:    HIDEvent{Subtype: HIDMouseMove, X: 10, Y: 20},
		},
		{
			name:    "too short",
			payload: []byte{4, 1, 0, 0},
			wantErr: true,
		},
		{
			name:    "empty",
			payload: nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHID(tt.payload)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedPayload))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Subtype, got.Subtype)
			assert.Equal(t, tt.want.Button, got.Button)
			assert.Equal(t, tt.want.X, got.X)
			assert.Equal(t, tt.want.Y, got.Y)
			assert.Equal(t, tt.payload, got.Bytes())
		})
	}
}

func TestKeyEventLayout(t *testing.T) {
	ev := KeyEvent(HIDKeyDown, 0x41, 0x04, 0x02)

	assert.Equal(t, []byte{1, 0x41, 0x04, 0x02, 0, 0}, ev.Bytes())

	decoded, err := DecodeHID(ev.Bytes())
	require.NoError(t, err)
	assert.Equal(t, uint8(0x41), decoded.Keycode())
	assert.Equal(t, uint8(0x04), decoded.Scancode())
	assert.Equal(t, uint8(0x02), decoded.Modifier())
	assert.False(t, decoded.Subtype.Pointer())
}

func TestErrorTaxonomy(t *testing.T) {
	assert.ErrorIs(t, ErrTableFull, ErrHostFailure)
	assert.ErrorIs(t, ErrMailboxFull, ErrHostFailure)
	assert.ErrorIs(t, ErrAppNotFound, ErrHostFailure)
	assert.NotErrorIs(t, ErrUnknownPid, ErrHostFailure)
}

func TestCommandResult(t *testing.T) {
	req := Command{Cmd: CmdSpawn, AppName: "default/shell", RequestID: "req_1"}

	ok := req.Result(5, nil)
	assert.Equal(t, CmdResult, ok.Cmd)
	assert.Equal(t, CmdSpawn, ok.Request)
	assert.Equal(t, "req_1", ok.RequestID)
	assert.True(t, ok.OK)
	assert.Equal(t, ProcessID(5), ok.PID)

	failed := req.Result(NoPID, ErrAppNotFound)
	assert.False(t, failed.OK)
	assert.Contains(t, failed.Error, "app not found")
}

func TestWindowContains(t *testing.T) {
	w := Window{X: 0, Y: 0, Width: 100, Height: 100}

	assert.True(t, w.Contains(0, 0))
	assert.True(t, w.Contains(99, 99))
	assert.False(t, w.Contains(100, 50))
	assert.False(t, w.Contains(50, 100))
	assert.False(t, w.Contains(-1, 0))
}
