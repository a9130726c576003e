package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// MsgPackCodec encodes commands as MessagePack maps
type MsgPackCodec struct{}

func (MsgPackCodec) Name() string { return MsgPack }

func (MsgPackCodec) Encode(cmd types.Command) ([]byte, error) {
	b, err := msgpack.Marshal(&cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	return b, nil
}

func (MsgPackCodec) Decode(b []byte) (types.Command, error) {
	if len(b) == 0 {
		return types.Command{}, fmt.Errorf("%w: empty body", types.ErrMalformedPayload)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(b))
	code, err := dec.PeekCode()
	if err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	if !msgpcode.IsFixedMap(code) && code != msgpcode.Map16 && code != msgpcode.Map32 {
		return validate(types.Command{}, false)
	}

	var cmd types.Command
	if err := dec.Decode(&cmd); err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	return validate(cmd, true)
}
