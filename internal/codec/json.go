package codec

import (
	"bytes"
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// JSONCodec encodes commands as JSON objects
type JSONCodec struct{}

func (JSONCodec) Name() string { return JSON }

func (JSONCodec) Encode(cmd types.Command) ([]byte, error) {
	b, err := sonic.Marshal(&cmd)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Cmd, err)
	}
	return b, nil
}

func (JSONCodec) Decode(b []byte) (types.Command, error) {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 {
		return types.Command{}, fmt.Errorf("%w: empty body", types.ErrMalformedPayload)
	}
	if trimmed[0] != '{' {
		return validate(types.Command{}, false)
	}

	var cmd types.Command
	if err := sonic.Unmarshal(trimmed, &cmd); err != nil {
		return types.Command{}, fmt.Errorf("%w: %v", types.ErrMalformedPayload, err)
	}
	return validate(cmd, true)
}
