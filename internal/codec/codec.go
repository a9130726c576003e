// Package codec encodes and decodes APP_CONTROL command objects.
//
// The default codec is MessagePack, which is what hosted applications speak.
// A JSON codec backed by sonic is available for hosts that prefer text.
package codec

import (
	"fmt"

	"github.com/family-mruby/fmruby-core/internal/shared/types"
)

// Codec converts commands to and from wire bytes
type Codec interface {
	Name() string
	Encode(cmd types.Command) ([]byte, error)
	Decode(b []byte) (types.Command, error)
}

// Names of the available codecs
const (
	MsgPack = "msgpack"
	JSON    = "json"
)

// New returns the codec registered under name
func New(name string) (Codec, error) {
	switch name {
	case "", MsgPack:
		return MsgPackCodec{}, nil
	case JSON:
		return JSONCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// validate applies the rules shared by every codec: the body must be an
// object with a non-empty cmd from the vocabulary.
func validate(cmd types.Command, isObject bool) (types.Command, error) {
	if !isObject {
		return types.Command{}, fmt.Errorf("%w: not a command object", types.ErrMalformedPayload)
	}
	if cmd.Cmd == "" {
		return types.Command{}, fmt.Errorf("%w: missing cmd", types.ErrMalformedPayload)
	}
	if !cmd.Known() {
		return types.Command{}, fmt.Errorf("%w: unknown cmd %q", types.ErrMalformedPayload, cmd.Cmd)
	}
	return cmd, nil
}
