package link

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"
)

// Frame header layout (16 bytes, little endian):
//
//	0..3   magic "FMRB"
//	4      link version
//	5      kind
//	6      flags
//	7      reserved
//	8..11  sequence
//	12..15 body length
const (
	HeaderSize  = 16
	LinkVersion = 1
	Magic       = "FMRB"

	// DefaultCompressThreshold is the body size above which bodies are zstd compressed
	DefaultCompressThreshold = 256
	// MaxBodySize bounds a decoded body
	MaxBodySize = 1 << 20
)

// Kind identifies a frame's purpose
type Kind uint8

const (
	KindHello     Kind = 1 // kernel -> host: version handshake
	KindSpawn     Kind = 2 // kernel -> host
	KindTerminate Kind = 3 // kernel -> host
	KindSuspend   Kind = 4 // kernel -> host
	KindResume    Kind = 5 // kernel -> host
	KindDeliver   Kind = 6 // kernel -> host, no reply
	KindMessage   Kind = 7 // host -> kernel, no reply
	KindReply     Kind = 8 // host -> kernel, answers a request by sequence
)

func (k Kind) String() string {
	switch k {
	case KindHello:
		return "hello"
	case KindSpawn:
		return "spawn"
	case KindTerminate:
		return "terminate"
	case KindSuspend:
		return "suspend"
	case KindResume:
		return "resume"
	case KindDeliver:
		return "deliver"
	case KindMessage:
		return "message"
	case KindReply:
		return "reply"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Frame flags
const (
	FlagCompressed uint8 = 1 << 0
)

var (
	ErrBadMagic   = errors.New("bad frame magic")
	ErrBadVersion = errors.New("unsupported link version")
	ErrShortFrame = errors.New("short frame")
	ErrTooLarge   = errors.New("frame body too large")
)

// Frame is one decoded link frame. Body is always uncompressed.
type Frame struct {
	Kind  Kind
	Flags uint8
	Seq   uint32
	Body  []byte
}

// Unmarshal decodes the msgpack body into v
func (f Frame) Unmarshal(v interface{}) error {
	if err := msgpack.Unmarshal(f.Body, v); err != nil {
		return fmt.Errorf("%s body: %w", f.Kind, err)
	}
	return nil
}

// Framer encodes and decodes frames. Safe for concurrent use.
type Framer struct {
	threshold int
	enc       *zstd.Encoder
	dec       *zstd.Decoder
}

// NewFramer creates a framer compressing bodies larger than threshold.
// A negative threshold disables compression.
func NewFramer(threshold int) (*Framer, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxBodySize))
	if err != nil {
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &Framer{threshold: threshold, enc: enc, dec: dec}, nil
}

// Encode marshals body with msgpack and wraps it in a frame
func (f *Framer) Encode(kind Kind, seq uint32, body interface{}) ([]byte, error) {
	raw, err := msgpack.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", kind, err)
	}

	var flags uint8
	if f.threshold >= 0 && len(raw) > f.threshold {
		raw = f.enc.EncodeAll(raw, nil)
		flags |= FlagCompressed
	}

	buf := make([]byte, HeaderSize+len(raw))
	copy(buf, Magic)
	buf[4] = LinkVersion
	buf[5] = byte(kind)
	buf[6] = flags
	binary.LittleEndian.PutUint32(buf[8:], seq)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(raw)))
	copy(buf[HeaderSize:], raw)
	return buf, nil
}

// Decode parses a frame and decompresses its body
func (f *Framer) Decode(b []byte) (Frame, error) {
	if len(b) < HeaderSize {
		return Frame{}, ErrShortFrame
	}
	if string(b[:4]) != Magic {
		return Frame{}, ErrBadMagic
	}
	if b[4] != LinkVersion {
		return Frame{}, fmt.Errorf("%w: %d", ErrBadVersion, b[4])
	}

	n := binary.LittleEndian.Uint32(b[12:])
	if n > MaxBodySize {
		return Frame{}, ErrTooLarge
	}
	if int(n) != len(b)-HeaderSize {
		return Frame{}, fmt.Errorf("%w: header says %d, got %d", ErrShortFrame, n, len(b)-HeaderSize)
	}

	fr := Frame{
		Kind:  Kind(b[5]),
		Flags: b[6],
		Seq:   binary.LittleEndian.Uint32(b[8:]),
		Body:  b[HeaderSize:],
	}
	if fr.Flags&FlagCompressed != 0 {
		body, err := f.dec.DecodeAll(fr.Body, nil)
		if err != nil {
			return Frame{}, fmt.Errorf("decompress %s: %w", fr.Kind, err)
		}
		fr.Body = body
	}
	return fr, nil
}

// Close releases the zstd decoder
func (f *Framer) Close() {
	f.dec.Close()
}
