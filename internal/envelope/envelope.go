// Package envelope serializes canonical frames into self-describing MessagePack payloads.
//
// Two wire formats are supported:
//
//	map: {"width","height","channels","layout","seq","ts","data"} - readable with no schema
//	bin: the bare msgpack bin of the pixel bytes (legacy consumers reshape it themselves)
//
// In both formats the pixel bytes are carried untouched: BGR, 8-bit, row-major, no padding.
package envelope

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// Format selects the envelope layout
type Format string

const (
	FormatMap Format = "map"
	FormatBin Format = "bin"
)

// LayoutBGR8 is the layout tag written in map envelopes
const LayoutBGR8 = "bgr8"

// ErrMalformed is returned by Decode for payloads that are not valid envelopes
var ErrMalformed = errors.New("malformed envelope")

// Envelope is the decoded form of a payload.
// For bin payloads only Data is populated.
type Envelope struct {
	Width     uint32 `msgpack:"width"`
	Height    uint32 `msgpack:"height"`
	Channels  uint8  `msgpack:"channels"`
	Layout    string `msgpack:"layout"`
	Seq       uint64 `msgpack:"seq"`
	Timestamp int64  `msgpack:"ts"`
	Data      []byte `msgpack:"data"`
}

// Encoder serializes canonical frames. Safe for concurrent use.
type Encoder struct {
	format Format
}

// NewEncoder returns an encoder for the given format ("" means map)
func NewEncoder(format Format) (*Encoder, error) {
	switch format {
	case "":
		format = FormatMap
	case FormatMap, FormatBin:
	default:
		return nil, fmt.Errorf("unknown envelope format %q (must be %q or %q)", format, FormatMap, FormatBin)
	}
	return &Encoder{format: format}, nil
}

// Format returns the configured envelope format
func (e *Encoder) Format() Format {
	return e.format
}

// Encode serializes frame into a new payload body.
//
// A valid CanonicalFrame always encodes; an error here means the serializer
// itself failed and the caller should treat it as fatal.
func (e *Encoder) Encode(frame types.CanonicalFrame) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(frame.Data) + 64)

	enc := msgpack.NewEncoder(&buf)

	var err error
	switch e.format {
	case FormatBin:
		err = enc.EncodeBytes(frame.Data)
	default:
		var ts int64
		if !frame.Timestamp.IsZero() {
			ts = frame.Timestamp.UnixNano()
		}
		err = enc.Encode(&Envelope{
			Width:     frame.Width,
			Height:    frame.Height,
			Channels:  types.CanonicalChannels,
			Layout:    LayoutBGR8,
			Seq:       frame.Seq,
			Timestamp: ts,
			Data:      frame.Data,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("msgpack encode: %w", err)
	}

	return buf.Bytes(), nil
}

// Decode parses a payload produced by Encode in either format
func Decode(body []byte) (Envelope, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(body))

	code, err := dec.PeekCode()
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if code == msgpcode.Bin8 || code == msgpcode.Bin16 || code == msgpcode.Bin32 {
		data, err := dec.DecodeBytes()
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return Envelope{Data: data}, nil
	}

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	if want := uint64(env.Width) * uint64(env.Height) * uint64(env.Channels); uint64(len(env.Data)) != want {
		return Envelope{}, fmt.Errorf("%w: %dx%dx%d needs %d bytes, got %d",
			ErrMalformed, env.Width, env.Height, env.Channels, want, len(env.Data))
	}

	return env, nil
}
