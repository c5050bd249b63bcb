package types

import "time"

// PixelFormat identifies the channel layout of a raw frame
type PixelFormat int

const (
	PixelFormatUnknown PixelFormat = iota
	PixelFormatGray8                // 1 channel, 8-bit luminance
	PixelFormatBGR8                 // 3 channels, 8-bit, B G R
	PixelFormatRGB8                 // 3 channels, 8-bit, R G B
)

// CanonicalChannels is the channel count of every frame leaving the converter
const CanonicalChannels = 3

// String returns a human-readable name for the format
func (p PixelFormat) String() string {
	switch p {
	case PixelFormatGray8:
		return "gray8"
	case PixelFormatBGR8:
		return "bgr8"
	case PixelFormatRGB8:
		return "rgb8"
	default:
		return "unknown"
	}
}

// Channels returns the number of interleaved channels per pixel (0 for Unknown)
func (p PixelFormat) Channels() int {
	switch p {
	case PixelFormatGray8:
		return 1
	case PixelFormatBGR8, PixelFormatRGB8:
		return 3
	default:
		return 0
	}
}

// PixelFormatFromCode maps a simulator wire code to a PixelFormat.
//
// Codes: 0 and 3 are BGR_INT8, 4 is RGB_INT8, 1 is L_INT8. Anything else is Unknown.
func PixelFormatFromCode(code uint32) PixelFormat {
	switch code {
	case 0, 3:
		return PixelFormatBGR8
	case 4:
		return PixelFormatRGB8
	case 1:
		return PixelFormatGray8
	default:
		return PixelFormatUnknown
	}
}

// RawFrame is an unprocessed image as delivered by a source transport.
// It is consumed once by the converter and never reused.
type RawFrame struct {
	// Width in pixels
	Width uint32
	// Height in pixels
	Height uint32
	// Format is the decoded channel layout
	Format PixelFormat
	// FormatCode is the wire code as received (kept for logging)
	FormatCode uint32
	// Data holds Width*Height*Format.Channels() bytes, row-major, no padding
	Data []byte
	// Timestamp is when the transport delivered the frame
	Timestamp time.Time
	// TraceID follows the frame through the pipeline logs
	TraceID string
}

// NewRawFrame builds a RawFrame from the inbound wire fields
func NewRawFrame(width, height, formatCode uint32, data []byte) RawFrame {
	return RawFrame{
		Width:      width,
		Height:     height,
		Format:     PixelFormatFromCode(formatCode),
		FormatCode: formatCode,
		Data:       data,
		Timestamp:  time.Now(),
	}
}

// CanonicalFrame is the normalized pipeline representation:
// 3 channels, desaturated, BGR order, 8-bit, row-major, no stride padding.
type CanonicalFrame struct {
	Width     uint32
	Height    uint32
	Data      []byte
	Seq       uint64
	Timestamp time.Time
	TraceID   string
}

// EncodedPayload is a serialized frame bound to an output topic.
// Immutable once created; the body belongs to the publisher after routing.
type EncodedPayload struct {
	Topic string
	Body  []byte
}
