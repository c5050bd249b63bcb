package source

import (
	"errors"
	"strings"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// ErrGStreamerUnavailable is returned by NewGStreamer in builds without the gst tag
var ErrGStreamerUnavailable = errors.New("gstreamer support not compiled in (build with -tags gst)")

// sinkName is the appsink element appended to every launch description
const sinkName = "bridgesink"

// sinkCaps restricts negotiation to the layouts the pixel converter accepts
const sinkCaps = "video/x-raw,format={ BGR, RGB, GRAY8 }"

// GStreamerConfig maps source topics to gst-launch style pipeline descriptions.
//
// The description must end in a raw video pad, e.g.
// "videotestsrc is-live=true ! video/x-raw,width=640,height=480". A converter and
// the appsink are appended automatically.
type GStreamerConfig struct {
	Pipelines map[string]string
}

// launchDescription completes a user pipeline with the bridge appsink
func launchDescription(desc string) string {
	return strings.TrimSpace(desc) +
		" ! videoconvert ! appsink name=" + sinkName +
		" sync=false max-buffers=1 drop=true emit-signals=false"
}

// formatCodeFromCaps maps a negotiated caps format string to a camera format code
func formatCodeFromCaps(format string) uint32 {
	switch format {
	case "BGR":
		return 3
	case "RGB":
		return 4
	case "GRAY8":
		return 1
	default:
		// unknown code, rejected downstream by the converter
		return 0xffff
	}
}

// stripRowPadding removes per-row stride padding from a mapped video buffer.
//
// GStreamer aligns raw video rows to 4 bytes, so a 3-channel frame whose width
// is not a multiple of 4 carries padding at the end of each row. Buffers
// without padding are returned unchanged.
func stripRowPadding(data []byte, width, height uint32, format types.PixelFormat) []byte {
	rowBytes := int(width) * format.Channels()
	rows := int(height)
	if rowBytes == 0 || rows == 0 || len(data) == rowBytes*rows {
		return data
	}

	stride := (rowBytes + 3) &^ 3
	if len(data) < stride*(rows-1)+rowBytes {
		// Not a layout we recognize, let the converter reject it
		return data
	}

	packed := make([]byte, rowBytes*rows)
	for y := 0; y < rows; y++ {
		copy(packed[y*rowBytes:(y+1)*rowBytes], data[y*stride:y*stride+rowBytes])
	}
	return packed
}

// ErrorCategory represents the classification of pipeline errors for telemetry
type ErrorCategory int

const (
	// ErrCategoryNetwork indicates network-related failures (connection, timeout, DNS)
	ErrCategoryNetwork ErrorCategory = iota
	// ErrCategoryCodec indicates codec/stream failures (decode errors, format issues)
	ErrCategoryCodec
	// ErrCategoryAuth indicates authentication/authorization failures
	ErrCategoryAuth
	// ErrCategoryUnknown indicates unclassified errors
	ErrCategoryUnknown
)

func (e ErrorCategory) String() string {
	switch e {
	case ErrCategoryNetwork:
		return "network"
	case ErrCategoryCodec:
		return "codec"
	case ErrCategoryAuth:
		return "auth"
	default:
		return "unknown"
	}
}

var (
	authKeywords = []string{
		"unauthorized", "401", "403", "forbidden", "authentication", "credentials", "password",
	}
	codecKeywords = []string{
		"codec", "decode", "format", "negotiation", "caps", "not negotiated", "no decoder", "missing plugin",
	}
	networkKeywords = []string{
		"connection", "timeout", "unreachable", "network", "dns", "resolve", "socket",
		"could not connect", "failed to connect",
	}
)

// ClassifyPipelineError categorizes a bus error from its message and debug string.
// Auth is checked first (most specific), then codec, then network.
func ClassifyPipelineError(message, debug string) ErrorCategory {
	combined := strings.ToLower(message + " " + debug)

	switch {
	case containsAny(combined, authKeywords):
		return ErrCategoryAuth
	case containsAny(combined, codecKeywords):
		return ErrCategoryCodec
	case containsAny(combined, networkKeywords):
		return ErrCategoryNetwork
	default:
		return ErrCategoryUnknown
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
