// Package pixel normalizes raw camera frames into the canonical bridge layout.
//
// Every frame leaving Convert is 3-channel BGR and desaturated: the luma of each
// pixel is written to all three channels, whatever layout the frame arrived in.
package pixel

import (
	"fmt"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// BT.601 luma weights in 14-bit fixed point (sum = 1<<14).
const (
	lumaShift = 14
	lumaR     = 4899
	lumaG     = 9617
	lumaB     = 1868
	lumaRound = 1 << (lumaShift - 1)
)

// maxPixels bounds Width*Height so the byte count cannot overflow int on 32-bit targets.
const maxPixels = 1 << 28

// Convert turns a RawFrame into a desaturated 3-channel BGR CanonicalFrame.
//
// Errors:
//   - types.ErrInvalidDimensions when Width or Height is zero (any format)
//   - types.ErrUnsupportedFormat for Unknown formats or a mismatched byte length
//
// The returned frame owns a fresh buffer; the input is not modified.
func Convert(frame types.RawFrame) (types.CanonicalFrame, error) {
	if frame.Width == 0 || frame.Height == 0 {
		return types.CanonicalFrame{}, fmt.Errorf("%w: %dx%d",
			types.ErrInvalidDimensions, frame.Width, frame.Height)
	}

	channels := frame.Format.Channels()
	if channels == 0 {
		return types.CanonicalFrame{}, fmt.Errorf("%w: code %d",
			types.ErrUnsupportedFormat, frame.FormatCode)
	}

	pixels := uint64(frame.Width) * uint64(frame.Height)
	if pixels > maxPixels {
		return types.CanonicalFrame{}, fmt.Errorf("%w: %dx%d exceeds %d pixels",
			types.ErrInvalidDimensions, frame.Width, frame.Height, maxPixels)
	}

	if want := pixels * uint64(channels); uint64(len(frame.Data)) != want {
		return types.CanonicalFrame{}, fmt.Errorf("%w: %s %dx%d needs %d bytes, got %d",
			types.ErrUnsupportedFormat, frame.Format, frame.Width, frame.Height, want, len(frame.Data))
	}

	bgr := toBGR(frame.Format, frame.Data, int(pixels))
	desaturate(bgr)

	return types.CanonicalFrame{
		Width:     frame.Width,
		Height:    frame.Height,
		Data:      bgr,
		Timestamp: frame.Timestamp,
		TraceID:   frame.TraceID,
	}, nil
}

// toBGR expands src into a new 3-channel BGR buffer
func toBGR(format types.PixelFormat, src []byte, pixels int) []byte {
	dst := make([]byte, pixels*types.CanonicalChannels)

	switch format {
	case types.PixelFormatBGR8:
		copy(dst, src)

	case types.PixelFormatRGB8:
		for i := 0; i < len(src); i += 3 {
			dst[i] = src[i+2]
			dst[i+1] = src[i+1]
			dst[i+2] = src[i]
		}

	case types.PixelFormatGray8:
		for i, v := range src {
			o := i * 3
			dst[o] = v
			dst[o+1] = v
			dst[o+2] = v
		}
	}

	return dst
}

// desaturate replaces every BGR pixel with its luma, in place
func desaturate(bgr []byte) {
	for i := 0; i < len(bgr); i += 3 {
		y := Luma(bgr[i+2], bgr[i+1], bgr[i])
		bgr[i] = y
		bgr[i+1] = y
		bgr[i+2] = y
	}
}

// Luma returns the BT.601 luma of an RGB triple, rounded to nearest
func Luma(r, g, b byte) byte {
	return byte((uint32(r)*lumaR + uint32(g)*lumaG + uint32(b)*lumaB + lumaRound) >> lumaShift)
}
