package pixel

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-bridge/internal/types"
)

func assertDesaturated(t *testing.T, frame types.CanonicalFrame) {
	t.Helper()
	require.Len(t, frame.Data, int(frame.Width*frame.Height*3))
	for i := 0; i < len(frame.Data); i += 3 {
		b, g, r := frame.Data[i], frame.Data[i+1], frame.Data[i+2]
		if b != g || g != r {
			t.Fatalf("pixel %d not desaturated: b=%d g=%d r=%d", i/3, b, g, r)
		}
	}
}

func TestConvert_BGRScenario(t *testing.T) {
	data := []byte{
		10, 20, 30, 40, 50, 60, 70, 80, 90, 100, 110, 120,
		130, 140, 150, 160, 170, 180, 190, 200, 210, 220, 230, 240,
	}
	in := types.NewRawFrame(4, 2, 3, append([]byte(nil), data...))

	out, err := Convert(in)
	require.NoError(t, err)

	assert.Equal(t, uint32(4), out.Width)
	assert.Equal(t, uint32(2), out.Height)
	assert.Len(t, out.Data, len(data))
	assertDesaturated(t, out)

	// input untouched
	assert.Equal(t, data, in.Data)
}

func TestConvert_DesaturationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	cases := []struct {
		name string
		code uint32
	}{
		{"bgr code 0", 0},
		{"bgr code 3", 3},
		{"rgb", 4},
		{"gray", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for iter := 0; iter < 20; iter++ {
				w := uint32(rng.Intn(16) + 1)
				h := uint32(rng.Intn(16) + 1)
				format := types.PixelFormatFromCode(tc.code)
				data := make([]byte, int(w*h)*format.Channels())
				rng.Read(data)

				out, err := Convert(types.NewRawFrame(w, h, tc.code, data))
				require.NoError(t, err)
				assertDesaturated(t, out)
			}
		})
	}
}

func TestConvert_RGBAndBGRAgree(t *testing.T) {
	bgr := []byte{255, 0, 0, 0, 255, 0, 0, 0, 255, 12, 34, 56}
	rgb := make([]byte, len(bgr))
	for i := 0; i < len(bgr); i += 3 {
		rgb[i], rgb[i+1], rgb[i+2] = bgr[i+2], bgr[i+1], bgr[i]
	}

	fromBGR, err := Convert(types.NewRawFrame(2, 2, 3, bgr))
	require.NoError(t, err)
	fromRGB, err := Convert(types.NewRawFrame(2, 2, 4, rgb))
	require.NoError(t, err)

	assert.Equal(t, fromBGR.Data, fromRGB.Data)
}

func TestConvert_GrayIsReplicated(t *testing.T) {
	gray := []byte{0, 17, 128, 255, 3, 200}

	out, err := Convert(types.NewRawFrame(3, 2, 1, gray))
	require.NoError(t, err)

	for i, v := range gray {
		assert.Equal(t, []byte{v, v, v}, out.Data[i*3:i*3+3], "pixel %d", i)
	}
}

func TestConvert_LumaWeights(t *testing.T) {
	// Pure channels follow BT.601 weights
	assert.Equal(t, byte(76), Luma(255, 0, 0))
	assert.Equal(t, byte(150), Luma(0, 255, 0))
	assert.Equal(t, byte(29), Luma(0, 0, 255))
	assert.Equal(t, byte(255), Luma(255, 255, 255))
	assert.Equal(t, byte(0), Luma(0, 0, 0))
}

func TestConvert_UnknownFormat(t *testing.T) {
	for _, code := range []uint32{2, 5, 7, 99} {
		out, err := Convert(types.NewRawFrame(2, 2, code, make([]byte, 12)))
		require.ErrorIs(t, err, types.ErrUnsupportedFormat, "code %d", code)
		assert.Nil(t, out.Data)
	}
}

func TestConvert_LengthMismatch(t *testing.T) {
	_, err := Convert(types.NewRawFrame(4, 2, 3, make([]byte, 23)))
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)

	_, err = Convert(types.NewRawFrame(4, 2, 1, make([]byte, 24)))
	assert.ErrorIs(t, err, types.ErrUnsupportedFormat)
}

func TestConvert_ZeroDimensions(t *testing.T) {
	for _, code := range []uint32{0, 1, 3, 4, 42} {
		_, err := Convert(types.NewRawFrame(0, 5, code, nil))
		assert.ErrorIs(t, err, types.ErrInvalidDimensions, "code %d", code)

		_, err = Convert(types.NewRawFrame(5, 0, code, nil))
		assert.ErrorIs(t, err, types.ErrInvalidDimensions, "code %d", code)
	}
}

func TestConvert_CarriesTraceMetadata(t *testing.T) {
	in := types.NewRawFrame(1, 1, 1, []byte{9})
	in.TraceID = "trace-1"

	out, err := Convert(in)
	require.NoError(t, err)
	assert.Equal(t, "trace-1", out.TraceID)
	assert.Equal(t, in.Timestamp, out.Timestamp)
}
