package source

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-bridge/internal/types"
)

const camTopic = "/gazebo/default/robot/camera/image"

func TestMock_UnknownTopic(t *testing.T) {
	m := NewMock(nil)

	_, err := m.Subscribe("/nope", func(types.RawFrame) {})
	assert.ErrorIs(t, err, ErrUnknownTopic)
}

func TestMock_EmitDeliversSynchronously(t *testing.T) {
	m := NewMock(map[string]MockFeed{camTopic: {Width: 2, Height: 1, FormatCode: 1}})

	var got []types.RawFrame
	sub, err := m.Subscribe(camTopic, func(f types.RawFrame) { got = append(got, f) })
	require.NoError(t, err)
	assert.Equal(t, camTopic, sub.Topic())

	require.NoError(t, m.Emit(camTopic, types.NewRawFrame(2, 1, 1, []byte{1, 2})))
	require.Len(t, got, 1)
	assert.Equal(t, []byte{1, 2}, got[0].Data)

	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, sub.Unsubscribe())

	assert.ErrorIs(t, m.Emit(camTopic, types.NewRawFrame(2, 1, 1, []byte{1, 2})), ErrUnknownTopic)
}

func TestMock_DoubleSubscribeRejected(t *testing.T) {
	m := NewMock(map[string]MockFeed{camTopic: {Width: 1, Height: 1}})

	sub, err := m.Subscribe(camTopic, func(types.RawFrame) {})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	_, err = m.Subscribe(camTopic, func(types.RawFrame) {})
	assert.Error(t, err)
}

func TestMock_GeneratorProducesValidFrames(t *testing.T) {
	m := NewMock(map[string]MockFeed{camTopic: {Width: 8, Height: 4, FormatCode: 4, FPS: 200}})

	var count atomic.Int32
	var bad atomic.Int32
	sub, err := m.Subscribe(camTopic, func(f types.RawFrame) {
		if f.Format != types.PixelFormatRGB8 || len(f.Data) != 8*4*3 || f.TraceID == "" {
			bad.Add(1)
		}
		count.Add(1)
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool { return count.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, sub.Unsubscribe())

	// no deliveries after Unsubscribe returns
	after := count.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, count.Load())
	assert.Zero(t, bad.Load())
}

func TestMock_ResubscribeAfterUnsubscribe(t *testing.T) {
	m := NewMock(nil)
	m.AddFeed(camTopic, MockFeed{Width: 1, Height: 1})
	assert.Equal(t, []string{camTopic}, m.Topics())

	sub, err := m.Subscribe(camTopic, func(types.RawFrame) {})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())

	sub, err = m.Subscribe(camTopic, func(types.RawFrame) {})
	require.NoError(t, err)
	require.NoError(t, sub.Unsubscribe())
}
