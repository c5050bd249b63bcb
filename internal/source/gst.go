//go:build gst

package source

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// GStreamer is a Transport backed by one GStreamer pipeline per topic
type GStreamer struct {
	pipelines map[string]string

	mu   sync.Mutex
	subs map[string]*gstSubscription
}

// NewGStreamer initializes GStreamer and returns a transport for the configured topics
func NewGStreamer(cfg GStreamerConfig) (*GStreamer, error) {
	if len(cfg.Pipelines) == 0 {
		return nil, fmt.Errorf("gstreamer: no pipelines configured")
	}

	// Safe to call multiple times
	gst.Init(nil)

	pipelines := make(map[string]string, len(cfg.Pipelines))
	for topic, desc := range cfg.Pipelines {
		pipelines[topic] = desc
	}

	return &GStreamer{
		pipelines: pipelines,
		subs:      make(map[string]*gstSubscription),
	}, nil
}

// Subscribe builds the topic's pipeline and starts it
func (g *GStreamer) Subscribe(topic string, fn Handler) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	desc, ok := g.pipelines[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if _, exists := g.subs[topic]; exists {
		return nil, fmt.Errorf("topic %s already subscribed", topic)
	}

	pipeline, err := gst.NewPipelineFromString(launchDescription(desc))
	if err != nil {
		return nil, fmt.Errorf("gstreamer: failed to parse pipeline for %s: %w", topic, err)
	}

	elem, err := pipeline.GetElementByName(sinkName)
	if err != nil {
		return nil, fmt.Errorf("gstreamer: appsink not found: %w", err)
	}
	sink := app.SinkFromElement(elem)
	sink.SetCaps(gst.NewCapsFromString(sinkCaps))

	ctx, cancel := context.WithCancel(context.Background())
	sub := &gstSubscription{
		owner:     g,
		topic:     topic,
		pipeline:  pipeline,
		fn:        fn,
		cancel:    cancel,
		startedAt: time.Now(),
	}

	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: sub.onNewSample,
	})

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		cancel()
		_ = pipeline.SetState(gst.StateNull)
		return nil, fmt.Errorf("gstreamer: failed to start pipeline for %s: %w", topic, err)
	}

	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		sub.monitorBus(ctx)
	}()

	g.subs[topic] = sub

	slog.Info("gstreamer source subscribed", "topic", topic, "pipeline", desc)
	return sub, nil
}

type gstSubscription struct {
	owner     *GStreamer
	topic     string
	pipeline  *gst.Pipeline
	fn        Handler
	cancel    context.CancelFunc
	startedAt time.Time

	stopped  atomic.Bool
	stopOnce sync.Once
	wg       sync.WaitGroup

	frames      atomic.Uint64
	emptySample atomic.Uint64
}

func (s *gstSubscription) Topic() string {
	return s.topic
}

// Unsubscribe stops the pipeline. Setting the pipeline to NULL joins its
// streaming threads, so no callback runs after it returns.
func (s *gstSubscription) Unsubscribe() error {
	var err error
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.cancel()
		s.wg.Wait()

		if e := s.pipeline.SetState(gst.StateNull); e != nil {
			err = fmt.Errorf("gstreamer: failed to set pipeline to NULL: %w", e)
		}

		s.owner.mu.Lock()
		delete(s.owner.subs, s.topic)
		s.owner.mu.Unlock()

		slog.Info("gstreamer source unsubscribed",
			"topic", s.topic,
			"frames", s.frames.Load(),
			"uptime", time.Since(s.startedAt),
		)
	})
	return err
}

// onNewSample runs on the pipeline streaming thread
func (s *gstSubscription) onNewSample(sink *app.Sink) gst.FlowReturn {
	if s.stopped.Load() {
		return gst.FlowEOS
	}

	sample := sink.PullSample()
	if sample == nil {
		// Skip the frame instead of terminating the stream
		s.emptySample.Add(1)
		return gst.FlowOK
	}

	width, height, format, ok := sampleGeometry(sample)
	if !ok {
		slog.Warn("gstreamer: sample without usable caps, skipping frame", "topic", s.topic)
		return gst.FlowOK
	}

	buffer := sample.GetBuffer()
	if buffer == nil {
		s.emptySample.Add(1)
		return gst.FlowOK
	}

	mapInfo := buffer.Map(gst.MapRead)
	data := mapInfo.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		s.emptySample.Add(1)
		return gst.FlowOK
	}

	// Copy out, GStreamer reuses the buffer
	code := formatCodeFromCaps(format)
	packed := stripRowPadding(data, width, height, types.PixelFormatFromCode(code))
	frameData := make([]byte, len(packed))
	copy(frameData, packed)
	buffer.Unmap()

	s.frames.Add(1)

	frame := types.NewRawFrame(width, height, code, frameData)
	frame.TraceID = uuid.New().String()
	s.fn(frame)

	return gst.FlowOK
}

// sampleGeometry reads width, height and format from the negotiated caps
func sampleGeometry(sample *gst.Sample) (uint32, uint32, string, bool) {
	caps := sample.GetCaps()
	if caps == nil || caps.GetSize() == 0 {
		return 0, 0, "", false
	}
	st := caps.GetStructureAt(0)
	if st == nil {
		return 0, 0, "", false
	}

	w, errW := st.GetValue("width")
	h, errH := st.GetValue("height")
	f, errF := st.GetValue("format")
	if errW != nil || errH != nil || errF != nil {
		return 0, 0, "", false
	}

	width, okW := asUint32(w)
	height, okH := asUint32(h)
	format, okF := f.(string)
	if !okW || !okH || !okF {
		return 0, 0, "", false
	}
	return width, height, format, true
}

func asUint32(v interface{}) (uint32, bool) {
	switch n := v.(type) {
	case int:
		return uint32(n), n >= 0
	case int32:
		return uint32(n), n >= 0
	case uint32:
		return n, true
	case int64:
		return uint32(n), n >= 0
	default:
		return 0, false
	}
}

// monitorBus watches the pipeline bus until ctx is cancelled.
// Errors are classified and logged; the subscription keeps its pipeline.
func (s *gstSubscription) monitorBus(ctx context.Context) {
	bus := s.pipeline.GetPipelineBus()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// Short timeout for responsive shutdown
		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}

		switch msg.Type() {
		case gst.MessageEOS:
			slog.Info("gstreamer: end of stream",
				"topic", s.topic,
				"uptime", time.Since(s.startedAt),
				"frames", s.frames.Load(),
			)
			return

		case gst.MessageError:
			gerr := msg.ParseError()
			if gerr == nil {
				continue
			}
			category := ClassifyPipelineError(gerr.Error(), gerr.DebugString())
			slog.Error("gstreamer: pipeline error",
				"topic", s.topic,
				"error", gerr.Error(),
				"debug", gerr.DebugString(),
				"category", category.String(),
				"frames", s.frames.Load(),
			)

		case gst.MessageStateChanged:
			if msg.Source() == s.pipeline.GetName() {
				old, current := msg.ParseStateChanged()
				slog.Debug("gstreamer: pipeline state changed", "topic", s.topic, "from", old, "to", current)
			}
		}
	}
}
