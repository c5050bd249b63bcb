//go:build !gst

package source

// GStreamer is unavailable in this build
type GStreamer struct{}

// NewGStreamer always fails without the gst build tag
func NewGStreamer(GStreamerConfig) (*GStreamer, error) {
	return nil, ErrGStreamerUnavailable
}

// Subscribe implements Transport
func (g *GStreamer) Subscribe(topic string, fn Handler) (Subscription, error) {
	return nil, ErrGStreamerUnavailable
}
