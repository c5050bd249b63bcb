package bridge

import (
	"context"
	"time"
)

// highDropRate is the per-interval drop rate above which a session is flagged
const highDropRate = 0.80

// StartStatsLogger logs bridge stats every interval until ctx is done.
// Blocks; run it in its own goroutine.
func (m *Manager) StartStatsLogger(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Track previous stats to calculate delta drop rates
	prev := indexByTopic(m.Sessions())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := m.Stats()

			for _, s := range stats.Sessions {
				if s.Rate.Frames == rateWindow && !s.Rate.IsStable {
					m.logger.Debug("session source rate unstable",
						"source_topic", s.SourceTopic,
						"fps_mean", s.Rate.FPSMean,
						"fps_stddev", s.Rate.FPSStdDev,
						"jitter_max_s", s.Rate.JitterMax)
				}

				last := prev[s.SourceTopic]
				if last.ID != s.ID {
					// Session was re-added; start over
					last = SessionStats{}
				}

				deltaReceived := s.Received - last.Received
				deltaPublished := s.Published - last.Published
				if deltaReceived == 0 || deltaPublished >= deltaReceived {
					continue
				}

				dropRate := float64(deltaReceived-deltaPublished) / float64(deltaReceived)
				if dropRate > highDropRate {
					m.logger.Warn("session high drop rate detected",
						"source_topic", s.SourceTopic,
						"drop_rate_pct", int(dropRate*100),
						"dropped_last_interval", deltaReceived-deltaPublished,
						"frames_last_interval", deltaReceived,
						"action", "check subscriber and source format")
				}
			}

			fields := []any{
				"sessions", len(stats.Sessions),
				"enqueued", stats.Publisher.Enqueued,
				"sent", stats.Publisher.Sent,
				"queue_dropped", stats.Publisher.Dropped,
				"write_errors", stats.Publisher.WriteErrors,
				"queue_depth", stats.Publisher.Depth,
			}
			for _, s := range stats.Sessions {
				fields = append(fields, s.SourceTopic+"_published", s.Published)
			}
			m.logger.Debug("bridge stats", fields...)

			prev = indexByTopic(stats.Sessions)
		}
	}
}

func indexByTopic(sessions []SessionStats) map[string]SessionStats {
	out := make(map[string]SessionStats, len(sessions))
	for _, s := range sessions {
		out[s.SourceTopic] = s
	}
	return out
}
