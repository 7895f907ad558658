package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vzahanych/videoloft-bridge/internal/quota"
)

// StreamSource reports stream session counts
type StreamSource interface {
	LiveCount() (live, total int)
}

// ThumbnailSource reports thumbnail cache occupancy
type ThumbnailSource interface {
	Usage() (entries int, bytes int64)
}

// QuotaSource reports the vision quota snapshot
type QuotaSource interface {
	Status() quota.Status
}

// EventSource reports event bus deliveries lost to slow subscribers
type EventSource interface {
	Dropped() uint64
}

var (
	liveStreamsDesc = prometheus.NewDesc(
		namespace+"_streams_live", "Stream sessions currently live.", nil, nil,
	)
	sessionsDesc = prometheus.NewDesc(
		namespace+"_stream_sessions", "Stream sessions managed by the bridge.", nil, nil,
	)
	thumbEntriesDesc = prometheus.NewDesc(
		namespace+"_thumbnail_cache_entries", "Cameras with a cached thumbnail.", nil, nil,
	)
	thumbBytesDesc = prometheus.NewDesc(
		namespace+"_thumbnail_cache_bytes", "Total bytes held by the thumbnail cache.", nil, nil,
	)
	dailyRemainingDesc = prometheus.NewDesc(
		namespace+"_quota_daily_remaining", "Vision requests left today.", nil, nil,
	)
	minuteRemainingDesc = prometheus.NewDesc(
		namespace+"_quota_minute_remaining", "Vision requests left in the sliding minute window.", nil, nil,
	)
	breakerDesc = prometheus.NewDesc(
		namespace+"_quota_circuit_breaker_active", "Vision circuit breaker state (1=open).", nil, nil,
	)
	eventsDroppedDesc = prometheus.NewDesc(
		namespace+"_events_dropped_total", "Internal events dropped because a subscriber was full.", nil, nil,
	)
)

// Collector reads bridge state at scrape time. Nil sources are skipped.
type Collector struct {
	Streams    StreamSource
	Thumbnails ThumbnailSource
	Quota      QuotaSource
	Events     EventSource
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- liveStreamsDesc
	ch <- sessionsDesc
	ch <- thumbEntriesDesc
	ch <- thumbBytesDesc
	ch <- dailyRemainingDesc
	ch <- minuteRemainingDesc
	ch <- breakerDesc
	ch <- eventsDroppedDesc
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.Streams != nil {
		live, total := c.Streams.LiveCount()
		ch <- prometheus.MustNewConstMetric(liveStreamsDesc, prometheus.GaugeValue, float64(live))
		ch <- prometheus.MustNewConstMetric(sessionsDesc, prometheus.GaugeValue, float64(total))
	}

	if c.Thumbnails != nil {
		entries, bytes := c.Thumbnails.Usage()
		ch <- prometheus.MustNewConstMetric(thumbEntriesDesc, prometheus.GaugeValue, float64(entries))
		ch <- prometheus.MustNewConstMetric(thumbBytesDesc, prometheus.GaugeValue, float64(bytes))
	}

	if c.Quota != nil {
		st := c.Quota.Status()
		breaker := 0.0
		if st.CircuitBreakerActive {
			breaker = 1.0
		}
		ch <- prometheus.MustNewConstMetric(dailyRemainingDesc, prometheus.GaugeValue, float64(st.DailyRemaining))
		ch <- prometheus.MustNewConstMetric(minuteRemainingDesc, prometheus.GaugeValue, float64(st.MinuteRemaining))
		ch <- prometheus.MustNewConstMetric(breakerDesc, prometheus.GaugeValue, breaker)
	}

	if c.Events != nil {
		ch <- prometheus.MustNewConstMetric(eventsDroppedDesc, prometheus.CounterValue, float64(c.Events.Dropped()))
	}
}
