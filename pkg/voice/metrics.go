package voice

import (
	"sync"
	"time"

	"github.com/teslashibe/go-ruvo/internal/metrics"
)

// Metrics tracks latency at each stage of one turn.
// All durations are measured from the moment the utterance was captured.
type Metrics struct {
	// Timestamps for key events
	ResultTime       time.Time // When the final transcription arrived
	ReplyTime        time.Time // When the completion call returned
	ResponseDoneTime time.Time // When the reply finished playing

	// Computed latencies
	ThinkLatency time.Duration // Completion call
	SpeakLatency time.Duration // Synthesis and playback
	TotalLatency time.Duration // Utterance to end of reply

	// Fallback is set when the reply was the canned fallback.
	Fallback bool
}

// MetricsCollector collects per-turn latency. It is goroutine-safe.
type MetricsCollector struct {
	mu      sync.Mutex
	current Metrics
	history []Metrics // Recent turns for averaging
	prom    *metrics.Metrics

	onUpdate func(Metrics)
}

// NewMetricsCollector creates a collector. prom may be nil.
func NewMetricsCollector(prom *metrics.Metrics) *MetricsCollector {
	return &MetricsCollector{
		history: make([]Metrics, 0, 100),
		prom:    prom,
	}
}

// OnUpdate sets a callback that fires whenever a turn completes.
func (m *MetricsCollector) OnUpdate(fn func(Metrics)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onUpdate = fn
}

// MarkResult starts a new turn.
func (m *MetricsCollector) MarkResult() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = Metrics{ResultTime: time.Now()}
}

// MarkReply records the completion result.
func (m *MetricsCollector) MarkReply(fallback bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current.ReplyTime = time.Now()
	m.current.Fallback = fallback
	if !m.current.ResultTime.IsZero() {
		m.current.ThinkLatency = m.current.ReplyTime.Sub(m.current.ResultTime)
		m.observe("think", m.current.ThinkLatency)
	}
}

// MarkResponseDone closes the turn.
func (m *MetricsCollector) MarkResponseDone() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.ResultTime.IsZero() {
		return
	}
	m.current.ResponseDoneTime = time.Now()
	if !m.current.ReplyTime.IsZero() {
		m.current.SpeakLatency = m.current.ResponseDoneTime.Sub(m.current.ReplyTime)
		m.observe("speak", m.current.SpeakLatency)
	}
	m.current.TotalLatency = m.current.ResponseDoneTime.Sub(m.current.ResultTime)
	m.observe("total", m.current.TotalLatency)

	if m.prom != nil {
		outcome := "ok"
		if m.current.Fallback {
			outcome = "fallback"
		}
		m.prom.Turns.WithLabelValues(outcome).Inc()
	}

	m.history = append(m.history, m.current)
	if len(m.history) > 100 {
		m.history = m.history[1:]
	}
	if m.onUpdate != nil {
		snapshot := m.current
		go m.onUpdate(snapshot)
	}
	m.current = Metrics{}
}

// Current returns the in-progress turn.
func (m *MetricsCollector) Current() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Average returns mean latencies over recent turns.
func (m *MetricsCollector) Average() Metrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.history) == 0 {
		return Metrics{}
	}

	var avg Metrics
	for _, h := range m.history {
		avg.ThinkLatency += h.ThinkLatency
		avg.SpeakLatency += h.SpeakLatency
		avg.TotalLatency += h.TotalLatency
	}
	n := time.Duration(len(m.history))
	avg.ThinkLatency /= n
	avg.SpeakLatency /= n
	avg.TotalLatency /= n
	return avg
}

// Turns returns how many turns completed.
func (m *MetricsCollector) Turns() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.history)
}

func (m *MetricsCollector) observe(stage string, d time.Duration) {
	if m.prom != nil {
		m.prom.TurnLatency.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// FormatLatency returns a one-line latency summary.
func (m *Metrics) FormatLatency() string {
	return formatDuration(m.ThinkLatency) + " THINK | " +
		formatDuration(m.SpeakLatency) + " SPEAK | " +
		formatDuration(m.TotalLatency) + " TOTAL"
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return "---ms"
	}
	return d.Round(time.Millisecond).String()
}
