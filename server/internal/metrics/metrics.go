// Package metrics exposes relay counters and live gauges at /metrics in the
// Prometheus text exposition format.
//
// Collector implements relay.Observer and ws.Observer, so one instance counts
// inbound envelopes, dropped frames and slow-consumer disconnects for both
// layers. Gauges (connections, online users, viewers per stream) are read
// from the Source on every scrape.
package metrics

import (
	"log/slog"
	"net/http"
	"sort"
	"sync"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"
)

// Metric names.
const (
	Connections    = "streamhub_connections"
	OnlineUsers    = "streamhub_online_users"
	StreamViewers  = "streamhub_stream_viewers"
	EnvelopesTotal = "streamhub_envelopes_received_total"
	DroppedTotal   = "streamhub_frames_dropped_total"
	SlowConsumers  = "streamhub_slow_consumers_total"
)

// Source supplies the live gauges.
type Source interface {
	ConnectionCount() int
	OnlineUsers() []string
	ViewerCounts() map[string]int
}

// Collector accumulates counters and renders them with the gauges of src.
type Collector struct {
	src Source

	mu       sync.Mutex
	received map[string]uint64
	dropped  map[string]uint64
	slow     uint64
}

// New returns a Collector reading gauges from src. src may be nil and set
// later with Bind.
func New(src Source) *Collector {
	return &Collector{
		src:      src,
		received: make(map[string]uint64),
		dropped:  make(map[string]uint64),
	}
}

// Bind sets the gauge source. Call it before the collector is served; the
// relay that reports into the collector is usually also its source.
func (c *Collector) Bind(src Source) {
	c.src = src
}

// Received counts one inbound envelope of the given type.
func (c *Collector) Received(envelopeType string) {
	c.mu.Lock()
	c.received[envelopeType]++
	c.mu.Unlock()
}

// Dropped counts one inbound frame dropped for reason.
func (c *Collector) Dropped(reason string) {
	c.mu.Lock()
	c.dropped[reason]++
	c.mu.Unlock()
}

// SlowConsumer counts one connection closed for not draining its queue.
func (c *Collector) SlowConsumer() {
	c.mu.Lock()
	c.slow++
	c.mu.Unlock()
}

// Families returns every non-empty metric family, sorted by name.
func (c *Collector) Families() []*dto.MetricFamily {
	var conns, online float64
	viewerVals := make(map[string]float64)
	if c.src != nil {
		conns = float64(c.src.ConnectionCount())
		online = float64(len(c.src.OnlineUsers()))
		for id, n := range c.src.ViewerCounts() {
			viewerVals[id] = float64(n)
		}
	}

	c.mu.Lock()
	received := toFloat(c.received)
	dropped := toFloat(c.dropped)
	slow := float64(c.slow)
	c.mu.Unlock()

	fams := []*dto.MetricFamily{
		single(Connections, "Open WebSocket connections.", dto.MetricType_GAUGE, conns),
		single(OnlineUsers, "Users with an authenticated connection.", dto.MetricType_GAUGE, online),
		labelled(StreamViewers, "Current viewers per stream.", dto.MetricType_GAUGE, "stream", viewerVals),
		labelled(EnvelopesTotal, "Inbound envelopes accepted for dispatch, by type.", dto.MetricType_COUNTER, "type", received),
		labelled(DroppedTotal, "Inbound frames dropped without dispatch, by reason.", dto.MetricType_COUNTER, "reason", dropped),
		single(SlowConsumers, "Connections closed because their send queue was full.", dto.MetricType_COUNTER, slow),
	}

	out := fams[:0]
	for _, mf := range fams {
		if len(mf.GetMetric()) > 0 {
			out = append(out, mf)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// ServeHTTP writes the families in the text format.
func (c *Collector) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range c.Families() {
		if err := enc.Encode(mf); err != nil {
			slog.Warn("metrics: encode family", "name", mf.GetName(), "err", err)
			return
		}
	}
}

func single(name, help string, typ dto.MetricType, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   proto.String(name),
		Help:   proto.String(help),
		Type:   typ.Enum(),
		Metric: []*dto.Metric{sample(typ, v, nil)},
	}
}

func labelled(name, help string, typ dto.MetricType, label string, vals map[string]float64) *dto.MetricFamily {
	keys := make([]string, 0, len(vals))
	for k := range vals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mf := &dto.MetricFamily{
		Name: proto.String(name),
		Help: proto.String(help),
		Type: typ.Enum(),
	}
	for _, k := range keys {
		lp := []*dto.LabelPair{{Name: proto.String(label), Value: proto.String(k)}}
		mf.Metric = append(mf.Metric, sample(typ, vals[k], lp))
	}
	return mf
}

func sample(typ dto.MetricType, v float64, labels []*dto.LabelPair) *dto.Metric {
	m := &dto.Metric{Label: labels}
	if typ == dto.MetricType_COUNTER {
		m.Counter = &dto.Counter{Value: proto.Float64(v)}
	} else {
		m.Gauge = &dto.Gauge{Value: proto.Float64(v)}
	}
	return m
}

func toFloat(m map[string]uint64) map[string]float64 {
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = float64(v)
	}
	return out
}
