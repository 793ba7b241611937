package metrics

import (
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "traffic_analyzer"

// CaptureSnapshot 采集器需要的控制器视图
type CaptureSnapshot interface {
	Status() types.SessionStatus
	GetMetrics() *ProcessorMetrics
	SourceMetrics() *SourceMetrics
}

// Collector 在每次抓取时从控制器读取快照
type Collector struct {
	capture CaptureSnapshot

	running        *prometheus.Desc
	sessionPackets *prometheus.Desc
	sessionBytes   *prometheus.Desc
	packetsStored  *prometheus.Desc
	processed      *prometheus.Desc
	sinkErrors     *prometheus.Desc
	sessions       *prometheus.Desc
	sourceCaptured *prometheus.Desc
	sourceDropped  *prometheus.Desc
	sourceErrors   *prometheus.Desc
	elapsedSeconds *prometheus.Desc
}

func NewCollector(capture CaptureSnapshot) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		capture:        capture,
		running:        desc("capture_running", "Whether a capture session is running."),
		sessionPackets: desc("session_packets", "Packets counted in the current session by protocol.", "protocol"),
		sessionBytes:   desc("session_bytes", "Bytes counted in the current session."),
		packetsStored:  desc("packets_stored", "Summaries held in the recent packet store."),
		processed:      desc("processed_packets_total", "Frames processed by the capture loop."),
		sinkErrors:     desc("sink_errors_total", "Frames that failed to write to an output sink."),
		sessions:       desc("sessions_total", "Capture sessions started."),
		sourceCaptured: desc("source_packets_captured", "Frames read by the current source."),
		sourceDropped:  desc("source_packets_dropped", "Frames dropped by the current source on shutdown."),
		sourceErrors:   desc("source_errors", "Read errors of the current source."),
		elapsedSeconds: desc("session_elapsed_seconds", "Elapsed time of the current or last session."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.running
	ch <- c.sessionPackets
	ch <- c.sessionBytes
	ch <- c.packetsStored
	ch <- c.processed
	ch <- c.sinkErrors
	ch <- c.sessions
	ch <- c.sourceCaptured
	ch <- c.sourceDropped
	ch <- c.sourceErrors
	ch <- c.elapsedSeconds
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	status := c.capture.Status()

	running := 0.0
	if status.IsCapturing {
		running = 1
	}
	ch <- prometheus.MustNewConstMetric(c.running, prometheus.GaugeValue, running)
	for _, p := range types.AllProtocols {
		ch <- prometheus.MustNewConstMetric(c.sessionPackets, prometheus.GaugeValue,
			float64(status.Statistics.Counts.Get(p)), p.String())
	}
	ch <- prometheus.MustNewConstMetric(c.sessionBytes, prometheus.GaugeValue, float64(status.Statistics.TotalBytes))
	ch <- prometheus.MustNewConstMetric(c.packetsStored, prometheus.GaugeValue, float64(status.PacketsStored))
	ch <- prometheus.MustNewConstMetric(c.elapsedSeconds, prometheus.GaugeValue, status.Elapsed.Seconds())

	if m := c.capture.GetMetrics(); m != nil {
		snap := m.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.processed, prometheus.CounterValue, float64(snap.ProcessedPackets))
		ch <- prometheus.MustNewConstMetric(c.sinkErrors, prometheus.CounterValue, float64(snap.SinkErrors))
		ch <- prometheus.MustNewConstMetric(c.sessions, prometheus.CounterValue, float64(snap.Sessions))
	}

	if src := c.capture.SourceMetrics(); src != nil {
		snap := src.Snapshot()
		ch <- prometheus.MustNewConstMetric(c.sourceCaptured, prometheus.GaugeValue, float64(snap.PacketsCaptured))
		ch <- prometheus.MustNewConstMetric(c.sourceDropped, prometheus.GaugeValue, float64(snap.PacketsDropped))
		ch <- prometheus.MustNewConstMetric(c.sourceErrors, prometheus.GaugeValue, float64(snap.ErrorCount))
	}
}

// NewRegistry 注册运行时指标和抓包采集器
func NewRegistry(capture CaptureSnapshot) *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	registry.MustRegister(NewCollector(capture))
	return registry
}
