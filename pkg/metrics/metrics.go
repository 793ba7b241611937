package metrics

import (
	"sync/atomic"
	"time"
)

// ProcessorMetrics 抓包循环的处理指标
type ProcessorMetrics struct {
	ProcessedPackets uint64
	SinkErrors       uint64
	ProcessingTime   uint64 // 纳秒
	Sessions         uint64
}

func (m *ProcessorMetrics) IncrementProcessed() {
	atomic.AddUint64(&m.ProcessedPackets, 1)
}

func (m *ProcessorMetrics) IncrementSinkErrors() {
	atomic.AddUint64(&m.SinkErrors, 1)
}

func (m *ProcessorMetrics) IncrementSessions() {
	atomic.AddUint64(&m.Sessions, 1)
}

func (m *ProcessorMetrics) AddProcessingTime(duration time.Duration) {
	atomic.AddUint64(&m.ProcessingTime, uint64(duration.Nanoseconds()))
}

// Snapshot 原子地读取各计数器
func (m *ProcessorMetrics) Snapshot() ProcessorMetrics {
	return ProcessorMetrics{
		ProcessedPackets: atomic.LoadUint64(&m.ProcessedPackets),
		SinkErrors:       atomic.LoadUint64(&m.SinkErrors),
		ProcessingTime:   atomic.LoadUint64(&m.ProcessingTime),
		Sessions:         atomic.LoadUint64(&m.Sessions),
	}
}

// SourceMetrics 数据源读取指标
type SourceMetrics struct {
	PacketsCaptured uint64
	PacketsDropped  uint64
	BytesProcessed  uint64
	ErrorCount      uint64
}

func (m *SourceMetrics) IncrementErrorCount() {
	atomic.AddUint64(&m.ErrorCount, 1)
}

// IncrementPacketsCaptured 增加捕获的数据包计数
func (m *SourceMetrics) IncrementPacketsCaptured() {
	atomic.AddUint64(&m.PacketsCaptured, 1)
}

// IncrementPacketsDropped 下游停止后丢弃的包
func (m *SourceMetrics) IncrementPacketsDropped() {
	atomic.AddUint64(&m.PacketsDropped, 1)
}

// AddBytesProcessed 增加处理的字节数
func (m *SourceMetrics) AddBytesProcessed(bytes uint64) {
	atomic.AddUint64(&m.BytesProcessed, bytes)
}

// Snapshot 原子地读取各计数器
func (m *SourceMetrics) Snapshot() SourceMetrics {
	return SourceMetrics{
		PacketsCaptured: atomic.LoadUint64(&m.PacketsCaptured),
		PacketsDropped:  atomic.LoadUint64(&m.PacketsDropped),
		BytesProcessed:  atomic.LoadUint64(&m.BytesProcessed),
		ErrorCount:      atomic.LoadUint64(&m.ErrorCount),
	}
}
