package analyzer

import (
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// Aggregator 会话级累计计数器，不做窗口化
// 本身不加锁，由Controller在同一临界区内与PacketStore一起更新
type Aggregator struct {
	totalPackets uint64
	totalBytes   uint64
	counts       types.ProtocolCounts
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Record 累加一个包，O(1)
func (a *Aggregator) Record(s types.PacketSummary) {
	a.totalPackets++
	if s.Length > 0 {
		a.totalBytes += uint64(s.Length)
	}
	p := s.Protocol
	if int(p) >= types.NumProtocols {
		p = types.ProtocolOther
	}
	a.counts[p]++
}

// Snapshot 返回计数器副本以及各协议占比
func (a *Aggregator) Snapshot() types.CaptureStatistics {
	stats := types.CaptureStatistics{
		TotalPackets: a.totalPackets,
		TotalBytes:   a.totalBytes,
		Counts:       a.counts,
		Percentages:  make(map[string]float64, types.NumProtocols),
	}
	for _, p := range types.AllProtocols {
		stats.Percentages[p.String()] = stats.Percentage(p)
	}
	return stats
}

// Reset 新会话开始时清零
func (a *Aggregator) Reset() {
	*a = Aggregator{}
}
