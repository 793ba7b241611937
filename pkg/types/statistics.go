package types

import (
	"encoding/json"
	"math"
)

// ProtocolCounts 每个协议标签一个计数器，下标为Protocol
type ProtocolCounts [NumProtocols]uint64

// Get 返回指定协议的计数
func (c ProtocolCounts) Get(p Protocol) uint64 {
	if int(p) >= NumProtocols {
		return 0
	}
	return c[p]
}

// Sum 所有协议计数之和，始终等于总包数
func (c ProtocolCounts) Sum() uint64 {
	var total uint64
	for _, v := range c {
		total += v
	}
	return total
}

// Map 转换为以协议名为key的map
func (c ProtocolCounts) Map() map[string]uint64 {
	m := make(map[string]uint64, NumProtocols)
	for _, p := range AllProtocols {
		m[p.String()] = c[p]
	}
	return m
}

func (c ProtocolCounts) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Map())
}

func (c *ProtocolCounts) UnmarshalJSON(data []byte) error {
	var m map[string]uint64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*c = ProtocolCounts{}
	for name, v := range m {
		p, err := ParseProtocol(name)
		if err != nil {
			return err
		}
		c[p] = v
	}
	return nil
}

// CaptureStatistics 一次会话的统计快照
type CaptureStatistics struct {
	TotalPackets uint64             `json:"total_packets"`
	TotalBytes   uint64             `json:"total_bytes"`
	Counts       ProtocolCounts     `json:"protocol_counts"`
	Percentages  map[string]float64 `json:"protocol_percentages"`
}

// Percentage 协议占比(百分比，保留两位小数)，总数为0时为0
func (s CaptureStatistics) Percentage(p Protocol) float64 {
	if s.TotalPackets == 0 {
		return 0
	}
	return Round2(float64(s.Counts.Get(p)) / float64(s.TotalPackets) * 100)
}

// AveragePacketSize 平均包长，保留两位小数
func (s CaptureStatistics) AveragePacketSize() float64 {
	if s.TotalPackets == 0 {
		return 0
	}
	return Round2(float64(s.TotalBytes) / float64(s.TotalPackets))
}

// Round2 四舍五入到两位小数
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
