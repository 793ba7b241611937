package types

import (
	"fmt"
	"time"
)

// SessionState 抓包会话状态
type SessionState int

const (
	StateIdle SessionState = iota
	StateRunning
	StateStopped
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return fmt.Sprintf("SessionState(%d)", int(s))
	}
}

func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *SessionState) UnmarshalText(text []byte) error {
	for _, state := range []SessionState{StateIdle, StateRunning, StateStopped} {
		if string(text) == state.String() {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", text)
}

// StopReason 会话结束原因
type StopReason string

const (
	StopReasonNone      StopReason = ""
	StopReasonRequested StopReason = "requested"
	StopReasonPackets   StopReason = "packet_limit"
	StopReasonTimeout   StopReason = "timeout"
	StopReasonExhausted StopReason = "source_exhausted"
)

// SessionInfo 会话元数据
type SessionInfo struct {
	ID          string        `json:"id"`
	Interface   string        `json:"interface"`
	MaxPackets  int           `json:"max_packets"`
	MaxDuration time.Duration `json:"max_duration"`
	StartedAt   time.Time     `json:"started_at"`
	StoppedAt   time.Time     `json:"stopped_at,omitempty"`
	StopReason  StopReason    `json:"stop_reason,omitempty"`
}

// SessionStatus GetStatus的返回值
type SessionStatus struct {
	State         SessionState      `json:"state"`
	IsCapturing   bool              `json:"is_capturing"`
	LoopAlive     bool              `json:"loop_alive"`
	Session       SessionInfo       `json:"session"`
	Elapsed       time.Duration     `json:"elapsed"`
	PacketsStored int               `json:"packets_stored"`
	Statistics    CaptureStatistics `json:"statistics"`
	Thresholds    Thresholds        `json:"thresholds"`
}

// Thresholds 生效的检测阈值
type Thresholds struct {
	PortScan int    `json:"port_scan"`
	DNS      uint64 `json:"dns"`
	ICMP     uint64 `json:"icmp"`
}

// FindingKind 可疑行为类型
type FindingKind string

const (
	FindingPortScan     FindingKind = "PortScan"
	FindingDNSTunneling FindingKind = "DnsTunneling"
	FindingICMPFlood    FindingKind = "IcmpFlood"
)

// Severity 告警级别
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Finding 一条可疑行为检测结果，每次调用重新计算，不持久化
type Finding struct {
	Kind        FindingKind `json:"type"`
	Severity    Severity    `json:"severity"`
	Description string      `json:"description"`
	Address     string      `json:"source_ip,omitempty"`
	PortCount   int         `json:"ports_count,omitempty"`
	QueryCount  uint64      `json:"dns_count,omitempty"`
	PacketCount uint64      `json:"icmp_count,omitempty"`
}

// TalkerStat 地址出现次数
type TalkerStat struct {
	Address string `json:"ip"`
	Count   int    `json:"packets"`
}

// TrafficAnalysis GetTrafficAnalysis的返回值
type TrafficAnalysis struct {
	TotalPackets         uint64         `json:"total_packets"`
	TotalBytes           uint64         `json:"total_bytes"`
	AveragePacketSize    float64        `json:"avg_packet_size"`
	ProtocolDistribution ProtocolCounts `json:"protocol_distribution"`
	TopTalkers           []TalkerStat   `json:"top_talkers"`
	SessionState         SessionState   `json:"capture_status"`
}

// SessionReport 会话结束时交给输出端归档的最终快照
type SessionReport struct {
	Session              SessionInfo       `json:"session"`
	Statistics           CaptureStatistics `json:"statistics"`
	ProtocolDistribution ProtocolCounts    `json:"protocol_stats"`
	Findings             []Finding         `json:"suspicious_activities"`
	TopTalkers           []TalkerStat      `json:"top_talkers"`
}
