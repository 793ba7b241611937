package analyzer

import (
	"fmt"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// DetectorConfig 检测阈值，均为"大于"触发
type DetectorConfig struct {
	PortScanThreshold int    // 单个源地址访问的不同目的端口数
	DNSThreshold      uint64 // 会话内累计DNS包数
	ICMPThreshold     uint64 // 会话内累计ICMP包数
}

// DefaultDetectorConfig 返回默认阈值
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		PortScanThreshold: 20,
		DNSThreshold:      50,
		ICMPThreshold:     100,
	}
}

// Detector 可疑行为检测器，无内部状态，每次调用根据输入重新计算
//
// DNS和ICMP规则使用整个会话的累计计数而不是速率窗口，
// 长时间运行的正常会话也可能触发；DNS规则只看数量不看内容，
// DNS流量大的正常主机会产生误报。
type Detector struct {
	config DetectorConfig
}

// NewDetector 按给定阈值创建检测器
// DNS和ICMP阈值为0表示出现即告警，端口阈值非正时使用默认值
func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.PortScanThreshold <= 0 {
		cfg.PortScanThreshold = DefaultDetectorConfig().PortScanThreshold
	}
	return &Detector{config: cfg}
}

// Config 返回生效的阈值
func (d *Detector) Config() DetectorConfig {
	return d.config
}

// Thresholds 以对外展示的形式返回生效的阈值
func (d *Detector) Thresholds() types.Thresholds {
	return types.Thresholds{
		PortScan: d.config.PortScanThreshold,
		DNS:      d.config.DNSThreshold,
		ICMP:     d.config.ICMPThreshold,
	}
}

// Evaluate 对当前窗口和统计快照执行全部规则，结果可能为空但不会出错
func (d *Detector) Evaluate(entries []types.PacketSummary, stats types.CaptureStatistics) []types.Finding {
	findings := d.detectPortScan(entries)

	if dns := stats.Counts.Get(types.ProtocolDNS); dns > d.config.DNSThreshold {
		findings = append(findings, types.Finding{
			Kind:        types.FindingDNSTunneling,
			Severity:    types.SeverityMedium,
			Description: fmt.Sprintf("Unusual DNS activity detected (%d queries)", dns),
			QueryCount:  dns,
		})
	}

	if icmp := stats.Counts.Get(types.ProtocolICMP); icmp > d.config.ICMPThreshold {
		findings = append(findings, types.Finding{
			Kind:        types.FindingICMPFlood,
			Severity:    types.SeverityHigh,
			Description: fmt.Sprintf("Possible ICMP flood attack (%d packets)", icmp),
			PacketCount: icmp,
		})
	}

	return findings
}

// detectPortScan 按源地址统计不同目的端口数，按源地址首次出现的顺序输出
func (d *Detector) detectPortScan(entries []types.PacketSummary) []types.Finding {
	ports := make(map[string]map[uint16]struct{})
	var order []string

	for _, e := range entries {
		if !e.HasPorts || !e.SrcIP.IsValid() {
			continue
		}
		src := e.SrcIP.String()
		set, ok := ports[src]
		if !ok {
			set = make(map[uint16]struct{})
			ports[src] = set
			order = append(order, src)
		}
		set[e.DstPort] = struct{}{}
	}

	findings := make([]types.Finding, 0)
	for _, src := range order {
		n := len(ports[src])
		if n <= d.config.PortScanThreshold {
			continue
		}
		findings = append(findings, types.Finding{
			Kind:        types.FindingPortScan,
			Severity:    types.SeverityHigh,
			Description: fmt.Sprintf("Possible port scan detected from %s (%d ports)", src, n),
			Address:     src,
			PortCount:   n,
		})
	}
	return findings
}
