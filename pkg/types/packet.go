package types

import (
	"encoding/json"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// Frame 表示从数据源读取到的一个原始链路层帧
type Frame struct {
	CaptureInfo gopacket.CaptureInfo
	Data        []byte
	LinkType    layers.LinkType
}

// WireLength 返回帧在线路上的长度，未知时退化为捕获长度
func (f Frame) WireLength() int {
	if f.CaptureInfo.Length > 0 {
		return f.CaptureInfo.Length
	}
	return len(f.Data)
}

// Protocol 协议标签，分类器输出的封闭集合
type Protocol uint8

const (
	ProtocolTCP Protocol = iota
	ProtocolUDP
	ProtocolICMP
	ProtocolARP
	ProtocolDNS
	ProtocolOther

	NumProtocols = int(ProtocolOther) + 1
)

// AllProtocols 按固定顺序列出全部协议标签
var AllProtocols = [NumProtocols]Protocol{
	ProtocolTCP, ProtocolUDP, ProtocolICMP, ProtocolARP, ProtocolDNS, ProtocolOther,
}

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "TCP"
	case ProtocolUDP:
		return "UDP"
	case ProtocolICMP:
		return "ICMP"
	case ProtocolARP:
		return "ARP"
	case ProtocolDNS:
		return "DNS"
	default:
		return "Other"
	}
}

// ParseProtocol 将协议名称(大小写不敏感)转换为协议标签
func ParseProtocol(s string) (Protocol, error) {
	for _, p := range AllProtocols {
		if strings.EqualFold(s, p.String()) {
			return p, nil
		}
	}
	return ProtocolOther, fmt.Errorf("unknown protocol %q", s)
}

func (p Protocol) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Protocol) UnmarshalText(text []byte) error {
	v, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// PacketSummary 单个帧的分类结果，创建后不可修改
type PacketSummary struct {
	Timestamp time.Time
	Length    int
	Protocol  Protocol
	SrcIP     netip.Addr // 无效地址表示缺失
	DstIP     netip.Addr
	SrcPort   uint16
	DstPort   uint16
	HasPorts  bool   // 仅TCP/UDP/DNS携带端口
	Info      string // 简短描述：TCP标志、ICMP类型、DNS查询名等
	Query     string // DNS查询名
}

// Addresses 返回存在的源/目的地址
func (s PacketSummary) Addresses() (src, dst string) {
	if s.SrcIP.IsValid() {
		src = s.SrcIP.String()
	}
	if s.DstIP.IsValid() {
		dst = s.DstIP.String()
	}
	return src, dst
}

type packetSummaryJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Length    int       `json:"length"`
	Protocol  Protocol  `json:"protocol"`
	SrcIP     *string   `json:"src_ip"`
	DstIP     *string   `json:"dst_ip"`
	SrcPort   *uint16   `json:"src_port"`
	DstPort   *uint16   `json:"dst_port"`
	Info      string    `json:"info"`
	Query     string    `json:"query,omitempty"`
}

// MarshalJSON 缺失的地址和端口输出为null
func (s PacketSummary) MarshalJSON() ([]byte, error) {
	out := packetSummaryJSON{
		Timestamp: s.Timestamp,
		Length:    s.Length,
		Protocol:  s.Protocol,
		Info:      s.Info,
		Query:     s.Query,
	}
	src, dst := s.Addresses()
	if src != "" {
		out.SrcIP = &src
	}
	if dst != "" {
		out.DstIP = &dst
	}
	if s.HasPorts {
		sp, dp := s.SrcPort, s.DstPort
		out.SrcPort = &sp
		out.DstPort = &dp
	}
	return json.Marshal(out)
}

func (s *PacketSummary) UnmarshalJSON(data []byte) error {
	var in packetSummaryJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = PacketSummary{
		Timestamp: in.Timestamp,
		Length:    in.Length,
		Protocol:  in.Protocol,
		Info:      in.Info,
		Query:     in.Query,
	}
	if in.SrcIP != nil {
		addr, err := netip.ParseAddr(*in.SrcIP)
		if err != nil {
			return err
		}
		s.SrcIP = addr
	}
	if in.DstIP != nil {
		addr, err := netip.ParseAddr(*in.DstIP)
		if err != nil {
			return err
		}
		s.DstIP = addr
	}
	if in.SrcPort != nil && in.DstPort != nil {
		s.HasPorts = true
		s.SrcPort = *in.SrcPort
		s.DstPort = *in.DstPort
	}
	return nil
}
