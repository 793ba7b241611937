package processor

import (
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Classifier 将一个原始帧解析为PacketSummary
// 按顺序匹配，先匹配者优先：IP(TCP/UDP+DNS/ICMP/其他) -> ARP -> Other
// 解析失败的字段留空，协议标签退化为Other，不会返回错误
type Classifier struct {
	// 畸形帧日志限速，避免异常流量刷屏
	limiter *rate.Limiter
}

func NewClassifier() *Classifier {
	return &Classifier{
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Classify 解析单个帧，总是返回一个结果
func (c *Classifier) Classify(frame types.Frame) (summary types.PacketSummary) {
	summary = types.PacketSummary{
		Timestamp: frame.CaptureInfo.Timestamp,
		Length:    frame.WireLength(),
		Protocol:  types.ProtocolOther,
	}
	if summary.Timestamp.IsZero() {
		summary.Timestamp = time.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			if c.limiter.Allow() {
				logrus.Warnf("Recovered while classifying %d byte frame: %v", len(frame.Data), r)
			}
			summary = types.PacketSummary{
				Timestamp: summary.Timestamp,
				Length:    summary.Length,
				Protocol:  types.ProtocolOther,
			}
		}
	}()

	if len(frame.Data) == 0 {
		return summary
	}

	parsed := gopacket.NewPacket(frame.Data, frame.LinkType, gopacket.DecodeOptions{Lazy: true, NoCopy: true})
	if errLayer := parsed.ErrorLayer(); errLayer != nil && c.limiter.Allow() {
		logrus.Debugf("Partial decode of frame: %v", errLayer.Error())
	}

	// 1. IP层
	if src, dst, ok := ipAddresses(parsed); ok {
		summary.SrcIP = src
		summary.DstIP = dst
		classifyTransport(parsed, &summary)
		return summary
	}

	// 2. ARP
	if arpLayer := parsed.Layer(layers.LayerTypeARP); arpLayer != nil {
		if arp, ok := arpLayer.(*layers.ARP); ok {
			summary.Protocol = types.ProtocolARP
			summary.SrcIP = addrFromBytes(arp.SourceProtAddress)
			summary.DstIP = addrFromBytes(arp.DstProtAddress)
			summary.Info = "Op: " + arpOperation(arp.Operation)
		}
		return summary
	}

	// 3. 其他
	return summary
}

// ipAddresses 提取IPv4/IPv6源和目的地址
func ipAddresses(parsed gopacket.Packet) (netip.Addr, netip.Addr, bool) {
	if ipLayer := parsed.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		if ip, ok := ipLayer.(*layers.IPv4); ok {
			return addrFromIP(ip.SrcIP), addrFromIP(ip.DstIP), true
		}
	}
	if ipLayer := parsed.Layer(layers.LayerTypeIPv6); ipLayer != nil {
		if ip, ok := ipLayer.(*layers.IPv6); ok {
			return addrFromIP(ip.SrcIP), addrFromIP(ip.DstIP), true
		}
	}
	return netip.Addr{}, netip.Addr{}, false
}

// classifyTransport 根据传输层确定协议标签，DNS优先于UDP
func classifyTransport(parsed gopacket.Packet, summary *types.PacketSummary) {
	if tcpLayer := parsed.Layer(layers.LayerTypeTCP); tcpLayer != nil {
		if tcp, ok := tcpLayer.(*layers.TCP); ok {
			summary.Protocol = types.ProtocolTCP
			summary.HasPorts = true
			summary.SrcPort = uint16(tcp.SrcPort)
			summary.DstPort = uint16(tcp.DstPort)
			summary.Info = "Flags: " + tcpFlags(tcp)
			return
		}
	}

	if udpLayer := parsed.Layer(layers.LayerTypeUDP); udpLayer != nil {
		if udp, ok := udpLayer.(*layers.UDP); ok {
			summary.Protocol = types.ProtocolUDP
			summary.HasPorts = true
			summary.SrcPort = uint16(udp.SrcPort)
			summary.DstPort = uint16(udp.DstPort)
			if name, ok := dnsQuestion(parsed); ok {
				summary.Protocol = types.ProtocolDNS
				summary.Query = name
				summary.Info = "Query: " + name
			}
			return
		}
	}

	if icmpLayer := parsed.Layer(layers.LayerTypeICMPv4); icmpLayer != nil {
		if icmp, ok := icmpLayer.(*layers.ICMPv4); ok {
			summary.Protocol = types.ProtocolICMP
			summary.Info = fmt.Sprintf("Type: %d Code: %d", icmp.TypeCode.Type(), icmp.TypeCode.Code())
			return
		}
	}

	if icmpLayer := parsed.Layer(layers.LayerTypeICMPv6); icmpLayer != nil {
		if icmp, ok := icmpLayer.(*layers.ICMPv6); ok {
			summary.Protocol = types.ProtocolICMP
			summary.Info = fmt.Sprintf("Type: %d Code: %d", icmp.TypeCode.Type(), icmp.TypeCode.Code())
			return
		}
	}

	summary.Protocol = types.ProtocolOther
}

// dnsQuestion 返回DNS报文中第一个查询名
func dnsQuestion(parsed gopacket.Packet) (string, bool) {
	dnsLayer := parsed.Layer(layers.LayerTypeDNS)
	if dnsLayer == nil {
		return "", false
	}
	dns, ok := dnsLayer.(*layers.DNS)
	if !ok || len(dns.Questions) == 0 {
		return "", false
	}
	return strings.ToValidUTF8(string(dns.Questions[0].Name), ""), true
}

func tcpFlags(tcp *layers.TCP) string {
	var flags []string
	if tcp.SYN {
		flags = append(flags, "SYN")
	}
	if tcp.ACK {
		flags = append(flags, "ACK")
	}
	if tcp.FIN {
		flags = append(flags, "FIN")
	}
	if tcp.RST {
		flags = append(flags, "RST")
	}
	if tcp.PSH {
		flags = append(flags, "PSH")
	}
	if tcp.URG {
		flags = append(flags, "URG")
	}
	if tcp.ECE {
		flags = append(flags, "ECE")
	}
	if tcp.CWR {
		flags = append(flags, "CWR")
	}
	if tcp.NS {
		flags = append(flags, "NS")
	}
	if len(flags) == 0 {
		return "none"
	}
	return strings.Join(flags, ",")
}

func arpOperation(op uint16) string {
	switch op {
	case layers.ARPRequest:
		return "request"
	case layers.ARPReply:
		return "reply"
	default:
		return fmt.Sprintf("%d", op)
	}
}

func addrFromIP(ip net.IP) netip.Addr {
	if v4 := ip.To4(); v4 != nil {
		return addrFromBytes(v4)
	}
	return addrFromBytes(ip)
}

func addrFromBytes(b []byte) netip.Addr {
	addr, ok := netip.AddrFromSlice(b)
	if !ok {
		return netip.Addr{}
	}
	return addr.Unmap()
}
