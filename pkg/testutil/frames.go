// Package testutil 构造测试用的以太网帧
package testutil

import (
	"net"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

var (
	SrcMAC = net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55}
	DstMAC = net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb}
)

// BaseTime 构造帧使用的起始时间戳
var BaseTime = time.Unix(1700000000, 0)

// Serialize 序列化各层并包装成帧，出错时panic
func Serialize(ls ...gopacket.SerializableLayer) types.Frame {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, ls...); err != nil {
		panic(err)
	}
	data := append([]byte(nil), buf.Bytes()...)
	return types.Frame{
		CaptureInfo: gopacket.CaptureInfo{
			Timestamp:     BaseTime,
			CaptureLength: len(data),
			Length:        len(data),
		},
		Data:     data,
		LinkType: layers.LinkTypeEthernet,
	}
}

func ipv4(proto layers.IPProtocol, src, dst string) (*layers.Ethernet, *layers.IPv4) {
	eth := &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: DstMAC, EthernetType: layers.EthernetTypeIPv4}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Protocol: proto,
		SrcIP:    net.ParseIP(src).To4(),
		DstIP:    net.ParseIP(dst).To4(),
	}
	return eth, ip
}

// TCP 构造一个SYN报文
func TCP(src, dst string, srcPort, dstPort uint16) types.Frame {
	eth, ip := ipv4(layers.IPProtocolTCP, src, dst)
	tcp := &layers.TCP{SrcPort: layers.TCPPort(srcPort), DstPort: layers.TCPPort(dstPort), SYN: true, Window: 1024}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return Serialize(eth, ip, tcp)
}

func UDP(src, dst string, srcPort, dstPort uint16, payload []byte) types.Frame {
	eth, ip := ipv4(layers.IPProtocolUDP, src, dst)
	udp := &layers.UDP{SrcPort: layers.UDPPort(srcPort), DstPort: layers.UDPPort(dstPort)}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	return Serialize(eth, ip, udp, gopacket.Payload(payload))
}

// DNS 构造一个A记录查询
func DNS(src, dst, name string) types.Frame {
	eth, ip := ipv4(layers.IPProtocolUDP, src, dst)
	udp := &layers.UDP{SrcPort: 53000, DstPort: 53}
	if err := udp.SetNetworkLayerForChecksum(ip); err != nil {
		panic(err)
	}
	dns := &layers.DNS{
		ID: 0x1234,
		RD: true,
		Questions: []layers.DNSQuestion{
			{Name: []byte(name), Type: layers.DNSTypeA, Class: layers.DNSClassIN},
		},
	}
	return Serialize(eth, ip, udp, dns)
}

// ICMPEcho 构造一个echo request
func ICMPEcho(src, dst string) types.Frame {
	eth, ip := ipv4(layers.IPProtocolICMPv4, src, dst)
	icmp := &layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: 1}
	return Serialize(eth, ip, icmp)
}

func ARPRequest(src, dst string) types.Frame {
	eth := &layers.Ethernet{SrcMAC: SrcMAC, DstMAC: layers.EthernetBroadcast, EthernetType: layers.EthernetTypeARP}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   SrcMAC,
		SourceProtAddress: net.ParseIP(src).To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    net.ParseIP(dst).To4(),
	}
	return Serialize(eth, arp)
}

// PortSweep 从src向dst的连续端口发送SYN
func PortSweep(src, dst string, firstPort uint16, n int) []types.Frame {
	frames := make([]types.Frame, 0, n)
	for i := 0; i < n; i++ {
		frames = append(frames, TCP(src, dst, 40000, firstPort+uint16(i)))
	}
	return frames
}
