// Package live 基于libpcap的网卡实时抓包
package live

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/gopacket/pcap"
	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
	"github.com/haolipeng/traffic_analyzer/pkg/source"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
)

// Options 网卡打开参数
type Options struct {
	SnapLen     int32
	Promiscuous bool
	// Timeout 读超时，ctx取消后最多等待这么久读取goroutine就会退出
	Timeout    time.Duration
	BufferSize int
}

type PcapSource struct {
	handle    *pcap.Handle
	output    chan types.Frame
	bpfFilter string
	done      chan struct{}
	stats     *metrics.SourceMetrics
	device    string
}

func NewPcapSource(device string, opts Options) (*PcapSource, error) {
	if device == "" {
		return nil, fmt.Errorf("interface name is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 500 * time.Millisecond
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}

	handle, err := pcap.OpenLive(device, opts.SnapLen, opts.Promiscuous, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to open interface %s: %w", device, err)
	}

	return &PcapSource{
		handle: handle,
		output: make(chan types.Frame, opts.BufferSize),
		device: device,
		stats:  &metrics.SourceMetrics{},
	}, nil
}

func (s *PcapSource) Start(ctx context.Context) error {
	s.done = make(chan struct{})

	if s.bpfFilter != "" {
		logrus.Debugf("Setting BPF filter: %s", s.bpfFilter)
		if err := s.handle.SetBPFFilter(s.bpfFilter); err != nil {
			logrus.Errorf("Failed to set BPF filter: %v", err)
			s.handle.Close()
			return err
		}
	}

	linkType := s.handle.LinkType()
	logrus.Infof("Started packet capture on %s with link type: %v", s.device, linkType)

	go func() {
		defer close(s.output)
		defer s.handle.Close()
		defer close(s.done)

		readErrors := source.NewReadErrorTracker(source.DefaultMaxReadErrors)
		for {
			if ctx.Err() != nil {
				logrus.Debug("Stopping packet capture due to context cancellation")
				return
			}

			data, ci, err := s.handle.ReadPacketData()
			if err != nil {
				// 读超时只是给检查ctx的机会
				if errors.Is(err, pcap.NextErrorTimeoutExpired) {
					continue
				}
				if errors.Is(err, pcap.NextErrorNoMorePackets) {
					return
				}
				s.stats.IncrementErrorCount()
				if readErrors.Record(err) {
					return
				}
				continue
			}
			readErrors.Reset()

			select {
			case <-ctx.Done():
				s.stats.IncrementPacketsDropped()
				return
			case s.output <- types.Frame{CaptureInfo: ci, Data: data, LinkType: linkType}:
				s.stats.IncrementPacketsCaptured()
				s.stats.AddBytesProcessed(uint64(len(data)))
			}
		}
	}()

	return nil
}

func (s *PcapSource) Output() <-chan types.Frame {
	return s.output
}

func (s *PcapSource) SetFilter(filter string) error {
	s.bpfFilter = filter
	return nil
}

func (s *PcapSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

// Interfaces 列出可用网卡名称
func Interfaces() ([]string, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(devs))
	for _, d := range devs {
		names = append(names, d.Name)
	}
	return names, nil
}
