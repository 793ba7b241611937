package source

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
)

// packetReader pcap和pcapng读取器的公共部分
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// PcapFileSource 从pcap/pcapng文件回放帧，读完后关闭输出channel
type PcapFileSource struct {
	file      *os.File
	reader    packetReader
	output    chan types.Frame
	bpfFilter string
	done      chan struct{}
	stats     *metrics.SourceMetrics
	filename  string
}

func NewPcapFileSource(filename string, bufferSize int) (*PcapFileSource, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open pcap file %s: %w", filename, err)
	}

	reader, err := newPacketReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap file %s: %w", filename, err)
	}

	if bufferSize <= 0 {
		bufferSize = 1
	}
	return &PcapFileSource{
		file:     f,
		reader:   reader,
		output:   make(chan types.Frame, bufferSize),
		filename: filename,
		stats:    &metrics.SourceMetrics{},
	}, nil
}

// newPacketReader 先按pcap格式解析文件头，失败再尝试pcapng
func newPacketReader(f *os.File) (packetReader, error) {
	r, err := pcapgo.NewReader(bufio.NewReader(f))
	if err == nil {
		return r, nil
	}
	if _, seekErr := f.Seek(0, io.SeekStart); seekErr != nil {
		return nil, seekErr
	}
	ng, ngErr := pcapgo.NewNgReader(bufio.NewReader(f), pcapgo.DefaultNgReaderOptions)
	if ngErr != nil {
		return nil, fmt.Errorf("not a pcap (%v) or pcapng (%v) file", err, ngErr)
	}
	return ng, nil
}

func (s *PcapFileSource) Start(ctx context.Context) error {
	s.done = make(chan struct{})

	if s.bpfFilter != "" {
		logrus.Warnf("BPF filter %q is not applied to file source %s", s.bpfFilter, s.filename)
	}

	linkType := s.reader.LinkType()
	logrus.Infof("Started reading packets from file: %s (link type %v)", s.filename, linkType)

	go func() {
		defer close(s.output)
		defer s.file.Close()
		defer close(s.done)

		for {
			data, ci, err := s.reader.ReadPacketData()
			if err != nil {
				if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
					logrus.Info("Reached end of pcap file")
					return
				}
				// 文件读取错误不可恢复
				s.stats.IncrementErrorCount()
				logrus.Warnf("Error reading packet: %v", err)
				return
			}

			frame := types.Frame{CaptureInfo: ci, Data: data, LinkType: linkType}
			select {
			case <-ctx.Done():
				logrus.Debug("Stopping packet reading due to context cancellation")
				s.stats.IncrementPacketsDropped()
				return
			case s.output <- frame:
				s.stats.IncrementPacketsCaptured()
				s.stats.AddBytesProcessed(uint64(len(data)))
			}
		}
	}()

	return nil
}

func (s *PcapFileSource) Output() <-chan types.Frame {
	return s.output
}

func (s *PcapFileSource) SetFilter(filter string) error {
	s.bpfFilter = filter
	return nil
}

func (s *PcapFileSource) GetStats() *metrics.SourceMetrics {
	return s.stats
}

func (s *PcapFileSource) WaitForCompletion() <-chan struct{} {
	return s.done
}
