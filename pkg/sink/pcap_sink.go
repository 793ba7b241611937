package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
)

const defaultMaxFileSize = int64(50 * 1024 * 1024)

// PcapSink 将会话中的原始帧写入pcap文件，超过大小上限后滚动
type PcapSink struct {
	dir          string
	baseFilename string // 基础文件名（如 "session"）
	maxFileSize  int64
	snapLen      uint32

	mu          sync.Mutex
	sessionID   string
	linkType    layers.LinkType
	currentSize int64 // 当前文件大小
	fileIndex   int   // 当前文件索引
	pcapWriter  *pcapgo.Writer
	curFileName string
	file        *os.File
	files       []string
}

func NewPcapSink(dir, baseFilename string, maxFileSize int64) (*PcapSink, error) {
	if maxFileSize <= 0 {
		maxFileSize = defaultMaxFileSize
	}
	if baseFilename == "" {
		baseFilename = "session"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create pcap dir %s: %w", dir, err)
	}
	return &PcapSink{
		dir:          dir,
		baseFilename: baseFilename,
		maxFileSize:  maxFileSize,
		snapLen:      65535,
	}, nil
}

// Open 开始新会话，文件在收到第一个帧时才创建
func (s *PcapSink) Open(session types.SessionInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeFile()
	s.sessionID = session.ID
	s.fileIndex = 1
	s.files = nil
	return nil
}

func (s *PcapSink) createNewPcapFile(linkType layers.LinkType) error {
	// 生成文件名：session_1a2b3c4d_20240318_153000_1.pcap
	timestamp := time.Now().Format("20060102_150405")
	id := s.sessionID
	if len(id) > 8 {
		id = id[:8]
	}
	filename := filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s_%d.pcap", s.baseFilename, id, timestamp, s.fileIndex))

	f, err := os.Create(filename)
	if err != nil {
		logrus.Errorf("Failed to create pcap file: %v", err)
		return err
	}

	// 如果已有打开的文件，先关闭
	s.closeFile()

	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(s.snapLen, linkType); err != nil {
		f.Close()
		logrus.Errorf("Failed to write pcap header: %v", err)
		return err
	}

	s.curFileName = filename
	s.file = f
	s.pcapWriter = w
	s.linkType = linkType
	s.currentSize = 0
	s.fileIndex++
	s.files = append(s.files, filename)

	logrus.Infof("Created new pcap file: %s", filename)
	return nil
}

func (s *PcapSink) Write(frame types.Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(frame.Data) == 0 {
		return nil
	}

	// 超过大小或链路类型变化时换新文件
	if s.file == nil || s.currentSize >= s.maxFileSize || frame.LinkType != s.linkType {
		if err := s.createNewPcapFile(frame.LinkType); err != nil {
			return err
		}
	}

	ci := frame.CaptureInfo
	if ci.CaptureLength == 0 {
		ci.CaptureLength = len(frame.Data)
	}
	if ci.Length < ci.CaptureLength {
		ci.Length = ci.CaptureLength
	}
	if ci.Timestamp.IsZero() {
		ci.Timestamp = time.Now()
	}
	if err := s.pcapWriter.WritePacket(ci, frame.Data); err != nil {
		return fmt.Errorf("failed to write packet to %s: %w", s.curFileName, err)
	}

	// 16字节记录头
	s.currentSize += int64(len(frame.Data)) + 16
	return nil
}

func (s *PcapSink) Close(report types.SessionReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.closeFile()
	logrus.WithFields(logrus.Fields{
		"session": report.Session.ID,
		"files":   len(s.files),
	}).Info("Pcap sink closed")
	return err
}

func (s *PcapSink) closeFile() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	if err != nil {
		logrus.Errorf("Failed to close pcap file: %v", err)
	}
	s.file = nil
	s.pcapWriter = nil
	return err
}

// Files 返回当前会话写过的文件
func (s *PcapSink) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.files...)
}
