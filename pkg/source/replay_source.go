package source

import (
	"context"

	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// ReplaySource 依次输出内存中的帧
// Hold为true时发送完毕后保持channel打开，直到ctx取消，用于模拟没有流量的网卡
type ReplaySource struct {
	frames []types.Frame
	output chan types.Frame
	stats  *metrics.SourceMetrics
	Hold   bool
}

func NewReplaySource(frames []types.Frame) *ReplaySource {
	return &ReplaySource{
		frames: frames,
		output: make(chan types.Frame),
		stats:  &metrics.SourceMetrics{},
	}
}

func (s *ReplaySource) Start(ctx context.Context) error {
	go func() {
		defer close(s.output)
		for _, frame := range s.frames {
			select {
			case <-ctx.Done():
				return
			case s.output <- frame:
				s.stats.IncrementPacketsCaptured()
				s.stats.AddBytesProcessed(uint64(len(frame.Data)))
			}
		}
		if s.Hold {
			<-ctx.Done()
		}
	}()
	return nil
}

func (s *ReplaySource) Output() <-chan types.Frame {
	return s.output
}

func (s *ReplaySource) SetFilter(string) error {
	return nil
}

func (s *ReplaySource) GetStats() *metrics.SourceMetrics {
	return s.stats
}
