package pipeline

import (
	"context"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

// Source 定义帧数据源接口
type Source interface {
	// Start 启动读取goroutine，ctx取消后应尽快退出并关闭Output
	Start(ctx context.Context) error
	// Output 返回帧输出channel，数据读完时关闭
	Output() <-chan types.Frame
	// SetFilter 设置BPF过滤器，需在Start之前调用
	SetFilter(filter string) error
}

// SourceFactory 每次启动会话时打开一个新的数据源
type SourceFactory interface {
	Open(iface string) (Source, error)
}

// SourceFactoryFunc 函数适配器
type SourceFactoryFunc func(iface string) (Source, error)

func (f SourceFactoryFunc) Open(iface string) (Source, error) {
	return f(iface)
}

// Sink 定义会话输出接口
type Sink interface {
	// Open 会话开始时调用
	Open(session types.SessionInfo) error
	// Write 每个帧调用一次，出错只影响当前帧
	Write(frame types.Frame) error
	// Close 会话结束时携带最终快照调用
	Close(report types.SessionReport) error
}

// Capture 抓包控制器对外暴露的请求/响应接口
type Capture interface {
	Start(opts StartOptions) error
	Stop() error
	Clear() error
	Status() types.SessionStatus
	Statistics() types.CaptureStatistics
	RecentPackets(limit int) []types.PacketSummary
	ProtocolDistribution() types.ProtocolCounts
	TopTalkers(limit int) []types.TalkerStat
	SuspiciousFindings() []types.Finding
	TrafficAnalysis() types.TrafficAnalysis
}
