package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/haolipeng/traffic_analyzer/pkg/analyzer"
	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
	"github.com/haolipeng/traffic_analyzer/pkg/processor"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	DefaultStopGrace = 2 * time.Second
	// 会话报告和流量分析中的排行数量
	reportTopTalkers   = 10
	analysisTopTalkers = 5
)

// StartOptions 单次会话的启动参数，零值表示不限制
type StartOptions struct {
	Interface   string
	MaxPackets  int
	MaxDuration time.Duration
}

// Options 控制器的静态配置
type Options struct {
	StoreCapacity    int
	StopGrace        time.Duration
	DefaultInterface string
	BPFFilter        string
	// Detector 为nil时使用默认阈值
	Detector *analyzer.DetectorConfig
}

// sourceStats 可选接口，数据源暴露读取指标
type sourceStats interface {
	GetStats() *metrics.SourceMetrics
}

// Controller 管理抓包会话的生命周期
// 只有抓包循环写入统计和缓存，查询方通过读锁获取一致的快照
type Controller struct {
	factory    SourceFactory
	classifier *processor.Classifier
	detector   *analyzer.Detector
	sinks      []Sink
	opts       Options

	// lifecycle 串行化Start/Stop/Clear
	lifecycle sync.Mutex

	// mu 保护以下字段，统计和缓存在同一个临界区内更新
	mu       sync.RWMutex
	state    types.SessionState
	session  types.SessionInfo
	stats    *analyzer.Aggregator
	store    *analyzer.PacketStore
	cancel   context.CancelFunc
	done     chan struct{}
	srcStats *metrics.SourceMetrics
	// sinksDone 在上一个会话的输出端全部Close后关闭
	sinksDone chan struct{}

	wg      sync.WaitGroup // 跟踪抓包循环及其收尾
	metrics *metrics.ProcessorMetrics
	limiter *rate.Limiter
}

var _ Capture = (*Controller)(nil)

func NewController(factory SourceFactory, opts Options, sinks ...Sink) *Controller {
	if opts.StoreCapacity <= 0 {
		opts.StoreCapacity = analyzer.DefaultStoreCapacity
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	detectorConfig := analyzer.DefaultDetectorConfig()
	if opts.Detector != nil {
		detectorConfig = *opts.Detector
	}
	detector := analyzer.NewDetector(detectorConfig)

	return &Controller{
		factory:    factory,
		classifier: processor.NewClassifier(),
		detector:   detector,
		sinks:      sinks,
		opts:       opts,
		state:      types.StateIdle,
		stats:      analyzer.NewAggregator(),
		store:      analyzer.NewPacketStore(opts.StoreCapacity),
		metrics:    &metrics.ProcessorMetrics{},
		limiter:    rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// Start 打开数据源并启动抓包循环
// 运行中调用返回ErrAlreadyRunning，已有数据保持不变
func (c *Controller) Start(opts StartOptions) error {
	if opts.MaxPackets < 0 {
		return types.NewCaptureError("start", fmt.Errorf("%w: max packets must not be negative", types.ErrInvalidArgument))
	}
	if opts.MaxDuration < 0 {
		return types.NewCaptureError("start", fmt.Errorf("%w: max duration must not be negative", types.ErrInvalidArgument))
	}

	if err := c.lockForStart(); err != nil {
		return err
	}
	defer c.lifecycle.Unlock()

	iface := opts.Interface
	if iface == "" {
		iface = c.opts.DefaultInterface
	}

	src, err := c.factory.Open(iface)
	if err != nil {
		return types.NewCaptureError("open", fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err))
	}
	if c.opts.BPFFilter != "" {
		if err := src.SetFilter(c.opts.BPFFilter); err != nil {
			return types.NewCaptureError("filter", fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err))
		}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if opts.MaxDuration > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), opts.MaxDuration)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	if err := src.Start(ctx); err != nil {
		cancel()
		return types.NewCaptureError("start", fmt.Errorf("%w: %v", types.ErrSourceUnavailable, err))
	}

	session := types.SessionInfo{
		ID:          uuid.NewString(),
		Interface:   iface,
		MaxPackets:  opts.MaxPackets,
		MaxDuration: opts.MaxDuration,
		StartedAt:   time.Now(),
	}

	for _, sink := range c.sinks {
		if err := sink.Open(session); err != nil {
			logrus.WithField("session", session.ID).Warnf("Failed to open sink: %v", err)
		}
	}

	var srcStats *metrics.SourceMetrics
	if s, ok := src.(sourceStats); ok {
		srcStats = s.GetStats()
	}

	done := make(chan struct{})
	sinksDone := make(chan struct{})
	c.mu.Lock()
	c.stats.Reset()
	c.store.Clear()
	c.state = types.StateRunning
	c.session = session
	c.cancel = cancel
	c.done = done
	c.sinksDone = sinksDone
	c.srcStats = srcStats
	c.mu.Unlock()

	c.metrics.IncrementSessions()

	c.wg.Add(1)
	go c.run(ctx, cancel, src, opts.MaxPackets, done, sinksDone)

	logrus.WithFields(logrus.Fields{
		"session":      session.ID,
		"interface":    iface,
		"max_packets":  opts.MaxPackets,
		"max_duration": opts.MaxDuration,
	}).Info("Capture session started")
	return nil
}

// lockForStart 获取生命周期锁，成功返回时调用方持有锁
// 上一个会话的输出端仍在收尾时在锁外等待，Stop和Clear不会被阻塞
func (c *Controller) lockForStart() error {
	for {
		c.lifecycle.Lock()
		c.mu.RLock()
		running := c.state == types.StateRunning
		pending := c.sinksDone
		c.mu.RUnlock()

		if running {
			c.lifecycle.Unlock()
			return types.NewCaptureError("start", types.ErrAlreadyRunning)
		}
		if pending == nil {
			return nil
		}
		select {
		case <-pending:
			return nil
		default:
		}

		c.lifecycle.Unlock()
		<-pending
	}
}

// Stop 请求抓包循环退出并在宽限期内等待，重复调用是安全的
func (c *Controller) Stop() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.RLock()
	state, cancel, done := c.state, c.cancel, c.done
	c.mu.RUnlock()
	if state != types.StateRunning || cancel == nil {
		return nil
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(c.opts.StopGrace):
		logrus.Warnf("Capture loop did not exit within %s", c.opts.StopGrace)
		return types.NewCaptureError("stop", fmt.Errorf("capture loop did not exit within %s", c.opts.StopGrace))
	}
}

// Clear 清空统计和缓存，仅在非运行状态下允许
func (c *Controller) Clear() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateRunning {
		return types.NewCaptureError("clear", types.ErrAlreadyRunning)
	}
	c.stats.Reset()
	c.store.Clear()
	logrus.Info("Capture data cleared")
	return nil
}

// Wait 等待抓包循环以及输出端收尾完成
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Shutdown 停止会话并等待所有后台任务
func (c *Controller) Shutdown() error {
	err := c.Stop()
	c.wg.Wait()
	return err
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, src Source, maxPackets int, done, sinksDone chan struct{}) {
	defer c.wg.Done()
	defer close(sinksDone)

	reason := c.loop(ctx, src, maxPackets)
	// 通知数据源退出
	cancel()

	report := c.finish(reason)
	close(done)

	for _, sink := range c.sinks {
		if err := sink.Close(report); err != nil {
			logrus.WithField("session", report.Session.ID).Errorf("Failed to close sink: %v", err)
		}
	}
}

func (c *Controller) loop(ctx context.Context, src Source, maxPackets int) types.StopReason {
	frames := src.Output()
	count := 0
	for {
		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return types.StopReasonTimeout
			}
			return types.StopReasonRequested
		case frame, ok := <-frames:
			if !ok {
				return types.StopReasonExhausted
			}
			c.ingest(frame)
			count++
			if maxPackets > 0 && count >= maxPackets {
				return types.StopReasonPackets
			}
		}
	}
}

func (c *Controller) ingest(frame types.Frame) {
	startTime := time.Now()
	summary := c.classifier.Classify(frame)

	c.mu.Lock()
	c.stats.Record(summary)
	c.store.Insert(summary)
	c.mu.Unlock()

	for _, sink := range c.sinks {
		if err := sink.Write(frame); err != nil {
			c.metrics.IncrementSinkErrors()
			if c.limiter.Allow() {
				logrus.Warnf("Sink write failed: %v", err)
			}
		}
	}

	c.metrics.IncrementProcessed()
	c.metrics.AddProcessingTime(time.Since(startTime))
}

// finish 切换到Stopped并生成会话报告
func (c *Controller) finish(reason types.StopReason) types.SessionReport {
	c.mu.Lock()
	c.state = types.StateStopped
	c.session.StoppedAt = time.Now()
	c.session.StopReason = reason
	c.cancel = nil
	session := c.session
	stats := c.stats.Snapshot()
	entries := c.store.All()
	c.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"session":       session.ID,
		"reason":        reason,
		"total_packets": stats.TotalPackets,
		"total_bytes":   stats.TotalBytes,
		"duration":      session.StoppedAt.Sub(session.StartedAt),
	}).Info("Capture session stopped")

	return types.SessionReport{
		Session:              session,
		Statistics:           stats,
		ProtocolDistribution: stats.Counts,
		Findings:             c.detector.Evaluate(entries, stats),
		TopTalkers:           analyzer.TopTalkers(entries, reportTopTalkers),
	}
}

func (c *Controller) Status() types.SessionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := types.SessionStatus{
		State:         c.state,
		IsCapturing:   c.state == types.StateRunning,
		Session:       c.session,
		PacketsStored: c.store.Len(),
		Statistics:    c.stats.Snapshot(),
		Thresholds:    c.detector.Thresholds(),
	}
	if c.done != nil {
		select {
		case <-c.done:
		default:
			status.LoopAlive = true
		}
	}
	switch c.state {
	case types.StateRunning:
		status.Elapsed = time.Since(c.session.StartedAt)
	case types.StateStopped:
		status.Elapsed = c.session.StoppedAt.Sub(c.session.StartedAt)
	}
	return status
}

func (c *Controller) Statistics() types.CaptureStatistics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.Snapshot()
}

// RecentPackets 返回最近的limit个摘要，按时间先后排列
func (c *Controller) RecentPackets(limit int) []types.PacketSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.store.Recent(limit)
}

func (c *Controller) ProtocolDistribution() types.ProtocolCounts {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats.Snapshot().Counts
}

func (c *Controller) TopTalkers(limit int) []types.TalkerStat {
	c.mu.RLock()
	entries := c.store.All()
	c.mu.RUnlock()
	return analyzer.TopTalkers(entries, limit)
}

func (c *Controller) SuspiciousFindings() []types.Finding {
	c.mu.RLock()
	entries := c.store.All()
	stats := c.stats.Snapshot()
	c.mu.RUnlock()
	return c.detector.Evaluate(entries, stats)
}

func (c *Controller) TrafficAnalysis() types.TrafficAnalysis {
	c.mu.RLock()
	entries := c.store.All()
	stats := c.stats.Snapshot()
	state := c.state
	c.mu.RUnlock()

	return types.TrafficAnalysis{
		TotalPackets:         stats.TotalPackets,
		TotalBytes:           stats.TotalBytes,
		AveragePacketSize:    stats.AveragePacketSize(),
		ProtocolDistribution: stats.Counts,
		TopTalkers:           analyzer.TopTalkers(entries, analysisTopTalkers),
		SessionState:         state,
	}
}

// GetMetrics 返回处理指标
func (c *Controller) GetMetrics() *metrics.ProcessorMetrics {
	return c.metrics
}

// SourceMetrics 返回当前数据源的读取指标，数据源不支持时返回nil
func (c *Controller) SourceMetrics() *metrics.SourceMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.srcStats
}
