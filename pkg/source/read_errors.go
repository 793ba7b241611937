package source

import (
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultMaxReadErrors 连续读取错误达到该数量时数据源退出
const DefaultMaxReadErrors = 100

// ReadErrorTracker 统计连续读取错误并限速输出日志
// 网卡被移除等情况下错误会持续出现，超过上限后由数据源关闭输出结束会话
type ReadErrorTracker struct {
	max         int
	consecutive int
	limiter     *rate.Limiter
}

func NewReadErrorTracker(limit int) *ReadErrorTracker {
	if limit <= 0 {
		limit = DefaultMaxReadErrors
	}
	return &ReadErrorTracker{
		max:     limit,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

// Record 记录一次读取错误，返回true表示应停止读取
func (t *ReadErrorTracker) Record(err error) bool {
	t.consecutive++
	if t.consecutive >= t.max {
		logrus.Errorf("Giving up after %d consecutive read errors: %v", t.consecutive, err)
		return true
	}
	if t.limiter.Allow() {
		logrus.Warnf("Error capturing packet (%d consecutive): %v", t.consecutive, err)
	}
	return false
}

// Reset 成功读到数据后清零
func (t *ReadErrorTracker) Reset() {
	t.consecutive = 0
}

func (t *ReadErrorTracker) Consecutive() int {
	return t.consecutive
}
