package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/haolipeng/traffic_analyzer/pkg/filter"
	"github.com/haolipeng/traffic_analyzer/pkg/pipeline"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

const (
	defaultRecentLimit = 50
	defaultTalkerLimit = 10
)

// 响应结构体
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// StartRequest 启动抓包的请求体，所有字段可选
type StartRequest struct {
	Interface   string  `json:"interface"`
	MaxPackets  int     `json:"max_packets"`
	MaxDuration float64 `json:"max_duration"` // 秒
}

// maxDurationSeconds time.Duration能表示的最大秒数
var maxDurationSeconds = float64(math.MaxInt64 / int64(time.Second))

// FilterRequest 校验过滤表达式的请求体
type FilterRequest struct {
	Expression string `json:"expression"`
}

// CaptureService 抓包服务
type CaptureService struct {
	capture pipeline.Capture
	filters *filter.Library
}

// NewCaptureService filters可以为nil
func NewCaptureService(capture pipeline.Capture, filters *filter.Library) *CaptureService {
	if filters == nil {
		filters = filter.NewLibrary()
	}
	return &CaptureService{
		capture: capture,
		filters: filters,
	}
}

func ok(c echo.Context, message string, data interface{}) error {
	return c.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: message,
		Data:    data,
	})
}

// StartCapture 启动抓包会话
func (s *CaptureService) StartCapture(c echo.Context) error {
	var req StartRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewBadRequestError("invalid request body", err))
	}
	if req.MaxPackets < 0 || req.MaxDuration < 0 || math.IsNaN(req.MaxDuration) {
		return HandleError(c, NewBadRequestError("max_packets and max_duration must not be negative", nil))
	}
	if req.MaxDuration > maxDurationSeconds {
		return HandleError(c, NewBadRequestError(fmt.Sprintf("max_duration must not exceed %.0f seconds", maxDurationSeconds), nil))
	}

	opts := pipeline.StartOptions{
		Interface:   req.Interface,
		MaxPackets:  req.MaxPackets,
		MaxDuration: time.Duration(req.MaxDuration * float64(time.Second)),
	}
	if err := s.capture.Start(opts); err != nil {
		return HandleError(c, err)
	}

	status := s.capture.Status()
	logrus.WithFields(logrus.Fields{
		"session":   status.Session.ID,
		"interface": status.Session.Interface,
		"operation": "start_capture",
	}).Debug("Capture started via API")

	return ok(c, "capture started", map[string]interface{}{
		"started": true,
		"session": status.Session,
	})
}

// StopCapture 停止抓包，重复调用返回成功
func (s *CaptureService) StopCapture(c echo.Context) error {
	if err := s.capture.Stop(); err != nil {
		return HandleError(c, err)
	}
	return ok(c, "capture stopped", map[string]interface{}{
		"stopped": true,
		"session": s.capture.Status().Session,
	})
}

// ClearCapture 清空统计和缓存
func (s *CaptureService) ClearCapture(c echo.Context) error {
	if err := s.capture.Clear(); err != nil {
		return HandleError(c, err)
	}
	return ok(c, "capture data cleared", map[string]interface{}{
		"cleared": true,
	})
}

func (s *CaptureService) GetStatus(c echo.Context) error {
	return ok(c, "success", s.capture.Status())
}

// GetRecentPackets 支持limit、filter(CEL表达式)和filter_name参数
func (s *CaptureService) GetRecentPackets(c echo.Context) error {
	limit, err := queryLimit(c, defaultRecentLimit)
	if err != nil {
		return HandleError(c, err)
	}

	f, err := s.resolveFilter(c)
	if err != nil {
		return HandleError(c, err)
	}

	var packets []types.PacketSummary
	if f == nil {
		packets = s.capture.RecentPackets(limit)
	} else {
		// 先过滤再取最近的limit个
		packets = f.Apply(s.capture.RecentPackets(math.MaxInt32))
		if len(packets) > limit {
			packets = packets[len(packets)-limit:]
		}
	}

	return ok(c, "success", map[string]interface{}{
		"count":   len(packets),
		"packets": packets,
	})
}

func (s *CaptureService) resolveFilter(c echo.Context) (*filter.Filter, error) {
	if name := c.QueryParam("filter_name"); name != "" {
		nf, found := s.filters.Get(name)
		if !found {
			return nil, NewFilterNotFoundError(name)
		}
		return nf.Filter(), nil
	}
	if expr := c.QueryParam("filter"); expr != "" {
		f, err := filter.Compile(expr)
		if err != nil {
			return nil, NewBadRequestError("invalid filter", err)
		}
		return f, nil
	}
	return nil, nil
}

func (s *CaptureService) GetProtocolDistribution(c echo.Context) error {
	return ok(c, "success", s.capture.ProtocolDistribution())
}

func (s *CaptureService) GetTopTalkers(c echo.Context) error {
	limit, err := queryLimit(c, defaultTalkerLimit)
	if err != nil {
		return HandleError(c, err)
	}
	return ok(c, "success", s.capture.TopTalkers(limit))
}

func (s *CaptureService) GetSuspiciousFindings(c echo.Context) error {
	findings := s.capture.SuspiciousFindings()
	if findings == nil {
		findings = []types.Finding{}
	}
	return ok(c, "success", findings)
}

func (s *CaptureService) GetTrafficAnalysis(c echo.Context) error {
	return ok(c, "success", s.capture.TrafficAnalysis())
}

// ListFilters 返回已加载的命名过滤器
func (s *CaptureService) ListFilters(c echo.Context) error {
	return ok(c, "success", s.filters.List())
}

// ValidateFilter 校验过滤表达式是否合法
func (s *CaptureService) ValidateFilter(c echo.Context) error {
	var req FilterRequest
	if err := c.Bind(&req); err != nil {
		return HandleError(c, NewBadRequestError("invalid request body", err))
	}
	if _, err := filter.Compile(req.Expression); err != nil {
		return HandleError(c, NewBadRequestError("invalid filter", err))
	}
	return ok(c, "filter is valid", map[string]interface{}{
		"valid": true,
	})
}

// queryLimit 解析limit参数，缺省时使用默认值
func queryLimit(c echo.Context, def int) (int, error) {
	raw := c.QueryParam("limit")
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0, NewBadRequestError(fmt.Sprintf("invalid limit %q", raw), err)
	}
	return limit, nil
}
