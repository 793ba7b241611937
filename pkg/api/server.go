package api

import (
	"context"
	"fmt"

	"github.com/haolipeng/traffic_analyzer/pkg/config"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server HTTP 服务器
type Server struct {
	echo *echo.Echo
	addr string
}

// NewServer 创建一个新的 HTTP 服务器
func NewServer(cfg *config.Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(middleware.Recover())

	addr := fmt.Sprintf("%s:%s", cfg.API.Host, cfg.API.Port)

	return &Server{
		echo: e,
		addr: addr,
	}
}

// Start 启动 HTTP 服务器
func (s *Server) Start() error {
	return s.echo.Start(s.addr)
}

// Stop 停止 HTTP 服务器
func (s *Server) Stop(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// GetEcho 获取Echo实例
func (s *Server) GetEcho() *echo.Echo {
	return s.echo
}

// Addr 监听地址
func (s *Server) Addr() string {
	return s.addr
}

// RegisterCaptureService 注册抓包服务
func (s *Server) RegisterCaptureService(cs *CaptureService) {
	g := s.echo.Group("/api/packets")
	g.POST("/start", cs.StartCapture)               // 启动抓包
	g.POST("/stop", cs.StopCapture)                 // 停止抓包
	g.GET("/status", cs.GetStatus)                  // 会话状态和统计
	g.GET("/recent", cs.GetRecentPackets)           // 最近的数据包
	g.GET("/protocols", cs.GetProtocolDistribution) // 协议分布
	g.GET("/top-talkers", cs.GetTopTalkers)         // 活跃地址排行
	g.GET("/suspicious", cs.GetSuspiciousFindings)  // 可疑行为
	g.GET("/analysis", cs.GetTrafficAnalysis)       // 流量分析
	s.echo.DELETE("/api/packets", cs.ClearCapture)  // 清空数据

	s.echo.GET("/api/filters", cs.ListFilters)              // 命名过滤器
	s.echo.POST("/api/filters/validate", cs.ValidateFilter) // 校验过滤表达式
}

// RegisterMetrics 注册prometheus指标接口
func (s *Server) RegisterMetrics(registry *prometheus.Registry) {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
}
