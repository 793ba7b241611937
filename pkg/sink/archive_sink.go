package sink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/haolipeng/traffic_analyzer/pkg/types"
	"github.com/sirupsen/logrus"
)

// ArchiveSink 会话结束时将报告写成JSON文件，并把检测结果推送到告警地址
type ArchiveSink struct {
	dir     string
	webhook string
	client  *http.Client
}

func NewArchiveSink(dir, webhook string) (*ArchiveSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive dir %s: %w", dir, err)
	}
	return &ArchiveSink{
		dir:     dir,
		webhook: webhook,
		client: &http.Client{
			Timeout: time.Second * 5, // 设置5秒超时
		},
	}, nil
}

func (s *ArchiveSink) Open(types.SessionInfo) error {
	return nil
}

func (s *ArchiveSink) Write(types.Frame) error {
	return nil
}

func (s *ArchiveSink) Close(report types.SessionReport) error {
	path := s.ReportPath(report.Session.ID)
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session report: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write session report: %w", err)
	}
	logrus.Infof("Session report archived to %s", path)

	if s.webhook != "" {
		for _, finding := range report.Findings {
			s.sendAlert(report.Session, finding)
		}
	}
	return nil
}

// ReportPath 返回会话报告文件路径
func (s *ArchiveSink) ReportPath(sessionID string) string {
	return filepath.Join(s.dir, sessionID+".json")
}

func (s *ArchiveSink) sendAlert(session types.SessionInfo, finding types.Finding) {
	// 告警ID：类型_会话ID_时间戳
	alertID := fmt.Sprintf("%s_%s_%d",
		strings.ToLower(string(finding.Kind)),
		session.ID,
		time.Now().UnixNano(),
	)

	alertInfo := map[string]interface{}{
		"alert_id":    alertID,
		"alert_time":  time.Now(),
		"session_id":  session.ID,
		"interface":   session.Interface,
		"alert_type":  finding.Kind,
		"severity":    finding.Severity,
		"description": finding.Description,
		"source_ip":   finding.Address,
	}

	// 记录本地日志
	logrus.WithFields(logrus.Fields(alertInfo)).Warn("Suspicious activity detected")

	jsonData, err := json.Marshal(alertInfo)
	if err != nil {
		logrus.Errorf("Failed to marshal alert info: %v", err)
		return
	}

	req, err := http.NewRequest(http.MethodPost, s.webhook, bytes.NewBuffer(jsonData))
	if err != nil {
		logrus.Errorf("Failed to create HTTP request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		logrus.Errorf("Failed to send alert: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		logrus.Errorf("Alert server returned non-200 status code: %d", resp.StatusCode)
		return
	}

	logrus.Debugf("Alert successfully sent to %s", s.webhook)
}
