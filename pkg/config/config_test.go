package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, "interface:\n  name: eth0\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "eth0", cfg.Interface.Name)
	assert.Equal(t, "live", cfg.Source.Type)
	assert.Equal(t, 1000, cfg.Capture.StoreCapacity)
	assert.Equal(t, 2*time.Second, cfg.Capture.StopGrace)
	assert.Equal(t, 500*time.Millisecond, cfg.Interface.Timeout)
	assert.Equal(t, 20, cfg.Detector.PortScanThreshold)
	require.NotNil(t, cfg.Detector.DNSThreshold)
	assert.Equal(t, uint64(50), *cfg.Detector.DNSThreshold)
	require.NotNil(t, cfg.Detector.ICMPThreshold)
	assert.Equal(t, uint64(100), *cfg.Detector.ICMPThreshold)
	assert.Equal(t, "WARN", cfg.Log.Level)
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
source:
  type: file
  filename: traffic.pcap
interface:
  timeout: 250ms
  bpf_filter: "tcp or udp"
capture:
  store_capacity: 200
  stop_grace: 1s
detector:
  port_scan_threshold: 10
  dns_threshold: 500
  icmp_threshold: 1000
api:
  port: "9090"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Source.Type)
	assert.Equal(t, "traffic.pcap", cfg.Source.Filename)
	assert.Equal(t, 250*time.Millisecond, cfg.Interface.Timeout)
	assert.Equal(t, "tcp or udp", cfg.Interface.BPFFilter)
	assert.Equal(t, 200, cfg.Capture.StoreCapacity)
	assert.Equal(t, time.Second, cfg.Capture.StopGrace)
	assert.Equal(t, 10, cfg.Detector.PortScanThreshold)
	assert.Equal(t, uint64(500), *cfg.Detector.DNSThreshold)
	assert.Equal(t, uint64(1000), *cfg.Detector.ICMPThreshold)
	assert.Equal(t, "9090", cfg.API.Port)
}

func TestLoadConfigZeroThresholds(t *testing.T) {
	path := writeConfig(t, "detector:\n  dns_threshold: 0\n  icmp_threshold: 0\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	// 显式配置的0不会被默认值覆盖
	assert.Equal(t, uint64(0), *cfg.Detector.DNSThreshold)
	assert.Equal(t, uint64(0), *cfg.Detector.ICMPThreshold)
	assert.Equal(t, 20, cfg.Detector.PortScanThreshold)
}

func TestLoadConfigErrors(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{"文件源缺少文件名", "source:\n  type: file\n"},
		{"未知源类型", "source:\n  type: carrier-pigeon\n"},
		{"容量为负", "capture:\n  store_capacity: -1\n"},
		{"YAML格式错误", "capture: [\n"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.content))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}
