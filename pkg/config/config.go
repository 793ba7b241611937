package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Source struct {
		Type     string `yaml:"type"` // live 或 file
		Filename string `yaml:"filename"`
	} `yaml:"source"`

	Interface struct {
		Name        string        `yaml:"name"`
		SnapLen     int32         `yaml:"snaplen"`
		Promiscuous bool          `yaml:"promiscuous"`
		Timeout     time.Duration `yaml:"timeout"` // pcap读超时，决定停止响应的上限
		BPFFilter   string        `yaml:"bpf_filter"`
	} `yaml:"interface"`

	Capture struct {
		StoreCapacity int           `yaml:"store_capacity"`
		BufferSize    int           `yaml:"buffer_size"`
		StopGrace     time.Duration `yaml:"stop_grace"`
	} `yaml:"capture"`

	Detector struct {
		PortScanThreshold int     `yaml:"port_scan_threshold"`
		DNSThreshold      *uint64 `yaml:"dns_threshold"` // 0表示出现即告警
		ICMPThreshold     *uint64 `yaml:"icmp_threshold"`
	} `yaml:"detector"`

	Output struct {
		Pcap struct {
			Enabled      bool   `yaml:"enabled"`
			Dir          string `yaml:"dir"`
			BaseFilename string `yaml:"base_filename"`
			MaxFileSize  int64  `yaml:"max_file_size"`
		} `yaml:"pcap"`
		Archive struct {
			Enabled bool   `yaml:"enabled"`
			Dir     string `yaml:"dir"`
			Webhook string `yaml:"webhook"`
		} `yaml:"archive"`
	} `yaml:"output"`

	Filters struct {
		File string `yaml:"file"`
	} `yaml:"filters"`

	API struct {
		Host string `yaml:"host"`
		Port string `yaml:"port"`
	} `yaml:"api"`

	Log struct {
		Level      string `yaml:"level"`
		Dir        string `yaml:"dir"`
		Filename   string `yaml:"filename"`
		MaxAge     int    `yaml:"max_age"`     // 小时
		RotateTime int    `yaml:"rotate_time"` // 小时
	} `yaml:"log"`
}

// Default 返回填充默认值的配置
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults 为未设置的字段填充默认值
func (c *Config) ApplyDefaults() {
	if c.Source.Type == "" {
		c.Source.Type = "live"
	}
	if c.Interface.SnapLen == 0 {
		c.Interface.SnapLen = 65535
	}
	if c.Interface.Timeout == 0 {
		c.Interface.Timeout = 500 * time.Millisecond
	}
	if c.Capture.StoreCapacity == 0 {
		c.Capture.StoreCapacity = 1000
	}
	if c.Capture.BufferSize == 0 {
		c.Capture.BufferSize = 1000
	}
	if c.Capture.StopGrace == 0 {
		c.Capture.StopGrace = 2 * time.Second
	}
	if c.Detector.PortScanThreshold == 0 {
		c.Detector.PortScanThreshold = 20
	}
	if c.Detector.DNSThreshold == nil {
		c.Detector.DNSThreshold = uint64Ptr(50)
	}
	if c.Detector.ICMPThreshold == nil {
		c.Detector.ICMPThreshold = uint64Ptr(100)
	}
	if c.Output.Pcap.Dir == "" {
		c.Output.Pcap.Dir = "captures"
	}
	if c.Output.Pcap.BaseFilename == "" {
		c.Output.Pcap.BaseFilename = "session"
	}
	if c.Output.Pcap.MaxFileSize == 0 {
		c.Output.Pcap.MaxFileSize = 50 * 1024 * 1024
	}
	if c.Output.Archive.Dir == "" {
		c.Output.Archive.Dir = "archive"
	}
	if c.API.Host == "" {
		c.API.Host = "127.0.0.1"
	}
	if c.API.Port == "" {
		c.API.Port = "8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "WARN"
	}
	if c.Log.Dir == "" {
		c.Log.Dir = "logs"
	}
	if c.Log.Filename == "" {
		c.Log.Filename = "traffic_analyzer.log"
	}
	if c.Log.MaxAge == 0 {
		c.Log.MaxAge = 24
	}
	if c.Log.RotateTime == 0 {
		c.Log.RotateTime = 1
	}
}

func uint64Ptr(v uint64) *uint64 {
	return &v
}

func (c *Config) Validate() error {
	switch c.Source.Type {
	case "live":
	case "file":
		if c.Source.Filename == "" {
			return fmt.Errorf("source filename is required for file source")
		}
	default:
		return fmt.Errorf("unknown source type %q", c.Source.Type)
	}
	if c.Interface.SnapLen <= 0 {
		return fmt.Errorf("snaplen must be positive")
	}
	if c.Interface.Timeout <= 0 {
		return fmt.Errorf("interface timeout must be positive")
	}
	if c.Capture.StoreCapacity <= 0 {
		return fmt.Errorf("store capacity must be positive")
	}
	if c.Capture.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive")
	}
	if c.Capture.StopGrace <= 0 {
		return fmt.Errorf("stop grace must be positive")
	}
	if c.Detector.PortScanThreshold <= 0 {
		return fmt.Errorf("port scan threshold must be positive")
	}
	if c.Output.Pcap.Enabled && c.Output.Pcap.MaxFileSize <= 0 {
		return fmt.Errorf("pcap max file size must be positive")
	}
	return nil
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}
