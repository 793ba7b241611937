package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"time"

	rotates "github.com/lestrrat-go/file-rotatelogs"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/haolipeng/traffic_analyzer/pkg/config"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "traffic_analyzer",
	Short: "Live packet capture and traffic analysis",
	Long: `Capture packets from a network interface or pcap file, classify them by
protocol, keep rolling statistics and flag suspicious activity.

Commands:
  serve    - run the HTTP API and control capture sessions remotely
  analyze  - run one bounded session and print the analysis as JSON`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "path to config file")
	rootCmd.AddCommand(serveCmd, analyzeCmd)
}

// loadConfig 未显式指定且默认配置文件不存在时使用默认配置
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(configFile); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.LoadConfig(configFile)
}

func InitLogger(cfg *config.Config) error {
	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	}
	logrus.SetFormatter(formatter)

	var level logrus.Level
	var err error
	var logWriter *rotates.RotateLogs

	switch cfg.Log.Level {
	case "DEBUG":
		level = logrus.DebugLevel
	case "WARN":
		level = logrus.WarnLevel
	case "INFO":
		level = logrus.InfoLevel
	case "ERROR":
		level = logrus.ErrorLevel
	case "FATAL":
		level = logrus.FatalLevel
	case "PANIC":
		level = logrus.PanicLevel
	default:
		level = logrus.WarnLevel //默认
	}
	logrus.SetLevel(level)

	//1、判断文件路径和文件是否存在，不存在则创建
	if _, err := os.Stat(cfg.Log.Dir); os.IsNotExist(err) {
		if err := os.MkdirAll(cfg.Log.Dir, 0755); err != nil {
			return err
		}
	}
	logFileName := path.Join(cfg.Log.Dir, cfg.Log.Filename)

	maxAge := time.Duration(cfg.Log.MaxAge) * time.Hour
	rotationTime := time.Duration(cfg.Log.RotateTime) * time.Hour

	//2、日志切割功能，按时间来切割
	if runtime.GOOS == "linux" {
		logWriter, err = rotates.New(
			logFileName+".%Y%m%d%H%M",
			rotates.WithLinkName(logFileName),      //文件软链接
			rotates.WithMaxAge(maxAge),             //文件最大保存时间
			rotates.WithRotationTime(rotationTime), //文件切割间隔
		)
	} else {
		logWriter, err = rotates.New(
			logFileName+".%Y%m%d%H%M",
			rotates.WithMaxAge(maxAge),
			rotates.WithRotationTime(rotationTime),
		)
	}
	if err != nil {
		return err
	}

	//不同的日志级别写入同一个切割文件
	lfHook := lfshook.NewHook(lfshook.WriterMap{
		logrus.DebugLevel: logWriter,
		logrus.InfoLevel:  logWriter,
		logrus.WarnLevel:  logWriter,
		logrus.ErrorLevel: logWriter,
		logrus.FatalLevel: logWriter,
		logrus.PanicLevel: logWriter,
	}, &logrus.TextFormatter{})

	logrus.AddHook(lfHook)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
