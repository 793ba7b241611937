package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/haolipeng/traffic_analyzer/pkg/pipeline"
	"github.com/haolipeng/traffic_analyzer/pkg/types"
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run one capture session and print the analysis",
	Long: `Run a single capture session bounded by --max-packets and --duration (or the end
of the pcap file) and print status, traffic analysis and findings as JSON.

Examples:
  traffic_analyzer analyze --file capture.pcap
  traffic_analyzer analyze --interface eth0 --max-packets 500 --duration 30s`,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().String("file", "", "read packets from a pcap/pcapng file")
	analyzeCmd.Flags().String("interface", "", "capture on this interface")
	analyzeCmd.Flags().Int("max-packets", 0, "stop after this many packets (0 = unbounded)")
	analyzeCmd.Flags().Duration("duration", 0, "stop after this long (0 = unbounded)")
	analyzeCmd.Flags().Int("top", 10, "number of top talkers to print")
}

type analyzeResult struct {
	Status     types.SessionStatus   `json:"status"`
	Analysis   types.TrafficAnalysis `json:"analysis"`
	TopTalkers []types.TalkerStat    `json:"top_talkers"`
	Findings   []types.Finding       `json:"suspicious_activities"`
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	file, _ := cmd.Flags().GetString("file")
	iface, _ := cmd.Flags().GetString("interface")
	maxPackets, _ := cmd.Flags().GetInt("max-packets")
	duration, _ := cmd.Flags().GetDuration("duration")
	top, _ := cmd.Flags().GetInt("top")

	if file != "" {
		cfg.Source.Type = "file"
		cfg.Source.Filename = file
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	controller, err := newController(cfg)
	if err != nil {
		return err
	}

	opts := pipeline.StartOptions{
		Interface:   iface,
		MaxPackets:  maxPackets,
		MaxDuration: duration,
	}
	if err := controller.Start(opts); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
wait:
	for {
		select {
		case sig := <-sigChan:
			logrus.Infof("Received signal %v, stopping capture", sig)
			break wait
		case <-ticker.C:
			if controller.Status().State != types.StateRunning {
				break wait
			}
		}
	}
	if err := controller.Shutdown(); err != nil {
		return err
	}

	findings := controller.SuspiciousFindings()
	if findings == nil {
		findings = []types.Finding{}
	}
	result := analyzeResult{
		Status:     controller.Status(),
		Analysis:   controller.TrafficAnalysis(),
		TopTalkers: controller.TopTalkers(top),
		Findings:   findings,
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
