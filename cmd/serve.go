package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/haolipeng/traffic_analyzer/pkg/api"
	"github.com/haolipeng/traffic_analyzer/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("host", "", "override api.host")
	serveCmd.Flags().String("port", "", "override api.port")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if host, _ := cmd.Flags().GetString("host"); host != "" {
		cfg.API.Host = host
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.API.Port = port
	}

	if err := InitLogger(cfg); err != nil {
		return err
	}

	logrus.Info("Starting traffic analyzer...")

	controller, err := newController(cfg)
	if err != nil {
		return err
	}

	server := api.NewServer(cfg)
	server.RegisterCaptureService(api.NewCaptureService(controller, loadFilters(cfg)))
	server.RegisterMetrics(metrics.NewRegistry(controller))

	errChan := make(chan error, 1)
	go func() {
		logrus.Infof("API listening on %s", server.Addr())
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// 等待中断信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigChan:
		logrus.Infof("Received signal %v, shutting down...", sig)
	case err := <-errChan:
		logrus.Errorf("API server failed: %v", err)
		controller.Shutdown()
		return err
	}

	// 优雅退出
	if err := controller.Shutdown(); err != nil {
		logrus.Errorf("Error stopping capture: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logrus.Errorf("Error stopping API server: %v", err)
	}

	logrus.Info("Shutdown complete")
	return nil
}
