package main

import (
	"fmt"

	"github.com/haolipeng/traffic_analyzer/pkg/analyzer"
	"github.com/haolipeng/traffic_analyzer/pkg/config"
	"github.com/haolipeng/traffic_analyzer/pkg/filter"
	"github.com/haolipeng/traffic_analyzer/pkg/pipeline"
	"github.com/haolipeng/traffic_analyzer/pkg/sink"
	"github.com/haolipeng/traffic_analyzer/pkg/source"
	"github.com/haolipeng/traffic_analyzer/pkg/source/live"
	"github.com/sirupsen/logrus"
)

// newSourceFactory 根据source.type选择文件回放或网卡抓包
func newSourceFactory(cfg *config.Config) pipeline.SourceFactory {
	if cfg.Source.Type == "file" {
		filename := cfg.Source.Filename
		return pipeline.SourceFactoryFunc(func(string) (pipeline.Source, error) {
			src, err := source.NewPcapFileSource(filename, cfg.Capture.BufferSize)
			if err != nil {
				return nil, err
			}
			return src, nil
		})
	}

	opts := live.Options{
		SnapLen:     cfg.Interface.SnapLen,
		Promiscuous: cfg.Interface.Promiscuous,
		Timeout:     cfg.Interface.Timeout,
		BufferSize:  cfg.Capture.BufferSize,
	}
	return pipeline.SourceFactoryFunc(func(iface string) (pipeline.Source, error) {
		if iface == "" {
			names, err := live.Interfaces()
			if err != nil {
				return nil, err
			}
			if len(names) == 0 {
				return nil, fmt.Errorf("no capture interface found")
			}
			iface = names[0]
			logrus.Infof("No interface given, using %s", iface)
		}
		src, err := live.NewPcapSource(iface, opts)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
}

func newSinks(cfg *config.Config) ([]pipeline.Sink, error) {
	var sinks []pipeline.Sink
	if cfg.Output.Pcap.Enabled {
		s, err := sink.NewPcapSink(cfg.Output.Pcap.Dir, cfg.Output.Pcap.BaseFilename, cfg.Output.Pcap.MaxFileSize)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	if cfg.Output.Archive.Enabled {
		s, err := sink.NewArchiveSink(cfg.Output.Archive.Dir, cfg.Output.Archive.Webhook)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}
	return sinks, nil
}

func newController(cfg *config.Config) (*pipeline.Controller, error) {
	sinks, err := newSinks(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}
	opts := pipeline.Options{
		StoreCapacity:    cfg.Capture.StoreCapacity,
		StopGrace:        cfg.Capture.StopGrace,
		DefaultInterface: cfg.Interface.Name,
		BPFFilter:        cfg.Interface.BPFFilter,
		Detector: &analyzer.DetectorConfig{
			PortScanThreshold: cfg.Detector.PortScanThreshold,
			DNSThreshold:      *cfg.Detector.DNSThreshold,
			ICMPThreshold:     *cfg.Detector.ICMPThreshold,
		},
	}
	return pipeline.NewController(newSourceFactory(cfg), opts, sinks...), nil
}

func loadFilters(cfg *config.Config) *filter.Library {
	lib := filter.NewLibrary()
	if cfg.Filters.File == "" {
		return lib
	}
	if err := lib.LoadFile(cfg.Filters.File); err != nil {
		logrus.Errorf("Failed to load filters: %v", err)
	}
	return lib
}
