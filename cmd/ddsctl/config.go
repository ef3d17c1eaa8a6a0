package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/server"
)

type fileConfig struct {
	Node           string   `toml:"node"`
	Listen         string   `toml:"listen"`
	API            string   `toml:"api"`
	CorsOrigins    []string `toml:"cors_origins"`
	MaxSize        int      `toml:"max_size"`
	TimeoutTicks   int      `toml:"timeout_ticks"`
	PollInterval   string   `toml:"poll_interval"`
	PollIntervalMS int64    `toml:"poll_interval_ms"`
	WriteTimeout   string   `toml:"write_timeout"`
	ReadChunk      int      `toml:"read_chunk"`
	NotifyQueue    int      `toml:"notify_queue"`
	ClockHz        uint64   `toml:"clock_hz"`
	MinCycle       string   `toml:"min_cycle"`
}

func loadServiceConfig(path string) (server.ServiceConfig, error) {
	cfg := server.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.ServiceConfig{}, fmt.Errorf("load device config: %w", err)
	}

	if meta.IsDefined("node") {
		if node := strings.TrimSpace(raw.Node); node != "" {
			cfg.Server.NodeID = node
		}
	}

	if meta.IsDefined("listen") {
		cfg.ListenAddr = strings.TrimSpace(raw.Listen)
	}

	if meta.IsDefined("api") {
		cfg.APIAddr = strings.TrimSpace(raw.API)
	}

	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = normalizeList(raw.CorsOrigins)
	}

	if meta.IsDefined("max_size") {
		if raw.MaxSize < frame.HeaderLen {
			return server.ServiceConfig{}, fmt.Errorf("max_size %d below header length %d", raw.MaxSize, frame.HeaderLen)
		}
		cfg.Server.Session.MaxSize = raw.MaxSize
	}

	if meta.IsDefined("timeout_ticks") {
		cfg.Server.Session.TimeoutTicks = raw.TimeoutTicks
	}

	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.Server.Session.PollInterval = d
	}

	if meta.IsDefined("poll_interval_ms") {
		cfg.Server.Session.PollInterval = time.Duration(raw.PollIntervalMS) * time.Millisecond
	}

	if meta.IsDefined("write_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.WriteTimeout))
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("parse write_timeout: %w", err)
		}
		cfg.Server.WriteTimeout = d
	}

	if meta.IsDefined("read_chunk") {
		cfg.Server.ReadChunk = raw.ReadChunk
	}

	if meta.IsDefined("notify_queue") {
		cfg.Server.NotifyQueue = raw.NotifyQueue
	}

	if meta.IsDefined("clock_hz") {
		cfg.Sim.ClockHz = raw.ClockHz
	}

	if meta.IsDefined("min_cycle") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.MinCycle))
		if err != nil {
			return server.ServiceConfig{}, fmt.Errorf("parse min_cycle: %w", err)
		}
		cfg.Sim.MinCycle = d
	}

	return cfg, nil
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
