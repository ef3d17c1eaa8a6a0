package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/pelletier/go-toml/v2"
)

// DeviceConfig is the device process file. cmd/ddsctl overlays it on
// runtime defaults; this form is used for template validation.
type DeviceConfig struct {
	Node         string   `toml:"node"`
	Listen       string   `toml:"listen"`
	API          string   `toml:"api"`
	CorsOrigins  []string `toml:"cors_origins"`
	MaxSize      int      `toml:"max_size"`
	TimeoutTicks int      `toml:"timeout_ticks"`
	PollInterval string   `toml:"poll_interval"`
	WriteTimeout string   `toml:"write_timeout"`
	ClockHz      uint64   `toml:"clock_hz"`
}

// ClientProfile describes one upload: target, mode and per-channel sample files.
type ClientProfile struct {
	Addr        string          `toml:"addr"`
	Mode        string          `toml:"mode"`
	DialTimeout string          `toml:"dial_timeout"`
	Attempts    int             `toml:"attempts"`
	Backoff     BackoffProfile  `toml:"backoff"`
	Channels    []ChannelConfig `toml:"channels"`
}

type BackoffProfile struct {
	Initial    string  `toml:"initial"`
	Multiplier float64 `toml:"multiplier"`
	Max        string  `toml:"max"`
	Jitter     bool    `toml:"jitter"`
}

type ChannelConfig struct {
	Enabled   bool   `toml:"enabled"`
	Format    string `toml:"format"`
	File      string `toml:"file"`
	Period    uint32 `toml:"period"`
	Prescaler uint16 `toml:"prescaler"`
}

func LoadDeviceConfig(path string) (DeviceConfig, error) {
	var cfg DeviceConfig
	if err := loadToml(path, &cfg); err != nil {
		return DeviceConfig{}, err
	}
	if cfg.Node == "" {
		cfg.Node = "dds.local"
	}
	if cfg.Listen == "" {
		cfg.Listen = ":1234"
	}
	if err := ValidateDeviceConfig(cfg); err != nil {
		return DeviceConfig{}, err
	}
	return cfg, nil
}

func LoadClientProfile(path string) (ClientProfile, error) {
	var cfg ClientProfile
	if err := loadToml(path, &cfg); err != nil {
		return ClientProfile{}, err
	}
	if cfg.Mode == "" {
		cfg.Mode = frame.ModeIndependent.String()
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = 5
	}
	if err := ValidateClientProfile(cfg); err != nil {
		return ClientProfile{}, err
	}
	return cfg, nil
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func ValidateDeviceConfig(cfg DeviceConfig) error {
	if strings.TrimSpace(cfg.Listen) == "" {
		return fmt.Errorf("device config missing listen")
	}
	if cfg.MaxSize != 0 && cfg.MaxSize < frame.HeaderLen {
		return fmt.Errorf("device config max_size %d below header length %d", cfg.MaxSize, frame.HeaderLen)
	}
	if cfg.TimeoutTicks < 0 {
		return fmt.Errorf("device config timeout_ticks must not be negative")
	}
	for key, raw := range map[string]string{"poll_interval": cfg.PollInterval, "write_timeout": cfg.WriteTimeout} {
		if err := validateDuration(raw); err != nil {
			return fmt.Errorf("device config %s: %w", key, err)
		}
	}
	return nil
}

func ValidateClientProfile(cfg ClientProfile) error {
	if strings.TrimSpace(cfg.Addr) == "" {
		return fmt.Errorf("client profile missing addr")
	}
	if _, err := frame.ParseMode(strings.TrimSpace(cfg.Mode)); err != nil {
		return err
	}
	if len(cfg.Channels) > frame.ChannelCount {
		return fmt.Errorf("client profile has %d channels, max %d", len(cfg.Channels), frame.ChannelCount)
	}
	for i, ch := range cfg.Channels {
		if err := ValidateChannel(ch); err != nil {
			return fmt.Errorf("channel[%d] invalid: %w", i, err)
		}
	}
	for key, raw := range map[string]string{
		"dial_timeout":    cfg.DialTimeout,
		"backoff.initial": cfg.Backoff.Initial,
		"backoff.max":     cfg.Backoff.Max,
	} {
		if err := validateDuration(raw); err != nil {
			return fmt.Errorf("client profile %s: %w", key, err)
		}
	}
	return nil
}

func ValidateChannel(ch ChannelConfig) error {
	if !ch.Enabled {
		return nil
	}
	if _, err := frame.ParseDataFormat(strings.TrimSpace(ch.Format)); err != nil {
		return err
	}
	if strings.TrimSpace(ch.File) == "" {
		return fmt.Errorf("file is required")
	}
	return nil
}

// Duration parses an optional duration field, returning def when unset.
func Duration(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	return time.ParseDuration(raw)
}

func validateDuration(raw string) error {
	_, err := Duration(raw, 0)
	return err
}
