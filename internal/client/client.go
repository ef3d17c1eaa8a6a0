// Package client uploads frames to a device and reports its response.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net"
	"strings"
	"time"

	"github.com/danmuck/ddsctl/internal/config"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/rs/zerolog/log"
)

var (
	ErrAddrRequired    = errors.New("client: address required")
	ErrBusy            = errors.New("client: device busy")
	ErrUnknownResponse = errors.New("client: unknown response")
)

type Config struct {
	Addr        string
	DialTimeout time.Duration
	IOTimeout   time.Duration
	// Attempts bounds dial and busy retries; zero means one attempt.
	Attempts int
	Backoff  BackoffConfig
	// ChunkSize splits the frame into writes of at most this many bytes.
	ChunkSize int
	// ChunkDelay pauses between chunk writes.
	ChunkDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		Addr:        "127.0.0.1:1234",
		DialTimeout: 2 * time.Second,
		IOTimeout:   10 * time.Second,
		Attempts:    5,
		Backoff:     DefaultBackoff(),
	}
}

// ConfigFromProfile overlays a client profile on DefaultConfig.
func ConfigFromProfile(p config.ClientProfile) (Config, error) {
	cfg := DefaultConfig()
	if addr := strings.TrimSpace(p.Addr); addr != "" {
		cfg.Addr = addr
	}
	if p.Attempts > 0 {
		cfg.Attempts = p.Attempts
	}
	var err error
	if cfg.DialTimeout, err = config.Duration(p.DialTimeout, cfg.DialTimeout); err != nil {
		return Config{}, fmt.Errorf("dial_timeout: %w", err)
	}
	if cfg.Backoff.InitialDelay, err = config.Duration(p.Backoff.Initial, cfg.Backoff.InitialDelay); err != nil {
		return Config{}, fmt.Errorf("backoff.initial: %w", err)
	}
	if cfg.Backoff.MaxDelay, err = config.Duration(p.Backoff.Max, cfg.Backoff.MaxDelay); err != nil {
		return Config{}, fmt.Errorf("backoff.max: %w", err)
	}
	if p.Backoff.Multiplier > 0 {
		cfg.Backoff.Multiplier = p.Backoff.Multiplier
	}
	cfg.Backoff.Jitter = p.Backoff.Jitter
	return cfg, nil
}

// Result is the device's answer to one upload.
type Result struct {
	Code     status.Code
	Response string
	Attempts int
}

type Client struct {
	cfg  Config
	rng  *rand.Rand
	dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func New(cfg Config) *Client {
	d := &net.Dialer{Timeout: cfg.DialTimeout}
	return &Client{
		cfg:  cfg,
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
		dial: d.DialContext,
	}
}

// Upload sends raw and returns the device response. A connection the device
// closes without a response is treated as busy and retried with backoff.
func (c *Client) Upload(ctx context.Context, raw []byte) (Result, error) {
	if strings.TrimSpace(c.cfg.Addr) == "" {
		return Result{}, ErrAddrRequired
	}
	attempts := c.cfg.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := c.uploadOnce(ctx, raw)
		if err == nil {
			code, ok := status.Parse(resp)
			if !ok {
				return Result{Response: resp, Attempts: attempt}, fmt.Errorf("%w: %q", ErrUnknownResponse, resp)
			}
			return Result{Code: code, Response: resp, Attempts: attempt}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return Result{Attempts: attempt}, ctx.Err()
		}
		if attempt == attempts {
			break
		}
		delay := c.cfg.Backoff.Delay(attempt, c.rng)
		log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", delay).Str("addr", c.cfg.Addr).Msg("upload_retry")
		if err := sleepContext(ctx, delay); err != nil {
			return Result{Attempts: attempt}, err
		}
	}
	return Result{Attempts: attempts}, lastErr
}

func (c *Client) uploadOnce(ctx context.Context, raw []byte) (string, error) {
	conn, err := c.dial(ctx, "tcp", c.cfg.Addr)
	if err != nil {
		return "", err
	}
	defer conn.Close()
	if c.cfg.IOTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(c.cfg.IOTimeout))
	}

	chunk := c.cfg.ChunkSize
	if chunk <= 0 {
		chunk = len(raw)
	}
	for off := 0; off < len(raw); off += chunk {
		end := min(off+chunk, len(raw))
		if _, err := conn.Write(raw[off:end]); err != nil {
			// the device may answer early and close; fall through to read it
			break
		}
		if c.cfg.ChunkDelay > 0 && end < len(raw) {
			if err := sleepContext(ctx, c.cfg.ChunkDelay); err != nil {
				return "", err
			}
		}
	}

	resp, err := io.ReadAll(conn)
	if err != nil && len(resp) == 0 {
		return "", err
	}
	if len(resp) == 0 {
		return "", ErrBusy
	}
	return string(resp), nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
