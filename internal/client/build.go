package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/danmuck/ddsctl/internal/config"
	"github.com/danmuck/ddsctl/internal/protocol/frame"
)

var (
	ErrNoChannels  = errors.New("client: no channel samples")
	ErrDualLayout  = errors.New("client: dual mode channels must share format and length")
	ErrDualChannel = errors.New("client: dual mode requires channel 1")
)

// ChannelSamples is one channel's configuration plus its raw sample bytes.
type ChannelSamples struct {
	Enabled   bool
	Format    frame.DataFormat
	Period    uint32
	Prescaler uint16
	Samples   []byte
}

// BuildFrame lays enabled channels' samples back to back in the data region
// and returns the encoded frame. In dual mode with both channels enabled the
// samples are interleaved into one run for the combined holding register.
func BuildFrame(mode frame.Mode, channels []ChannelSamples) ([]byte, error) {
	if len(channels) > frame.ChannelCount {
		return nil, fmt.Errorf("client: %d channels, max %d", len(channels), frame.ChannelCount)
	}
	for i, ch := range channels {
		if ch.Enabled && len(ch.Samples) == 0 {
			return nil, fmt.Errorf("%w: channel %d", ErrNoChannels, i+1)
		}
	}
	if mode == frame.ModeDual && len(channels) == frame.ChannelCount && channels[1].Enabled {
		return buildDual(channels[0], channels[1])
	}

	var (
		h    = frame.Header{Mode: mode}
		data []byte
	)
	for i, ch := range channels {
		if !ch.Enabled {
			continue
		}
		h.Channels[i] = frame.Channel{
			Enabled:    true,
			Format:     ch.Format,
			DataOffset: uint32(len(data)),
			DataSize:   uint32(len(ch.Samples)),
			Period:     ch.Period,
			Prescaler:  ch.Prescaler,
		}
		data = append(data, ch.Samples...)
	}
	return frame.Build(h, data)
}

// buildDual interleaves per sample: channel 1 in the low half of each
// transfer, channel 2 in the high half. Channel 1 carries the run and the
// timer divider.
func buildDual(ch1, ch2 ChannelSamples) ([]byte, error) {
	if !ch1.Enabled {
		return nil, ErrDualChannel
	}
	width := sampleWidth(ch1.Format)
	if ch1.Format != ch2.Format || width == 0 ||
		len(ch1.Samples) != len(ch2.Samples) || len(ch1.Samples)%width != 0 {
		return nil, fmt.Errorf("%w: ch1=%s/%d ch2=%s/%d", ErrDualLayout,
			ch1.Format, len(ch1.Samples), ch2.Format, len(ch2.Samples))
	}

	data := make([]byte, 0, 2*len(ch1.Samples))
	for off := 0; off < len(ch1.Samples); off += width {
		data = append(data, ch1.Samples[off:off+width]...)
		data = append(data, ch2.Samples[off:off+width]...)
	}
	run := frame.Channel{Enabled: true, Format: ch1.Format, DataSize: uint32(len(data))}
	h := frame.Header{Mode: frame.ModeDual}
	h.Channels[0] = run
	h.Channels[0].Period = ch1.Period
	h.Channels[0].Prescaler = ch1.Prescaler
	h.Channels[1] = run
	h.Channels[1].Period = ch2.Period
	h.Channels[1].Prescaler = ch2.Prescaler
	return frame.Build(h, data)
}

func sampleWidth(f frame.DataFormat) int {
	switch f {
	case frame.Format8Bit:
		return 1
	case frame.Format12BitLeft, frame.Format12BitRight:
		return 2
	default:
		return 0
	}
}

// FrameFromProfile reads the profile's sample files, relative to baseDir,
// and builds the upload frame.
func FrameFromProfile(p config.ClientProfile, baseDir string) ([]byte, error) {
	mode, err := frame.ParseMode(strings.TrimSpace(p.Mode))
	if err != nil {
		return nil, err
	}
	channels := make([]ChannelSamples, len(p.Channels))
	for i, ch := range p.Channels {
		if !ch.Enabled {
			continue
		}
		format, err := frame.ParseDataFormat(strings.TrimSpace(ch.Format))
		if err != nil {
			return nil, err
		}
		path := ch.File
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		samples, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("client: channel %d samples: %w", i+1, err)
		}
		channels[i] = ChannelSamples{
			Enabled:   true,
			Format:    format,
			Period:    ch.Period,
			Prescaler: ch.Prescaler,
			Samples:   samples,
		}
	}
	return BuildFrame(mode, channels)
}
