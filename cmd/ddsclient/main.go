package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/danmuck/ddsctl/internal/client"
	"github.com/danmuck/ddsctl/internal/config"
	"github.com/danmuck/ddsctl/internal/observability"
	"github.com/danmuck/ddsctl/internal/protocol/status"
)

type channelFlags struct {
	file      string
	format    string
	period    uint
	prescaler uint
}

func (c *channelFlags) register(fs *flag.FlagSet, name string) {
	fs.StringVar(&c.file, name, "", name+" sample file (channel disabled when empty)")
	fs.StringVar(&c.format, name+"-format", "8bit", name+" format: 8bit|12bit_left|12bit_right")
	fs.UintVar(&c.period, name+"-period", 999, name+" timer period register")
	fs.UintVar(&c.prescaler, name+"-prescaler", 83, name+" timer prescaler register")
}

func (c channelFlags) config() config.ChannelConfig {
	return config.ChannelConfig{
		Enabled:   c.file != "",
		Format:    c.format,
		File:      c.file,
		Period:    uint32(c.period),
		Prescaler: uint16(c.prescaler),
	}
}

func main() {
	fs := flag.NewFlagSet("ddsclient", flag.ExitOnError)
	profilePath := fs.String("profile", "", "client profile TOML; flags below are ignored when set")
	addr := fs.String("addr", "127.0.0.1:1234", "device upload address")
	mode := fs.String("mode", "independent", "mode: independent|single_trigger|dual")
	attempts := fs.Int("attempts", 5, "dial and busy retry attempts")
	chunk := fs.Int("chunk", 0, "split the frame into writes of this many bytes")
	var ch1, ch2 channelFlags
	ch1.register(fs, "ch1")
	ch2.register(fs, "ch2")
	_ = fs.Parse(os.Args[1:])

	observability.InitLogger("ddsclient")

	profile := config.ClientProfile{
		Addr:     *addr,
		Mode:     *mode,
		Attempts: *attempts,
		Channels: []config.ChannelConfig{ch1.config(), ch2.config()},
	}
	baseDir := "."
	if *profilePath != "" {
		loaded, err := config.LoadClientProfile(*profilePath)
		if err != nil {
			fatal(err)
		}
		profile = loaded
		baseDir = filepath.Dir(*profilePath)
	} else if err := config.ValidateClientProfile(profile); err != nil {
		fatal(err)
	}

	raw, err := client.FrameFromProfile(profile, baseDir)
	if err != nil {
		fatal(err)
	}
	cfg, err := client.ConfigFromProfile(profile)
	if err != nil {
		fatal(err)
	}
	cfg.ChunkSize = *chunk

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := client.New(cfg).Upload(ctx, raw)
	if err != nil {
		fatal(err)
	}
	fmt.Println(res.Response)
	if res.Code != status.OK {
		os.Exit(2)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "ddsclient: %v\n", err)
	os.Exit(1)
}
