package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/ddsctl/internal/observability"
	"github.com/danmuck/ddsctl/internal/server"
)

func main() {
	configPath := flag.String("config", "", "path to device config TOML (defaults when empty)")
	flag.Parse()

	observability.InitLogger("ddsctl")

	cfg := server.DefaultServiceConfig()
	if *configPath != "" {
		loaded, err := loadServiceConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ddsctl: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	svc := server.NewServiceWithConfig(cfg)
	if err := svc.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "ddsctl: %v\n", err)
		os.Exit(1)
	}
}
