package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "device", "ddsctl":
		return deviceTemplate, nil
	case "client", "ddsclient":
		return clientTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const deviceTemplate = `node = "dds.local"
listen = ":1234"
api = ":8080"
cors_origins = ["http://localhost:3000"]
max_size = 1024
timeout_ticks = 60
poll_interval = "500ms"
write_timeout = "2s"
clock_hz = 84000000
`

const clientTemplate = `addr = "127.0.0.1:1234"
mode = "independent"
dial_timeout = "2s"
attempts = 5

[backoff]
initial = "250ms"
multiplier = 2.0
max = "5s"
jitter = true

[[channels]]
enabled = true
format = "8bit"
file = "samples/ch1.bin"
period = 999
prescaler = 83

[[channels]]
enabled = false
format = "12bit_right"
file = "samples/ch2.bin"
period = 999
prescaler = 83
`
