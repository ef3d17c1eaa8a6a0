package topology

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidCombination = errors.New("topology: invalid channel combination")
	ErrUnsupportedFormat  = errors.New("topology: unsupported data format")
	ErrUnsupportedMode    = errors.New("topology: unsupported mode")
	ErrSampleRange        = errors.New("topology: sample run outside data region")
)

// ConfigError describes why a header cannot be mapped onto pipelines.
// It unwraps to one of the package sentinels.
type ConfigError struct {
	Kind    error
	Channel int
	Detail  string
}

func (e *ConfigError) Error() string {
	msg := e.Kind.Error()
	if e.Channel > 0 {
		msg = fmt.Sprintf("%s: channel=%d", msg, e.Channel)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConfigError) Unwrap() error {
	return e.Kind
}

func configError(kind error, channel int, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Channel: channel, Detail: fmt.Sprintf(format, args...)}
}
