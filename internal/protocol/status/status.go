// Package status owns the result codes reported to the uploading peer.
//
// Every connection ends with exactly one textual response chosen from a
// fixed table keyed by Code.
package status

import (
	"errors"
	"fmt"
)

// Code is the terminal result of one frame upload.
type Code uint8

const (
	OK Code = iota
	Header
	Checksum
	Data
	Config
	Memory
	Timeout
)

var responses = [...]string{
	OK:       "OK",
	Header:   "invalid header",
	Checksum: "invalid checksum",
	Data:     "invalid data",
	Config:   "invalid configuration",
	Memory:   "no enough memory",
	Timeout:  "timeout",
}

var names = [...]string{
	OK:       "ok",
	Header:   "err_header",
	Checksum: "err_checksum",
	Data:     "err_data",
	Config:   "err_config",
	Memory:   "err_memory",
	Timeout:  "err_timeout",
}

var (
	ErrHeader   = errors.New("dds: invalid header")
	ErrChecksum = errors.New("dds: invalid checksum")
	ErrData     = errors.New("dds: invalid data")
	ErrConfig   = errors.New("dds: invalid configuration")
	ErrMemory   = errors.New("dds: frame exceeds buffer capacity")
	ErrTimeout  = errors.New("dds: no forward progress")
)

// Response returns the wire response for c.
func (c Code) Response() string {
	if int(c) < len(responses) {
		return responses[c]
	}
	return responses[Config]
}

// String returns a label usable in logs and metrics.
func (c Code) String() string {
	if int(c) < len(names) {
		return names[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Err returns the sentinel error for c, nil for OK.
func (c Code) Err() error {
	switch c {
	case OK:
		return nil
	case Header:
		return ErrHeader
	case Checksum:
		return ErrChecksum
	case Data:
		return ErrData
	case Memory:
		return ErrMemory
	case Timeout:
		return ErrTimeout
	default:
		return ErrConfig
	}
}

// FromError maps an error chain to a Code. Unrecognised errors map to Config.
func FromError(err error) Code {
	switch {
	case err == nil:
		return OK
	case errors.Is(err, ErrHeader):
		return Header
	case errors.Is(err, ErrChecksum):
		return Checksum
	case errors.Is(err, ErrData):
		return Data
	case errors.Is(err, ErrMemory):
		return Memory
	case errors.Is(err, ErrTimeout):
		return Timeout
	default:
		return Config
	}
}

// Codes lists every code in table order.
func Codes() []Code {
	return []Code{OK, Header, Checksum, Data, Config, Memory, Timeout}
}

// Parse maps a response string back to its Code.
func Parse(resp string) (Code, bool) {
	for i, s := range responses {
		if s == resp {
			return Code(i), true
		}
	}
	return 0, false
}
