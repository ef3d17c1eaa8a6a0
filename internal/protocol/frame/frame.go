package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Wire layout (little endian, packed):
//
//	magic[4] checksum u32 total_size u32 mode u8 channel[2]
//	channel: enabled u8 data_format u8 data_offset u32 data_size u32 period u32 prescaler u16
const (
	MagicLen      = 4
	ChannelLen    = 16
	HeaderLen     = MagicLen + 4 + 4 + 1 + 2*ChannelLen
	ChannelCount  = 2
	channelsStart = 13

	// MaxDataLen is the largest data region total_size can describe.
	MaxDataLen = math.MaxUint32 - HeaderLen
)

var magic = [MagicLen]byte{'M', 'A', 'R', 'M'}

var (
	ErrShortHeader       = errors.New("frame: short header")
	ErrInvalidMagic      = errors.New("frame: invalid magic")
	ErrTotalSizeTooSmall = errors.New("frame: total_size smaller than header")
	ErrInvalidChannel    = errors.New("frame: invalid channel index")
	ErrSampleRange       = errors.New("frame: sample run outside data region")
	ErrFrameTooLarge     = errors.New("frame: data region exceeds total_size range")
)

// Mode selects how the two converter channels share timers and transfer streams.
type Mode uint8

const (
	ModeIndependent Mode = iota
	ModeSingleTrigger
	ModeDual
)

func (m Mode) Valid() bool {
	return m <= ModeDual
}

func (m Mode) String() string {
	switch m {
	case ModeIndependent:
		return "independent"
	case ModeSingleTrigger:
		return "single_trigger"
	case ModeDual:
		return "dual"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode maps a config name to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "independent":
		return ModeIndependent, nil
	case "single_trigger", "single-trigger":
		return ModeSingleTrigger, nil
	case "dual":
		return ModeDual, nil
	default:
		return 0, fmt.Errorf("frame: unknown mode %q", s)
	}
}

// DataFormat is the sample encoding of one channel's run.
type DataFormat uint8

const (
	Format8Bit DataFormat = iota
	Format12BitLeft
	Format12BitRight
)

func (f DataFormat) Valid() bool {
	return f <= Format12BitRight
}

func (f DataFormat) String() string {
	switch f {
	case Format8Bit:
		return "8bit"
	case Format12BitLeft:
		return "12bit_left"
	case Format12BitRight:
		return "12bit_right"
	default:
		return fmt.Sprintf("format(%d)", uint8(f))
	}
}

// ParseDataFormat maps a config name to a DataFormat.
func ParseDataFormat(s string) (DataFormat, error) {
	switch s {
	case "8bit":
		return Format8Bit, nil
	case "12bit_left", "12bit_LEFT":
		return Format12BitLeft, nil
	case "12bit_right", "12bit_RIGHT":
		return Format12BitRight, nil
	default:
		return 0, fmt.Errorf("frame: unknown data format %q", s)
	}
}

// Channel is one converter channel's configuration.
type Channel struct {
	Enabled    bool
	Format     DataFormat
	DataOffset uint32
	DataSize   uint32
	Period     uint32
	Prescaler  uint16
}

// Header is the fixed frame prefix. Values are copies; nothing aliases the receive buffer.
type Header struct {
	Checksum  uint32
	TotalSize uint32
	Mode      Mode
	Channels  [ChannelCount]Channel
}

// DataLen is the length of the sample region that follows the header.
func (h Header) DataLen() uint32 {
	if h.TotalSize < HeaderLen {
		return 0
	}
	return h.TotalSize - HeaderLen
}

// EnabledChannels returns how many channels are enabled (0, 1 or 2).
func (h Header) EnabledChannels() int {
	n := 0
	for _, ch := range h.Channels {
		if ch.Enabled {
			n++
		}
	}
	return n
}

// Frame is a parsed header plus its sample data region.
type Frame struct {
	Header Header
	Data   []byte
}

// Samples returns the bounds-checked sample run of channel idx (0 or 1).
func (f Frame) Samples(idx int) ([]byte, error) {
	if idx < 0 || idx >= ChannelCount {
		return nil, ErrInvalidChannel
	}
	ch := f.Header.Channels[idx]
	end := uint64(ch.DataOffset) + uint64(ch.DataSize)
	if end > uint64(len(f.Data)) {
		return nil, fmt.Errorf("%w: channel=%d offset=%d size=%d data=%d",
			ErrSampleRange, idx+1, ch.DataOffset, ch.DataSize, len(f.Data))
	}
	return f.Data[ch.DataOffset:end], nil
}

// VerifyMagic reports whether b starts with the "MARM" tag.
func VerifyMagic(b []byte) bool {
	if len(b) < MagicLen {
		return false
	}
	return b[0] == magic[0] && b[1] == magic[1] && b[2] == magic[2] && b[3] == magic[3]
}

// ParseHeader decodes the fixed header from the first HeaderLen bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderLen {
		return Header{}, fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b))
	}
	if !VerifyMagic(b) {
		return Header{}, ErrInvalidMagic
	}
	h := Header{
		Checksum:  binary.LittleEndian.Uint32(b[4:8]),
		TotalSize: binary.LittleEndian.Uint32(b[8:12]),
		Mode:      Mode(b[12]),
	}
	for i := range h.Channels {
		h.Channels[i] = decodeChannel(b[channelsStart+i*ChannelLen : channelsStart+(i+1)*ChannelLen])
	}
	if h.TotalSize < HeaderLen {
		return Header{}, fmt.Errorf("%w: total_size=%d", ErrTotalSizeTooSmall, h.TotalSize)
	}
	return h, nil
}

func decodeChannel(b []byte) Channel {
	return Channel{
		Enabled:    b[0] != 0,
		Format:     DataFormat(b[1]),
		DataOffset: binary.LittleEndian.Uint32(b[2:6]),
		DataSize:   binary.LittleEndian.Uint32(b[6:10]),
		Period:     binary.LittleEndian.Uint32(b[10:14]),
		Prescaler:  binary.LittleEndian.Uint16(b[14:16]),
	}
}

// EncodeHeader returns the wire form of h.
func EncodeHeader(h Header) []byte {
	return AppendHeader(make([]byte, 0, HeaderLen), h)
}

// AppendHeader appends the wire form of h to dst.
func AppendHeader(dst []byte, h Header) []byte {
	dst = append(dst, magic[:]...)
	dst = binary.LittleEndian.AppendUint32(dst, h.Checksum)
	dst = binary.LittleEndian.AppendUint32(dst, h.TotalSize)
	dst = append(dst, byte(h.Mode))
	for _, ch := range h.Channels {
		enabled := byte(0)
		if ch.Enabled {
			enabled = 1
		}
		dst = append(dst, enabled, byte(ch.Format))
		dst = binary.LittleEndian.AppendUint32(dst, ch.DataOffset)
		dst = binary.LittleEndian.AppendUint32(dst, ch.DataSize)
		dst = binary.LittleEndian.AppendUint32(dst, ch.Period)
		dst = binary.LittleEndian.AppendUint16(dst, ch.Prescaler)
	}
	return dst
}

// Build assembles a complete frame from a header and its data region.
// TotalSize is set from the data length.
func Build(h Header, data []byte) ([]byte, error) {
	if err := checkDataLen(len(data)); err != nil {
		return nil, err
	}
	h.TotalSize = uint32(HeaderLen + len(data))
	out := make([]byte, 0, int(h.TotalSize))
	out = AppendHeader(out, h)
	return append(out, data...), nil
}

// MustBuild is like Build but panics when data is too large.
func MustBuild(h Header, data []byte) []byte {
	raw, err := Build(h, data)
	if err != nil {
		panic(err)
	}
	return raw
}

func checkDataLen(n int) error {
	if n < 0 || uint64(n) > MaxDataLen {
		return fmt.Errorf("%w: %d bytes, max %d", ErrFrameTooLarge, n, uint64(MaxDataLen))
	}
	return nil
}
