package topology

import (
	"github.com/danmuck/ddsctl/internal/protocol/frame"
)

// TimerConfig is the sample clock divider programmed into a timer.
type TimerConfig struct {
	Period    uint32
	Prescaler uint16
}

// Assignment is the resolved wiring of one physical output pipeline.
type Assignment struct {
	Slot       Slot
	Converters []ConverterChannel
	Trigger    Trigger

	Timer TimerID
	// TimerSetup is nil when an earlier assignment already programs Timer.
	TimerSetup *TimerConfig

	Stream        StreamID
	StreamChannel uint8

	Format frame.DataFormat
	// SourceOffset and SourceLength locate the sample run inside the frame data region.
	SourceOffset uint32
	SourceLength uint32
	// Samples is filled by the dispatcher with a view of the run before Apply.
	Samples []byte

	Destination uint32
	Width       uint8
	Transfers   uint32

	CompleteInterrupt bool
}

type channelPipe struct {
	slot      Slot
	converter ConverterChannel
	timer     TimerID
	trigger   Trigger
	stream    StreamID
}

var channelPipes = [frame.ChannelCount]channelPipe{
	{slot: SlotChannel1, converter: Converter1, timer: TIM6, trigger: TriggerTIM6, stream: Stream5},
	{slot: SlotChannel2, converter: Converter2, timer: TIM7, trigger: TriggerTIM7, stream: Stream6},
}

// Resolve maps mode and header onto pipeline assignments.
//
// With no channel enabled it returns no assignments and no error; the caller
// stops all outputs.
func Resolve(mode frame.Mode, h frame.Header) ([]Assignment, error) {
	if h.EnabledChannels() == 0 {
		return nil, nil
	}

	switch mode {
	case frame.ModeIndependent:
		return resolveIndependent(h)
	case frame.ModeSingleTrigger:
		return resolveSingleTrigger(h)
	case frame.ModeDual:
		return resolveDual(h)
	default:
		return nil, configError(ErrUnsupportedMode, 0, "mode=%d", uint8(mode))
	}
}

// resolveIndependent gives each enabled channel its own timer and stream.
func resolveIndependent(h frame.Header) ([]Assignment, error) {
	out := make([]Assignment, 0, frame.ChannelCount)
	for idx, ch := range h.Channels {
		if !ch.Enabled {
			continue
		}
		pipe := channelPipes[idx]
		a, err := newAssignment(frame.ModeIndependent, h, idx, pipe)
		if err != nil {
			return nil, err
		}
		a.TimerSetup = &TimerConfig{Period: ch.Period, Prescaler: ch.Prescaler}
		out = append(out, a)
	}
	return out, nil
}

// resolveSingleTrigger drives every enabled channel from TIM6. The first
// enabled channel programs the timer; later channels' dividers are ignored.
func resolveSingleTrigger(h frame.Header) ([]Assignment, error) {
	out := make([]Assignment, 0, frame.ChannelCount)
	timerConfigured := false
	for idx, ch := range h.Channels {
		if !ch.Enabled {
			continue
		}
		pipe := channelPipes[idx]
		pipe.timer = TIM6
		pipe.trigger = TriggerTIM6
		a, err := newAssignment(frame.ModeSingleTrigger, h, idx, pipe)
		if err != nil {
			return nil, err
		}
		if !timerConfigured {
			a.TimerSetup = &TimerConfig{Period: ch.Period, Prescaler: ch.Prescaler}
			timerConfigured = true
		}
		out = append(out, a)
	}
	return out, nil
}

// resolveDual feeds both converters from one stream through the combined
// holding register. Channel 1 owns the trigger and the sample run.
func resolveDual(h frame.Header) ([]Assignment, error) {
	ch1, ch2 := h.Channels[0], h.Channels[1]
	if !ch1.Enabled && ch2.Enabled {
		return nil, configError(ErrInvalidCombination, 2, "dual mode requires channel 1")
	}

	pipe := channelPipe{
		slot:      SlotDual,
		converter: Converter1,
		timer:     TIM6,
		trigger:   TriggerTIM6,
		stream:    Stream5,
	}
	a, err := newAssignment(frame.ModeDual, h, 0, pipe)
	if err != nil {
		return nil, err
	}
	a.Converters = []ConverterChannel{Converter1, Converter2}
	a.TimerSetup = &TimerConfig{Period: ch1.Period, Prescaler: ch1.Prescaler}
	a.CompleteInterrupt = true
	return []Assignment{a}, nil
}

func newAssignment(mode frame.Mode, h frame.Header, idx int, pipe channelPipe) (Assignment, error) {
	ch := h.Channels[idx]
	channel := idx + 1

	dest, ok := Destination(pipe.slot, ch.Format)
	if !ok {
		return Assignment{}, configError(ErrUnsupportedFormat, channel, "slot=%s format=%d", pipe.slot, uint8(ch.Format))
	}
	width, ok := Width(mode, ch.Format)
	if !ok {
		return Assignment{}, configError(ErrUnsupportedFormat, channel, "format=%d", uint8(ch.Format))
	}

	end := uint64(ch.DataOffset) + uint64(ch.DataSize)
	if end > uint64(h.DataLen()) {
		return Assignment{}, configError(ErrSampleRange, channel, "offset=%d size=%d data=%d", ch.DataOffset, ch.DataSize, h.DataLen())
	}
	if ch.DataSize < uint32(width) {
		return Assignment{}, configError(ErrSampleRange, channel, "size=%d shorter than one %d-byte transfer", ch.DataSize, width)
	}

	return Assignment{
		Slot:          pipe.slot,
		Converters:    []ConverterChannel{pipe.converter},
		Trigger:       pipe.trigger,
		Timer:         pipe.timer,
		Stream:        pipe.stream,
		StreamChannel: StreamRequestChannel,
		Format:        ch.Format,
		SourceOffset:  ch.DataOffset,
		SourceLength:  ch.DataSize,
		Destination:   dest,
		Width:         width,
		Transfers:     ch.DataSize / uint32(width),
	}, nil
}
