package topology

import (
	"fmt"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
)

// Converter register map.
const (
	ConverterBase uint32 = 0x40007400

	holdingCh1Offset  uint32 = 0x08
	holdingCh2Offset  uint32 = 0x14
	holdingDualOffset uint32 = 0x20

	align12BitRight uint32 = 0x00
	align12BitLeft  uint32 = 0x04
	align8BitRight  uint32 = 0x08
)

// StreamRequestChannel is the transfer engine request line wired to the converter.
const StreamRequestChannel uint8 = 7

// Slot is the pipeline arity: one converter channel or both combined.
type Slot uint8

const (
	SlotChannel1 Slot = iota + 1
	SlotChannel2
	SlotDual
)

func (s Slot) String() string {
	switch s {
	case SlotChannel1:
		return "ch1"
	case SlotChannel2:
		return "ch2"
	case SlotDual:
		return "dual"
	default:
		return fmt.Sprintf("slot(%d)", uint8(s))
	}
}

type TimerID uint8

const (
	TIM6 TimerID = 6
	TIM7 TimerID = 7
)

func (t TimerID) String() string { return fmt.Sprintf("TIM%d", uint8(t)) }

type StreamID uint8

const (
	Stream5 StreamID = 5
	Stream6 StreamID = 6
)

func (s StreamID) String() string { return fmt.Sprintf("DMA1_Stream%d", uint8(s)) }

// Trigger is the converter conversion trigger source.
type Trigger uint8

const (
	TriggerTIM6 Trigger = iota + 1
	TriggerTIM7
)

func (t Trigger) String() string {
	switch t {
	case TriggerTIM6:
		return "T6_TRGO"
	case TriggerTIM7:
		return "T7_TRGO"
	default:
		return fmt.Sprintf("trigger(%d)", uint8(t))
	}
}

// ConverterChannel is a physical analog output.
type ConverterChannel uint8

const (
	Converter1 ConverterChannel = 1
	Converter2 ConverterChannel = 2
)

// Destination returns the holding register address for a slot and sample format.
// ok is false for an unrecognised combination.
func Destination(slot Slot, format frame.DataFormat) (addr uint32, ok bool) {
	addr = ConverterBase
	switch slot {
	case SlotChannel1:
		addr += holdingCh1Offset
	case SlotChannel2:
		addr += holdingCh2Offset
	case SlotDual:
		addr += holdingDualOffset
	default:
		return 0, false
	}

	switch format {
	case frame.Format8Bit:
		addr += align8BitRight
	case frame.Format12BitLeft:
		addr += align12BitLeft
	case frame.Format12BitRight:
		addr += align12BitRight
	default:
		return 0, false
	}
	return addr, true
}

// Width returns the bytes moved per transfer. Dual mode carries both channels'
// samples in one transfer, so its width is twice the single-channel width.
func Width(mode frame.Mode, format frame.DataFormat) (width uint8, ok bool) {
	switch format {
	case frame.Format8Bit:
		width = 1
	case frame.Format12BitLeft, frame.Format12BitRight:
		width = 2
	default:
		return 0, false
	}
	if mode == frame.ModeDual {
		width *= 2
	}
	return width, true
}
