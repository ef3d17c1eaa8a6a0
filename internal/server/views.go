package server

import (
	"fmt"

	"github.com/danmuck/ddsctl/internal/playback"
)

func pipelineViews(d *playback.Dispatcher) []PipelineView {
	active := d.Active()
	out := make([]PipelineView, 0, len(active))
	for _, a := range active {
		conv := make([]int, 0, len(a.Converters))
		for _, c := range a.Converters {
			conv = append(conv, int(c))
		}
		out = append(out, PipelineView{
			Slot:        a.Slot.String(),
			Converters:  conv,
			Timer:       a.Timer.String(),
			Trigger:     a.Trigger.String(),
			Stream:      a.Stream.String(),
			Format:      a.Format.String(),
			Destination: fmt.Sprintf("0x%08X", a.Destination),
			Width:       a.Width,
			Transfers:   a.Transfers,
			Interrupt:   a.CompleteInterrupt,
		})
	}
	return out
}
