package playback

import "github.com/danmuck/ddsctl/internal/topology"

// Notifier receives asynchronous backend events. Implementations must not
// block and must not touch reception state.
type Notifier interface {
	OnCycleComplete()
	OnError()
}

// Backend drives the physical output pipelines.
type Backend interface {
	// Apply configures and starts one pipeline.
	Apply(a topology.Assignment) error
	// StopAll halts every pipeline. It is idempotent.
	StopAll()
	SetNotifier(n Notifier)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) OnCycleComplete() {}
func (NopNotifier) OnError()         {}
