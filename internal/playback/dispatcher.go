package playback

import (
	"fmt"
	"sync"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/danmuck/ddsctl/internal/topology"
	"github.com/rs/zerolog/log"
)

// Dispatcher turns a complete frame into running pipelines.
// Start and Stop are called from the reception loop only.
type Dispatcher struct {
	backend   Backend
	validator frame.Validator

	mu     sync.RWMutex
	active []topology.Assignment
}

// New wires notifier into backend once and returns a Dispatcher.
// A nil validator accepts every frame.
func New(backend Backend, notifier Notifier, validator frame.Validator) *Dispatcher {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if validator == nil {
		validator = frame.AcceptAll{}
	}
	backend.SetNotifier(notifier)
	return &Dispatcher{backend: backend, validator: validator}
}

// Start validates f and starts its outputs. Errors wrap a status sentinel.
func (d *Dispatcher) Start(f frame.Frame) error {
	if !d.validator.VerifyChecksum(f) {
		return fmt.Errorf("%w: checksum=0x%08x", status.ErrChecksum, f.Header.Checksum)
	}
	if !d.validator.VerifyData(f) {
		return status.ErrData
	}

	plan, err := topology.Resolve(f.Header.Mode, f.Header)
	if err != nil {
		d.Stop()
		return fmt.Errorf("%w: %w", status.ErrConfig, err)
	}
	if len(plan) == 0 {
		d.Stop()
		log.Info().Str("mode", f.Header.Mode.String()).Msg("playback_idle_no_channels")
		return nil
	}

	for i := range plan {
		a := &plan[i]
		end := uint64(a.SourceOffset) + uint64(a.SourceLength)
		if end > uint64(len(f.Data)) {
			d.Stop()
			return fmt.Errorf("%w: %w: %s data=%d", status.ErrConfig, topology.ErrSampleRange, a.Slot, len(f.Data))
		}
		a.Samples = f.Data[a.SourceOffset:end]
		if err := d.backend.Apply(*a); err != nil {
			d.Stop()
			return fmt.Errorf("%w: apply %s: %w", status.ErrConfig, a.Slot, err)
		}
		log.Debug().
			Str("slot", a.Slot.String()).
			Str("timer", a.Timer.String()).
			Str("stream", a.Stream.String()).
			Str("trigger", a.Trigger.String()).
			Uint32("dest", a.Destination).
			Uint8("width", a.Width).
			Uint32("transfers", a.Transfers).
			Msg("pipeline_applied")
	}

	d.mu.Lock()
	d.active = plan
	d.mu.Unlock()
	log.Info().Str("mode", f.Header.Mode.String()).Int("pipelines", len(plan)).Msg("playback_started")
	return nil
}

// Stop halts all outputs. Safe to call repeatedly and before any Start.
func (d *Dispatcher) Stop() {
	d.backend.StopAll()
	d.mu.Lock()
	d.active = nil
	d.mu.Unlock()
}

// Active returns a copy of the running assignments without sample views.
func (d *Dispatcher) Active() []topology.Assignment {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]topology.Assignment, len(d.active))
	for i, a := range d.active {
		a.Samples = nil
		out[i] = a
	}
	return out
}
