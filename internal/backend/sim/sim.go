package sim

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ddsctl/internal/playback"
	"github.com/danmuck/ddsctl/internal/topology"
	"github.com/rs/zerolog/log"
)

// TimerClockHz is the timer input clock of the reference board.
const TimerClockHz = 84_000_000

var (
	ErrStreamBusy       = errors.New("sim: transfer stream in use")
	ErrConverterBusy    = errors.New("sim: converter channel in use")
	ErrTimerUnset       = errors.New("sim: timer not configured")
	ErrShortSamples     = errors.New("sim: sample run shorter than transfers")
	ErrInvalidTransfers = errors.New("sim: zero transfers")
)

type Options struct {
	ClockHz uint64
	// MinCycle floors the simulated cycle period so tiny dividers do not spin.
	MinCycle time.Duration
}

func DefaultOptions() Options {
	return Options{ClockHz: TimerClockHz, MinCycle: time.Millisecond}
}

// PipelineStatus is the observable state of one running pipeline.
type PipelineStatus struct {
	Slot         string  `json:"slot"`
	Stream       string  `json:"stream"`
	Timer        string  `json:"timer"`
	Trigger      string  `json:"trigger"`
	Destination  uint32  `json:"destination"`
	Width        uint8   `json:"width"`
	Transfers    uint32  `json:"transfers"`
	SampleRateHz float64 `json:"sample_rate_hz"`
	Cycles       uint64  `json:"cycles"`
	Interrupt    bool    `json:"complete_interrupt"`
}

type pipeline struct {
	a      topology.Assignment
	cycle  time.Duration
	rate   float64
	cycles atomic.Uint64
	cancel context.CancelFunc
	done   chan struct{}
}

// Backend implements playback.Backend without hardware.
type Backend struct {
	opts Options

	mu         sync.Mutex
	notifier   playback.Notifier
	streams    map[topology.StreamID]*pipeline
	converters map[topology.ConverterChannel]topology.StreamID
	timers     map[topology.TimerID]topology.TimerConfig
	registers  map[uint32]uint32
	applies    uint64
	stops      uint64
}

func New(opts Options) *Backend {
	def := DefaultOptions()
	if opts.ClockHz == 0 {
		opts.ClockHz = def.ClockHz
	}
	if opts.MinCycle <= 0 {
		opts.MinCycle = def.MinCycle
	}
	return &Backend{
		opts:       opts,
		notifier:   playback.NopNotifier{},
		streams:    make(map[topology.StreamID]*pipeline),
		converters: make(map[topology.ConverterChannel]topology.StreamID),
		timers:     make(map[topology.TimerID]topology.TimerConfig),
		registers:  make(map[uint32]uint32),
	}
}

func (b *Backend) SetNotifier(n playback.Notifier) {
	if n == nil {
		n = playback.NopNotifier{}
	}
	b.mu.Lock()
	b.notifier = n
	b.mu.Unlock()
}

func (b *Backend) Apply(a topology.Assignment) error {
	if a.Transfers == 0 {
		return ErrInvalidTransfers
	}
	need := uint64(a.Transfers) * uint64(a.Width)
	if uint64(len(a.Samples)) < need {
		return fmt.Errorf("%w: have=%d need=%d", ErrShortSamples, len(a.Samples), need)
	}

	b.mu.Lock()
	if _, busy := b.streams[a.Stream]; busy {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStreamBusy, a.Stream)
	}
	for _, c := range a.Converters {
		if owner, busy := b.converters[c]; busy {
			b.mu.Unlock()
			return fmt.Errorf("%w: converter=%d owner=%s", ErrConverterBusy, c, owner)
		}
	}

	reconfigured := false
	if a.TimerSetup != nil {
		prev, ok := b.timers[a.Timer]
		if ok && prev != *a.TimerSetup && b.timerUsersLocked(a.Timer) > 0 {
			reconfigured = true
		}
		b.timers[a.Timer] = *a.TimerSetup
	}
	tc, ok := b.timers[a.Timer]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTimerUnset, a.Timer)
	}

	p := &pipeline{a: a, done: make(chan struct{})}
	p.rate = sampleRate(b.opts.ClockHz, tc)
	p.cycle = cyclePeriod(p.rate, a.Transfers, b.opts.MinCycle)
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	b.streams[a.Stream] = p
	for _, c := range a.Converters {
		b.converters[c] = a.Stream
	}
	b.registers[a.Destination] = sampleValue(a.Samples, 0, a.Width)
	b.applies++
	notifier := b.notifier
	b.mu.Unlock()

	if reconfigured {
		log.Warn().Str("timer", a.Timer.String()).Msg("sim_shared_timer_reconfigured")
		notifier.OnError()
	}

	go b.run(ctx, p)
	log.Debug().
		Str("stream", a.Stream.String()).
		Float64("sample_rate_hz", p.rate).
		Dur("cycle", p.cycle).
		Msg("sim_pipeline_started")
	return nil
}

func (b *Backend) timerUsersLocked(t topology.TimerID) int {
	n := 0
	for _, p := range b.streams {
		if p.a.Timer == t {
			n++
		}
	}
	return n
}

func (b *Backend) run(ctx context.Context, p *pipeline) {
	defer close(p.done)
	ticker := time.NewTicker(p.cycle)
	defer ticker.Stop()

	last := int(p.a.Transfers) - 1
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		p.cycles.Add(1)

		b.mu.Lock()
		b.registers[p.a.Destination] = sampleValue(p.a.Samples, last, p.a.Width)
		notifier := b.notifier
		b.mu.Unlock()

		if p.a.CompleteInterrupt {
			notifier.OnCycleComplete()
		}
	}
}

// StopAll halts every pipeline and waits for them to finish reading samples.
func (b *Backend) StopAll() {
	b.mu.Lock()
	running := make([]*pipeline, 0, len(b.streams))
	for _, p := range b.streams {
		running = append(running, p)
	}
	clear(b.streams)
	clear(b.converters)
	clear(b.timers)
	b.stops++
	b.mu.Unlock()

	for _, p := range running {
		p.cancel()
		<-p.done
	}
	if len(running) > 0 {
		log.Debug().Int("pipelines", len(running)).Msg("sim_stopped")
	}
}

// Pipelines returns the running pipelines ordered by stream.
func (b *Backend) Pipelines() []PipelineStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]PipelineStatus, 0, len(b.streams))
	for _, p := range b.streams {
		out = append(out, PipelineStatus{
			Slot:         p.a.Slot.String(),
			Stream:       p.a.Stream.String(),
			Timer:        p.a.Timer.String(),
			Trigger:      p.a.Trigger.String(),
			Destination:  p.a.Destination,
			Width:        p.a.Width,
			Transfers:    p.a.Transfers,
			SampleRateHz: p.rate,
			Cycles:       p.cycles.Load(),
			Interrupt:    p.a.CompleteInterrupt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

// Register returns the last value written to a holding register.
func (b *Backend) Register(addr uint32) (uint32, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.registers[addr]
	return v, ok
}

// Timer returns the programmed divider of t while any pipeline holds it.
func (b *Backend) Timer(t topology.TimerID) (topology.TimerConfig, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	tc, ok := b.timers[t]
	return tc, ok
}

// Counters returns how many Apply and StopAll calls the backend served.
func (b *Backend) Counters() (applies, stops uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.applies, b.stops
}

// sampleRate is the timer update rate: clock / ((PSC+1) * (ARR+1)).
func sampleRate(clockHz uint64, tc topology.TimerConfig) float64 {
	div := (uint64(tc.Prescaler) + 1) * (uint64(tc.Period) + 1)
	return float64(clockHz) / float64(div)
}

// cyclePeriod saturates at the largest Duration for very slow timers.
func cyclePeriod(rate float64, transfers uint32, floor time.Duration) time.Duration {
	ns := float64(transfers) / rate * float64(time.Second)
	if math.IsNaN(ns) || ns >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	d := time.Duration(ns)
	if d < floor {
		return floor
	}
	return d
}

func sampleValue(samples []byte, idx int, width uint8) uint32 {
	off := idx * int(width)
	switch width {
	case 1:
		return uint32(samples[off])
	case 2:
		return uint32(binary.LittleEndian.Uint16(samples[off:]))
	case 4:
		return binary.LittleEndian.Uint32(samples[off:])
	default:
		return 0
	}
}
