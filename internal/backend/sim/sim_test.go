package sim

import (
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/testutil/testlog"
	"github.com/danmuck/ddsctl/internal/topology"
	"github.com/stretchr/testify/require"
)

type countingNotifier struct {
	cycles atomic.Int64
	errs   atomic.Int64
}

func (n *countingNotifier) OnCycleComplete() { n.cycles.Add(1) }
func (n *countingNotifier) OnError()         { n.errs.Add(1) }

func resolveOne(t *testing.T, mode frame.Mode, format frame.DataFormat, data []byte) []topology.Assignment {
	t.Helper()
	h := frame.Header{
		TotalSize: uint32(frame.HeaderLen + len(data)),
		Mode:      mode,
		Channels: [frame.ChannelCount]frame.Channel{
			{Enabled: true, Format: format, DataOffset: 0, DataSize: uint32(len(data)), Period: 83, Prescaler: 0},
		},
	}
	out, err := topology.Resolve(mode, h)
	require.NoError(t, err)
	for i := range out {
		out[i].Samples = data[out[i].SourceOffset : out[i].SourceOffset+out[i].SourceLength]
	}
	return out
}

func TestSampleRateFromTimerClock(t *testing.T) {
	testlog.Start(t)
	require.InDelta(t, 1_000_000.0, sampleRate(TimerClockHz, topology.TimerConfig{Period: 83}), 0.001)
	require.InDelta(t, 1000.0, sampleRate(TimerClockHz, topology.TimerConfig{Period: 999, Prescaler: 83}), 0.001)
	require.Equal(t, time.Millisecond, cyclePeriod(1_000_000, 4, time.Millisecond))
	require.Equal(t, 2*time.Second, cyclePeriod(1000, 2000, time.Millisecond))
}

func TestCyclePeriodSaturatesForSlowestTimer(t *testing.T) {
	testlog.Start(t)
	rate := sampleRate(TimerClockHz, topology.TimerConfig{Period: 0xFFFFFFFF, Prescaler: 0xFFFF})
	got := cyclePeriod(rate, 4051, time.Millisecond)
	require.Equal(t, time.Duration(math.MaxInt64), got)
	require.Equal(t, time.Duration(math.MaxInt64), cyclePeriod(0, 1, time.Millisecond))

	// 4051 transfers at one per ~1.7 minutes still fits in a Duration.
	rate = sampleRate(TimerClockHz, topology.TimerConfig{Period: 0xFFFFFFFF, Prescaler: 1})
	got = cyclePeriod(rate, 4051, time.Millisecond)
	require.Greater(t, got, time.Hour)
	require.Less(t, got, time.Duration(math.MaxInt64))
}

func TestApplyWritesRegisterAndStops(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultOptions())
	a := resolveOne(t, frame.ModeIndependent, frame.Format12BitRight, []byte{0x34, 0x12, 0xFF, 0x0F})

	require.NoError(t, b.Apply(a[0]))
	v, ok := b.Register(0x40007408)
	require.True(t, ok)
	require.Equal(t, uint32(0x1234), v)

	tc, ok := b.Timer(topology.TIM6)
	require.True(t, ok)
	require.Equal(t, topology.TimerConfig{Period: 83}, tc)
	require.Len(t, b.Pipelines(), 1)

	b.StopAll()
	b.StopAll()
	require.Empty(t, b.Pipelines())
	_, ok = b.Timer(topology.TIM6)
	require.False(t, ok)
	applies, stops := b.Counters()
	require.Equal(t, uint64(1), applies)
	require.Equal(t, uint64(2), stops)
}

func TestApplyRejectsBusyStreamAndConverter(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultOptions())
	t.Cleanup(b.StopAll)
	a := resolveOne(t, frame.ModeIndependent, frame.Format8Bit, []byte{1, 2, 3, 4})

	require.NoError(t, b.Apply(a[0]))
	err := b.Apply(a[0])
	require.ErrorIs(t, err, ErrStreamBusy)

	other := a[0]
	other.Stream = topology.Stream6
	require.ErrorIs(t, b.Apply(other), ErrConverterBusy)
}

func TestApplyValidatesSamplesAndTimer(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultOptions())
	t.Cleanup(b.StopAll)
	a := resolveOne(t, frame.ModeIndependent, frame.Format8Bit, []byte{1, 2, 3, 4})[0]

	short := a
	short.Samples = short.Samples[:2]
	require.ErrorIs(t, b.Apply(short), ErrShortSamples)

	zero := a
	zero.Transfers = 0
	require.ErrorIs(t, b.Apply(zero), ErrInvalidTransfers)

	unset := a
	unset.TimerSetup = nil
	require.ErrorIs(t, b.Apply(unset), ErrTimerUnset)
}

func TestDualStreamRaisesCycleComplete(t *testing.T) {
	testlog.Start(t)
	b := New(Options{MinCycle: 2 * time.Millisecond})
	n := &countingNotifier{}
	b.SetNotifier(n)
	t.Cleanup(b.StopAll)

	a := resolveOne(t, frame.ModeDual, frame.Format8Bit, []byte{1, 2, 3, 4})
	require.True(t, a[0].CompleteInterrupt)
	require.NoError(t, b.Apply(a[0]))

	require.Eventually(t, func() bool { return n.cycles.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	v, ok := b.Register(0x40007428)
	require.True(t, ok)
	require.Equal(t, uint32(0x0403), v)

	b.StopAll()
	seen := n.cycles.Load()
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, seen, n.cycles.Load(), "notifications after StopAll")
}

func TestSingleChannelStreamHasNoInterrupt(t *testing.T) {
	testlog.Start(t)
	b := New(Options{MinCycle: time.Millisecond})
	n := &countingNotifier{}
	b.SetNotifier(n)
	t.Cleanup(b.StopAll)

	a := resolveOne(t, frame.ModeIndependent, frame.Format8Bit, []byte{1, 2})
	require.NoError(t, b.Apply(a[0]))
	require.Eventually(t, func() bool {
		p := b.Pipelines()
		return len(p) == 1 && p[0].Cycles >= 3
	}, 2*time.Second, 5*time.Millisecond)
	require.Zero(t, n.cycles.Load())
}

func TestSharedTimerReconfigurationReportsError(t *testing.T) {
	testlog.Start(t)
	b := New(DefaultOptions())
	n := &countingNotifier{}
	b.SetNotifier(n)
	t.Cleanup(b.StopAll)

	a := resolveOne(t, frame.ModeSingleTrigger, frame.Format8Bit, []byte{1, 2, 3, 4})[0]
	require.NoError(t, b.Apply(a))

	second := a
	second.Slot = topology.SlotChannel2
	second.Stream = topology.Stream6
	second.Converters = []topology.ConverterChannel{topology.Converter2}
	second.TimerSetup = &topology.TimerConfig{Period: 10, Prescaler: 1}
	require.NoError(t, b.Apply(second))
	require.Equal(t, int64(1), n.errs.Load())

	tc, _ := b.Timer(topology.TIM6)
	require.Equal(t, topology.TimerConfig{Period: 10, Prescaler: 1}, tc)
}

func TestSetNotifierNilFallsBack(t *testing.T) {
	testlog.Start(t)
	b := New(Options{})
	b.SetNotifier(nil)
	require.NotPanics(t, func() { b.notifier.OnError() })
}
