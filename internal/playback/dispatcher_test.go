package playback

import (
	"bytes"
	"errors"
	"testing"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/danmuck/ddsctl/internal/testutil/testlog"
	"github.com/danmuck/ddsctl/internal/topology"
)

type stubBackend struct {
	applied  []topology.Assignment
	stops    int
	notifier Notifier
	failOn   int
}

func (b *stubBackend) Apply(a topology.Assignment) error {
	if b.failOn > 0 && len(b.applied)+1 == b.failOn {
		return errors.New("stream busy")
	}
	b.applied = append(b.applied, a)
	return nil
}

func (b *stubBackend) StopAll()               { b.stops++ }
func (b *stubBackend) SetNotifier(n Notifier) { b.notifier = n }

func independentFrame() frame.Frame {
	data := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	return frame.Frame{
		Header: frame.Header{
			TotalSize: uint32(frame.HeaderLen + len(data)),
			Mode:      frame.ModeIndependent,
			Channels: [frame.ChannelCount]frame.Channel{
				{Enabled: true, Format: frame.Format8Bit, DataOffset: 0, DataSize: 4, Period: 100, Prescaler: 1},
				{Enabled: true, Format: frame.Format12BitRight, DataOffset: 4, DataSize: 8, Period: 200, Prescaler: 2},
			},
		},
		Data: data,
	}
}

func TestNewRegistersNotifierOnce(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	q := NewQueue(4)
	New(b, q, nil)
	if b.notifier != q {
		t.Fatalf("notifier not registered")
	}

	b = &stubBackend{}
	New(b, nil, nil)
	if _, ok := b.notifier.(NopNotifier); !ok {
		t.Fatalf("expected NopNotifier fallback, got %T", b.notifier)
	}
}

func TestStartAppliesAssignmentsWithSampleViews(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	d := New(b, nil, nil)
	f := independentFrame()

	if err := d.Start(f); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(b.applied) != 2 {
		t.Fatalf("expected 2 applies, got %d", len(b.applied))
	}
	if !bytes.Equal(b.applied[0].Samples, []byte{1, 2, 3, 4}) {
		t.Fatalf("channel 1 samples: %v", b.applied[0].Samples)
	}
	if !bytes.Equal(b.applied[1].Samples, f.Data[4:12]) {
		t.Fatalf("channel 2 samples: %v", b.applied[1].Samples)
	}
	if b.stops != 0 {
		t.Fatalf("unexpected stop during successful start")
	}
	active := d.Active()
	if len(active) != 2 || active[0].Samples != nil {
		t.Fatalf("unexpected active snapshot: %+v", active)
	}
}

func TestStartValidatorFailuresTouchNoBackend(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name string
		v    frame.Validator
		want error
	}{
		{"checksum", frame.ValidatorFuncs{Checksum: func(frame.Frame) bool { return false }}, status.ErrChecksum},
		{"data", frame.ValidatorFuncs{Data: func(frame.Frame) bool { return false }}, status.ErrData},
	}
	for _, tc := range cases {
		b := &stubBackend{}
		d := New(b, nil, tc.v)
		err := d.Start(independentFrame())
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
		if len(b.applied) != 0 || b.stops != 0 {
			t.Fatalf("%s: backend touched: applied=%d stops=%d", tc.name, len(b.applied), b.stops)
		}
	}
}

func TestStartNoChannelsStopsOutputs(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	d := New(b, nil, nil)
	f := independentFrame()
	f.Header.Channels[0].Enabled = false
	f.Header.Channels[1].Enabled = false

	if err := d.Start(f); err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(b.applied) != 0 || b.stops != 1 {
		t.Fatalf("expected only StopAll: applied=%d stops=%d", len(b.applied), b.stops)
	}
}

func TestStartConfigErrorStopsOutputs(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	d := New(b, nil, nil)
	f := independentFrame()
	f.Header.Mode = frame.ModeDual
	f.Header.Channels[0].Enabled = false

	err := d.Start(f)
	if !errors.Is(err, status.ErrConfig) || !errors.Is(err, topology.ErrInvalidCombination) {
		t.Fatalf("expected config error, got %v", err)
	}
	if status.FromError(err) != status.Config {
		t.Fatalf("unexpected code: %s", status.FromError(err))
	}
	if len(b.applied) != 0 || b.stops != 1 {
		t.Fatalf("applied=%d stops=%d", len(b.applied), b.stops)
	}
}

func TestStartBackendFailureMapsToConfig(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{failOn: 2}
	d := New(b, nil, nil)

	err := d.Start(independentFrame())
	if status.FromError(err) != status.Config {
		t.Fatalf("expected config code, got %v", err)
	}
	if b.stops != 1 {
		t.Fatalf("expected stop after partial apply, got %d", b.stops)
	}
	if len(d.Active()) != 0 {
		t.Fatalf("active pipelines left after failure")
	}
}

func TestStartShortDataRegionIsConfigError(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	d := New(b, nil, nil)
	f := independentFrame()
	f.Data = f.Data[:6]

	if err := d.Start(f); !errors.Is(err, status.ErrConfig) {
		t.Fatalf("expected config error, got %v", err)
	}
	if len(b.applied) > 1 {
		t.Fatalf("applied past the data region")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	testlog.Start(t)
	b := &stubBackend{}
	d := New(b, nil, nil)
	d.Stop()
	d.Stop()
	if b.stops != 2 {
		t.Fatalf("expected each Stop to reach the backend, got %d", b.stops)
	}
	if len(d.Active()) != 0 {
		t.Fatalf("expected no active pipelines")
	}
}
