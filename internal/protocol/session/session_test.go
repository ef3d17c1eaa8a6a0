package session

import (
	"errors"
	"testing"

	"github.com/danmuck/ddsctl/internal/playback"
	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/danmuck/ddsctl/internal/testutil/testlog"
	"github.com/danmuck/ddsctl/internal/topology"
)

type stubPlayback struct {
	started []frame.Frame
	stops   int
	err     error
}

func (p *stubPlayback) Start(f frame.Frame) error {
	if p.err != nil {
		return p.err
	}
	cp := f
	cp.Data = append([]byte(nil), f.Data...)
	p.started = append(p.started, cp)
	return nil
}

func (p *stubPlayback) Stop() { p.stops++ }

type countingBackend struct {
	applied int
	stops   int
}

func (b *countingBackend) Apply(topology.Assignment) error { b.applied++; return nil }
func (b *countingBackend) StopAll()                        { b.stops++ }
func (b *countingBackend) SetNotifier(playback.Notifier)   {}

func independentUpload(dataLen int) []byte {
	data := make([]byte, dataLen)
	for i := range data {
		data[i] = byte(i)
	}
	half := uint32(dataLen / 2)
	return frame.MustBuild(frame.Header{
		Mode: frame.ModeIndependent,
		Channels: [frame.ChannelCount]frame.Channel{
			{Enabled: true, Format: frame.Format8Bit, DataOffset: 0, DataSize: half, Period: 1000, Prescaler: 10},
			{Enabled: true, Format: frame.Format8Bit, DataOffset: half, DataSize: half, Period: 500, Prescaler: 5},
		},
	}, data)
}

func mustAccept(t *testing.T, s *Session) {
	t.Helper()
	if err := s.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
}

func TestDefaultConfig(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.MaxSize != 1024 || cfg.TimeoutTicks != 60 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.PollInterval != DefaultConfig().PollInterval {
		t.Fatalf("poll interval not defaulted")
	}
	cfg = Config{MaxSize: 64}.WithDefaults()
	if cfg.MaxSize != 64 {
		t.Fatalf("explicit max size overwritten")
	}
}

func TestIndependentUploadInThreeChunks(t *testing.T) {
	testlog.Start(t)
	b := &countingBackend{}
	d := playback.New(b, nil, nil)
	s := New(DefaultConfig(), d)
	raw := independentUpload(200)

	mustAccept(t, s)
	stopsAfterAccept := b.stops
	chunks := [][]byte{raw[:20], raw[20:100], raw[100:]}
	for i, c := range chunks[:2] {
		if out := s.Receive(c); out.Done {
			t.Fatalf("chunk %d ended upload early: %+v", i, out)
		}
	}
	if s.State() != StateReceiving {
		t.Fatalf("expected receiving after header, got %s", s.State())
	}
	out := s.Receive(chunks[2])
	if !out.Done || out.Code != status.OK || out.Code.Response() != "OK" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if b.applied != 2 {
		t.Fatalf("expected one apply per channel, got %d", b.applied)
	}
	if b.stops != stopsAfterAccept {
		t.Fatalf("backend stopped after successful upload")
	}
	s.Sent()
	if s.State() != StateIdle {
		t.Fatalf("expected idle after sent, got %s", s.State())
	}
}

type recordingBackend struct {
	applied []topology.Assignment
}

func (b *recordingBackend) Apply(a topology.Assignment) error {
	b.applied = append(b.applied, a)
	return nil
}
func (b *recordingBackend) StopAll()                      {}
func (b *recordingBackend) SetNotifier(playback.Notifier) {}

func channelOneUpload(dataLen int) []byte {
	data := make([]byte, dataLen)
	for i := range data {
		data[i] = byte(i)
	}
	return frame.MustBuild(frame.Header{
		Mode: frame.ModeIndependent,
		Channels: [frame.ChannelCount]frame.Channel{
			{Enabled: true, Format: frame.Format8Bit, DataOffset: 0, DataSize: uint32(dataLen), Period: 1000, Prescaler: 10},
		},
	}, data)
}

func TestChannelOneUploadInThreeChunks(t *testing.T) {
	testlog.Start(t)
	b := &recordingBackend{}
	s := New(DefaultConfig(), playback.New(b, nil, nil))
	raw := channelOneUpload(100)

	mustAccept(t, s)
	chunks := [][]byte{raw[:7], raw[7:90], raw[90:]}
	for i, c := range chunks[:2] {
		if out := s.Receive(c); out.Done {
			t.Fatalf("chunk %d ended upload early: %+v", i, out)
		}
	}
	out := s.Receive(chunks[2])
	if !out.Done || out.Code != status.OK || out.Code.Response() != "OK" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(b.applied) != 1 {
		t.Fatalf("expected exactly one apply, got %d", len(b.applied))
	}
	a := b.applied[0]
	if a.Slot != topology.SlotChannel1 || a.Timer != topology.TIM6 {
		t.Fatalf("unexpected pipeline: slot=%s timer=%s", a.Slot, a.Timer)
	}
	if a.TimerSetup == nil || *a.TimerSetup != (topology.TimerConfig{Period: 1000, Prescaler: 10}) {
		t.Fatalf("unexpected timer setup: %+v", a.TimerSetup)
	}
	if len(a.Samples) != 100 || a.Samples[99] != 99 {
		t.Fatalf("unexpected sample view: len=%d", len(a.Samples))
	}
}

func TestBadMagicIsInvalidHeader(t *testing.T) {
	testlog.Start(t)
	b := &countingBackend{}
	s := New(DefaultConfig(), playback.New(b, nil, nil))
	raw := independentUpload(20)
	copy(raw, "MARX")

	mustAccept(t, s)
	if out := s.Receive(raw[:44]); out.Done {
		t.Fatalf("magic checked before a full header arrived")
	}
	out := s.Receive(raw[44:])
	if !out.Done || out.Code != status.Header || out.Code.Response() != "invalid header" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if b.applied != 0 {
		t.Fatalf("backend applied for bad magic")
	}
	if !errors.Is(out.Err, frame.ErrInvalidMagic) {
		t.Fatalf("expected wrapped magic error, got %v", out.Err)
	}
}

func TestTotalSizeBelowHeaderIsInvalidHeader(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	raw := frame.EncodeHeader(frame.Header{TotalSize: 10})

	mustAccept(t, s)
	out := s.Receive(raw)
	if !out.Done || out.Code != status.Header {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if len(p.started) != 0 {
		t.Fatalf("playback started")
	}
}

func TestOversizeIsMemoryErrorWithoutOverflow(t *testing.T) {
	testlog.Start(t)
	raw := independentUpload(1000)
	cases := []struct {
		name  string
		sizes []int
	}{
		{"single chunk", []int{len(raw)}},
		{"header then rest", []int{45, len(raw) - 45}},
		{"large then tail", []int{1000, len(raw) - 1000}},
		{"fill exactly then one more", []int{1024, len(raw) - 1024}},
		{"many small", []int{1, 44, 300, 300, 300, 100}},
		{"short header then large", []int{10, 1020, 15}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := &countingBackend{}
			s := New(Config{MaxSize: 1024}, playback.New(b, nil, nil))
			mustAccept(t, s)
			stops := b.stops

			var terminal []Outcome
			off := 0
			for _, n := range tc.sizes {
				out := s.Receive(raw[off : off+n])
				off += n
				if out.Done {
					terminal = append(terminal, out)
				}
				if snap := s.Snapshot(); snap.Received > snap.Capacity {
					t.Fatalf("buffer accounting moved past capacity: %+v", snap)
				}
			}
			if off != len(raw) {
				t.Fatalf("case sizes sum to %d, frame is %d", off, len(raw))
			}
			if len(terminal) != 1 {
				t.Fatalf("expected one terminal outcome, got %+v", terminal)
			}
			if terminal[0].Code != status.Memory || terminal[0].Code.Response() != "no enough memory" {
				t.Fatalf("unexpected outcome: %+v", terminal[0])
			}
			if b.stops != stops+1 {
				t.Fatalf("backend not stopped on memory error")
			}
			if b.applied != 0 {
				t.Fatalf("backend applied on memory error")
			}
		})
	}
}

func TestChunkFillingCapacityExactlyIsAccepted(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	raw := independentUpload(64)
	s := New(Config{MaxSize: len(raw)}, p)

	mustAccept(t, s)
	out := s.Receive(raw)
	if !out.Done || out.Code != status.OK {
		t.Fatalf("unexpected outcome: %+v", out)
	}
}

func TestNoDataTimesOut(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)

	mustAccept(t, s)
	stops := p.stops
	for i := 1; i < 60; i++ {
		if out := s.Tick(); out.Done {
			t.Fatalf("timed out early at tick %d", i)
		}
	}
	out := s.Tick()
	if !out.Done || out.Code != status.Timeout || out.Code.Response() != "timeout" {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if p.stops != stops+1 {
		t.Fatalf("backend not stopped on timeout")
	}
	if out := s.Tick(); out.Done {
		t.Fatalf("second terminal outcome for one connection")
	}
}

func TestProgressResetsIdleTicks(t *testing.T) {
	testlog.Start(t)
	s := New(Config{TimeoutTicks: 3}, &stubPlayback{})
	raw := independentUpload(20)

	mustAccept(t, s)
	s.Tick()
	s.Tick()
	s.Receive(raw[:5])
	if s.Snapshot().IdleTicks != 0 {
		t.Fatalf("idle ticks not reset by progress")
	}
	s.Tick()
	s.Tick()
	if out := s.Tick(); !out.Done || out.Code != status.Timeout {
		t.Fatalf("expected timeout, got %+v", out)
	}
}

func TestSecondAcceptRejectedWhileBusy(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	raw := independentUpload(20)

	mustAccept(t, s)
	s.Receive(raw[:30])
	stops := p.stops
	before := s.Snapshot()

	if err := s.Accept(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	after := s.Snapshot()
	if after.Received != before.Received || after.State != before.State || p.stops != stops {
		t.Fatalf("rejected accept mutated state: before=%+v after=%+v", before, after)
	}

	if out := s.Receive(raw[30:]); !out.Done || out.Code != status.OK {
		t.Fatalf("first connection not completed: %+v", out)
	}
	if err := s.Accept(); !errors.Is(err, ErrBusy) {
		t.Fatalf("accept allowed before response was sent")
	}
	s.Sent()
	mustAccept(t, s)
}

func TestAcceptStopsPreviousPlayback(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	mustAccept(t, s)
	if p.stops != 1 {
		t.Fatalf("expected stop at accept, got %d", p.stops)
	}
}

func TestChunksIgnoredWhileResponsePending(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	raw := independentUpload(20)

	mustAccept(t, s)
	if out := s.Receive(raw); !out.Done {
		t.Fatalf("expected completion")
	}
	if out := s.Receive([]byte("trailing")); out.Done {
		t.Fatalf("second outcome for one connection")
	}
	if len(p.started) != 1 {
		t.Fatalf("expected one start, got %d", len(p.started))
	}
}

func TestCloseDiscardsPartialFrame(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	raw := independentUpload(20)

	mustAccept(t, s)
	s.Receive(raw[:50])
	s.Close()
	if snap := s.Snapshot(); snap.State != StateIdle || snap.Received != 0 {
		t.Fatalf("partial frame kept after close: %+v", snap)
	}
	mustAccept(t, s)
	if out := s.Receive(raw); !out.Done || out.Code != status.OK {
		t.Fatalf("fresh upload after close failed: %+v", out)
	}
	if len(p.started) != 1 || len(p.started[0].Data) != 20 {
		t.Fatalf("unexpected started frames: %+v", p.started)
	}
}

func TestPlaybackErrorBecomesResponse(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		err  error
		want status.Code
	}{
		{status.ErrChecksum, status.Checksum},
		{status.ErrData, status.Data},
		{errors.New("backend exploded"), status.Config},
	}
	for _, tc := range cases {
		p := &stubPlayback{err: tc.err}
		s := New(DefaultConfig(), p)
		mustAccept(t, s)
		out := s.Receive(independentUpload(20))
		if !out.Done || out.Code != tc.want {
			t.Fatalf("err=%v: unexpected outcome %+v", tc.err, out)
		}
		if p.stops != 2 {
			t.Fatalf("err=%v: expected stop on failure, got %d stops", tc.err, p.stops)
		}
		if s.Snapshot().LastCode != tc.want.String() {
			t.Fatalf("snapshot last code=%q", s.Snapshot().LastCode)
		}
	}
}

func TestIdleSessionIgnoresInput(t *testing.T) {
	testlog.Start(t)
	p := &stubPlayback{}
	s := New(DefaultConfig(), p)
	if out := s.Receive([]byte("MARM")); out.Done {
		t.Fatalf("idle receive produced outcome")
	}
	if out := s.Tick(); out.Done {
		t.Fatalf("idle tick produced outcome")
	}
	s.Sent()
	s.Close()
	if s.State() != StateIdle || p.stops != 0 {
		t.Fatalf("idle session changed: state=%s stops=%d", s.State(), p.stops)
	}
}
