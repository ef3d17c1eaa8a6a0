package session

import (
	"errors"
	"fmt"

	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/rs/zerolog/log"
)

var ErrBusy = errors.New("session: busy")

type State string

const (
	StateIdle           State = "idle"
	StateAwaitingHeader State = "awaiting_header"
	StateReceiving      State = "receiving"
)

// Playback is the output side a complete frame is handed to.
type Playback interface {
	Start(f frame.Frame) error
	Stop()
}

// Outcome reports whether a call ended the upload. When Done is true the
// caller writes Code.Response() once, closes the connection and calls Sent.
type Outcome struct {
	Done bool
	Code status.Code
	Err  error
}

// Snapshot is a point-in-time copy of session state.
type Snapshot struct {
	State     State  `json:"state"`
	Received  int    `json:"received"`
	Declared  uint32 `json:"declared"`
	Capacity  int    `json:"capacity"`
	IdleTicks int    `json:"idle_ticks"`
	Pending   bool   `json:"pending_response"`
	Mode      string `json:"mode,omitempty"`
	LastCode  string `json:"last_code,omitempty"`
	LastError string `json:"last_error,omitempty"`
	Accepted  uint64 `json:"accepted"`
	Completed uint64 `json:"completed"`
	Failed    uint64 `json:"failed"`
}

// Session assembles one frame per connection into a buffer allocated once.
type Session struct {
	cfg      Config
	playback Playback
	buf      []byte

	state     State
	received  int
	header    frame.Header
	idleTicks int
	pending   bool

	lastCode  *status.Code
	lastErr   error
	accepted  uint64
	completed uint64
	failed    uint64
}

func New(cfg Config, playback Playback) *Session {
	cfg = cfg.WithDefaults()
	return &Session{
		cfg:      cfg,
		playback: playback,
		buf:      make([]byte, cfg.MaxSize),
		state:    StateIdle,
	}
}

func (s *Session) Config() Config { return s.cfg }

func (s *Session) State() State { return s.state }

// Accept admits a new connection. It fails with ErrBusy unless the session is
// idle and leaves existing state untouched in that case.
func (s *Session) Accept() error {
	if s.state != StateIdle {
		return fmt.Errorf("%w: state=%s", ErrBusy, s.state)
	}
	// the buffer is about to be overwritten while outputs may still read it
	s.playback.Stop()
	s.reset()
	s.state = StateAwaitingHeader
	s.accepted++
	log.Debug().Int("capacity", s.cfg.MaxSize).Msg("session_accept")
	return nil
}

// Receive appends one transport chunk.
func (s *Session) Receive(chunk []byte) Outcome {
	if s.state == StateIdle || s.pending || len(chunk) == 0 {
		return Outcome{}
	}
	if s.received+len(chunk) > s.cfg.MaxSize {
		return s.fail(fmt.Errorf("%w: received=%d chunk=%d capacity=%d",
			status.ErrMemory, s.received, len(chunk), s.cfg.MaxSize))
	}
	copy(s.buf[s.received:], chunk)
	s.received += len(chunk)
	s.idleTicks = 0

	if s.state == StateAwaitingHeader {
		if s.received < frame.HeaderLen {
			return Outcome{}
		}
		h, err := frame.ParseHeader(s.buf[:frame.HeaderLen])
		if err != nil {
			return s.fail(fmt.Errorf("%w: %w", status.ErrHeader, err))
		}
		s.header = h
		s.state = StateReceiving
		log.Debug().
			Uint32("total_size", h.TotalSize).
			Str("mode", h.Mode.String()).
			Int("channels", h.EnabledChannels()).
			Msg("session_header")
	}

	if s.received < int(s.header.TotalSize) {
		return Outcome{}
	}
	return s.complete()
}

func (s *Session) complete() Outcome {
	f := frame.Frame{
		Header: s.header,
		Data:   s.buf[frame.HeaderLen:s.header.TotalSize],
	}
	if err := s.playback.Start(f); err != nil {
		return s.fail(err)
	}
	s.pending = true
	s.completed++
	code := status.OK
	s.lastCode, s.lastErr = &code, nil
	log.Info().
		Uint32("total_size", s.header.TotalSize).
		Str("mode", s.header.Mode.String()).
		Msg("frame_complete")
	return Outcome{Done: true, Code: status.OK}
}

// Tick counts one poll interval without forward progress.
func (s *Session) Tick() Outcome {
	if s.state == StateIdle || s.pending {
		return Outcome{}
	}
	s.idleTicks++
	if s.idleTicks < s.cfg.TimeoutTicks {
		return Outcome{}
	}
	return s.fail(fmt.Errorf("%w: idle_ticks=%d received=%d", status.ErrTimeout, s.idleTicks, s.received))
}

// Sent marks the terminal response as written and releases the session.
func (s *Session) Sent() {
	if !s.pending {
		return
	}
	s.reset()
}

// Close discards a partial frame after peer close or a transport error.
func (s *Session) Close() {
	if s.state == StateIdle {
		return
	}
	if !s.pending {
		log.Debug().Int("received", s.received).Str("state", string(s.state)).Msg("session_closed_partial")
	}
	s.reset()
}

func (s *Session) fail(err error) Outcome {
	s.playback.Stop()
	code := status.FromError(err)
	s.pending = true
	s.failed++
	s.lastCode, s.lastErr = &code, err
	log.Warn().Err(err).Str("code", code.String()).Int("received", s.received).Msg("session_failed")
	return Outcome{Done: true, Code: code, Err: err}
}

func (s *Session) reset() {
	s.state = StateIdle
	s.received = 0
	s.header = frame.Header{}
	s.idleTicks = 0
	s.pending = false
}

func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		State:     s.state,
		Received:  s.received,
		Declared:  s.header.TotalSize,
		Capacity:  s.cfg.MaxSize,
		IdleTicks: s.idleTicks,
		Pending:   s.pending,
		Accepted:  s.accepted,
		Completed: s.completed,
		Failed:    s.failed,
	}
	if s.state == StateReceiving {
		snap.Mode = s.header.Mode.String()
	}
	if s.lastCode != nil {
		snap.LastCode = s.lastCode.String()
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}
