// Package server runs the upload listener and the single event loop that owns
// reception state, plus the status HTTP routes.
package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/danmuck/ddsctl/internal/indicator"
	"github.com/danmuck/ddsctl/internal/observability"
	"github.com/danmuck/ddsctl/internal/playback"
	"github.com/danmuck/ddsctl/internal/protocol/frame"
	"github.com/danmuck/ddsctl/internal/protocol/session"
	"github.com/danmuck/ddsctl/internal/protocol/status"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotRunning = errors.New("server: loop not running")
	ErrRunning    = errors.New("server: already serving")
)

// Config configures one upload server.
type Config struct {
	NodeID       string
	Session      session.Config
	WriteTimeout time.Duration
	ReadChunk    int
	NotifyQueue  int
	Validator    frame.Validator
}

func DefaultConfig() Config {
	return Config{
		NodeID:       "dds.local",
		Session:      session.DefaultConfig(),
		WriteTimeout: 2 * time.Second,
		ReadChunk:    512,
		NotifyQueue:  playback.DefaultQueueSize,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.NodeID == "" {
		c.NodeID = def.NodeID
	}
	c.Session = c.Session.WithDefaults()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.ReadChunk <= 0 {
		c.ReadChunk = def.ReadChunk
	}
	if c.NotifyQueue <= 0 {
		c.NotifyQueue = def.NotifyQueue
	}
	return c
}

// PipelineView is the JSON form of a running assignment.
type PipelineView struct {
	Slot        string `json:"slot"`
	Converters  []int  `json:"converters"`
	Timer       string `json:"timer"`
	Trigger     string `json:"trigger"`
	Stream      string `json:"stream"`
	Format      string `json:"format"`
	Destination string `json:"destination"`
	Width       uint8  `json:"width"`
	Transfers   uint32 `json:"transfers"`
	Interrupt   bool   `json:"complete_interrupt"`
}

// Status is the snapshot published by the loop after every event.
type Status struct {
	Node       string             `json:"node"`
	Listen     string             `json:"listen,omitempty"`
	Connection string             `json:"connection,omitempty"`
	Remote     string             `json:"remote,omitempty"`
	Session    session.Snapshot   `json:"session"`
	Indicators indicator.Snapshot `json:"indicators"`
	Pipelines  []PipelineView     `json:"pipelines"`
	Rejected   uint64             `json:"rejected"`
	Dropped    uint64             `json:"dropped_notifications"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

type eventKind uint8

const (
	evAccept eventKind = iota + 1
	evChunk
	evClosed
	evStop
)

type event struct {
	kind eventKind
	id   string
	nc   net.Conn
	data []byte
	err  error
	ack  chan struct{}
}

type conn struct {
	id   string
	nc   net.Conn
	done chan struct{}
}

// Server owns the Session, the Dispatcher and the indicator panel. Every
// mutation happens on the loop goroutine started by Serve.
type Server struct {
	cfg        Config
	backend    playback.Backend
	queue      *playback.Queue
	dispatcher *playback.Dispatcher
	session    *session.Session
	panel      *indicator.Panel

	events  chan event
	active  *conn
	listen  string
	running atomic.Bool
	status  atomic.Pointer[Status]
	// loopDone is closed when the current event loop returns.
	loopDone atomic.Pointer[chan struct{}]

	rejected    uint64
	lastDropped uint64
}

func New(cfg Config, backend playback.Backend) *Server {
	cfg = cfg.WithDefaults()
	queue := playback.NewQueue(cfg.NotifyQueue)
	dispatcher := playback.New(backend, queue, cfg.Validator)
	s := &Server{
		cfg:        cfg,
		backend:    backend,
		queue:      queue,
		dispatcher: dispatcher,
		session:    session.New(cfg.Session, dispatcher),
		panel:      indicator.NewPanel(),
		events:     make(chan event),
	}
	s.publish()
	return s
}

// Status returns the last published snapshot. Safe from any goroutine.
func (s *Server) Status() Status {
	return *s.status.Load()
}

func (s *Server) Ready() bool {
	return s.running.Load()
}

func (s *Server) NodeID() string {
	return s.cfg.NodeID
}

// StopPlayback asks the loop to halt all outputs.
func (s *Server) StopPlayback(ctx context.Context) error {
	done := s.loopDone.Load()
	if !s.running.Load() || done == nil {
		return ErrNotRunning
	}
	ack := make(chan struct{})
	select {
	case s.events <- event{kind: evStop, ack: ack}:
	case <-*done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-*done:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Serve runs the accept loop and the event loop on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)
	s.listen = ln.Addr().String()
	loopDone := make(chan struct{})
	s.loopDone.Store(&loopDone)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return ln.Close()
	})
	g.Go(func() error {
		return s.acceptLoop(ctx, ln)
	})
	g.Go(func() error {
		defer close(loopDone)
		s.loop(ctx)
		return nil
	})

	log.Info().Str("node", s.cfg.NodeID).Str("listen", s.listen).Msg("server_listening")
	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		select {
		case s.events <- event{kind: evAccept, nc: nc}:
		case <-ctx.Done():
			_ = nc.Close()
			return nil
		}
	}
}

func (s *Server) loop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Session.PollInterval)
	defer ticker.Stop()
	defer s.shutdown()

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.events:
			s.handle(ev)
		case kind := <-s.queue.Events():
			s.notify(kind)
		case <-ticker.C:
			if s.active != nil {
				if out := s.session.Tick(); out.Done {
					s.finish(out)
				}
			}
			s.recordDropped()
		}
		s.publish()
	}
}

func (s *Server) handle(ev event) {
	switch ev.kind {
	case evAccept:
		s.accept(ev.nc)
	case evChunk:
		if s.active == nil || ev.id != s.active.id {
			return
		}
		if out := s.session.Receive(ev.data); out.Done {
			s.finish(out)
		}
	case evClosed:
		if s.active == nil || ev.id != s.active.id {
			return
		}
		if !errors.Is(ev.err, io.EOF) && !errors.Is(ev.err, net.ErrClosed) {
			s.panel.Set(indicator.ProtocolError, true)
			log.Warn().Err(ev.err).Str("conn", ev.id).Msg("connection_error")
		}
		log.Info().Str("conn", ev.id).Int("received", s.session.Snapshot().Received).Msg("connection_closed")
		s.session.Close()
		s.release()
	case evStop:
		s.dispatcher.Stop()
		log.Info().Str("node", s.cfg.NodeID).Msg("playback_stopped_by_operator")
		close(ev.ack)
	}
}

func (s *Server) accept(nc net.Conn) {
	if err := s.session.Accept(); err != nil {
		s.rejected++
		observability.RecordConnection(s.cfg.NodeID, "busy")
		log.Warn().Str("remote", nc.RemoteAddr().String()).Err(err).Msg("connection_rejected")
		_ = nc.Close()
		return
	}
	observability.RecordConnection(s.cfg.NodeID, "accepted")
	s.panel.Accepted()

	c := &conn{id: uuid.NewString(), nc: nc, done: make(chan struct{})}
	s.active = c
	log.Info().Str("conn", c.id).Str("remote", nc.RemoteAddr().String()).Msg("connection_accepted")
	go s.readLoop(c)
}

func (s *Server) readLoop(c *conn) {
	buf := make([]byte, s.cfg.ReadChunk)
	for {
		n, err := c.nc.Read(buf)
		if n > 0 {
			data := append([]byte(nil), buf[:n]...)
			select {
			case s.events <- event{kind: evChunk, id: c.id, data: data}:
			case <-c.done:
				return
			}
		}
		if err != nil {
			select {
			case s.events <- event{kind: evClosed, id: c.id, err: err}:
			case <-c.done:
			}
			return
		}
	}
}

// finish writes the single response for a terminal outcome and frees the session.
func (s *Server) finish(out session.Outcome) {
	c := s.active
	snap := s.session.Snapshot()

	switch out.Code {
	case status.OK:
	case status.Header, status.Memory, status.Timeout:
		s.panel.Set(indicator.ProtocolError, true)
	default:
		s.panel.Set(indicator.DataError, true)
	}

	if c != nil {
		_ = c.nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		if _, err := io.WriteString(c.nc, out.Code.Response()); err != nil {
			log.Warn().Err(err).Str("conn", c.id).Msg("response_write_failed")
		}
	}
	observability.RecordResult(s.cfg.NodeID, out.Code.String(), snap.Received)

	evt := log.Info()
	if out.Err != nil {
		evt = log.Warn().Err(out.Err)
	}
	connID := ""
	if c != nil {
		connID = c.id
	}
	evt.Str("conn", connID).
		Str("code", out.Code.String()).
		Str("response", out.Code.Response()).
		Int("received", snap.Received).
		Msg("upload_finished")

	s.release()
	s.session.Sent()
}

func (s *Server) release() {
	if s.active == nil {
		return
	}
	close(s.active.done)
	_ = s.active.nc.Close()
	s.active = nil
	s.panel.Set(indicator.Active, false)
}

func (s *Server) notify(kind playback.EventKind) {
	observability.RecordNotification(s.cfg.NodeID, kind.String(), true)
	switch kind {
	case playback.EventCycleComplete:
		s.panel.Toggle(indicator.Conversion)
	case playback.EventError:
		s.panel.Set(indicator.DataError, true)
		log.Warn().Str("node", s.cfg.NodeID).Msg("backend_error")
	}
}

func (s *Server) recordDropped() {
	dropped := s.queue.Dropped()
	if dropped > s.lastDropped {
		observability.RecordDroppedNotifications(s.cfg.NodeID, dropped-s.lastDropped)
		s.lastDropped = dropped
	}
}

func (s *Server) shutdown() {
	if s.active != nil {
		s.session.Close()
		s.release()
	}
	s.dispatcher.Stop()
	s.publish()
	log.Info().Str("node", s.cfg.NodeID).Msg("server_stopped")
}

func (s *Server) publish() {
	st := &Status{
		Node:       s.cfg.NodeID,
		Listen:     s.listen,
		Session:    s.session.Snapshot(),
		Indicators: s.panel.Snapshot(),
		Pipelines:  pipelineViews(s.dispatcher),
		Rejected:   s.rejected,
		Dropped:    s.queue.Dropped(),
		UpdatedAt:  time.Now(),
	}
	if s.active != nil {
		st.Connection = s.active.id
		st.Remote = s.active.nc.RemoteAddr().String()
	}
	s.status.Store(st)
}
