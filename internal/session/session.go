package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gac1u21/harcapture/internal/cue"
	"github.com/gac1u21/harcapture/internal/frame"
	"github.com/gac1u21/harcapture/internal/schedule"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/upload"
	"github.com/gac1u21/harcapture/internal/window"
)

// Options wires a session to its collaborators
type Options struct {
	Source   sensor.Source
	Encoder  *frame.Encoder
	Uploader Uploader
	Cues     cue.Player
	Clock    schedule.Clock
	Timing   Timing

	// OnEvent receives every event in order. It must not call back into the session.
	OnEvent func(Event)

	// Go runs an upload off the control path; defaults to a new goroutine
	Go func(func())
}

// Session owns the lifecycle of one recording mode:
// IDLE -> COUNTING_DOWN -> ACTIVE -> (AWAITING_LABEL) -> IDLE.
// It owns its buffer, its subscription and its timers; nothing is shared between modes.
type Session struct {
	mode Mode
	opts Options
	buf  *window.Buffer

	mu        sync.Mutex
	state     State
	status    string
	enabled   bool
	remaining int
	run       *run

	// effects run in order after mu is released; emitMu keeps that order across goroutines
	emitMu  sync.Mutex
	effects []func()
	jobs    []func()
}

// run is one activation, from trigger to return to IDLE
type run struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	sub       sensor.Subscription
	accepting atomic.Bool
	sends     int
}

// New creates an idle session
func New(mode Mode, opts Options) *Session {
	if opts.Encoder == nil {
		opts.Encoder = frame.Default()
	}
	if opts.Cues == nil {
		opts.Cues = cue.Nop{}
	}
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock()
	}
	if opts.Timing == (Timing{}) {
		opts.Timing = DefaultTiming()
	}
	if opts.Go == nil {
		opts.Go = func(f func()) { go f() }
	}

	return &Session{
		mode:    mode,
		opts:    opts,
		buf:     window.New(),
		state:   StateIdle,
		status:  StatusIdle,
		enabled: true,
	}
}

func (s *Session) Mode() Mode {
	return s.mode
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns the current visible state
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	accel, gyro := s.buf.Len()
	snap := Snapshot{
		Mode:        s.mode,
		State:       s.state,
		Status:      s.status,
		ControlText: s.controlTextLocked(),
		Enabled:     s.enabled,
		Remaining:   s.remaining,
		Accel:       accel,
		Gyro:        gyro,
	}
	if s.run != nil {
		snap.RunID = s.run.id
		snap.Sends = s.run.sends
	}
	return snap
}

// Trigger starts the countdown when idle and stops the recording when active.
// It is rejected while counting down and while a label prompt is open.
func (s *Session) Trigger() error {
	s.mu.Lock()
	switch s.state {
	case StateIdle:
		s.startCountdownLocked()
	case StateActive:
		slog.Info("Recording stopped", "mode", s.mode, "run_id", s.run.id)
		s.teardownLocked(true)
	case StateCountingDown:
		s.mu.Unlock()
		return ErrTriggerDisabled
	case StateAwaitingLabel:
		s.mu.Unlock()
		return ErrAwaitingLabel
	}
	s.unlock()
	return nil
}

// SubmitLabel uploads the current window with the label once whitespace is removed.
// An empty label cancels the prompt without any network call and returns ErrEmptyLabel.
// A label containing ':' or ',' is rejected with ErrInvalidLabel and the prompt stays open.
func (s *Session) SubmitLabel(label string) error {
	s.mu.Lock()
	if s.state != StateAwaitingLabel {
		s.mu.Unlock()
		return ErrNotAwaitingLabel
	}

	clean, err := frame.CheckLabel(label)
	if errors.Is(err, ErrEmptyLabel) {
		slog.Info("Empty label submitted, cancelling", "mode", s.mode, "run_id", s.run.id)
		s.teardownLocked(true)
		s.unlock()
		return ErrEmptyLabel
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}

	runID := s.run.id
	w := s.buf.TrimLast(s.opts.Timing.WindowSize)
	s.teardownLocked(false)
	s.jobs = append(s.jobs, s.uploadJob(runID, w, clean, upload.EndpointLabelUpload))
	slog.Info("Label submitted", "mode", s.mode, "run_id", runID, "label", clean)
	s.unlock()
	return nil
}

// CancelLabel closes the label prompt and returns to IDLE
func (s *Session) CancelLabel() error {
	s.mu.Lock()
	if s.state != StateAwaitingLabel {
		s.mu.Unlock()
		return ErrNotAwaitingLabel
	}
	slog.Info("Label prompt cancelled", "mode", s.mode, "run_id", s.run.id)
	s.teardownLocked(true)
	s.unlock()
	return nil
}

// Stop returns to IDLE from any state without sending anything
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state != StateIdle {
		s.teardownLocked(true)
	}
	s.unlock()
}

func (s *Session) startCountdownLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	r := &run{id: uuid.NewString(), ctx: ctx, cancel: cancel}
	s.run = r

	steps := s.opts.Timing.countdownSteps()
	s.state = StateCountingDown
	s.remaining = steps
	s.setControlLocked(false)
	s.setStatusLocked(CountdownText(steps))
	s.cueLocked(cue.CueCountdown)

	slog.Info("Countdown started", "mode", s.mode, "run_id", r.id, "countdown", s.opts.Timing.Countdown)

	tick := s.opts.Timing.Tick
	for i := 1; i < steps; i++ {
		remaining := steps - i
		schedule.After(ctx, s.opts.Clock, time.Duration(i)*tick, func() {
			s.onTick(r, remaining)
		})
	}
	schedule.After(ctx, s.opts.Clock, s.opts.Timing.Countdown, func() {
		s.onCountdownFinished(r)
	})
}

func (s *Session) onTick(r *run, remaining int) {
	s.mu.Lock()
	if s.run != r || s.state != StateCountingDown {
		s.mu.Unlock()
		return
	}
	s.remaining = remaining
	s.setStatusLocked(CountdownText(remaining))
	s.unlock()
}

func (s *Session) onCountdownFinished(r *run) {
	s.mu.Lock()
	if s.run != r || s.state != StateCountingDown {
		s.mu.Unlock()
		return
	}

	s.buf.Clear()
	r.accepting.Store(true)
	sub, err := s.opts.Source.Subscribe(
		[]sensor.Kind{sensor.KindAccelerometer, sensor.KindGyroscope},
		s.opts.Timing.IntervalMicros,
		func(sample sensor.Sample) {
			if r.accepting.Load() {
				s.buf.Append(sample)
			}
		},
	)
	if err != nil {
		slog.Error("Failed to subscribe to sample source", "mode", s.mode, "source", s.opts.Source.Name(), "error", err)
		s.teardownLocked(false)
		text := StartFailureText(err)
		s.status = text
		s.emitLocked(Event{Kind: EventFailure, Text: text, Err: err, RunID: r.id})
		s.cueLocked(cue.CueError)
		s.unlock()
		return
	}
	r.sub = sub

	s.state = StateActive
	s.remaining = 0
	s.setControlLocked(true)
	s.setStatusLocked(StatusRecording)

	send := func() { s.onSendTimer(r) }
	if s.mode == ModeContinuous {
		schedule.Every(r.ctx, s.opts.Clock, s.opts.Timing.FirstSend, s.opts.Timing.Repeat, send)
	} else {
		schedule.After(r.ctx, s.opts.Clock, s.opts.Timing.FirstSend, send)
	}

	slog.Info("Recording started", "mode", s.mode, "run_id", r.id, "first_send", s.opts.Timing.FirstSend)
	s.unlock()
}

func (s *Session) onSendTimer(r *run) {
	s.mu.Lock()
	if s.run != r || s.state != StateActive {
		s.mu.Unlock()
		return
	}
	r.sends++

	switch s.mode {
	case ModeSingle:
		w := s.buf.TrimLast(s.opts.Timing.WindowSize)
		s.teardownLocked(true)
		s.jobs = append(s.jobs, s.uploadJob(r.id, w, "", upload.EndpointPredict))
	case ModeContinuous:
		w := s.buf.TrimLast(s.opts.Timing.WindowSize)
		s.jobs = append(s.jobs, s.uploadJob(r.id, w, "", upload.EndpointPredict))
	case ModeLabelled:
		// The window is frozen while the prompt is open; the subscription lives until the label is resolved
		r.accepting.Store(false)
		s.state = StateAwaitingLabel
		s.setControlLocked(true)
		s.setStatusLocked(StatusProcessing)
		s.emitLocked(Event{Kind: EventLabelPrompt, RunID: r.id})
		s.cueLocked(cue.CueNotification)
	}
	s.unlock()
}

// teardownLocked cancels every timer of the current run, drops the subscription and returns to IDLE.
// The buffer keeps its samples.
func (s *Session) teardownLocked(resetStatus bool) {
	if r := s.run; r != nil {
		r.accepting.Store(false)
		r.cancel()
		if sub := r.sub; sub != nil {
			s.effects = append(s.effects, func() {
				if err := sub.Unsubscribe(); err != nil {
					slog.Warn("Failed to unsubscribe from sample source", "mode", s.mode, "error", err)
				}
			})
		}
	}
	s.run = nil
	s.state = StateIdle
	s.remaining = 0
	s.setControlLocked(true)
	if resetStatus {
		s.setStatusLocked(StatusIdle)
	}
}

func (s *Session) uploadJob(runID string, w window.Window, label string, endpoint upload.Endpoint) func() {
	return func() {
		var body string
		var err error
		if endpoint == upload.EndpointLabelUpload {
			body, err = s.opts.Encoder.Labelled(w, label)
		} else {
			body, err = s.opts.Encoder.Predict(w)
		}
		if err != nil {
			slog.Error("Failed to encode frame", "mode", s.mode, "run_id", runID, "error", err)
			s.deliver(runID, endpoint, "", err)
			return
		}

		slog.Debug("Sending window", "mode", s.mode, "run_id", runID, "endpoint", endpoint,
			"accel", len(w.Accel), "gyro", len(w.Gyro), "size", humanize.Bytes(uint64(len(body))))
		result, err := s.opts.Uploader.Send(context.Background(), body, endpoint)
		s.deliver(runID, endpoint, result, err)
	}
}

// deliver surfaces an upload outcome. Results arriving after the session stopped are still shown.
func (s *Session) deliver(runID string, endpoint upload.Endpoint, result string, err error) {
	s.mu.Lock()
	if err != nil {
		slog.Warn("Upload failed", "mode", s.mode, "run_id", runID, "endpoint", endpoint, "error", err)
		s.failLocked(runID, endpoint, err)
	} else {
		slog.Info("Upload succeeded", "mode", s.mode, "run_id", runID, "endpoint", endpoint, "result", result)
		s.status = result
		s.emitLocked(Event{Kind: EventResult, Text: result, Result: result, Endpoint: endpoint.String(), RunID: runID})
		s.cueLocked(cue.CueNotification)
	}
	s.unlock()
}

func (s *Session) failLocked(runID string, endpoint upload.Endpoint, err error) {
	text := FailureText(err)
	s.status = text
	s.emitLocked(Event{Kind: EventFailure, Text: text, Err: err, Endpoint: endpoint.String(), RunID: runID})
	s.cueLocked(cue.CueError)
}

func (s *Session) setStatusLocked(text string) {
	s.status = text
	s.emitLocked(Event{Kind: EventStatus, Text: text})
}

func (s *Session) setControlLocked(enabled bool) {
	s.enabled = enabled
	s.emitLocked(Event{Kind: EventControl, Text: s.controlTextLocked(), Enabled: enabled})
}

func (s *Session) controlTextLocked() string {
	if s.state == StateActive {
		return s.mode.StopText()
	}
	return s.mode.StartText()
}

func (s *Session) emitLocked(ev Event) {
	if s.opts.OnEvent == nil {
		return
	}
	ev.Mode = s.mode
	ev.State = s.state
	if ev.Kind != EventControl {
		ev.Enabled = s.enabled
	}
	ev.At = s.opts.Clock.Now()
	onEvent := s.opts.OnEvent
	s.effects = append(s.effects, func() { onEvent(ev) })
}

func (s *Session) cueLocked(c cue.Cue) {
	s.effects = append(s.effects, func() { s.playCue(c) })
}

// playCue never lets a cue failure reach the state machine
func (s *Session) playCue(c cue.Cue) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("Cue player panicked", "cue", c, "mode", s.mode, "panic", r)
		}
	}()
	if err := s.opts.Cues.Play(c); err != nil {
		slog.Warn("Failed to play cue", "cue", c, "mode", s.mode, "error", err)
	}
}

// unlock releases mu, then runs queued effects in order and hands queued uploads to Go
func (s *Session) unlock() {
	effects, jobs := s.effects, s.jobs
	s.effects, s.jobs = nil, nil

	s.emitMu.Lock()
	s.mu.Unlock()
	for _, f := range effects {
		f()
	}
	s.emitMu.Unlock()

	for _, job := range jobs {
		s.opts.Go(job)
	}
}
