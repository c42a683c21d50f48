package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gac1u21/harcapture/internal/config"
	"github.com/gac1u21/harcapture/internal/cue"
	"github.com/gac1u21/harcapture/internal/frame"
	"github.com/gac1u21/harcapture/internal/history"
	"github.com/gac1u21/harcapture/internal/schedule"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/session"
	"github.com/gac1u21/harcapture/internal/upload"
)

// ErrModeBusy is returned when another mode is already running and modes are exclusive
var ErrModeBusy = errors.New("another recording mode is already running")

// Service represents the core HAR capture service interface
type Service interface {
	// Recording operations
	Trigger(mode session.Mode) error
	SubmitLabel(label string) error
	CancelLabel() error
	Snapshot(mode session.Mode) (session.Snapshot, error)
	Status() []session.Snapshot

	// History operations
	History(ctx context.Context) (string, error)
	ToggleHistory(ctx context.Context) (bool, string, error)

	// Events
	Subscribe(fn func(session.Event)) (unsubscribe func())

	// Configuration and information
	GetConfig() *config.Config
	GetLastError() string

	Close() error
}

// Options replaces the collaborators built from the configuration
type Options struct {
	Source   sensor.Source
	Store    history.Store
	Uploader session.Uploader
	Cues     cue.Player
	Clock    schedule.Clock
	Go       func(func())
}

// HARService owns one session per mode and routes their events to history and subscribers
type HARService struct {
	cfg      *config.Config
	source   sensor.Source
	store    history.Store
	clock    schedule.Clock
	sessions map[session.Mode]*session.Session

	// Guards mode exclusivity and history visibility
	mu             sync.Mutex
	historyVisible bool

	subsMutex   sync.RWMutex
	subscribers map[int]func(session.Event)
	nextSub     int

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex

	closeOnce sync.Once
	closeErr  error
}

// NewFromConfig creates a service with the sample source, history store,
// uploader and cue player described by the configuration
func NewFromConfig(cfg *config.Config) (Service, error) {
	source, err := sensor.NewSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create sample source: %w", err)
	}

	store, err := history.Open(cfg.History)
	if err != nil {
		_ = source.Close()
		return nil, fmt.Errorf("failed to open history: %w", err)
	}

	return New(cfg, Options{
		Source:   source,
		Store:    store,
		Uploader: upload.New(cfg.Server),
		Cues:     cue.New(cfg.Cues),
	}), nil
}

// New creates a new HAR service instance. The service closes the source and store on Close.
func New(cfg *config.Config, opts Options) *HARService {
	if opts.Clock == nil {
		opts.Clock = schedule.RealClock()
	}

	s := &HARService{
		cfg:         cfg,
		source:      opts.Source,
		store:       opts.Store,
		clock:       opts.Clock,
		sessions:    make(map[session.Mode]*session.Session, len(session.Modes)),
		subscribers: make(map[int]func(session.Event)),
	}

	encoder := frame.New(cfg.Encoder)
	timing := session.TimingFromConfig(cfg.Recording)
	for _, mode := range session.Modes {
		s.sessions[mode] = session.New(mode, session.Options{
			Source:   opts.Source,
			Encoder:  encoder,
			Uploader: opts.Uploader,
			Cues:     opts.Cues,
			Clock:    opts.Clock,
			Timing:   timing,
			OnEvent:  s.handleEvent,
			Go:       opts.Go,
		})
	}

	slog.Debug("Service created", "source", opts.Source.Name(), "exclusive", cfg.IsExclusive(),
		"window_size", timing.WindowSize)
	return s
}

// Trigger presses the start/stop control of a mode
func (s *HARService) Trigger(mode session.Mode) error {
	sess, ok := s.sessions[mode]
	if !ok {
		return fmt.Errorf("unknown recording mode '%s'", mode)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.IsExclusive() && sess.State() == session.StateIdle {
		for other, o := range s.sessions {
			if other != mode && o.State() != session.StateIdle {
				slog.Info("Trigger rejected, mode busy", "mode", mode, "running", other)
				return fmt.Errorf("%w: %s", ErrModeBusy, other)
			}
		}
	}

	slog.Debug("Service.Trigger called", "mode", mode)
	if err := sess.Trigger(); err != nil {
		return err
	}
	s.clearLastError()
	return nil
}

// SubmitLabel answers the open label prompt. A blank label cancels it and returns session.ErrEmptyLabel.
func (s *HARService) SubmitLabel(label string) error {
	return s.sessions[session.ModeLabelled].SubmitLabel(label)
}

// CancelLabel dismisses the open label prompt
func (s *HARService) CancelLabel() error {
	return s.sessions[session.ModeLabelled].CancelLabel()
}

// Snapshot returns the visible state of one mode
func (s *HARService) Snapshot(mode session.Mode) (session.Snapshot, error) {
	sess, ok := s.sessions[mode]
	if !ok {
		return session.Snapshot{}, fmt.Errorf("unknown recording mode '%s'", mode)
	}
	return sess.Snapshot(), nil
}

// Status returns the visible state of every mode in display order
func (s *HARService) Status() []session.Snapshot {
	snaps := make([]session.Snapshot, 0, len(session.Modes))
	for _, mode := range session.Modes {
		snaps = append(snaps, s.sessions[mode].Snapshot())
	}
	return snaps
}

// History returns every stored record joined with newlines, or "No records found"
func (s *HARService) History(ctx context.Context) (string, error) {
	records, err := s.store.ReadAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read history: %w", err)
	}
	return history.Format(records), nil
}

// ToggleHistory flips the history visibility. The text is only read when the history becomes visible.
func (s *HARService) ToggleHistory(ctx context.Context) (bool, string, error) {
	s.mu.Lock()
	s.historyVisible = !s.historyVisible
	visible := s.historyVisible
	s.mu.Unlock()

	if !visible {
		return false, "", nil
	}
	text, err := s.History(ctx)
	if err != nil {
		return true, "", err
	}
	return true, text, nil
}

// Subscribe registers fn for every session event. fn must not block.
func (s *HARService) Subscribe(fn func(session.Event)) func() {
	s.subsMutex.Lock()
	defer s.subsMutex.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.subsMutex.Lock()
		defer s.subsMutex.Unlock()
		delete(s.subscribers, id)
	}
}

// GetConfig returns the current configuration
func (s *HARService) GetConfig() *config.Config {
	return s.cfg
}

// Close stops every session and releases the source and the history store
func (s *HARService) Close() error {
	s.closeOnce.Do(func() {
		for _, mode := range session.Modes {
			s.sessions[mode].Stop()
		}
		var errs []error
		if s.source != nil {
			if err := s.source.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close sample source: %w", err))
			}
		}
		if s.store != nil {
			if err := s.store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close history: %w", err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}

func (s *HARService) handleEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventResult:
		record := history.Record{Timestamp: s.clock.Now(), Result: ev.Result}
		if err := s.store.Append(context.Background(), record); err != nil {
			slog.Warn("Failed to append history record", "mode", ev.Mode, "error", err)
			s.setLastError(fmt.Sprintf("Failed to save history: %v", err))
		}
	case session.EventFailure:
		s.setLastError(ev.Text)
	}

	s.subsMutex.RLock()
	defer s.subsMutex.RUnlock()
	for _, fn := range s.subscribers {
		fn(ev)
	}
}

// GetLastError returns the last error message (thread-safe)
func (s *HARService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *HARService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *HARService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}
