package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gac1u21/harcapture/internal/config"
	"github.com/gac1u21/harcapture/internal/frame"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/upload"
	"github.com/gac1u21/harcapture/internal/window"
)

// Mode is one of the three recording behaviours
type Mode string

const (
	ModeSingle     Mode = "single"
	ModeContinuous Mode = "continuous"
	ModeLabelled   Mode = "labelled"
)

// Modes lists every mode in display order
var Modes = []Mode{ModeSingle, ModeContinuous, ModeLabelled}

// ParseMode accepts a mode name or its first letter
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "s":
		return ModeSingle, nil
	case "continuous", "c":
		return ModeContinuous, nil
	case "labelled", "labeled", "l":
		return ModeLabelled, nil
	}
	return "", fmt.Errorf("unknown recording mode '%s' (valid: single, continuous, labelled)", s)
}

// StartText is the trigger caption while the mode is idle
func (m Mode) StartText() string {
	switch m {
	case ModeContinuous:
		return "Start Continuous Recording"
	case ModeLabelled:
		return "Start Labelled Recording"
	default:
		return "Start Recording"
	}
}

// StopText is the trigger caption while the mode is recording
func (m Mode) StopText() string {
	switch m {
	case ModeContinuous:
		return "Stop Continuous Recording"
	case ModeLabelled:
		return "Stop Labelled Recording"
	default:
		return "Stop Recording"
	}
}

// State represents the current state of a session
type State string

const (
	StateIdle          State = "IDLE"
	StateCountingDown  State = "COUNTING_DOWN"
	StateActive        State = "ACTIVE"
	StateAwaitingLabel State = "AWAITING_LABEL"
)

// Status texts shown to the user
const (
	StatusIdle       = "Press the button to start recording"
	StatusRecording  = "Recording..."
	StatusProcessing = "Processing your data..."
)

// CountdownText renders the countdown status, e.g. "Starting in 3..."
func CountdownText(remaining int) string {
	return fmt.Sprintf("Starting in %d...", remaining)
}

// FailureText renders an upload error the way the status line shows it
func FailureText(err error) string {
	var rejected *upload.RejectedError
	var transport *upload.TransportError
	switch {
	case errors.As(err, &rejected):
		return fmt.Sprintf("Error sending data: %s\nPlease try again", rejected.Message)
	case errors.As(err, &transport):
		return "Failed to send data: " + transport.Message()
	default:
		return "Failed to send data: " + err.Error()
	}
}

// StartFailureText renders a sample source that could not be subscribed
func StartFailureText(err error) string {
	return "Failed to start recording: " + err.Error()
}

var (
	// ErrTriggerDisabled is returned while the countdown runs
	ErrTriggerDisabled = errors.New("trigger is disabled during the countdown")
	// ErrAwaitingLabel is returned when triggering while the label prompt is open
	ErrAwaitingLabel = errors.New("waiting for a label, submit or cancel it first")
	// ErrNotAwaitingLabel is returned by SubmitLabel and CancelLabel outside the label prompt
	ErrNotAwaitingLabel = errors.New("no label prompt is open")
	// ErrEmptyLabel is returned when a submitted label is only whitespace; the prompt is cancelled
	ErrEmptyLabel = frame.ErrEmptyLabel
	// ErrInvalidLabel is returned when a label contains a frame separator; the prompt stays open
	ErrInvalidLabel = frame.ErrInvalidLabel
)

// Uploader sends an encoded frame
type Uploader interface {
	Send(ctx context.Context, frame string, endpoint upload.Endpoint) (string, error)
}

// EventKind tells consumers what changed
type EventKind string

const (
	EventStatus      EventKind = "status"
	EventControl     EventKind = "control"
	EventLabelPrompt EventKind = "label_prompt"
	EventResult      EventKind = "result"
	EventFailure     EventKind = "failure"
)

// Event is published on every user-visible change of a session
type Event struct {
	Mode     Mode      `json:"mode"`
	Kind     EventKind `json:"kind"`
	State    State     `json:"state"`
	Text     string    `json:"text,omitempty"`
	Enabled  bool      `json:"enabled"`
	Result   string    `json:"result,omitempty"`
	Endpoint string    `json:"endpoint,omitempty"`
	Err      error     `json:"-"`
	RunID    string    `json:"run_id,omitempty"`
	At       time.Time `json:"at"`
}

// Snapshot is a copy of a session's visible state
type Snapshot struct {
	Mode        Mode   `json:"mode"`
	State       State  `json:"state"`
	Status      string `json:"status"`
	ControlText string `json:"control_text"`
	Enabled     bool   `json:"enabled"`
	Remaining   int    `json:"remaining,omitempty"`
	RunID       string `json:"run_id,omitempty"`
	Sends       int    `json:"sends"`
	Accel       int    `json:"accel_samples"`
	Gyro        int    `json:"gyro_samples"`
}

// Timing holds the session delays and window size
type Timing struct {
	Countdown      time.Duration
	Tick           time.Duration
	FirstSend      time.Duration
	Repeat         time.Duration
	WindowSize     int
	IntervalMicros uint32
}

// DefaultTiming returns the reference timing: a 3 s countdown in 1 s ticks,
// a first send 10.5 s after activation and repeats every 10 s.
func DefaultTiming() Timing {
	return Timing{
		Countdown:      3 * time.Second,
		Tick:           time.Second,
		FirstSend:      10500 * time.Millisecond,
		Repeat:         10 * time.Second,
		WindowSize:     window.DefaultSize,
		IntervalMicros: sensor.DefaultIntervalMicros,
	}
}

// TimingFromConfig reads the recording section
func TimingFromConfig(cfg config.RecordingConfig) Timing {
	t := DefaultTiming()
	if cfg.Countdown > 0 {
		t.Countdown = cfg.Countdown
	}
	if cfg.Tick > 0 {
		t.Tick = cfg.Tick
	}
	if cfg.FirstSendDelay > 0 {
		t.FirstSend = cfg.FirstSendDelay
	}
	if cfg.RepeatInterval > 0 {
		t.Repeat = cfg.RepeatInterval
	}
	if cfg.WindowSize > 0 {
		t.WindowSize = cfg.WindowSize
	}
	if cfg.SampleIntervalUs > 0 {
		t.IntervalMicros = cfg.SampleIntervalUs
	}
	return t
}

func (t Timing) countdownSteps() int {
	if t.Tick <= 0 {
		return 1
	}
	steps := int(t.Countdown / t.Tick)
	if steps < 1 {
		steps = 1
	}
	return steps
}
