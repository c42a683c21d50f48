package cue

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/gac1u21/harcapture/internal/config"
)

// Cue is a short feedback sound
type Cue string

const (
	CueCountdown    Cue = "countdown"
	CueNotification Cue = "notification"
	CueError        Cue = "error"
)

// ParseCue converts a cue name from the command line
func ParseCue(name string) (Cue, error) {
	switch Cue(strings.ToLower(name)) {
	case CueCountdown:
		return CueCountdown, nil
	case CueNotification:
		return CueNotification, nil
	case CueError:
		return CueError, nil
	}
	return "", fmt.Errorf("unknown cue '%s' (valid: countdown, notification, error)", name)
}

// Player plays cues without waiting for them to finish
type Player interface {
	Play(c Cue) error
}

// PlaybackError reports a cue that could not be started
type PlaybackError struct {
	Cue Cue
	Err error
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("failed to play %s cue: %v", e.Cue, e.Err)
}

func (e *PlaybackError) Unwrap() error {
	return e.Err
}

// Nop discards every cue
type Nop struct{}

func (Nop) Play(Cue) error {
	return nil
}

// ExecPlayer plays sound files through the first audio player found on the system
type ExecPlayer struct {
	files     map[Cue]string
	preferred string

	once   sync.Once
	player string
	err    error
}

// New returns the player described by the configuration
func New(cfg config.CuesConfig) Player {
	if cfg.Enabled != nil && !*cfg.Enabled {
		return Nop{}
	}
	preferred := cfg.Player
	if preferred == "auto" {
		preferred = ""
	}
	return &ExecPlayer{
		files: map[Cue]string{
			CueCountdown:    cfg.Countdown,
			CueNotification: cfg.Notification,
			CueError:        cfg.Error,
		},
		preferred: preferred,
	}
}

func (p *ExecPlayer) Play(c Cue) error {
	file := p.files[c]
	if file == "" {
		return &PlaybackError{Cue: c, Err: fmt.Errorf("no sound file configured")}
	}
	if _, err := os.Stat(file); err != nil {
		return &PlaybackError{Cue: c, Err: fmt.Errorf("sound file not found: %s", file)}
	}

	p.once.Do(func() {
		p.player, p.err = p.findAudioPlayer()
	})
	if p.err != nil {
		return &PlaybackError{Cue: c, Err: p.err}
	}

	cmd := playerCommand(p.player, file)
	if err := cmd.Start(); err != nil {
		return &PlaybackError{Cue: c, Err: fmt.Errorf("playback failed with %s: %w", p.player, err)}
	}

	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Cue player exited with error", "cue", c, "player", p.player, "error", err)
		}
	}()
	return nil
}

func playerCommand(player, file string) *exec.Cmd {
	switch player {
	case "paplay", "aplay":
		return exec.Command(player, file)
	case "ffplay":
		return exec.Command("ffplay", "-nodisp", "-autoexit", "-loglevel", "quiet", file)
	case "mpv":
		return exec.Command("mpv", "--no-video", "--really-quiet", file)
	case "vlc":
		return exec.Command("vlc", "--intf", "dummy", "--play-and-exit", file)
	default:
		return exec.Command(player, file)
	}
}

func (p *ExecPlayer) findAudioPlayer() (string, error) {
	if p.preferred != "" {
		if _, err := exec.LookPath(p.preferred); err != nil {
			return "", fmt.Errorf("configured player '%s' not found: %w", p.preferred, err)
		}
		return p.preferred, nil
	}

	// Short WAV cues: prefer the lightweight players
	players := []string{"paplay", "aplay", "ffplay", "mpv", "vlc"}

	for _, player := range players {
		if _, err := exec.LookPath(player); err == nil {
			return player, nil
		}
	}

	return "", fmt.Errorf("no audio player found (tried: %s)", strings.Join(players, ", "))
}
