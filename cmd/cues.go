package cmd

import (
	"fmt"

	"github.com/gac1u21/harcapture/internal/config"
	"github.com/gac1u21/harcapture/internal/cue"

	"github.com/spf13/cobra"
)

var cuesCmd = &cobra.Command{
	Use:       "cues [countdown|notification|error]",
	Short:     "Play a feedback cue",
	Long:      `Play one of the configured feedback sounds to check the audio player and the sound files.`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{string(cue.CueCountdown), string(cue.CueNotification), string(cue.CueError)},
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cue.ParseCue(args[0])
		if err != nil {
			return err
		}

		// Cues may be disabled for recording, play them here anyway
		cuesCfg := cfg.Cues
		cuesCfg.Enabled = nil
		if !cfg.CuesEnabled() {
			fmt.Println("Note: cues are disabled in this profile")
		}

		fmt.Printf("Playing %s cue: %s\n", c, cueFile(cuesCfg, c))
		if err := cue.New(cuesCfg).Play(c); err != nil {
			return fmt.Errorf("playback failed: %w", err)
		}
		return nil
	},
}

func cueFile(c config.CuesConfig, which cue.Cue) string {
	switch which {
	case cue.CueCountdown:
		return c.Countdown
	case cue.CueNotification:
		return c.Notification
	default:
		return c.Error
	}
}
