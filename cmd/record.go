package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gac1u21/harcapture/internal/service"
	"github.com/gac1u21/harcapture/internal/session"

	"github.com/spf13/cobra"
)

const consoleHelp = `Commands:
  s  start/stop single recording
  c  start/stop continuous recording
  l  start/stop labelled recording
  h  show/hide history
  q  quit`

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record activities from an interactive console",
	Long: `Open an interactive console to drive the three recording modes.
Type a command letter and press Enter. While a labelled recording waits
for its label, the next line is taken as the label; an empty line cancels.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		slog.Info("Record command started", "source", cfg.Sensors.Source, "server", cfg.Server.BaseURL)

		svc, err := service.NewFromConfig(cfg)
		if err != nil {
			return fmt.Errorf("failed to create service: %w", err)
		}
		defer svc.Close()

		unsubscribe := svc.Subscribe(printEvent)
		defer unsubscribe()

		fmt.Println(consoleHelp)

		lines := make(chan string)
		go func() {
			defer close(lines)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text()
			}
		}()

		// Handle interruption
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		for {
			select {
			case <-sigChan:
				slog.Info("Stopping recording...")
				return nil
			case line, ok := <-lines:
				if !ok {
					return nil
				}
				if quit := handleConsoleLine(svc, line); quit {
					return nil
				}
			}
		}
	},
}

// handleConsoleLine runs one console command and reports whether to quit
func handleConsoleLine(svc service.Service, line string) bool {
	if snap, err := svc.Snapshot(session.ModeLabelled); err == nil && snap.State == session.StateAwaitingLabel {
		if strings.TrimSpace(line) == "" {
			if err := svc.CancelLabel(); err != nil {
				fmt.Printf("Error: %v\n", err)
			}
			return false
		}
		if err := svc.SubmitLabel(line); err != nil {
			fmt.Printf("Error: %v\n", err)
		}
		return false
	}

	command := strings.ToLower(strings.TrimSpace(line))
	switch command {
	case "":
		return false
	case "q", "quit":
		return true
	case "h", "history":
		visible, text, err := svc.ToggleHistory(context.Background())
		if err != nil {
			fmt.Printf("Error: %v\n", err)
		} else if visible {
			fmt.Printf("--- History ---\n%s\n---------------\n", text)
		} else {
			fmt.Println("History hidden")
		}
		return false
	case "?", "help":
		fmt.Println(consoleHelp)
		return false
	}

	mode, err := session.ParseMode(command)
	if err != nil {
		fmt.Printf("Unknown command %q\n%s\n", command, consoleHelp)
		return false
	}
	if err := svc.Trigger(mode); err != nil {
		switch {
		case errors.Is(err, service.ErrModeBusy):
			fmt.Println("Another recording is running, stop it first")
		default:
			fmt.Printf("Error: %v\n", err)
		}
	}
	return false
}

func printEvent(ev session.Event) {
	switch ev.Kind {
	case session.EventStatus:
		fmt.Printf("[%s] %s\n", ev.Mode, ev.Text)
	case session.EventLabelPrompt:
		fmt.Printf("[%s] Enter the activity label (empty line cancels):\n", ev.Mode)
	case session.EventResult:
		fmt.Printf("[%s] %s\n", ev.Mode, ev.Result)
	case session.EventFailure:
		fmt.Printf("[%s] %s\n", ev.Mode, ev.Text)
	case session.EventControl:
		slog.Debug("Control changed", "mode", ev.Mode, "text", ev.Text, "enabled", ev.Enabled)
	}
}
