package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gac1u21/harcapture/internal/harserver"
	"github.com/spf13/cobra"
)

var emulateCmd = &cobra.Command{
	Use:   "emulate",
	Short: "Run a local HAR server emulator",
	Long: `Run a stand-in for the HAR classification server on this machine.
It answers the same routes with the same texts: predictions come from a
motion-energy heuristic, and labelled uploads are appended to <dir>/<label>.ts.

Point server.base_url at http://localhost:<port> to record without the real server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetString("port")
		dir, _ := cmd.Flags().GetString("dir")
		keep, _ := cmd.Flags().GetBool("keep-predictions")

		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		emu := harserver.New(harserver.Config{
			Dir:             dir,
			ClassLabels:     cfg.Encoder.ClassLabels,
			KeepPredictions: keep,
		})
		httpServer := &http.Server{
			Addr:              ":" + port,
			Handler:           emu.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		slog.Info("HAR server emulator starting", "port", port, "dir", dir, "classes", cfg.Encoder.ClassLabels)

		errCh := make(chan error, 1)
		go func() {
			errCh <- httpServer.ListenAndServe()
		}()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigChan)

		select {
		case err := <-errCh:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("emulator failed: %w", err)
			}
			return nil
		case <-sigChan:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(ctx)
	},
}

func init() {
	emulateCmd.Flags().String("port", "5000", "port for the emulator")
	emulateCmd.Flags().String("dir", "har-data", "directory for received frames")
	emulateCmd.Flags().Bool("keep-predictions", false, "also save every predict frame")
}
