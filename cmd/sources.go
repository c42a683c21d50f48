package cmd

import (
	"fmt"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/gac1u21/harcapture/internal/sensor"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Probe the configured sample source",
	Long: `Subscribe to the accelerometer and gyroscope of the configured sample source
for a short while and print how many samples arrived and at what rate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		duration, _ := cmd.Flags().GetDuration("duration")

		fmt.Printf("Available sources: %v\n", sensor.GetAvailableSources())

		src, err := sensor.NewSource(cfg)
		if err != nil {
			return fmt.Errorf("failed to open sample source: %w", err)
		}
		defer src.Close()

		fmt.Printf("Probing %s for %s...\n\n", src.Name(), duration)

		var mu sync.Mutex
		counts := map[sensor.Kind]int{}
		last := map[sensor.Kind]sensor.Sample{}

		sub, err := src.Subscribe([]sensor.Kind{sensor.KindAccelerometer, sensor.KindGyroscope}, cfg.Recording.SampleIntervalUs, func(s sensor.Sample) {
			mu.Lock()
			counts[s.Kind]++
			last[s.Kind] = s
			mu.Unlock()
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe: %w", err)
		}

		time.Sleep(duration)
		if err := sub.Unsubscribe(); err != nil {
			return fmt.Errorf("failed to unsubscribe: %w", err)
		}

		mu.Lock()
		defer mu.Unlock()
		for _, kind := range []sensor.Kind{sensor.KindAccelerometer, sensor.KindGyroscope} {
			n := counts[kind]
			rate := float64(n) / duration.Seconds()
			fmt.Printf("%-14s %s samples, %s Hz", kind, humanize.Comma(int64(n)), humanize.FtoaWithDigits(rate, 1))
			if n > 0 {
				v := last[kind].Values
				fmt.Printf(", last (%.3f, %.3f, %.3f)", v[0], v[1], v[2])
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	sourcesCmd.Flags().Duration("duration", 2*time.Second, "how long to listen")
}
