package cmd

import (
	"fmt"
	"strings"

	"github.com/gac1u21/harcapture/internal/upload"

	"github.com/spf13/cobra"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show resolved configuration and server endpoints",
	Long:  `Display the resolved configuration with inheritance indicators and the URLs frames are sent to. Shows which values are inherited from default vs profile-specific.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dispatcher := upload.New(cfg.Server)

		// Display endpoints
		fmt.Printf("=== ENDPOINTS ===\n")
		fmt.Printf("predict: %s\n", dispatcher.URL(upload.EndpointPredict))
		fmt.Printf("label_upload: %s\n", dispatcher.URL(upload.EndpointLabelUpload))

		// Display resolved configuration with inheritance indicators
		fmt.Printf("\n=== RESOLVED CONFIGURATION (%s) ===\n", activeProfile())

		fmt.Printf("\n[Server]\n")
		fmt.Printf("base_url: %s %s\n", cfg.Server.BaseURL, getInheritanceIndicator(cfg.Inheritance.Server.BaseURL))
		fmt.Printf("predict_timeout: %s\n", cfg.Server.PredictTimeout)
		fmt.Printf("label_timeout: %s %s\n", cfg.Server.LabelTimeout, getInheritanceIndicator(cfg.Inheritance.Server.LabelTimeout))

		fmt.Printf("\n[Recording]\n")
		fmt.Printf("countdown: %s (tick %s)\n", cfg.Recording.Countdown, cfg.Recording.Tick)
		fmt.Printf("first_send_delay: %s\n", cfg.Recording.FirstSendDelay)
		fmt.Printf("repeat_interval: %s\n", cfg.Recording.RepeatInterval)
		fmt.Printf("window_size: %d %s\n", cfg.Recording.WindowSize, getInheritanceIndicator(cfg.Inheritance.Recording.WindowSize))
		fmt.Printf("exclusive: %t %s\n", cfg.IsExclusive(), getInheritanceIndicator(cfg.Inheritance.Recording.Exclusive))

		fmt.Printf("\n[Encoder]\n")
		fmt.Printf("problem_name: %s\n", cfg.Encoder.ProblemName)
		fmt.Printf("class_labels: %s\n", strings.Join(cfg.Encoder.ClassLabels, ", "))
		fmt.Printf("strict: %t %s\n", cfg.IsStrict(), getInheritanceIndicator(cfg.Inheritance.Encoder.Strict))

		fmt.Printf("\n[Sensors]\n")
		fmt.Printf("source: %s %s\n", cfg.Sensors.Source, getInheritanceIndicator(cfg.Inheritance.Sensors.Source))
		switch strings.ToLower(cfg.Sensors.Source) {
		case "mqtt":
			fmt.Printf("broker: %s\n", cfg.Sensors.MQTT.Broker)
			fmt.Printf("topics: %s, %s\n", cfg.Sensors.MQTT.AccelTopic, cfg.Sensors.MQTT.GyroTopic)
		case "serial":
			fmt.Printf("port: %s @ %d baud\n", cfg.Sensors.Serial.Port, cfg.Sensors.Serial.BaudRate)
		}

		fmt.Printf("\n[History]\n")
		fmt.Printf("backend: %s %s\n", cfg.History.Backend, getInheritanceIndicator(cfg.Inheritance.History.Backend))
		fmt.Printf("path: %s %s\n", cfg.History.Path, getInheritanceIndicator(cfg.Inheritance.History.Path))

		return nil
	},
}

// getInheritanceIndicator returns a formatted indicator for inheritance status
func getInheritanceIndicator(status string) string {
	switch status {
	case "inherited":
		return "[inherited]"
	case "profile-specific":
		return "[profile-specific]"
	case "default":
		return "[default]"
	default:
		return "[unknown]"
	}
}
