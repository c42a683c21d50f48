package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/gac1u21/harcapture/internal/frame"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/upload"
	"github.com/gac1u21/harcapture/internal/window"

	"github.com/spf13/cobra"
)

// sampleFile is the YAML layout read by encode:
//
//	accelerometer:
//	  - [0.1, 9.8, 0.3]
//	gyroscope:
//	  - [0.01, 0.02, 0.0]
type sampleFile struct {
	Accelerometer [][3]float32 `yaml:"accelerometer"`
	Gyroscope     [][3]float32 `yaml:"gyroscope"`
}

var encodeCmd = &cobra.Command{
	Use:   "encode [samples.yaml]",
	Short: "Encode a recorded sample file as a frame",
	Long: `Encode the accelerometer and gyroscope samples of a YAML file into a
prediction frame, or a labelled frame with --label. The most recent
recording.window_size samples of each sensor are used.

With --upload the frame is sent to the configured server and the response printed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		send, _ := cmd.Flags().GetBool("upload")

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read sample file: %w", err)
		}

		var samples sampleFile
		if err := yaml.Unmarshal(data, &samples); err != nil {
			return fmt.Errorf("failed to parse sample file: %w", err)
		}

		buf := window.New()
		for _, v := range samples.Accelerometer {
			buf.Append(sensor.Sample{Kind: sensor.KindAccelerometer, Values: v})
		}
		for _, v := range samples.Gyroscope {
			buf.Append(sensor.Sample{Kind: sensor.KindGyroscope, Values: v})
		}
		w := buf.TrimLast(cfg.Recording.WindowSize)

		enc := frame.New(cfg.Encoder)
		endpoint := upload.EndpointPredict
		var encoded string
		if cmd.Flags().Changed("label") {
			endpoint = upload.EndpointLabelUpload
			encoded, err = enc.Labelled(w, label)
		} else {
			encoded, err = enc.Predict(w)
		}
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}

		if !send {
			fmt.Print(encoded)
			return nil
		}

		dispatcher := upload.New(cfg.Server)
		fmt.Printf("Sending %s frame (%s) to %s\n", endpoint, humanize.Bytes(uint64(len(encoded))), dispatcher.URL(endpoint))
		reply, err := dispatcher.Send(context.Background(), encoded, endpoint)
		if err != nil {
			return fmt.Errorf("upload failed: %w", err)
		}
		fmt.Println(reply)
		return nil
	},
}

func init() {
	encodeCmd.Flags().StringP("label", "l", "", "encode a labelled frame with this activity label")
	encodeCmd.Flags().BoolP("upload", "u", false, "send the frame to the configured server")
}
