package frame

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/gac1u21/harcapture/internal/config"
	"github.com/gac1u21/harcapture/internal/sensor"
	"github.com/gac1u21/harcapture/internal/window"
)

// PredictionToken terminates the data line of an unlabelled frame
const PredictionToken = "Prediction"

var (
	// ErrLengthMismatch is returned in strict mode when the two sensor sequences differ in length
	ErrLengthMismatch = errors.New("accelerometer and gyroscope windows differ in length")
	// ErrEmptyLabel is returned when a label has no characters left after whitespace removal
	ErrEmptyLabel = errors.New("label is empty")
	// ErrInvalidLabel is returned when a label contains ':' or ',', which separate the fields of a data line
	ErrInvalidLabel = errors.New("label must not contain ':' or ','")
)

// Encoder turns a trimmed window into the .ts text format read by the HAR server.
//
// A prediction frame is a header followed by one data line:
//
//	@problemName SensorData
//	@timeStamps false
//	@missing false
//	@univariate false
//	@dimensions 6
//	@equalLength true
//	@seriesLength 2
//	@classLabel true StarJumps Squats
//	@data
//	1.0,4.0:2.0,5.0:3.0,6.0:7.0:8.0:9.0:Prediction
//
// A labelled frame is only the data line, ending in the label instead of the token.
// Channels are mapped over each sequence as-is; the gyroscope channels are neither
// padded nor truncated to the accelerometer length.
type Encoder struct {
	ProblemName string
	ClassLabels []string
	Strict      bool
}

func New(cfg config.EncoderConfig) *Encoder {
	enc := Default()
	if cfg.ProblemName != "" {
		enc.ProblemName = cfg.ProblemName
	}
	if len(cfg.ClassLabels) > 0 {
		enc.ClassLabels = append([]string(nil), cfg.ClassLabels...)
	}
	if cfg.Strict != nil {
		enc.Strict = *cfg.Strict
	}
	return enc
}

// Default returns the encoder the reference server expects
func Default() *Encoder {
	return &Encoder{
		ProblemName: "SensorData",
		ClassLabels: []string{"StarJumps", "Squats"},
	}
}

// Predict encodes an unlabelled frame
func (e *Encoder) Predict(w window.Window) (string, error) {
	if err := e.check(w); err != nil {
		return "", err
	}
	var sb strings.Builder
	e.writeHeader(&sb, len(w.Accel))
	writeDataLine(&sb, w, PredictionToken)
	return sb.String(), nil
}

// Labelled encodes a data line carrying the given label with all whitespace removed
func (e *Encoder) Labelled(w window.Window, label string) (string, error) {
	clean, err := CheckLabel(label)
	if err != nil {
		return "", err
	}
	if err := e.check(w); err != nil {
		return "", err
	}
	var sb strings.Builder
	writeDataLine(&sb, w, clean)
	return sb.String(), nil
}

func (e *Encoder) check(w window.Window) error {
	if e.Strict && len(w.Accel) != len(w.Gyro) {
		return fmt.Errorf("%w: %d accelerometer vs %d gyroscope samples", ErrLengthMismatch, len(w.Accel), len(w.Gyro))
	}
	return nil
}

func (e *Encoder) writeHeader(sb *strings.Builder, seriesLength int) {
	fmt.Fprintf(sb, "@problemName %s\n", e.ProblemName)
	sb.WriteString("@timeStamps false\n")
	sb.WriteString("@missing false\n")
	sb.WriteString("@univariate false\n")
	sb.WriteString("@dimensions 6\n")
	sb.WriteString("@equalLength true\n")
	fmt.Fprintf(sb, "@seriesLength %d\n", seriesLength)
	fmt.Fprintf(sb, "@classLabel true %s\n", strings.Join(e.ClassLabels, " "))
	sb.WriteString("@data\n")
}

func writeDataLine(sb *strings.Builder, w window.Window, last string) {
	for axis := 0; axis < 3; axis++ {
		writeChannel(sb, w.Accel, axis)
		sb.WriteByte(':')
	}
	for axis := 0; axis < 3; axis++ {
		writeChannel(sb, w.Gyro, axis)
		sb.WriteByte(':')
	}
	sb.WriteString(last)
}

func writeChannel(sb *strings.Builder, samples []sensor.Sample, axis int) {
	for i, s := range samples {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(FormatFloat(s.Values[axis]))
	}
}

// SanitizeLabel removes every whitespace rune: "Star Jumps" becomes "StarJumps"
func SanitizeLabel(label string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, label)
}

// CheckLabel sanitizes a label and rejects one that is empty or would split the data line
func CheckLabel(label string) (string, error) {
	clean := SanitizeLabel(label)
	if clean == "" {
		return "", ErrEmptyLabel
	}
	if strings.ContainsAny(clean, ":,") {
		return "", fmt.Errorf("%w: '%s'", ErrInvalidLabel, clean)
	}
	return clean, nil
}

// FormatFloat prints the shortest decimal that round-trips the float32,
// always keeping one fractional digit: 1 -> "1.0", 0.25 -> "0.25".
func FormatFloat(v float32) string {
	f := float64(v)
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "Infinity"
	case math.IsInf(f, -1):
		return "-Infinity"
	}
	s := strconv.FormatFloat(f, 'f', -1, 32)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
