// Package harserver emulates the HAR classification server for local testing.
// It accepts the same frames on the same routes and answers with the same texts,
// classifying with a fixed motion-energy heuristic instead of a trained model.
package harserver

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/gac1u21/harcapture/internal/frame"
)

const (
	WelcomeText = "Welcome to the HAR Server!"

	// energyThreshold splits the default classes when no labelled data has been received
	energyThreshold = 3.0

	maxBodySize = 32 << 20
)

// Config configures the emulator
type Config struct {
	// Dir receives labelled rows as <label>.ts and, with KeepPredictions, every predict frame
	Dir             string
	ClassLabels     []string
	KeepPredictions bool
}

// Server answers /predict and /upload_labeled_activity
type Server struct {
	cfg Config

	mu        sync.Mutex
	centroids map[string]*centroid
}

// centroid is the running mean energy of the frames received for one label
type centroid struct {
	sum   float64
	count int
}

func (c *centroid) mean() float64 {
	return c.sum / float64(c.count)
}

func New(cfg Config) *Server {
	if len(cfg.ClassLabels) == 0 {
		cfg.ClassLabels = []string{"StarJumps", "Squats"}
	}
	return &Server{cfg: cfg, centroids: make(map[string]*centroid)}
}

// Handler returns the emulator routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleHome)
	mux.HandleFunc("/predict", s.handlePredict)
	mux.HandleFunc("/upload_labeled_activity", s.handleUploadLabelled)
	return mux
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	writeText(w, http.StatusOK, WelcomeText)
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	f, err := frame.Parse(body)
	if err != nil {
		slog.Warn("Rejected predict frame", "error", err, "size", humanize.Bytes(uint64(len(body))))
		writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid frame: %v", err))
		return
	}

	if s.cfg.KeepPredictions && s.cfg.Dir != "" {
		path := filepath.Join(s.cfg.Dir, uuid.NewString()+".ts")
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			slog.Error("Failed to save predict frame", "path", path, "error", err)
			writeText(w, http.StatusInternalServerError, "failed to save frame")
			return
		}
	}

	energy := motionEnergy(f)
	class := s.classify(energy)
	slog.Info("Prediction", "class", class, "energy", energy, "series_length", f.SeriesLength(),
		"channel_lengths", channelLengths(f))

	writeText(w, http.StatusOK, "You are performing "+class)
}

func (s *Server) handleUploadLabelled(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeText(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeText(w, http.StatusBadRequest, err.Error())
		return
	}

	idx := strings.LastIndex(body, ":")
	if idx < 0 {
		writeText(w, http.StatusBadRequest, "missing label")
		return
	}
	label := strings.TrimSpace(body[idx+1:])
	if label == "" || strings.ContainsAny(label, `/\`) || label == "." || label == ".." {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid label '%s'", label))
		return
	}

	f, err := frame.Parse(body)
	if err != nil {
		writeText(w, http.StatusBadRequest, fmt.Sprintf("invalid frame: %v", err))
		return
	}

	if s.cfg.Dir != "" {
		if err := appendRow(filepath.Join(s.cfg.Dir, label+".ts"), body); err != nil {
			slog.Error("Failed to save labelled frame", "label", label, "error", err)
			writeText(w, http.StatusInternalServerError, "failed to save data")
			return
		}
	}

	energy := motionEnergy(f)
	s.mu.Lock()
	c, ok := s.centroids[label]
	if !ok {
		c = &centroid{}
		s.centroids[label] = c
	}
	c.sum += energy
	c.count++
	s.mu.Unlock()

	slog.Info("Labelled data received", "label", label, "energy", energy, "size", humanize.Bytes(uint64(len(body))))
	writeText(w, http.StatusOK, fmt.Sprintf("Data for %s was received and saved", label))
}

// classify picks the label whose mean energy is nearest once labelled data exists,
// and splits the configured classes on a fixed threshold otherwise
func (s *Server) classify(energy float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.centroids) > 0 {
		labels := make([]string, 0, len(s.centroids))
		for label := range s.centroids {
			labels = append(labels, label)
		}
		sort.Strings(labels)

		best, bestDist := "", math.Inf(1)
		for _, label := range labels {
			if d := math.Abs(s.centroids[label].mean() - energy); d < bestDist {
				best, bestDist = label, d
			}
		}
		return best
	}

	if energy >= energyThreshold || len(s.cfg.ClassLabels) == 1 {
		return s.cfg.ClassLabels[0]
	}
	return s.cfg.ClassLabels[1]
}

// motionEnergy is the standard deviation of the accelerometer magnitude
func motionEnergy(f *frame.Frame) float64 {
	n := len(f.Channels[0])
	for _, ch := range f.Channels[1:3] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	if n == 0 {
		return 0
	}

	mags := make([]float64, n)
	var mean float64
	for i := 0; i < n; i++ {
		x, y, z := f.Channels[0][i], f.Channels[1][i], f.Channels[2][i]
		mags[i] = math.Sqrt(x*x + y*y + z*z)
		mean += mags[i]
	}
	mean /= float64(n)

	var variance float64
	for _, m := range mags {
		variance += (m - mean) * (m - mean)
	}
	return math.Sqrt(variance / float64(n))
}

func channelLengths(f *frame.Frame) []int {
	lengths := make([]int, len(f.Channels))
	for i, ch := range f.Channels {
		lengths[i] = len(ch)
	}
	return lengths
}

func appendRow(path, row string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	if _, err := file.WriteString(row + "\n"); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func readBody(r *http.Request) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("failed to read body: %w", err)
	}
	return string(data), nil
}

func writeText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, text)
}
