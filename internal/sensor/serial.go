package sensor

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"

	"github.com/gac1u21/harcapture/internal/config"
)

// SerialSource reads samples from a microcontroller streaming text lines over a serial port:
//
//	A,<x>,<y>,<z>   accelerometer
//	G,<x>,<y>,<z>   gyroscope
//
// On the first subscription the port is opened and "RATE <micros>" is written to request
// the sampling interval. The port is closed when the last subscriber leaves.
type SerialSource struct {
	cfg  config.SerialConfig
	subs *fanout

	// open is swapped in tests
	open func(config.SerialConfig) (io.ReadWriteCloser, error)

	mu   sync.Mutex
	port io.ReadWriteCloser
	done chan struct{}
}

// NewSerialSource creates a serial source; the port is opened lazily
func NewSerialSource(cfg config.SerialConfig) *SerialSource {
	return &SerialSource{
		cfg:  cfg,
		subs: newFanout(),
		open: openSerialPort,
	}
}

func openSerialPort(cfg config.SerialConfig) (io.ReadWriteCloser, error) {
	opts := serial.OpenOptions{
		PortName:              cfg.Port,
		BaudRate:              cfg.BaudRate,
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	return serial.Open(opts)
}

func (s *SerialSource) Name() string {
	return string(SourceTypeSerial)
}

func (s *SerialSource) Subscribe(kinds []Kind, intervalMicros uint32, handler Handler) (Subscription, error) {
	if err := validateSubscribe(kinds, handler); err != nil {
		return nil, err
	}
	if intervalMicros == 0 {
		intervalMicros = DefaultIntervalMicros
	}

	id, _ := s.subs.add(kinds, handler)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.port == nil {
		port, err := s.open(s.cfg)
		if err != nil {
			s.subs.remove(id)
			return nil, fmt.Errorf("failed to open serial port %s: %w", s.cfg.Port, err)
		}
		s.port = port
		s.done = make(chan struct{})
		go s.readLoop(port, s.done)
		slog.Info("Serial sample source opened", "port", s.cfg.Port, "baud", s.cfg.BaudRate)
	}

	if _, err := fmt.Fprintf(s.port, "RATE %d\n", intervalMicros); err != nil {
		slog.Warn("Failed to send sampling rate request", "port", s.cfg.Port, "error", err)
	}

	return &fanoutSubscription{release: func() error { return s.release(id) }}, nil
}

func (s *SerialSource) readLoop(port io.Reader, done chan struct{}) {
	defer close(done)
	reader := bufio.NewReader(port)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err != io.EOF {
				slog.Debug("Serial read stopped", "port", s.cfg.Port, "error", err)
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		sample, err := parseSerialLine(line, time.Now())
		if err != nil {
			slog.Debug("Dropping malformed serial line", "line", line, "error", err)
			continue
		}
		s.subs.publish(sample)
	}
}

func (s *SerialSource) release(id uint64) error {
	if !s.subs.remove(id) {
		return nil
	}
	return s.closePort(false)
}

func (s *SerialSource) closePort(force bool) error {
	s.mu.Lock()
	if !force && s.subs.len() > 0 {
		s.mu.Unlock()
		return nil
	}
	port, done := s.port, s.done
	s.port, s.done = nil, nil
	s.mu.Unlock()

	if port == nil {
		return nil
	}
	err := port.Close()
	<-done
	if err != nil {
		return fmt.Errorf("failed to close serial port %s: %w", s.cfg.Port, err)
	}
	return nil
}

func (s *SerialSource) Close() error {
	return s.closePort(true)
}

func parseSerialLine(line string, ts time.Time) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != 4 {
		return Sample{}, fmt.Errorf("expected 4 fields, got %d", len(fields))
	}

	var kind Kind
	switch strings.ToUpper(strings.TrimSpace(fields[0])) {
	case "A":
		kind = KindAccelerometer
	case "G":
		kind = KindGyroscope
	default:
		return Sample{}, fmt.Errorf("unknown sensor tag '%s'", fields[0])
	}

	var values [3]float32
	for i := 0; i < 3; i++ {
		v, err := strconv.ParseFloat(strings.TrimSpace(fields[i+1]), 32)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid axis value '%s': %w", fields[i+1], err)
		}
		values[i] = float32(v)
	}

	return Sample{Values: values, Kind: kind, Timestamp: ts}, nil
}
