package sensor

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gac1u21/harcapture/internal/config"
)

func TestParseSerialLine(t *testing.T) {
	ts := time.Unix(100, 0)

	s, err := parseSerialLine("A,0.5,-9.81,1", ts)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if s.Kind != KindAccelerometer || s.Values != [3]float32{0.5, -9.81, 1} || !s.Timestamp.Equal(ts) {
		t.Errorf("Unexpected sample: %+v", s)
	}

	s, err = parseSerialLine("g, 1, 2, 3", ts)
	if err != nil {
		t.Fatalf("Failed to parse: %v", err)
	}
	if s.Kind != KindGyroscope {
		t.Errorf("Expected gyroscope, got: %s", s.Kind)
	}

	for _, bad := range []string{"M,1,2,3", "A,1,2", "A,1,x,3", ""} {
		if _, err := parseSerialLine(bad, ts); err == nil {
			t.Errorf("Expected error for %q", bad)
		}
	}
}

func TestDecodeMQTTPayload(t *testing.T) {
	s, err := decodeMQTTPayload(KindGyroscope, []byte(`{"x":0.1,"y":0.2,"z":0.3,"ts":1714557600000}`))
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if s.Kind != KindGyroscope || s.Values != [3]float32{0.1, 0.2, 0.3} {
		t.Errorf("Unexpected sample: %+v", s)
	}
	if s.Timestamp.UnixMilli() != 1714557600000 {
		t.Errorf("Expected payload timestamp, got: %v", s.Timestamp)
	}

	if _, err := decodeMQTTPayload(KindAccelerometer, []byte("not json")); err == nil {
		t.Error("Expected error for invalid payload")
	}
}

func TestFanoutFiltersByKind(t *testing.T) {
	f := newFanout()
	var accel, both int
	idA, first := f.add([]Kind{KindAccelerometer}, func(Sample) { accel++ })
	if !first {
		t.Error("Expected first subscriber to be reported")
	}
	idB, first := f.add([]Kind{KindAccelerometer, KindGyroscope}, func(Sample) { both++ })
	if first {
		t.Error("Expected second subscriber not to be first")
	}

	f.publish(Sample{Kind: KindAccelerometer})
	f.publish(Sample{Kind: KindGyroscope})
	if accel != 1 || both != 2 {
		t.Errorf("Expected 1 and 2 deliveries, got: %d and %d", accel, both)
	}

	if f.remove(idA) {
		t.Error("Expected subscribers to remain")
	}
	if !f.remove(idB) {
		t.Error("Expected no subscribers left")
	}
}

func TestValidateSubscribe(t *testing.T) {
	h := func(Sample) {}
	if err := validateSubscribe(nil, h); err == nil {
		t.Error("Expected error for no kinds")
	}
	if err := validateSubscribe([]Kind{"magnetometer"}, h); err == nil {
		t.Error("Expected error for unsupported kind")
	}
	if err := validateSubscribe([]Kind{KindAccelerometer}, nil); err == nil {
		t.Error("Expected error for nil handler")
	}
}

func TestMockSourceDelivers(t *testing.T) {
	src := NewMockSource()
	samples := make(chan Sample, 16)
	sub, err := src.Subscribe([]Kind{KindAccelerometer, KindGyroscope}, 1000, func(s Sample) {
		select {
		case samples <- s:
		default:
		}
	})
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	seen := map[Kind]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[KindAccelerometer] && seen[KindGyroscope]) {
		select {
		case s := <-samples:
			seen[s.Kind] = true
		case <-deadline:
			t.Fatalf("Expected both kinds, got: %v", seen)
		}
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Failed to unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Expected repeated unsubscribe to succeed, got: %v", err)
	}
}

// pipePort feeds lines to the serial source and records what it writes
type pipePort struct {
	*io.PipeReader
	mu      sync.Mutex
	written bytes.Buffer
}

func (p *pipePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.written.Write(b)
}

func TestSerialSourceLifecycle(t *testing.T) {
	pr, pw := io.Pipe()
	port := &pipePort{PipeReader: pr}

	src := NewSerialSource(config.SerialConfig{Port: "/dev/fake", BaudRate: 115200})
	opens := 0
	src.open = func(config.SerialConfig) (io.ReadWriteCloser, error) {
		opens++
		return port, nil
	}

	samples := make(chan Sample, 4)
	sub, err := src.Subscribe([]Kind{KindGyroscope}, 20000, func(s Sample) { samples <- s })
	if err != nil {
		t.Fatalf("Failed to subscribe: %v", err)
	}

	port.mu.Lock()
	written := port.written.String()
	port.mu.Unlock()
	if written != "RATE 20000\n" {
		t.Errorf("Expected rate request, got: %q", written)
	}

	go func() {
		io.WriteString(pw, "A,1,2,3\n")
		io.WriteString(pw, "garbage\n")
		io.WriteString(pw, "G,4,5,6\n")
	}()

	select {
	case s := <-samples:
		if s.Kind != KindGyroscope || s.Values != [3]float32{4, 5, 6} {
			t.Errorf("Expected gyroscope sample 4,5,6, got: %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a gyroscope sample")
	}

	if err := sub.Unsubscribe(); err != nil {
		t.Errorf("Failed to unsubscribe: %v", err)
	}
	if opens != 1 {
		t.Errorf("Expected port to be opened once, got: %d", opens)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Expected closing an idle source to succeed, got: %v", err)
	}
}

func TestDetermineSource(t *testing.T) {
	cfg := config.Default()
	if got := determineSource(cfg); got != SourceTypeMock {
		t.Errorf("Expected mock by default, got: %s", got)
	}
	cfg.Sensors.Source = "serial"
	if got := determineSource(cfg); got != SourceTypeSerial {
		t.Errorf("Expected serial, got: %s", got)
	}
}
