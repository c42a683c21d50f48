package sensor

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gac1u21/harcapture/internal/config"
)

// Kind identifies the motion sensor a sample came from
type Kind string

const (
	KindAccelerometer Kind = "accelerometer"
	KindGyroscope     Kind = "gyroscope"
)

// DefaultIntervalMicros is the sampling interval requested for both sensors (about 50 Hz)
const DefaultIntervalMicros uint32 = 20000

// Sample is one 3-axis reading. Samples are never mutated after delivery.
type Sample struct {
	Values    [3]float32 `json:"values" yaml:"values"`
	Kind      Kind       `json:"kind" yaml:"kind"`
	Timestamp time.Time  `json:"timestamp" yaml:"timestamp,omitempty"`
}

// Handler receives samples from the delivery goroutine of a source
type Handler func(Sample)

// Subscription is the handle returned by Subscribe
type Subscription interface {
	Unsubscribe() error
}

// Source delivers accelerometer and gyroscope samples until unsubscribed
type Source interface {
	Subscribe(kinds []Kind, intervalMicros uint32, handler Handler) (Subscription, error)
	Name() string
	Close() error
}

// SourceType represents the type of sample source
type SourceType string

const (
	SourceTypeMock   SourceType = "mock"
	SourceTypeMQTT   SourceType = "mqtt"
	SourceTypeSerial SourceType = "serial"
)

// NewSource creates the sample source selected in the configuration
func NewSource(cfg *config.Config) (Source, error) {
	switch determineSource(cfg) {
	case SourceTypeMQTT:
		return NewMQTTSource(cfg.Sensors.MQTT)
	case SourceTypeSerial:
		return NewSerialSource(cfg.Sensors.Serial), nil
	default:
		return NewMockSource(), nil
	}
}

func determineSource(cfg *config.Config) SourceType {
	if cfg == nil {
		return SourceTypeMock
	}
	switch strings.ToLower(cfg.Sensors.Source) {
	case "mqtt":
		return SourceTypeMQTT
	case "serial":
		return SourceTypeSerial
	default:
		return SourceTypeMock
	}
}

// GetAvailableSources returns the source types this build can use
func GetAvailableSources() []SourceType {
	return []SourceType{SourceTypeMock, SourceTypeMQTT, SourceTypeSerial}
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// fanout dispatches samples from one shared feed to every subscriber that asked for their kind
type fanout struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]fanoutEntry
}

type fanoutEntry struct {
	kinds   []Kind
	handler Handler
}

func newFanout() *fanout {
	return &fanout{subs: make(map[uint64]fanoutEntry)}
}

// add registers a subscriber and reports whether it is the first one
func (f *fanout) add(kinds []Kind, handler Handler) (uint64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.subs[f.nextID] = fanoutEntry{kinds: append([]Kind(nil), kinds...), handler: handler}
	return f.nextID, len(f.subs) == 1
}

// remove drops a subscriber and reports whether none are left
func (f *fanout) remove(id uint64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, id)
	return len(f.subs) == 0
}

func (f *fanout) publish(s Sample) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, entry := range f.subs {
		if hasKind(entry.kinds, s.Kind) {
			entry.handler(s)
		}
	}
}

func (f *fanout) len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// fanoutSubscription removes itself from a shared source exactly once
type fanoutSubscription struct {
	once    sync.Once
	release func() error
	err     error
}

func (s *fanoutSubscription) Unsubscribe() error {
	s.once.Do(func() {
		s.err = s.release()
	})
	return s.err
}

func validateSubscribe(kinds []Kind, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("sample handler is required")
	}
	if len(kinds) == 0 {
		return fmt.Errorf("at least one sensor kind is required")
	}
	for _, k := range kinds {
		if k != KindAccelerometer && k != KindGyroscope {
			return fmt.Errorf("unsupported sensor kind '%s'", k)
		}
	}
	return nil
}
