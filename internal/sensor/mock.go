package sensor

import (
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource generates a smooth synthetic motion so the client can run without hardware.
// The accelerometer follows a vertical bounce on top of gravity and the gyroscope a slow sway.
type MockSource struct {
	start time.Time
}

// NewMockSource creates a mock sample source
func NewMockSource() *MockSource {
	return &MockSource{start: time.Now()}
}

func (m *MockSource) Name() string {
	return string(SourceTypeMock)
}

func (m *MockSource) Subscribe(kinds []Kind, intervalMicros uint32, handler Handler) (Subscription, error) {
	if err := validateSubscribe(kinds, handler); err != nil {
		return nil, err
	}
	if intervalMicros == 0 {
		intervalMicros = DefaultIntervalMicros
	}

	sub := &mockSubscription{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	interval := time.Duration(intervalMicros) * time.Microsecond
	go func() {
		defer close(sub.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-sub.stop:
				return
			case now := <-ticker.C:
				for _, k := range kinds {
					handler(m.sample(k, now))
				}
			}
		}
	}()

	slog.Debug("Mock source subscribed", "kinds", kinds, "interval", interval)
	return sub, nil
}

func (m *MockSource) sample(kind Kind, now time.Time) Sample {
	elapsed := now.Sub(m.start).Seconds()

	var values [3]float32
	switch kind {
	case KindAccelerometer:
		values = [3]float32{
			float32(0.8 * math.Sin(elapsed*2.1)),
			float32(9.81 + 4*math.Sin(elapsed*2*math.Pi)),
			float32(0.5 * math.Cos(elapsed*1.3)),
		}
	case KindGyroscope:
		values = [3]float32{
			float32(0.6 * math.Sin(elapsed*0.7)),
			float32(0.3 * math.Cos(elapsed*1.1)),
			float32(0.2 * math.Sin(elapsed*0.5)),
		}
	}

	return Sample{Values: values, Kind: kind, Timestamp: now}
}

func (m *MockSource) Close() error {
	return nil
}

type mockSubscription struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (s *mockSubscription) Unsubscribe() error {
	s.once.Do(func() {
		close(s.stop)
	})
	<-s.done
	return nil
}
