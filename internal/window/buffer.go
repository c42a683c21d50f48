package window

import (
	"sync"

	"github.com/gac1u21/harcapture/internal/sensor"
)

// DefaultSize is the number of most recent samples per sensor sent in one frame
const DefaultSize = 500

// Window is the trimmed pair of sample sequences taken at send time.
// The accelerometer and gyroscope sequences are not time-aligned and may differ in length.
type Window struct {
	Accel []sensor.Sample
	Gyro  []sensor.Sample
}

// Buffer holds the samples of one recording session, one sequence per sensor, in arrival order.
// Append is called from the sample delivery goroutine while TrimLast and Clear run
// from timer callbacks, so every operation takes the lock.
type Buffer struct {
	mu    sync.Mutex
	accel []sensor.Sample
	gyro  []sensor.Sample
}

func New() *Buffer {
	return &Buffer{}
}

// Clear empties both sequences
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.accel = nil
	b.gyro = nil
}

// Append adds a sample to the sequence of its sensor kind. Unknown kinds are ignored.
func (b *Buffer) Append(s sensor.Sample) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch s.Kind {
	case sensor.KindAccelerometer:
		b.accel = append(b.accel, s)
	case sensor.KindGyroscope:
		b.gyro = append(b.gyro, s)
	}
}

// TrimLast copies the last n samples of each sequence, or all of them when fewer exist.
// The buffer itself is left untouched.
func (b *Buffer) TrimLast(n int) Window {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Window{
		Accel: trimLast(b.accel, n),
		Gyro:  trimLast(b.gyro, n),
	}
}

// Len returns the number of buffered accelerometer and gyroscope samples
func (b *Buffer) Len() (accel, gyro int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.accel), len(b.gyro)
}

func trimLast(samples []sensor.Sample, n int) []sensor.Sample {
	if n < 0 {
		n = 0
	}
	start := 0
	if len(samples) > n {
		start = len(samples) - n
	}
	out := make([]sensor.Sample, len(samples)-start)
	copy(out, samples[start:])
	return out
}
