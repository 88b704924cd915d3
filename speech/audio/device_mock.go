package audio

import "sync"

// MockDevice implements Device for tests. Playback either completes
// synchronously (auto mode) or waits for an explicit FinishCurrent, so
// tests control exactly when each clip ends.
type MockDevice struct {
	mu      sync.Mutex
	auto    bool
	playErr error
	plays   []MockPlay
	pending func()
	stops   int
}

// MockPlay records one Play call.
type MockPlay struct {
	PCM    []byte
	Format PCMFormat
}

// NewMockDevice returns a device requiring explicit completion.
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// SetAutoComplete makes Play invoke done synchronously.
func (d *MockDevice) SetAutoComplete(auto bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.auto = auto
}

// SetPlayError injects an error returned by subsequent Play calls.
func (d *MockDevice) SetPlayError(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.playErr = err
}

func (d *MockDevice) Play(pcm []byte, format PCMFormat, done func()) error {
	d.mu.Lock()
	if d.playErr != nil {
		err := d.playErr
		d.mu.Unlock()
		return err
	}
	d.plays = append(d.plays, MockPlay{PCM: pcm, Format: format})
	auto := d.auto
	if !auto {
		d.pending = done
	}
	d.mu.Unlock()

	if auto && done != nil {
		done()
	}
	return nil
}

// FinishCurrent completes the clip started by the last Play. Returns
// false if nothing is pending.
func (d *MockDevice) FinishCurrent() bool {
	d.mu.Lock()
	done := d.pending
	d.pending = nil
	d.mu.Unlock()

	if done == nil {
		return false
	}
	done()
	return true
}

func (d *MockDevice) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending = nil
	d.stops++
}

func (d *MockDevice) Close() error { return nil }

// Plays returns a snapshot of every Play call so far.
func (d *MockDevice) Plays() []MockPlay {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]MockPlay, len(d.plays))
	copy(out, d.plays)
	return out
}

// StopCount returns how many times Stop was called.
func (d *MockDevice) StopCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stops
}
