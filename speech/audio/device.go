//go:build !nocgo
// +build !nocgo

package audio

import (
	"bytes"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

const otoFormat = oto.FormatSignedInt16LE

// The oto context is process-global and fixed to the format of the
// first device. All chunks must share that format.
var (
	otoContext       *oto.Context
	otoContextFormat PCMFormat
	otoOnce          sync.Once
	otoInitErr       error
)

// OtoDevice plays PCM through the system audio output.
type OtoDevice struct {
	format PCMFormat

	mu      sync.Mutex
	current *oto.Player
}

// NewDevice opens the system audio output for the given format.
func NewDevice(format PCMFormat) (*OtoDevice, error) {
	otoOnce.Do(func() {
		options := &oto.NewContextOptions{
			SampleRate:   format.SampleRate,
			ChannelCount: format.Channels,
			Format:       otoFormat,
		}
		switch runtime.GOOS {
		case "darwin":
			options.BufferSize = 100 * time.Millisecond
		default:
			options.BufferSize = 50 * time.Millisecond
		}

		ctx, ready, err := oto.NewContext(options)
		if err != nil {
			otoInitErr = fmt.Errorf("create audio context: %w", err)
			return
		}
		<-ready
		otoContext = ctx
		otoContextFormat = format
	})
	if otoInitErr != nil {
		return nil, otoInitErr
	}
	if format != otoContextFormat {
		return nil, fmt.Errorf("audio output already opened at %+v, cannot reopen at %+v", otoContextFormat, format)
	}
	return &OtoDevice{format: format}, nil
}

// Play starts the clip and invokes done when it finishes naturally. A
// clip still playing is stopped first; its done callback is dropped.
func (d *OtoDevice) Play(pcm []byte, format PCMFormat, done func()) error {
	if err := format.Validate(pcm); err != nil {
		return err
	}
	if format != d.format {
		return fmt.Errorf("chunk format %+v does not match device format %+v", format, d.format)
	}

	player := otoContext.NewPlayer(bytes.NewReader(pcm))

	d.mu.Lock()
	if d.current != nil {
		d.current.Close()
	}
	d.current = player
	d.mu.Unlock()

	player.Play()
	go d.monitor(player, done)
	return nil
}

// monitor polls the player until it drains, then fires done. A player
// superseded by Stop or a newer Play never fires.
func (d *OtoDevice) monitor(player *oto.Player, done func()) {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		d.mu.Lock()
		if d.current != player {
			d.mu.Unlock()
			return
		}
		if player.IsPlaying() {
			d.mu.Unlock()
			continue
		}
		d.current = nil
		d.mu.Unlock()

		player.Close()
		if done != nil {
			done()
		}
		return
	}
}

// Stop halts the current clip immediately. Its done callback is never
// invoked.
func (d *OtoDevice) Stop() {
	d.mu.Lock()
	player := d.current
	d.current = nil
	d.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close stops playback. The underlying context stays open for the life
// of the process.
func (d *OtoDevice) Close() error {
	d.Stop()
	return nil
}
