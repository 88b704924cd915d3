//go:build nocgo
// +build nocgo

package audio

import "errors"

// OtoDevice stub for builds without CGO.
type OtoDevice struct{}

func NewDevice(format PCMFormat) (*OtoDevice, error) {
	return nil, errors.New("audio output not available in nocgo build")
}

func (d *OtoDevice) Play(pcm []byte, format PCMFormat, done func()) error {
	return errors.New("audio output not available in nocgo build")
}

func (d *OtoDevice) Stop() {}

func (d *OtoDevice) Close() error { return nil }
