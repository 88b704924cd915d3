// Package audio reassembles out-of-order voice fragments and plays them
// back as one continuous response.
package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Default playback parameters. The synthesis backend produces mono
// 16-bit PCM; anything else is rejected at decode time.
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	DefaultBitDepth   = 16
)

// PCMFormat describes raw PCM audio parameters.
type PCMFormat struct {
	SampleRate int
	Channels   int
	BitDepth   int
}

// DefaultFormat returns the format produced by the synthesis backend.
func DefaultFormat() PCMFormat {
	return PCMFormat{
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// BytesPerFrame returns the byte width of one sample frame across all
// channels.
func (f PCMFormat) BytesPerFrame() int {
	return f.BitDepth / 8 * f.Channels
}

// Duration returns the playback time of dataLen bytes of PCM in this
// format.
func (f PCMFormat) Duration(dataLen int) time.Duration {
	bpf := f.BytesPerFrame()
	if f.SampleRate == 0 || bpf == 0 {
		return 0
	}
	frames := dataLen / bpf
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Validate checks that data is non-empty and frame-aligned for the
// format.
func (f PCMFormat) Validate(data []byte) error {
	if len(data) == 0 {
		return errors.New("empty PCM data")
	}
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return fmt.Errorf("invalid format %+v", f)
	}
	if len(data)%bpf != 0 {
		return fmt.Errorf("PCM data length %d is not aligned to %d-byte frames", len(data), bpf)
	}
	return nil
}

// Chunk is one decoded audio fragment of a voice response, positioned
// by its producer-assigned sequence id.
type Chunk struct {
	ID     int
	PCM    []byte
	Format PCMFormat
	Text   string
}

// Duration returns the chunk's playback time.
func (c *Chunk) Duration() time.Duration {
	return c.Format.Duration(len(c.PCM))
}

// wavHeader is the canonical 44-byte RIFF/WAVE header for PCM data.
type wavHeader struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	Subchunk1ID   [4]byte
	Subchunk1Size uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	Subchunk2ID   [4]byte
	Subchunk2Size uint32
}

const wavHeaderSize = 44

// DecodeWAV extracts raw PCM and its format from a canonical WAV
// payload. Only uncompressed 16-bit PCM is accepted.
func DecodeWAV(data []byte) ([]byte, PCMFormat, error) {
	var format PCMFormat
	if len(data) < wavHeaderSize {
		return nil, format, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", wavHeaderSize, len(data))
	}

	var header wavHeader
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return nil, format, fmt.Errorf("read WAV header: %w", err)
	}

	switch {
	case string(header.ChunkID[:]) != "RIFF":
		return nil, format, errors.New("invalid WAV: missing RIFF header")
	case string(header.Format[:]) != "WAVE":
		return nil, format, errors.New("invalid WAV: missing WAVE format")
	case string(header.Subchunk1ID[:]) != "fmt ":
		return nil, format, errors.New("invalid WAV: missing fmt chunk")
	case string(header.Subchunk2ID[:]) != "data":
		return nil, format, errors.New("invalid WAV: missing data chunk")
	case header.AudioFormat != 1:
		return nil, format, fmt.Errorf("unsupported audio format %d, only PCM", header.AudioFormat)
	case header.BitsPerSample != 16:
		return nil, format, fmt.Errorf("unsupported bit depth %d, only 16-bit", header.BitsPerSample)
	}

	format = PCMFormat{
		SampleRate: int(header.SampleRate),
		Channels:   int(header.NumChannels),
		BitDepth:   int(header.BitsPerSample),
	}

	pcm := data[wavHeaderSize:]
	if int(header.Subchunk2Size) < len(pcm) {
		pcm = pcm[:header.Subchunk2Size]
	}
	if err := format.Validate(pcm); err != nil {
		return nil, format, err
	}
	return pcm, format, nil
}

// EncodeWAV wraps raw PCM in a canonical WAV header.
func EncodeWAV(pcm []byte, format PCMFormat) ([]byte, error) {
	if err := format.Validate(pcm); err != nil {
		return nil, err
	}

	header := wavHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: 16,
		AudioFormat:   1,
		NumChannels:   uint16(format.Channels),
		SampleRate:    uint32(format.SampleRate),
		ByteRate:      uint32(format.SampleRate * format.BytesPerFrame()),
		BlockAlign:    uint16(format.BytesPerFrame()),
		BitsPerSample: uint16(format.BitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("write WAV header: %w", err)
	}
	buf.Write(pcm)
	return buf.Bytes(), nil
}
