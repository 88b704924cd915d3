package speech

import (
	"fmt"
	"time"
)

// Config contains all voice session configuration options.
type Config struct {
	// Backend settings
	BaseURL      string        `yaml:"base_url" env:"VOCALIS_BASE_URL"`
	APIKey       string        `yaml:"api_key" env:"VOCALIS_API_KEY"`
	ChunkTimeout time.Duration `yaml:"chunk_timeout" env:"VOCALIS_CHUNK_TIMEOUT" envDefault:"5s"`

	// Audio settings
	SampleRate    int           `yaml:"sample_rate" env:"VOCALIS_SAMPLE_RATE" envDefault:"24000"`
	InterChunkGap time.Duration `yaml:"inter_chunk_gap" env:"VOCALIS_INTER_CHUNK_GAP" envDefault:"30ms"`

	// Text chunking settings
	MaxChunkSize int `yaml:"max_chunk_size" env:"VOCALIS_MAX_CHUNK_SIZE" envDefault:"280"`

	// Capture settings
	MinClipBytes int `yaml:"min_clip_bytes" env:"VOCALIS_MIN_CLIP_BYTES" envDefault:"3200"`

	// Synthesis cache size in bytes; 0 disables caching.
	SynthCacheBytes int64 `yaml:"synth_cache_bytes" env:"VOCALIS_SYNTH_CACHE_BYTES" envDefault:"8388608"`

	// Event delivery
	EventBuffer int `yaml:"event_buffer" env:"VOCALIS_EVENT_BUFFER" envDefault:"64"`
}

// DefaultConfig returns the default session configuration.
func DefaultConfig() Config {
	return Config{
		ChunkTimeout:    5 * time.Second,
		SampleRate:      24000,
		InterChunkGap:   30 * time.Millisecond,
		MaxChunkSize:    280,
		MinClipBytes:    3200,
		SynthCacheBytes: 8 << 20,
		EventBuffer:     64,
	}
}

// Validate checks the configuration for usable values.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base_url", ErrMissingConfig)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("%w: sample_rate %d", ErrInvalidConfig, c.SampleRate)
	}
	if c.MaxChunkSize <= 0 {
		return fmt.Errorf("%w: max_chunk_size %d", ErrInvalidConfig, c.MaxChunkSize)
	}
	if c.ChunkTimeout <= 0 {
		return fmt.Errorf("%w: chunk_timeout %s", ErrInvalidConfig, c.ChunkTimeout)
	}
	if c.InterChunkGap < 0 {
		return fmt.Errorf("%w: inter_chunk_gap %s", ErrInvalidConfig, c.InterChunkGap)
	}
	if c.SynthCacheBytes < 0 {
		return fmt.Errorf("%w: synth_cache_bytes %d", ErrInvalidConfig, c.SynthCacheBytes)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("%w: event_buffer %d", ErrInvalidConfig, c.EventBuffer)
	}
	return nil
}
