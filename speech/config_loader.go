package speech

import (
	"fmt"

	"github.com/spf13/viper"
)

// LoadConfigFromViper overlays values from the loaded viper config onto
// the defaults. Only keys the user actually set are applied, so zero
// values in the file do not clobber defaults.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("speech.base_url") {
		cfg.BaseURL = viper.GetString("speech.base_url")
	}
	if viper.IsSet("speech.api_key") {
		cfg.APIKey = viper.GetString("speech.api_key")
	}
	if viper.IsSet("speech.chunk_timeout") {
		cfg.ChunkTimeout = viper.GetDuration("speech.chunk_timeout")
	}
	if viper.IsSet("speech.sample_rate") {
		cfg.SampleRate = viper.GetInt("speech.sample_rate")
	}
	if viper.IsSet("speech.inter_chunk_gap") {
		cfg.InterChunkGap = viper.GetDuration("speech.inter_chunk_gap")
	}
	if viper.IsSet("speech.max_chunk_size") {
		cfg.MaxChunkSize = viper.GetInt("speech.max_chunk_size")
	}
	if viper.IsSet("speech.min_clip_bytes") {
		cfg.MinClipBytes = viper.GetInt("speech.min_clip_bytes")
	}
	if viper.IsSet("speech.synth_cache_bytes") {
		cfg.SynthCacheBytes = viper.GetInt64("speech.synth_cache_bytes")
	}
	if viper.IsSet("speech.event_buffer") {
		cfg.EventBuffer = viper.GetInt("speech.event_buffer")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid speech configuration: %w", err)
	}
	return cfg, nil
}
