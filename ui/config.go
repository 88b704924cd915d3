package ui

// Config contains TUI-specific configuration.
type Config struct {
	GlamourMaxWidth uint
	GlamourStyle    string `env:"GLAMOUR_STYLE"`
	EnableMouse     bool

	// ClipPath is a WAV file submitted in place of microphone input
	// when capture ends. Empty disables the talk binding.
	ClipPath string `env:"VOCALIS_CLIP"`

	// For debugging the UI
	GlamourEnabled bool `env:"VOCALIS_ENABLE_GLAMOUR" envDefault:"true"`
}
