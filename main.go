// Package main provides the entry point for the Vocalis voice client.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
	gap "github.com/muesli/go-app-paths"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/vocalis-ai/vocalis/internal/metrics"
	"github.com/vocalis-ai/vocalis/speech"
	"github.com/vocalis-ai/vocalis/speech/audio"
	"github.com/vocalis-ai/vocalis/speech/transport"
	"github.com/vocalis-ai/vocalis/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile  string
	serverURL   string
	apiKey      string
	style       string
	width       uint
	mouse       bool
	clipPath    string
	metricsAddr string

	rootCmd = &cobra.Command{
		Use:   "vocalis",
		Short: "Talk with an AI assistant from your terminal",
		Long: "\nVocalis streams a spoken conversation with an AI backend: your\n" +
			"voice goes up, text and audio chunks come back, and playback stays\n" +
			"in order no matter how the network delivers them.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return validateOptions(cmd)
		},
		RunE: func(*cobra.Command, []string) error {
			return runTUI()
		},
	}

	speakCmd = &cobra.Command{
		Use:   "speak [text]",
		Short: "Synthesize text and play it without the TUI",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runSpeak(strings.Join(args, " "))
		},
	}
)

// expandPath expands a tilde prefix and environment variables in path.
func expandPath(path string) string {
	s, err := homedir.Expand(path)
	if err != nil {
		return os.ExpandEnv(path)
	}
	return os.ExpandEnv(s)
}

// validateStyle checks if the style is a default style, if not, checks
// that the custom style file exists.
func validateStyle(style string) error {
	if style == "" || style == styles.AutoStyle {
		return nil
	}
	if styles.DefaultStyles[style] != nil {
		return nil
	}
	if _, err := os.Stat(expandPath(style)); err != nil {
		return fmt.Errorf("specified style does not exist: %s", style)
	}
	return nil
}

func validateOptions(cmd *cobra.Command) error {
	width = viper.GetUint("width")
	mouse = viper.GetBool("mouse")
	if clipPath = viper.GetString("clip"); clipPath != "" {
		clipPath = expandPath(clipPath)
	}

	style = viper.GetString("style")
	if err := validateStyle(style); err != nil {
		return err
	}

	isTerminal := term.IsTerminal(int(os.Stdout.Fd()))
	if !isTerminal && !cmd.Flags().Changed("style") {
		style = "notty"
	}

	// Detect terminal width
	if !cmd.Flags().Changed("width") { //nolint:nestif
		if isTerminal && width == 0 {
			w, _, err := term.GetSize(int(os.Stdout.Fd()))
			if err == nil {
				width = uint(w) //nolint:gosec
			}
			if width > 120 {
				width = 120
			}
		}
		if width == 0 {
			width = 80
		}
	}
	return nil
}

// buildSession assembles the transport, audio device, and metrics into
// a ready session. The returned closer tears all of it down.
func buildSession() (*speech.Session, func(), error) {
	cfg, err := speech.LoadConfigFromViper()
	if err != nil {
		return nil, nil, err
	}
	if serverURL != "" {
		cfg.BaseURL = serverURL
	}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}

	logger := log.Default()

	client, err := transport.NewClient(transport.Config{
		BaseURL:      cfg.BaseURL,
		APIKey:       cfg.APIKey,
		ChunkTimeout: cfg.ChunkTimeout,
		Logger:       logger,
	})
	if err != nil {
		return nil, nil, err
	}

	device, err := audio.NewDevice(audio.PCMFormat{
		SampleRate: cfg.SampleRate,
		Channels:   1,
		BitDepth:   16,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open audio device: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if metricsAddr != "" {
		go serveMetrics(metricsAddr, reg)
	}

	session, err := speech.NewSession(cfg, client, device, logger, m)
	if err != nil {
		_ = device.Close()
		return nil, nil, err
	}

	closer := func() {
		_ = session.Close()
		_ = device.Close()
	}
	return session, closer, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics listener failed", "addr", addr, "error", err)
	}
}

func runTUI() error {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return errors.New("the TUI needs a terminal; use `vocalis speak` for scripted output")
	}

	// Read environment to get debugging stuff
	cfg, err := env.ParseAs[ui.Config]()
	if err != nil {
		return fmt.Errorf("error parsing config: %v", err)
	}

	// use style set in env, or the flag/config value if unset
	if err := validateStyle(cfg.GlamourStyle); err != nil {
		cfg.GlamourStyle = style
	}
	if cfg.GlamourStyle == "" {
		cfg.GlamourStyle = style
	}
	if cfg.GlamourStyle == styles.AutoStyle {
		cfg.GlamourStyle = ""
	}
	cfg.GlamourMaxWidth = width
	cfg.EnableMouse = mouse
	if cfg.ClipPath == "" {
		cfg.ClipPath = clipPath
	}

	session, closer, err := buildSession()
	if err != nil {
		return err
	}
	defer closer()

	if _, err := ui.NewProgram(session, cfg).Run(); err != nil {
		return fmt.Errorf("unable to run tui program: %w", err)
	}
	return nil
}

func runSpeak(text string) error {
	session, closer, err := buildSession()
	if err != nil {
		return err
	}
	defer closer()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := session.Speak(ctx, text); err != nil {
		return err
	}

	done := false
	for !done {
		select {
		case <-ctx.Done():
			session.StopAudio()
			return ctx.Err()
		case e, ok := <-session.Events():
			if !ok {
				return nil
			}
			switch e.Kind {
			case speech.EventError:
				return errors.New(e.Message)
			case speech.EventComplete:
				done = true
			}
		}
	}

	// Synthesis is done; let playback drain before tearing down.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for session.State() != speech.StateIdle {
		select {
		case <-ctx.Done():
			session.StopAudio()
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func main() {
	closer, err := setupLog()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		_ = closer()
		os.Exit(1)
	}
	_ = closer()
}

func init() {
	// A local .env is the easiest place for VOCALIS_API_KEY.
	_ = godotenv.Load()
	tryLoadConfigFromDefaultPlaces()

	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
	if Version == "" {
		Version = "unknown (built from source)"
	}
	rootCmd.Version = Version
	rootCmd.InitDefaultCompletionCmd()

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", fmt.Sprintf("config file (default %s)", viper.GetViper().ConfigFileUsed()))
	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "u", "", "backend base URL")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "backend API key (prefer VOCALIS_API_KEY)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	rootCmd.Flags().StringVarP(&style, "style", "s", styles.AutoStyle, "style name or JSON path")
	rootCmd.Flags().UintVarP(&width, "width", "w", 0, "word-wrap at width (set to 0 to disable)")
	rootCmd.Flags().BoolVarP(&mouse, "mouse", "m", false, "enable mouse wheel")
	_ = rootCmd.Flags().MarkHidden("mouse")
	rootCmd.Flags().StringVarP(&clipPath, "clip", "c", "", "WAV file submitted when capture ends")

	// Config bindings
	_ = viper.BindPFlag("style", rootCmd.Flags().Lookup("style"))
	_ = viper.BindPFlag("width", rootCmd.Flags().Lookup("width"))
	_ = viper.BindPFlag("mouse", rootCmd.Flags().Lookup("mouse"))
	_ = viper.BindPFlag("clip", rootCmd.Flags().Lookup("clip"))

	viper.SetDefault("style", styles.AutoStyle)
	viper.SetDefault("width", 0)
	viper.SetDefault("mouse", false)

	rootCmd.AddCommand(configCmd, speakCmd, manCmd)
}

func tryLoadConfigFromDefaultPlaces() {
	scope := gap.NewScope(gap.User, "vocalis")
	dirs, err := scope.ConfigDirs()
	if err != nil {
		fmt.Println("Could not find a configuration directory.")
		os.Exit(1)
	}

	if c := os.Getenv("XDG_CONFIG_HOME"); c != "" {
		dirs = append([]string{filepath.Join(c, "vocalis")}, dirs...)
	}

	if c := os.Getenv("VOCALIS_CONFIG_HOME"); c != "" {
		dirs = append([]string{c}, dirs...)
	}

	for _, v := range dirs {
		viper.AddConfigPath(v)
	}

	viper.SetConfigName("vocalis")
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("vocalis")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn("Could not parse configuration file", "err", err)
		}
	}

	if used := viper.ConfigFileUsed(); used != "" {
		log.Debug("Using configuration file", "path", used)
		return
	}

	configFile = filepath.Join(dirs[0], "vocalis.yml")
	if err := ensureConfigFile(); err != nil {
		log.Error("Could not create default configuration", "error", err)
	}
}
