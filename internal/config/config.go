// Package config provides the configuration structure for the read-aloud
// service and command-line tool.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/book-expert/configurator"
	"github.com/book-expert/logger"
	"github.com/pelletier/go-toml/v2"

	"github.com/book-expert/readaloud/internal/core"
	"github.com/book-expert/readaloud/internal/ui"
)

// Synthesizer backends.
const (
	BackendHTTP    = "http"
	BackendCommand = "command"
)

// Defaults applied to unset fields.
const (
	DefaultSiteName                 = "docs"
	DefaultNATSURL                  = "nats://127.0.0.1:4222"
	DefaultReadSubject              = "readaloud.read"
	DefaultControlSubject           = "readaloud.control"
	DefaultAudioChunkCreatedSubject = "audio.chunk.created"
	DefaultPageBucket               = "PAGES"
	DefaultAudioBucket              = "AUDIO_FILES"
	DefaultServiceURL               = "http://127.0.0.1:8000"
	DefaultTimeoutSeconds           = 60
	DefaultMaxChunkLength           = 500
	DefaultVoiceWaitMillis          = 2000
	DefaultWarmupMillis             = 100
	DefaultAnnounceClearMillis      = 1000
	DefaultReadTimeoutSeconds       = 600
	DefaultViewportHeight           = 800
	DefaultFontSize                 = 16
	DefaultMetricsAddress           = ":9090"
)

// Validation errors.
var (
	ErrUnknownBackend      = errors.New("unknown synthesizer backend")
	ErrServiceURLEmpty     = errors.New("synthesizer service_url cannot be empty")
	ErrCommandEmpty        = errors.New("synthesizer command cannot be empty")
	ErrTemperatureRange    = errors.New("temperature must be >= 0.0")
	ErrNonPositiveSetting  = errors.New("setting must be positive")
	ErrMetricsAddressEmpty = errors.New("metrics address cannot be empty")
)

// SiteConfig identifies the documentation site being read.
type SiteConfig struct {
	Name string `toml:"name"`
}

// NATSConfig holds the configuration for NATS.
type NATSConfig struct {
	URL                      string `toml:"url"`
	ReadSubject              string `toml:"read_subject"`
	ControlSubject           string `toml:"control_subject"`
	AudioChunkCreatedSubject string `toml:"audio_chunk_created_subject"`
	PageObjectStoreBucket    string `toml:"page_object_store_bucket"`
	AudioObjectStoreBucket   string `toml:"audio_object_store_bucket"`
}

// VoiceConfig declares a voice offered by a command synthesizer.
type VoiceConfig struct {
	Name string `toml:"name"`
	Lang string `toml:"lang"`
	URI  string `toml:"uri"`
}

// SynthesizerConfig selects and configures the speech backend.
type SynthesizerConfig struct {
	Backend        string        `toml:"backend"`
	ServiceURL     string        `toml:"service_url"`
	Language       string        `toml:"language"`
	Temperature    float64       `toml:"temperature"`
	TimeoutSeconds int           `toml:"timeout_seconds"`
	Command        string        `toml:"command"`
	Args           []string      `toml:"args"`
	Voices         []VoiceConfig `toml:"voices"`
}

// PlayerConfig tunes playback.
type PlayerConfig struct {
	MaxChunkLength      int `toml:"max_chunk_length"`
	VoiceWaitMillis     int `toml:"voice_wait_ms"`
	WarmupMillis        int `toml:"warmup_ms"`
	AnnounceClearMillis int `toml:"announce_clear_ms"`
	ReadTimeoutSeconds  int `toml:"read_timeout_seconds"`
}

// AccessibilityConfig holds the preferences the reading ruler depends on and
// the viewport it is laid out in.
type AccessibilityConfig struct {
	TextSize       string  `toml:"text_size"`
	LineHeight     string  `toml:"line_height"`
	ReadingRuler   bool    `toml:"reading_ruler"`
	ViewportHeight float64 `toml:"viewport_height"`
	FontSize       float64 `toml:"font_size"`
}

// PathsConfig holds the configuration for file paths.
type PathsConfig struct {
	BaseLogsDir string `toml:"base_logs_dir"`
	OutputDir   string `toml:"output_dir"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
}

// Config is the root configuration structure.
type Config struct {
	Site          SiteConfig          `toml:"site"`
	NATS          NATSConfig          `toml:"nats"`
	Synthesizer   SynthesizerConfig   `toml:"synthesizer"`
	Player        PlayerConfig        `toml:"player"`
	Accessibility AccessibilityConfig `toml:"accessibility"`
	Paths         PathsConfig         `toml:"paths"`
	Metrics       MetricsConfig       `toml:"metrics"`
}

// Load loads the service configuration through the central configurator.
func Load(log *logger.Logger) (*Config, error) {
	var cfg Config

	err := configurator.Load(&cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration from configurator: %w", err)
	}

	return finish(&cfg)
}

// LoadFile reads a TOML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return Parse(data)
}

// Parse decodes TOML data. Missing settings take their defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config

	err := toml.Unmarshal(data, &cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	return finish(&cfg)
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	var cfg Config

	cfg.ApplyDefaults()

	return &cfg
}

func finish(cfg *Config) (*Config, error) {
	cfg.ApplyDefaults()

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	setDefault(&c.Site.Name, DefaultSiteName)

	setDefault(&c.NATS.URL, DefaultNATSURL)
	setDefault(&c.NATS.ReadSubject, DefaultReadSubject)
	setDefault(&c.NATS.ControlSubject, DefaultControlSubject)
	setDefault(&c.NATS.AudioChunkCreatedSubject, DefaultAudioChunkCreatedSubject)
	setDefault(&c.NATS.PageObjectStoreBucket, DefaultPageBucket)
	setDefault(&c.NATS.AudioObjectStoreBucket, DefaultAudioBucket)

	setDefault(&c.Synthesizer.Backend, BackendHTTP)
	setDefault(&c.Synthesizer.TimeoutSeconds, DefaultTimeoutSeconds)

	if c.Synthesizer.Backend == BackendHTTP {
		setDefault(&c.Synthesizer.ServiceURL, DefaultServiceURL)
	}

	setDefault(&c.Player.MaxChunkLength, DefaultMaxChunkLength)
	setDefault(&c.Player.VoiceWaitMillis, DefaultVoiceWaitMillis)
	setDefault(&c.Player.WarmupMillis, DefaultWarmupMillis)
	setDefault(&c.Player.AnnounceClearMillis, DefaultAnnounceClearMillis)
	setDefault(&c.Player.ReadTimeoutSeconds, DefaultReadTimeoutSeconds)

	setDefault(&c.Accessibility.ViewportHeight, DefaultViewportHeight)
	setDefault(&c.Accessibility.FontSize, DefaultFontSize)

	setDefault(&c.Paths.BaseLogsDir, os.TempDir())
	setDefault(&c.Metrics.Address, DefaultMetricsAddress)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks backend selection and numeric ranges.
func (c *Config) Validate() error {
	switch c.Synthesizer.Backend {
	case BackendHTTP:
		if c.Synthesizer.ServiceURL == "" {
			return ErrServiceURLEmpty
		}
	case BackendCommand:
		if c.Synthesizer.Command == "" {
			return ErrCommandEmpty
		}
	default:
		return fmt.Errorf("%w: '%s'", ErrUnknownBackend, c.Synthesizer.Backend)
	}

	if c.Synthesizer.Temperature < 0 {
		return fmt.Errorf("%w: got %f", ErrTemperatureRange, c.Synthesizer.Temperature)
	}

	positive := map[string]float64{
		"synthesizer.timeout_seconds":   float64(c.Synthesizer.TimeoutSeconds),
		"player.max_chunk_length":       float64(c.Player.MaxChunkLength),
		"player.voice_wait_ms":          float64(c.Player.VoiceWaitMillis),
		"player.warmup_ms":              float64(c.Player.WarmupMillis),
		"player.announce_clear_ms":      float64(c.Player.AnnounceClearMillis),
		"player.read_timeout_seconds":   float64(c.Player.ReadTimeoutSeconds),
		"accessibility.viewport_height": c.Accessibility.ViewportHeight,
		"accessibility.font_size":       c.Accessibility.FontSize,
	}

	for name, value := range positive {
		if value <= 0 {
			return fmt.Errorf("%w: %s got %v", ErrNonPositiveSetting, name, value)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return ErrMetricsAddressEmpty
	}

	return nil
}

// Timeout is the synthesizer request timeout.
func (s SynthesizerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// CoreVoices converts the configured voices.
func (s SynthesizerConfig) CoreVoices() []core.Voice {
	voices := make([]core.Voice, 0, len(s.Voices))
	for _, v := range s.Voices {
		voices = append(voices, core.Voice{Name: v.Name, Lang: v.Lang, URI: v.URI})
	}

	return voices
}

// VoiceWait bounds the wait for the voice list.
func (p PlayerConfig) VoiceWait() time.Duration {
	return time.Duration(p.VoiceWaitMillis) * time.Millisecond
}

// Warmup is the pause after the controller is built.
func (p PlayerConfig) Warmup() time.Duration {
	return time.Duration(p.WarmupMillis) * time.Millisecond
}

// AnnounceClear is how long an announcement stays in the live region.
func (p PlayerConfig) AnnounceClear() time.Duration {
	return time.Duration(p.AnnounceClearMillis) * time.Millisecond
}

// ReadTimeout bounds one page read handled by the worker.
func (p PlayerConfig) ReadTimeout() time.Duration {
	return time.Duration(p.ReadTimeoutSeconds) * time.Second
}

// Preferences returns the ruler preferences.
func (a AccessibilityConfig) Preferences() ui.Preferences {
	return ui.Preferences{
		TextSize:     a.TextSize,
		LineHeight:   a.LineHeight,
		ReadingRuler: a.ReadingRuler,
	}
}
