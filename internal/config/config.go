// Package config provides configuration management for the avatar chat service
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Lipsync provider identifiers understood by the synthesis service. Any
// other value is decoded with the default response shape.
const (
	LipsyncDefault     = "lip_3"
	LipsyncAmazonPolly = "amazon_polly"
	LipsyncLip5        = "lip_5"
)

// Playback clocks. ClockLocal ends chunks on the server's timer,
// ClockRenderer waits for the renderer's ended message.
const (
	ClockLocal    = "local"
	ClockRenderer = "renderer"
)

// Config holds all application configuration
type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Synthesis SynthesisConfig `mapstructure:"synthesis" yaml:"synthesis"`
	Chunker   ChunkerConfig   `mapstructure:"chunker" yaml:"chunker"`
	Avatar    AvatarConfig    `mapstructure:"avatar" yaml:"avatar"`
	Animation AnimationConfig `mapstructure:"animation" yaml:"animation"`
	Blink     BlinkConfig     `mapstructure:"blink" yaml:"blink"`
}

// LoggingConfig configures the zerolog sinks
type LoggingConfig struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Dir        string `mapstructure:"dir" yaml:"dir"`
	Console    bool   `mapstructure:"console" yaml:"console"`
	MaxHistory int    `mapstructure:"max_history" yaml:"max_history"`
}

// ServerConfig configures the HTTP and websocket surface
type ServerConfig struct {
	Addr           string        `mapstructure:"addr" yaml:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// SynthesisConfig configures the remote speech + viseme service
type SynthesisConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Lip5URL    string `mapstructure:"lip5_url" yaml:"lip5_url"`
	APIKey     string `mapstructure:"api_key" yaml:"api_key"`
	VoiceID    string `mapstructure:"voice_id" yaml:"voice_id"`
	VoiceAPI   string `mapstructure:"voice_api" yaml:"voice_api"`
	LipsyncAPI string `mapstructure:"lipsync_api" yaml:"lipsync_api"` // lip_3, amazon_polly, lip_5
	Language   string `mapstructure:"language" yaml:"language"`
	Preset     string `mapstructure:"preset" yaml:"preset"`
	// Delay between issuing consecutive fragment requests.
	RequestInterval time.Duration `mapstructure:"request_interval" yaml:"request_interval"`
	// Zero means no per-request deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
}

// ChunkerConfig configures fragment splitting
type ChunkerConfig struct {
	Delimiter    string `mapstructure:"delimiter" yaml:"delimiter"`
	DenylistFile string `mapstructure:"denylist_file" yaml:"denylist_file"`
	Watch        bool   `mapstructure:"watch" yaml:"watch"`
}

// AvatarConfig selects the displayed model
type AvatarConfig struct {
	Profile      string `mapstructure:"profile" yaml:"profile"`
	ProfilesFile string `mapstructure:"profiles_file" yaml:"profiles_file"`
	ModelPath    string `mapstructure:"model_path" yaml:"model_path"`
	// PlaybackClock is local or renderer.
	PlaybackClock string `mapstructure:"playback_clock" yaml:"playback_clock"`
}

// AnimationConfig holds the viseme smoothing and body cross-fade parameters
type AnimationConfig struct {
	AttackRate      float64       `mapstructure:"attack_rate" yaml:"attack_rate"`
	ReleaseRate     float64       `mapstructure:"release_rate" yaml:"release_rate"`
	IdleReleaseRate float64       `mapstructure:"idle_release_rate" yaml:"idle_release_rate"`
	Gain            float64       `mapstructure:"gain" yaml:"gain"`
	Amplitude       float64       `mapstructure:"amplitude" yaml:"amplitude"`
	SnapEpsilon     float64       `mapstructure:"snap_epsilon" yaml:"snap_epsilon"`
	CrossFade       time.Duration `mapstructure:"cross_fade" yaml:"cross_fade"`
	FrameRate       int           `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// BlinkConfig holds the blink scheduler parameters
type BlinkConfig struct {
	MinGap   time.Duration `mapstructure:"min_gap" yaml:"min_gap"`
	MaxGap   time.Duration `mapstructure:"max_gap" yaml:"max_gap"`
	Closed   time.Duration `mapstructure:"closed" yaml:"closed"`
	LerpRate float64       `mapstructure:"lerp_rate" yaml:"lerp_rate"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			Console:    true,
			MaxHistory: 500,
		},
		Server: ServerConfig{
			Addr:         "127.0.0.1:8090",
			WriteTimeout: 10 * time.Second,
		},
		Synthesis: SynthesisConfig{
			BaseURL:         "http://localhost:8000",
			Lip5URL:         "http://localhost:5000/tts",
			VoiceID:         "EXAVITQu4vr4xnSDxMaL",
			VoiceAPI:        "tts1",
			LipsyncAPI:      LipsyncDefault,
			Language:        "en",
			Preset:          "ultra_fast",
			RequestInterval: 1 * time.Second,
		},
		Chunker: ChunkerConfig{
			Delimiter: ". ",
			Watch:     true,
		},
		Avatar: AvatarConfig{
			Profile:       "nikita",
			PlaybackClock: ClockLocal,
		},
		Animation: AnimationConfig{
			AttackRate:      0.2,
			ReleaseRate:     0.1,
			IdleReleaseRate: 0.1,
			Gain:            1.5,
			Amplitude:       1.0,
			SnapEpsilon:     0.001,
			CrossFade:       500 * time.Millisecond,
			FrameRate:       60,
		},
		Blink: BlinkConfig{
			MinGap:   2 * time.Second,
			MaxGap:   4 * time.Second,
			Closed:   100 * time.Millisecond,
			LerpRate: 0.2,
		},
	}
}

// Validate rejects configurations the runtime cannot honour.
func (c *Config) Validate() error {
	var errs []error

	if c.Synthesis.LipsyncAPI == "" {
		errs = append(errs, errors.New("synthesis.lipsync_api is required"))
	}
	if c.Synthesis.RequestInterval < 0 {
		errs = append(errs, errors.New("synthesis.request_interval must not be negative"))
	}
	if c.Synthesis.RequestTimeout < 0 {
		errs = append(errs, errors.New("synthesis.request_timeout must not be negative"))
	}
	if c.Chunker.Delimiter == "" {
		errs = append(errs, errors.New("chunker.delimiter is required"))
	}
	switch c.Avatar.PlaybackClock {
	case ClockLocal, ClockRenderer:
	default:
		errs = append(errs, fmt.Errorf("avatar.playback_clock must be %q or %q, got %q", ClockLocal, ClockRenderer, c.Avatar.PlaybackClock))
	}

	rates := map[string]float64{
		"animation.attack_rate":       c.Animation.AttackRate,
		"animation.release_rate":      c.Animation.ReleaseRate,
		"animation.idle_release_rate": c.Animation.IdleReleaseRate,
		"blink.lerp_rate":             c.Blink.LerpRate,
	}
	for name, r := range rates {
		if r <= 0 || r > 1 {
			errs = append(errs, fmt.Errorf("%s must be in (0,1], got %v", name, r))
		}
	}
	if c.Animation.Gain <= 0 {
		errs = append(errs, errors.New("animation.gain must be positive"))
	}
	if c.Animation.FrameRate <= 0 {
		errs = append(errs, errors.New("animation.frame_rate must be positive"))
	}

	if c.Blink.MinGap <= 0 || c.Blink.MaxGap <= c.Blink.MinGap {
		errs = append(errs, fmt.Errorf("blink gap range [%v,%v) is empty", c.Blink.MinGap, c.Blink.MaxGap))
	}
	if c.Blink.Closed <= 0 {
		errs = append(errs, errors.New("blink.closed must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from file and environment. An empty path searches
// the config directory and the working directory; a missing file is created
// with defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := Dir()
		if err != nil {
			return cfg, err
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("AVATARCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{
		"server.addr",
		"synthesis.base_url",
		"synthesis.lip5_url",
		"synthesis.api_key",
		"synthesis.lipsync_api",
		"synthesis.language",
		"avatar.profile",
		"logging.level",
	} {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}

	if cfg.Synthesis.APIKey == "" {
		cfg.Synthesis.APIKey = os.Getenv("DUBBING_API_KEY")
	}

	return cfg, cfg.Validate()
}

// Save writes the configuration to the config directory
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}
	return SaveAs(cfg, filepath.Join(configDir, "config.yaml"))
}

// SaveAs writes the configuration to path.
func SaveAs(cfg *Config, path string) error {
	v := viper.New()
	v.Set("logging", cfg.Logging)
	v.Set("server", cfg.Server)
	v.Set("synthesis", cfg.Synthesis)
	v.Set("chunker", cfg.Chunker)
	v.Set("avatar", cfg.Avatar)
	v.Set("animation", cfg.Animation)
	v.Set("blink", cfg.Blink)
	return v.WriteConfigAs(path)
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".avatarchat"), nil
}
