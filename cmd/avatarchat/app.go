package main

import (
	"fmt"
	"maps"

	"github.com/rs/zerolog"

	"github.com/WachasWps/AI-Avatar-Chat/internal/audio"
	"github.com/WachasWps/AI-Avatar-Chat/internal/avatar3d"
	"github.com/WachasWps/AI-Avatar-Chat/internal/bus"
	"github.com/WachasWps/AI-Avatar-Chat/internal/chunker"
	"github.com/WachasWps/AI-Avatar-Chat/internal/config"
	"github.com/WachasWps/AI-Avatar-Chat/internal/engine"
	"github.com/WachasWps/AI-Avatar-Chat/internal/fetcher"
	"github.com/WachasWps/AI-Avatar-Chat/internal/logging"
	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

// app is the wired speech pipeline shared by serve and speak.
type app struct {
	cfg      *config.Config
	log      *logging.Logger
	bus      *bus.EventBus
	metrics  *metrics.Metrics
	chunker  *chunker.Chunker
	client   *tts.Client
	profiles map[string]*avatar3d.Profile
	profile  *avatar3d.Profile
	engine   *engine.Engine
}

func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	log, err := logging.New(&logging.Config{
		Dir:        cfg.Logging.Dir,
		Level:      logging.LogLevel(cfg.Logging.Level),
		MaxHistory: cfg.Logging.MaxHistory,
		Console:    cfg.Logging.Console,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	return cfg, log, nil
}

// loadProfiles returns the builtin profiles overlaid with the configured
// profiles file.
func loadProfiles(cfg *config.Config) (map[string]*avatar3d.Profile, error) {
	profiles := avatar3d.BuiltinProfiles()
	if cfg.Avatar.ProfilesFile == "" {
		return profiles, nil
	}
	extra, err := avatar3d.LoadProfiles(cfg.Avatar.ProfilesFile)
	if err != nil {
		return nil, err
	}
	maps.Copy(profiles, extra)
	return profiles, nil
}

func loadDenylist(cfg *config.Config, logger zerolog.Logger) *chunker.Denylist {
	if cfg.Chunker.DenylistFile == "" {
		return chunker.DefaultDenylist()
	}
	d, err := chunker.LoadDenylist(cfg.Chunker.DenylistFile)
	if err != nil {
		logger.Warn().Err(err).Msg("Using default denylist")
		return chunker.DefaultDenylist()
	}
	return d
}

func newApp(cfg *config.Config, log *logging.Logger) (*app, error) {
	logger := log.Zerolog()

	profiles, err := loadProfiles(cfg)
	if err != nil {
		return nil, err
	}
	selector := cfg.Avatar.Profile
	if cfg.Avatar.ModelPath != "" && selector == "" {
		selector = cfg.Avatar.ModelPath
	}
	profile, err := avatar3d.LookupProfile(selector, profiles)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		bus:      bus.NewEventBus(),
		metrics:  metrics.New("avatarchat"),
		profiles: profiles,
		profile:  profile,
	}

	a.chunker = chunker.New(cfg.Chunker.Delimiter, loadDenylist(cfg, logger), logger)
	a.client = tts.NewClient(logger, &tts.ClientConfig{
		BaseURL:    cfg.Synthesis.BaseURL,
		Lip5URL:    cfg.Synthesis.Lip5URL,
		APIKey:     cfg.Synthesis.APIKey,
		VoiceID:    cfg.Synthesis.VoiceID,
		VoiceAPI:   cfg.Synthesis.VoiceAPI,
		LipsyncAPI: cfg.Synthesis.LipsyncAPI,
		Language:   cfg.Synthesis.Language,
		Preset:     cfg.Synthesis.Preset,
		Gender:     profile.Gender,
	})
	f := fetcher.New(a.client, fetcher.Config{
		Interval: cfg.Synthesis.RequestInterval,
		Timeout:  cfg.Synthesis.RequestTimeout,
	}, a.metrics, logger)

	player := audio.NewClockPlayer(nil, logger)
	if cfg.Avatar.PlaybackClock == config.ClockRenderer {
		player = audio.NewRendererPlayer(nil, logger)
	}

	a.engine, err = engine.New(logger, engineConfig(cfg), profile, engine.Deps{
		Chunker:    a.chunker,
		Dispatcher: f,
		Player:     player,
		Voice:      a.client,
		Bus:        a.bus,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, err
	}

	logger.Info().
		Str("profile", profile.Name).
		Str("provider", a.client.Name()).
		Str("endpoint", a.client.Endpoint()).
		Str("clock", cfg.Avatar.PlaybackClock).
		Msg("Speech pipeline ready")
	return a, nil
}

func engineConfig(cfg *config.Config) engine.Config {
	an := cfg.Animation
	return engine.Config{
		Animation: avatar3d.AnimatorParams{
			AttackRate:      float32(an.AttackRate),
			ReleaseRate:     float32(an.ReleaseRate),
			IdleReleaseRate: float32(an.IdleReleaseRate),
			Gain:            float32(an.Gain),
			Amplitude:       float32(an.Amplitude),
			SnapEpsilon:     float32(an.SnapEpsilon),
		},
		Blink: avatar3d.BlinkParams{
			MinGap:   cfg.Blink.MinGap,
			MaxGap:   cfg.Blink.MaxGap,
			Closed:   cfg.Blink.Closed,
			LerpRate: float32(cfg.Blink.LerpRate),
		},
		CrossFade: an.CrossFade,
		FrameRate: an.FrameRate,
	}
}
