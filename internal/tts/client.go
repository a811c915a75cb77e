package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ClientConfig holds the synthesis service settings.
type ClientConfig struct {
	BaseURL    string        `json:"base_url"`
	Lip5URL    string        `json:"lip5_url"`
	APIKey     string        `json:"api_key"`
	VoiceID    string        `json:"voice_id"`
	VoiceAPI   string        `json:"voice_api"`
	LipsyncAPI string        `json:"lipsync_api"`
	Language   string        `json:"language"`
	Preset     string        `json:"preset"`
	Gender     Gender        `json:"gender"`
	Timeout    time.Duration `json:"timeout"` // zero disables the client deadline
}

// DefaultClientConfig returns sensible defaults
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		BaseURL:    "http://localhost:8000",
		Lip5URL:    "http://localhost:5000/tts",
		VoiceID:    "EXAVITQu4vr4xnSDxMaL",
		VoiceAPI:   "tts1",
		LipsyncAPI: ProviderDefault,
		Language:   "en",
		Preset:     "ultra_fast",
		Gender:     GenderFemale,
	}
}

// Client requests audio plus visemes for single fragments.
type Client struct {
	client  *http.Client
	logger  zerolog.Logger
	config  *ClientConfig
	adapter Adapter

	mu     sync.RWMutex
	gender Gender
}

// NewClient creates a synthesis client. The API key falls back to the
// DUBBING_API_KEY environment variable.
func NewClient(logger zerolog.Logger, config *ClientConfig) *Client {
	if config == nil {
		config = DefaultClientConfig()
	}
	if config.APIKey == "" {
		config.APIKey = os.Getenv("DUBBING_API_KEY")
	}
	gender := config.Gender
	if gender == "" {
		gender = GenderFemale
	}

	transport := otelhttp.NewTransport(http.DefaultTransport,
		otelhttp.WithSpanNameFormatter(func(operationName string, r *http.Request) string {
			return "synthesize " + r.URL.Path
		}),
	)

	return &Client{
		client:  &http.Client{Transport: transport, Timeout: config.Timeout},
		logger:  logger.With().Str("provider", config.LipsyncAPI).Logger(),
		config:  config,
		adapter: AdapterFor(config.LipsyncAPI),
		gender:  gender,
	}
}

// Name returns the configured lipsync provider.
func (c *Client) Name() string {
	return c.adapter.Name()
}

// SetGender changes the voice family for subsequent requests.
func (c *Client) SetGender(g Gender) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gender = g
}

// Endpoint returns the URL requests are posted to.
func (c *Client) Endpoint() string {
	if c.config.LipsyncAPI == ProviderLip5 {
		return c.config.Lip5URL
	}
	if c.config.BaseURL == "" {
		return ""
	}
	return strings.TrimRight(c.config.BaseURL, "/") + "/avatar/avatar"
}

// Request builds the POST body for one fragment.
func (c *Client) Request(text string) *SynthesisRequest {
	c.mu.RLock()
	gender := c.gender
	c.mu.RUnlock()

	return &SynthesisRequest{
		Text:       text,
		VoiceID:    c.config.VoiceID,
		VoiceAPI:   c.config.VoiceAPI,
		LipsyncAPI: c.config.LipsyncAPI,
		Language:   c.config.Language,
		Preset:     c.config.Preset,
		Gender:     gender,
	}
}

// Synthesize fetches one fragment and decodes it with the provider adapter.
func (c *Client) Synthesize(ctx context.Context, index int, text string) (*Chunk, error) {
	endpoint := c.Endpoint()
	if endpoint == "" {
		return nil, ErrEndpointNotDefined
	}

	body, err := json.Marshal(c.Request(text))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("x-api-key", c.config.APIKey)
	}

	startTime := time.Now()
	c.logger.Debug().
		Int("index", index).
		Int("textLen", len(text)).
		Msg("Sending synthesis request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(respBody), 256)}
	}

	chunk, err := c.adapter.Decode(respBody, index)
	if err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.adapter.Name(), err)
	}

	c.logger.Debug().
		Int("index", index).
		Int("audioBytes", len(chunk.Audio)).
		Int("cues", len(chunk.Track)).
		Dur("processingTime", time.Since(startTime)).
		Msg("Synthesis complete")

	return chunk, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
