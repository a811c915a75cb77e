package tts

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fakeMP3 = base64.StdEncoding.EncodeToString([]byte("ID3-fake-mp3"))

func TestAdapters(t *testing.T) {
	tests := []struct {
		name    string
		api     string
		body    string
		wantErr error
		cues    int
	}{
		{
			name: "default shape",
			api:  "lip_3",
			body: `{"mp3":"` + fakeMP3 + `","json":{"mouthCues":[{"start":0.2,"end":0.4,"value":"B"},{"start":0,"end":0.2,"value":"X"}]}}`,
			cues: 2,
		},
		{
			name: "unknown provider uses default shape",
			api:  "lip_9",
			body: `{"mp3":"` + fakeMP3 + `","json":{"mouthCues":[]}}`,
			cues: 0,
		},
		{
			name: "polly shape",
			api:  "amazon_polly",
			body: `{"json":{"mp3":"` + fakeMP3 + `","mouthCues":[{"start":0,"end":0.1,"value":"A"}]}}`,
			cues: 1,
		},
		{
			name: "lip5 shape with numeric visemes",
			api:  "lip_5",
			body: `{"base64":"` + fakeMP3 + `","viseme":[{"start":0,"end":0.1,"value":10}]}`,
			cues: 1,
		},
		{
			name:    "missing audio",
			api:     "lip_3",
			body:    `{"json":{"mouthCues":[]}}`,
			wantErr: ErrMissingAudio,
		},
		{
			name:    "missing track",
			api:     "lip_3",
			body:    `{"mp3":"` + fakeMP3 + `"}`,
			wantErr: ErrMissingVisemes,
		},
		{
			name:    "polly without json",
			api:     "amazon_polly",
			body:    `{"mp3":"` + fakeMP3 + `"}`,
			wantErr: ErrMissingAudio,
		},
		{
			name:    "lip5 missing visemes",
			api:     "lip_5",
			body:    `{"base64":"` + fakeMP3 + `"}`,
			wantErr: ErrMissingVisemes,
		},
		{
			name:    "bad base64",
			api:     "lip_3",
			body:    `{"mp3":"***","json":{"mouthCues":[]}}`,
			wantErr: ErrMalformedResponse,
		},
		{
			name:    "not json",
			api:     "lip_5",
			body:    `<html>`,
			wantErr: ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunk, err := AdapterFor(tt.api).Decode([]byte(tt.body), 3)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, chunk)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 3, chunk.Index)
			assert.Equal(t, []byte("ID3-fake-mp3"), chunk.Audio)
			assert.Len(t, chunk.Track, tt.cues)
		})
	}
}

func TestDecodeSortsTrackAndParsesNumericValues(t *testing.T) {
	body := `{"base64":"data:audio/mpeg;base64,` + fakeMP3 + `","viseme":[{"start":0.5,"end":0.7,"value":1},{"start":0.1,"end":0.5,"value":"A"}]}`
	chunk, err := AdapterFor(ProviderLip5).Decode([]byte(body), 0)
	require.NoError(t, err)

	require.Len(t, chunk.Track, 2)
	assert.Equal(t, "A", chunk.Track[0].Value)
	assert.Equal(t, "1", chunk.Track[1].Value)
	assert.InDelta(t, 0.7, chunk.Duration(), 1e-9)
}

func TestClientSynthesize(t *testing.T) {
	var got SynthesisRequest
	var gotKey, gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-api-key")
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"mp3":"` + fakeMP3 + `","json":{"mouthCues":[{"start":0,"end":0.3,"value":"D"}]}}`))
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	cfg.APIKey = "secret"
	c := NewClient(zerolog.Nop(), cfg)
	c.SetGender(GenderMale)

	chunk, err := c.Synthesize(context.Background(), 2, "How are you")
	require.NoError(t, err)

	assert.Equal(t, 2, chunk.Index)
	assert.Equal(t, "secret", gotKey)
	assert.Equal(t, "/avatar/avatar", gotPath)
	assert.Equal(t, "How are you", got.Text)
	assert.Equal(t, "EXAVITQu4vr4xnSDxMaL", got.VoiceID)
	assert.Equal(t, "lip_3", got.LipsyncAPI)
	assert.Equal(t, "ultra_fast", got.Preset)
	assert.Equal(t, GenderMale, got.Gender)
}

func TestClientLip5Endpoint(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.LipsyncAPI = ProviderLip5
	cfg.Lip5URL = "http://tts.local:5000/tts"
	c := NewClient(zerolog.Nop(), cfg)

	assert.Equal(t, "http://tts.local:5000/tts", c.Endpoint())
	assert.Equal(t, ProviderLip5, c.Name())
}

func TestClientStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	cfg := DefaultClientConfig()
	cfg.BaseURL = srv.URL
	c := NewClient(zerolog.Nop(), cfg)

	_, err := c.Synthesize(context.Background(), 0, "Hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderStatus)

	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusTooManyRequests, se.Code)
}

func TestClientNoEndpoint(t *testing.T) {
	cfg := DefaultClientConfig()
	cfg.BaseURL = ""
	c := NewClient(zerolog.Nop(), cfg)

	_, err := c.Synthesize(context.Background(), 0, "Hello")
	assert.ErrorIs(t, err, ErrEndpointNotDefined)
}

type upperAdapter struct{}

func (upperAdapter) Name() string { return "test_upper" }

func (upperAdapter) Decode(body []byte, index int) (*Chunk, error) {
	return newChunk(index, body, []VisemeCue{})
}

func TestRegisterAdapter(t *testing.T) {
	RegisterAdapter(upperAdapter{})
	chunk, err := AdapterFor("test_upper").Decode([]byte("raw"), 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw"), chunk.Audio)
}
