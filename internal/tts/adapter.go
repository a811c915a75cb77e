package tts

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Adapter decodes one provider's response shape into a Chunk.
type Adapter interface {
	// Name returns the lipsync_api value the adapter handles.
	Name() string

	// Decode parses a raw response body. A body without audio or without a
	// viseme track is an error.
	Decode(body []byte, index int) (*Chunk, error)
}

// Provider names with a dedicated response shape.
const (
	ProviderDefault     = "lip_3"
	ProviderAmazonPolly = "amazon_polly"
	ProviderLip5        = "lip_5"
)

var (
	adaptersMu sync.RWMutex
	adapters   = map[string]Adapter{
		ProviderAmazonPolly: pollyAdapter{},
		ProviderLip5:        lip5Adapter{},
	}
)

// RegisterAdapter adds or replaces the adapter for a.Name().
func RegisterAdapter(a Adapter) {
	adaptersMu.Lock()
	defer adaptersMu.Unlock()
	adapters[a.Name()] = a
}

// AdapterFor returns the adapter for a lipsync_api value. Values without a
// dedicated adapter use the default shape.
func AdapterFor(api string) Adapter {
	adaptersMu.RLock()
	defer adaptersMu.RUnlock()
	if a, ok := adapters[api]; ok {
		return a
	}
	return defaultAdapter{name: api}
}

type mouthCues struct {
	MouthCues []VisemeCue `json:"mouthCues"`
}

// defaultAdapter handles {"mp3": "...", "json": {"mouthCues": [...]}}.
type defaultAdapter struct {
	name string
}

func (a defaultAdapter) Name() string {
	if a.name == "" {
		return ProviderDefault
	}
	return a.name
}

func (a defaultAdapter) Decode(body []byte, index int) (*Chunk, error) {
	var resp struct {
		MP3  string     `json:"mp3"`
		JSON *mouthCues `json:"json"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var track []VisemeCue
	if resp.JSON != nil {
		track = resp.JSON.MouthCues
	}
	return decodeChunk(index, resp.MP3, track)
}

// pollyAdapter handles {"json": {"mp3": "...", "mouthCues": [...]}}.
type pollyAdapter struct{}

func (pollyAdapter) Name() string { return ProviderAmazonPolly }

func (pollyAdapter) Decode(body []byte, index int) (*Chunk, error) {
	var resp struct {
		JSON *struct {
			MP3       string      `json:"mp3"`
			MouthCues []VisemeCue `json:"mouthCues"`
		} `json:"json"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if resp.JSON == nil {
		return nil, ErrMissingAudio
	}
	return decodeChunk(index, resp.JSON.MP3, resp.JSON.MouthCues)
}

// lip5Adapter handles {"base64": "...", "viseme": [...]}.
type lip5Adapter struct{}

func (lip5Adapter) Name() string { return ProviderLip5 }

func (lip5Adapter) Decode(body []byte, index int) (*Chunk, error) {
	var resp struct {
		Base64 string      `json:"base64"`
		Viseme []VisemeCue `json:"viseme"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return decodeChunk(index, resp.Base64, resp.Viseme)
}

func decodeChunk(index int, audioB64 string, track []VisemeCue) (*Chunk, error) {
	if audioB64 == "" {
		return nil, ErrMissingAudio
	}
	audio, err := decodeAudio(audioB64)
	if err != nil {
		return nil, fmt.Errorf("%w: audio: %v", ErrMalformedResponse, err)
	}
	return newChunk(index, audio, track)
}

// decodeAudio accepts plain base64 or a data URI.
func decodeAudio(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	return base64.StdEncoding.DecodeString(s)
}
