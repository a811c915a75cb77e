// Package tts talks to the remote speech synthesis service and normalizes its
// provider-specific responses into one canonical chunk format.
package tts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

// Common errors
var (
	ErrMissingAudio       = errors.New("response has no audio")
	ErrMissingVisemes     = errors.New("response has no viseme track")
	ErrMalformedResponse  = errors.New("malformed synthesis response")
	ErrProviderStatus     = errors.New("synthesis service returned an error status")
	ErrEndpointNotDefined = errors.New("synthesis endpoint not configured")
)

// StatusError carries the HTTP status of a failed synthesis call.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("synthesis status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Unwrap() error { return ErrProviderStatus }

// Gender selects the voice family requested from the service.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// SynthesisRequest is the POST body sent for every fragment.
type SynthesisRequest struct {
	Text       string `json:"text"`
	VoiceID    string `json:"voice_id"`
	VoiceAPI   string `json:"voice_api"`
	LipsyncAPI string `json:"lipSync_api"`
	Language   string `json:"language"`
	Preset     string `json:"preset"`
	Gender     Gender `json:"gender"`
}

// VisemeCue is one timed mouth shape. Times are seconds from the start of
// the chunk's audio.
type VisemeCue struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Value string  `json:"value"`
}

// UnmarshalJSON accepts cue values encoded either as strings (Rhubarb
// letters) or as integers (Oculus viseme ids).
func (c *VisemeCue) UnmarshalJSON(data []byte) error {
	var raw struct {
		Start float64         `json:"start"`
		End   float64         `json:"end"`
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	c.Start, c.End = raw.Start, raw.End

	v := bytes.TrimSpace(raw.Value)
	switch {
	case len(v) == 0 || bytes.Equal(v, []byte("null")):
		c.Value = ""
	case v[0] == '"':
		return json.Unmarshal(v, &c.Value)
	default:
		var n json.Number
		if err := json.Unmarshal(v, &n); err != nil {
			return fmt.Errorf("viseme value: %w", err)
		}
		if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
			return fmt.Errorf("viseme value %s: %w", n, err)
		}
		c.Value = n.String()
	}
	return nil
}

// Chunk is the synthesized audio and viseme track for one fragment.
type Chunk struct {
	Index  int         `json:"index"`
	Audio  []byte      `json:"-"`
	Format string      `json:"format"`
	Track  []VisemeCue `json:"visemeTrack"`
}

// Duration is the end of the last cue in seconds.
func (c *Chunk) Duration() float64 {
	var d float64
	for _, cue := range c.Track {
		if cue.End > d {
			d = cue.End
		}
	}
	return d
}

// newChunk validates the decoded fields and builds a chunk with its track
// sorted by start time.
func newChunk(index int, audio []byte, track []VisemeCue) (*Chunk, error) {
	if len(audio) == 0 {
		return nil, ErrMissingAudio
	}
	if track == nil {
		return nil, ErrMissingVisemes
	}

	sorted := make([]VisemeCue, len(track))
	copy(sorted, track)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	return &Chunk{
		Index:  index,
		Audio:  audio,
		Format: "mp3",
		Track:  sorted,
	}, nil
}
