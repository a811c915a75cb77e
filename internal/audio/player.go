// Package audio tracks playback of synthesized chunks.
// Audio output happens in the renderer; this keeps the authoritative clock
// and the end-of-audio signal.
package audio

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/rs/zerolog"

	"github.com/WachasWps/AI-Avatar-Chat/internal/clock"
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

// Common errors
var (
	ErrNoAudio      = errors.New("chunk has no audio")
	ErrNotPlaying   = errors.New("nothing is playing")
	ErrZeroDuration = errors.New("audio has zero duration")
)

// Player is the playback control surface the engine drives.
type Player interface {
	// Play starts chunk from the beginning, replacing anything active.
	Play(chunk *tts.Chunk) error
	// Pause freezes the clock of the active chunk.
	Pause()
	// Resume continues a paused chunk.
	Resume() error
	// Stop discards the active chunk without firing the ended callback.
	Stop()
	// Position returns elapsed seconds of the active chunk.
	Position() float64
	// OnEnded registers the callback fired when a chunk plays to its end.
	// It receives the chunk passed to Play.
	OnEnded(func(chunk *tts.Chunk))
}

// ClockPlayer is a headless Player that derives each chunk's length from
// its mp3 stream and fires the ended callback when that time has elapsed.
type ClockPlayer struct {
	clock  clock.Clock
	logger zerolog.Logger

	mu       sync.Mutex
	active   *tts.Chunk
	duration time.Duration
	started  time.Time
	offset   time.Duration // elapsed before the last resume
	paused   bool
	timer    clock.Timer
	token    uint64
	onEnded  func(*tts.Chunk)

	// external players never end a chunk on their own; the renderer
	// reports the end.
	external bool
}

// NewClockPlayer creates a ClockPlayer. A nil clock uses the wall clock.
func NewClockPlayer(c clock.Clock, logger zerolog.Logger) *ClockPlayer {
	if c == nil {
		c = clock.Real{}
	}
	return &ClockPlayer{
		clock:  c,
		logger: logger.With().Str("component", "audio").Logger(),
	}
}

// NewRendererPlayer creates a ClockPlayer that tracks position but leaves
// the end of each chunk to the renderer playing the audio.
func NewRendererPlayer(c clock.Clock, logger zerolog.Logger) *ClockPlayer {
	p := NewClockPlayer(c, logger)
	p.external = true
	return p
}

// OnEnded registers the end-of-audio callback
func (p *ClockPlayer) OnEnded(fn func(chunk *tts.Chunk)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onEnded = fn
}

// Play starts chunk.
func (p *ClockPlayer) Play(chunk *tts.Chunk) error {
	if chunk == nil || len(chunk.Audio) == 0 {
		return ErrNoAudio
	}

	d, err := Duration(chunk)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.stopLocked()
	p.active = chunk
	p.duration = d
	p.offset = 0
	p.paused = false
	p.started = p.clock.Now()
	p.scheduleLocked(d)

	p.logger.Debug().Int("index", chunk.Index).Dur("duration", d).Msg("Playing chunk")
	return nil
}

// Pause freezes the active chunk
func (p *ClockPlayer) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil || p.paused {
		return
	}
	p.offset += p.clock.Now().Sub(p.started)
	p.paused = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.token++
}

// Resume continues a paused chunk
func (p *ClockPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return ErrNotPlaying
	}
	if !p.paused {
		return nil
	}
	p.paused = false
	p.started = p.clock.Now()
	p.scheduleLocked(p.duration - p.offset)
	return nil
}

// Stop discards the active chunk
func (p *ClockPlayer) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
}

// Position returns elapsed seconds of the active chunk, 0 when idle.
func (p *ClockPlayer) Position() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return 0
	}
	elapsed := p.offset
	if !p.paused {
		elapsed += p.clock.Now().Sub(p.started)
	}
	if elapsed > p.duration {
		elapsed = p.duration
	}
	return elapsed.Seconds()
}

// Sync moves the active chunk's clock to position seconds, as reported by
// the renderer.
func (p *ClockPlayer) Sync(position float64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.active == nil {
		return
	}
	off := time.Duration(position * float64(time.Second))
	off = max(0, min(off, p.duration))
	p.offset = off
	p.started = p.clock.Now()
	if p.paused {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.scheduleLocked(p.duration - off)
}

// Active returns the chunk being played, nil when idle.
func (p *ClockPlayer) Active() *tts.Chunk {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *ClockPlayer) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.active = nil
	p.paused = false
	p.token++
}

func (p *ClockPlayer) scheduleLocked(remaining time.Duration) {
	p.token++
	if p.external {
		return
	}
	token := p.token
	chunk := p.active
	p.timer = p.clock.AfterFunc(remaining, func() { p.finish(token, chunk) })
}

func (p *ClockPlayer) finish(token uint64, chunk *tts.Chunk) {
	p.mu.Lock()
	if token != p.token || p.active == nil {
		p.mu.Unlock()
		return
	}
	p.active = nil
	p.timer = nil
	cb := p.onEnded
	p.mu.Unlock()

	if cb != nil {
		cb(chunk)
	}
}

// Duration returns the playing time of chunk. It decodes the mp3 stream and
// falls back to the end of the viseme track when the stream is unreadable.
func Duration(chunk *tts.Chunk) (time.Duration, error) {
	if d, err := mp3Duration(chunk.Audio); err == nil && d > 0 {
		return d, nil
	}
	if end := chunk.Duration(); end > 0 {
		return time.Duration(end * float64(time.Second)), nil
	}
	return 0, ErrZeroDuration
}

func mp3Duration(data []byte) (time.Duration, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}
	length := dec.Length()
	if length <= 0 || dec.SampleRate() <= 0 {
		return 0, ErrZeroDuration
	}
	// Decoded samples are 16-bit stereo.
	samples := length / 4
	return time.Duration(samples) * time.Second / time.Duration(dec.SampleRate()), nil
}
