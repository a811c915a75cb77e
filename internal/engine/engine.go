// Package engine owns the speech pipeline's event loop.
//
// Fetch completions, end-of-audio signals, commands and animation frames are
// all applied on a single goroutine, so the playback state is only ever read
// and written there. Other goroutines talk to the loop by posting events.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/WachasWps/AI-Avatar-Chat/internal/audio"
	"github.com/WachasWps/AI-Avatar-Chat/internal/avatar3d"
	"github.com/WachasWps/AI-Avatar-Chat/internal/bus"
	"github.com/WachasWps/AI-Avatar-Chat/internal/chunker"
	"github.com/WachasWps/AI-Avatar-Chat/internal/clock"
	"github.com/WachasWps/AI-Avatar-Chat/internal/fetcher"
	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
	"github.com/WachasWps/AI-Avatar-Chat/internal/playback"
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

var (
	ErrEmptySubmission = errors.New("submission produced no fragments")
	ErrStopped         = errors.New("engine stopped")
	ErrMissingDeps     = errors.New("engine dependency missing")
)

// Dispatcher starts the fetches of one generation.
type Dispatcher interface {
	Start(ctx context.Context, gen fetcher.Generation, fragments []chunker.Fragment, deliver func(fetcher.Result)) <-chan struct{}
}

// VoiceSelector follows the avatar's gender.
type VoiceSelector interface {
	SetGender(g tts.Gender)
}

// syncer is implemented by players whose clock follows the renderer.
type syncer interface {
	Sync(position float64)
}

// Config holds the animation parameters the loop applies each frame.
type Config struct {
	Animation avatar3d.AnimatorParams
	Blink     avatar3d.BlinkParams
	CrossFade time.Duration
	FrameRate int
}

// Deps are the collaborators the engine drives. Voice and Metrics may be nil.
type Deps struct {
	Chunker    *chunker.Chunker
	Dispatcher Dispatcher
	Player     audio.Player
	Voice      VoiceSelector
	Bus        *bus.EventBus
	Metrics    *metrics.Metrics
	Clock      clock.Clock
	Rand       *rand.Rand
}

// FrameState is what the renderer needs for one frame.
type FrameState struct {
	Seq        uint64                `json:"seq"`
	Utterance  string                `json:"utterance,omitempty"`
	Generation uint64                `json:"generation"`
	Profile    string                `json:"profile"`
	Playing    bool                  `json:"playing"`
	Index      int                   `json:"index"`
	Pending    []int                 `json:"pending,omitempty"`
	Position   float64               `json:"position"`
	Generating bool                  `json:"generating"`
	Blinking   bool                  `json:"blinking"`
	Weights    avatar3d.MorphWeights `json:"weights"`
	Body       avatar3d.BodySnapshot `json:"body"`
}

type (
	submitCmd struct {
		text  string
		reply chan error
	}
	stopCmd    struct{}
	profileCmd struct{ profile *avatar3d.Profile }
	fetchDone  struct{ result fetcher.Result }
	// audioEnded carries either the chunk the local player finished or the
	// utterance a renderer reported for.
	audioEnded struct {
		chunk     *tts.Chunk
		utterance string
		index     int
	}
	audioPosition struct {
		utterance string
		index     int
		position  float64
	}
)

// Engine runs the fetch, reorder and playback loop and the animation frames.
type Engine struct {
	logger zerolog.Logger
	cfg    Config
	deps   Deps

	events chan any
	done   chan struct{}

	frameMu sync.RWMutex
	frame   FrameState
	onFrame func(FrameState)

	// Owned by the loop goroutine.
	ctx         context.Context
	gen         fetcher.Generation
	state       playback.State
	current     *tts.Chunk
	utterance   string
	text        string
	submittedAt time.Time
	cancelFetch context.CancelFunc
	settled     bool
	transcribed bool
	heard       bool
	generating  bool
	profile     *avatar3d.Profile
	animator    *avatar3d.Animator
	body        *avatar3d.BodyAnimator
	blinker     *avatar3d.Blinker
	weights     avatar3d.MorphWeights
	lastTick    time.Time
	seq         uint64
	deferred    []any
}

// New creates an engine showing profile.
func New(logger zerolog.Logger, cfg Config, profile *avatar3d.Profile, deps Deps) (*Engine, error) {
	if profile == nil || deps.Chunker == nil || deps.Dispatcher == nil || deps.Player == nil || deps.Bus == nil {
		return nil, ErrMissingDeps
	}
	if deps.Clock == nil {
		deps.Clock = clock.Real{}
	}
	if deps.Rand == nil {
		deps.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if cfg.FrameRate <= 0 {
		cfg.FrameRate = 60
	}

	e := &Engine{
		logger: logger.With().Str("component", "engine").Logger(),
		cfg:    cfg,
		deps:   deps,
		events: make(chan any, 256),
		done:   make(chan struct{}),
		ctx:    context.Background(),
		state:  playback.Initial(),
	}
	e.lastTick = deps.Clock.Now()
	e.useProfile(profile)
	e.blinker = avatar3d.NewBlinker(cfg.Blink, deps.Clock, deps.Rand)
	e.publishFrame(0)

	deps.Player.OnEnded(func(c *tts.Chunk) {
		e.post(audioEnded{chunk: c, index: c.Index})
	})
	return e, nil
}

// OnFrame registers a callback receiving every frame. It runs on the loop
// goroutine and must not block. Call before Run.
func (e *Engine) OnFrame(fn func(FrameState)) {
	e.frameMu.Lock()
	defer e.frameMu.Unlock()
	e.onFrame = fn
}

// Run processes events and renders frames until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	e.ctx = ctx
	e.lastTick = e.deps.Clock.Now()
	e.blinker.Start()

	ticker := time.NewTicker(time.Second / time.Duration(e.cfg.FrameRate))
	defer func() {
		ticker.Stop()
		e.shutdown()
		close(e.done)
	}()

	e.logger.Info().Str("profile", e.profile.Name).Int("fps", e.cfg.FrameRate).Msg("Engine started")

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("Engine stopped")
			return nil
		case ev := <-e.events:
			e.handle(ev)
		case <-ticker.C:
			e.tick(e.deps.Clock.Now())
		}
	}
}

// Submit starts speaking text, superseding anything in progress.
func (e *Engine) Submit(ctx context.Context, text string) error {
	reply := make(chan error, 1)
	select {
	case e.events <- submitCmd{text: text, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}

	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrStopped
	}
}

// Stop silences the avatar and invalidates outstanding fetches.
func (e *Engine) Stop() {
	e.post(stopCmd{})
}

// AudioEnded reports that the renderer finished playing index of utterance.
// Reports for an utterance other than the current one are ignored.
func (e *Engine) AudioEnded(utterance string, index int) {
	if utterance == "" {
		return
	}
	e.post(audioEnded{utterance: utterance, index: index})
}

// AudioPosition reports the renderer's playback position within index of
// utterance. It only has an effect when the player can be synced.
func (e *Engine) AudioPosition(utterance string, index int, position float64) {
	if utterance == "" {
		return
	}
	e.post(audioPosition{utterance: utterance, index: index, position: position})
}

// SetProfile swaps the displayed avatar.
func (e *Engine) SetProfile(p *avatar3d.Profile) {
	if p == nil {
		return
	}
	e.post(profileCmd{profile: p})
}

// Frame returns the most recent frame.
func (e *Engine) Frame() FrameState {
	e.frameMu.RLock()
	defer e.frameMu.RUnlock()
	f := e.frame
	f.Weights = f.Weights.Clone()
	f.Pending = append([]int(nil), f.Pending...)
	return f
}

func (e *Engine) post(ev any) {
	select {
	case e.events <- ev:
	case <-e.done:
	}
}

func (e *Engine) handle(ev any) {
	e.apply(ev)
	for len(e.deferred) > 0 {
		next := e.deferred[0]
		e.deferred = e.deferred[1:]
		e.apply(next)
	}
}

func (e *Engine) apply(ev any) {
	switch ev := ev.(type) {
	case submitCmd:
		ev.reply <- e.submit(ev.text)
	case stopCmd:
		e.supersede("stopped")
	case profileCmd:
		e.swapProfile(ev.profile)
	case fetchDone:
		e.onFetch(ev.result)
	case audioEnded:
		e.onEnded(ev)
	case audioPosition:
		e.onPosition(ev)
	}
}

func (e *Engine) submit(text string) error {
	e.supersede("superseded")

	fragments := e.deps.Chunker.Split(text)
	if len(fragments) == 0 {
		e.logger.Warn().Int("length", len(text)).Msg("Submission produced no fragments")
		if e.deps.Metrics != nil && strings.TrimSpace(text) != "" {
			e.deps.Metrics.DenylistSkipped.Inc()
		}
		e.publish(bus.EventTypeSpeechFailed, map[string]any{
			"error": ErrEmptySubmission.Error(),
		})
		return ErrEmptySubmission
	}

	e.utterance = uuid.NewString()
	e.text = text
	e.submittedAt = e.deps.Clock.Now()
	e.settled = false
	e.transcribed = false
	e.heard = false

	ctx, cancel := context.WithCancel(e.ctx)
	e.cancelFetch = cancel
	gen := e.gen
	e.deps.Dispatcher.Start(ctx, gen, fragments, func(r fetcher.Result) {
		e.post(fetchDone{result: r})
	})

	if e.deps.Metrics != nil {
		e.deps.Metrics.Submissions.Inc()
	}
	e.setGenerating(true)

	e.logger.Info().
		Str("utterance", e.utterance).
		Uint64("generation", uint64(gen)).
		Int("fragments", len(fragments)).
		Msg("Utterance started")
	e.publish(bus.EventTypeUtteranceStarted, map[string]any{
		"utterance":  e.utterance,
		"generation": uint64(gen),
		"fragments":  len(fragments),
	})
	return nil
}

// supersede retires the current generation: in-flight fetches are cancelled
// and their late results no longer match, audio stops and the buffer clears.
func (e *Engine) supersede(reason string) {
	active := e.state.Playing() || len(e.state.Pending) > 0 || e.generating
	old := e.utterance

	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.gen++
	e.dispatch(playback.Reset{})
	e.setGenerating(false)
	e.utterance = ""

	if active {
		e.logger.Info().Str("utterance", old).Str("reason", reason).Msg("Utterance cancelled")
		e.publish(bus.EventTypeUtteranceCancelled, map[string]any{
			"utterance": old,
			"reason":    reason,
		})
	}
}

func (e *Engine) onFetch(r fetcher.Result) {
	if r.Generation != e.gen {
		e.logger.Debug().
			Uint64("generation", uint64(r.Generation)).
			Uint64("current", uint64(e.gen)).
			Int("index", r.Index).
			Msg("Discarding result of superseded generation")
		e.countChunk("stale")
		return
	}

	first := !e.settled
	e.settled = true
	if first {
		e.setGenerating(false)
	}

	if r.Err != nil {
		e.logger.Warn().Err(r.Err).Str("utterance", e.utterance).Int("index", r.Index).Msg("Fragment fetch failed, skipping")
		e.countChunk("failed")
		e.publish(bus.EventTypeChunkFailed, map[string]any{
			"utterance": e.utterance,
			"index":     r.Index,
			"error":     r.Err.Error(),
		})
		if r.Index == 0 {
			e.logger.Error().Err(r.Err).Str("utterance", e.utterance).Msg("Speech failed")
			e.publish(bus.EventTypeSpeechFailed, map[string]any{
				"utterance": e.utterance,
				"error":     fmt.Sprintf("speech synthesis failed: %v", r.Err),
			})
		}
		return
	}

	e.countChunk("fetched")
	e.publish(bus.EventTypeChunkFetched, map[string]any{
		"utterance": e.utterance,
		"index":     r.Index,
		"latencyMs": r.Latency.Milliseconds(),
	})
	if r.Index == 0 && !e.transcribed {
		e.transcribed = true
		e.publish(bus.EventTypeTranscript, map[string]any{
			"utterance": e.utterance,
			"role":      "assistant",
			"text":      e.text,
		})
	}

	if len(e.dispatch(playback.ChunkArrived{Chunk: r.Chunk})) == 0 {
		e.logger.Debug().Int("index", r.Index).Int("current", e.state.CurrentIndex).Msg("Dropping stale chunk")
		e.countChunk("dropped")
		e.publish(bus.EventTypeChunkDropped, map[string]any{
			"utterance": e.utterance,
			"index":     r.Index,
		})
	}
}

func (e *Engine) onEnded(ev audioEnded) {
	if ev.chunk != nil && ev.chunk != e.current {
		e.logger.Debug().Int("index", ev.index).Msg("Ignoring end of replaced chunk")
		return
	}
	if ev.chunk == nil && ev.utterance != e.utterance {
		e.logger.Debug().Str("utterance", ev.utterance).Int("index", ev.index).Msg("Ignoring end of superseded audio")
		return
	}
	if len(e.dispatch(playback.AudioEnded{Index: ev.index})) > 0 {
		e.publish(bus.EventTypePlaybackEnded, map[string]any{
			"utterance": e.utterance,
			"index":     ev.index,
		})
	}
}

func (e *Engine) onPosition(ev audioPosition) {
	s, ok := e.deps.Player.(syncer)
	if !ok || ev.utterance != e.utterance || e.current == nil || !e.state.Playing() {
		return
	}
	if e.current.Index != ev.index || ev.index != e.state.CurrentIndex {
		return
	}
	s.Sync(ev.position)
}

// dispatch applies ev to the current state and performs the resulting
// effects.
func (e *Engine) dispatch(ev playback.Event) []playback.Effect {
	prev := e.state
	e.state = playback.Transition(prev, ev)
	effects := playback.Diff(prev, e.state)

	for _, eff := range effects {
		switch eff.Kind {
		case playback.EffectStop:
			e.deps.Player.Stop()
			e.current = nil

		case playback.EffectPlay:
			e.play(eff.Chunk)

		case playback.EffectBuffer:
			e.countChunk("buffered")
			e.publish(bus.EventTypeChunkBuffered, map[string]any{
				"utterance": e.utterance,
				"index":     eff.Index,
				"pending":   e.state.PendingIndices(),
			})

		case playback.EffectTalkingStarted:
			e.setTalking(true)

		case playback.EffectTalkingStopped:
			e.setTalking(false)
			e.publish(bus.EventTypePlaybackIdle, map[string]any{
				"utterance": e.utterance,
				"index":     eff.Index,
			})
		}
	}

	if e.deps.Metrics != nil {
		e.deps.Metrics.PendingChunks.Set(float64(len(e.state.Pending)))
	}
	return effects
}

func (e *Engine) play(c *tts.Chunk) {
	e.current = c
	if err := e.deps.Player.Play(c); err != nil {
		// An unplayable chunk counts as finished so the sequence moves on.
		e.logger.Error().Err(err).Int("index", c.Index).Msg("Failed to play chunk")
		e.deferred = append(e.deferred, audioEnded{chunk: c, index: c.Index})
		return
	}

	if !e.heard {
		e.heard = true
		if e.deps.Metrics != nil {
			e.deps.Metrics.ObserveFirstAudio(e.deps.Clock.Now().Sub(e.submittedAt))
		}
	}

	e.logger.Debug().Str("utterance", e.utterance).Int("index", c.Index).Msg("Playing chunk")
	e.publish(bus.EventTypePlaybackStarted, map[string]any{
		"utterance": e.utterance,
		"index":     c.Index,
		"format":    c.Format,
		"audio":     c.Audio,
		"track":     c.Track,
	})
}

func (e *Engine) setTalking(talking bool) {
	if e.deps.Metrics != nil {
		v := 0.0
		if talking {
			v = 1
		}
		e.deps.Metrics.Playing.Set(v)
	}
	if !e.body.SetTalking(talking) {
		return
	}
	snap := e.body.Snapshot()
	e.publish(bus.EventTypeAnimationChanged, map[string]any{
		"state":    string(snap.State),
		"clip":     snap.Clip,
		"previous": snap.PreviousClip,
	})
}

func (e *Engine) setGenerating(on bool) {
	if e.generating == on {
		return
	}
	e.generating = on
	e.publish(bus.EventTypeGeneratingChanged, map[string]any{
		"generating": on,
		"utterance":  e.utterance,
	})
}

func (e *Engine) useProfile(p *avatar3d.Profile) {
	e.profile = p
	e.animator = avatar3d.NewAnimator(p, e.cfg.Animation)
	e.body = avatar3d.NewBodyAnimator(p, e.cfg.CrossFade)
	e.weights = avatar3d.NewMorphWeights()
	if e.deps.Voice != nil {
		e.deps.Voice.SetGender(p.Gender)
	}
}

func (e *Engine) swapProfile(p *avatar3d.Profile) {
	// The blink timer belongs to the displayed avatar.
	e.blinker.Stop()
	e.useProfile(p)
	if e.state.Playing() {
		e.body.SetTalking(true)
	}
	e.blinker = avatar3d.NewBlinker(e.cfg.Blink, e.deps.Clock, e.deps.Rand)
	e.blinker.Start()

	e.logger.Info().Str("profile", p.Name).Msg("Avatar profile changed")
	e.publish(bus.EventTypeProfileChanged, map[string]any{
		"profile": p.Name,
		"gender":  string(p.Gender),
	})
}

func (e *Engine) tick(now time.Time) {
	dt := now.Sub(e.lastTick)
	if dt < 0 {
		dt = 0
	}
	e.lastTick = now

	position := 0.0
	if e.state.Playing() {
		position = e.deps.Player.Position()
		e.weights = e.animator.ComputeMorphWeights(e.state.NowPlaying.Track, position, e.weights)
	} else {
		e.weights = e.animator.Decay(e.weights)
	}
	e.weights = e.blinker.Apply(e.weights, e.profile.BlinkShapes)
	e.body.Update(dt)

	e.publishFrame(position)
}

func (e *Engine) publishFrame(position float64) {
	e.seq++
	f := FrameState{
		Seq:        e.seq,
		Utterance:  e.utterance,
		Generation: uint64(e.gen),
		Profile:    e.profile.Name,
		Playing:    e.state.Playing(),
		Index:      e.state.CurrentIndex,
		Pending:    e.state.PendingIndices(),
		Position:   position,
		Generating: e.generating,
		Weights:    e.weights.Clone(),
		Body:       e.body.Snapshot(),
	}
	if e.blinker != nil {
		f.Blinking = e.blinker.Closed()
	}

	e.frameMu.Lock()
	e.frame = f
	fn := e.onFrame
	e.frameMu.Unlock()

	if fn != nil {
		fn(f)
	}
}

func (e *Engine) shutdown() {
	if e.cancelFetch != nil {
		e.cancelFetch()
		e.cancelFetch = nil
	}
	e.blinker.Stop()
	e.deps.Player.Stop()
}

func (e *Engine) countChunk(event string) {
	if e.deps.Metrics != nil {
		e.deps.Metrics.ChunkEvents.WithLabelValues(event).Inc()
	}
}

func (e *Engine) publish(t bus.EventType, data map[string]any) {
	e.deps.Bus.Publish(bus.NewEvent(t, data))
}
