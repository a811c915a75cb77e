package playback

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

func chunk(i int) *tts.Chunk {
	return &tts.Chunk{Index: i, Audio: []byte{byte(i)}, Track: []tts.VisemeCue{}}
}

// harness drives the reducer the way the engine does and records plays.
type harness struct {
	t      *testing.T
	state  State
	played []int
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, state: Initial()}
}

func (h *harness) apply(e Event) []Effect {
	prev := h.state
	h.state = Transition(prev, e)
	effects := Diff(prev, h.state)
	for _, eff := range effects {
		if eff.Kind == EffectPlay {
			h.played = append(h.played, eff.Index)
		}
	}
	h.checkInvariants()
	return effects
}

func (h *harness) checkInvariants() {
	s := h.state
	if s.Playing() {
		require.Equal(h.t, s.CurrentIndex, s.NowPlaying.Index, "playing chunk must be current")
	}
	for k := range s.Pending {
		require.Greater(h.t, k, s.CurrentIndex, "pending holds only future chunks")
	}
}

func (h *harness) end() []Effect {
	return h.apply(AudioEnded{Index: h.state.CurrentIndex})
}

func permutations(n int) [][]int {
	var out [][]int
	var rec func([]int, int)
	rec = func(a []int, k int) {
		if k == len(a) {
			out = append(out, append([]int(nil), a...))
			return
		}
		for i := k; i < len(a); i++ {
			a[k], a[i] = a[i], a[k]
			rec(a, k+1)
			a[k], a[i] = a[i], a[k]
		}
	}
	base := make([]int, n)
	for i := range base {
		base[i] = i
	}
	rec(base, 0)
	return out
}

func sequence(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

func TestPlayedOrderUnderAnyArrivalOrder(t *testing.T) {
	for n := 1; n <= 5; n++ {
		for _, perm := range permutations(n) {
			// Audio never ends until everything has arrived.
			h := newHarness(t)
			for _, idx := range perm {
				h.apply(ChunkArrived{Chunk: chunk(idx)})
			}
			for h.state.Playing() {
				h.end()
			}
			assert.Equal(t, sequence(n), h.played, "slow audio, arrival %v", perm)

			// Audio ends as soon as it can after every arrival.
			h = newHarness(t)
			for _, idx := range perm {
				h.apply(ChunkArrived{Chunk: chunk(idx)})
				for h.state.Playing() {
					h.end()
				}
			}
			assert.Equal(t, sequence(n), h.played, "fast audio, arrival %v", perm)
		}
	}
}

func TestRandomInterleavings(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 500; iter++ {
		n := 1 + rng.Intn(8)
		arrivals := rng.Perm(n)
		h := newHarness(t)

		for len(arrivals) > 0 || h.state.Playing() {
			if len(arrivals) > 0 && (!h.state.Playing() || rng.Intn(2) == 0) {
				h.apply(ChunkArrived{Chunk: chunk(arrivals[0])})
				arrivals = arrivals[1:]
				continue
			}
			h.end()
		}
		assert.Equal(t, sequence(n), h.played)
	}
}

func TestExampleScenario(t *testing.T) {
	h := newHarness(t)

	// t=100ms: chunk 1 arrives first and waits for its predecessor.
	effects := h.apply(ChunkArrived{Chunk: chunk(1)})
	require.Len(t, effects, 1)
	assert.Equal(t, EffectBuffer, effects[0].Kind)
	assert.False(t, h.state.Playing())

	// t=300ms: chunk 0 plays and the avatar starts talking.
	effects = h.apply(ChunkArrived{Chunk: chunk(0)})
	assert.Equal(t, []EffectKind{EffectPlay, EffectTalkingStarted}, kinds(effects))
	assert.Equal(t, []int{1}, h.state.PendingIndices())

	// chunk 0 ends: buffered chunk 1 plays with no idle gap.
	effects = h.end()
	assert.Equal(t, []EffectKind{EffectStop, EffectPlay}, kinds(effects))
	assert.Equal(t, 1, h.state.CurrentIndex)

	// chunk 1 ends before chunk 2 arrived: idle.
	effects = h.end()
	assert.Equal(t, []EffectKind{EffectStop, EffectTalkingStopped}, kinds(effects))
	assert.False(t, h.state.Playing())

	// t=500ms: chunk 2 resumes playback without any other trigger.
	effects = h.apply(ChunkArrived{Chunk: chunk(2)})
	assert.Equal(t, []EffectKind{EffectPlay, EffectTalkingStarted}, kinds(effects))

	h.end()
	assert.Equal(t, []int{0, 1, 2}, h.played)
}

func kinds(effects []Effect) []EffectKind {
	out := make([]EffectKind, len(effects))
	for i, e := range effects {
		out[i] = e.Kind
	}
	return out
}

func TestStaleChunkHasNoEffect(t *testing.T) {
	h := newHarness(t)
	h.apply(ChunkArrived{Chunk: chunk(0)})
	h.end()
	h.apply(ChunkArrived{Chunk: chunk(1)})
	h.apply(ChunkArrived{Chunk: chunk(3)})

	before := h.state
	for _, idx := range []int{1, 3} {
		effects := h.apply(ChunkArrived{Chunk: chunk(idx)})
		assert.Empty(t, effects, "index %d", idx)
	}
	assert.Equal(t, before, h.state)
}

func TestGapWaitsWithoutSkipping(t *testing.T) {
	h := newHarness(t)
	h.apply(ChunkArrived{Chunk: chunk(0)})
	h.apply(ChunkArrived{Chunk: chunk(2)})
	h.end()

	assert.False(t, h.state.Playing())
	assert.Equal(t, 0, h.state.CurrentIndex)
	assert.Equal(t, []int{2}, h.state.PendingIndices())
	assert.Equal(t, []int{0}, h.played)
}

func TestEndForOtherIndexIgnored(t *testing.T) {
	h := newHarness(t)
	h.apply(ChunkArrived{Chunk: chunk(0)})
	h.apply(ChunkArrived{Chunk: chunk(1)})

	effects := h.apply(AudioEnded{Index: 5})
	assert.Empty(t, effects)

	effects = h.apply(AudioEnded{Index: 0})
	assert.NotEmpty(t, effects)
	assert.Equal(t, 1, h.state.CurrentIndex)

	// idle end is a no-op
	idle := Initial()
	assert.Equal(t, idle, Transition(idle, AudioEnded{Index: -1}))
}

func TestResetStopsAndClears(t *testing.T) {
	h := newHarness(t)
	h.apply(ChunkArrived{Chunk: chunk(0)})
	h.apply(ChunkArrived{Chunk: chunk(2)})

	effects := h.apply(Reset{})
	assert.Equal(t, []EffectKind{EffectStop, EffectTalkingStopped}, kinds(effects))
	assert.Equal(t, Initial(), h.state)
}

func TestChunkZeroRestartsUtterance(t *testing.T) {
	h := newHarness(t)
	h.apply(ChunkArrived{Chunk: chunk(0)})
	h.end()
	h.apply(ChunkArrived{Chunk: chunk(1)})

	first := chunk(0)
	effects := h.apply(ChunkArrived{Chunk: first})
	assert.Equal(t, []EffectKind{EffectStop, EffectPlay}, kinds(effects))
	assert.Same(t, first, h.state.NowPlaying)
	assert.Equal(t, 0, h.state.CurrentIndex)
}

func TestDuplicatePendingIgnored(t *testing.T) {
	h := newHarness(t)
	first := chunk(2)
	h.apply(ChunkArrived{Chunk: first})
	effects := h.apply(ChunkArrived{Chunk: chunk(2)})
	assert.Empty(t, effects)
	assert.Same(t, first, h.state.Pending[2])
}

func TestTransitionDoesNotMutateInput(t *testing.T) {
	s := Transition(Initial(), ChunkArrived{Chunk: chunk(0)})
	s = Transition(s, ChunkArrived{Chunk: chunk(1)})
	require.Len(t, s.Pending, 1)

	next := Transition(s, ChunkArrived{Chunk: chunk(2)})
	assert.Len(t, s.Pending, 1)
	assert.Len(t, next.Pending, 2)

	after := Transition(next, AudioEnded{Index: 0})
	assert.Len(t, next.Pending, 2)
	assert.Equal(t, []int{2}, after.PendingIndices())
}

func TestNilChunkIgnored(t *testing.T) {
	s := Initial()
	assert.Equal(t, s, Transition(s, ChunkArrived{}))
}
