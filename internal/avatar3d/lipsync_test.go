package avatar3d

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

func nikita(t *testing.T) *Profile {
	p, err := LookupProfile("nikita", nil)
	require.NoError(t, err)
	return p
}

var track = []tts.VisemeCue{
	{Start: 0.0, End: 0.2, Value: "D"},
	{Start: 0.2, End: 0.4, Value: "B"},
	{Start: 0.3, End: 0.5, Value: "E"}, // overlaps B
	{Start: 0.5, End: 0.7, Value: "Q"}, // unmapped
}

func TestTargetSelection(t *testing.T) {
	a := NewAnimator(nikita(t), DefaultAnimatorParams())

	assert.Equal(t, "viseme_AA", a.Target(track, 0.1))
	assert.Equal(t, "viseme_AA", a.Target(track, 0.2), "boundary belongs to first matching cue")
	assert.Equal(t, "viseme_kk", a.Target(track, 0.35), "first match wins over later overlap")
	assert.Equal(t, "viseme_O", a.Target(track, 0.45))
	assert.Equal(t, "", a.Target(track, 0.6), "unmapped code selects nothing")
	assert.Equal(t, "", a.Target(track, 2.0))
	assert.Equal(t, "", a.Target(nil, 0.1))
}

func TestAttackRisesTowardClampedTarget(t *testing.T) {
	a := NewAnimator(nikita(t), DefaultAnimatorParams())

	w := NewMorphWeights()
	var last float32
	for i := 0; i < 200; i++ {
		w = a.ComputeMorphWeights(track, 0.1, w)
		v := w.Get("viseme_AA")
		assert.GreaterOrEqual(t, v, last)
		assert.LessOrEqual(t, v, float32(1))
		last = v
	}
	assert.Equal(t, float32(1), last, "gain*amplitude is clamped to 1")

	first := a.ComputeMorphWeights(track, 0.1, NewMorphWeights())
	assert.InDelta(t, 0.2, first.Get("viseme_AA"), 1e-6, "one attack step from zero")
}

func TestReleaseDecaysWithinBoundedFrames(t *testing.T) {
	params := DefaultAnimatorParams()
	a := NewAnimator(nikita(t), params)

	w := NewMorphWeights()
	w.Set("viseme_AA", 1)

	// After the cue, a different cue is active.
	frames := 0
	for w.Get("viseme_AA") > 0 {
		w = a.ComputeMorphWeights(track, 0.25, w)
		frames++
		require.Less(t, frames, 100)
	}
	// 0.9^n < 0.001 once n >= 66
	assert.LessOrEqual(t, frames, 66)
	assert.Greater(t, w.Get("viseme_kk"), float32(0))
}

func TestReleaseIsSlowerThanAttack(t *testing.T) {
	a := NewAnimator(nikita(t), DefaultAnimatorParams())

	w := NewMorphWeights()
	w.Set("viseme_AA", 0.5)
	w.Set("viseme_kk", 0.5)

	next := a.ComputeMorphWeights(track, 0.25, w)
	assert.InDelta(t, 0.6, next.Get("viseme_kk"), 1e-6)
	assert.InDelta(t, 0.45, next.Get("viseme_AA"), 1e-6)
}

func TestUnmappedCueReleasesEverything(t *testing.T) {
	a := NewAnimator(nikita(t), DefaultAnimatorParams())
	w := NewMorphWeights()
	w.Set("viseme_O", 0.5)

	next := a.ComputeMorphWeights(track, 0.6, w)
	assert.InDelta(t, 0.45, next.Get("viseme_O"), 1e-6)
}

func TestDecayAndPassThrough(t *testing.T) {
	params := DefaultAnimatorParams()
	params.IdleReleaseRate = 0.5
	a := NewAnimator(nikita(t), params)

	w := NewMorphWeights()
	w.Set("viseme_U", 0.8)
	w.Set("eyeBlinkLeft", 0.7)

	next := a.Decay(w)
	assert.InDelta(t, 0.4, next.Get("viseme_U"), 1e-6)
	assert.Equal(t, float32(0.7), next.Get("eyeBlinkLeft"), "non-mouth shapes untouched")
	assert.Equal(t, float32(0.8), w.Get("viseme_U"), "input not mutated")
}

func TestMorphWeightsClamp(t *testing.T) {
	w := NewMorphWeights()
	w.Set("a", 1.7)
	w.Set("b", -0.3)
	assert.Equal(t, float32(1), w.Get("a"))
	assert.Equal(t, float32(0), w.Get("b"))
	assert.Equal(t, []string{"a", "b"}, w.Names())
}
