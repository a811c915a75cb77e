package avatar3d

import (
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

type AnimatorParams struct {
	AttackRate      float32
	ReleaseRate     float32
	IdleReleaseRate float32
	Gain            float32
	Amplitude       float32
	SnapEpsilon     float32
}

func DefaultAnimatorParams() AnimatorParams {
	return AnimatorParams{
		AttackRate:      0.2,
		ReleaseRate:     0.1,
		IdleReleaseRate: 0.1,
		Gain:            1.5,
		Amplitude:       1.0,
		SnapEpsilon:     0.001,
	}
}

// Animator turns a viseme track and a playback position into mouth weights.
// It keeps no state between frames; the previous frame is an input.
type Animator struct {
	table  map[string]string
	mouth  []string
	params AnimatorParams
}

func NewAnimator(p *Profile, params AnimatorParams) *Animator {
	return &Animator{
		table:  copyTable(p.Visemes),
		mouth:  p.MouthShapes(),
		params: params,
	}
}

func (a *Animator) MouthShapes() []string {
	return a.mouth
}

// Target returns the blend shape selected at time t, or "" when no cue is
// active or the active cue's code is unmapped.
func (a *Animator) Target(track []tts.VisemeCue, t float64) string {
	for _, cue := range track {
		if cue.Start <= t && t <= cue.End {
			// first match wins, later overlaps are ignored
			return a.table[cue.Value]
		}
	}
	return ""
}

// ComputeMorphWeights returns the next frame for a playing chunk. Keys in
// prev that are not mouth shapes are carried over unchanged.
func (a *Animator) ComputeMorphWeights(track []tts.VisemeCue, t float64, prev MorphWeights) MorphWeights {
	next := prev.Clone()
	selected := a.Target(track, t)

	if selected != "" {
		target := clamp(a.params.Amplitude*a.params.Gain, 0, 1)
		next.approach(selected, target, a.params.AttackRate, a.params.SnapEpsilon)
	}
	for _, shape := range a.mouth {
		if shape == selected {
			continue
		}
		next.approach(shape, 0, a.params.ReleaseRate, a.params.SnapEpsilon)
	}
	return next
}

// Decay returns the next frame while nothing is playing.
func (a *Animator) Decay(prev MorphWeights) MorphWeights {
	next := prev.Clone()
	for _, shape := range a.mouth {
		next.approach(shape, 0, a.params.IdleReleaseRate, a.params.SnapEpsilon)
	}
	return next
}
