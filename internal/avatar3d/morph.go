package avatar3d

import (
	"sort"

	"github.com/go-gl/mathgl/mgl32"
)

// MorphWeights maps blend-shape names to weights in [0,1]. A fresh map is
// produced every frame; nothing holds on to old frames.
type MorphWeights map[string]float32

func NewMorphWeights() MorphWeights {
	return make(MorphWeights)
}

func (w MorphWeights) Set(name string, value float32) {
	w[name] = clamp(value, 0, 1)
}

func (w MorphWeights) Get(name string) float32 {
	return w[name]
}

func (w MorphWeights) Clone() MorphWeights {
	out := make(MorphWeights, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func (w MorphWeights) Names() []string {
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// approach moves name toward target by rate and snaps to the target once
// within eps of it.
func (w MorphWeights) approach(name string, target, rate, eps float32) {
	v := lerp(w[name], target, rate)
	if abs32(v-target) < eps {
		v = target
	}
	w.Set(name, v)
}

func lerp(a, b, t float32) float32 {
	if t <= 0 {
		return a
	}
	if t >= 1 {
		return b
	}
	return a + (b-a)*t
}

func clamp(v, min, max float32) float32 {
	return mgl32.Clamp(v, min, max)
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}
