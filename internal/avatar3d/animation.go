package avatar3d

import (
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl32"
)

type BodyState string

const (
	BodyIdle    BodyState = "idle"
	BodyTalking BodyState = "talking"
)

// BodySnapshot is what the renderer needs to pose the body this frame:
// Clip fades in with weight Blend while PreviousClip fades out.
type BodySnapshot struct {
	State        BodyState `json:"state"`
	Clip         string    `json:"clip"`
	PreviousClip string    `json:"previousClip,omitempty"`
	Blend        float32   `json:"blend"`
	TimeScale    float64   `json:"timeScale"`
}

// BodyAnimator switches between the idle and talking clips with a fixed
// length cross-fade.
type BodyAnimator struct {
	mu sync.Mutex

	idleClip    string
	talkingClip string
	timeScale   float64
	fade        time.Duration

	state    BodyState
	clip     string
	previous string
	elapsed  time.Duration
}

func NewBodyAnimator(p *Profile, fade time.Duration) *BodyAnimator {
	talking := p.TalkingClip
	if talking == "" {
		talking = p.IdleClip
	}
	scale := p.TimeScale
	if scale == 0 {
		scale = 1
	}
	return &BodyAnimator{
		idleClip:    p.IdleClip,
		talkingClip: talking,
		timeScale:   scale,
		fade:        fade,
		state:       BodyIdle,
		clip:        p.IdleClip,
		elapsed:     fade,
	}
}

// SetTalking moves to Talking or Idle. It reports whether the state changed.
func (b *BodyAnimator) SetTalking(talking bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	next, clip := BodyIdle, b.idleClip
	if talking {
		next, clip = BodyTalking, b.talkingClip
	}
	if next == b.state {
		return false
	}
	b.state = next
	if clip != b.clip {
		b.previous = b.clip
		b.clip = clip
		b.elapsed = 0
	}
	return true
}

// Update advances the cross-fade.
func (b *BodyAnimator) Update(dt time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.elapsed >= b.fade {
		return
	}
	b.elapsed += dt
	if b.elapsed >= b.fade {
		b.elapsed = b.fade
		b.previous = ""
	}
}

func (b *BodyAnimator) State() BodyState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *BodyAnimator) Snapshot() BodySnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	blend := float32(1)
	if b.fade > 0 && b.previous != "" {
		blend = mgl32.Clamp(float32(b.elapsed)/float32(b.fade), 0, 1)
	}
	return BodySnapshot{
		State:        b.state,
		Clip:         b.clip,
		PreviousClip: b.previous,
		Blend:        blend,
		TimeScale:    b.timeScale,
	}
}
