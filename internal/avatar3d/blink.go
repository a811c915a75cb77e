package avatar3d

import (
	"math/rand"
	"sync"
	"time"

	"github.com/WachasWps/AI-Avatar-Chat/internal/clock"
)

type BlinkParams struct {
	MinGap   time.Duration
	MaxGap   time.Duration
	Closed   time.Duration
	LerpRate float32
}

func DefaultBlinkParams() BlinkParams {
	return BlinkParams{
		MinGap:   2 * time.Second,
		MaxGap:   4 * time.Second,
		Closed:   100 * time.Millisecond,
		LerpRate: 0.2,
	}
}

// Blinker schedules blinks independently of speech. It owns exactly one
// pending timer while running; Stop cancels it.
type Blinker struct {
	params BlinkParams
	clock  clock.Clock

	mu      sync.Mutex
	rng     *rand.Rand
	timer   clock.Timer
	running bool
	closed  bool
	token   uint64
	blinks  int
}

func NewBlinker(params BlinkParams, c clock.Clock, rng *rand.Rand) *Blinker {
	if c == nil {
		c = clock.Real{}
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Blinker{params: params, clock: c, rng: rng}
}

// NextGap draws a delay uniformly from [MinGap, MaxGap).
func (b *Blinker) NextGap() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextGapLocked()
}

func (b *Blinker) nextGapLocked() time.Duration {
	span := b.params.MaxGap - b.params.MinGap
	if span <= 0 {
		return b.params.MinGap
	}
	return b.params.MinGap + time.Duration(b.rng.Int63n(int64(span)))
}

func (b *Blinker) Start() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.running {
		return
	}
	b.running = true
	b.scheduleLocked(b.nextGapLocked(), b.close)
}

func (b *Blinker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
	b.closed = false
	b.token++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *Blinker) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Closed reports whether the eyes should currently be shut.
func (b *Blinker) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Blinker) Blinks() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blinks
}

func (b *Blinker) scheduleLocked(d time.Duration, fn func(uint64)) {
	b.token++
	token := b.token
	b.timer = b.clock.AfterFunc(d, func() { fn(token) })
}

func (b *Blinker) close(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.token || !b.running {
		return
	}
	b.closed = true
	b.blinks++
	b.scheduleLocked(b.params.Closed, b.open)
}

func (b *Blinker) open(token uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if token != b.token || !b.running {
		return
	}
	b.closed = false
	b.scheduleLocked(b.nextGapLocked(), b.close)
}

// Apply smooths the eyelid shapes toward the current open/closed target.
func (b *Blinker) Apply(prev MorphWeights, shapes []string) MorphWeights {
	target := float32(0)
	if b.Closed() {
		target = 1
	}
	next := prev.Clone()
	for _, s := range shapes {
		next.approach(s, target, b.params.LerpRate, 0.001)
	}
	return next
}
