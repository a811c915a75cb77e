// Package playback orders synthesized chunks into contiguous, one at a time
// playback.
//
// The sequencer is a pure reducer: Transition never mutates its input and
// never performs I/O. Callers apply it to the authoritative current state
// and turn the difference between two states into side effects with Diff.
package playback

import (
	"sort"

	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

// State is the sequencer's view of one utterance.
type State struct {
	// CurrentIndex is the index of the playing chunk, or of the last chunk
	// played when idle. -1 before anything has played.
	CurrentIndex int
	// NowPlaying is the chunk whose audio is active, nil when idle.
	NowPlaying *tts.Chunk
	// Pending holds arrived chunks with index > CurrentIndex.
	Pending map[int]*tts.Chunk
}

// Initial returns the idle state of a fresh generation.
func Initial() State {
	return State{CurrentIndex: -1}
}

// Playing reports whether a chunk is active.
func (s State) Playing() bool {
	return s.NowPlaying != nil
}

// PendingIndices returns the buffered indices in ascending order.
func (s State) PendingIndices() []int {
	out := make([]int, 0, len(s.Pending))
	for k := range s.Pending {
		out = append(out, k)
	}
	sort.Ints(out)
	return out
}

// Event is an input to Transition.
type Event interface {
	isEvent()
}

// ChunkArrived delivers a fetched chunk of the current generation.
type ChunkArrived struct {
	Chunk *tts.Chunk
}

// AudioEnded reports that the chunk with Index finished playing.
type AudioEnded struct {
	Index int
}

// Reset starts a new generation: stop, clear and go idle.
type Reset struct{}

func (ChunkArrived) isEvent() {}
func (AudioEnded) isEvent()   {}
func (Reset) isEvent()        {}

// Transition computes the next state. It is total: events that do not apply
// to the current state return it unchanged.
func Transition(s State, e Event) State {
	switch ev := e.(type) {
	case Reset:
		return Initial()

	case ChunkArrived:
		c := ev.Chunk
		if c == nil {
			return s
		}
		if c.Index == 0 {
			// Index 0 opens the utterance. Later chunks of the same generation
			// that arrived first stay buffered.
			return State{
				CurrentIndex: 0,
				NowPlaying:   c,
				Pending:      without(s.Pending, func(k int) bool { return k <= 0 }),
			}
		}
		if c.Index <= s.CurrentIndex {
			return s
		}
		if _, dup := s.Pending[c.Index]; dup {
			return s
		}
		if !s.Playing() && c.Index == s.CurrentIndex+1 {
			return State{
				CurrentIndex: c.Index,
				NowPlaying:   c,
				Pending:      s.Pending,
			}
		}
		return State{
			CurrentIndex: s.CurrentIndex,
			NowPlaying:   s.NowPlaying,
			Pending:      with(s.Pending, c),
		}

	case AudioEnded:
		if !s.Playing() || ev.Index != s.CurrentIndex {
			return s
		}
		next := s.CurrentIndex + 1
		if c, ok := s.Pending[next]; ok {
			return State{
				CurrentIndex: next,
				NowPlaying:   c,
				Pending:      without(s.Pending, func(k int) bool { return k == next }),
			}
		}
		return State{
			CurrentIndex: s.CurrentIndex,
			Pending:      s.Pending,
		}
	}
	return s
}

func with(m map[int]*tts.Chunk, c *tts.Chunk) map[int]*tts.Chunk {
	out := make(map[int]*tts.Chunk, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[c.Index] = c
	return out
}

func without(m map[int]*tts.Chunk, drop func(int) bool) map[int]*tts.Chunk {
	if len(m) == 0 {
		return nil
	}
	out := make(map[int]*tts.Chunk, len(m))
	for k, v := range m {
		if !drop(k) {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
