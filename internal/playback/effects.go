package playback

import "github.com/WachasWps/AI-Avatar-Chat/internal/tts"

// EffectKind names a side effect implied by a state change.
type EffectKind int

const (
	// EffectStop halts the active audio.
	EffectStop EffectKind = iota
	// EffectPlay starts Chunk.
	EffectPlay
	// EffectBuffer records that Index was queued for later.
	EffectBuffer
	// EffectTalkingStarted fires on Idle to Playing.
	EffectTalkingStarted
	// EffectTalkingStopped fires on Playing to Idle.
	EffectTalkingStopped
)

func (k EffectKind) String() string {
	switch k {
	case EffectStop:
		return "stop"
	case EffectPlay:
		return "play"
	case EffectBuffer:
		return "buffer"
	case EffectTalkingStarted:
		return "talking_started"
	case EffectTalkingStopped:
		return "talking_stopped"
	default:
		return "unknown"
	}
}

// Effect is one action the owner of the state must perform.
type Effect struct {
	Kind  EffectKind
	Index int
	Chunk *tts.Chunk
}

// Diff lists the effects of moving from prev to next, in the order they must
// be applied. An empty result means the event had no observable effect.
func Diff(prev, next State) []Effect {
	var effects []Effect

	switched := next.NowPlaying != prev.NowPlaying
	if prev.Playing() && switched {
		effects = append(effects, Effect{Kind: EffectStop, Index: prev.NowPlaying.Index, Chunk: prev.NowPlaying})
	}
	if next.Playing() && switched {
		effects = append(effects, Effect{Kind: EffectPlay, Index: next.NowPlaying.Index, Chunk: next.NowPlaying})
	}

	for _, idx := range next.PendingIndices() {
		if _, had := prev.Pending[idx]; !had {
			effects = append(effects, Effect{Kind: EffectBuffer, Index: idx, Chunk: next.Pending[idx]})
		}
	}

	switch {
	case !prev.Playing() && next.Playing():
		effects = append(effects, Effect{Kind: EffectTalkingStarted, Index: next.NowPlaying.Index})
	case prev.Playing() && !next.Playing():
		effects = append(effects, Effect{Kind: EffectTalkingStopped, Index: prev.NowPlaying.Index})
	}

	return effects
}
