// Package chunker splits answer text into speakable fragments.
package chunker

import (
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultDelimiter separates sentences in answer text.
const DefaultDelimiter = ". "

// Fragment is one slice of submitted text awaiting synthesis. Indices are
// contiguous from 0 over the fragments that survived filtering.
type Fragment struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Chunker splits text on a delimiter and drops denylisted fragments.
type Chunker struct {
	delimiter string
	logger    zerolog.Logger

	mu       sync.RWMutex
	denylist *Denylist
}

// New creates a Chunker. A nil denylist uses DefaultDenylist.
func New(delimiter string, denylist *Denylist, logger zerolog.Logger) *Chunker {
	if delimiter == "" {
		delimiter = DefaultDelimiter
	}
	if denylist == nil {
		denylist = DefaultDenylist()
	}
	return &Chunker{
		delimiter: delimiter,
		denylist:  denylist,
		logger:    logger.With().Str("component", "chunker").Logger(),
	}
}

// SetDenylist swaps the active denylist.
func (c *Chunker) SetDenylist(d *Denylist) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.denylist = d
}

// Denylist returns the active denylist.
func (c *Chunker) Denylist() *Denylist {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.denylist
}

// Split returns the ordered fragments of text. Blank and denylisted pieces
// are skipped and do not consume an index.
func (c *Chunker) Split(text string) []Fragment {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	deny := c.Denylist()

	var fragments []Fragment
	for pos, piece := range strings.Split(text, c.delimiter) {
		if deny.Matches(piece) {
			c.logger.Debug().Int("position", pos).Msg("Skipping denylisted fragment")
			continue
		}
		trimmed := strings.TrimSpace(piece)
		if trimmed == "" {
			continue
		}
		fragments = append(fragments, Fragment{Index: len(fragments), Text: trimmed})
	}
	return fragments
}
