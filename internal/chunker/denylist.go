package chunker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// MatchMode controls how denylist entries are compared with fragments.
type MatchMode string

const (
	// MatchContains skips any fragment containing an entry.
	MatchContains MatchMode = "contains"
	// MatchExact skips fragments equal to an entry.
	MatchExact MatchMode = "exact"
)

// Denylist holds boilerplate that must never be spoken.
type Denylist struct {
	Match   MatchMode `yaml:"match"`
	Entries []string  `yaml:"entries"`
}

// DefaultDenylist returns the multiple-choice option blocks the question
// backend appends to its answers.
func DefaultDenylist() *Denylist {
	return &Denylist{
		Match: MatchContains,
		Entries: []string{
			"\nA  Below 20 \nB  20s \nC  30s \nD  40s \nE  50s \nF  Above 50s ",
			"\nA  Four Square\nB  Marlboro\nC  Red & White\nD  Stellar\nE  I-GEN Excellence\nF  Funda Confectionery\nG  Funaxx Savouries",
			"\nA  Daily\nB  Weekly\nC  Monthly\nD  Occasionally",
			"\nA  Advertisement\nB  Word of mouth\nC  Online reviews\nD  In-store display",
			"\nA Yes  \nB  No",
			"\nA  5 Star  \nB  Alpen Gold \nC  Cadbury Dairy Milk ",
			"\nA Unique Shape \nB Taste \nC Texture \nD Packaging",
			"\nA  Daily \nB Weekly  \nC  Monthly",
		},
	}
}

// Matches reports whether fragment is denylisted.
func (d *Denylist) Matches(fragment string) bool {
	if d == nil {
		return false
	}
	for _, entry := range d.Entries {
		if entry == "" {
			continue
		}
		if d.Match == MatchExact {
			if fragment == entry {
				return true
			}
			continue
		}
		if strings.Contains(fragment, entry) {
			return true
		}
	}
	return false
}

// LoadDenylist reads a YAML denylist file.
func LoadDenylist(path string) (*Denylist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read denylist: %w", err)
	}

	d := &Denylist{Match: MatchContains}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse denylist %s: %w", path, err)
	}

	switch d.Match {
	case MatchContains, MatchExact:
	case "":
		d.Match = MatchContains
	default:
		return nil, fmt.Errorf("denylist %s: unknown match mode %q", path, d.Match)
	}
	return d, nil
}

// WatchDenylist reloads path into c whenever the file is written or
// replaced, until ctx is done. A reload that fails keeps the previous list.
func WatchDenylist(ctx context.Context, path string, c *Chunker, logger zerolog.Logger) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory so editors that replace the file are picked up.
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	log := logger.With().Str("component", "denylist").Str("path", abs).Logger()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				d, err := LoadDenylist(abs)
				if err != nil {
					log.Warn().Err(err).Msg("Denylist reload failed")
					continue
				}
				c.SetDenylist(d)
				log.Info().Int("entries", len(d.Entries)).Msg("Denylist reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Denylist watcher error")
			}
		}
	}()

	return nil
}
