package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/WachasWps/AI-Avatar-Chat/internal/bus"
)

var speakTimeout time.Duration

var speakCmd = &cobra.Command{
	Use:   "speak [text]",
	Short: "Synthesize and play one answer headlessly, printing pipeline events",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runSpeak,
}

func init() {
	speakCmd.Flags().DurationVar(&speakTimeout, "timeout", 2*time.Minute, "give up after this long")
}

// progress tracks which fragments of the utterance have settled.
type progress struct {
	mu        sync.Mutex
	fragments int
	settled   map[int]bool
	failed    error
}

func (p *progress) observe(ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch ev.Type {
	case bus.EventTypeUtteranceStarted:
		if n, ok := ev.Data["fragments"].(int); ok {
			p.fragments = n
		}
	case bus.EventTypeChunkFetched, bus.EventTypeChunkFailed:
		if i, ok := ev.Data["index"].(int); ok {
			p.settled[i] = true
		}
	case bus.EventTypeSpeechFailed:
		msg, _ := ev.Data["error"].(string)
		p.failed = errors.New(msg)
	}
}

func (p *progress) state() (done bool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fragments > 0 && len(p.settled) == p.fragments, p.failed
}

func runSpeak(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer log.Close()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	prog := &progress{settled: make(map[int]bool)}
	a.bus.SubscribeAll(func(ev bus.Event) {
		prog.observe(ev)
		switch ev.Type {
		case bus.EventTypePlaybackStarted:
			fmt.Fprintf(cmd.OutOrStdout(), "%s  playing chunk %v\n", ev.Time.Format("15:04:05.000"), ev.Data["index"])
		case bus.EventTypeChunkBuffered:
			fmt.Fprintf(cmd.OutOrStdout(), "%s  buffered chunk %v\n", ev.Time.Format("15:04:05.000"), ev.Data["index"])
		case bus.EventTypeChunkFailed:
			fmt.Fprintf(cmd.OutOrStdout(), "%s  chunk %v failed: %v\n", ev.Time.Format("15:04:05.000"), ev.Data["index"], ev.Data["error"])
		}
	})

	ctx, cancel := context.WithTimeout(cmd.Context(), speakTimeout)
	defer cancel()

	runErr := make(chan error, 1)
	go func() { runErr <- a.engine.Run(ctx) }()

	if err := a.engine.Submit(ctx, strings.Join(args, " ")); err != nil {
		return err
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	var settledAt uint64
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("speak: %w", ctx.Err())
		case err := <-runErr:
			return err
		case <-ticker.C:
			done, failed := prog.state()
			if failed != nil {
				return failed
			}
			if !done {
				continue
			}
			// Only a frame rendered after the last fetch settled shows
			// its effect on playback.
			f := a.engine.Frame()
			if settledAt == 0 {
				settledAt = f.Seq
				continue
			}
			if f.Seq > settledAt && !f.Playing {
				fmt.Fprintln(cmd.OutOrStdout(), "done")
				return nil
			}
		}
	}
}
