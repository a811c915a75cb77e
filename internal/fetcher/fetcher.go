// Package fetcher issues synthesis requests for the fragments of one
// submission. Requests are staggered by a fixed interval but never wait for
// each other, so results arrive in any order. Nothing is retried.
package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/WachasWps/AI-Avatar-Chat/internal/chunker"
	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

// Generation scopes the fetches of one submission.
type Generation uint64

// Synthesizer turns one fragment into a chunk.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, index int, text string) (*tts.Chunk, error)
}

// Result is the outcome of one fragment fetch. Exactly one of Chunk and Err
// is set.
type Result struct {
	Generation Generation
	Index      int
	Chunk      *tts.Chunk
	Err        error
	Latency    time.Duration
}

// Config controls request pacing.
type Config struct {
	// Interval separates the issue times of consecutive fragments.
	Interval time.Duration
	// Timeout bounds each request; zero means no deadline.
	Timeout time.Duration
}

// Fetcher dispatches fragment fetches.
type Fetcher struct {
	synth   Synthesizer
	config  Config
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates a Fetcher. metrics may be nil.
func New(synth Synthesizer, config Config, m *metrics.Metrics, logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		synth:   synth,
		config:  config,
		metrics: m,
		logger:  logger.With().Str("component", "fetcher").Logger(),
	}
}

// Start issues one request per fragment: the first immediately, each later
// one Interval after the previous was issued. deliver is called once per
// issued request from the request's goroutine. Cancelling ctx stops issuing
// and aborts requests in flight. The returned channel closes when every
// issued request has been delivered.
func (f *Fetcher) Start(ctx context.Context, gen Generation, fragments []chunker.Fragment, deliver func(Result)) <-chan struct{} {
	done := make(chan struct{})

	go func() {
		var wg sync.WaitGroup
		defer func() {
			wg.Wait()
			close(done)
		}()

		for k, frag := range fragments {
			if k > 0 && f.config.Interval > 0 {
				t := time.NewTimer(f.config.Interval)
				select {
				case <-ctx.Done():
					t.Stop()
					f.logger.Debug().
						Uint64("generation", uint64(gen)).
						Int("remaining", len(fragments)-k).
						Msg("Dispatch cancelled")
					return
				case <-t.C:
				}
			} else if ctx.Err() != nil {
				return
			}

			wg.Add(1)
			go func(frag chunker.Fragment) {
				defer wg.Done()
				deliver(f.fetch(ctx, gen, frag))
			}(frag)
		}
	}()

	return done
}

func (f *Fetcher) fetch(ctx context.Context, gen Generation, frag chunker.Fragment) Result {
	ctx, span := tracer.Start(ctx, "synthesize fragment", trace.WithAttributes(
		attribute.Int("fragment.index", frag.Index),
		attribute.Int64("fragment.generation", int64(gen)),
		attribute.Int("fragment.length", len(frag.Text)),
		attribute.String("synthesis.provider", f.synth.Name()),
	))
	defer span.End()

	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	if f.metrics != nil {
		f.metrics.Fragments.Inc()
	}

	start := time.Now()
	chunk, err := f.synth.Synthesize(ctx, frag.Index, frag.Text)
	latency := time.Since(start)

	if f.metrics != nil {
		f.metrics.ObserveFetch(f.synth.Name(), latency, err)
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{Generation: gen, Index: frag.Index, Err: err, Latency: latency}
	}

	span.SetAttributes(attribute.Int("chunk.cues", len(chunk.Track)))
	chunk.Index = frag.Index
	return Result{Generation: gen, Index: frag.Index, Chunk: chunk, Latency: latency}
}
