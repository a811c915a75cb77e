package fetcher

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WachasWps/AI-Avatar-Chat/internal/chunker"
	"github.com/WachasWps/AI-Avatar-Chat/internal/metrics"
	"github.com/WachasWps/AI-Avatar-Chat/internal/tts"
)

type mockSynth struct {
	mu     sync.Mutex
	calls  []int
	issued map[int]time.Time
	delay  map[int]time.Duration
	failOn map[int]error
}

func newMockSynth() *mockSynth {
	return &mockSynth{
		issued: make(map[int]time.Time),
		delay:  make(map[int]time.Duration),
		failOn: make(map[int]error),
	}
}

func (m *mockSynth) Name() string { return "mock" }

func (m *mockSynth) Synthesize(ctx context.Context, index int, text string) (*tts.Chunk, error) {
	m.mu.Lock()
	m.calls = append(m.calls, index)
	m.issued[index] = time.Now()
	delay := m.delay[index]
	failure := m.failOn[index]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if failure != nil {
		return nil, failure
	}
	return &tts.Chunk{
		Audio:  []byte(text),
		Format: "mp3",
		Track:  []tts.VisemeCue{{Start: 0, End: 0.5, Value: "A"}},
	}, nil
}

func (m *mockSynth) Calls() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]int(nil), m.calls...)
	sort.Ints(out)
	return out
}

type collector struct {
	mu      sync.Mutex
	results []Result
}

func (c *collector) deliver(r Result) {
	c.mu.Lock()
	c.results = append(c.results, r)
	c.mu.Unlock()
}

func (c *collector) byIndex() map[int]Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]Result, len(c.results))
	for _, r := range c.results {
		out[r.Index] = r
	}
	return out
}

func fragments(texts ...string) []chunker.Fragment {
	out := make([]chunker.Fragment, len(texts))
	for i, t := range texts {
		out[i] = chunker.Fragment{Index: i, Text: t}
	}
	return out
}

func wait(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("fetches did not settle")
	}
}

func TestStartFetchesEveryFragmentOnce(t *testing.T) {
	synth := newMockSynth()
	f := New(synth, Config{Interval: 5 * time.Millisecond}, nil, zerolog.Nop())

	var c collector
	wait(t, f.Start(context.Background(), 7, fragments("a", "b", "c", "d"), c.deliver))

	assert.Equal(t, []int{0, 1, 2, 3}, synth.Calls())
	got := c.byIndex()
	require.Len(t, got, 4)
	for i := 0; i < 4; i++ {
		r := got[i]
		require.NoError(t, r.Err)
		assert.Equal(t, Generation(7), r.Generation)
		assert.Equal(t, i, r.Chunk.Index)
	}
	assert.Equal(t, "c", string(got[2].Chunk.Audio))
}

func TestStartStaggersRequests(t *testing.T) {
	synth := newMockSynth()
	interval := 40 * time.Millisecond
	f := New(synth, Config{Interval: interval}, nil, zerolog.Nop())

	var c collector
	wait(t, f.Start(context.Background(), 1, fragments("a", "b", "c"), c.deliver))

	synth.mu.Lock()
	defer synth.mu.Unlock()
	assert.GreaterOrEqual(t, synth.issued[1].Sub(synth.issued[0]), interval-5*time.Millisecond)
	assert.GreaterOrEqual(t, synth.issued[2].Sub(synth.issued[1]), interval-5*time.Millisecond)
}

func TestRequestsDoNotWaitForEachOther(t *testing.T) {
	synth := newMockSynth()
	synth.delay[0] = 200 * time.Millisecond
	f := New(synth, Config{Interval: 10 * time.Millisecond}, nil, zerolog.Nop())

	order := make(chan int, 2)
	done := f.Start(context.Background(), 1, fragments("slow", "fast"), func(r Result) {
		order <- r.Index
	})
	wait(t, done)

	assert.Equal(t, 1, <-order, "later fragment should arrive first")
	assert.Equal(t, 0, <-order)
}

func TestFailuresAreDeliveredWithoutRetry(t *testing.T) {
	synth := newMockSynth()
	boom := errors.New("provider down")
	synth.failOn[1] = boom
	m := metrics.New("test")
	f := New(synth, Config{}, m, zerolog.Nop())

	var c collector
	wait(t, f.Start(context.Background(), 2, fragments("a", "b", "c"), c.deliver))

	assert.Equal(t, []int{0, 1, 2}, synth.Calls(), "no fragment is requested twice")
	got := c.byIndex()
	assert.ErrorIs(t, got[1].Err, boom)
	assert.Nil(t, got[1].Chunk)
	assert.NoError(t, got[0].Err)
	assert.NoError(t, got[2].Err)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.Fragments))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FetchResults.WithLabelValues("mock", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FetchResults.WithLabelValues("mock", "ok")))
}

func TestCancelStopsDispatch(t *testing.T) {
	synth := newMockSynth()
	f := New(synth, Config{Interval: time.Hour}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	done := f.Start(ctx, 3, fragments("a", "b", "c"), c.deliver)

	require.Eventually(t, func() bool { return len(c.byIndex()) == 1 }, time.Second, time.Millisecond)
	cancel()
	wait(t, done)

	assert.Equal(t, []int{0}, synth.Calls())
}

func TestCancelAbortsInFlight(t *testing.T) {
	synth := newMockSynth()
	synth.delay[0] = time.Hour
	f := New(synth, Config{}, nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	var c collector
	done := f.Start(ctx, 4, fragments("a"), c.deliver)

	require.Eventually(t, func() bool { return len(synth.Calls()) == 1 }, time.Second, time.Millisecond)
	cancel()
	wait(t, done)

	assert.ErrorIs(t, c.byIndex()[0].Err, context.Canceled)
}

func TestRequestTimeout(t *testing.T) {
	synth := newMockSynth()
	synth.delay[0] = time.Hour
	f := New(synth, Config{Timeout: 20 * time.Millisecond}, nil, zerolog.Nop())

	var c collector
	wait(t, f.Start(context.Background(), 5, fragments("a"), c.deliver))

	assert.ErrorIs(t, c.byIndex()[0].Err, context.DeadlineExceeded)
}

func TestEmptyFragments(t *testing.T) {
	synth := newMockSynth()
	f := New(synth, Config{}, nil, zerolog.Nop())
	wait(t, f.Start(context.Background(), 1, nil, func(Result) { t.Fatal("unexpected delivery") }))
	assert.Empty(t, synth.Calls())
}
