package engine

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBackend implements Backend with function fields so tests can script
// behavior per case.
type fakeBackend struct {
	name       string
	model      string
	voices     []string
	initErr    error
	synthCalls atomic.Int64
	synthFn    func(ctx context.Context, text, voice string, speed float64) ([]byte, string, error)
	lastVoice  string
}

func (f *fakeBackend) Name() string  { return f.name }
func (f *fakeBackend) Model() string { return f.model }
func (f *fakeBackend) Voices() []string {
	if f.voices == nil {
		return []string{"naija_female", "naija_male"}
	}
	return f.voices
}
func (f *fakeBackend) DefaultVoice() string       { return "naija_female" }
func (f *fakeBackend) Init(context.Context) error { return f.initErr }

func (f *fakeBackend) Synthesize(ctx context.Context, text, voice string, speed float64) ([]byte, string, error) {
	f.synthCalls.Add(1)
	f.lastVoice = voice
	if f.synthFn != nil {
		return f.synthFn(ctx, text, voice, speed)
	}
	return []byte("RIFF-fake-wav:" + text), "wav", nil
}

func newTestEngine(t *testing.T, b Backend) *Engine {
	t.Helper()
	e, err := New(b, t.TempDir(), nil)
	require.NoError(t, err)
	return e
}

func TestEngineCacheMissThenHit(t *testing.T) {
	backend := &fakeBackend{name: "fake", model: "m1"}
	e := newTestEngine(t, backend)

	req := Request{Text: "How you dey?", Voice: "naija_female", Format: "wav", Speed: 1.0}

	first, err := e.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	second, err := e.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.CacheHit)
	require.Equal(t, first.Path, second.Path)

	firstBytes, err := os.ReadFile(first.Path)
	require.NoError(t, err)
	secondBytes, err := os.ReadFile(second.Path)
	require.NoError(t, err)
	require.Equal(t, firstBytes, secondBytes)

	require.Equal(t, int64(1), backend.synthCalls.Load())
}

func TestEngineDistinctInputsDistinctEntries(t *testing.T) {
	backend := &fakeBackend{name: "fake", model: "m1"}
	e := newTestEngine(t, backend)

	a, err := e.Synthesize(context.Background(), Request{Text: "one", Format: "wav", Speed: 1.0})
	require.NoError(t, err)
	b, err := e.Synthesize(context.Background(), Request{Text: "two", Format: "wav", Speed: 1.0})
	require.NoError(t, err)

	require.NotEqual(t, a.Path, b.Path)
	require.Equal(t, int64(2), backend.synthCalls.Load())
}

func TestEngineConcurrentIdenticalRequestsSynthesizeOnce(t *testing.T) {
	release := make(chan struct{})
	backend := &fakeBackend{
		name:  "fake",
		model: "m1",
		synthFn: func(context.Context, string, string, float64) ([]byte, string, error) {
			<-release
			return []byte("RIFF-shared"), "wav", nil
		},
	}
	e := newTestEngine(t, backend)

	req := Request{Text: "same text", Voice: "naija_female", Format: "wav", Speed: 1.0}

	const workers = 8
	var wg sync.WaitGroup
	results := make([]*Result, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = e.Synthesize(context.Background(), req)
		}(i)
	}

	// Hold the backend until every caller has had time to join the
	// in-flight synthesis.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	require.Equal(t, int64(1), backend.synthCalls.Load())
	for i := 0; i < workers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0].Path, results[i].Path)
	}

	data, err := os.ReadFile(results[0].Path)
	require.NoError(t, err)
	require.Equal(t, []byte("RIFF-shared"), data)
}

func TestEngineSynthesisFailureLeavesNoCacheEntry(t *testing.T) {
	backend := &fakeBackend{
		name:  "fake",
		model: "m1",
		synthFn: func(context.Context, string, string, float64) ([]byte, string, error) {
			return nil, "", errors.New("upstream exploded")
		},
	}
	e := newTestEngine(t, backend)

	req := Request{Text: "boom", Voice: "naija_female", Format: "wav", Speed: 1.0}

	_, err := e.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, ErrSynthesisFailed)

	// A retry after the backend recovers must synthesize, not hit a
	// poisoned cache entry.
	backend.synthFn = nil
	res, err := e.Synthesize(context.Background(), req)
	require.NoError(t, err)
	require.False(t, res.CacheHit)
}

func TestEngineInitFailureIsSticky(t *testing.T) {
	backend := &fakeBackend{name: "fake", model: "m1", initErr: errors.New("model missing")}
	e := newTestEngine(t, backend)

	req := Request{Text: "hi", Format: "wav", Speed: 1.0}

	_, err := e.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, ErrBackendUnavailable)

	// Clearing the error after the fact must not help: init runs once.
	backend.initErr = nil
	_, err = e.Synthesize(context.Background(), req)
	require.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestEngineUnknownVoiceSubstitutesDefault(t *testing.T) {
	backend := &fakeBackend{name: "fake", model: "m1"}
	e := newTestEngine(t, backend)

	_, err := e.Synthesize(context.Background(), Request{
		Text: "hello", Voice: "martian", Format: "wav", Speed: 1.0,
	})
	require.NoError(t, err)
	require.Equal(t, "naija_female", backend.lastVoice)

	// The substituted request shares a cache entry with an explicit
	// default-voice request.
	res, err := e.Synthesize(context.Background(), Request{
		Text: "hello", Voice: "naija_female", Format: "wav", Speed: 1.0,
	})
	require.NoError(t, err)
	require.True(t, res.CacheHit)
}
