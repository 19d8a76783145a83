package refresh

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/iabetor/gcptts/internal/catalog"
	"github.com/iabetor/gcptts/internal/gcp"
	"github.com/iabetor/gcptts/internal/synth"
)

type fakeLister struct {
	voices []catalog.Voice
	err    error
	calls  atomic.Int32
	gate   chan struct{}

	mu     sync.Mutex
	lang   string
	ctxErr error
}

func (f *fakeLister) lastLang() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lang
}

func (f *fakeLister) ListVoices(ctx context.Context, _ gcp.APIVersion, lang string) ([]catalog.Voice, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lang = lang
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	f.ctxErr = ctx.Err()
	f.mu.Unlock()
	return f.voices, f.err
}

func newStore(t *testing.T) *catalog.Store {
	t.Helper()
	s, err := catalog.NewStore(catalog.StoreConfig{DataDir: filepath.Join(t.TempDir(), "data"), WriteDelay: time.Hour})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func voice(name string, codes ...string) catalog.Voice {
	return catalog.Voice{Name: name, LanguageCodes: codes, Gender: catalog.GenderFemale, NaturalSampleRateHertz: 24000}
}

func TestRefreshReplacesScopedVoices(t *testing.T) {
	store := newStore(t)
	before := len(store.Voices())
	lister := &fakeLister{voices: []catalog.Voice{voice("xx-XX-Standard-A", "xx-XX")}}
	r := NewRefresher(lister, store)

	res := r.Refresh(context.Background(), gcp.V1, "xx")
	if !res.Success || res.ErrorMessage != "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Added) != 1 || res.Added[0] != "xx-XX-Standard-A" || len(res.Removed) != 0 {
		t.Fatalf("unexpected diff: %+v", res)
	}
	if lister.lastLang() != "xx" {
		t.Fatalf("lister got lang %q", lister.lastLang())
	}
	if got := len(store.Voices()); got != before+1 {
		t.Fatalf("voices = %d, want %d", got, before+1)
	}
	if _, ok := store.LastVoiceCheck(); !ok {
		t.Fatal("last voice check should be stamped")
	}

	// 再次刷新同一结果不产生变化
	res = r.Refresh(context.Background(), gcp.V1, "xx")
	if len(res.Added) != 0 || len(res.Removed) != 0 {
		t.Fatalf("expected no changes, got %+v", res)
	}
}

func TestRefreshAllLanguages(t *testing.T) {
	lister := &fakeLister{voices: []catalog.Voice{voice("en-US-Standard-C", "en-US")}}
	r := NewRefresher(lister, newStore(t))
	res := r.Refresh(context.Background(), "", "all")
	if !res.Success || lister.lastLang() != "" {
		t.Fatalf("expected unscoped refresh, lang=%q res=%+v", lister.lastLang(), res)
	}
	if len(res.Removed) == 0 {
		t.Fatal("replacing all voices with one should remove the rest")
	}
}

func TestRefreshErrors(t *testing.T) {
	store := newStore(t)
	before := len(store.Voices())

	r := NewRefresher(&fakeLister{err: gcp.ErrUnavailable}, store)
	res := r.Refresh(context.Background(), gcp.V1, "")
	if res.Success || res.ErrorMessage == "" {
		t.Fatalf("expected failure with message, got %+v", res)
	}
	eff := res.Effect(synth.StopStop)
	if eff.Execution == nil || !eff.Execution.Stop || eff.Outputs.ErrorMessage == nil {
		t.Fatalf("unexpected effect result: %+v", eff)
	}

	r = NewRefresher(&fakeLister{}, store)
	res = r.Refresh(context.Background(), gcp.V1, "en")
	if !res.Success || res.ErrorMessage != NoVoicesMessage {
		t.Fatalf("empty list should succeed with message, got %+v", res)
	}
	if eff := res.Effect(synth.StopStop); eff.Execution != nil {
		t.Fatal("successful refresh should not carry execution control")
	}
	if len(store.Voices()) != before {
		t.Fatal("store must be untouched on error or empty list")
	}
	if _, ok := store.LastVoiceCheck(); ok {
		t.Fatal("last voice check should not be stamped")
	}
}

func TestRefreshCoalescesConcurrentCalls(t *testing.T) {
	lister := &fakeLister{voices: []catalog.Voice{voice("xx-XX-Standard-A", "xx-XX")}, gate: make(chan struct{})}
	r := NewRefresher(lister, newStore(t))

	const n = 5
	var wg sync.WaitGroup
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Refresh(context.Background(), gcp.V1, "xx")
		}(i)
	}
	// 所有调用都进入 Do 之后再放行接口
	time.Sleep(50 * time.Millisecond)
	close(lister.gate)
	wg.Wait()

	if c := lister.calls.Load(); c != 1 {
		t.Fatalf("expected one provider call, got %d", c)
	}
	for _, res := range results {
		if !res.Success || len(res.Added) != 1 {
			t.Fatalf("unexpected result: %+v", res)
		}
	}
}

func TestRefreshSurvivesFirstCallerCancel(t *testing.T) {
	lister := &fakeLister{voices: []catalog.Voice{voice("xx-XX-Standard-A", "xx-XX")}, gate: make(chan struct{})}
	store := newStore(t)
	r := NewRefresher(lister, store)

	first, cancel := context.WithCancel(context.Background())
	firstDone := make(chan Result, 1)
	go func() { firstDone <- r.Refresh(first, gcp.V1, "xx") }()

	// 等第一个调用真正进入接口
	deadline := time.Now().Add(2 * time.Second)
	for lister.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("lister never called")
		}
		time.Sleep(5 * time.Millisecond)
	}

	secondDone := make(chan Result, 1)
	go func() { secondDone <- r.Refresh(context.Background(), gcp.V1, "xx") }()
	time.Sleep(20 * time.Millisecond)

	cancel()
	select {
	case res := <-firstDone:
		if res.Success || res.ErrorMessage == "" {
			t.Fatalf("cancelled caller should fail: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(lister.gate)
	select {
	case res := <-secondDone:
		if !res.Success || len(res.Added) != 1 {
			t.Fatalf("second caller result = %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}

	lister.mu.Lock()
	ctxErr := lister.ctxErr
	lister.mu.Unlock()
	if ctxErr != nil {
		t.Fatalf("shared refresh saw cancelled context: %v", ctxErr)
	}
	if c := lister.calls.Load(); c != 1 {
		t.Fatalf("expected one provider call, got %d", c)
	}
	if !store.IsKnownVoiceName("xx-XX-Standard-A") {
		t.Fatal("shared refresh should still update the store")
	}
}

func TestResultEffectDefaults(t *testing.T) {
	eff := Result{Success: true}.Effect(synth.StopNone)
	if eff.Outputs.Voices.Added == nil || eff.Outputs.Voices.Removed == nil {
		t.Fatal("voice lists should be empty, not nil")
	}
	if eff.Outputs.ErrorMessage != nil {
		t.Fatal("errorMessage should be nil")
	}
}
