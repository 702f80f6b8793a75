package creation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/zhouzirui/echosketch/backend/internal/model/sketch"
	sketchsvc "github.com/zhouzirui/echosketch/backend/internal/service/sketch"
	"github.com/zhouzirui/echosketch/backend/internal/storage/kv"
)

type enhanceFunc func(ctx context.Context, transcript string) (string, error)

func (f enhanceFunc) Enhance(ctx context.Context, transcript string) (string, error) {
	return f(ctx, transcript)
}

type generateFunc func(ctx context.Context, prompt string) (string, error)

func (f generateFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func okEnhancer() Enhancer {
	return enhanceFunc(func(_ context.Context, transcript string) (string, error) {
		return "enhanced: " + transcript, nil
	})
}

func okGenerator() Generator {
	return generateFunc(func(_ context.Context, prompt string) (string, error) {
		return "data:image/png;base64,AA==", nil
	})
}

type fixture struct {
	backing *kv.MemoryStore
	store   *sketchsvc.Store
	ids     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backing := kv.NewMemoryStore()
	return &fixture{backing: backing, store: sketchsvc.NewStore(context.Background(), backing, kv.KeySessions)}
}

func (f *fixture) orchestrator(enhancer Enhancer, generator Generator) *Orchestrator {
	return NewOrchestrator(f.store, enhancer, generator, WithIDGenerator(func() string {
		f.ids++
		return fmt.Sprintf("session-%d", f.ids)
	}))
}

func seedSession(t *testing.T, store *sketchsvc.Store, id string) model.Session {
	t.Helper()
	session := model.Session{
		ID:                 id,
		OriginalTranscript: "old " + id,
		EnhancedPrompt:     "old prompt " + id,
		ImageURL:           "https://example.com/" + id + ".png",
		CreatedAt:          time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.Add(context.Background(), session))
	return session
}

func TestNewOrchestratorActivatesLatestSession(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f.store, "a")
	latest := seedSession(t, f.store, "b")

	state := f.orchestrator(okEnhancer(), okGenerator()).State()
	assert.Equal(t, model.StateIdle, state.LoadingState)
	require.NotNil(t, state.Active)
	assert.Equal(t, latest.ID, state.Active.ID)
}

func TestProcessTranscriptIgnoresBlankInput(t *testing.T) {
	f := newFixture(t)
	existing := seedSession(t, f.store, "a")
	o := f.orchestrator(okEnhancer(), okGenerator())
	before := o.State()

	for _, input := range []string{"", "   ", "\n\t"} {
		after := o.ProcessTranscript(context.Background(), input)
		assert.Equal(t, before, after)
	}
	assert.Equal(t, existing.ID, o.State().Active.ID)
	assert.Len(t, o.Sessions(), 1)
}

func TestProcessTranscriptSuccessPrependsSession(t *testing.T) {
	f := newFixture(t)
	prior := seedSession(t, f.store, "a")
	o := f.orchestrator(okEnhancer(), okGenerator())

	state := o.ProcessTranscript(context.Background(), "a red bicycle")

	assert.Equal(t, model.StateSuccess, state.LoadingState)
	assert.Empty(t, state.Error)
	require.NotNil(t, state.Active)
	assert.Equal(t, "session-1", state.Active.ID)
	assert.Equal(t, "a red bicycle", state.Active.OriginalTranscript)
	assert.Equal(t, "enhanced: a red bicycle", state.Active.EnhancedPrompt)
	assert.Equal(t, "data:image/png;base64,AA==", state.Active.ImageURL)
	require.NotNil(t, state.Metrics)

	sessions := o.Sessions()
	require.Len(t, sessions, 2)
	assert.Equal(t, "session-1", sessions[0].ID)
	assert.Equal(t, prior, sessions[1])

	reloaded := sketchsvc.NewStore(context.Background(), f.backing, kv.KeySessions)
	assert.Equal(t, sessions, reloaded.List())
}

func TestProcessTranscriptShowsProvisionalSessionWhileEnhancing(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	o := f.orchestrator(enhanceFunc(func(_ context.Context, transcript string) (string, error) {
		<-release
		return "enhanced", nil
	}), okGenerator())

	done := make(chan State, 1)
	go func() { done <- o.ProcessTranscript(context.Background(), "a tree") }()

	require.Eventually(t, func() bool {
		return o.State().LoadingState == model.StateProcessing
	}, time.Second, 5*time.Millisecond)

	state := o.State()
	require.NotNil(t, state.Active)
	assert.True(t, state.Active.IsProvisional())
	assert.Equal(t, EnhancingPlaceholder, state.Active.EnhancedPrompt)
	assert.Equal(t, "a tree", state.Active.OriginalTranscript)
	assert.False(t, o.AcceptsInput(SourceText))
	assert.False(t, o.AcceptsInput(SourceVoice))

	close(release)
	final := <-done
	assert.Equal(t, model.StateSuccess, final.LoadingState)
	assert.False(t, final.Active.IsProvisional())
}

func TestProcessTranscriptEnhanceFailure(t *testing.T) {
	f := newFixture(t)
	seedSession(t, f.store, "a")
	before := f.store.List()
	o := f.orchestrator(enhanceFunc(func(context.Context, string) (string, error) {
		return "", errors.New("model unavailable")
	}), okGenerator())

	state := o.ProcessTranscript(context.Background(), "a red bicycle")

	assert.Equal(t, model.StateError, state.LoadingState)
	assert.Equal(t, "model unavailable", state.Error)
	assert.Nil(t, state.Active)
	assert.Equal(t, before, o.Sessions())
}

func TestProcessTranscriptGenerateFailure(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(okEnhancer(), generateFunc(func(context.Context, string) (string, error) {
		return "", errors.New("")
	}))

	state := o.ProcessTranscript(context.Background(), "a red bicycle")

	assert.Equal(t, model.StateError, state.LoadingState)
	assert.Equal(t, "An unknown error occurred.", state.Error)
	assert.Nil(t, state.Active)
	assert.Empty(t, o.Sessions())
	assert.True(t, o.AcceptsInput(SourceText))
}

func TestProcessTranscriptClearsPreviousError(t *testing.T) {
	f := newFixture(t)
	fail := true
	o := f.orchestrator(enhanceFunc(func(_ context.Context, transcript string) (string, error) {
		if fail {
			return "", errors.New("boom")
		}
		return "ok " + transcript, nil
	}), okGenerator())

	require.Equal(t, model.StateError, o.ProcessTranscript(context.Background(), "x").LoadingState)
	fail = false
	state := o.ProcessTranscript(context.Background(), "y")
	assert.Equal(t, model.StateSuccess, state.LoadingState)
	assert.Empty(t, state.Error)
}

func TestStaleAttemptIsDiscardedAfterNewSession(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	o := f.orchestrator(okEnhancer(), generateFunc(func(context.Context, string) (string, error) {
		<-release
		return "data:image/png;base64,AA==", nil
	}))

	done := make(chan State, 1)
	go func() { done <- o.ProcessTranscript(context.Background(), "slow") }()

	require.Eventually(t, func() bool {
		return o.State().LoadingState == model.StateGenerating
	}, time.Second, 5*time.Millisecond)

	o.NewSession()
	close(release)
	<-done

	state := o.State()
	assert.Equal(t, model.StateIdle, state.LoadingState)
	assert.Nil(t, state.Active)
	assert.Empty(t, o.Sessions())
}

func TestOlderAttemptCannotOverwriteNewerOne(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	o := f.orchestrator(enhanceFunc(func(_ context.Context, transcript string) (string, error) {
		if transcript == "first" {
			<-release
		}
		return "enhanced " + transcript, nil
	}), okGenerator())

	firstDone := make(chan State, 1)
	go func() { firstDone <- o.ProcessTranscript(context.Background(), "first") }()
	require.Eventually(t, func() bool {
		return o.State().LoadingState == model.StateProcessing
	}, time.Second, 5*time.Millisecond)

	second := o.ProcessTranscript(context.Background(), "second")
	require.Equal(t, model.StateSuccess, second.LoadingState)

	close(release)
	<-firstDone

	state := o.State()
	assert.Equal(t, "second", state.Active.OriginalTranscript)
	sessions := o.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "second", sessions[0].OriginalTranscript)
}

func TestSelectSession(t *testing.T) {
	f := newFixture(t)
	a := seedSession(t, f.store, "a")
	seedSession(t, f.store, "b")
	o := f.orchestrator(okEnhancer(), okGenerator())
	o.Fail("mic blocked")

	state, err := o.SelectSession(a.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, state.LoadingState)
	assert.Empty(t, state.Error)
	assert.Equal(t, a, *state.Active)

	_, err = o.SelectSession("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListeningGatesTypedInput(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(okEnhancer(), okGenerator())

	require.NoError(t, o.SetListening(true))
	assert.Equal(t, model.StateListening, o.State().LoadingState)
	assert.False(t, o.AcceptsInput(SourceText))
	assert.True(t, o.AcceptsInput(SourceVoice))

	_, err := o.Submit(context.Background(), SourceText, "typed")
	assert.ErrorIs(t, err, ErrBusy)

	state, err := o.Submit(context.Background(), SourceVoice, "spoken")
	require.NoError(t, err)
	assert.Equal(t, model.StateSuccess, state.LoadingState)

	// 结束事件晚于提交到达时不应覆盖成功状态。
	require.NoError(t, o.SetListening(false))
	assert.Equal(t, model.StateSuccess, o.State().LoadingState)
}

func TestSetLiveAndFail(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(okEnhancer(), okGenerator())

	o.SetLive("a red")
	assert.Equal(t, "a red", o.State().Live)

	assert.True(t, o.Fail(""))
	state := o.State()
	assert.Equal(t, model.StateError, state.LoadingState)
	assert.Equal(t, "An unknown error occurred.", state.Error)
}

func TestSubscribeReceivesTransitions(t *testing.T) {
	f := newFixture(t)
	o := f.orchestrator(okEnhancer(), okGenerator())
	updates, cancel := o.Subscribe()
	defer cancel()

	initial := <-updates
	assert.Equal(t, model.StateIdle, initial.LoadingState)

	o.ProcessTranscript(context.Background(), "a boat")

	var seen []model.LoadingState
	for i := 0; i < 3; i++ {
		seen = append(seen, (<-updates).LoadingState)
	}
	assert.Equal(t, []model.LoadingState{model.StateProcessing, model.StateGenerating, model.StateSuccess}, seen)

	cancel()
	_, open := <-updates
	assert.False(t, open)
}

func TestRegistryIsolatesUsers(t *testing.T) {
	backing := kv.NewMemoryStore()
	registry := NewRegistry(backing, okEnhancer(), okGenerator())
	ctx := context.Background()

	alice := mustWorkspace(t, registry, ctx, "alice")
	assert.Same(t, alice, mustWorkspace(t, registry, ctx, "alice"))

	alice.ProcessTranscript(ctx, "a lighthouse")
	assert.Len(t, alice.Sessions(), 1)
	assert.Empty(t, mustWorkspace(t, registry, ctx, "bob").Sessions())

	fresh := NewRegistry(backing, okEnhancer(), okGenerator())
	restored := mustWorkspace(t, fresh, ctx, "alice").State()
	require.NotNil(t, restored.Active)
	assert.Equal(t, "a lighthouse", restored.Active.OriginalTranscript)
}

func mustWorkspace(t *testing.T, registry *Registry, ctx context.Context, userID string) *Orchestrator {
	t.Helper()
	ws, err := registry.Workspace(ctx, userID)
	require.NoError(t, err)
	return ws
}

func TestRegistryKeepsHistoryWhenFirstRequestIsCancelled(t *testing.T) {
	backing := kv.NewMemoryStore()
	seeded := sketchsvc.NewStore(context.Background(), backing, kv.SessionsKey("u1"))
	seedSession(t, seeded, "old")

	registry := NewRegistry(backing, okEnhancer(), okGenerator())
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	first := mustWorkspace(t, registry, cancelled, "u1")
	assert.Len(t, first.Sessions(), 1)

	ctx := context.Background()
	mustWorkspace(t, registry, ctx, "u1").ProcessTranscript(ctx, "a red bicycle")

	var persisted []model.Session
	require.True(t, kv.LoadJSON(ctx, backing, kv.SessionsKey("u1"), &persisted))
	require.Len(t, persisted, 2)
	assert.Equal(t, "a red bicycle", persisted[0].OriginalTranscript)
	assert.Equal(t, "old", persisted[1].ID)
}

// failingStore 在读取时返回非“不存在”的错误
type failingStore struct {
	*kv.MemoryStore
	failReads bool
}

func (s *failingStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.failReads {
		return nil, errors.New("disk unavailable")
	}
	return s.MemoryStore.Get(ctx, key)
}

func TestRegistryDoesNotCacheFailedLoad(t *testing.T) {
	backing := &failingStore{MemoryStore: kv.NewMemoryStore(), failReads: true}
	seedSession(t, sketchsvc.NewStore(context.Background(), backing.MemoryStore, kv.SessionsKey("u1")), "old")

	registry := NewRegistry(backing, okEnhancer(), okGenerator())
	ctx := context.Background()

	_, err := registry.Workspace(ctx, "u1")
	require.Error(t, err)

	backing.failReads = false
	ws := mustWorkspace(t, registry, ctx, "u1")
	require.Len(t, ws.Sessions(), 1)
	assert.Equal(t, "old", ws.Sessions()[0].ID)
}
