package content

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/roadmapflow/agent"
	"github.com/BaSui01/roadmapflow/persistence"
	"github.com/BaSui01/roadmapflow/testutil/fixtures"
	"github.com/BaSui01/roadmapflow/testutil/mocks"
	"github.com/BaSui01/roadmapflow/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestCoordinator(t *testing.T, set *mocks.AgentSet, store persistence.ContentStore, keys persistence.KeyStore, cfg Config) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(Agents{
		Tutorial:  set.Tutorial,
		Resources: set.Resources,
		Quiz:      set.Quiz,
	}, store, NewKeyAllocator(keys, cfg.MinQuota, zaptest.NewLogger(t)), cfg, nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func testJob(n int) Job {
	f := fixtures.Framework(n)
	f.RoadmapID = "go-backend-1234"
	return Job{
		TaskID:      "task-1",
		RoadmapID:   f.RoadmapID,
		UserRequest: fixtures.UserRequest(),
		Framework:   f,
	}
}

func TestCoordinator_AllSucceed(t *testing.T) {
	set := mocks.NewAgentSet(4)
	store := persistence.NewMemoryContentStore()
	c := newTestCoordinator(t, set, store, nil, Config{Concurrency: 2})

	result, err := c.Generate(context.Background(), testJob(4))
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusCompleted, result.Status)
	assert.Empty(t, result.FailedConcepts)
	assert.Equal(t, 12, store.Count())
	for _, ct := range types.AllContentTypes() {
		assert.Equal(t, 4, result.Summary[ct].CompletedCount, ct)
		assert.Equal(t, fixtures.ConceptIDs(4), result.Summary[ct].Completed)
	}
	for _, id := range fixtures.ConceptIDs(4) {
		assert.Equal(t, Unkeyed, result.KeyAllocation[id])
	}
}

func TestCoordinator_QuizFailureIsRecorded(t *testing.T) {
	set := mocks.NewAgentSet(5).FailContent(types.ContentQuiz, "c3")
	store := persistence.NewMemoryContentStore()
	keys := persistence.NewMemoryKeyStore(persistence.ResourceKey{ID: 1, Key: "k", RemainingQuota: 10, IsActive: true})
	c := newTestCoordinator(t, set, store, keys, Config{Concurrency: 2, MinQuota: 1})

	result, err := c.Generate(context.Background(), testJob(5))
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusPartialFailure, result.Status)
	assert.Equal(t, []string{"c3"}, result.FailedConcepts)
	assert.Equal(t, []string{"c3"}, result.Summary[types.ContentQuiz].Failed)
	assert.Equal(t, 4, result.Summary[types.ContentQuiz].CompletedCount)
	assert.Contains(t, result.Summary[types.ContentTutorial].Completed, "c3")
	assert.Contains(t, result.Summary[types.ContentResources].Completed, "c3")
	assert.Equal(t, map[string]int{"c1": 0, "c2": 0, "c3": 0, "c4": 0, "c5": 0}, result.KeyAllocation)

	_, err = store.Get(context.Background(), "go-backend-1234", "c3", types.ContentQuiz)
	assert.ErrorIs(t, err, persistence.ErrNotFound)
	_, err = store.Get(context.Background(), "go-backend-1234", "c3", types.ContentTutorial)
	assert.NoError(t, err)
}

func TestCoordinator_AgentPanicIsConceptFailure(t *testing.T) {
	set := mocks.NewAgentSet(3)
	set.Quiz.WithFunc(func(_ context.Context, _ int, in agent.ConceptInput) (*types.Quiz, error) {
		if in.Concept.ConceptID == "c2" {
			panic("quiz agent bug")
		}
		return &types.Quiz{ConceptID: in.Concept.ConceptID}, nil
	})
	store := persistence.NewMemoryContentStore()
	c := newTestCoordinator(t, set, store, nil, Config{Concurrency: 2})

	var (
		result *Result
		err    error
	)
	require.NotPanics(t, func() {
		result, err = c.Generate(context.Background(), testJob(3))
	})
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusPartialFailure, result.Status)
	assert.Equal(t, []string{"c2"}, result.FailedConcepts)
	assert.Equal(t, []string{"c2"}, result.Summary[types.ContentQuiz].Failed)
	assert.Equal(t, 2, result.Summary[types.ContentQuiz].CompletedCount)
	assert.Equal(t, 3, result.Summary[types.ContentTutorial].CompletedCount)
	assert.Equal(t, 3, result.Summary[types.ContentResources].CompletedCount)

	var c2 ConceptOutcome
	for _, o := range result.Outcomes {
		if o.ConceptID == "c2" {
			c2 = o
		}
	}
	assert.Contains(t, c2.Failed[types.ContentQuiz], "quiz agent bug")
	assert.Equal(t, 8, store.Count())
}

func TestCoordinator_ResourcesReceiveAllocatedKey(t *testing.T) {
	set := mocks.NewAgentSet(3)
	keys := persistence.NewMemoryKeyStore(
		persistence.ResourceKey{ID: 1, Key: "alpha", RemainingQuota: 30, IsActive: true},
		persistence.ResourceKey{ID: 2, Key: "beta", RemainingQuota: 20, IsActive: true},
	)
	c := newTestCoordinator(t, set, persistence.NewMemoryContentStore(), keys, Config{Concurrency: 1, MinQuota: 1})

	_, err := c.Generate(context.Background(), testJob(3))
	require.NoError(t, err)

	got := make(map[string]string)
	for _, in := range set.Resources.Inputs() {
		got[in.Concept.ConceptID] = in.APIKey
	}
	assert.Equal(t, map[string]string{"c1": "alpha", "c2": "beta", "c3": "alpha"}, got)
}

func TestCoordinator_SkipFlags(t *testing.T) {
	set := mocks.NewAgentSet(2)
	store := persistence.NewMemoryContentStore()
	c, err := NewCoordinator(Agents{Tutorial: set.Tutorial}, store, nil,
		Config{Concurrency: 2, SkipResources: true, SkipQuiz: true}, nil, zaptest.NewLogger(t))
	require.NoError(t, err)

	result, err := c.Generate(context.Background(), testJob(2))
	require.NoError(t, err)

	assert.Equal(t, persistence.TaskStatusCompleted, result.Status)
	assert.Len(t, result.Summary, 1)
	assert.Equal(t, 0, set.Quiz.CallCount())
	assert.Equal(t, 2, store.Count())
}

func TestNewCoordinator_RequiresEnabledAgents(t *testing.T) {
	_, err := NewCoordinator(Agents{}, persistence.NewMemoryContentStore(), nil, Config{}, nil, nil)
	assert.Error(t, err)

	_, err = NewCoordinator(Agents{}, nil, nil, Config{SkipTutorial: true, SkipResources: true, SkipQuiz: true}, nil, nil)
	assert.Error(t, err)
}

func TestCoordinator_BoundedConcurrency(t *testing.T) {
	set := mocks.NewAgentSet(6)
	var inFlight, peak atomic.Int32
	set.Tutorial.WithFunc(func(_ context.Context, _ int, in agent.ConceptInput) (*types.Tutorial, error) {
		cur := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return &types.Tutorial{ConceptID: in.Concept.ConceptID}, nil
	})
	c := newTestCoordinator(t, set, persistence.NewMemoryContentStore(), nil, Config{Concurrency: 2})

	_, err := c.Generate(context.Background(), testJob(6))
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, set.Tutorial.CallCount())
}

func TestCoordinator_StreamsPartialEvents(t *testing.T) {
	set := mocks.NewAgentSet(3)
	c := newTestCoordinator(t, set, persistence.NewMemoryContentStore(), nil, Config{Concurrency: 3})
	rec := &mocks.EventRecorder{}

	_, err := c.Generate(rec.Context(context.Background()), testJob(3))
	require.NoError(t, err)

	events := rec.Events()
	require.Len(t, events, 4)
	for _, e := range events[:3] {
		assert.True(t, e.Partial)
		assert.Equal(t, StageName, e.Stage)
	}
	assert.False(t, events[3].Partial)
	assert.IsType(t, &Result{}, events[3].Data)
}

type brokenContentStore struct {
	*persistence.MemoryContentStore
	pingErr error
}

func (s brokenContentStore) Save(context.Context, *persistence.ConceptContent) error {
	return errors.New("connection refused")
}

func (s brokenContentStore) Ping(context.Context) error { return s.pingErr }

func TestCoordinator_StorageUnavailable(t *testing.T) {
	set := mocks.NewAgentSet(2)

	t.Run("ping fails", func(t *testing.T) {
		store := brokenContentStore{MemoryContentStore: persistence.NewMemoryContentStore(), pingErr: errors.New("down")}
		c := newTestCoordinator(t, set, store, nil, Config{Concurrency: 2})

		_, err := c.Generate(context.Background(), testJob(2))
		require.Error(t, err)
		assert.True(t, types.IsErrorCode(err, types.ErrStorageUnavailable))
	})

	t.Run("ping ok records concept failures", func(t *testing.T) {
		store := brokenContentStore{MemoryContentStore: persistence.NewMemoryContentStore()}
		c := newTestCoordinator(t, set, store, nil, Config{Concurrency: 2})

		result, err := c.Generate(context.Background(), testJob(2))
		require.NoError(t, err)
		assert.Equal(t, persistence.TaskStatusPartialFailure, result.Status)
		assert.Equal(t, []string{"c1", "c2"}, result.FailedConcepts)
	})
}

func TestCoordinator_Cancelled(t *testing.T) {
	set := mocks.NewAgentSet(4)
	set.Tutorial.WithDelay(time.Second)
	c := newTestCoordinator(t, set, persistence.NewMemoryContentStore(), nil, Config{Concurrency: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := c.Generate(ctx, testJob(4))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCoordinator_MissingInput(t *testing.T) {
	c := newTestCoordinator(t, mocks.NewAgentSet(1), persistence.NewMemoryContentStore(), nil, Config{})

	_, err := c.Generate(context.Background(), Job{TaskID: "t", RoadmapID: "r"})
	assert.True(t, types.IsErrorCode(err, types.ErrMissingInput))

	job := testJob(1)
	job.RoadmapID = ""
	_, err = c.Generate(context.Background(), job)
	assert.True(t, types.IsErrorCode(err, types.ErrMissingInput))
}

func TestConfig_EnabledTypes(t *testing.T) {
	assert.Equal(t, types.AllContentTypes(), Config{}.EnabledTypes())
	assert.Equal(t, []types.ContentType{types.ContentResources}, Config{SkipTutorial: true, SkipQuiz: true}.EnabledTypes())
	assert.Equal(t, 4, DefaultConfig().Concurrency)
}
