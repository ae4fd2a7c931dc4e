package sandbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/requirement"
	"go.uber.org/zap"
)

type fakeRuntime struct {
	mu         sync.Mutex
	builds     []string
	removed    []string
	buildDelay time.Duration
	buildErr   error
	runResult  *domain.ExecutionResult
	runErr     error
	lastSpec   RunSpec
}

func (f *fakeRuntime) BuildImage(ctx context.Context, tag, contextDir string, timeout time.Duration) error {
	if f.buildDelay > 0 {
		time.Sleep(f.buildDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.buildErr != nil {
		return f.buildErr
	}
	f.builds = append(f.builds, tag)
	return nil
}

func (f *fakeRuntime) RunContainer(ctx context.Context, spec RunSpec) (*domain.ExecutionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSpec = spec
	return f.runResult, f.runErr
}

func (f *fakeRuntime) RemoveImage(ctx context.Context, tag string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, tag)
	return nil
}

func (f *fakeRuntime) buildCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.builds)
}

type memEnvRepo struct {
	mu    sync.Mutex
	items map[string]*domain.EnvironmentRecord
}

func newMemEnvRepo() *memEnvRepo {
	return &memEnvRepo{items: make(map[string]*domain.EnvironmentRecord)}
}

func (m *memEnvRepo) Get(_ context.Context, workloadID string) (*domain.EnvironmentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.items[workloadID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memEnvRepo) Upsert(_ context.Context, rec *domain.EnvironmentRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.items[rec.WorkloadID] = &cp
	return nil
}

func (m *memEnvRepo) Delete(_ context.Context, workloadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, workloadID)
	return nil
}

func mustReqs(t *testing.T, raws ...string) []requirement.Requirement {
	t.Helper()
	reqs, err := requirement.ParseList(raws)
	require.NoError(t, err)
	return reqs
}

func newTestBuilder(rt Runtime, repo EnvironmentRepository) *EnvironmentBuilder {
	return NewEnvironmentBuilder(rt, repo, "python:3.12-slim", time.Minute, zap.NewNop())
}

func TestEnsureEnvironment_BuildsAndPersists(t *testing.T) {
	rt := &fakeRuntime{}
	repo := newMemEnvRepo()
	b := newTestBuilder(rt, repo)

	rec, reused, err := b.EnsureEnvironment(context.Background(), "wl-1", mustReqs(t, "numpy==1.21.0"))

	require.NoError(t, err)
	assert.False(t, reused)
	assert.Equal(t, 1, rt.buildCount())
	assert.Regexp(t, `^sentinel/wl-1:[0-9a-f]{12}$`, rec.ImageTag)
	assert.Equal(t, []string{"numpy==1.21.0"}, rec.Packages)

	stored, err := repo.Get(context.Background(), "wl-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, rec.ImageTag, stored.ImageTag)
}

func TestEnsureEnvironment_ReusesOnSameSet(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, newMemEnvRepo())
	ctx := context.Background()

	first, reused, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0", "pandas==2.0.0"))
	require.NoError(t, err)
	require.False(t, reused)

	second, reused, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0", "pandas==2.0.0"))
	require.NoError(t, err)

	assert.True(t, reused)
	assert.Equal(t, first.ImageTag, second.ImageTag)
	assert.Equal(t, 1, rt.buildCount(), "no second build for the same package set")
}

func TestEnsureEnvironment_OrderInsensitiveHash(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, newMemEnvRepo())
	ctx := context.Background()

	first, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "pandas==2.0.0", "numpy==1.21.0"))
	require.NoError(t, err)

	second, reused, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0", "pandas==2.0.0"))
	require.NoError(t, err)

	assert.True(t, reused)
	assert.Equal(t, first.ImageTag, second.ImageTag)
}

func TestEnsureEnvironment_RebuildsOnChangedSet(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, newMemEnvRepo())
	ctx := context.Background()

	first, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0"))
	require.NoError(t, err)

	second, reused, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.26.0"))
	require.NoError(t, err)

	assert.False(t, reused)
	assert.NotEqual(t, first.ImageTag, second.ImageTag)
	assert.Equal(t, 2, rt.buildCount())
}

func TestEnsureEnvironment_ConcurrentCallersSingleBuild(t *testing.T) {
	rt := &fakeRuntime{buildDelay: 50 * time.Millisecond}
	b := newTestBuilder(rt, newMemEnvRepo())
	reqs := mustReqs(t, "numpy==1.21.0")

	const callers = 8
	tags := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec, _, err := b.EnsureEnvironment(context.Background(), "wl-1", reqs)
			require.NoError(t, err)
			tags[n] = rec.ImageTag
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, rt.buildCount(), "concurrent installs must collapse into one build")
	for _, tag := range tags {
		assert.Equal(t, tags[0], tag)
	}
}

func TestEnsureEnvironment_ConcurrentDistinctSetsGetOwnEnvironments(t *testing.T) {
	rt := &fakeRuntime{buildDelay: 40 * time.Millisecond}
	b := newTestBuilder(rt, newMemEnvRepo())

	setA := mustReqs(t, "numpy==1.21.0")
	setB := mustReqs(t, "pandas==2.0.0")

	var (
		wg         sync.WaitGroup
		recA, recB *domain.EnvironmentRecord
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		rec, _, err := b.EnsureEnvironment(context.Background(), "wl-1", setA)
		require.NoError(t, err)
		recA = rec
	}()
	go func() {
		defer wg.Done()
		rec, _, err := b.EnsureEnvironment(context.Background(), "wl-1", setB)
		require.NoError(t, err)
		recB = rec
	}()
	wg.Wait()

	// Каждый получает окружение, собранное именно для ЕГО набора,
	// а не результат чужой сборки для того же workload
	assert.Equal(t, PackageSetHash(setA), recA.PackageSetHash)
	assert.Equal(t, PackageSetHash(setB), recB.PackageSetHash)
	assert.Equal(t, 2, rt.buildCount())
}

func TestEnsureEnvironment_RebuildRemovesSupersededImage(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, newMemEnvRepo())
	ctx := context.Background()

	first, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0"))
	require.NoError(t, err)

	second, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.26.0"))
	require.NoError(t, err)

	// Вытесненный тег снят сразу: на него больше нет ни одной ссылки
	assert.Equal(t, []string{first.ImageTag}, rt.removed)

	require.NoError(t, b.CleanupEnvironment(ctx, "wl-1"))
	assert.Equal(t, []string{first.ImageTag, second.ImageTag}, rt.removed)
}

func TestEnsureEnvironment_BuildFailureIsPropagated(t *testing.T) {
	buildErr := &domain.BuildFailureError{Tool: "docker build", Output: "no matching distribution"}
	rt := &fakeRuntime{buildErr: buildErr}
	repo := newMemEnvRepo()
	b := newTestBuilder(rt, repo)

	_, _, err := b.EnsureEnvironment(context.Background(), "wl-1", mustReqs(t, "no-such-pkg==0.0.1"))

	var got *domain.BuildFailureError
	require.ErrorAs(t, err, &got)
	assert.Equal(t, "no matching distribution", got.Output)

	// Неудачная сборка не оставляет записи
	stored, err := repo.Get(context.Background(), "wl-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestCleanupEnvironment_RemovesImageAndRecord(t *testing.T) {
	rt := &fakeRuntime{}
	repo := newMemEnvRepo()
	b := newTestBuilder(rt, repo)
	ctx := context.Background()

	rec, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0"))
	require.NoError(t, err)

	require.NoError(t, b.CleanupEnvironment(ctx, "wl-1"))
	assert.Equal(t, []string{rec.ImageTag}, rt.removed)

	stored, err := repo.Get(ctx, "wl-1")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestCleanupEnvironment_IdempotentOnMissing(t *testing.T) {
	b := newTestBuilder(&fakeRuntime{}, newMemEnvRepo())

	assert.NoError(t, b.CleanupEnvironment(context.Background(), "ghost"))
}

func TestStatus(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, newMemEnvRepo())
	ctx := context.Background()

	status, err := b.Status(ctx, "wl-1")
	require.NoError(t, err)
	assert.False(t, status.Exists)

	rec, _, err := b.EnsureEnvironment(ctx, "wl-1", mustReqs(t, "numpy==1.21.0"))
	require.NoError(t, err)

	status, err = b.Status(ctx, "wl-1")
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.Equal(t, rec.ImageTag, status.ImageTag)
	require.NotNil(t, status.BuiltAt)
}

func TestPackageSetHash_Deterministic(t *testing.T) {
	a := PackageSetHash(mustReqs(t, "numpy==1.21.0", "pandas==2.0.0"))
	b := PackageSetHash(mustReqs(t, "pandas==2.0.0", "numpy==1.21.0"))
	c := PackageSetHash(mustReqs(t, "numpy==1.26.0", "pandas==2.0.0"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestEnsureEnvironment_RepoErrorSurfaces(t *testing.T) {
	rt := &fakeRuntime{}
	b := newTestBuilder(rt, failingEnvRepo{})

	_, _, err := b.EnsureEnvironment(context.Background(), "wl-1", mustReqs(t, "numpy==1.21.0"))
	assert.Error(t, err)
}

type failingEnvRepo struct{}

func (failingEnvRepo) Get(context.Context, string) (*domain.EnvironmentRecord, error) {
	return nil, errors.New("connection refused")
}
func (failingEnvRepo) Upsert(context.Context, *domain.EnvironmentRecord) error { return nil }
func (failingEnvRepo) Delete(context.Context, string) error                    { return nil }
