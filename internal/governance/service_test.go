package governance

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/audit"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
	"go.uber.org/zap"
)

// --- фейки хранилищ ---

type memPackages struct {
	mu      sync.Mutex
	items   map[string]*domain.PackageRecord
	lookups int
}

func newMemPackages() *memPackages {
	return &memPackages{items: make(map[string]*domain.PackageRecord)}
}

func pkgKey(name, version string) string { return name + "@" + version }

func (m *memPackages) GetPackage(_ context.Context, name, version string) (*domain.PackageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	rec, ok := m.items[pkgKey(name, version)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *memPackages) CreatePackage(_ context.Context, rec *domain.PackageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.items[pkgKey(rec.Name, rec.Version)] = &cp
	return nil
}

func (m *memPackages) UpdatePackage(_ context.Context, rec *domain.PackageRecord) error {
	return m.CreatePackage(context.Background(), rec)
}

func (m *memPackages) ListPackages(_ context.Context, status string) ([]domain.PackageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.PackageRecord, 0)
	for _, rec := range m.items {
		if status == "" || string(rec.Status) == status {
			out = append(out, *rec)
		}
	}
	return out, nil
}

func (m *memPackages) lookupCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups
}

type memAgents struct {
	agents map[string]*domain.Agent
}

func (m *memAgents) GetAgent(_ context.Context, id string) (*domain.Agent, error) {
	return m.agents[id], nil
}

type capturingAuditor struct {
	mu     sync.Mutex
	events []audit.AuditEvent
}

func (a *capturingAuditor) Log(event audit.AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = append(a.events, event)
}

func (a *capturingAuditor) byAction(action audit.Action) []audit.AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.AuditEvent
	for _, e := range a.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *memPackages, *capturingAuditor) {
	t.Helper()
	packages := newMemPackages()
	agents := &memAgents{agents: map[string]*domain.Agent{
		"agent-autonomous": {ID: "agent-autonomous", Maturity: domain.MaturityAutonomous},
		"agent-supervised": {ID: "agent-supervised", Maturity: domain.MaturitySupervised},
		"agent-intern":     {ID: "agent-intern", Maturity: domain.MaturityIntern},
		"agent-student":    {ID: "agent-student", Maturity: domain.MaturityStudent},
	}}
	auditor := &capturingAuditor{}
	svc := NewService(packages, agents, auditor, nil, 5*time.Minute, 30*time.Second, zap.NewNop())
	return svc, packages, auditor
}

func TestCheckPermission_BannedScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BanPackage(ctx, "evil-lib", "1.0.0", "known malware", "sec-op")
	require.NoError(t, err)

	decision, err := svc.CheckPermission(ctx, "agent-autonomous", "evil-lib", "1.0.0")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "known malware", decision.Reason)
}

func TestCheckPermission_MaturityScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturitySupervised, "op")
	require.NoError(t, err)

	denied, err := svc.CheckPermission(ctx, "agent-intern", "numpy", "1.21.0")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, "requires higher maturity level: supervised", denied.Reason)

	allowed, err := svc.CheckPermission(ctx, "agent-supervised", "numpy", "1.21.0")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}

func TestCheckPermission_UnknownPackage(t *testing.T) {
	svc, _, _ := newTestService(t)

	decision, err := svc.CheckPermission(context.Background(), "agent-autonomous", "foo", "9.9.9")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "approval required", decision.Reason)
}

func TestCheckPermission_UnknownAgentDefaultsToStudent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturityStudent, "op")
	require.NoError(t, err)

	decision, err := svc.CheckPermission(ctx, "ghost-agent", "numpy", "1.21.0")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
}

func TestCheckPermission_DecisionIsCached(t *testing.T) {
	svc, packages, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CheckPermission(ctx, "agent-intern", "foo", "1.0.0")
	require.NoError(t, err)
	first := packages.lookupCount()

	_, err = svc.CheckPermission(ctx, "agent-intern", "foo", "1.0.0")
	require.NoError(t, err)

	assert.Equal(t, first, packages.lookupCount(), "second check must be served from cache")
	assert.Equal(t, 1, svc.CacheSize())
}

func TestCheckPermission_CacheCoherenceAfterMutation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	// Прогреваем кэш отказом
	denied, err := svc.CheckPermission(ctx, "agent-supervised", "pandas", "2.0.0")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// Мутация обязана сбросить кэш ДО возврата: следующий вызов видит allow
	_, err = svc.ApprovePackage(ctx, "pandas", "2.0.0", domain.MaturityIntern, "op")
	require.NoError(t, err)

	allowed, err := svc.CheckPermission(ctx, "agent-supervised", "pandas", "2.0.0")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed, "stale cached denial observed after approve")
}

func TestRequestPackage_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.RequestPackage(ctx, "requests", "2.31.0", "agent-intern")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, first.Status)

	second, err := svc.RequestPackage(ctx, "requests", "2.31.0", "agent-supervised")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, second.Status)
	// Повторная заявка не перезатирает исходного заявителя
	assert.Equal(t, "agent-intern", second.RequestedBy)
}

func TestRequestPackage_BannedIsConflict(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BanPackage(ctx, "evil-lib", "1.0.0", "known malware", "sec-op")
	require.NoError(t, err)

	_, err = svc.RequestPackage(ctx, "evil-lib", "1.0.0", "agent-intern")
	assert.ErrorIs(t, err, domain.ErrPackageBanned)
}

func TestApprovePackage_Idempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturityIntern, "op")
	require.NoError(t, err)
	second, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturityIntern, "op")
	require.NoError(t, err)

	assert.Equal(t, first.Status, second.Status)
	assert.Equal(t, first.MinMaturity, second.MinMaturity)
	assert.Equal(t, *first.ApprovedBy, *second.ApprovedBy)
}

func TestApprovePackage_RefusesBanned(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BanPackage(ctx, "evil-lib", "1.0.0", "known malware", "sec-op")
	require.NoError(t, err)

	_, err = svc.ApprovePackage(ctx, "evil-lib", "1.0.0", domain.MaturityAutonomous, "op")
	assert.ErrorIs(t, err, domain.ErrPackageBanned)
}

func TestApprovePackage_RejectsInvalidMaturity(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.ApprovePackage(context.Background(), "numpy", "1.21.0", "grandmaster", "op")
	assert.Error(t, err)
}

func TestBanPackage_RequiresReason(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.BanPackage(context.Background(), "evil-lib", "1.0.0", "", "sec-op")
	assert.Error(t, err)
}

func TestBanPackage_ClearsApprovalState(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturityIntern, "op")
	require.NoError(t, err)

	banned, err := svc.BanPackage(ctx, "numpy", "1.21.0", "cve-2024-0001", "sec-op")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusBanned, banned.Status)
	assert.Equal(t, "cve-2024-0001", banned.BanReason)
	assert.Nil(t, banned.ApprovedBy)
	assert.Empty(t, banned.MinMaturity)
}

func TestLiftBan_ReturnsToPending(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.BanPackage(ctx, "requests", "2.31.0", "false positive", "sec-op")
	require.NoError(t, err)

	lifted, err := svc.LiftBan(ctx, "requests", "2.31.0", "sec-op")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, lifted.Status)
	assert.Empty(t, lifted.BanReason)

	// Снятие бана не возвращает допуск автоматически
	decision, err := svc.CheckPermission(ctx, "agent-autonomous", "requests", "2.31.0")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, "awaiting approval", decision.Reason)
}

func TestLiftBan_IdempotentOnUnbanned(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RequestPackage(ctx, "requests", "2.31.0", "agent-intern")
	require.NoError(t, err)

	rec, err := svc.LiftBan(ctx, "requests", "2.31.0", "sec-op")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
}

func TestMutations_AreAudited(t *testing.T) {
	svc, _, auditor := newTestService(t)
	ctx := context.Background()

	_, err := svc.BanPackage(ctx, "evil-lib", "1.0.0", "known malware", "sec-op")
	require.NoError(t, err)
	_, err = svc.CheckPermission(ctx, "agent-autonomous", "evil-lib", "1.0.0")
	require.NoError(t, err)

	bans := auditor.byAction(audit.ActionPackageBan)
	require.Len(t, bans, 1)
	assert.Equal(t, "sec-op", bans[0].Actor)
	assert.Equal(t, "known malware", bans[0].Reason)

	checks := auditor.byAction(audit.ActionPermissionCheck)
	require.Len(t, checks, 1)
	assert.Equal(t, "denied", checks[0].Decision)
}

func TestInvalidateCache_NextCheckHitsRepository(t *testing.T) {
	svc, packages, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturityIntern, "op")
	require.NoError(t, err)

	_, err = svc.CheckPermission(ctx, "agent-autonomous", "numpy", "1.21.0")
	require.NoError(t, err)
	require.Equal(t, 1, svc.CacheSize())
	before := packages.lookupCount()

	// Сигнал чужого инстанса: listener дергает ровно этот метод
	svc.InvalidateCache()

	assert.Equal(t, 0, svc.CacheSize())
	_, err = svc.CheckPermission(ctx, "agent-autonomous", "numpy", "1.21.0")
	require.NoError(t, err)
	assert.Greater(t, packages.lookupCount(), before)
}

func TestInvalidateMaturity_AgentLevelReResolved(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApprovePackage(ctx, "numpy", "1.21.0", domain.MaturitySupervised, "op")
	require.NoError(t, err)

	denied, err := svc.CheckPermission(ctx, "agent-intern", "numpy", "1.21.0")
	require.NoError(t, err)
	require.False(t, denied.Allowed)

	// Оператор поднял уровень агента; без сброса кэша зрелости новое
	// решение доехало бы только по TTL
	svc.agents.(*memAgents).agents["agent-intern"].Maturity = domain.MaturityAutonomous
	svc.InvalidateMaturity()

	allowed, err := svc.CheckPermission(ctx, "agent-intern", "numpy", "1.21.0")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
}
