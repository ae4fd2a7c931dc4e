package governance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/spaceai-pkg-sentinel/internal/domain"
)

func activeRecord(minMaturity domain.MaturityLevel) *domain.PackageRecord {
	return &domain.PackageRecord{
		Name:        "numpy",
		Version:     "1.21.0",
		Status:      domain.StatusActive,
		MinMaturity: minMaturity,
	}
}

func TestEvaluate_UnknownPackageIsDenied(t *testing.T) {
	decision := Evaluate(domain.MaturityAutonomous, nil)

	require.False(t, decision.Allowed)
	assert.Equal(t, "approval required", decision.Reason)
}

func TestEvaluate_BannedBeatsAutonomous(t *testing.T) {
	record := &domain.PackageRecord{
		Name:      "evil-lib",
		Version:   "1.0.0",
		Status:    domain.StatusBanned,
		BanReason: "known malware",
	}

	decision := Evaluate(domain.MaturityAutonomous, record)

	require.False(t, decision.Allowed)
	assert.Equal(t, "known malware", decision.Reason)
}

func TestEvaluate_BanReasonWinsOverStudentBlock(t *testing.T) {
	// Оба условия истинны — наружу уходит причина бана, не student-block
	record := &domain.PackageRecord{
		Status:    domain.StatusBanned,
		BanReason: "typosquatting",
	}

	decision := Evaluate(domain.MaturityStudent, record)

	require.False(t, decision.Allowed)
	assert.Equal(t, "typosquatting", decision.Reason)
}

func TestEvaluate_StudentDeniedEvenForActivePackage(t *testing.T) {
	decision := Evaluate(domain.MaturityStudent, activeRecord(domain.MaturityStudent))

	require.False(t, decision.Allowed)
	assert.Equal(t, "package execution is disabled for this maturity level", decision.Reason)
}

func TestEvaluate_UntrustedLooksLikeUnknown(t *testing.T) {
	record := &domain.PackageRecord{Status: domain.StatusUntrusted}

	decision := Evaluate(domain.MaturityIntern, record)

	require.False(t, decision.Allowed)
	assert.Equal(t, "approval required", decision.Reason)
}

func TestEvaluate_PendingAwaitsApproval(t *testing.T) {
	record := &domain.PackageRecord{Status: domain.StatusPending}

	decision := Evaluate(domain.MaturitySupervised, record)

	require.False(t, decision.Allowed)
	assert.Equal(t, "awaiting approval", decision.Reason)
}

func TestEvaluate_MaturityGate(t *testing.T) {
	record := activeRecord(domain.MaturitySupervised)

	denied := Evaluate(domain.MaturityIntern, record)
	require.False(t, denied.Allowed)
	assert.Equal(t, "requires higher maturity level: supervised", denied.Reason)

	allowed := Evaluate(domain.MaturitySupervised, record)
	assert.True(t, allowed.Allowed)
	assert.Empty(t, allowed.Reason)

	higher := Evaluate(domain.MaturityAutonomous, record)
	assert.True(t, higher.Allowed)
}

func TestEvaluate_DistinguishableReasonFamilies(t *testing.T) {
	// Четыре семейства причин обязаны оставаться текстуально различимыми
	reasons := map[string]string{
		"unknown":  Evaluate(domain.MaturityIntern, nil).Reason,
		"banned":   Evaluate(domain.MaturityIntern, &domain.PackageRecord{Status: domain.StatusBanned, BanReason: "cve"}).Reason,
		"pending":  Evaluate(domain.MaturityIntern, &domain.PackageRecord{Status: domain.StatusPending}).Reason,
		"maturity": Evaluate(domain.MaturityIntern, activeRecord(domain.MaturityAutonomous)).Reason,
	}

	seen := make(map[string]bool)
	for family, reason := range reasons {
		require.NotEmpty(t, reason, family)
		assert.False(t, seen[reason], "reason %q is not unique", reason)
		seen[reason] = true
	}
}
