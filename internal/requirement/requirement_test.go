package requirement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Pinned(t *testing.T) {
	req, err := Parse("numpy==1.21.0")

	require.NoError(t, err)
	assert.Equal(t, "numpy", req.Name)
	assert.Equal(t, "==", req.Operator)
	assert.Equal(t, "1.21.0", req.Version)
	assert.True(t, req.Pinned())
}

func TestParse_Range(t *testing.T) {
	req, err := Parse("requests>=2.31.0")

	require.NoError(t, err)
	assert.Equal(t, "requests", req.Name)
	assert.Equal(t, ">=", req.Operator)
	assert.False(t, req.Pinned())
}

func TestParse_BareName(t *testing.T) {
	req, err := Parse("pandas")

	require.NoError(t, err)
	assert.Equal(t, "pandas", req.Name)
	assert.Empty(t, req.Operator)
}

func TestParse_NormalizesName(t *testing.T) {
	// PEP 503: регистр и подчеркивания не значимы
	req, err := Parse("Typing_Extensions==4.8.0")

	require.NoError(t, err)
	assert.Equal(t, "typing-extensions", req.Name)
}

func TestParse_Whitespace(t *testing.T) {
	req, err := Parse("  flask == 3.0.0  ")

	require.NoError(t, err)
	assert.Equal(t, "flask", req.Name)
	assert.Equal(t, "3.0.0", req.Version)
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"   ",
		"numpy==",
		"numpy==not.a.version",
		"пакет==1.0.0",
		"name with spaces",
		"==1.0.0",
	}
	for _, raw := range cases {
		_, err := Parse(raw)
		assert.Error(t, err, "expected parse failure for %q", raw)
	}
}

func TestParseList(t *testing.T) {
	reqs, err := ParseList([]string{"numpy==1.21.0", "requests>=2.31.0"})
	require.NoError(t, err)
	assert.Len(t, reqs, 2)

	_, err = ParseList([]string{"numpy==1.21.0", "broken=="})
	assert.Error(t, err)

	_, err = ParseList(nil)
	assert.Error(t, err)
}

func TestIncompatible_TwoPins(t *testing.T) {
	a, _ := Parse("numpy==1.21.0")
	b, _ := Parse("numpy==1.26.0")

	bad, reason := Incompatible(a, b)
	assert.True(t, bad)
	assert.NotEmpty(t, reason)
}

func TestIncompatible_PinViolatesRange(t *testing.T) {
	pin, _ := Parse("numpy==1.21.0")
	rng, _ := Parse("numpy>=1.26.0")

	bad, _ := Incompatible(pin, rng)
	assert.True(t, bad)
}

func TestIncompatible_PinSatisfiesRange(t *testing.T) {
	pin, _ := Parse("numpy==1.26.4")
	rng, _ := Parse("numpy>=1.26.0")

	bad, _ := Incompatible(pin, rng)
	assert.False(t, bad)
}

func TestIncompatible_DifferentPackages(t *testing.T) {
	a, _ := Parse("numpy==1.21.0")
	b, _ := Parse("pandas==2.0.0")

	bad, _ := Incompatible(a, b)
	assert.False(t, bad)
}

func TestIncompatible_TwoRangesAssumedCompatible(t *testing.T) {
	a, _ := Parse("numpy>=1.20.0")
	b, _ := Parse("numpy<=1.10.0")

	// Пересечение диапазонов не доказываем — ложная блокировка хуже пропуска
	bad, _ := Incompatible(a, b)
	assert.False(t, bad)
}

func TestNormalize_StableOrder(t *testing.T) {
	a, err := ParseList([]string{"requests>=2.31.0", "numpy==1.21.0", "pandas"})
	require.NoError(t, err)
	b, err := ParseList([]string{"pandas", "numpy==1.21.0", "requests>=2.31.0"})
	require.NoError(t, err)

	assert.Equal(t, Normalize(a), Normalize(b))
	assert.Equal(t, []string{"numpy==1.21.0", "pandas", "requests>=2.31.0"}, Normalize(a))
}
