package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPreemptionRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	yaml := `
rules:
  - state: NC
    category: minimum_wage
    allows_local_override: false
  - state: CA
    category: minimum_wage
    allows_local_override: true
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0644))

	rules, err := loadPreemptionRules(path)
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "NC", rules[0].State)
	assert.False(t, rules[0].AllowsLocalOverride)
	assert.True(t, rules[1].AllowsLocalOverride)
}

func TestLoadPreemptionRules_MissingState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules:\n  - category: minimum_wage\n"), 0644))

	_, err := loadPreemptionRules(path)
	assert.Error(t, err)
}

func TestLoadPreemptionRules_FileMissing(t *testing.T) {
	_, err := loadPreemptionRules(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
