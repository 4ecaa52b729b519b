package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTierPolicyDefaultsWhenFileMissing(t *testing.T) {
	holder, err := LoadTierPolicy(TierPolicyOptions{Path: t.TempDir()})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "1", cfg.Tiers["free"].Uploads)
	assert.Equal(t, "1", cfg.Tiers["free"].Downloads)
	assert.Equal(t, UnlimitedValue, cfg.Tiers["standard"].Uploads)
	assert.Equal(t, UnlimitedValue, cfg.Tiers["premium"].Downloads)
}

func TestLoadTierPolicyFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yml")
	content := `tiers:
  free:
    uploads: 2
    downloads: 3
  standard:
    uploads: 50
    downloads: unlimited
  premium:
    uploads: unlimited
    downloads: unlimited
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	holder, err := LoadTierPolicy(TierPolicyOptions{Path: path})
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, "2", cfg.Tiers["free"].Uploads)
	assert.Equal(t, "3", cfg.Tiers["free"].Downloads)
	assert.Equal(t, "50", cfg.Tiers["standard"].Uploads)
	assert.Equal(t, UnlimitedValue, cfg.Tiers["standard"].Downloads)
}

func TestLoadTierPolicyRejectsInvalidFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tiers.yml")
	content := `tiers:
  free:
    uploads: many
    downloads: 1
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	_, err := LoadTierPolicy(TierPolicyOptions{Path: path})
	require.Error(t, err)
}

func TestReplaceKeepsPreviousOnInvalid(t *testing.T) {
	holder, err := NewStaticTierPolicyHolder(DefaultTierPolicyConfig())
	require.NoError(t, err)

	err = holder.Replace(TierPolicyConfig{Tiers: map[string]TierLimits{
		"free": {Uploads: "-5", Downloads: "1"},
	}})
	require.Error(t, err)
	assert.Equal(t, "1", holder.Get().Tiers["free"].Uploads)

	missing := DefaultTierPolicyConfig()
	delete(missing.Tiers, "premium")
	require.Error(t, holder.Replace(missing))
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		raw       string
		max       int64
		unbounded bool
		wantErr   bool
	}{
		{raw: "0", max: 0},
		{raw: " 5 ", max: 5},
		{raw: "unlimited", unbounded: true},
		{raw: "UNLIMITED", unbounded: true},
		{raw: "-1", unbounded: true},
		{raw: "-2", wantErr: true},
		{raw: "", wantErr: true},
		{raw: "lots", wantErr: true},
	}
	for _, tc := range cases {
		max, unbounded, err := ParseLimit(tc.raw)
		if tc.wantErr {
			assert.Error(t, err, tc.raw)
			continue
		}
		require.NoError(t, err, tc.raw)
		assert.Equal(t, tc.max, max, tc.raw)
		assert.Equal(t, tc.unbounded, unbounded, tc.raw)
	}
}
