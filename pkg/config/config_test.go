package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()
	assert.Equal(t, "utf-8", cfg.Encoding)
	assert.Equal(t, 1_000_000, cfg.PageSize)
	assert.True(t, cfg.GuessDtypes)
	require.NoError(t, cfg.Validate())
}

func TestLoad_NoFileReturnsDefaults(t *testing.T) {
	cfg, _, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, NewDefault(), cfg)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "colpage.yaml")
	yaml := "page_size: 500\ndelimiter: \";\"\nworkers: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, _, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 500, cfg.PageSize)
	assert.Equal(t, ";", cfg.Delimiter)
	assert.Equal(t, 4, cfg.Workers)
	// Untouched fields keep their default.
	assert.Equal(t, "utf-8", cfg.Encoding)
}

func TestLoad_MissingFileErrors(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate_RejectsBadPageSize(t *testing.T) {
	cfg := NewDefault()
	cfg.PageSize = 0
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsMultiCharDelimiter(t *testing.T) {
	cfg := NewDefault()
	cfg.Delimiter = ",,"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsUnknownQuoting(t *testing.T) {
	cfg := NewDefault()
	cfg.Quoting = "BOGUS"
	require.Error(t, cfg.Validate())
}

func TestValidate_RejectsNegativeWorkers(t *testing.T) {
	cfg := NewDefault()
	cfg.Workers = -1
	require.Error(t, cfg.Validate())
}

func TestResolvedWorkers(t *testing.T) {
	cfg := NewDefault()
	cfg.Workers = 7
	assert.Equal(t, 7, cfg.ResolvedWorkers())

	cfg.Workers = 0
	assert.Greater(t, cfg.ResolvedWorkers(), 0)
}
