package dispatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/internal/encoding"
	"github.com/colpage/colpage/internal/sliceproc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func sampleTask(t *testing.T, source string) sliceproc.Task {
	t.Helper()
	dir := t.TempDir()
	return sliceproc.Task{
		ID:             "t0",
		SourcePath:     source,
		Encoding:       encoding.UTF8,
		Dialect:        dialect.Default(),
		PagePaths:      []string{filepath.Join(dir, "a.npy")},
		ColumnNames:    []string{"a"},
		ImportFields:   []int{0},
		RowOffsetBytes: int64(len("a\n")),
		RowCount:       1,
		GuessDtypes:    true,
	}
}

func TestRun_SerialMode(t *testing.T) {
	source := filepath.Join(t.TempDir(), "s.csv")
	require.NoError(t, os.WriteFile(source, []byte("a\n1\n"), 0o644))

	results, err := Run(context.Background(), []sliceproc.Task{sampleTask(t, source)}, Options{Mode: Serial}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].RowsWritten)
}

func TestRun_UnknownModeIsConfigError(t *testing.T) {
	_, err := Run(context.Background(), nil, Options{Mode: Mode(99)}, nil)
	require.Error(t, err)
}

func TestRun_SerialModePropagatesTaskFailure(t *testing.T) {
	bad := sliceproc.Task{
		PagePaths:    []string{"a.npy"},
		ImportFields: []int{0, 1}, // mismatched length triggers a config error in sliceproc.Run
	}
	_, err := Run(context.Background(), []sliceproc.Task{bad}, Options{Mode: Serial}, nil)
	require.Error(t, err)
}

func TestTaskArgs(t *testing.T) {
	task := sliceproc.Task{
		SourcePath:     "/data/in.csv",
		Encoding:       encoding.UTF8,
		PagePaths:      []string{"/out/0.npy", "/out/1.npy"},
		ImportFields:   []int{0, 2},
		RowOffsetBytes: 128,
		RowCount:       1000,
		GuessDtypes:    true,
	}
	args := taskArgs(task)
	assert.Contains(t, args, "--pages")
	assert.Contains(t, args, "/out/0.npy,/out/1.npy")
	assert.Contains(t, args, "--fields")
	assert.Contains(t, args, "0,2")
	assert.Contains(t, args, "--guess_dtypes")
	assert.Contains(t, args, "/data/in.csv")
	assert.Contains(t, args, "128")
	assert.Contains(t, args, "1000")
}

func TestTasksTxtLine_ShellEscapesSpaces(t *testing.T) {
	task := sliceproc.Task{
		SourcePath:   "/data/has space.csv",
		Encoding:     encoding.UTF8,
		PagePaths:    []string{"/out/0.npy"},
		ImportFields: []int{0},
		RowCount:     10,
	}
	line := TasksTxtLine("/usr/local/bin/colpage", task)
	assert.Contains(t, line, "'/data/has space.csv'")
	assert.Contains(t, line, "/usr/local/bin/colpage")
}

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "''", shellQuote(""))
	assert.Equal(t, "plain", shellQuote("plain"))
	assert.Equal(t, `'it'\''s'`, shellQuote("it's"))
	assert.Equal(t, "'has space'", shellQuote("has space"))
}

func TestResolveWorkers_ReturnsPositive(t *testing.T) {
	n := ResolveWorkers(zap.NewNop())
	assert.Greater(t, n, 0)
}
