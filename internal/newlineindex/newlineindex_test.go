package newlineindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colpage/colpage/internal/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempFile(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func TestBuildCountsRecordsAndOffsets(t *testing.T) {
	path := writeTempFile(t, "h1,h2\nr1,r2\nr3,r4\n")
	idx, err := Build(path, encoding.UTF8, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, idx.RecordCount)
	require.Len(t, idx.Offsets, 4)
	assert.Equal(t, int64(0), idx.OffsetOfRecord(0))
	assert.Equal(t, int64(len("h1,h2\n")), idx.OffsetOfRecord(1))
	assert.Equal(t, int64(len("h1,h2\nr1,r2\n")), idx.OffsetOfRecord(2))
}

func TestBuildEmptyFile(t *testing.T) {
	path := writeTempFile(t, "")
	idx, err := Build(path, encoding.UTF8, nil)
	require.NoError(t, err)

	assert.Equal(t, 0, idx.RecordCount)
	assert.Equal(t, []int64{0}, idx.Offsets)
}

func TestBuildSkipsBOMForOffsetZero(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bom.csv")
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("a,b\n")...)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	idx, err := Build(path, encoding.UTF8, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), idx.Offsets[0])
	assert.Equal(t, 1, idx.RecordCount)
}
