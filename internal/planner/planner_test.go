package planner

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/internal/encoding"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.csv")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	return path
}

func baseRequest(t *testing.T, source string) Request {
	return Request{
		SourcePath:  source,
		Encoding:    encoding.UTF8,
		Dialect:     dialect.Default(),
		PageSize:    2,
		GuessDtypes: true,
		OutputDir:   t.TempDir(),
	}
}

func TestPlan_AllColumnsAndSlicing(t *testing.T) {
	source := writeSource(t, "id,name\n1,a\n2,b\n3,c\n4,d\n5,e\n")
	req := baseRequest(t, source)

	plan, err := Plan(req, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "name"}, plan.ColumnNames)
	assert.Equal(t, 5, plan.RecordCount)
	require.Len(t, plan.Tasks, 3) // ceil(5/2)

	assert.Equal(t, 2, plan.Tasks[0].RowCount)
	assert.Equal(t, 2, plan.Tasks[1].RowCount)
	assert.Equal(t, 1, plan.Tasks[2].RowCount)

	for _, task := range plan.Tasks {
		require.Len(t, task.PagePaths, 2)
		assert.NotEqual(t, task.PagePaths[0], task.PagePaths[1])
	}
	assert.Len(t, plan.PagePaths["id"], 3)
	assert.Len(t, plan.PagePaths["name"], 3)
}

func TestPlan_RequestedColumnSubset(t *testing.T) {
	source := writeSource(t, "id,name,extra\n1,a,x\n2,b,y\n")
	req := baseRequest(t, source)
	req.RequestedColumns = []string{"name"}

	plan, err := Plan(req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"name"}, plan.ColumnNames)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, []int{1}, plan.Tasks[0].ImportFields)
}

func TestPlan_DuplicateHeaderNameMapsPositionally(t *testing.T) {
	source := writeSource(t, "id,name,id\n1,a,3\n")
	req := baseRequest(t, source)

	plan, err := Plan(req, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "name", "id_1"}, plan.ColumnNames)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, []int{0, 1, 2}, plan.Tasks[0].ImportFields)
}

func TestPlan_RequestedDuplicateNameConsumesEachOccurrence(t *testing.T) {
	source := writeSource(t, "id,name,id\n1,a,3\n")
	req := baseRequest(t, source)
	req.RequestedColumns = []string{"id", "id"}

	plan, err := Plan(req, nil)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2}, plan.Tasks[0].ImportFields)
}

func TestPlan_MissingColumnIsConfigError(t *testing.T) {
	source := writeSource(t, "id,name\n1,a\n")
	req := baseRequest(t, source)
	req.RequestedColumns = []string{"id", "nonexistent"}

	_, err := Plan(req, nil)
	require.Error(t, err)
}

func TestPlan_EmptyFileIsConfigError(t *testing.T) {
	source := writeSource(t, "")
	req := baseRequest(t, source)

	_, err := Plan(req, nil)
	require.Error(t, err)
}

func TestPlan_HeaderOnlyNoDataRows(t *testing.T) {
	source := writeSource(t, "id,name\n")
	req := baseRequest(t, source)

	plan, err := Plan(req, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, plan.RecordCount)
	assert.Empty(t, plan.Tasks)
}

func TestUniqueNames_DedupesWithSuffix(t *testing.T) {
	got := uniqueNames([]string{"a", "b", "a", "a", "b"})
	assert.Equal(t, []string{"a", "b", "a_1", "a_2", "b_1"}, got)
}

func TestPathAllocator_SkipsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "0.npy"), []byte("x"), 0o644))

	a := newPathAllocator(dir)
	first := a.next()
	assert.Equal(t, filepath.Join(dir, "1.npy"), first)
}
