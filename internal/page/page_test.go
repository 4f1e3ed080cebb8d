package page

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/colpage/colpage/internal/typeinfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePage(t *testing.T, pageType typeinfer.PageType, width, n int, values []typeinfer.Value) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "col.npy")
	w, err := Create(path)
	require.NoError(t, err)

	require.NoError(t, w.WriteHeader(pageType, width, n))
	for _, v := range values {
		require.NoError(t, w.WriteValue(v))
	}
	require.NoError(t, w.Finalize())
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

// splitHeader returns the prelude length and the body bytes that follow it.
func splitHeader(t *testing.T, data []byte) (preludeLen int, body []byte) {
	t.Helper()
	require.GreaterOrEqual(t, len(data), 10)
	require.Equal(t, []byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0}, data[:8])
	headerLen := int(binary.LittleEndian.Uint16(data[8:10]))
	preludeLen = 10 + headerLen
	require.LessOrEqual(t, preludeLen, len(data))
	return preludeLen, data[preludeLen:]
}

func TestWriter_HeaderPaddingDivisibleBy64(t *testing.T) {
	data := writePage(t, typeinfer.PageInt64, 0, 3, []typeinfer.Value{
		{Type: typeinfer.TypeInt, Int: 1},
		{Type: typeinfer.TypeInt, Int: 2},
		{Type: typeinfer.TypeInt, Int: 3},
	})
	preludeLen, _ := splitHeader(t, data)
	assert.Zero(t, preludeLen%64, "total prelude length must be a multiple of 64")
	assert.Equal(t, byte('\n'), data[preludeLen-1], "prelude must end with a newline")
}

func TestWriter_Int64Roundtrip(t *testing.T) {
	values := []int64{1, -2, 1<<62 - 1}
	vals := make([]typeinfer.Value, len(values))
	for i, n := range values {
		vals[i] = typeinfer.Value{Type: typeinfer.TypeInt, Int: n}
	}
	data := writePage(t, typeinfer.PageInt64, 0, len(values), vals)
	_, body := splitHeader(t, data)
	require.Len(t, body, 8*len(values))
	for i, want := range values {
		got := int64(binary.LittleEndian.Uint64(body[i*8 : i*8+8]))
		assert.Equal(t, want, got)
	}
}

func TestWriter_Float64Roundtrip(t *testing.T) {
	values := []float64{1.5, -2.25, 0}
	vals := make([]typeinfer.Value, len(values))
	for i, f := range values {
		vals[i] = typeinfer.Value{Type: typeinfer.TypeFloat, Float: f}
	}
	data := writePage(t, typeinfer.PageFloat64, 0, len(values), vals)
	_, body := splitHeader(t, data)
	require.Len(t, body, 8*len(values))
	for i, want := range values {
		bits := binary.LittleEndian.Uint64(body[i*8 : i*8+8])
		assert.Equal(t, want, math.Float64frombits(bits))
	}
}

func TestWriter_BoolRoundtrip(t *testing.T) {
	data := writePage(t, typeinfer.PageBool, 0, 2, []typeinfer.Value{
		{Type: typeinfer.TypeBool, Bool: true},
		{Type: typeinfer.TypeBool, Bool: false},
	})
	_, body := splitHeader(t, data)
	require.Equal(t, []byte{0x01, 0x00}, body)
}

func TestWriter_UnicodeRoundtripAndPadding(t *testing.T) {
	data := writePage(t, typeinfer.PageUnicode, 3, 2, []typeinfer.Value{
		{Type: typeinfer.TypeString, Str: "xy"},
		{Type: typeinfer.TypeString, Str: "z"},
	})
	_, body := splitHeader(t, data)
	require.Len(t, body, 2*3*4)

	row0 := body[:12]
	assert.Equal(t, uint32('x'), binary.LittleEndian.Uint32(row0[0:4]))
	assert.Equal(t, uint32('y'), binary.LittleEndian.Uint32(row0[4:8]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(row0[8:12]), "short values are right-padded with zero code points")

	row1 := body[12:24]
	assert.Equal(t, uint32('z'), binary.LittleEndian.Uint32(row1[0:4]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(row1[4:8]))
	assert.Equal(t, uint32(0), binary.LittleEndian.Uint32(row1[8:12]))
}

func TestWriter_UnicodeExceedsWidthIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "col.npy")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(typeinfer.PageUnicode, 1, 1))

	err = w.WriteValue(typeinfer.Value{Type: typeinfer.TypeString, Str: "too long"})
	assert.Error(t, err)
}

func TestWriter_TypeMismatchIsIntegrityError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "col.npy")
	w, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, w.WriteHeader(typeinfer.PageInt64, 0, 1))

	err = w.WriteValue(typeinfer.Value{Type: typeinfer.TypeString, Str: "not an int"})
	assert.Error(t, err)
}

func TestWriter_DtypeDescriptors(t *testing.T) {
	cases := []struct {
		pageType typeinfer.PageType
		width    int
		want     string
	}{
		{typeinfer.PageBool, 0, "|b1"},
		{typeinfer.PageInt64, 0, "<i8"},
		{typeinfer.PageFloat64, 0, "<f8"},
		{typeinfer.PageUnicode, 12, "<U12"},
		{typeinfer.PageObject, 0, "|O"},
	}
	for _, c := range cases {
		got, err := dtypeString(c.pageType, c.width)
		require.NoError(t, err)
		assert.Equal(t, c.want, got)
	}
}

func TestWriter_ObjectPageStructure(t *testing.T) {
	data := writePage(t, typeinfer.PageObject, 0, 3, []typeinfer.Value{
		{Type: typeinfer.TypeInt, Int: 1},
		{Type: typeinfer.TypeBool, Bool: true},
		{Type: typeinfer.TypeNone},
	})
	_, body := splitHeader(t, data)

	require.NotEmpty(t, body)
	assert.Equal(t, byte(opPROTO), body[0])
	assert.Equal(t, byte(3), body[1])
	assert.Equal(t, byte(opSTOP), body[len(body)-1], "pickle stream must end with STOP")

	// BUILD immediately precedes STOP: the ndarray.__setstate__ call that
	// closes the outer (version, shape, dtype, fortran_order, data) tuple.
	assert.Equal(t, byte(opBUILD), body[len(body)-2])
}

func TestWriter_EmptyObjectPageHasNoAppends(t *testing.T) {
	data := writePage(t, typeinfer.PageObject, 0, 0, nil)
	_, body := splitHeader(t, data)

	// The prelude's GLOBAL names ("numpy.core.multiarray", "_reconstruct",
	// "dtype") contain the byte 'e', so only the opcodes after EMPTY_LIST and
	// its one-byte BINPUT memo are scanned.
	i := bytes.LastIndexByte(body, opEMPTY_LIST)
	require.GreaterOrEqual(t, i, 0)
	for _, b := range body[i+3:] {
		assert.NotEqual(t, byte(opAPPENDS), b, "an empty OBJECT page must not emit APPENDS")
	}
}
