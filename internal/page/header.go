// Package page implements the Page Writer (spec.md §4.E): the shared
// numpy-compatible header prelude for every page, fixed-stride body
// encoding for UNICODE/INT64/FLOAT64/BOOL pages, and a pickle-protocol-3
// object stream for OBJECT pages. Grounded on the teacher's binary-layout
// idiom in pkg/columnar (fixed headers, explicit little-endian encoding)
// and pkg/mmap/reader.go's header-prelude reading, mirrored here as a
// writer; the pickle encoder has no teacher analogue and is authored fresh
// against spec.md §4.E.2's opcode sequence (see DESIGN.md).
package page

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/colpage/colpage/internal/typeinfer"
	"github.com/colpage/colpage/pkg/colerrors"
	"github.com/colpage/colpage/pkg/pool"
)

const preludeFixedLen = 10 // magic(6) + version(2) + header-length u16(2)

// dtypeString renders the numpy dtype descriptor for a PageType, §6.2.
func dtypeString(pageType typeinfer.PageType, width int) (string, error) {
	switch pageType {
	case typeinfer.PageBool:
		return "|b1", nil
	case typeinfer.PageInt64:
		return "<i8", nil
	case typeinfer.PageFloat64:
		return "<f8", nil
	case typeinfer.PageUnicode:
		return fmt.Sprintf("<U%d", width), nil
	case typeinfer.PageObject:
		return "|O", nil
	default:
		return "", colerrors.New(colerrors.ErrorTypeInternal, "cannot write header for unset page type")
	}
}

// writeHeaderPrelude writes the shared numpy header protocol (§4.E "Shared
// header protocol"): magic, version, a little-endian u16 padded header
// length, the literal dict header, space padding, and a trailing newline,
// such that the total prelude length is a multiple of 64.
func writeHeaderPrelude(w *bufio.Writer, pageType typeinfer.PageType, width, n int) error {
	descr, err := dtypeString(pageType, width)
	if err != nil {
		return err
	}
	header := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d,)}", descr, n)
	headerLen := len(header)
	padding := 64 - ((preludeFixedLen + headerLen) % 64)
	paddingHeader := uint16(padding + headerLen)

	if _, err := w.Write([]byte{0x93, 'N', 'U', 'M', 'P', 'Y', 1, 0}); err != nil {
		return colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to write page magic")
	}
	if err := binary.Write(w, binary.LittleEndian, paddingHeader); err != nil {
		return colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to write page header length")
	}
	if _, err := w.WriteString(header); err != nil {
		return colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to write page header dict")
	}
	if _, err := w.WriteString(strings.Repeat(" ", padding-1)); err != nil {
		return colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to write page header padding")
	}
	if err := w.WriteByte('\n'); err != nil {
		return colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to write page header newline")
	}
	return nil
}

// Writer emits one page file: a numpy header prelude followed by either a
// fixed-stride body or a pickle object stream, dispatched on PageType —
// the tagged-variant dispatch design notes §9 calls for instead of
// per-kind inheritance.
type Writer struct {
	file        *os.File
	bw          *bufio.Writer
	pageType    typeinfer.PageType
	width       int
	expectedN   int
	rowsWritten int
	pickle      *pickleWriter
	// rowBuf is a pooled row-staging buffer (§9's page-writer scratch
	// buffer) used by writeUnicode to assemble one row's code points
	// before a single Write call, instead of one bufio.Write per rune.
	rowBuf []byte
}

// Create opens path and truncates/creates it for a new page; the planner
// guarantees path is unique (§3.2.2).
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, colerrors.Wrap(err, colerrors.ErrorTypeIO, "failed to create page file").WithDetail("path", path)
	}
	return &Writer{file: f, bw: bufio.NewWriterSize(f, 64*1024)}, nil
}

// WriteHeader writes the numpy header prelude for a page of the given
// type, width (meaningful only for PageUnicode) and row count, and — for
// PageObject — the pickle prelude through EMPTY_LIST (§4.E.2.1).
func (w *Writer) WriteHeader(pageType typeinfer.PageType, width, n int) error {
	if err := writeHeaderPrelude(w.bw, pageType, width, n); err != nil {
		return err
	}
	w.pageType = pageType
	w.width = width
	w.expectedN = n
	if pageType == typeinfer.PageObject {
		w.pickle = newPickleWriter(w.bw)
		w.pickle.writePrelude(n)
	}
	if pageType == typeinfer.PageUnicode && width > 0 {
		w.rowBuf = pool.Global.Get(width * 4)
	}
	return nil
}

// WriteValue appends one row's value in pass-2 row order. For fixed-stride
// page types, v.Type must match the column's chosen DataType exactly — a
// mismatch is the integrity error §7 describes ("reflects a bug or a
// race"), never silently downgraded.
func (w *Writer) WriteValue(v typeinfer.Value) error {
	var err error
	switch w.pageType {
	case typeinfer.PageBool:
		err = w.writeBool(v)
	case typeinfer.PageInt64:
		err = w.writeInt64(v)
	case typeinfer.PageFloat64:
		err = w.writeFloat64(v)
	case typeinfer.PageUnicode:
		err = w.writeUnicode(v)
	case typeinfer.PageObject:
		w.pickle.writeObject(v)
	default:
		err = colerrors.New(colerrors.ErrorTypeInternal, "WriteValue called before WriteHeader")
	}
	if err != nil {
		return err
	}
	w.rowsWritten++
	return nil
}

func (w *Writer) writeBool(v typeinfer.Value) error {
	if v.Type != typeinfer.TypeBool {
		return integrityMismatch(typeinfer.PageBool, v.Type)
	}
	b := byte(0x00)
	if v.Bool {
		b = 0x01
	}
	return w.bw.WriteByte(b)
}

func (w *Writer) writeInt64(v typeinfer.Value) error {
	if v.Type != typeinfer.TypeInt {
		return integrityMismatch(typeinfer.PageInt64, v.Type)
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v.Int))
	_, err := w.bw.Write(buf[:])
	return err
}

func (w *Writer) writeFloat64(v typeinfer.Value) error {
	if v.Type != typeinfer.TypeFloat {
		return integrityMismatch(typeinfer.PageFloat64, v.Type)
	}
	return writeFloat64LE(w.bw, v.Float)
}

func (w *Writer) writeUnicode(v typeinfer.Value) error {
	if v.Type != typeinfer.TypeString {
		return integrityMismatch(typeinfer.PageUnicode, v.Type)
	}
	runes := []rune(v.Str)
	if len(runes) > w.width {
		return colerrors.New(colerrors.ErrorTypeIntegrity, "unicode value exceeds the slice's computed column width").
			WithDetail("width", w.width).WithDetail("value_len", len(runes))
	}
	need := w.width * 4
	buf := w.rowBuf
	if len(buf) < need {
		buf = make([]byte, need)
	}
	i := 0
	for _, r := range runes {
		binary.LittleEndian.PutUint32(buf[i:i+4], uint32(r))
		i += 4
	}
	for ; i < need; i += 4 {
		buf[i], buf[i+1], buf[i+2], buf[i+3] = 0, 0, 0, 0
	}
	_, err := w.bw.Write(buf[:need])
	return err
}

func integrityMismatch(want typeinfer.PageType, got typeinfer.DataType) error {
	return colerrors.New(colerrors.ErrorTypeIntegrity, "pass-2 value type does not match the column's chosen page type").
		WithDetail("page_type", want.String()).WithDetail("value_type", got.String())
}

// Finalize closes out the body: for OBJECT pages, the pickle suffix
// (§4.E.2.3); for fixed-stride pages, nothing beyond flushing.
func (w *Writer) Finalize() error {
	if w.pageType == typeinfer.PageObject {
		w.pickle.writeSuffix(w.expectedN)
	}
	return w.bw.Flush()
}

// RowsWritten reports how many values have been written so far.
func (w *Writer) RowsWritten() int { return w.rowsWritten }

// Close releases the underlying file descriptor and returns any pooled
// row-staging buffer. Callers must call Finalize first to flush the
// buffered writer.
func (w *Writer) Close() error {
	if w.rowBuf != nil {
		pool.Global.Put(w.rowBuf)
		w.rowBuf = nil
	}
	return w.file.Close()
}
