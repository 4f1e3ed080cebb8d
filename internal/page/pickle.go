package page

import (
	"bufio"
	"encoding/binary"
	"math"

	"github.com/colpage/colpage/internal/typeinfer"
)

// Pickle protocol 3 opcodes used by the OBJECT page writer (§4.E.2).
const (
	opPROTO          = 0x80
	opGLOBAL         = 'c'
	opBININT         = 'J'
	opBININT1        = 'K'
	opBININT2        = 'M'
	opTUPLE1         = 0x85
	opTUPLE2         = 0x86
	opTUPLE3         = 0x87
	opTUPLE          = 't'
	opREDUCE         = 'R'
	opMARK           = '('
	opSHORT_BINBYTES = 'C'
	opBINUNICODE     = 'X'
	opNEWFALSE       = 0x89
	opNEWTRUE        = 0x88
	opNONE           = 'N'
	opBUILD          = 'b'
	opEMPTY_LIST     = ']'
	opAPPENDS        = 'e'
	opSTOP           = '.'
	opBINFLOAT       = 'G'
	opBINPUT         = 'q'
	opLONG_BINPUT    = 'r'
)

// pickleWriter serializes the pickle-protocol-3 byte stream for one
// OBJECT page (§4.E.2): a fixed ndarray-reconstruction prelude, one
// opcode sequence per row value, and a fixed suffix. The BINPUT counter
// is the glossary's "BINPUT counter": it starts at 0 for the page and
// increments on every memoized (interned) reference.
type pickleWriter struct {
	w      *bufio.Writer
	binput int
}

func newPickleWriter(w *bufio.Writer) *pickleWriter {
	return &pickleWriter{w: w}
}

func (p *pickleWriter) memoize() {
	if p.binput <= 0xff {
		p.w.WriteByte(opBINPUT)
		p.w.WriteByte(byte(p.binput))
	} else {
		p.w.WriteByte(opLONG_BINPUT)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(p.binput))
		p.w.Write(buf[:])
	}
	p.binput++
}

func (p *pickleWriter) proto(version byte) {
	p.w.WriteByte(opPROTO)
	p.w.WriteByte(version)
}

// global pushes a GLOBAL reference and memoizes it, mirroring how
// cPython's pickler memoizes every module-level object it resolves.
func (p *pickleWriter) global(module, name string) {
	p.w.WriteByte(opGLOBAL)
	p.w.WriteString(module)
	p.w.WriteByte('\n')
	p.w.WriteString(name)
	p.w.WriteByte('\n')
	p.memoize()
}

// binint chooses the shortest opcode that represents n: BININT1 for
// 0..255, BININT2 for 0..65535, BININT (signed i32) otherwise — the same
// shortest-encoding rule §4.E.2.2 specifies for Int row values.
func (p *pickleWriter) binint(n int32) {
	switch {
	case n >= 0 && n <= 0xff:
		p.w.WriteByte(opBININT1)
		p.w.WriteByte(byte(n))
	case n >= 0 && n <= 0xffff:
		p.w.WriteByte(opBININT2)
		var buf [2]byte
		binary.LittleEndian.PutUint16(buf[:], uint16(n))
		p.w.Write(buf[:])
	default:
		p.w.WriteByte(opBININT)
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(n))
		p.w.Write(buf[:])
	}
}

func (p *pickleWriter) shortBinBytes(data []byte) {
	p.w.WriteByte(opSHORT_BINBYTES)
	p.w.WriteByte(byte(len(data)))
	p.w.Write(data)
	p.memoize()
}

func (p *pickleWriter) tuple(n int) {
	switch n {
	case 1:
		p.w.WriteByte(opTUPLE1)
	case 2:
		p.w.WriteByte(opTUPLE2)
	case 3:
		p.w.WriteByte(opTUPLE3)
	default:
		p.w.WriteByte(opTUPLE)
	}
	p.memoize()
}

func (p *pickleWriter) reduce() {
	p.w.WriteByte(opREDUCE)
	p.memoize()
}

func (p *pickleWriter) mark() { p.w.WriteByte(opMARK) }

func (p *pickleWriter) binUnicode(s string) {
	p.w.WriteByte(opBINUNICODE)
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(s)))
	p.w.Write(buf[:])
	p.w.WriteString(s)
	p.memoize()
}

func (p *pickleWriter) newFalse() { p.w.WriteByte(opNEWFALSE) }
func (p *pickleWriter) newTrue()  { p.w.WriteByte(opNEWTRUE) }
func (p *pickleWriter) none()     { p.w.WriteByte(opNONE) }
func (p *pickleWriter) build()    { p.w.WriteByte(opBUILD) }
func (p *pickleWriter) appends()  { p.w.WriteByte(opAPPENDS) }
func (p *pickleWriter) stop()     { p.w.WriteByte(opSTOP) }

func (p *pickleWriter) emptyList() {
	p.w.WriteByte(opEMPTY_LIST)
	p.memoize()
}

func (p *pickleWriter) binFloat(f float64) {
	p.w.WriteByte(opBINFLOAT)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(f))
	p.w.Write(buf[:])
}

func writeFloat64LE(w *bufio.Writer, f float64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(f))
	_, err := w.Write(buf[:])
	return err
}

// writePrelude emits the fixed ndarray-reconstruction prelude (§4.E.2.1)
// up through EMPTY_LIST, opening a MARK for the data list's contents only
// when the page has at least one row — matching design notes §9's
// "template as literals" guidance while keeping the embedded row count N
// a parameter.
func (p *pickleWriter) writePrelude(n int) {
	p.proto(3)
	p.global("numpy.core.multiarray", "_reconstruct")
	p.global("numpy", "ndarray")
	p.binint(0)
	p.tuple(1)
	p.shortBinBytes([]byte("b"))
	p.tuple(3)
	p.reduce() // ndarray instance

	p.mark() // outer: (version, shape, dtype, fortran_order, data)
	p.binint(1)
	p.binint(int32(n))
	p.tuple(1) // shape tuple

	p.global("numpy", "dtype")
	p.binUnicode("O8")
	p.newFalse()
	p.newTrue()
	p.tuple(3)
	p.reduce() // dtype instance

	p.mark() // inner: dtype state tuple
	p.binint(3)
	p.binUnicode("|")
	p.none()
	p.none()
	p.none()
	p.binint(-1)
	p.binint(-1)
	p.binint(63)
	p.tuple(0) // closes inner mark
	p.build()  // dtype.__setstate__

	p.newFalse()  // fortran_order
	p.emptyList() // data

	if n > 0 {
		p.mark()
	}
}

// writeSuffix closes the data list and the outer state tuple (§4.E.2.3).
func (p *pickleWriter) writeSuffix(n int) {
	if n > 0 {
		p.appends()
	}
	p.tuple(0) // closes outer mark
	p.build()  // ndarray.__setstate__
	p.stop()
}

// writeObject serializes one row value per §4.E.2.2's per-type rules.
func (p *pickleWriter) writeObject(v typeinfer.Value) {
	switch v.Type {
	case typeinfer.TypeNone:
		p.none()
	case typeinfer.TypeBool:
		if v.Bool {
			p.newTrue()
		} else {
			p.newFalse()
		}
	case typeinfer.TypeInt:
		p.writeInt(v.Int)
	case typeinfer.TypeFloat:
		p.binFloat(v.Float)
	case typeinfer.TypeString:
		p.binUnicode(v.Str)
	case typeinfer.TypeDate, typeinfer.TypeDateUS:
		p.writeDate(v.Date)
	case typeinfer.TypeTime:
		p.writeTime(v.Time)
	case typeinfer.TypeDateTime, typeinfer.TypeDateTimeUS:
		p.writeDateTime(v.Date, v.Time)
	default:
		p.binUnicode(v.Str)
	}
}

// writeInt mirrors §4.E.2.2's Int rule: BININT1/BININT2 for small
// non-negative values, BININT (signed i32) otherwise. §4.E.2.2 names no
// opcode wider than BININT's i32, so a magnitude outside that range is
// truncated to its low 32 bits (see DESIGN.md's Page Writer entry).
func (p *pickleWriter) writeInt(n int64) {
	p.binint(int32(n))
}

func (p *pickleWriter) writeDate(d typeinfer.DateValue) {
	p.global("datetime", "date")
	p.shortBinBytes(dateBytes(d))
	p.tuple(1)
	p.reduce()
}

func (p *pickleWriter) writeTime(t typeinfer.TimeValue) {
	p.global("datetime", "time")
	p.shortBinBytes(timeBytes(t))
	if t.HasOffset {
		p.writeOffsetTimezone(t.OffsetSeconds)
		p.tuple(2)
	} else {
		p.tuple(1)
	}
	p.reduce()
}

func (p *pickleWriter) writeDateTime(d typeinfer.DateValue, t typeinfer.TimeValue) {
	p.global("datetime", "datetime")
	p.shortBinBytes(append(dateBytes(d), timeBytes(t)...))
	if t.HasOffset {
		p.writeOffsetTimezone(t.OffsetSeconds)
		p.tuple(2)
	} else {
		p.tuple(1)
	}
	p.reduce()
}

func (p *pickleWriter) writeOffsetTimezone(offsetSeconds int) {
	days := offsetSeconds / 86400
	secs := offsetSeconds % 86400
	if secs < 0 {
		secs += 86400
		days--
	}
	p.global("datetime", "timedelta")
	p.binint(int32(days))
	p.binint(int32(secs))
	p.binint(0)
	p.tuple(3)
	p.reduce()

	p.global("datetime", "timezone")
	p.tuple(1)
	p.reduce()
}

// dateBytes encodes (year, month, day) as the 4-byte big-endian-year form
// §4.E.2.2 specifies for Date.
func dateBytes(d typeinfer.DateValue) []byte {
	return []byte{
		byte(d.Year >> 8), byte(d.Year),
		byte(d.Month), byte(d.Day),
	}
}

// timeBytes encodes (hour, minute, second, microsecond) as the 6-byte
// form §4.E.2.2 specifies for Time: hh mm ss followed by a 3-byte
// big-endian microsecond field.
func timeBytes(t typeinfer.TimeValue) []byte {
	return []byte{
		byte(t.Hour), byte(t.Minute), byte(t.Second),
		byte(t.Microsecond >> 16), byte(t.Microsecond >> 8), byte(t.Microsecond),
	}
}
