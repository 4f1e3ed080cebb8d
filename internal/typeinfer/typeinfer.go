// Package typeinfer implements the Type Inferencer (spec.md §4.D): for a
// candidate string and a column's rank counter, it walks an ordered
// taxonomy of DataTypes, attempting each type's parser in trial order and
// recording the first success. Grounded on the teacher's
// pkg/schema/type_inference.go for the idea of a small, explicit set of
// per-type detector functions, but authored fresh against spec.md's
// rank-counter/trial-order algorithm rather than that file's
// regex-and-statistics design (see DESIGN.md).
package typeinfer

import (
	"strconv"
	"strings"
	"time"
)

// DataType is one entry of the ordered type taxonomy (§3.1), tried
// strictest-first.
type DataType int

const (
	TypeNone DataType = iota
	TypeBool
	TypeDateTime
	TypeDateTimeUS
	TypeDate
	TypeDateUS
	TypeTime
	TypeInt
	TypeFloat
	TypeString
	numDataTypes
)

func (t DataType) String() string {
	switch t {
	case TypeNone:
		return "NONE"
	case TypeBool:
		return "BOOL"
	case TypeDateTime:
		return "DATETIME"
	case TypeDateTimeUS:
		return "DATETIME_US"
	case TypeDate:
		return "DATE"
	case TypeDateUS:
		return "DATE_US"
	case TypeTime:
		return "TIME"
	case TypeInt:
		return "INT"
	case TypeFloat:
		return "FLOAT"
	case TypeString:
		return "STRING"
	default:
		return "UNKNOWN"
	}
}

// PageType is the column's final storage discriminant (§3.1).
type PageType int

const (
	PageUnset PageType = iota
	PageUnicode
	PageInt64
	PageFloat64
	PageBool
	PageObject
)

func (p PageType) String() string {
	switch p {
	case PageUnicode:
		return "UNICODE"
	case PageInt64:
		return "INT64"
	case PageFloat64:
		return "FLOAT64"
	case PageBool:
		return "BOOL"
	case PageObject:
		return "OBJECT"
	default:
		return "UNSET"
	}
}

// DateValue is a proleptic-Gregorian (year, month, day) triple, decoded
// without pulling in a full calendar library — spec.md §1 treats calendar
// arithmetic as an assumed-available utility, not something this package
// needs beyond storing the parsed fields for the pickle writer.
type DateValue struct {
	Year, Month, Day int
}

// TimeValue is a wall-clock time with optional UTC offset, parsed by the
// hand-written sub-parser in parseClock/parseOffset — never through a
// locale-aware layout.
type TimeValue struct {
	Hour, Minute, Second, Microsecond int
	HasOffset                        bool
	OffsetSeconds                    int
}

// Value is the decoded result of a successful ParseAs call, carrying only
// the fields relevant to its Type.
type Value struct {
	Type  DataType
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Date  DateValue
	Time  TimeValue
}

// nullSet is the canonical null-string mapping to the None object (§4.D.2,
// glossary "Null set").
var nullSet = map[string]struct{}{
	"":      {},
	"null":  {},
	"Null":  {},
	"NULL":  {},
	"#N/A":  {},
	"#n/a":  {},
	"None":  {},
}

// isoDateLayouts covers DATE: year-month-day and day-month-year variants
// with '-', '/', and space separators, plus the leading-'!' dot convention
// (glossary "DateFormats").
var isoDateLayouts = []string{
	"2006-01-02", "2006/01/02", "2006 01 02",
	"02-01-2006", "02/01/2006", "02 01 2006",
	"!2006.01.02", "!02.01.2006",
}

// usDateLayouts covers DATE_US: month-day-year variants only.
var usDateLayouts = []string{
	"01-02-2006", "01/02/2006", "01 02 2006", "!01.02.2006",
}

// ParseAs attempts to parse s as DataType t, returning the decoded Value
// and whether the parse succeeded. STRING always succeeds.
func ParseAs(t DataType, s string) (Value, bool) {
	switch t {
	case TypeNone:
		if _, ok := nullSet[s]; ok {
			return Value{Type: TypeNone}, true
		}
		return Value{}, false
	case TypeBool:
		if b, ok := parseBool(s); ok {
			return Value{Type: TypeBool, Bool: b}, true
		}
		return Value{}, false
	case TypeDateTime:
		if v, ok := parseDateTime(s, isoDateLayouts); ok {
			v.Type = TypeDateTime
			return v, true
		}
		return Value{}, false
	case TypeDateTimeUS:
		if v, ok := parseDateTime(s, usDateLayouts); ok {
			v.Type = TypeDateTimeUS
			return v, true
		}
		return Value{}, false
	case TypeDate:
		if d, ok := tryDateLayouts(s, isoDateLayouts); ok {
			return Value{Type: TypeDate, Date: d}, true
		}
		return Value{}, false
	case TypeDateUS:
		if d, ok := tryDateLayouts(s, usDateLayouts); ok {
			return Value{Type: TypeDateUS, Date: d}, true
		}
		return Value{}, false
	case TypeTime:
		if tv, ok := parseClockString(s); ok {
			return Value{Type: TypeTime, Time: tv}, true
		}
		return Value{}, false
	case TypeInt:
		if n, ok := parseIntStrict(s); ok {
			return Value{Type: TypeInt, Int: n}, true
		}
		return Value{}, false
	case TypeFloat:
		if f, ok := parseFloatStrict(s); ok {
			return Value{Type: TypeFloat, Float: f}, true
		}
		return Value{}, false
	case TypeString:
		return Value{Type: TypeString, Str: s}, true
	default:
		return Value{}, false
	}
}

func parseBool(s string) (bool, bool) {
	switch {
	case strings.EqualFold(s, "true"):
		return true, true
	case strings.EqualFold(s, "false"):
		return false, true
	default:
		return false, false
	}
}

// parseIntStrict relies on strconv.ParseInt's base-10 grammar, which
// already rejects whitespace and thousands separators, so no extra checks
// are needed to satisfy "no whitespace, no thousands separators".
func parseIntStrict(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseFloatStrict(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func tryDateLayouts(s string, layouts []string) (DateValue, bool) {
	for _, layout := range layouts {
		input := s
		parseLayout := layout
		if strings.HasPrefix(layout, "!") {
			parseLayout = strings.ReplaceAll(layout[1:], ".", "-")
			input = strings.ReplaceAll(s, ".", "-")
		}
		if t, err := time.Parse(parseLayout, input); err == nil {
			return DateValue{Year: t.Year(), Month: int(t.Month()), Day: t.Day()}, true
		}
	}
	return DateValue{}, false
}

// splitDateTime splits on the first space or 'T', the separator spec.md
// §4.D names between a DATE/DATE_US component and a TIME component.
func splitDateTime(s string) (datePart, timePart string, ok bool) {
	idx := strings.IndexAny(s, "T ")
	if idx <= 0 || idx == len(s)-1 {
		return "", "", false
	}
	return s[:idx], s[idx+1:], true
}

func parseDateTime(s string, layouts []string) (Value, bool) {
	datePart, timePart, ok := splitDateTime(s)
	if !ok {
		return Value{}, false
	}
	d, ok := tryDateLayouts(datePart, layouts)
	if !ok {
		return Value{}, false
	}
	tv, ok := parseClockString(timePart)
	if !ok {
		return Value{}, false
	}
	return Value{Date: d, Time: tv}, true
}

// parseClockString implements HH:MM[:SS[.fff[fff]]][±HH:MM[:SS[.ffffff]]]
// by hand, never through a locale-aware layout. A bare hour with no ':' is
// rejected, so plain integer strings are left for INT.
func parseClockString(s string) (TimeValue, bool) {
	body, offset, hasOffset := splitOffset(s)
	if !strings.Contains(body, ":") {
		return TimeValue{}, false
	}
	h, m, sec, micro, ok := parseClock(body)
	if !ok {
		return TimeValue{}, false
	}
	tv := TimeValue{Hour: h, Minute: m, Second: sec, Microsecond: micro}
	if hasOffset {
		off, ok := parseOffset(offset)
		if !ok {
			return TimeValue{}, false
		}
		tv.HasOffset = true
		tv.OffsetSeconds = off
	}
	return tv, true
}

// splitOffset finds a trailing '+HH:MM[:SS[.ffffff]]' or '-HH:MM...'
// suffix, skipping index 0 so the leading hour digits are never mistaken
// for a sign.
func splitOffset(s string) (body, offset string, ok bool) {
	for i := 1; i < len(s); i++ {
		if s[i] == '+' || s[i] == '-' {
			return s[:i], s[i:], true
		}
	}
	return s, "", false
}

func parseClock(s string) (h, m, sec, micro int, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, 0, 0, 0, false
	}
	h, ok = parseClockField(parts[0], 0, 23)
	if !ok {
		return 0, 0, 0, 0, false
	}
	if len(parts) >= 2 {
		m, ok = parseClockField(parts[1], 0, 59)
		if !ok {
			return 0, 0, 0, 0, false
		}
	}
	if len(parts) == 3 {
		secField, fracField, hasFrac := strings.Cut(parts[2], ".")
		sec, ok = parseClockField(secField, 0, 59)
		if !ok {
			return 0, 0, 0, 0, false
		}
		if hasFrac {
			micro, ok = parseFraction(fracField)
			if !ok {
				return 0, 0, 0, 0, false
			}
		}
	}
	return h, m, sec, micro, true
}

func parseClockField(s string, min, max int) (int, bool) {
	if s == "" || len(s) > 2 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < min || n > max {
		return 0, false
	}
	return n, true
}

func parseFraction(s string) (int, bool) {
	if s == "" || len(s) > 6 {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
	}
	padded := s + strings.Repeat("0", 6-len(s))
	n, err := strconv.Atoi(padded)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseOffset(s string) (int, bool) {
	if len(s) < 2 {
		return 0, false
	}
	sign := 1
	switch s[0] {
	case '+':
	case '-':
		sign = -1
	default:
		return 0, false
	}
	h, m, sec, _, ok := parseClock(s[1:])
	if !ok {
		return 0, false
	}
	return sign * (h*3600 + m*60 + sec), true
}

// taxonomyOrder is the initial, strictest-first trial order (§3.1).
var taxonomyOrder = [numDataTypes]DataType{
	TypeNone, TypeBool, TypeDateTime, TypeDateTimeUS, TypeDate, TypeDateUS,
	TypeTime, TypeInt, TypeFloat, TypeString,
}

// TaxonomyOrder returns the DataType taxonomy in its strictest-first trial
// order, for callers (the CLI's list-types command) that need to display
// it without constructing a RankCounter.
func TaxonomyOrder() []DataType {
	out := make([]DataType, len(taxonomyOrder))
	copy(out, taxonomyOrder[:])
	return out
}

// rankEntry pairs a DataType with the number of column values that have
// matched it so far (glossary "Rank counter").
type rankEntry struct {
	Type  DataType
	Count int
}

// RankCounter is the per-column ordered array of (DataType, count) pairs
// described in spec.md §3.1: a small array, not a map, since the
// taxonomy has at most ten entries and O(T^2) maintenance is cheap (§9).
type RankCounter struct {
	entries []rankEntry
	ordered []DataType // set by SelectFinalType; pass-2 attempt order
}

// NewRankCounter creates a rank counter with every taxonomy entry at a
// zero count, in strictest-first trial order.
func NewRankCounter() *RankCounter {
	entries := make([]rankEntry, numDataTypes)
	for i, t := range taxonomyOrder {
		entries[i] = rankEntry{Type: t}
	}
	return &RankCounter{entries: entries}
}

// Update walks the counter in its current order, attempting each entry's
// parser against s. The first success increments that entry's count, the
// counter is stably insertion-sorted by count descending, and the parsed
// Value is returned. STRING always succeeds, so Update never fails.
func (r *RankCounter) Update(s string) Value {
	for i := range r.entries {
		v, ok := ParseAs(r.entries[i].Type, s)
		if !ok {
			continue
		}
		r.entries[i].Count++
		r.bubbleUp(i)
		return v
	}
	// unreachable: TypeString always succeeds and is always present.
	return Value{Type: TypeString, Str: s}
}

// bubbleUp performs one insertion-sort step, moving the entry at i left
// past any strictly lower-count predecessor, keeping ties in their prior
// relative order (stable).
func (r *RankCounter) bubbleUp(i int) {
	for i > 0 && r.entries[i].Count > r.entries[i-1].Count {
		r.entries[i], r.entries[i-1] = r.entries[i-1], r.entries[i]
		i--
	}
}

// stringLast reports whether a has nonzero count and is STRING while b
// doesn't meet that bar, the comparator used to demote STRING below any
// other type with a nonzero count for final type selection (§4.D.1).
func stringLast(a, b rankEntry) bool {
	aLast := a.Type == TypeString && a.Count > 0
	bLast := b.Type == TypeString && b.Count > 0
	return aLast && !bLast
}

// SelectFinalType folds the rank counter into the column's final DataType
// and PageType per §4.D.2, and records the STRING-last attempt order
// pass-2 needs for OBJECT columns (§4.D.3) — retrievable via Order().
func (r *RankCounter) SelectFinalType() (DataType, PageType) {
	sorted := make([]rankEntry, len(r.entries))
	copy(sorted, r.entries)
	insertionSortStringLast(sorted)

	r.ordered = make([]DataType, len(sorted))
	for i, e := range sorted {
		r.ordered[i] = e.Type
	}

	var nonzero []rankEntry
	for _, e := range sorted {
		if e.Count > 0 {
			nonzero = append(nonzero, e)
		}
	}

	switch len(nonzero) {
	case 0:
		return TypeString, PageUnicode
	case 1:
		return finalTypeForSingle(nonzero[0].Type)
	case 2:
		if isIntFloatPair(nonzero[0].Type, nonzero[1].Type) {
			return TypeFloat, PageFloat64
		}
		return TypeString, PageObject
	default:
		return TypeString, PageObject
	}
}

func finalTypeForSingle(t DataType) (DataType, PageType) {
	switch t {
	case TypeString:
		return TypeString, PageUnicode
	case TypeInt:
		return TypeInt, PageInt64
	case TypeFloat:
		return TypeFloat, PageFloat64
	case TypeBool:
		return TypeBool, PageBool
	default:
		// NONE, DATE, DATE_US, TIME, DATETIME, DATETIME_US: no fixed-stride
		// page type exists for these, so even a homogeneous column needs OBJECT.
		return t, PageObject
	}
}

func isIntFloatPair(a, b DataType) bool {
	return (a == TypeInt && b == TypeFloat) || (a == TypeFloat && b == TypeInt)
}

// insertionSortStringLast is the stable "strings last among non-empty"
// sort §4.D.1 calls for, expressed as insertion sort per §9's O(T^2)-is-fine
// guidance rather than pulling in sort.SliceStable for ten elements.
func insertionSortStringLast(entries []rankEntry) {
	for i := 1; i < len(entries); i++ {
		j := i
		for j > 0 && stringLast(entries[j-1], entries[j]) {
			entries[j], entries[j-1] = entries[j-1], entries[j]
			j--
		}
	}
}

// Order returns the STRING-last attempt order established by the most
// recent SelectFinalType call, used by pass-2 to dispatch OBJECT values.
func (r *RankCounter) Order() []DataType {
	return r.ordered
}

// Counts exposes a snapshot of the current (DataType, count) pairs for
// diagnostics and tests.
func (r *RankCounter) Counts() []rankEntry {
	out := make([]rankEntry, len(r.entries))
	copy(out, r.entries)
	return out
}
