// Package csvtoken implements the Dialect + CSV State Machine (spec.md
// §4.C): a character-by-character tokenizer over the state set START_RECORD,
// START_FIELD, ESCAPED_CHAR, IN_FIELD, IN_QUOTED_FIELD,
// ESCAPE_IN_QUOTED_FIELD, QUOTE_IN_QUOTED_FIELD, EAT_CRNL,
// AFTER_ESCAPED_CRNL. Grounded on the teacher's encoding/csv-based line
// parsing in parallel_csv_parser.go, generalized to the full transition
// table spec.md prescribes (encoding/csv's Reader cannot express
// doublequote-off, escapechar, or the strict-mode distinctions this
// pipeline needs).
package csvtoken

import (
	"github.com/colpage/colpage/internal/dialect"
	"github.com/colpage/colpage/pkg/colerrors"
	appendstrings "github.com/colpage/colpage/pkg/strings"
)

// eol is the reserved sentinel code point fed at the end of every physical
// line, distinct from any valid Unicode scalar value (max 0x10FFFF).
const eol rune = 0x110000

const maxFieldBytes = 128 * 1024

type state int

const (
	startRecord state = iota
	startField
	escapedChar
	inField
	inQuotedField
	escapeInQuotedField
	quoteInQuotedField
	eatCRNL
	afterEscapedCRNL
)

// Tokenizer converts successive physical lines into logical CSV records. A
// single record may span multiple physical lines when a quoted field
// contains an embedded newline; callers keep calling Feed until it reports
// a completed record.
type Tokenizer struct {
	d      dialect.Dialect
	state  state
	field  *appendstrings.Builder
	fields []string
}

// New creates a Tokenizer for the given dialect, drawing its field scratch
// buffer from the package-level Small builder pool (§9 "reusable parser
// buffer") rather than allocating a fresh one per Task. Callers that run
// many Tasks in the same process should call Release when the tokenizer is
// done so the buffer is returned for the next Task.
func New(d dialect.Dialect) *Tokenizer {
	field := appendstrings.GetBuilder(appendstrings.Small)
	field.SetMax(maxFieldBytes)
	return &Tokenizer{
		d:     d,
		state: startRecord,
		field: field,
	}
}

// Release returns the tokenizer's field buffer to the pool it was drawn
// from. After Release, the Tokenizer must not be used again.
func (t *Tokenizer) Release() {
	if t.field != nil {
		appendstrings.PutBuilder(t.field, appendstrings.Small)
		t.field = nil
	}
}

// Feed advances the state machine over one physical line (newline already
// stripped by the encoded line reader) plus a synthetic '\n' and the EOL
// sentinel. It returns the completed record's fields and true when the
// logical record ends on this line, or (nil, false) when more physical
// lines are required to close an open quoted field.
func (t *Tokenizer) Feed(line string) ([]string, bool, error) {
	for _, r := range line {
		if err := t.step(r); err != nil {
			return nil, false, err
		}
	}
	if err := t.step('\n'); err != nil {
		return nil, false, err
	}
	if err := t.step(eol); err != nil {
		return nil, false, err
	}

	if t.state == startRecord {
		record := t.fields
		t.fields = nil
		return record, true, nil
	}
	return nil, false, nil
}

func (t *Tokenizer) step(r rune) error {
	switch t.state {
	case startRecord:
		return t.stepStart(r)
	case startField:
		return t.stepStart(r)
	case escapedChar:
		return t.stepEscapedChar(r)
	case inField:
		return t.stepInField(r)
	case inQuotedField:
		return t.stepInQuotedField(r)
	case escapeInQuotedField:
		return t.stepEscapeInQuotedField(r)
	case quoteInQuotedField:
		return t.stepQuoteInQuotedField(r)
	case eatCRNL:
		return t.stepEatCRNL(r)
	case afterEscapedCRNL:
		if r == eol {
			return nil
		}
		return t.stepStart(r)
	default:
		return colerrors.New(colerrors.ErrorTypeInternal, "unreachable tokenizer state")
	}
}

// stepStart implements the shared START_RECORD/START_FIELD transition set.
func (t *Tokenizer) stepStart(r rune) error {
	switch {
	case r == eol:
		t.state = startRecord
		return nil
	case r == '\n' || r == '\r':
		t.saveField()
		t.state = eatCRNL
		return nil
	case r == t.d.Quotechar && t.d.Quoting != dialect.QuoteNone:
		t.state = inQuotedField
		return nil
	case t.d.Escapechar != 0 && r == t.d.Escapechar:
		t.state = escapedChar
		return nil
	case r == ' ' && t.d.SkipInitialSpace:
		return nil
	case r == t.d.Delimiter:
		t.saveField()
		t.state = startField
		return nil
	default:
		if err := t.appendRune(r); err != nil {
			return err
		}
		t.state = inField
		return nil
	}
}

func (t *Tokenizer) stepInField(r rune) error {
	switch {
	case r == t.d.Delimiter:
		t.saveField()
		t.state = startField
		return nil
	case r == '\n' || r == '\r':
		t.saveField()
		t.state = eatCRNL
		return nil
	case r == eol:
		t.saveField()
		t.state = startRecord
		return nil
	case t.d.Escapechar != 0 && r == t.d.Escapechar:
		t.state = escapedChar
		return nil
	default:
		return t.appendRuneKeepState(r)
	}
}

func (t *Tokenizer) stepInQuotedField(r rune) error {
	switch {
	case t.d.Escapechar != 0 && r == t.d.Escapechar:
		t.state = escapeInQuotedField
		return nil
	case r == t.d.Quotechar && t.d.Quoting != dialect.QuoteNone:
		if t.d.Doublequote {
			t.state = quoteInQuotedField
		} else {
			t.state = inField
		}
		return nil
	case r == eol:
		return nil
	default:
		return t.appendRune(r)
	}
}

func (t *Tokenizer) stepQuoteInQuotedField(r rune) error {
	switch {
	case r == t.d.Quotechar && t.d.Quoting != dialect.QuoteNone:
		if err := t.appendRune(r); err != nil {
			return err
		}
		t.state = inQuotedField
		return nil
	case r == t.d.Delimiter:
		t.saveField()
		t.state = startField
		return nil
	case r == '\n' || r == '\r':
		t.saveField()
		t.state = eatCRNL
		return nil
	case r == eol:
		t.saveField()
		t.state = startRecord
		return nil
	default:
		if t.d.Strict {
			return colerrors.New(colerrors.ErrorTypeParse, "illegal character after quoted field")
		}
		if err := t.appendRune(r); err != nil {
			return err
		}
		t.state = inField
		return nil
	}
}

func (t *Tokenizer) stepEscapedChar(r rune) error {
	switch {
	case r == '\n' || r == '\r':
		if err := t.appendRune(r); err != nil {
			return err
		}
		t.state = afterEscapedCRNL
		return nil
	case r == eol:
		if err := t.appendRune('\n'); err != nil {
			return err
		}
		t.state = inField
		return nil
	default:
		if err := t.appendRune(r); err != nil {
			return err
		}
		t.state = inField
		return nil
	}
}

func (t *Tokenizer) stepEscapeInQuotedField(r rune) error {
	if r == eol {
		if err := t.appendRune('\n'); err != nil {
			return err
		}
	} else if err := t.appendRune(r); err != nil {
		return err
	}
	t.state = inQuotedField
	return nil
}

func (t *Tokenizer) stepEatCRNL(r rune) error {
	switch {
	case r == '\n' || r == '\r':
		return nil
	case r == eol:
		t.state = startRecord
		return nil
	default:
		return colerrors.New(colerrors.ErrorTypeParse, "new-line character seen in unquoted field")
	}
}

func (t *Tokenizer) appendRune(r rune) error {
	n := len(string(r))
	if t.field.WillExceedMax(n) {
		return colerrors.New(colerrors.ErrorTypeParse, "field exceeds maximum size").
			WithDetail("max_bytes", maxFieldBytes)
	}
	t.field.Grow(n)
	t.field.WriteRune(r)
	return nil
}

// appendRuneKeepState is identical to appendRune; split out only so
// stepInField reads symmetrically with the other step functions that
// change state on their default branch.
func (t *Tokenizer) appendRuneKeepState(r rune) error {
	return t.appendRune(r)
}

func (t *Tokenizer) saveField() {
	// field.String() aliases the builder's backing array, which Reset
	// below reuses for the next field; copy out before clearing.
	t.fields = append(t.fields, string(t.field.Bytes()))
	t.field.Reset()
}

// Reset clears any in-progress record, used when a Task seeks away from a
// malformed tail and must discard partial tokenizer state.
func (t *Tokenizer) Reset() {
	t.state = startRecord
	t.field.Reset()
	t.fields = nil
}
