// Package dialect defines the immutable tokenizer configuration consumed
// by internal/csvtoken, mirroring the column/quote/escape conventions the
// teacher's CSV source configures through encoding/csv.Reader, generalized
// to the full parameter set the state machine in spec.md §4.C needs.
package dialect

import (
	"fmt"

	"github.com/colpage/colpage/pkg/colerrors"
)

// Quoting selects how the tokenizer treats quote characters. Only MINIMAL
// and NONE are observably different in the tokenizer itself (§9 Open
// Questions); the others are accepted and stored for forward compatibility
// with a future column_select-style CLI but do not change tokenizer
// transitions.
type Quoting int

const (
	QuoteMinimal Quoting = iota
	QuoteAll
	QuoteNonNumeric
	QuoteNone
	QuoteStrings
	QuoteNotNull
)

func (q Quoting) String() string {
	switch q {
	case QuoteMinimal:
		return "MINIMAL"
	case QuoteAll:
		return "ALL"
	case QuoteNonNumeric:
		return "NONNUMERIC"
	case QuoteNone:
		return "NONE"
	case QuoteStrings:
		return "STRINGS"
	case QuoteNotNull:
		return "NOTNULL"
	default:
		return "UNKNOWN"
	}
}

// ParseQuoting maps a CLI token (e.g. "QUOTE_MINIMAL" or "MINIMAL") to a
// Quoting value.
func ParseQuoting(s string) (Quoting, error) {
	switch normalizeQuotingToken(s) {
	case "MINIMAL":
		return QuoteMinimal, nil
	case "ALL":
		return QuoteAll, nil
	case "NONNUMERIC":
		return QuoteNonNumeric, nil
	case "NONE":
		return QuoteNone, nil
	case "STRINGS":
		return QuoteStrings, nil
	case "NOTNULL":
		return QuoteNotNull, nil
	default:
		return 0, colerrors.New(colerrors.ErrorTypeConfig, fmt.Sprintf("unknown quoting mode %q", s))
	}
}

func normalizeQuotingToken(s string) string {
	const prefix = "QUOTE_"
	if len(s) > len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

// Dialect is the tokenizer's immutable parameter set. Each character field
// is exactly one code point; zero value 0 means "unset" for escapechar,
// where the state machine never transitions on it.
type Dialect struct {
	Delimiter         rune
	Quotechar         rune
	Escapechar        rune // 0 disables escape-char handling
	Lineterminator    rune // not consulted by the tokenizer: records split on \n, a trailing \r is stripped
	Doublequote       bool
	SkipInitialSpace  bool
	SkipTrailingSpace bool
	Strict            bool
	Quoting           Quoting
}

// Default returns the conventional comma/double-quote/backslash-free
// dialect used by S1–S4 of spec.md §8.
func Default() Dialect {
	return Dialect{
		Delimiter:   ',',
		Quotechar:   '"',
		Doublequote: true,
		Quoting:     QuoteMinimal,
	}
}

// Validate enforces §7's configuration-error checks: every dialect
// character must be exactly one code point, already guaranteed by the rune
// type here, so Validate instead rejects degenerate combinations (a
// delimiter equal to the quote character, a delimiter of 0).
func (d Dialect) Validate() error {
	if d.Delimiter == 0 {
		return colerrors.New(colerrors.ErrorTypeConfig, "delimiter must not be empty")
	}
	if d.Quoting != QuoteNone && d.Quotechar == 0 {
		return colerrors.New(colerrors.ErrorTypeConfig, "quotechar must not be empty unless quoting is NONE")
	}
	if d.Quotechar != 0 && d.Delimiter == d.Quotechar {
		return colerrors.New(colerrors.ErrorTypeConfig, "delimiter and quotechar must differ")
	}
	return nil
}
