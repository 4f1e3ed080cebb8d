package dialect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuoting(t *testing.T) {
	cases := map[string]Quoting{
		"QUOTE_MINIMAL":    QuoteMinimal,
		"MINIMAL":          QuoteMinimal,
		"QUOTE_ALL":        QuoteAll,
		"QUOTE_NONNUMERIC": QuoteNonNumeric,
		"QUOTE_NONE":       QuoteNone,
		"QUOTE_STRINGS":    QuoteStrings,
		"QUOTE_NOTNULL":    QuoteNotNull,
	}
	for in, want := range cases {
		got, err := ParseQuoting(in)
		require.NoErrorf(t, err, "input %q", in)
		assert.Equalf(t, want, got, "input %q", in)
	}

	_, err := ParseQuoting("QUOTE_BOGUS")
	require.Error(t, err)
}

func TestQuotingString(t *testing.T) {
	assert.Equal(t, "MINIMAL", QuoteMinimal.String())
	assert.Equal(t, "NONE", QuoteNone.String())
}

func TestDefault(t *testing.T) {
	d := Default()
	assert.Equal(t, ',', rune(d.Delimiter))
	assert.Equal(t, '"', rune(d.Quotechar))
	assert.True(t, d.Doublequote)
	assert.Equal(t, QuoteMinimal, d.Quoting)
	require.NoError(t, d.Validate())
}

func TestValidateRejectsEmptyDelimiter(t *testing.T) {
	d := Default()
	d.Delimiter = 0
	require.Error(t, d.Validate())
}

func TestValidateRejectsMissingQuotecharUnlessQuoteNone(t *testing.T) {
	d := Default()
	d.Quotechar = 0
	require.Error(t, d.Validate())

	d.Quoting = QuoteNone
	require.NoError(t, d.Validate())
}

func TestValidateRejectsDelimiterEqualsQuotechar(t *testing.T) {
	d := Default()
	d.Quotechar = d.Delimiter
	require.Error(t, d.Validate())
}
