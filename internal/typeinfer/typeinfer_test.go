package typeinfer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAs_None(t *testing.T) {
	for _, s := range []string{"", "null", "Null", "NULL", "#N/A", "#n/a", "None"} {
		v, ok := ParseAs(TypeNone, s)
		require.True(t, ok, "expected %q to be in the null set", s)
		assert.Equal(t, TypeNone, v.Type)
	}
	_, ok := ParseAs(TypeNone, "none")
	assert.False(t, ok, "lowercase 'none' is not in the canonical null set")
}

func TestParseAs_Bool(t *testing.T) {
	v, ok := ParseAs(TypeBool, "TRUE")
	require.True(t, ok)
	assert.True(t, v.Bool)

	v, ok = ParseAs(TypeBool, "false")
	require.True(t, ok)
	assert.False(t, v.Bool)

	_, ok = ParseAs(TypeBool, "yes")
	assert.False(t, ok)
}

func TestParseAs_Int(t *testing.T) {
	v, ok := ParseAs(TypeInt, "-42")
	require.True(t, ok)
	assert.Equal(t, int64(-42), v.Int)

	_, ok = ParseAs(TypeInt, "1,000")
	assert.False(t, ok, "thousands separators are rejected")

	_, ok = ParseAs(TypeInt, " 1")
	assert.False(t, ok, "internal whitespace is rejected")

	_, ok = ParseAs(TypeInt, "1.5")
	assert.False(t, ok)
}

func TestParseAs_Float(t *testing.T) {
	v, ok := ParseAs(TypeFloat, "3.5e2")
	require.True(t, ok)
	assert.Equal(t, 350.0, v.Float)

	v, ok = ParseAs(TypeFloat, "42")
	require.True(t, ok, "INT strings also succeed as FLOAT")
	assert.Equal(t, 42.0, v.Float)
}

func TestParseAs_Date(t *testing.T) {
	v, ok := ParseAs(TypeDate, "2024-01-31")
	require.True(t, ok)
	assert.Equal(t, DateValue{Year: 2024, Month: 1, Day: 31}, v.Date)

	v, ok = ParseAs(TypeDate, "2024.01.31")
	require.True(t, ok, "leading '!' convention replaces '.' with '-' before matching")
	assert.Equal(t, DateValue{Year: 2024, Month: 1, Day: 31}, v.Date)
}

func TestParseAs_DateUS(t *testing.T) {
	v, ok := ParseAs(TypeDateUS, "01/31/2024")
	require.True(t, ok)
	assert.Equal(t, DateValue{Year: 2024, Month: 1, Day: 31}, v.Date)
}

func TestParseAs_Time(t *testing.T) {
	v, ok := ParseAs(TypeTime, "13:45:07.500000")
	require.True(t, ok)
	assert.Equal(t, TimeValue{Hour: 13, Minute: 45, Second: 7, Microsecond: 500000}, v.Time)

	v, ok = ParseAs(TypeTime, "13:45+02:00")
	require.True(t, ok)
	assert.True(t, v.Time.HasOffset)
	assert.Equal(t, 7200, v.Time.OffsetSeconds)

	_, ok = ParseAs(TypeTime, "25:00")
	assert.False(t, ok, "hour out of range")
}

func TestParseAs_DateTime(t *testing.T) {
	v, ok := ParseAs(TypeDateTime, "2024-01-31T13:45:07")
	require.True(t, ok)
	assert.Equal(t, DateValue{Year: 2024, Month: 1, Day: 31}, v.Date)
	assert.Equal(t, TimeValue{Hour: 13, Minute: 45, Second: 7}, v.Time)
}

func TestParseAs_String_AlwaysSucceeds(t *testing.T) {
	v, ok := ParseAs(TypeString, "anything at all")
	require.True(t, ok)
	assert.Equal(t, "anything at all", v.Str)
}

func TestRankCounter_UpdateTracksFirstSuccess(t *testing.T) {
	rc := NewRankCounter()
	v := rc.Update("42")
	assert.Equal(t, TypeInt, v.Type)

	v = rc.Update("3.5")
	assert.Equal(t, TypeFloat, v.Type)

	v = rc.Update("hello")
	assert.Equal(t, TypeString, v.Type)
}

func TestRankCounter_SelectFinalType_AllInt(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"1", "2", "3"} {
		rc.Update(s)
	}
	dt, pt := rc.SelectFinalType()
	assert.Equal(t, TypeInt, dt)
	assert.Equal(t, PageInt64, pt)
}

func TestRankCounter_SelectFinalType_IntFloatAbsorption(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"1", "2.5", "3"} {
		rc.Update(s)
	}
	dt, pt := rc.SelectFinalType()
	assert.Equal(t, TypeFloat, dt, "INT absorbs into FLOAT when FLOAT has nonzero count")
	assert.Equal(t, PageFloat64, pt)
}

func TestRankCounter_SelectFinalType_AllStringIsUnicode(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"x", "true", "y"} {
		rc.Update(s)
	}
	// "x" moves STRING to the front of the attempt order, so "true" is
	// matched by STRING before BOOL is tried: all three rows count as STRING.
	dt, pt := rc.SelectFinalType()
	assert.Equal(t, TypeString, dt)
	assert.Equal(t, PageUnicode, pt)
}

func TestRankCounter_SelectFinalType_PureStringIsUnicode(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"x", "y", "z"} {
		rc.Update(s)
	}
	dt, pt := rc.SelectFinalType()
	assert.Equal(t, TypeString, dt)
	assert.Equal(t, PageUnicode, pt)
}

func TestRankCounter_SelectFinalType_HeterogeneousIsObject(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"1", "true", ""} {
		rc.Update(s)
	}
	dt, pt := rc.SelectFinalType()
	assert.Equal(t, TypeString, dt)
	assert.Equal(t, PageObject, pt)
}

func TestRankCounter_Order_StringLastAfterObjectSelection(t *testing.T) {
	rc := NewRankCounter()
	for _, s := range []string{"1", "true", ""} {
		rc.Update(s)
	}
	_, pt := rc.SelectFinalType()
	require.Equal(t, PageObject, pt)

	order := rc.Order()
	require.NotEmpty(t, order)
	assert.Equal(t, TypeString, order[len(order)-1], "STRING is tried last in the OBJECT attempt order")
}

func TestTaxonomyOrder_StartsWithNoneEndsWithString(t *testing.T) {
	order := TaxonomyOrder()
	require.NotEmpty(t, order)
	assert.Equal(t, TypeNone, order[0])
	assert.Equal(t, TypeString, order[len(order)-1])
}
