package decimal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndString(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want Money
	}{
		{"25.99", 2599},
		{"0.00", 0},
		{"-3.50", -350},
		{"10", 1000},
	}

	for _, tc := range cases {
		got, err := Parse(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}
}

func TestParseRejectsExtraPrecision(t *testing.T) {
	t.Parallel()

	_, err := Parse("25.999")
	require.Error(t, err)
}

func TestJSONRoundTrip(t *testing.T) {
	t.Parallel()

	m, err := Parse("1234.56")
	require.NoError(t, err)

	b, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, `"1234.56"`, string(b))

	var back Money

	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, m, back)
}

func TestAdd(t *testing.T) {
	t.Parallel()

	a, _ := Parse("10.00")
	b, _ := Parse("5.25")
	assert.Equal(t, "15.25", a.Add(b).String())
}

func TestValidateCurrencyCode(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateCurrencyCode("cad"))
	require.NoError(t, ValidateCurrencyCode("USD"))
	require.Error(t, ValidateCurrencyCode("zzz"))
}
