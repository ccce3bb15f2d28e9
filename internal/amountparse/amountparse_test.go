package amountparse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseBothConventions(t *testing.T) {
	cases := []struct {
		raw  string
		want int64
	}{
		{"1.234,56", 123456},
		{"1,234.56", 123456},
		{"5,00", 500},
		{"2,500", 250000},
		{"1234.56", 123456},
		{"1234", 123400},
		{"0,99", 99},
		{"12.345.678,90", 1234567890},
		{"12,345,678.90", 1234567890},
		{"+7,50", 750},
		{" 20 ", 2000},
	}
	for _, tc := range cases {
		got, ok := Parse(tc.raw)
		require.True(t, ok, tc.raw)
		require.Equal(t, tc.want, got, tc.raw)
	}
}

func TestParseNegative(t *testing.T) {
	got, ok := Parse("-5,00")
	require.True(t, ok)
	require.Equal(t, int64(-500), got)
}

func TestParseRejectsGarbage(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "12x34", "1.2.3,4,5x"} {
		_, ok := Parse(raw)
		require.False(t, ok, raw)
	}
}
