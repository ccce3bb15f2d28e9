package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitName(t *testing.T) {
	cases := []struct {
		full  string
		first string
		last  string
	}{
		{"Meier, Hans", "Hans", "Meier"},
		{"Hans", "Hans", "Hans"},
		{"Hans Meier", "Hans", "Meier"},
		{"Hans Peter Meier", "Hans", "Peter Meier"},
		{"", "", ""},
		{"   ", "", ""},
	}
	for _, tc := range cases {
		first, last := SplitName(tc.full)
		require.Equal(t, tc.first, first, tc.full)
		require.Equal(t, tc.last, last, tc.full)
	}
}

func TestSplitNameTitleCasesAllCaps(t *testing.T) {
	first, last := SplitName("HANS MEIER")
	require.Equal(t, "Hans", first)
	require.Equal(t, "Meier", last)

	// Two-letter tokens stay as typed.
	first, last = SplitName("JD MEIER")
	require.Equal(t, "JD", first)
	require.Equal(t, "Meier", last)

	// Mixed-case words are left untouched.
	first, last = SplitName("McDonald, Ronald")
	require.Equal(t, "Ronald", first)
	require.Equal(t, "McDonald", last)
}
