package upload

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildColumnMappingSynonyms(t *testing.T) {
	headers := []string{"IBAN Number", "First Name", "Surname", "E-Mail", "Charge Amount", "CCY"}
	mapping := BuildColumnMapping(headers)

	require.Equal(t, "iban", mapping["IBAN Number"])
	require.Equal(t, "first_name", mapping["First Name"])
	require.Equal(t, "last_name", mapping["Surname"])
	require.Equal(t, "email", mapping["E-Mail"])
	require.Equal(t, "amount", mapping["Charge Amount"])
	require.Equal(t, "currency", mapping["CCY"])
}

func TestBuildColumnMappingCaseAndPunctuation(t *testing.T) {
	for _, header := range []string{"IBAN Number", "iban_number", "iban number", "IBAN-NUMBER", "  iban   number  "} {
		mapping := BuildColumnMapping([]string{header})
		require.Equal(t, "iban", mapping[header], header)
	}
}

func TestBuildColumnMappingSkipsUnknownHeaders(t *testing.T) {
	mapping := BuildColumnMapping([]string{"iban", "shoe size"})
	require.Equal(t, "iban", mapping["iban"])
	_, ok := mapping["shoe size"]
	require.False(t, ok)
}
