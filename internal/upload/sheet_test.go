package upload

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
)

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestParseCommaCSV(t *testing.T) {
	path := writeTempFile(t, "debtors.csv", "iban,name,amount\nDE89370400440532013000,Hans Meier,\"20,00\"\n")
	sheet, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, []string{"iban", "name", "amount"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)
	require.Equal(t, "20,00", sheet.Rows[0][2])
}

func TestParseSemicolonCSV(t *testing.T) {
	path := writeTempFile(t, "debtors.csv", "iban;name;amount\nDE89370400440532013000;Hans Meier;20,00\n")
	sheet, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, []string{"iban", "name", "amount"}, sheet.Headers)
	require.Equal(t, "20,00", sheet.Rows[0][2])
}

func TestParseTSV(t *testing.T) {
	path := writeTempFile(t, "debtors.tsv", "iban\tname\tamount\nDE89370400440532013000\tHans Meier\t20.00\n")
	sheet, err := Parse(path)
	require.NoError(t, err)
	require.Equal(t, []string{"iban", "name", "amount"}, sheet.Headers)
	require.Len(t, sheet.Rows, 1)
}

func TestParseRejectsLegacyXLS(t *testing.T) {
	path := writeTempFile(t, "debtors.xls", "not really xls")
	_, err := Parse(path)
	require.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestParseUnknownExtension(t *testing.T) {
	path := writeTempFile(t, "debtors.pdf", "nope")
	_, err := Parse(path)
	require.ErrorIs(t, err, apperrors.ErrUnsupportedFormat)
}

func TestDetectDelimiter(t *testing.T) {
	require.Equal(t, ',', detectDelimiter("a,b,c"))
	require.Equal(t, ';', detectDelimiter("a;b;c"))
	require.Equal(t, '\t', detectDelimiter("a\tb\tc"))
	require.Equal(t, ',', detectDelimiter("plainheader"))
}
