package upload

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	"github.com/smallbiznis/sepa-recovery/internal/apperrors"
)

// maxFieldBytes is the 50MB per-file size limit.
const maxFieldBytes = 50 * 1024 * 1024

// Sheet is the parsed, header-mapped content of one uploaded spreadsheet.
type Sheet struct {
	Headers []string
	Rows    [][]string
}

// Parse dispatches on file extension: CSV/TSV via encoding/csv with an
// auto-detected delimiter, XLSX via excelize. XLS (legacy binary) is
// declined outright, per the Open Question resolution in DESIGN.md.
func Parse(path string) (Sheet, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindNotFound, "stat upload file", err)
	}
	if info.Size() > maxFieldBytes {
		return Sheet{}, apperrors.New(apperrors.KindValidation, "upload exceeds 50MB field-size limit")
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".tsv", ".txt":
		return parseDelimited(path)
	case ".xlsx":
		return parseXLSX(path)
	case ".xls":
		return Sheet{}, apperrors.ErrUnsupportedFormat
	default:
		return Sheet{}, apperrors.ErrUnsupportedFormat
	}
}

func parseDelimited(path string) (Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindNotFound, "open upload file", err)
	}
	defer f.Close()

	firstLine, rest, err := readFirstLine(f)
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindValidation, "read upload header line", err)
	}
	delimiter := detectDelimiter(firstLine)

	reader := csv.NewReader(io.MultiReader(strings.NewReader(firstLine+"\n"), rest))
	reader.Comma = delimiter
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindValidation, "parse delimited upload", err)
	}
	if len(records) == 0 {
		return Sheet{}, nil
	}
	return Sheet{Headers: records[0], Rows: records[1:]}, nil
}

// detectDelimiter counts ';' against ',' in the header line: the more
// frequent delimiter wins, defaulting to comma on a tie.
func detectDelimiter(line string) rune {
	semicolons := strings.Count(line, ";")
	commas := strings.Count(line, ",")
	tabs := strings.Count(line, "\t")
	if tabs > semicolons && tabs > commas {
		return '\t'
	}
	if semicolons > commas {
		return ';'
	}
	return ','
}

func readFirstLine(r io.Reader) (string, io.Reader, error) {
	buffered := make([]byte, 0, 4096)
	chunk := make([]byte, 1)
	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if chunk[0] == '\n' {
				return strings.TrimRight(string(buffered), "\r"), r, nil
			}
			buffered = append(buffered, chunk[0])
		}
		if err != nil {
			if err == io.EOF {
				return string(buffered), r, nil
			}
			return "", r, err
		}
	}
}

func parseXLSX(path string) (Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindValidation, "open xlsx upload", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	rows, err := f.GetRows(sheetName)
	if err != nil {
		return Sheet{}, apperrors.Wrap(apperrors.KindValidation, "read xlsx rows", err)
	}
	if len(rows) == 0 {
		return Sheet{}, nil
	}
	return Sheet{Headers: rows[0], Rows: rows[1:]}, nil
}
