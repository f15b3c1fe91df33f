// reader.go turns a submitted inventory file into a header row plus data
// rows. Two formats are accepted: xlsx workbooks (the usual export) and CSV,
// where Spanish-locale exports commonly use a semicolon delimiter. The format
// is sniffed from the file bytes, not trusted from the filename.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// ErrEmptyFile is returned when the file holds no header row at all.
var ErrEmptyFile = errors.New("inventory file contains no rows")

// xlsx files are zip archives and start with the PK magic.
var zipMagic = []byte{0x50, 0x4b, 0x03, 0x04}

// ReadRows parses the file bytes into a header row and data rows. Rows are
// read from the workbook's first sheet, or from the CSV stream, and padded so
// every data row is at least as wide as the header.
func ReadRows(data []byte) (headers []string, rows [][]string, err error) {
	if bytes.HasPrefix(data, zipMagic) {
		headers, rows, err = readXLSX(data)
	} else {
		headers, rows, err = readCSV(data)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(headers) == 0 {
		return nil, nil, ErrEmptyFile
	}
	for i, row := range rows {
		for len(row) < len(headers) {
			row = append(row, "")
		}
		rows[i] = row
	}
	return headers, rows, nil
}

func readXLSX(data []byte) ([]string, [][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrEmptyFile
	}

	all, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sheet %q: %w", sheets[0], err)
	}
	if len(all) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return all[0], all[1:], nil
}

func readCSV(data []byte) ([]string, [][]string, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = sniffDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var headers []string
	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse csv: %w", err)
		}
		if headers == nil {
			headers = record
			continue
		}
		rows = append(rows, record)
	}
	if headers == nil {
		return nil, nil, ErrEmptyFile
	}
	return headers, rows, nil
}

// sniffDelimiter picks between comma and semicolon by counting occurrences on
// the first line.
func sniffDelimiter(data []byte) rune {
	line := string(data)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if strings.Count(line, ";") > strings.Count(line, ",") {
		return ';'
	}
	return ','
}
