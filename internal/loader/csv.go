package loader

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Format identifies a CSV dialect for the input file.
type Format string

const (
	// FormatExcel is semicolon separated with a header row.
	FormatExcel Format = "EXCEL"
	// FormatMySQL is tab separated without a header row.
	FormatMySQL Format = "MYSQL"
	// FormatRFC4180 is comma separated without a header row.
	FormatRFC4180 Format = "RFC4180"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToUpper(s)) {
	case FormatExcel:
		return FormatExcel, nil
	case FormatMySQL:
		return FormatMySQL, nil
	case FormatRFC4180:
		return FormatRFC4180, nil
	}
	return "", fmt.Errorf("invalid csv format %q", s)
}

func (f Format) delimiter() rune {
	switch f {
	case FormatExcel:
		return ';'
	case FormatMySQL:
		return '\t'
	default:
		return ','
	}
}

func (f Format) hasHeader() bool {
	return f == FormatExcel
}

// Charset identifies the character set of the input file.
type Charset string

const (
	CharsetISO88591 Charset = "ISO-8859-1"
	CharsetUTF8     Charset = "UTF-8"
	CharsetASCII    Charset = "US-ASCII"
)

func ParseCharset(s string) (Charset, error) {
	switch Charset(strings.ToUpper(s)) {
	case CharsetISO88591:
		return CharsetISO88591, nil
	case CharsetUTF8:
		return CharsetUTF8, nil
	case CharsetASCII:
		return CharsetASCII, nil
	}
	return "", fmt.Errorf("invalid charset %q", s)
}

// decode wraps r so that the stream is read as UTF-8, stripping a leading
// byte order mark when present.
func (c Charset) decode(r io.Reader) io.Reader {
	switch c {
	case CharsetISO88591:
		return charmap.ISO8859_1.NewDecoder().Reader(r)
	default:
		// US-ASCII is a strict subset of UTF-8.
		return unicode.UTF8BOM.NewDecoder().Reader(r)
	}
}

// Record is one parsed data row. Fields are addressable by position, or by
// header name when the dialect carries a header row.
type Record struct {
	// Number is the 1-based position of the row among the data rows, the
	// header row excluded.
	Number int64

	fields []string
	header map[string]int
}

// Get returns the field under the named header column, or the empty string
// when the column does not exist.
func (r Record) Get(name string) string {
	i, ok := r.header[name]
	if !ok || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

// Field returns the field at position i, or the empty string when out of
// range.
func (r Record) Field(i int) string {
	if i < 0 || i >= len(r.fields) {
		return ""
	}
	return r.fields[i]
}

func (r Record) Len() int {
	return len(r.fields)
}

// HasHeader reports whether the record carries header names, i.e. whether Get
// is usable.
func (r Record) HasHeader() bool {
	return r.header != nil
}

// readRecords parses the whole input into data records, decoding the stream
// from the given charset and consuming the header row when the dialect has
// one.
func readRecords(input io.Reader, format Format, charset Charset) ([]Record, error) {
	reader := csv.NewReader(charset.decode(input))
	reader.Comma = format.delimiter()
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = format == FormatMySQL

	var header map[string]int
	if format.hasHeader() {
		row, err := reader.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error while reading the csv header: %w", err)
		}
		header = make(map[string]int, len(row))
		for i, name := range row {
			header[strings.TrimSpace(name)] = i
		}
	}

	var records []Record
	var number int64
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return nil, fmt.Errorf("error while reading the csv file at row %d: %w", number+1, err)
		}
		number++
		records = append(records, Record{Number: number, fields: row, header: header})
	}
}
