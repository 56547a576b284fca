package tagger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"fleettag/pkg/fanout"
)

// ErrEmptyTagFile is returned for a tag file with a header but no rows.
var ErrEmptyTagFile = errors.New("tag file has no rows")

const (
	columnObjectType = "Object Type"
	columnCategory   = "Category"
	columnKeyword    = "Keyword"
	columnObjectID   = "Object ID"
)

// LoadTagFile reads the CSV at path. Columns are located by header name; rows
// with a blank Object ID are skipped.
func LoadTagFile(path string) ([]fanout.TagRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tag file: %w", err)
	}
	defer f.Close()

	rows, err := ReadTagRows(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

// ReadTagRows parses tag rows from r.
func ReadTagRows(r io.Reader) ([]fanout.TagRow, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyTagFile
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	idx, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var rows []fanout.TagRow
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		row := fanout.TagRow{
			ObjectType: field(record, idx[columnObjectType]),
			Category:   field(record, idx[columnCategory]),
			Keyword:    field(record, idx[columnKeyword]),
			ObjectID:   field(record, idx[columnObjectID]),
		}
		if row.ObjectID == "" {
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, ErrEmptyTagFile
	}
	return rows, nil
}

func columnIndex(header []string) (map[string]int, error) {
	idx := make(map[string]int, 4)
	for i, name := range header {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		for _, want := range []string{columnObjectType, columnCategory, columnKeyword, columnObjectID} {
			if strings.EqualFold(name, want) {
				if _, dup := idx[want]; !dup {
					idx[want] = i
				}
			}
		}
	}

	var missing []string
	for _, want := range []string{columnObjectType, columnCategory, columnKeyword, columnObjectID} {
		if _, ok := idx[want]; !ok {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing columns: %s", strings.Join(missing, ", "))
	}
	return idx, nil
}

func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
