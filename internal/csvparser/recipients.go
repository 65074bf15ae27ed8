package csvparser

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"PulseBatch/internal/models"
)

// Reserved columns. Every other column is kept as a member field.
const (
	columnEmail   = "email"
	columnName    = "name"
	columnUUID    = "uuid"
	columnSegment = "segment"
)

// ParseRecipientRows parses a recipient CSV from an io.Reader. The header row
// must contain an "email" column (case-insensitive); "name", "uuid" and
// "segment" are optional. Headers are lower-cased, and the remaining columns
// become the recipient's Fields.
//
// maxRows limits how many data rows are parsed (excluding header); zero or
// less means no limit.
func ParseRecipientRows(r io.Reader, maxRows int) ([]models.NewRecipient, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	headers, err := reader.Read()
	if err != nil {
		return nil, err
	}
	if len(headers) == 0 {
		return nil, errors.New("csv header row is empty")
	}

	index := map[string]int{}
	normalized := make([]string, len(headers))
	for i, h := range headers {
		h = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		normalized[i] = h
		if _, dup := index[h]; !dup && h != "" {
			index[h] = i
		}
	}
	emailIdx, ok := index[columnEmail]
	if !ok {
		return nil, errors.New("csv must contain an Email column")
	}

	rows := make([]models.NewRecipient, 0)
	for maxRows <= 0 || len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(record) != len(headers) {
			// skip malformed row
			continue
		}

		email := strings.TrimSpace(record[emailIdx])
		if email == "" {
			continue
		}

		row := models.NewRecipient{Email: email}
		for i, value := range record {
			value = strings.TrimSpace(value)
			switch key := normalized[i]; {
			case i == emailIdx || key == "":
			case key == columnName:
				row.Name = value
			case key == columnUUID:
				row.UUID = value
			case key == columnSegment:
				row.Segment = value
			default:
				if row.Fields == nil {
					row.Fields = make(map[string]string, len(headers))
				}
				row.Fields[key] = value
			}
		}

		rows = append(rows, row)
	}

	if len(rows) == 0 {
		return nil, errors.New("csv must contain at least one data row")
	}

	return rows, nil
}
