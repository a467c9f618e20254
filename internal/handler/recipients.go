package handler

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mezamarco14/resu-sistem/internal/model"
)

var (
	emailColumns = []string{"Correo", "Email", "correo", "email"}
	nameColumns  = []string{"Nombre", "nombre", "Name", "name"}
)

// TemplateColumns is the header of the downloadable recipient template.
var TemplateColumns = []string{"Correo", "Nombre", "Cargo", "Facultad"}

// RowsResult is what normalizing an uploaded sheet produced.
type RowsResult struct {
	Recipients []model.Recipient
	// Skipped counts rows without an email column value.
	Skipped int
	// Duplicates counts rows whose address already appeared, ignoring case.
	Duplicates int
}

// NormalizeRows turns raw rows into recipients. Keys and values are trimmed
// and the first occurrence of an address wins. A recipient's ordinal is its
// row position in the sheet, skipped rows included, since folder attachment i
// belongs to row i.
func NormalizeRows(rows []model.Fields) RowsResult {
	var res RowsResult
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		fields := make(model.Fields, 0, len(row))
		for _, f := range row {
			name := strings.TrimSpace(f.Name)
			if name == "" {
				continue
			}
			fields = append(fields, model.Field{Name: name, Value: strings.TrimSpace(f.Value)})
		}

		email := firstValue(fields, emailColumns)
		if email == "" {
			res.Skipped++
			continue
		}
		key := model.NormalizeEmail(email)
		if seen[key] {
			res.Duplicates++
			continue
		}
		seen[key] = true

		name := firstValue(fields, nameColumns)
		if name == "" {
			name = model.DefaultName
		}
		res.Recipients = append(res.Recipients, model.Recipient{
			Email:   email,
			Name:    name,
			Fields:  fields,
			Ordinal: i,
		})
	}
	return res
}

// firstValue looks the aliases up by exact name, in order.
func firstValue(fields model.Fields, aliases []string) string {
	for _, alias := range aliases {
		for _, f := range fields {
			if f.Name == alias && f.Value != "" {
				return f.Value
			}
		}
	}
	return ""
}

// RowsFromMaps converts decoded JSON objects. Keys are sorted since objects
// carry no column order.
func RowsFromMaps(objects []map[string]any) []model.Fields {
	rows := make([]model.Fields, 0, len(objects))
	for _, obj := range objects {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		row := make(model.Fields, 0, len(keys))
		for _, k := range keys {
			row = append(row, model.Field{Name: k, Value: stringify(obj[k])})
		}
		rows = append(rows, row)
	}
	return rows
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	}
	return fmt.Sprint(v)
}

// ParseCSV reads a sheet whose first record is the header. Comma and
// semicolon separated files are both accepted. Blank records inside the sheet
// are kept so row positions match the file; trailing ones are dropped.
func ParseCSV(r io.Reader) ([]model.Fields, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	text := strings.TrimPrefix(string(data), "\ufeff")

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1
	if firstLine, _, _ := strings.Cut(text, "\n"); strings.Count(firstLine, ";") > strings.Count(firstLine, ",") {
		reader.Comma = ';'
	}

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	var rows []model.Fields
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		row := make(model.Fields, 0, len(header))
		for i, col := range header {
			var value string
			if i < len(record) {
				value = record[i]
			}
			row = append(row, model.Field{Name: col, Value: value})
		}
		rows = append(rows, row)
	}
	for len(rows) > 0 && blank(rows[len(rows)-1]) {
		rows = rows[:len(rows)-1]
	}
	return rows, nil
}

func blank(row model.Fields) bool {
	for _, f := range row {
		if strings.TrimSpace(f.Value) != "" {
			return false
		}
	}
	return true
}

// WriteTemplate writes the empty recipient sheet with one example row.
func WriteTemplate(w io.Writer) error {
	cw := csv.NewWriter(w)
	cw.Write(TemplateColumns)
	cw.Write([]string{"ejemplo@dominio.com", "Nombre Apellido", "Docente", "Ingeniería"})
	cw.Flush()
	return cw.Error()
}
