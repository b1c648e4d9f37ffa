// Package reference loads the ownership (TERMOS) and contact (CONTATOS)
// tables that are joined with device records.
package reference

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"device-notifier/internal/models"
)

// Required columns of each table.
const (
	ColumnDevice   = "Equipamento"
	ColumnOwner    = "Nome"
	ColumnLocation = "Unidade"
	ColumnEmail    = "Email"
)

// MissingFileError is returned when a reference spreadsheet does not exist.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("reference file not found: %s", e.Path)
}

// MalformedRowError is returned when a required column is missing.
type MalformedRowError struct {
	Path   string
	Row    int
	Column string
}

func (e *MalformedRowError) Error() string {
	return fmt.Sprintf("%s: row %d: missing required column %q", e.Path, e.Row, e.Column)
}

// LoadOwnership returns device id -> owner name. The first row for a device wins.
func LoadOwnership(path string) (map[string]string, error) {
	records, err := ReadOwnership(path)
	if err != nil {
		return nil, err
	}
	owners := make(map[string]string, len(records))
	for _, r := range records {
		if _, seen := owners[r.DeviceID]; seen {
			continue
		}
		owners[r.DeviceID] = r.OwnerName
	}
	return owners, nil
}

// LoadContacts returns location -> recipient addresses. Rows repeating a
// location add their addresses to it, in file order.
func LoadContacts(path string) (map[string][]string, error) {
	records, err := ReadContacts(path)
	if err != nil {
		return nil, err
	}
	contacts := make(map[string][]string, len(records))
	for _, r := range records {
		contacts[r.Location] = append(contacts[r.Location], r.EmailList...)
	}
	return contacts, nil
}

// ReadOwnership returns every ownership row in file order.
func ReadOwnership(path string) ([]models.OwnershipRecord, error) {
	rows, cols, err := readTable(path, ColumnDevice, ColumnOwner)
	if err != nil {
		return nil, err
	}
	out := make([]models.OwnershipRecord, 0, len(rows))
	for _, row := range rows {
		id := NormalizeDeviceID(cell(row, cols[ColumnDevice]))
		if id == "" {
			continue
		}
		out = append(out, models.OwnershipRecord{
			DeviceID:  id,
			OwnerName: strings.TrimSpace(cell(row, cols[ColumnOwner])),
		})
	}
	return out, nil
}

// ReadContacts returns every contact row in file order.
func ReadContacts(path string) ([]models.ContactRecord, error) {
	rows, cols, err := readTable(path, ColumnLocation, ColumnEmail)
	if err != nil {
		return nil, err
	}
	out := make([]models.ContactRecord, 0, len(rows))
	for _, row := range rows {
		location := strings.TrimSpace(cell(row, cols[ColumnLocation]))
		if location == "" {
			continue
		}
		out = append(out, models.ContactRecord{
			Location:  location,
			EmailList: SplitEmails(cell(row, cols[ColumnEmail])),
		})
	}
	return out, nil
}

// SplitEmails splits a comma separated address cell, dropping blanks.
func SplitEmails(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ",") {
		if addr := strings.TrimSpace(part); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}

// NormalizeDeviceID turns spreadsheet renderings of numeric ids ("42.0")
// into the form the device API uses ("42").
func NormalizeDeviceID(raw string) string {
	id := strings.TrimSpace(raw)
	if f, err := strconv.ParseFloat(id, 64); err == nil && f == float64(int64(f)) && strings.ContainsAny(id, ".eE") {
		return strconv.FormatInt(int64(f), 10)
	}
	return id
}

// readTable returns the data rows of the first sheet and the index of every
// required column, matched case-insensitively.
func readTable(path string, required ...string) ([][]string, map[string]int, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil, &MissingFileError{Path: path}
	}

	var (
		rows [][]string
		err  error
	)
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		rows, err = readCSV(path)
	} else {
		rows, err = readXLSX(path)
	}
	if err != nil {
		return nil, nil, err
	}
	if len(rows) == 0 {
		return nil, nil, &MalformedRowError{Path: path, Row: 1, Column: required[0]}
	}

	header := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		key := strings.ToLower(strings.TrimSpace(h))
		if _, dup := header[key]; !dup {
			header[key] = i
		}
	}
	cols := make(map[string]int, len(required))
	for _, name := range required {
		idx, ok := header[strings.ToLower(name)]
		if !ok {
			return nil, nil, &MalformedRowError{Path: path, Row: 1, Column: name}
		}
		cols[name] = idx
	}
	return rows[1:], cols, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open spreadsheet %s: %w", path, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q of %s: %w", sheets[0], path, err)
	}
	return rows, nil
}

func readCSV(path string) ([][]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func cell(row []string, idx int) string {
	if idx < len(row) {
		return row[idx]
	}
	return ""
}
