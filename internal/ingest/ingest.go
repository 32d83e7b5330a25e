// Package ingest turns loosely typed tabular rows into lead candidates. It
// performs every check that needs no storage access; the lead service
// resolves assignees and phone collisions afterwards.
package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultSource is stamped on leads whose row carries no source column.
const DefaultSource = "bulk_upload"

// Row reasons reported back to the uploader.
const (
	ReasonMissingPhone    = "missing phone"
	ReasonInvalidPhone    = "invalid phone number"
	ReasonMissingEmail    = "missing assignee email"
	ReasonInvalidEmail    = "invalid assignee email"
	ReasonUnknownAssignee = "assignee not found"
	ReasonPhoneExists     = "phone already belongs to an active lead"
	ReasonDuplicateInFile = "duplicate phone in upload"
)

var (
	phoneColumns  = []string{"mobile_number", "phone", "mobile", "contact"}
	emailColumns  = []string{"email", "e_mail", "assignee_email", "assigned_to", "caller_email", "assigned_email"}
	nameColumns   = []string{"name", "full_name", "lead_name", "customer_name"}
	notesColumns  = []string{"notes", "remarks", "comment", "comments"}
	sourceColumns = []string{"source", "lead_source"}
)

// Options tune row parsing.
type Options struct {
	MinPhoneDigits   int
	PhoneColumnIndex int
	EmailColumnIndex int
	MaxRows          int
}

// DefaultOptions mirrors the service defaults.
func DefaultOptions() Options {
	return Options{MinPhoneDigits: 10, PhoneColumnIndex: 1, EmailColumnIndex: 2, MaxRows: 5000}
}

// Row is one decoded record. Columns and Values are positionally aligned.
type Row struct {
	Columns []string
	Values  []any
	// keyed rows come from an unordered map and never use positional
	// fallback.
	keyed bool
}

// RowFromMap builds a row from an unordered record. Columns are sorted for
// stable output; only named columns are recognised.
func RowFromMap(record map[string]any) Row {
	columns := make([]string, 0, len(record))
	for key := range record {
		columns = append(columns, key)
	}
	sort.Strings(columns)
	values := make([]any, len(columns))
	for i, key := range columns {
		values[i] = record[key]
	}
	return Row{Columns: columns, Values: values, keyed: true}
}

// Record is a JSON object decoded with its key order intact.
type Record struct {
	row Row
}

// UnmarshalJSON reads one object, keeping keys in the order they were sent.
func (r *Record) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("ingest: row must be a JSON object")
	}
	var row Row
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)
		var value any
		if err := dec.Decode(&value); err != nil {
			return err
		}
		row.Columns = append(row.Columns, key)
		row.Values = append(row.Values, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	r.row = row
	return nil
}

// Row returns the decoded row.
func (r Record) Row() Row { return r.row }

// RowsFromTable builds rows from a header and positional records.
func RowsFromTable(header []string, records [][]any) []Row {
	rows := make([]Row, len(records))
	for i, record := range records {
		rows[i] = Row{Columns: header, Values: record}
	}
	return rows
}

// Candidate is a row that passed structural validation.
type Candidate struct {
	Row    int
	Name   string
	Phone  string
	Email  string
	Notes  *string
	Source string
}

// RowError reports why a row was rejected. Row numbers start at 1.
type RowError struct {
	Row    int    `json:"row"`
	Reason string `json:"reason"`
}

// Parser validates rows against Options.
type Parser struct {
	opts     Options
	validate *validator.Validate
}

// NewParser builds a parser; zero option values fall back to defaults.
func NewParser(opts Options) *Parser {
	defaults := DefaultOptions()
	if opts.MinPhoneDigits <= 0 {
		opts.MinPhoneDigits = defaults.MinPhoneDigits
	}
	if opts.PhoneColumnIndex < 0 {
		opts.PhoneColumnIndex = defaults.PhoneColumnIndex
	}
	if opts.EmailColumnIndex < 0 {
		opts.EmailColumnIndex = defaults.EmailColumnIndex
	}
	if opts.MaxRows <= 0 {
		opts.MaxRows = defaults.MaxRows
	}
	return &Parser{opts: opts, validate: validator.New()}
}

// MaxRows is the largest accepted batch.
func (p *Parser) MaxRows() int { return p.opts.MaxRows }

// Parse checks a single row. rowNumber is reported back in errors.
func (p *Parser) Parse(row Row, rowNumber int) (Candidate, *RowError) {
	fields := normalize(row)

	phoneRaw := pick(fields, row, phoneColumns, p.opts.PhoneColumnIndex)
	if phoneRaw == "" {
		return Candidate{}, &RowError{Row: rowNumber, Reason: ReasonMissingPhone}
	}
	phone, ok := p.NormalizePhone(phoneRaw)
	if !ok {
		return Candidate{}, &RowError{Row: rowNumber, Reason: ReasonInvalidPhone}
	}

	email := strings.ToLower(pick(fields, row, emailColumns, p.opts.EmailColumnIndex))
	if email == "" {
		return Candidate{}, &RowError{Row: rowNumber, Reason: ReasonMissingEmail}
	}
	if err := p.validate.Var(email, "email"); err != nil {
		return Candidate{}, &RowError{Row: rowNumber, Reason: ReasonInvalidEmail}
	}

	candidate := Candidate{
		Row:    rowNumber,
		Name:   pick(fields, row, nameColumns, -1),
		Phone:  phone,
		Email:  email,
		Source: pick(fields, row, sourceColumns, -1),
	}
	if candidate.Name == "" {
		candidate.Name = phone
	}
	if candidate.Source == "" {
		candidate.Source = DefaultSource
	}
	if notes := pick(fields, row, notesColumns, -1); notes != "" {
		candidate.Notes = &notes
	}
	return candidate, nil
}

// NormalizePhone strips separators and checks the digit count. A single
// leading + is kept.
func (p *Parser) NormalizePhone(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	plus := strings.HasPrefix(raw, "+")
	var b strings.Builder
	for _, r := range strings.TrimPrefix(raw, "+") {
		switch r {
		case ' ', '-', '(', ')', '.':
			continue
		}
		b.WriteRune(r)
	}
	digits := b.String()
	tag := fmt.Sprintf("required,numeric,min=%d,max=15", p.opts.MinPhoneDigits)
	if err := p.validate.Var(digits, tag); err != nil || strings.ContainsAny(digits, "+-.") {
		return "", false
	}
	if plus {
		return "+" + digits, true
	}
	return digits, true
}

// NormalizeKey lower-cases and trims key, collapsing every run of
// non-alphanumeric characters into a single underscore.
func NormalizeKey(key string) string {
	key = strings.ToLower(strings.TrimSpace(key))
	var b strings.Builder
	pending := false
	for _, r := range key {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
			continue
		}
		pending = true
	}
	return b.String()
}

func normalize(row Row) map[string]string {
	fields := make(map[string]string, len(row.Columns))
	for i, column := range row.Columns {
		key := NormalizeKey(column)
		if key == "" || i >= len(row.Values) {
			continue
		}
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = stringify(row.Values[i])
	}
	return fields
}

func pick(fields map[string]string, row Row, names []string, fallbackIndex int) string {
	for _, name := range names {
		if val, ok := fields[name]; ok && val != "" {
			return val
		}
	}
	if row.keyed {
		return ""
	}
	if fallbackIndex >= 0 && fallbackIndex < len(row.Values) && !namedColumn(row, fallbackIndex) {
		return stringify(row.Values[fallbackIndex])
	}
	return ""
}

// namedColumn reports whether the column at i is one of the recognised
// headers, which makes it unusable as a positional fallback.
func namedColumn(row Row, i int) bool {
	if i >= len(row.Columns) {
		return false
	}
	key := NormalizeKey(row.Columns[i])
	for _, group := range [][]string{phoneColumns, emailColumns, nameColumns, notesColumns, sourceColumns} {
		for _, name := range group {
			if key == name {
				return true
			}
		}
	}
	return false
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	default:
		return strings.TrimSpace(fmt.Sprint(val))
	}
}
