// Package enroll defines the Aadhaar enrollment record schema and the
// row-to-document transformation used by the ingestion pipeline.
package enroll

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"time"
)

// Column indices into a parsed enrollment row, in file order.
const (
	ColRegistrar = iota
	ColAgency
	ColState
	ColDistrict
	ColSubdistrict
	ColPincode
	ColGender
	ColAge
	ColGenerated
	ColRejected
	ColEmail
	ColMobile

	// NumColumns is the fixed number of data columns in an enrollment file.
	NumColumns
)

// Columns lists the column names in file order. The files carry no usable
// header, so these names are bound positionally.
var Columns = []string{
	"registrar",
	"agency",
	"state",
	"district",
	"subdistrict",
	"pincode",
	"gender",
	"age",
	"generated",
	"rejected",
	"email",
	"mobile",
}

// DateKeyLayout is the date format folded into the identifier hash.
const DateKeyLayout = "20060102"

// Row is one parsed CSV line.
type Row []string

// Field returns the value at column i, or "" if the row is short.
func (r Row) Field(i int) string {
	if i < 0 || i >= len(r) {
		return ""
	}
	return r[i]
}

// Document is the normalized record submitted to the search index.
type Document struct {
	ID   string    `json:"id"`
	Type string    `json:"type"`
	Date time.Time `json:"date"`

	Registrar   string `json:"registrar"`
	Agency      string `json:"agency"`
	State       string `json:"state"`
	District    string `json:"district"`
	Subdistrict string `json:"subdistrict"`
	Pincode     string `json:"pincode"`
	Gender      string `json:"gender"`

	Age       int64 `json:"age"`
	Generated int64 `json:"generated"`
	Rejected  int64 `json:"rejected"`
	Email     int64 `json:"email"`
	Mobile    int64 `json:"mobile"`
}

// BleveType routes the document to the mapping registered under its type tag.
func (d Document) BleveType() string {
	return d.Type
}

// Transform converts the row at position index of a file into a Document.
// Row 0 is always the header and yields ok == false.
func Transform(index int, row Row, date time.Time, typeTag string) (doc Document, ok bool) {
	if index == 0 {
		return Document{}, false
	}

	return Document{
		ID:   Identifier(date, RawText(row)),
		Type: typeTag,
		Date: date,

		Registrar:   row.Field(ColRegistrar),
		Agency:      row.Field(ColAgency),
		State:       row.Field(ColState),
		District:    row.Field(ColDistrict),
		Subdistrict: row.Field(ColSubdistrict),
		Pincode:     row.Field(ColPincode),
		Gender:      row.Field(ColGender),

		Age:       Coerce(row.Field(ColAge)),
		Generated: Coerce(row.Field(ColGenerated)),
		Rejected:  Coerce(row.Field(ColRejected)),
		Email:     Coerce(row.Field(ColEmail)),
		Mobile:    Coerce(row.Field(ColMobile)),
	}, true
}

// RawText re-encodes a row as a single CSV line without the line terminator.
// A field is quoted only when it contains a comma, a quote, or a line break,
// so the text is stable for a given parsed row. Empty fields are written
// bare whether or not the source quoted them, so a,"",b and a,,b share an
// identifier.
func RawText(row Row) string {
	var b strings.Builder
	for i, field := range row {
		if i > 0 {
			b.WriteByte(',')
		}
		if strings.ContainsAny(field, ",\"\r\n") {
			b.WriteByte('"')
			b.WriteString(strings.ReplaceAll(field, `"`, `""`))
			b.WriteByte('"')
			continue
		}
		b.WriteString(field)
	}
	return b.String()
}

// Identifier returns the hex SHA-1 of "<YYYYMMDD>,<raw>", trimmed of
// surrounding whitespace.
func Identifier(date time.Time, raw string) string {
	key := strings.TrimSpace(date.Format(DateKeyLayout) + "," + raw)
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Coerce parses the leading integer of s, ignoring surrounding whitespace and
// any trailing garbage. Input without a leading integer, or one that
// overflows int64, yields 0.
func Coerce(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}

	const cutoff = (1<<63 - 1) / 10

	var n int64
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '_' && digits > 0 && i+1 < len(s) && isDigit(s[i+1]) {
			continue
		}
		if !isDigit(c) {
			break
		}
		if n > cutoff {
			return 0
		}
		n = n*10 + int64(c-'0')
		if n < 0 {
			return 0
		}
		digits++
	}

	if neg {
		return -n
	}
	return n
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}
