package importer

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"dining-service/internal/models"
	"github.com/xuri/excelize/v2"
)

// RawRow is one normalized spreadsheet row, ready for grouping and upsert
type RawRow struct {
	Sheet       string
	Line        int
	Vendor      string
	CampusLoc   *string
	Name        string
	Description *string
	Calories    *float64
	ProteinG    *float64
	CarbsG      *float64
	FatG        *float64
	PriceUSD    *float64
	Tags        []string
	UpdatedAt   *time.Time
}

var (
	currencySymbols = strings.NewReplacer("$", "", "€", "", "£", "", "¥", "")
	unitSuffix      = regexp.MustCompile(`(?i)\s*(kcal|calories|calorie|cals|cal|grams|gram|lbs|lb|kg|oz|g)\.?\s*$`)
	thousandsGroups = regexp.MustCompile(`^[-+]?\d{1,3}(,\d{3})+(\.\d+)?$`)
	nonWordChars    = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	whitespaceRuns  = regexp.MustCompile(`\s+`)
	tagSeparators   = regexp.MustCompile(`[,;]`)
)

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"01/02/06",
	"Jan 2, 2006",
}

// ParseNumber reads a numeric cell. Numbers pass through; strings lose
// currency symbols, well-formed thousands separators and a trailing unit
// before parsing.
// The second result is false when no valid number is present.
func ParseNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return finite(n)
	case float32:
		return finite(float64(n))
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		s := strings.TrimSpace(currencySymbols.Replace(n))
		s = strings.TrimSpace(unitSuffix.ReplaceAllString(s, ""))
		if s == "" {
			return 0, false
		}
		// "1,200" is a thousands separator; "8,99" is a decimal comma we
		// cannot tell from a typo, so it reads as absent
		if strings.Contains(s, ",") {
			if !thousandsGroups.MatchString(s) {
				return 0, false
			}
			s = strings.ReplaceAll(s, ",", "")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		return finite(f)
	default:
		return 0, false
	}
}

func finite(f float64) (float64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseTags splits a tag cell on commas or semicolons. List cells pass through.
func ParseTags(v any) []string {
	var parts []string
	switch t := v.(type) {
	case nil:
		return nil
	case []string:
		parts = t
	case []any:
		for _, p := range t {
			parts = append(parts, cellString(p))
		}
	default:
		parts = tagSeparators.Split(cellString(v), -1)
	}

	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			tags = append(tags, p)
		}
	}
	if len(tags) == 0 {
		return nil
	}
	return tags
}

// NormalizeName builds the dedup key for an item name: lowercase, punctuation
// replaced by spaces, whitespace collapsed. Applying it twice changes nothing.
func NormalizeName(name string) string {
	s := nonWordChars.ReplaceAllString(strings.ToLower(name), " ")
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(s, " "))
}

// ParseDate reads a date cell. Numbers are spreadsheet date serials.
func ParseDate(v any) (time.Time, bool) {
	switch d := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return d, !d.IsZero()
	case string:
		s := strings.TrimSpace(d)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range dateLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t, true
			}
		}
		if serial, err := strconv.ParseFloat(s, 64); err == nil {
			return serialToTime(serial)
		}
		return time.Time{}, false
	default:
		serial, ok := ParseNumber(v)
		if !ok {
			return time.Time{}, false
		}
		return serialToTime(serial)
	}
}

func serialToTime(serial float64) (time.Time, bool) {
	if serial <= 0 {
		return time.Time{}, false
	}
	t, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// NormalizeRow converts a raw sheet row into a RawRow. Rows with a blank
// vendor or item name are dropped, as are names with no word characters
// since they have no dedup key. diag may be nil.
func NormalizeRow(row Row, mapping HeaderMapping, diag *models.ImportDiagnostics) (RawRow, bool) {
	if diag == nil {
		diag = &models.ImportDiagnostics{}
	}
	get := func(f Field) any {
		header, ok := mapping[f]
		if !ok {
			return nil
		}
		return row.Cells[header]
	}

	vendor := cellString(get(FieldVendor))
	name := cellString(get(FieldName))
	if vendor == "" || name == "" || NormalizeName(name) == "" {
		return RawRow{}, false
	}

	number := func(f Field) *float64 {
		v := get(f)
		n, ok := ParseNumber(v)
		if !ok {
			if cellString(v) != "" {
				diag.NumericParseFailures++
			}
			return nil
		}
		return &n
	}

	out := RawRow{
		Sheet:       row.Sheet,
		Line:        row.Line,
		Vendor:      vendor,
		CampusLoc:   optionalString(cellString(get(FieldCampusLoc))),
		Name:        name,
		Description: optionalString(cellString(get(FieldDescription))),
		Calories:    number(FieldCalories),
		ProteinG:    number(FieldProteinG),
		CarbsG:      number(FieldCarbsG),
		FatG:        number(FieldFatG),
		PriceUSD:    number(FieldPriceUSD),
		Tags:        ParseTags(get(FieldTags)),
	}

	if raw := get(FieldUpdatedAt); raw != nil {
		if t, ok := ParseDate(raw); ok {
			out.UpdatedAt = &t
		} else if cellString(raw) != "" {
			diag.DateParseFailures++
		}
	}

	return out, true
}

// cellString renders a cell as trimmed text
func cellString(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case []string:
		return strings.Join(c, ", ")
	default:
		return ""
	}
}

// optionalString returns nil for empty strings, pointer otherwise
func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
