package importer

import (
	"strings"
	"unicode"
)

// Field is a canonical menu column name
type Field string

const (
	FieldVendor      Field = "vendor"
	FieldCampusLoc   Field = "campusLoc"
	FieldName        Field = "name"
	FieldDescription Field = "description"
	FieldCalories    Field = "calories"
	FieldProteinG    Field = "proteinG"
	FieldCarbsG      Field = "carbsG"
	FieldFatG        Field = "fatG"
	FieldPriceUSD    Field = "priceUSD"
	FieldTags        Field = "tags"
	FieldUpdatedAt   Field = "updatedAt"
)

type synonymRule struct {
	field    Field
	synonyms []string
}

// headerSynonyms is tested top to bottom; the first field with a matching
// synonym claims the header. The item name synonyms ("item", "name") are so
// generic that name sits below every field a qualified header could mean, so
// "Item Price" is a price and "Item Calories" calories. Vendor and description
// sit above it so "Vendor Name" is a vendor and "Item Description" a
// description; campus location is last so "Location Name" stays a vendor.
var headerSynonyms = []synonymRule{
	{FieldVendor, []string{"vendor", "restaurant", "dining hall", "eatery", "venue", "location name"}},
	{FieldDescription, []string{"description", "desc", "details", "ingredients"}},
	{FieldCalories, []string{"calories", "kcal", "energy"}},
	{FieldProteinG, []string{"protein", "protein(g)", "protein g"}},
	{FieldCarbsG, []string{"carbohydrate", "carbs", "carb"}},
	{FieldFatG, []string{"total fat", "fat"}},
	{FieldPriceUSD, []string{"price", "cost", "usd", "$"}},
	{FieldTags, []string{"tags", "dietary", "allergens", "labels", "category"}},
	{FieldUpdatedAt, []string{"updated", "last updated", "date", "modified"}},
	{FieldName, []string{"item name", "menu item", "dish", "item", "name", "food"}},
	{FieldCampusLoc, []string{"campus", "location", "building", "area"}},
}

// identifierSuffixes mark key columns such as "Item ID" or "Vendor #". They
// are never a menu field, whatever the rest of the header says.
var identifierSuffixes = map[string]struct{}{
	"id": {}, "ids": {}, "#": {}, "no": {}, "number": {}, "code": {}, "sku": {}, "key": {},
}

// HeaderMapping maps a canonical field to the raw sheet header that supplies it
type HeaderMapping map[Field]string

// Has reports whether the field was resolved
func (m HeaderMapping) Has(f Field) bool {
	_, ok := m[f]
	return ok
}

// Missing returns the required fields the mapping lacks
func (m HeaderMapping) Missing() []Field {
	var missing []Field
	for _, f := range []Field{FieldVendor, FieldName} {
		if !m.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Valid reports whether a sheet with this mapping can produce rows
func (m HeaderMapping) Valid() bool {
	return len(m.Missing()) == 0
}

// ResolveHeaders maps raw headers, in column order, to canonical fields.
// When several headers match the same field the leftmost one wins.
func ResolveHeaders(headers []string) HeaderMapping {
	mapping := make(HeaderMapping)
	for _, raw := range headers {
		field, ok := matchHeader(raw)
		if !ok {
			continue
		}
		if _, taken := mapping[field]; taken {
			continue
		}
		mapping[field] = raw
	}
	return mapping
}

func matchHeader(raw string) (Field, bool) {
	h := normalizeHeader(raw)
	if h == "" || isIdentifierHeader(h) {
		return "", false
	}
	for _, rule := range headerSynonyms {
		for _, syn := range rule.synonyms {
			if strings.Contains(h, syn) {
				return rule.field, true
			}
		}
	}
	return "", false
}

// normalizeHeader lowercases and collapses internal whitespace
func normalizeHeader(raw string) string {
	return strings.Join(strings.Fields(strings.ToLower(raw)), " ")
}

// isIdentifierHeader reports whether the last word of a normalized header
// names a key column
func isIdentifierHeader(h string) bool {
	words := strings.FieldsFunc(h, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '#'
	})
	if len(words) == 0 {
		return false
	}
	_, ok := identifierSuffixes[words[len(words)-1]]
	return ok
}
