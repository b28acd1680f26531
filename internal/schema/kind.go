package schema

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind is the closed set of field types an extraction schema can declare.
// Each kind pairs a value type with its required/optional flag.
type Kind int

const (
	KindInvalid Kind = iota
	RequiredString
	OptionalString
	RequiredURL
	OptionalURL
	RequiredPrice
	OptionalPrice
	RequiredNumber
	OptionalNumber
	OptionalBool
)

var kindNames = map[Kind]string{
	RequiredString: "string",
	OptionalString: "string?",
	RequiredURL:    "url",
	OptionalURL:    "url?",
	RequiredPrice:  "price",
	OptionalPrice:  "price?",
	RequiredNumber: "number",
	OptionalNumber: "number?",
	OptionalBool:   "bool?",
}

// String returns the schema-file spelling of the kind. A trailing "?"
// marks an optional field.
func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "invalid"
}

// ParseKind parses a schema-file kind such as "price" or "url?".
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, n := range kindNames {
		if n == s {
			return k, nil
		}
	}
	return KindInvalid, eris.Errorf("schema: unknown field kind %q", s)
}

// Required reports whether a value must be present.
func (k Kind) Required() bool {
	switch k {
	case RequiredString, RequiredURL, RequiredPrice, RequiredNumber:
		return true
	default:
		return false
	}
}

// jsonType is the JSON Schema type advertised to extractors.
func (k Kind) jsonType() string {
	switch k {
	case RequiredNumber, OptionalNumber:
		return "number"
	case OptionalBool:
		return "boolean"
	default:
		return "string"
	}
}

var priceRe = regexp.MustCompile(`^[^\d\-]{0,4}\s*-?\d{1,3}(?:[,\s]?\d{3})*(?:[.,]\d{1,2})?\s*[A-Za-z]{0,3}$`)

// Accepts reports whether v is a well-typed value for this kind. Missing
// values are handled by the caller; Accepts only sees present ones.
func (k Kind) Accepts(v any) bool {
	switch k {
	case RequiredString, OptionalString:
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	case RequiredURL, OptionalURL:
		s, ok := v.(string)
		if !ok {
			return false
		}
		u, err := url.Parse(strings.TrimSpace(s))
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	case RequiredPrice, OptionalPrice:
		switch p := v.(type) {
		case float64:
			return p >= 0
		case int:
			return p >= 0
		case string:
			return priceRe.MatchString(strings.TrimSpace(p))
		}
		return false
	case RequiredNumber, OptionalNumber:
		switch n := v.(type) {
		case float64, int, int64:
			return true
		case string:
			_, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			return err == nil
		}
		return false
	case OptionalBool:
		_, ok := v.(bool)
		return ok
	default:
		return false
	}
}

// IsMissing reports whether v counts as absent: nil or a blank string.
func IsMissing(v any, present bool) bool {
	if !present || v == nil {
		return true
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}
