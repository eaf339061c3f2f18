package formdata

import (
	"net/url"
	"strings"
)

// EncodedValue is the stored representation of a url-encoded field: the
// bytes exactly as submitted, still percent-encoded. Call Decode to obtain
// the display representation.
type EncodedValue string

// Decode percent-decodes the value for display. '+' is left untouched; use
// SpacesNormalized first for fields whose '+' means a space. Values that are
// not valid percent-encoding are returned verbatim.
func (v EncodedValue) Decode() string {
	decoded, err := url.PathUnescape(string(v))
	if err != nil {
		return string(v)
	}
	return decoded
}

// SpacesNormalized rewrites form-encoded spaces ('+') as %20 so the stored
// value stays percent-encoded but decodes to the text the user typed.
func (v EncodedValue) SpacesNormalized() EncodedValue {
	return EncodedValue(strings.ReplaceAll(string(v), "+", "%20"))
}

// URLValues maps field names to their still-encoded values.
type URLValues map[string]EncodedValue

// ParseURLEncoded parses an application/x-www-form-urlencoded body or query
// string. Pairs without '=' are skipped; duplicate names keep the last
// occurrence. Names are percent-decoded, values are not.
func ParseURLEncoded(s string) URLValues {
	values := make(URLValues)
	s = strings.TrimPrefix(s, "?")

	for _, pair := range strings.Split(s, "&") {
		if pair == "" {
			continue
		}
		eq := strings.IndexByte(pair, '=')
		if eq == -1 {
			continue
		}
		name := pair[:eq]
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		if name == "" {
			continue
		}
		values[name] = EncodedValue(pair[eq+1:])
	}
	return values
}

// Has reports whether name was present.
func (v URLValues) Has(name string) bool {
	_, ok := v[name]
	return ok
}

// Raw returns the stored (percent-encoded) value.
func (v URLValues) Raw(name string) EncodedValue {
	return v[name]
}

// Decoded returns the display representation of a value.
func (v URLValues) Decoded(name string) string {
	return v[name].Decode()
}

// Form converts the values into a Form holding the stored representation,
// so url-encoded and multipart submissions can flow through the same code.
func (v URLValues) Form() Form {
	form := make(Form, len(v))
	for name, value := range v {
		form.SetText(name, string(value))
	}
	return form
}
