// Package formdata decodes the form submissions a browser host intercepts on
// their way to the forum: multipart/form-data bodies (article write/edit
// forms with optional inline attachments) and application/x-www-form-urlencoded
// bodies (comments and notes).
//
// The multipart decoder accepts either a fully buffered body or a stream of
// unbounded size. Both paths drive the same incremental state machine, so the
// decoded Form is byte-identical regardless of how the body was delivered.
package formdata

import (
	"strconv"
	"unicode/utf8"
)

// Field is a single decoded form field.
// Name is never empty. Value holds the raw part bytes exactly as submitted.
type Field struct {
	Name        string `json:"name"`
	Value       []byte `json:"value"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// HasFilename records whether the part carried a filename parameter at all
	// (an empty file input submits filename="").
	HasFilename bool `json:"has_filename,omitempty"`

	// Binary is set for file parts and for text parts whose bytes are not
	// valid UTF-8. Binary values are never percent-decoded.
	Binary bool `json:"binary,omitempty"`
}

// Text returns the value as a string and whether it is valid UTF-8 text.
func (f Field) Text() (string, bool) {
	if f.Binary {
		return "", false
	}
	return string(f.Value), true
}

// String returns the value as a string regardless of its classification.
func (f Field) String() string {
	return string(f.Value)
}

// newTextField builds a field whose bytes came from a part without a filename.
func newTextField(name string, value []byte, contentType string) Field {
	return Field{
		Name:        name,
		Value:       value,
		ContentType: contentType,
		Binary:      !utf8.Valid(value),
	}
}

// Form maps field names to decoded fields. Duplicate names keep the last part.
type Form map[string]Field

// Has reports whether a field with the given name was submitted.
func (f Form) Has(name string) bool {
	_, ok := f[name]
	return ok
}

// Get returns the field value as a string, or "" when absent.
func (f Form) Get(name string) string {
	field, ok := f[name]
	if !ok {
		return ""
	}
	return string(field.Value)
}

// Bytes returns the raw field value, or nil when absent.
func (f Form) Bytes(name string) []byte {
	field, ok := f[name]
	if !ok {
		return nil
	}
	return field.Value
}

// Int returns the field value parsed as a base-10 integer.
// ok is false when the field is absent or not an integer.
func (f Form) Int(name string) (int64, bool) {
	field, ok := f[name]
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(string(field.Value), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SetText stores a text field, replacing any previous value.
func (f Form) SetText(name, value string) {
	if name == "" {
		return
	}
	f[name] = newTextField(name, []byte(value), "")
}

// SetFile stores a binary file field, replacing any previous value.
func (f Form) SetFile(name, filename string, data []byte) {
	if name == "" {
		return
	}
	f[name] = Field{
		Name:        name,
		Value:       data,
		Filename:    filename,
		HasFilename: true,
		Binary:      true,
	}
}

// FromStrings builds a Form from a flat, already-parsed payload such as the
// messages posted by the browser extension's content scripts.
func FromStrings(values map[string]string) Form {
	form := make(Form, len(values))
	for name, value := range values {
		form.SetText(name, value)
	}
	return form
}
