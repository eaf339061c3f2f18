// Package classify labels intercepted forum requests with the submission
// intent that decides which decoder and aggregator path handles them.
package classify

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Intent is the kind of user action a request represents.
type Intent string

const (
	IntentWrite        Intent = "write"
	IntentEdit         Intent = "edit"
	IntentComment      Intent = "comment"
	IntentNote         Intent = "note"
	IntentLogin        Intent = "login"
	IntentUnclassified Intent = "unclassified"
)

// Validate checks if the Intent is a valid enum value.
func (i Intent) Validate() error {
	switch i {
	case IntentWrite, IntentEdit, IntentComment, IntentNote, IntentLogin, IntentUnclassified:
		return nil
	default:
		return fmt.Errorf("unknown intent: %q", i)
	}
}

// IsArticle reports whether the intent produces an article (multipart body).
func (i Intent) IsArticle() bool {
	return i == IntentWrite || i == IntentEdit
}

// Endpoint binds a server script name to the intent it signals.
type Endpoint struct {
	Intent Intent
	Name   string
}

// DefaultEndpoints is the forum's own script layout, in match order.
var DefaultEndpoints = []Endpoint{
	{Intent: IntentWrite, Name: "write.cgi"},
	{Intent: IntentEdit, Name: "edit.cgi"},
	{Intent: IntentComment, Name: "comment.cgi"},
	{Intent: IntentNote, Name: "note.cgi"},
	{Intent: IntentLogin, Name: "login.cgi"},
}

const (
	multipartPrefix = "multipart/form-data; boundary="
	urlEncodedType  = "application/x-www-form-urlencoded"
)

// EndpointsWithOverrides returns DefaultEndpoints with the script names in
// overrides substituted, keeping the default match order.
func EndpointsWithOverrides(overrides map[Intent]string) []Endpoint {
	out := make([]Endpoint, len(DefaultEndpoints))
	for i, ep := range DefaultEndpoints {
		if name, ok := overrides[ep.Intent]; ok && name != "" {
			ep.Name = name
		}
		out[i] = ep
	}
	return out
}

// Classification is the result of inspecting one request.
type Classification struct {
	Intent Intent

	// Boundary is the multipart boundary, valid only when HasBoundary is set.
	Boundary    string
	HasBoundary bool
}

// Classifier matches request paths against an ordered endpoint list.
type Classifier struct {
	endpoints []Endpoint
}

// New returns a Classifier using endpoints in order; the first match wins.
// A nil or empty list selects DefaultEndpoints.
func New(endpoints []Endpoint) *Classifier {
	if len(endpoints) == 0 {
		endpoints = DefaultEndpoints
	}
	return &Classifier{endpoints: endpoints}
}

// Classify labels a request. Only POST requests are ever classified; the
// target path must contain one of the endpoint names.
func (c *Classifier) Classify(targetURL, method, contentType string) Classification {
	result := Classification{Intent: IntentUnclassified}
	result.Boundary, result.HasBoundary = Boundary(contentType)

	if !strings.EqualFold(method, http.MethodPost) {
		return result
	}

	path := requestPath(targetURL)
	for _, ep := range c.endpoints {
		if ep.Name != "" && strings.Contains(path, ep.Name) {
			result.Intent = ep.Intent
			return result
		}
	}
	return result
}

// Endpoints returns the match list in order.
func (c *Classifier) Endpoints() []Endpoint {
	out := make([]Endpoint, len(c.endpoints))
	copy(out, c.endpoints)
	return out
}

// Boundary extracts the multipart boundary from a Content-Type header. It
// fails softly: ok is false when the header is absent or not multipart.
func Boundary(contentType string) (boundary string, ok bool) {
	contentType = strings.TrimSpace(contentType)
	if len(contentType) < len(multipartPrefix) || !strings.EqualFold(contentType[:len(multipartPrefix)], multipartPrefix) {
		return "", false
	}

	boundary = contentType[len(multipartPrefix):]
	if semi := strings.IndexByte(boundary, ';'); semi != -1 {
		boundary = boundary[:semi]
	}
	boundary = strings.Trim(strings.TrimSpace(boundary), `"`)
	if boundary == "" {
		return "", false
	}
	return boundary, true
}

// IsURLEncoded reports whether a Content-Type header names a url-encoded form.
func IsURLEncoded(contentType string) bool {
	mediaType := contentType
	if semi := strings.IndexByte(mediaType, ';'); semi != -1 {
		mediaType = mediaType[:semi]
	}
	return strings.EqualFold(strings.TrimSpace(mediaType), urlEncodedType)
}

// requestPath returns the path part of a URL, falling back to the raw string
// without its query when the URL does not parse.
func requestPath(target string) string {
	if u, err := url.Parse(target); err == nil {
		return u.Path
	}
	if q := strings.IndexByte(target, '?'); q != -1 {
		return target[:q]
	}
	return target
}
