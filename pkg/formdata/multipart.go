package formdata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
)

// ErrMalformedBody is wrapped by every error caused by unparseable input.
// Use errors.Is(err, ErrMalformedBody) to tell decode failures from I/O errors.
var ErrMalformedBody = errors.New("malformed body")

const (
	// DefaultChunkSize is the read buffer used by DecodeReader.
	DefaultChunkSize = 1024

	// DefaultMaxHeaderBytes bounds a single part's header block.
	DefaultMaxHeaderBytes = 8 << 10
)

var (
	crlf       = []byte("\r\n")
	headerEnd  = []byte("\r\n\r\n")
	dashDash   = []byte("--")
	tabOrSpace = " \t"
)

// Decoder decodes multipart/form-data bodies.
// The zero value is ready to use with the default limits.
type Decoder struct {
	// ChunkSize is the size of each read when decoding a stream.
	ChunkSize int

	// MaxHeaderBytes limits the size of one part's header block.
	MaxHeaderBytes int
}

// Decode decodes a fully buffered body with the default Decoder.
func Decode(body []byte, boundary string) (Form, error) {
	return Decoder{}.Decode(body, boundary)
}

// DecodeReader decodes a streamed body with the default Decoder.
func DecodeReader(r io.Reader, boundary string) (Form, error) {
	return Decoder{}.DecodeReader(r, boundary)
}

// Decode decodes a fully buffered multipart body.
func (d Decoder) Decode(body []byte, boundary string) (Form, error) {
	p, err := d.newParser(boundary)
	if err != nil {
		return nil, err
	}
	if err := p.feed(body, true); err != nil {
		return nil, err
	}
	return p.form, nil
}

// DecodeReader decodes a multipart body read incrementally from r using a
// bounded read buffer. Once the close delimiter has been seen the rest of
// the stream is drained and discarded, so callers may rely on r being
// exhausted when DecodeReader returns successfully.
func (d Decoder) DecodeReader(r io.Reader, boundary string) (Form, error) {
	p, err := d.newParser(boundary)
	if err != nil {
		return nil, err
	}

	chunk := d.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	buf := make([]byte, chunk)

	for !p.done() {
		n, readErr := r.Read(buf)
		if n > 0 {
			if err := p.feed(buf[:n], false); err != nil {
				return nil, err
			}
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				if err := p.feed(nil, true); err != nil {
					return nil, err
				}
				break
			}
			return nil, fmt.Errorf("read body: %w", readErr)
		}
	}

	if _, err := io.Copy(io.Discard, r); err != nil {
		return nil, fmt.Errorf("drain body: %w", err)
	}

	return p.form, nil
}

func (d Decoder) newParser(boundary string) (*parser, error) {
	if boundary == "" {
		return nil, fmt.Errorf("%w: empty boundary", ErrMalformedBody)
	}
	maxHeader := d.MaxHeaderBytes
	if maxHeader <= 0 {
		maxHeader = DefaultMaxHeaderBytes
	}
	delim := []byte("--" + boundary)
	return &parser{
		state:          statePreamble,
		delim:          delim,
		bodyDelim:      append([]byte("\r\n"), delim...),
		maxHeaderBytes: maxHeader,
		form:           make(Form),
	}, nil
}

// parserState represents the current position of the multipart parser.
type parserState int

const (
	statePreamble parserState = iota
	stateDelimiterTail
	stateHeaders
	stateBody
	stateDone
)

// parser is the incremental multipart state machine shared by both the
// buffered and the streamed decode paths.
type parser struct {
	state          parserState
	delim          []byte // --boundary
	bodyDelim      []byte // CRLF--boundary
	maxHeaderBytes int

	buf   []byte
	part  partHeader
	value bytes.Buffer
	form  Form
}

type partHeader struct {
	name        string
	filename    string
	hasFilename bool
	contentType string
}

func (p *parser) done() bool {
	return p.state == stateDone
}

// feed appends data to the pending buffer and advances the state machine as
// far as the buffered bytes allow. eof marks the end of input.
func (p *parser) feed(data []byte, eof bool) error {
	if p.state == stateDone {
		return nil
	}
	p.buf = append(p.buf, data...)

	for p.state != stateDone {
		consumed, progressed, err := p.step(eof)
		if err != nil {
			return err
		}
		if consumed > 0 {
			p.buf = p.buf[consumed:]
		}
		if !progressed {
			break
		}
	}

	// Compact so a long stream does not pin every chunk it has seen.
	if cap(p.buf) > 4*len(p.buf)+4096 {
		p.buf = append([]byte(nil), p.buf...)
	}

	if eof && p.state != stateDone {
		return fmt.Errorf("%w: unexpected end of body", ErrMalformedBody)
	}
	return nil
}

// step consumes as much of p.buf as the current state can handle.
// progressed is false when more input is needed.
func (p *parser) step(eof bool) (consumed int, progressed bool, err error) {
	switch p.state {
	case statePreamble:
		return p.parsePreamble(eof)
	case stateDelimiterTail:
		return p.parseDelimiterTail(eof)
	case stateHeaders:
		return p.parseHeaders(eof)
	case stateBody:
		return p.parseBody(eof)
	case stateDone:
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("invalid parser state: %d", p.state)
	}
}

func (p *parser) parsePreamble(eof bool) (int, bool, error) {
	from := 0
	for {
		idx := bytes.Index(p.buf[from:], p.delim)
		if idx == -1 {
			break
		}
		idx += from
		kind, _ := classifyTail(p.buf[idx+len(p.delim):])
		if kind == tailClose || kind == tailLine {
			p.state = stateDelimiterTail
			return idx + len(p.delim), true, nil
		}
		if kind == tailUndecided && !eof {
			return idx, false, nil
		}
		from = idx + 1
	}

	if eof {
		return 0, false, fmt.Errorf("%w: boundary %q not found", ErrMalformedBody, p.delim[2:])
	}
	// Keep enough bytes to match a delimiter split across reads.
	keep := len(p.delim) - 1
	if len(p.buf) > keep {
		return len(p.buf) - keep, false, nil
	}
	return 0, false, nil
}

// delimiterTail classifies the bytes that follow a "--boundary" match.
type delimiterTail int

const (
	tailUndecided delimiterTail = iota
	tailClose
	tailLine
	tailNotDelimiter
)

// classifyTail decides whether rest, the bytes after a "--boundary" match,
// make the match a delimiter: either the close marker "--" or optional
// spaces and tabs followed by a line break. For tailLine, n is the length of
// the padding and line break.
func classifyTail(rest []byte) (kind delimiterTail, n int) {
	if bytes.HasPrefix(rest, dashDash) {
		return tailClose, 0
	}
	if len(rest) == 1 && rest[0] == '-' {
		return tailUndecided, 0
	}

	i := 0
	for i < len(rest) && strings.IndexByte(tabOrSpace, rest[i]) >= 0 {
		i++
	}
	r := rest[i:]
	switch {
	case bytes.HasPrefix(r, crlf):
		return tailLine, i + 2
	case len(r) > 0 && r[0] == '\n':
		return tailLine, i + 1
	case len(r) == 0 || (len(r) == 1 && r[0] == '\r'):
		return tailUndecided, 0
	default:
		return tailNotDelimiter, 0
	}
}

// parseDelimiterTail handles the bytes right after a delimiter: either the
// close marker "--" or optional padding followed by a line break.
func (p *parser) parseDelimiterTail(eof bool) (int, bool, error) {
	kind, n := classifyTail(p.buf)
	switch kind {
	case tailClose:
		// Epilogue is ignored.
		p.state = stateDone
		return len(p.buf), true, nil
	case tailLine:
		p.part = partHeader{}
		p.state = stateHeaders
		return n, true, nil
	case tailUndecided:
		if eof {
			return 0, false, fmt.Errorf("%w: body ends inside boundary line", ErrMalformedBody)
		}
		return 0, false, nil
	default:
		return 0, false, fmt.Errorf("%w: unexpected bytes after boundary", ErrMalformedBody)
	}
}

func (p *parser) parseHeaders(eof bool) (int, bool, error) {
	// A blank first line means the part has no headers at all.
	if bytes.HasPrefix(p.buf, crlf) {
		p.beginBody()
		return len(crlf), true, nil
	}

	idx := bytes.Index(p.buf, headerEnd)
	if idx == -1 {
		if len(p.buf) > p.maxHeaderBytes {
			return 0, false, fmt.Errorf("%w: part header block exceeds %d bytes", ErrMalformedBody, p.maxHeaderBytes)
		}
		if eof {
			return 0, false, fmt.Errorf("%w: unterminated part header block", ErrMalformedBody)
		}
		return 0, false, nil
	}
	if idx > p.maxHeaderBytes {
		return 0, false, fmt.Errorf("%w: part header block exceeds %d bytes", ErrMalformedBody, p.maxHeaderBytes)
	}

	hdr, err := parsePartHeaders(p.buf[:idx])
	if err != nil {
		return 0, false, err
	}
	p.part = hdr
	p.beginBody()
	return idx + len(headerEnd), true, nil
}

func (p *parser) beginBody() {
	p.value.Reset()
	p.state = stateBody
}

func (p *parser) parseBody(eof bool) (int, bool, error) {
	from := 0
	for {
		idx := bytes.Index(p.buf[from:], p.bodyDelim)
		if idx == -1 {
			break
		}
		idx += from
		kind, _ := classifyTail(p.buf[idx+len(p.bodyDelim):])
		switch {
		case kind == tailClose || kind == tailLine:
			p.value.Write(p.buf[:idx])
			if err := p.finishPart(); err != nil {
				return 0, false, err
			}
			p.state = stateDelimiterTail
			return idx + len(p.bodyDelim), true, nil
		case kind == tailUndecided && !eof:
			// The next read decides whether this is a delimiter.
			p.value.Write(p.buf[:idx])
			return idx, false, nil
		}
		// "\r\n--boundary" inside a value, e.g. "--Xmas" with boundary X.
		from = idx + 1
	}

	if eof {
		return 0, false, fmt.Errorf("%w: part %q not terminated by a boundary", ErrMalformedBody, p.part.name)
	}
	// Everything except a possible partial delimiter belongs to the value.
	keep := len(p.bodyDelim) - 1
	if len(p.buf) > keep {
		n := len(p.buf) - keep
		p.value.Write(p.buf[:n])
		return n, false, nil
	}
	return 0, false, nil
}

func (p *parser) finishPart() error {
	hdr := p.part
	if hdr.name == "" {
		// Parts without a form name cannot be addressed; skip them.
		return nil
	}

	value := make([]byte, p.value.Len())
	copy(value, p.value.Bytes())

	if hdr.hasFilename {
		if hdr.filename != "" && len(value) == 0 {
			return fmt.Errorf("%w: file part %q (%s) has no content", ErrMalformedBody, hdr.name, hdr.filename)
		}
		p.form[hdr.name] = Field{
			Name:        hdr.name,
			Value:       value,
			Filename:    hdr.filename,
			HasFilename: true,
			ContentType: hdr.contentType,
			Binary:      true,
		}
		return nil
	}

	p.form[hdr.name] = newTextField(hdr.name, value, hdr.contentType)
	return nil
}

// parsePartHeaders parses "Key: Value" lines of one part header block.
func parsePartHeaders(block []byte) (partHeader, error) {
	var hdr partHeader
	for _, line := range bytes.Split(block, crlf) {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon <= 0 {
			return hdr, fmt.Errorf("%w: malformed part header %q", ErrMalformedBody, truncate(string(line), 64))
		}
		key := strings.ToLower(strings.TrimSpace(string(line[:colon])))
		value := strings.TrimSpace(string(line[colon+1:]))

		switch key {
		case "content-disposition":
			params := parseDisposition(value)
			hdr.name = params["name"]
			if fn, ok := params["filename"]; ok {
				hdr.filename = fn
				hdr.hasFilename = true
			}
			if fn, ok := params["filename*"]; ok {
				hdr.filename = decodeExtValue(fn)
				hdr.hasFilename = true
			}
		case "content-type":
			hdr.contentType = value
		}
	}
	return hdr, nil
}

// parseDisposition splits a Content-Disposition value into lower-cased
// parameter names and unquoted values. Browsers do not escape backslashes in
// filenames, so quoted strings end at the next double quote.
func parseDisposition(value string) map[string]string {
	params := make(map[string]string)

	var segments []string
	start, inQuote := 0, false
	for i := 0; i < len(value); i++ {
		switch value[i] {
		case '"':
			inQuote = !inQuote
		case ';':
			if !inQuote {
				segments = append(segments, value[start:i])
				start = i + 1
			}
		}
	}
	segments = append(segments, value[start:])

	// First segment is the disposition type (form-data).
	for _, seg := range segments[1:] {
		eq := strings.IndexByte(seg, '=')
		if eq == -1 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(seg[:eq]))
		val := strings.TrimSpace(seg[eq+1:])
		if len(val) >= 2 && val[0] == '"' && val[len(val)-1] == '"' {
			val = val[1 : len(val)-1]
		}
		params[key] = val
	}
	return params
}

// decodeExtValue decodes an RFC 5987 value such as UTF-8''%EB%94%94.
func decodeExtValue(v string) string {
	parts := strings.SplitN(v, "'", 3)
	if len(parts) != 3 {
		return v
	}
	decoded, err := url.PathUnescape(parts[2])
	if err != nil {
		return parts[2]
	}
	return decoded
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
