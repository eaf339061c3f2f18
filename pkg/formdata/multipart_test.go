package formdata

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// textPart renders a text part (headers + value) without delimiters.
func textPart(name, value string) string {
	return fmt.Sprintf("Content-Disposition: form-data; name=\"%s\"\r\n\r\n%s", name, value)
}

// filePart renders a file part (headers + value) without delimiters.
func filePart(name, filename, contentType, value string) string {
	return fmt.Sprintf("Content-Disposition: form-data; name=\"%s\"; filename=\"%s\"\r\nContent-Type: %s\r\n\r\n%s",
		name, filename, contentType, value)
}

// buildBody joins parts with the boundary and appends the close delimiter.
func buildBody(boundary string, parts ...string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString(p)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "--\r\n")
	return b.String()
}

func writeFormBody() string {
	return buildBody("X",
		textPart("bid", "1765"),
		textPart("p", "145"),
		textPart("aid", "0"),
		textPart("title", "디테일"),
		textPart("body", "hello"),
	)
}

func TestDecode_WriteForm(t *testing.T) {
	form, err := Decode([]byte(writeFormBody()), "X")
	require.NoError(t, err)

	assert.Len(t, form, 5)
	assert.Equal(t, "1765", form.Get("bid"))
	assert.Equal(t, "145", form.Get("p"))
	assert.Equal(t, "0", form.Get("aid"))
	assert.Equal(t, "디테일", form.Get("title"))
	assert.Equal(t, "hello", form.Get("body"))

	for name, field := range form {
		assert.Equal(t, name, field.Name)
		assert.False(t, field.Binary, "field %s should be text", name)
	}

	bid, ok := form.Int("bid")
	assert.True(t, ok)
	assert.Equal(t, int64(1765), bid)
}

func TestDecodeReader_MatchesBufferedDecode(t *testing.T) {
	png := "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR--X\xff\xfe"
	body := buildBody("X",
		textPart("bid", "1765"),
		textPart("title", "디테일"),
		textPart("body", strings.Repeat("long body line\r\n", 200)),
		filePart("attach1", "a.png", "image/png", png),
		textPart("empty", ""),
	)

	buffered, err := Decode([]byte(body), "X")
	require.NoError(t, err)

	for _, chunk := range []int{1, 2, 3, 7, 64, 1024, 1 << 16} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			streamed, err := Decoder{ChunkSize: chunk}.DecodeReader(strings.NewReader(body), "X")
			require.NoError(t, err)
			assert.Equal(t, buffered, streamed)
		})
	}

	t.Run("one byte reader", func(t *testing.T) {
		streamed, err := DecodeReader(iotest.OneByteReader(strings.NewReader(body)), "X")
		require.NoError(t, err)
		assert.Equal(t, buffered, streamed)
	})
}

func TestDecode_BoundaryPrefixInsideValue(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
		want  string
	}{
		{
			name:  "boundary followed by text",
			body:  "--X\r\n" + textPart("body", "Merry\r\n--Xmas") + "\r\n--X--\r\n",
			field: "body",
			want:  "Merry\r\n--Xmas",
		},
		{
			name:  "boundary followed by padding then text",
			body:  "--X\r\n" + textPart("body", "a\r\n--X \tb") + "\r\n--X--\r\n",
			field: "body",
			want:  "a\r\n--X \tb",
		},
		{
			name:  "boundary followed by single dash",
			body:  "--X\r\n" + textPart("body", "a\r\n--X-b") + "\r\n--X--\r\n",
			field: "body",
			want:  "a\r\n--X-b",
		},
		{
			name:  "boundary followed by bare carriage return",
			body:  buildBody("X", textPart("body", "a\r\n--X\rb"), textPart("bid", "1")),
			field: "body",
			want:  "a\r\n--X\rb",
		},
		{
			name:  "preamble line starting with the boundary",
			body:  "--Xmas preamble\r\n" + buildBody("X", textPart("body", "hello")),
			field: "body",
			want:  "hello",
		},
		{
			name:  "padded delimiter line",
			body:  "--X  \r\n" + textPart("body", "hello") + "\r\n--X\t\r\n" + textPart("bid", "1") + "\r\n--X--",
			field: "body",
			want:  "hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form, err := Decode([]byte(tt.body), "X")
			require.NoError(t, err)
			assert.Equal(t, tt.want, form.Get(tt.field))

			for _, chunk := range []int{1, 2, 3, 7, 64, 1024} {
				streamed, err := Decoder{ChunkSize: chunk}.DecodeReader(strings.NewReader(tt.body), "X")
				require.NoError(t, err, "chunk=%d", chunk)
				assert.Equal(t, form, streamed, "chunk=%d", chunk)
			}
		})
	}
}

func TestDecode_IsIdempotent(t *testing.T) {
	body := []byte(writeFormBody())

	first, err := Decode(body, "X")
	require.NoError(t, err)
	second, err := Decode(body, "X")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestDecode_FilePartIsBinary(t *testing.T) {
	payload := "\x00\x01%41%2520\xff"
	body := buildBody("bnd",
		filePart("attach1", "사진.jpg", "image/jpeg", payload),
	)

	form, err := Decode([]byte(body), "bnd")
	require.NoError(t, err)

	field := form["attach1"]
	assert.True(t, field.Binary)
	assert.True(t, field.HasFilename)
	assert.Equal(t, "사진.jpg", field.Filename)
	assert.Equal(t, "image/jpeg", field.ContentType)
	// Raw bytes, never percent-decoded.
	assert.Equal(t, []byte(payload), field.Value)

	_, isText := field.Text()
	assert.False(t, isText)
}

func TestDecode_InvalidUTF8TextKeptAsBytes(t *testing.T) {
	body := buildBody("X", textPart("body", "ok\xc3\x28"))

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)

	field := form["body"]
	assert.True(t, field.Binary)
	assert.False(t, field.HasFilename)
	assert.Equal(t, []byte("ok\xc3\x28"), field.Value)
}

func TestDecode_EmptyPartsArePresent(t *testing.T) {
	body := buildBody("X",
		textPart("title", ""),
		filePart("attach2", "", "application/octet-stream", ""),
	)

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)

	require.True(t, form.Has("title"))
	assert.Equal(t, "", form.Get("title"))
	assert.Empty(t, form["title"].Value)

	require.True(t, form.Has("attach2"))
	assert.True(t, form["attach2"].HasFilename)
	assert.Empty(t, form["attach2"].Value)
}

func TestDecode_DuplicateNamesLastWins(t *testing.T) {
	body := buildBody("X",
		textPart("aid", "1"),
		textPart("aid", "2"),
	)

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)
	assert.Equal(t, "2", form.Get("aid"))
}

func TestDecode_PreambleAndEpilogueIgnored(t *testing.T) {
	body := "This is a preamble.\r\n" +
		buildBody("X", textPart("bid", "7")) +
		"epilogue bytes --X\r\nContent-Disposition: form-data; name=\"late\"\r\n\r\nnope\r\n--X--"

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)
	assert.Equal(t, "7", form.Get("bid"))
	assert.False(t, form.Has("late"))
}

func TestDecode_PartWithoutNameSkipped(t *testing.T) {
	body := buildBody("X",
		"Content-Disposition: form-data\r\n\r\norphan",
		textPart("bid", "1"),
	)

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)
	assert.Len(t, form, 1)
	assert.Equal(t, "1", form.Get("bid"))
}

func TestDecode_FilenameStar(t *testing.T) {
	body := buildBody("X",
		"Content-Disposition: form-data; name=\"attach1\"; filename*=UTF-8''%EB%94%94.txt\r\n\r\nabc",
	)

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)
	assert.Equal(t, "디.txt", form["attach1"].Filename)
}

func TestDecode_MalformedBodies(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		boundary string
		contains string
	}{
		{
			name:     "boundary never found",
			body:     "bid=1765&p=145",
			boundary: "X",
			contains: "not found",
		},
		{
			name:     "empty boundary",
			body:     writeFormBody(),
			boundary: "",
			contains: "empty boundary",
		},
		{
			name:     "unterminated header block",
			body:     "--X\r\nContent-Disposition: form-data; name=\"bid\"\r\n",
			boundary: "X",
			contains: "unterminated part header block",
		},
		{
			name:     "file part without content",
			body:     buildBody("X", filePart("attach1", "a.png", "image/png", "")),
			boundary: "X",
			contains: "has no content",
		},
		{
			name:     "part never closed",
			body:     "--X\r\n" + textPart("body", "hello"),
			boundary: "X",
			contains: "not terminated",
		},
		{
			name:     "header line without colon",
			body:     buildBody("X", "garbage header\r\n\r\nvalue"),
			boundary: "X",
			contains: "malformed part header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.body), tt.boundary)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedBody))
			assert.Contains(t, err.Error(), tt.contains)

			_, err = Decoder{ChunkSize: 3}.DecodeReader(strings.NewReader(tt.body), tt.boundary)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedBody), "stream path should fail the same way")
		})
	}
}

func TestDecode_HeaderLimit(t *testing.T) {
	body := buildBody("X",
		fmt.Sprintf("Content-Disposition: form-data; name=\"bid\"\r\nX-Padding: %s\r\n\r\n1", strings.Repeat("a", 256)),
	)

	_, err := Decoder{MaxHeaderBytes: 64}.Decode([]byte(body), "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMalformedBody)

	form, err := Decode([]byte(body), "X")
	require.NoError(t, err)
	assert.Equal(t, "1", form.Get("bid"))
}

func TestDecodeReader_ReadErrorIsNotMalformed(t *testing.T) {
	boom := errors.New("connection reset")
	r := io.MultiReader(strings.NewReader("--X\r\n"+textPart("bid", "1")), iotest.ErrReader(boom))

	_, err := DecodeReader(r, "X")
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, errors.Is(err, ErrMalformedBody))
}

func TestDecodeReader_DrainsTrailingBytes(t *testing.T) {
	body := buildBody("X", textPart("bid", "1")) + strings.Repeat("trailing", 1000)
	r := bytes.NewReader([]byte(body))

	form, err := DecodeReader(r, "X")
	require.NoError(t, err)
	assert.Equal(t, "1", form.Get("bid"))
	assert.Equal(t, 0, r.Len())
}

func TestFromStrings(t *testing.T) {
	form := FromStrings(map[string]string{"bid": "3", "title": "hi", "": "dropped"})

	assert.Len(t, form, 2)
	assert.Equal(t, "3", form.Get("bid"))
	assert.Equal(t, "hi", form.Get("title"))

	form.SetFile("attach1", "x.bin", []byte{1, 2})
	assert.True(t, form["attach1"].Binary)
	assert.Equal(t, []byte{1, 2}, form.Bytes("attach1"))
}
