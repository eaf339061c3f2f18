package commands

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/internal/printer"
	"github.com/dyluth/forumtap/pkg/formdata"
	"github.com/spf13/cobra"
)

var (
	decodeContentType string
	decodeBoundary    string
	decodeOutput      string
)

var decodeCmd = &cobra.Command{
	Use:   "decode FILE",
	Short: "Decode a captured form body",
	Long: `Decode a saved request body the way the capture pipeline does and print
its fields. Use "-" to read from stdin.

The body type comes from --content-type (multipart/form-data or
application/x-www-form-urlencoded) or --boundary. With neither, the boundary
is taken from the body's first delimiter line.

Examples:
  forumtap decode body.bin --content-type "multipart/form-data; boundary=----x"
  cat body.bin | forumtap decode - --boundary ----x
  forumtap decode comment.txt --content-type application/x-www-form-urlencoded -o json`,
	Args: cobra.ExactArgs(1),
	RunE: runDecode,
}

func init() {
	decodeCmd.Flags().StringVar(&decodeContentType, "content-type", "", "Content-Type header the body was sent with")
	decodeCmd.Flags().StringVar(&decodeBoundary, "boundary", "", "Multipart boundary (overrides --content-type)")
	decodeCmd.Flags().StringVarP(&decodeOutput, "output", "o", "default", "Output format (default or json)")
	rootCmd.AddCommand(decodeCmd)
}

func runDecode(cmd *cobra.Command, args []string) error {
	if decodeOutput != "default" && decodeOutput != "json" {
		return printer.Error(
			"invalid output format",
			fmt.Sprintf("Unknown format: %s", decodeOutput),
			[]string{"Valid formats: default, json"},
		)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open body: %w", err)
		}
		defer f.Close()
		in = f
	}

	contentType := decodeContentType
	if decodeBoundary != "" {
		contentType = "multipart/form-data; boundary=" + decodeBoundary
	}

	form, err := decodeBody(in, contentType, cfg.FormDecoder())
	if err != nil {
		return printer.Error(
			"could not decode body",
			err.Error(),
			[]string{"Pass the exact Content-Type header:\n  forumtap decode FILE --content-type \"multipart/form-data; boundary=...\""},
		)
	}

	if decodeOutput == "json" {
		return writeFormJSON(cmd.OutOrStdout(), form)
	}
	writeFormTable(cmd.OutOrStdout(), form)
	return nil
}

// decodeBody decodes a url-encoded body, or a multipart body whose boundary
// comes from contentType or, failing that, the first delimiter line.
func decodeBody(in io.Reader, contentType string, dec formdata.Decoder) (formdata.Form, error) {
	if classify.IsURLEncoded(contentType) {
		data, err := io.ReadAll(in)
		if err != nil {
			return nil, fmt.Errorf("read body: %w", err)
		}
		return formdata.ParseURLEncoded(string(data)).Form(), nil
	}

	boundary, ok := classify.Boundary(contentType)
	if !ok {
		if contentType != "" {
			return nil, fmt.Errorf("unsupported content type %q", contentType)
		}
		br := bufio.NewReader(in)
		if boundary, ok = sniffBoundary(br); !ok {
			return nil, fmt.Errorf("no boundary given and the body does not start with a delimiter line")
		}
		in = br
	}

	return dec.DecodeReader(in, boundary)
}

// sniffBoundary peeks at the first line of a multipart body ("--boundary").
func sniffBoundary(br *bufio.Reader) (string, bool) {
	peek, _ := br.Peek(256)
	line, _, _ := bytes.Cut(peek, []byte("\n"))
	line = bytes.TrimRight(line, "\r")
	if !bytes.HasPrefix(line, []byte("--")) || len(line) <= 2 {
		return "", false
	}
	return string(line[2:]), true
}

func sortedNames(form formdata.Form) []string {
	names := make([]string, 0, len(form))
	for name := range form {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeFormTable(w io.Writer, form formdata.Form) {
	if len(form) == 0 {
		fmt.Fprintln(w, "No fields")
		return
	}

	const row = "%-16s %-6s %-8s %s\n"
	fmt.Fprintf(w, row, "NAME", "TYPE", "SIZE", "VALUE")
	fmt.Fprintf(w, row, "----------------", "------", "--------", "----------------------------------------")
	for _, name := range sortedNames(form) {
		field := form[name]
		kind, value := "text", preview(field)
		if field.HasFilename {
			kind = "file"
		} else if field.Binary {
			kind = "binary"
		}
		fmt.Fprintf(w, row, name, kind, fmt.Sprintf("%d", len(field.Value)), value)
	}
}

// preview is the first line of a text value or the filename of a file part,
// at most 40 characters.
func preview(field formdata.Field) string {
	var s string
	switch {
	case field.HasFilename:
		s = field.Filename
		if field.ContentType != "" {
			s += " (" + field.ContentType + ")"
		}
	case field.Binary:
		return "-"
	default:
		s, _, _ = strings.Cut(field.String(), "\n")
		s = strings.TrimSpace(s)
	}
	if utf8.RuneCountInString(s) > 40 {
		return string([]rune(s)[:37]) + "..."
	}
	if s == "" {
		return "-"
	}
	return s
}

func writeFormJSON(w io.Writer, form formdata.Form) error {
	fields := make([]formdata.Field, 0, len(form))
	for _, name := range sortedNames(form) {
		fields = append(fields, form[name])
	}
	data, err := json.MarshalIndent(fields, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}
