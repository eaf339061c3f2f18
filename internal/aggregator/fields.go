package aggregator

import (
	"fmt"

	"github.com/dyluth/forumtap/pkg/formdata"
	"github.com/dyluth/forumtap/pkg/mirror"
)

// Form field names the forum's scripts submit.
const (
	FieldBoardID      = "bid"
	FieldBoardTitle   = "btitle"
	FieldPage         = "p"
	FieldArticleID    = "aid"
	FieldTitle        = "title"
	FieldBody         = "body"
	FieldAttachCount  = "attach-count"
	FieldAttachCountX = "attachCount" // spelling used by the extension's content scripts
	FieldRecipient    = "to"
)

// AttachField returns the form field name of a 1-based attachment slot.
func AttachField(slot int) string {
	return fmt.Sprintf("attach%d", slot)
}

// declaredAttachments reads the declared attachment count, -1 when absent.
func declaredAttachments(form formdata.Form) int {
	for _, name := range []string{FieldAttachCount, FieldAttachCountX} {
		if n, ok := form.Int(name); ok && n >= 0 {
			return int(n)
		}
	}
	return -1
}

// inlineAttachments returns the non-empty file parts carried by the form
// itself, keyed by slot.
func inlineAttachments(form formdata.Form) map[int][]byte {
	out := map[int][]byte{}
	for slot := 1; slot <= mirror.MaxAttachments; slot++ {
		field, ok := form[AttachField(slot)]
		if !ok || !field.HasFilename || len(field.Value) == 0 {
			continue
		}
		out[slot] = field.Value
	}
	return out
}

// intField reads an integer field, returning def when absent or malformed.
func intField(form formdata.Form, name string, def int64) int64 {
	if n, ok := form.Int(name); ok {
		return n
	}
	return def
}
