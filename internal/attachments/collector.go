// Package attachments accumulates the binary uploads that belong to one
// pending article. Uploads arrive as separate events, possibly out of order
// and possibly with slots skipped.
package attachments

import (
	"errors"
	"fmt"
	"time"

	"github.com/dyluth/forumtap/pkg/mirror"
)

var (
	// ErrFull is returned when all attachment slots are taken.
	ErrFull = errors.New("attachment collector full")

	// ErrInvalidSlot is returned for slot numbers outside 1..MaxAttachments.
	ErrInvalidSlot = errors.New("invalid attachment slot")
)

// Collector holds attachments for one pending submission. Slotted uploads
// (attach1..attach10) keep their position; uploads whose slot is unknown are
// kept in arrival order after them. Collector is not safe for concurrent use;
// its owner serializes access.
type Collector struct {
	slots     [mirror.MaxAttachments]*mirror.Attachment
	unslotted []mirror.Attachment
	now       func() time.Time
}

// New returns an empty collector. now stamps arrival times; nil means time.Now.
func New(now func() time.Time) *Collector {
	if now == nil {
		now = time.Now
	}
	return &Collector{now: now}
}

// Len returns the number of attachments collected so far.
func (c *Collector) Len() int {
	n := len(c.unslotted)
	for _, a := range c.slots {
		if a != nil {
			n++
		}
	}
	return n
}

// Append records an upload whose slot is unknown.
func (c *Collector) Append(data []byte) error {
	if c.Len() >= mirror.MaxAttachments {
		return ErrFull
	}
	c.unslotted = append(c.unslotted, c.newAttachment(0, data))
	return nil
}

// Put records an upload for a 1-based slot. A second upload for the same slot
// replaces the first and replaced reports true.
func (c *Collector) Put(slot int, data []byte) (replaced bool, err error) {
	if slot < 1 || slot > mirror.MaxAttachments {
		return false, fmt.Errorf("%w: %d (must be 1..%d)", ErrInvalidSlot, slot, mirror.MaxAttachments)
	}

	replaced = c.slots[slot-1] != nil
	if !replaced && c.Len() >= mirror.MaxAttachments {
		return false, ErrFull
	}

	a := c.newAttachment(slot, data)
	c.slots[slot-1] = &a
	return replaced, nil
}

// Drain returns the collected attachments, slotted ones by slot number then
// unslotted ones in arrival order, and empties the collector. The result is
// never nil.
func (c *Collector) Drain() []mirror.Attachment {
	out := make([]mirror.Attachment, 0, c.Len())
	for _, a := range c.slots {
		if a != nil {
			out = append(out, *a)
		}
	}
	out = append(out, c.unslotted...)
	c.Reset()
	return out
}

// Reset discards everything collected.
func (c *Collector) Reset() {
	c.slots = [mirror.MaxAttachments]*mirror.Attachment{}
	c.unslotted = nil
}

func (c *Collector) newAttachment(slot int, data []byte) mirror.Attachment {
	return mirror.Attachment{
		Slot:         slot,
		Data:         append([]byte(nil), data...),
		Size:         len(data),
		ReceivedAtMs: c.now().UnixMilli(),
	}
}

// CountMismatch reports that the number of attachments delivered differs from
// the number the form declared. It is a warning; emission still proceeds.
type CountMismatch struct {
	Declared int
	Received int
}

func (m *CountMismatch) Error() string {
	return fmt.Sprintf("attachment count mismatch: declared %d, received %d", m.Declared, m.Received)
}

// CheckCount compares a declared count with the received one. A negative
// declared count means the form did not declare one and never mismatches.
func CheckCount(declared, received int) *CountMismatch {
	if declared < 0 || declared == received {
		return nil
	}
	return &CountMismatch{Declared: declared, Received: received}
}
