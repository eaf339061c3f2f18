package aggregator

import (
	"time"

	"github.com/dyluth/forumtap/internal/attachments"
	"github.com/dyluth/forumtap/internal/classify"
	"github.com/dyluth/forumtap/pkg/mirror"
)

// StateName names the aggregator's current state.
type StateName string

const (
	StateIdle        StateName = "idle"
	StatePendingNew  StateName = "pending_new"
	StatePendingEdit StateName = "pending_edit"
)

// Ticket identifies one Begin call so that its decode result or failure can
// be matched to the submission it started.
type Ticket uint64

// state is the aggregator's tagged variant: idle, pendingNew or pendingEdit.
type state interface {
	name() StateName
}

type idle struct{}

func (idle) name() StateName { return StateIdle }

// pendingNew waits for the page commit that reveals the server id.
type pendingNew struct{ *PendingSubmission }

func (pendingNew) name() StateName { return StatePendingNew }

// pendingEdit already knows its id and only waits for its own decode.
type pendingEdit struct{ *PendingSubmission }

func (pendingEdit) name() StateName { return StatePendingEdit }

// PendingSubmission is an article write or edit that has not been emitted.
type PendingSubmission struct {
	ticket    Ticket
	intent    classify.Intent
	startedAt time.Time

	// decoded is set once the form fields are known.
	decoded bool
	article mirror.Article

	collector *attachments.Collector

	// committedID holds an id revealed by a page commit that arrived while
	// the body was still being decoded.
	committedID *int64

	// previous is the state that Begin replaced. Abort restores it; a
	// successful decode discards it.
	previous state
}

// pendingOf returns the pending submission held by s, if any.
func pendingOf(s state) *PendingSubmission {
	switch st := s.(type) {
	case pendingNew:
		return st.PendingSubmission
	case pendingEdit:
		return st.PendingSubmission
	default:
		return nil
	}
}

// wrap puts a pending submission back into the variant matching its intent.
func wrap(p *PendingSubmission) state {
	if p.intent == classify.IntentEdit {
		return pendingEdit{p}
	}
	return pendingNew{p}
}
