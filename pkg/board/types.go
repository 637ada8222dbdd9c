// Package board provides the message types and the shared message board through
// which taskboard agents observe and affect each other. The board is the only
// shared mutable structure in the system: every request, response and note
// between agents is posted here, and resolved messages are moved to an archive.
package board

import (
	"fmt"
)

// Kind identifies which body variant a message carries.
type Kind string

const (
	// KindRequest asks the recipient to perform a task
	KindRequest Kind = "request"

	// KindResponse answers an earlier request or note
	KindResponse Kind = "response"

	// KindNote carries bookkeeping between agents (currently only add_dependent)
	KindNote Kind = "note"
)

// Subtype distinguishes "do the task" from "do the task because something else
// needs it first". Responses copy the subtype of the message they answer.
type Subtype string

const (
	// SubtypeExecution asks the recipient to actually perform the task
	SubtypeExecution Subtype = "execution"

	// SubtypeDependency asks the recipient to perform a prerequisite of one of the sender's tasks
	SubtypeDependency Subtype = "dependency"
)

// NoteType names the bookkeeping action a note performs.
type NoteType string

const (
	// NoteAddDependent registers the sender as a dependent of the recipient's task
	NoteAddDependent NoteType = "add_dependent"
)

// Message is a single entry on the board. It is immutable once posted; only
// its location (active or archived) changes afterwards.
type Message struct {
	ID          int64  `json:"id"`           // Assigned by the board, strictly increasing
	SenderID    string `json:"sender_id"`    // Agent that posted the message
	RecipientID string `json:"recipient_id"` // Agent the message is addressed to
	PostedAtMs  int64  `json:"posted_at_ms"` // Unix milliseconds, stamped by the board
	Body        Body   `json:"-"`            // Request, Response or Note
}

// Body is the kind-specific payload of a message. The set of implementations
// is closed: Request, Response and Note.
type Body interface {
	Kind() Kind
	isBody()
}

// Request asks the recipient to perform TaskName.
type Request struct {
	TaskName string  `json:"task_name"`
	Subtype  Subtype `json:"subtype"`
}

// Response resolves the message with id RequestID.
type Response struct {
	RequestID int64   `json:"request_id"`
	Subtype   Subtype `json:"subtype"`
	Outcome   Outcome `json:"-"`
}

// Note tells the recipient that the sender's DependentTask waits on the
// recipient's DependencyTask.
type Note struct {
	Note           NoteType `json:"note"`
	Subtype        Subtype  `json:"subtype"`
	DependencyTask string   `json:"dependency_task"` // Task name in the recipient's table
	DependentTask  string   `json:"dependent_task"`  // Task name in the sender's table
}

func (Request) Kind() Kind  { return KindRequest }
func (Response) Kind() Kind { return KindResponse }
func (Note) Kind() Kind     { return KindNote }

func (Request) isBody()  {}
func (Response) isBody() {}
func (Note) isBody()     {}

// OutcomeType identifies which outcome variant a response carries.
type OutcomeType string

const (
	// OutcomeDone reports that the task is finished
	OutcomeDone OutcomeType = "done"

	// OutcomeSplitTask reports that the task was split into ordered subtasks
	OutcomeSplitTask OutcomeType = "split_task"

	// OutcomeDependenciesNeeded reports that other agents must finish tasks first
	OutcomeDependenciesNeeded OutcomeType = "dependencies_needed"
)

// Outcome is the result carried by a Response. The set of implementations is
// closed: Done, SplitTask and DependenciesNeeded.
type Outcome interface {
	Type() OutcomeType
	isOutcome()
}

// Done reports completion.
type Done struct{}

// SplitTask replaces one execution obligation with one dependency per subtask.
type SplitTask struct {
	Subtasks []string `json:"subtasks"`
}

// DependenciesNeeded maps agent id to the ordered task names that agent must
// complete before the answered task can proceed.
type DependenciesNeeded struct {
	Dependencies map[string][]string `json:"dependencies"`
}

func (Done) Type() OutcomeType               { return OutcomeDone }
func (SplitTask) Type() OutcomeType          { return OutcomeSplitTask }
func (DependenciesNeeded) Type() OutcomeType { return OutcomeDependenciesNeeded }

func (Done) isOutcome()               {}
func (SplitTask) isOutcome()          {}
func (DependenciesNeeded) isOutcome() {}

// Kind returns the kind of the message body, or "" if the body is nil.
func (m *Message) Kind() Kind {
	if m.Body == nil {
		return ""
	}
	return m.Body.Kind()
}

// Subtype returns the subtype carried by the message body.
func (m *Message) Subtype() Subtype {
	switch b := m.Body.(type) {
	case Request:
		return b.Subtype
	case Response:
		return b.Subtype
	case Note:
		return b.Subtype
	}
	return ""
}

// Validate checks that the message is structurally well-formed.
// The ID and PostedAtMs fields are assigned by the board and are not checked.
func (m *Message) Validate() error {
	if m.SenderID == "" {
		return fmt.Errorf("sender_id cannot be empty")
	}

	if m.RecipientID == "" {
		return fmt.Errorf("recipient_id cannot be empty")
	}

	switch b := m.Body.(type) {
	case Request:
		if b.TaskName == "" {
			return fmt.Errorf("request task_name cannot be empty")
		}
		if err := b.Subtype.Validate(); err != nil {
			return fmt.Errorf("invalid request: %w", err)
		}
	case Response:
		if b.RequestID <= 0 {
			return fmt.Errorf("invalid response request_id: %d", b.RequestID)
		}
		if err := b.Subtype.Validate(); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
		if err := ValidateOutcome(b.Outcome); err != nil {
			return fmt.Errorf("invalid response: %w", err)
		}
	case Note:
		if b.Note != NoteAddDependent {
			return fmt.Errorf("unknown note type: %q", b.Note)
		}
		if b.DependencyTask == "" {
			return fmt.Errorf("note dependency_task cannot be empty")
		}
		if err := b.Subtype.Validate(); err != nil {
			return fmt.Errorf("invalid note: %w", err)
		}
	case nil:
		return fmt.Errorf("message body cannot be empty")
	default:
		return fmt.Errorf("unknown message body %T", m.Body)
	}

	return nil
}

// Validate checks if the Subtype is a valid enum value.
func (s Subtype) Validate() error {
	switch s {
	case SubtypeExecution, SubtypeDependency:
		return nil
	default:
		return fmt.Errorf("unknown subtype: %q", s)
	}
}

// ValidateOutcome checks that an outcome is one of the known variants and
// carries a usable payload.
func ValidateOutcome(o Outcome) error {
	switch v := o.(type) {
	case Done:
		return nil
	case SplitTask:
		if len(v.Subtasks) == 0 {
			return fmt.Errorf("split_task requires at least one subtask")
		}
		for i, s := range v.Subtasks {
			if s == "" {
				return fmt.Errorf("split_task subtask at index %d is empty", i)
			}
		}
		return nil
	case DependenciesNeeded:
		if len(v.Dependencies) == 0 {
			return fmt.Errorf("dependencies_needed requires at least one dependency")
		}
		for agentID, tasks := range v.Dependencies {
			if agentID == "" {
				return fmt.Errorf("dependencies_needed has an empty agent id")
			}
			if len(tasks) == 0 {
				return fmt.Errorf("dependencies_needed for agent %q lists no tasks", agentID)
			}
		}
		return nil
	case nil:
		return fmt.Errorf("outcome cannot be empty")
	default:
		return fmt.Errorf("unknown outcome %T", o)
	}
}
