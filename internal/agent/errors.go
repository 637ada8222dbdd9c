package agent

import (
	"errors"
	"fmt"

	"github.com/dyluth/taskboard/pkg/board"
)

// ProtocolError reports a message the agent cannot legally process, such as an
// Endpoint receiving anything but Done or a split answering a dependency.
type ProtocolError struct {
	AgentID string
	Message *board.Message
	Reason  string
}

func (e *ProtocolError) Error() string {
	if e.Message == nil {
		return fmt.Sprintf("agent %s: protocol violation: %s", e.AgentID, e.Reason)
	}
	return fmt.Sprintf("agent %s: protocol violation on message %d (%s from %s): %s",
		e.AgentID, e.Message.ID, e.Message.Kind(), e.Message.SenderID, e.Reason)
}

// MissingReferentError reports a response or reply whose request id matches
// nothing the agent is tracking. It means the dependency graph is inconsistent.
type MissingReferentError struct {
	AgentID   string
	RequestID int64
	Subtype   board.Subtype
}

func (e *MissingReferentError) Error() string {
	return fmt.Sprintf("agent %s: no task tracks %s request %d", e.AgentID, e.Subtype, e.RequestID)
}

// IsProtocolError returns true if err is or wraps a *ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// IsMissingReferent returns true if err is or wraps a *MissingReferentError.
func IsMissingReferent(err error) bool {
	var me *MissingReferentError
	return errors.As(err, &me)
}
