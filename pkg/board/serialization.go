package board

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Serialization helpers for messages
//
// Messages are encoded as a JSON envelope {"kind": ..., "body": {...}} so the
// closed Body and Outcome unions round-trip losslessly. In Redis a message is a
// hash whose scalar fields are stored directly and whose body is the JSON
// encoding of the variant.

type messageJSON struct {
	ID          int64           `json:"id"`
	SenderID    string          `json:"sender_id"`
	RecipientID string          `json:"recipient_id"`
	PostedAtMs  int64           `json:"posted_at_ms"`
	Kind        Kind            `json:"kind"`
	Body        json.RawMessage `json:"body"`
}

type outcomeJSON struct {
	Type         OutcomeType         `json:"type"`
	Subtasks     []string            `json:"subtasks,omitempty"`
	Dependencies map[string][]string `json:"dependencies,omitempty"`
}

type responseJSON struct {
	RequestID int64       `json:"request_id"`
	Subtype   Subtype     `json:"subtype"`
	Outcome   outcomeJSON `json:"outcome"`
}

// MarshalJSON encodes the message with a kind tag and its body.
func (m Message) MarshalJSON() ([]byte, error) {
	body, err := encodeBody(m.Body)
	if err != nil {
		return nil, err
	}

	return json.Marshal(messageJSON{
		ID:          m.ID,
		SenderID:    m.SenderID,
		RecipientID: m.RecipientID,
		PostedAtMs:  m.PostedAtMs,
		Kind:        m.Kind(),
		Body:        body,
	})
}

// UnmarshalJSON decodes a message produced by MarshalJSON.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	body, err := decodeBody(raw.Kind, raw.Body)
	if err != nil {
		return err
	}

	*m = Message{
		ID:          raw.ID,
		SenderID:    raw.SenderID,
		RecipientID: raw.RecipientID,
		PostedAtMs:  raw.PostedAtMs,
		Body:        body,
	}
	return nil
}

// MarshalJSON encodes the response with its tagged outcome.
func (r Response) MarshalJSON() ([]byte, error) {
	out, err := encodeOutcome(r.Outcome)
	if err != nil {
		return nil, err
	}
	return json.Marshal(responseJSON{
		RequestID: r.RequestID,
		Subtype:   r.Subtype,
		Outcome:   out,
	})
}

// UnmarshalJSON decodes a response produced by MarshalJSON.
func (r *Response) UnmarshalJSON(data []byte) error {
	var raw responseJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	outcome, err := decodeOutcome(raw.Outcome)
	if err != nil {
		return err
	}

	*r = Response{
		RequestID: raw.RequestID,
		Subtype:   raw.Subtype,
		Outcome:   outcome,
	}
	return nil
}

func encodeBody(b Body) (json.RawMessage, error) {
	if b == nil {
		return nil, fmt.Errorf("message body cannot be empty")
	}
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s body: %w", b.Kind(), err)
	}
	return data, nil
}

func decodeBody(kind Kind, data json.RawMessage) (Body, error) {
	switch kind {
	case KindRequest:
		var r Request
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal request body: %w", err)
		}
		return r, nil
	case KindResponse:
		var r Response
		if err := json.Unmarshal(data, &r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal response body: %w", err)
		}
		return r, nil
	case KindNote:
		var n Note
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("failed to unmarshal note body: %w", err)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unknown message kind: %q", kind)
	}
}

func encodeOutcome(o Outcome) (outcomeJSON, error) {
	switch v := o.(type) {
	case Done:
		return outcomeJSON{Type: OutcomeDone}, nil
	case SplitTask:
		return outcomeJSON{Type: OutcomeSplitTask, Subtasks: v.Subtasks}, nil
	case DependenciesNeeded:
		return outcomeJSON{Type: OutcomeDependenciesNeeded, Dependencies: v.Dependencies}, nil
	case nil:
		return outcomeJSON{}, fmt.Errorf("outcome cannot be empty")
	default:
		return outcomeJSON{}, fmt.Errorf("unknown outcome %T", o)
	}
}

func decodeOutcome(raw outcomeJSON) (Outcome, error) {
	switch raw.Type {
	case OutcomeDone:
		return Done{}, nil
	case OutcomeSplitTask:
		subtasks := raw.Subtasks
		if subtasks == nil {
			subtasks = []string{}
		}
		return SplitTask{Subtasks: subtasks}, nil
	case OutcomeDependenciesNeeded:
		deps := raw.Dependencies
		if deps == nil {
			deps = map[string][]string{}
		}
		return DependenciesNeeded{Dependencies: deps}, nil
	default:
		return nil, fmt.Errorf("unknown outcome type: %q", raw.Type)
	}
}

// MessageToHash converts a Message to a Redis hash format.
// The body is JSON-encoded into a single field.
func MessageToHash(m *Message) (map[string]interface{}, error) {
	body, err := encodeBody(m.Body)
	if err != nil {
		return nil, err
	}

	hash := map[string]interface{}{
		"id":           m.ID,
		"sender_id":    m.SenderID,
		"recipient_id": m.RecipientID,
		"posted_at_ms": m.PostedAtMs,
		"kind":         string(m.Kind()),
		"body":         string(body),
	}

	return hash, nil
}

// HashToMessage converts a Redis hash to a Message.
func HashToMessage(hash map[string]string) (*Message, error) {
	id, err := strconv.ParseInt(hash["id"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid id field: %w", err)
	}

	postedAtMs, _ := strconv.ParseInt(hash["posted_at_ms"], 10, 64)

	body, err := decodeBody(Kind(hash["kind"]), json.RawMessage(hash["body"]))
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:          id,
		SenderID:    hash["sender_id"],
		RecipientID: hash["recipient_id"],
		PostedAtMs:  postedAtMs,
		Body:        body,
	}, nil
}
