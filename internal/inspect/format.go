package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/pkg/board"
)

// now is replaced in tests
var now = time.Now

// FormatTable writes messages as a table: ID, KIND, SUBTYPE, FROM, TO, AGE
// and a one-line summary of the body. Returns the number of rows written.
func FormatTable(w io.Writer, msgs []*board.Message, instanceName string) int {
	if len(msgs) == 0 {
		fmt.Fprintf(w, "No active messages for instance '%s'\n", instanceName)
		return 0
	}

	fmt.Fprintf(w, "Active messages for instance '%s':\n\n", instanceName)

	const row = "%-6s %-9s %-10s %-18s %-18s %-8s %s\n"
	fmt.Fprintf(w, row, "ID", "KIND", "SUBTYPE", "FROM", "TO", "AGE", "BODY")
	fmt.Fprintf(w, row, "------", "---------", "----------", "------------------", "------------------", "--------", "----------------------------------------")

	for _, m := range msgs {
		fmt.Fprintf(w, row,
			fmt.Sprintf("%d", m.ID),
			m.Kind(),
			m.Subtype(),
			formatAgentID(m.SenderID),
			formatAgentID(m.RecipientID),
			formatAge(m.PostedAtMs),
			Summary(m),
		)
	}

	noun := "message"
	if len(msgs) != 1 {
		noun = "messages"
	}
	fmt.Fprintf(w, "\n%d %s found\n", len(msgs), noun)

	return len(msgs)
}

// FormatJSONL writes one compact JSON object per message.
func FormatJSONL(w io.Writer, msgs []*board.Message) error {
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("failed to marshal message %d to JSON: %w", m.ID, err)
		}
		if _, err := fmt.Fprintf(w, "%s\n", data); err != nil {
			return fmt.Errorf("failed to write JSONL output: %w", err)
		}
	}
	return nil
}

// FormatSingleJSON writes v as indented JSON followed by a newline.
func FormatSingleJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal to JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write JSON output: %w", err)
	}
	fmt.Fprintln(w)
	return nil
}

// FormatAgents writes stored agents as a table with task and pool counts.
func FormatAgents(w io.Writer, agents []*agent.Agent, instanceName string) int {
	if len(agents) == 0 {
		fmt.Fprintf(w, "No agents stored for instance '%s'\n", instanceName)
		return 0
	}

	const row = "%-18s %-9s %-6s %-5s %-5s %s\n"
	fmt.Fprintf(w, row, "ID", "KIND", "TASKS", "FREE", "BUSY", "SUPER")
	fmt.Fprintf(w, row, "------------------", "---------", "------", "-----", "-----", "------------------")

	for _, a := range agents {
		super := a.SuperAgentID
		if super == "" {
			super = "-"
		}
		fmt.Fprintf(w, row,
			formatAgentID(a.ID),
			a.Kind,
			fmt.Sprintf("%d", a.Tasks.Len()),
			fmt.Sprintf("%d", len(a.SubAgents.Free())),
			fmt.Sprintf("%d", len(a.SubAgents.Busy())),
			formatAgentID(super),
		)
	}

	return len(agents)
}

// FormatTasks writes an agent's tasks in table order with their obligations.
func FormatTasks(w io.Writer, a *agent.Agent) int {
	names := a.TaskNames()
	if len(names) == 0 {
		fmt.Fprintf(w, "Agent '%s' has no tasks\n", a.ID)
		return 0
	}

	fmt.Fprintf(w, "Tasks for agent '%s':\n\n", a.ID)

	const row = "%-24s %-8s %-10s %-12s %-12s %s\n"
	fmt.Fprintf(w, row, "TASK", "ORIGIN", "SUBTYPE", "EXECUTIONS", "DEPENDENCIES", "DEPENDENTS")
	fmt.Fprintf(w, row, "------------------------", "--------", "----------", "------------", "------------", "------------")

	for _, name := range names {
		rec, _ := a.Tasks.Get(name)
		fmt.Fprintf(w, row,
			truncate(name, 24),
			fmt.Sprintf("%d", rec.OriginRequestID),
			rec.Subtype,
			formatIDs(rec.ExecutionIDs),
			formatIDs(rec.DependencyIDs),
			formatIDs(rec.DependentIDs),
		)
	}

	return len(names)
}

// Summary renders a message body on one line.
func Summary(m *board.Message) string {
	switch body := m.Body.(type) {
	case board.Request:
		return truncate(body.TaskName, 40)
	case board.Note:
		return truncate(fmt.Sprintf("%s %s <- %s", body.Note, body.DependencyTask, body.DependentTask), 40)
	case board.Response:
		return truncate(fmt.Sprintf("re #%d: %s", body.RequestID, summarizeOutcome(body.Outcome)), 40)
	default:
		return "-"
	}
}

func summarizeOutcome(o board.Outcome) string {
	switch outcome := o.(type) {
	case board.SplitTask:
		return "split " + strings.Join(outcome.Subtasks, ", ")
	case board.DependenciesNeeded:
		agents := make([]string, 0, len(outcome.Dependencies))
		for id := range outcome.Dependencies {
			agents = append(agents, id)
		}
		sort.Strings(agents)

		parts := make([]string, 0, len(agents))
		for _, id := range agents {
			parts = append(parts, id+"="+strings.Join(outcome.Dependencies[id], ","))
		}
		return "deps " + strings.Join(parts, ";")
	case nil:
		return "-"
	default:
		return string(o.Type())
	}
}

// formatAgentID shortens generated ids ("agent-0192...") for table display.
func formatAgentID(id string) string {
	return truncate(id, 18)
}

func formatIDs(ids []int64) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmt.Sprintf("%d", id)
	}
	return strings.Join(parts, ",")
}

func truncate(s string, max int) string {
	if len(s) > max {
		return s[:max-3] + "..."
	}
	return s
}

// formatAge renders a unix-millisecond timestamp relative to now ("2m ago").
func formatAge(timestampMs int64) string {
	if timestampMs == 0 {
		return "-"
	}

	diff := now().Sub(time.UnixMilli(timestampMs))
	switch {
	case diff < time.Minute:
		return fmt.Sprintf("%ds ago", int(diff.Seconds()))
	case diff < time.Hour:
		return fmt.Sprintf("%dm ago", int(diff.Minutes()))
	case diff < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(diff.Hours()/24))
	}
}
