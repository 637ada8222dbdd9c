package commands

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/internal/printer"
	"github.com/dyluth/taskboard/pkg/board"
	"github.com/spf13/cobra"
)

var respondAs string

var respondCmd = &cobra.Command{
	Use:   "respond <requestId> done | split <a,b,...> | deps <agent=t1,t2;...>",
	Short: "Answer a request as the human executor",
	Long: `Answer a request addressed to a human agent and drop the task it created.

Outcomes:
  done                  - the task has been performed
  split <a,b,...>       - the task breaks down into ordered subtasks
  deps <agent=t1,t2;..> - the task needs other agents' tasks finished first

Examples:
  taskboard respond 12 done
  taskboard respond 12 split fetch-data,render-pdf
  taskboard respond 12 deps "db=migrate,seed;qa=smoke-test"`,
	Args: cobra.RangeArgs(2, 3),
	RunE: runRespond,
}

func init() {
	respondCmd.Flags().StringVar(&respondAs, "as", "", "Responding human agent (default: configured executor)")
	rootCmd.AddCommand(respondCmd)
}

func runRespond(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	requestID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return printer.Error(
			"invalid request id",
			fmt.Sprintf("%q is not a message id", args[0]),
			[]string{"List active messages:\n  taskboard board"},
		)
	}

	outcome, err := parseOutcome(args[1:])
	if err != nil {
		return printer.Error("invalid outcome", err.Error(), []string{"Run: taskboard respond --help"})
	}

	s, err := openSession(ctx, cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	as := respondAs
	if as == "" {
		as = s.cfg.Executor
	}
	h, err := s.loadAgent(ctx, as)
	if err != nil {
		return err
	}

	if deps, ok := outcome.(board.DependenciesNeeded); ok {
		resolved, err := s.resolveDependencies(ctx, deps.Dependencies)
		if err != nil {
			return err
		}
		outcome = board.DependenciesNeeded{Dependencies: resolved}
	}

	var responseID int64
	switch o := outcome.(type) {
	case board.Done:
		responseID, err = h.RespondDone(ctx, s.board, requestID)
	case board.SplitTask:
		responseID, err = h.RespondSplit(ctx, s.board, requestID, o.Subtasks)
	case board.DependenciesNeeded:
		responseID, err = h.RespondDependencies(ctx, s.board, requestID, o.Dependencies)
	}
	if err != nil {
		return respondError(as, requestID, err)
	}

	if err := saveResponder(ctx, s.store, h, requestID); err != nil {
		return fmt.Errorf("failed to save agent %s: %w", h.ID, err)
	}

	printer.Success("Posted response %d to request %d (%s)\n", responseID, requestID, outcome.Type())
	return nil
}

// maxSaveAttempts bounds how often a respond retries a save that raced a round.
const maxSaveAttempts = 3

// saveResponder persists h after it answered requestID. When a round saved
// the same agent in the meantime, the task drop is applied again to the
// fresh snapshot so neither write is lost.
func saveResponder(ctx context.Context, st agent.Store, h *agent.Agent, requestID int64) error {
	err := st.Save(ctx, h)
	for attempt := 1; agent.IsStaleSnapshot(err) && attempt < maxSaveAttempts; attempt++ {
		fresh, loadErr := st.Load(ctx, h.ID)
		if loadErr != nil {
			return loadErr
		}
		fresh.DropTask(requestID)
		err = st.Save(ctx, fresh)
	}
	return err
}

// resolveDependencies maps each agent reference in deps to a stored agent
// id, merging task lists when two references name the same agent.
func (s *session) resolveDependencies(ctx context.Context, deps map[string][]string) (map[string][]string, error) {
	refs := make([]string, 0, len(deps))
	for ref := range deps {
		refs = append(refs, ref)
	}
	sort.Strings(refs)

	resolved := make(map[string][]string, len(deps))
	for _, ref := range refs {
		id, err := s.resolveAgentID(ctx, ref)
		if err != nil {
			return nil, err
		}
		resolved[id] = append(resolved[id], deps[ref]...)
	}
	return resolved, nil
}

func respondError(as string, requestID int64, err error) error {
	switch {
	case errors.Is(err, agent.ErrAlreadyAnswered):
		return printer.Error(
			"request already answered",
			fmt.Sprintf("%s has already responded to request %d.", as, requestID),
			nil,
		)
	case agent.IsMissingReferent(err):
		return printer.Error(
			"request not found",
			fmt.Sprintf("Request %d is not on the active board.", requestID),
			[]string{fmt.Sprintf("List %s's tasks:\n  taskboard tasks %s", as, as)},
		)
	case agent.IsProtocolError(err):
		return printer.Error("cannot respond", err.Error(), nil)
	default:
		return fmt.Errorf("failed to respond to request %d: %w", requestID, err)
	}
}

// parseOutcome turns respond's trailing arguments into an outcome.
func parseOutcome(args []string) (board.Outcome, error) {
	kind := args[0]
	var arg string
	if len(args) > 1 {
		arg = args[1]
	}

	var outcome board.Outcome
	switch kind {
	case "done":
		if arg != "" {
			return nil, fmt.Errorf("done takes no argument, got %q", arg)
		}
		outcome = board.Done{}
	case "split":
		outcome = board.SplitTask{Subtasks: splitList(arg, ",")}
	case "deps":
		deps, err := parseDependencies(arg)
		if err != nil {
			return nil, err
		}
		outcome = board.DependenciesNeeded{Dependencies: deps}
	default:
		return nil, fmt.Errorf("unknown outcome %q (must be done, split or deps)", kind)
	}

	if err := board.ValidateOutcome(outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

// parseDependencies parses "agent=t1,t2;agent2=t3".
func parseDependencies(spec string) (map[string][]string, error) {
	deps := make(map[string][]string)
	for _, entry := range splitList(spec, ";") {
		agentID, tasks, ok := strings.Cut(entry, "=")
		agentID = strings.TrimSpace(agentID)
		if !ok || agentID == "" {
			return nil, fmt.Errorf("invalid dependency %q (expected agent=task1,task2)", entry)
		}
		deps[agentID] = append(deps[agentID], splitList(tasks, ",")...)
	}
	return deps, nil
}

func splitList(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
