// Package runner drives agent turns. A round loads every agent with mail,
// lets it act, and persists it again; Run repeats rounds until cancelled.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dyluth/taskboard/internal/agent"
	"github.com/dyluth/taskboard/pkg/board"
	"golang.org/x/sync/errgroup"
)

// Options configures a Runner.
type Options struct {
	InstanceName  string
	Executor      string        // Designated executor handed to every worker turn
	Concurrency   int           // Turns allowed in flight within one round (default 1)
	RoundInterval time.Duration // Delay between rounds in Run (default 2s)
	HealthAddr    string        // Health endpoint address for Run; empty disables it
	NewAgentID    func() string // Sub-agent id generator
}

// TurnResult records the outcome of one agent's turn.
type TurnResult struct {
	AgentID  string        `json:"agent_id"`
	Duration time.Duration `json:"duration_ns"`
	Err      error         `json:"-"`
}

// Failed reports whether the turn returned an error.
func (t TurnResult) Failed() bool {
	return t.Err != nil
}

// RoundReport summarises one round. Turns are listed in recipient order.
type RoundReport struct {
	Round     int64         `json:"round"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
	Turns     []TurnResult  `json:"turns"`
}

// FailedTurns returns the turns that returned an error.
func (r *RoundReport) FailedTurns() []TurnResult {
	var failed []TurnResult
	for _, t := range r.Turns {
		if t.Failed() {
			failed = append(failed, t)
		}
	}
	return failed
}

// Idle reports whether no agent had mail.
func (r *RoundReport) Idle() bool {
	return len(r.Turns) == 0
}

// Subscriber is implemented by boards that publish posted messages.
type Subscriber interface {
	SubscribeMessages(ctx context.Context) (*board.Subscription, error)
}

// Runner executes rounds against one board and store.
type Runner struct {
	board        board.Board
	store        agent.Store
	rt           *agent.Runtime
	instanceName string
	concurrency  int
	interval     time.Duration
	healthAddr   string

	mu     sync.Mutex
	rounds int64
	last   *RoundReport
}

// New creates a Runner. Executor and NewAgentID are required.
func New(b board.Board, s agent.Store, opts Options) (*Runner, error) {
	if b == nil {
		return nil, fmt.Errorf("board is required")
	}
	if s == nil {
		return nil, fmt.Errorf("store is required")
	}
	if opts.Executor == "" {
		return nil, fmt.Errorf("executor is required")
	}
	if opts.NewAgentID == nil {
		return nil, fmt.Errorf("agent id generator is required")
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.RoundInterval <= 0 {
		opts.RoundInterval = 2 * time.Second
	}

	return &Runner{
		board: b,
		store: s,
		rt: &agent.Runtime{
			Board:      b,
			Store:      s,
			NewAgentID: opts.NewAgentID,
			Executor:   opts.Executor,
		},
		instanceName: opts.InstanceName,
		concurrency:  opts.Concurrency,
		interval:     opts.RoundInterval,
		healthAddr:   opts.HealthAddr,
	}, nil
}

// LastReport returns the most recent round report, or nil before the first round.
func (r *Runner) LastReport() *RoundReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// RunRound gives one turn to every agent that currently has active mail.
// A failing turn is recorded in the report and does not stop the others;
// only failing to list recipients fails the round.
func (r *Runner) RunRound(ctx context.Context) (*RoundReport, error) {
	recipients, err := r.board.PendingRecipients(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending recipients: %w", err)
	}

	r.mu.Lock()
	r.rounds++
	report := &RoundReport{Round: r.rounds, StartedAt: time.Now()}
	r.mu.Unlock()

	r.logEvent("round_started", map[string]interface{}{
		"round":      report.Round,
		"recipients": recipients,
	})

	report.Turns = make([]TurnResult, len(recipients))

	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for i, id := range recipients {
		g.Go(func() error {
			report.Turns[i] = r.turn(ctx, id)
			return nil
		})
	}
	g.Wait()

	report.Duration = time.Since(report.StartedAt)

	r.logEvent("round_completed", map[string]interface{}{
		"round":       report.Round,
		"turns":       len(report.Turns),
		"failed":      len(report.FailedTurns()),
		"duration_ms": report.Duration.Milliseconds(),
	})

	r.mu.Lock()
	r.last = report
	r.mu.Unlock()

	return report, nil
}

// turn loads, acts and saves one agent. The agent is saved even when Act
// fails part-way, because the messages it already posted are on the board.
func (r *Runner) turn(ctx context.Context, id string) TurnResult {
	start := time.Now()
	result := TurnResult{AgentID: id}

	a, err := r.store.Load(ctx, id)
	if err != nil {
		result.Err = fmt.Errorf("failed to load agent %s: %w", id, err)
		result.Duration = time.Since(start)
		r.logTurn(result)
		return result
	}

	actErr := a.Act(ctx, r.rt)
	if err := r.store.Save(ctx, a); err != nil {
		actErr = errors.Join(actErr, fmt.Errorf("failed to save agent %s: %w", id, err))
	}

	result.Err = actErr
	result.Duration = time.Since(start)
	r.logTurn(result)
	return result
}

func (r *Runner) logTurn(t TurnResult) {
	data := map[string]interface{}{
		"agent_id":    t.AgentID,
		"duration_ms": t.Duration.Milliseconds(),
	}
	if t.Failed() {
		data["level"] = "error"
		data["error"] = t.Err.Error()
		log.Printf("[Runner] Turn for agent %s failed: %v", t.AgentID, t.Err)
		r.logEvent("turn_failed", data)
		return
	}
	r.logEvent("turn_completed", data)
}

// Run starts the health server and repeats rounds until ctx is cancelled.
// Between rounds it waits for the interval, or for a posted message when the
// board publishes them.
func (r *Runner) Run(ctx context.Context) error {
	if r.healthAddr != "" {
		pinger, _ := r.board.(Pinger)
		health := NewHealthServer(r.healthAddr, pinger, r.LastReport)
		if err := health.Start(); err != nil {
			return fmt.Errorf("failed to start health server: %w", err)
		}
		defer health.Shutdown(context.Background())
	}

	log.Printf("[Runner] Starting for instance '%s' (concurrency %d, interval %s)", r.instanceName, r.concurrency, r.interval)

	var (
		wake     <-chan *board.Message
		wakeErrs <-chan error
	)
	if sub, ok := r.board.(Subscriber); ok {
		subscription, err := sub.SubscribeMessages(ctx)
		if err != nil {
			log.Printf("[Runner] Subscription unavailable, polling only: %v", err)
		} else {
			defer subscription.Close()
			wake = subscription.Events()
			wakeErrs = subscription.Errors()
			log.Printf("[Runner] Subscribed to message_events")
		}
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.RunRound(ctx); err != nil {
			if ctx.Err() != nil {
				log.Printf("[Runner] Shutting down...")
				return nil
			}
			log.Printf("[Runner] Round failed: %v", err)
		}

		select {
		case <-ctx.Done():
			log.Printf("[Runner] Shutting down...")
			return nil
		case <-ticker.C:
		case _, ok := <-wake:
			if !ok {
				log.Printf("[Runner] Subscription closed, polling only")
				wake = nil
				continue
			}
			drain(wake)
		case err, ok := <-wakeErrs:
			if !ok {
				wakeErrs = nil
				continue
			}
			// Something was published; run a round anyway
			log.Printf("[Runner] Discarding message event: %v", err)
		}
	}
}

// drain discards queued wake-ups; one round picks up every pending message.
func drain(ch <-chan *board.Message) {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

// logEvent writes one structured JSON line. Callers may override level.
func (r *Runner) logEvent(eventType string, data map[string]interface{}) {
	data["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}
	data["component"] = "runner"
	data["event_type"] = eventType
	data["instance"] = r.instanceName

	jsonData, err := json.Marshal(data)
	if err != nil {
		log.Printf("[Runner] Failed to marshal log event: %v", err)
		return
	}

	log.Println(string(jsonData))
}
