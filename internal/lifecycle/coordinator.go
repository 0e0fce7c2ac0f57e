// Package lifecycle drives the tracking core through app-lifecycle
// transitions and schedules background work with a hard time budget.
package lifecycle

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

type State string

const (
	Launching   State = "launching"
	Active      State = "active"
	Inactive    State = "inactive"
	Background  State = "background"
	Terminating State = "terminating"
)

var ErrUnknownState = errors.New("unknown lifecycle state")

// ParseState validates an externally supplied lifecycle state.
func ParseState(s string) (State, error) {
	switch State(s) {
	case Launching, Active, Inactive, Background, Terminating:
		return State(s), nil
	}
	return "", ErrUnknownState
}

// Engine is the tracking core as seen by the coordinator.
type Engine interface {
	// Flush hands buffered waypoints to the write pipeline.
	Flush(ctx context.Context) error
	// FinalFlush commits synchronously with no retries; residue lands in
	// the outbox.
	FinalFlush(ctx context.Context) error
	// ReplayOutbox re-commits deferred batches until done or cancelled.
	ReplayOutbox(ctx context.Context) error
}

type Coordinator struct {
	mu     sync.Mutex
	state  State
	engine Engine
	budget time.Duration
	wg     sync.WaitGroup
}

func NewCoordinator(engine Engine, backgroundBudget time.Duration) *Coordinator {
	if backgroundBudget <= 0 {
		backgroundBudget = 25 * time.Second
	}
	return &Coordinator{state: Launching, engine: engine, budget: backgroundBudget}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Transition applies a lifecycle event. Transitions are total: any known
// state can follow any other, matching how platforms deliver these events.
func (c *Coordinator) Transition(ctx context.Context, next State) error {
	if _, err := ParseState(string(next)); err != nil {
		return err
	}

	c.mu.Lock()
	prev := c.state
	c.state = next
	c.mu.Unlock()

	if prev == next {
		return nil
	}

	switch next {
	case Background:
		// Flush now, then replay the outbox best-effort within the budget.
		// An interrupted replay is safe: entries are idempotently
		// re-committable.
		if err := c.engine.Flush(ctx); err != nil {
			log.Printf("lifecycle: background flush: %v", err)
		}
		c.replayWithBudget()

	case Terminating:
		// Time is assumed near-zero: one synchronous attempt, no retries.
		if err := c.engine.FinalFlush(ctx); err != nil {
			log.Printf("lifecycle: terminating flush deferred to outbox: %v", err)
		}

	case Active:
		c.replayWithBudget()
	}

	return nil
}

func (c *Coordinator) replayWithBudget() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.budget)
		defer cancel()
		if err := c.engine.ReplayOutbox(ctx); err != nil {
			log.Printf("lifecycle: outbox replay stopped: %v", err)
		}
	}()
}

// Wait blocks until background replays have finished. Test helper.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
