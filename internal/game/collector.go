package game

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Reasons a decision was replaced by defend.
const (
	DefaultTimeout = "timeout"
	DefaultError   = "error"
	DefaultPanic   = "panic"
	DefaultInvalid = "invalid"
)

// CollectedDecision is the settled outcome of one strategy call.
type CollectedDecision struct {
	AgentID   string
	Decision  Decision
	Defaulted bool
	Reason    string
	Err       error
	Elapsed   time.Duration
}

// Collector gathers one decision per living participant concurrently. Every
// call is bounded by Timeout; any failure becomes a defend decision.
type Collector struct {
	Timeout       time.Duration
	HistoryWindow int
	logger        *zap.Logger
}

// NewCollector creates a collector.
func NewCollector(timeout time.Duration, historyWindow int, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{Timeout: timeout, HistoryWindow: historyWindow, logger: logger}
}

type decideOutcome struct {
	decision Decision
	err      error
	panicked bool
}

// Collect returns decisions for the living participants in roster order. It
// returns only after every participant has answered or timed out, and stores
// each settled decision as that participant's LastAction.
//
// Cancelling ctx does not shorten collection; turns run to completion.
func (c *Collector) Collect(ctx context.Context, m *Match) []CollectedDecision {
	alive := m.AliveAgents()
	views := make([]GameView, len(alive))
	for i, a := range alive {
		views[i] = buildView(m, a, c.HistoryWindow)
	}

	base := context.WithoutCancel(ctx)
	results := make([]CollectedDecision, len(alive))

	var wg sync.WaitGroup
	for i, a := range alive {
		wg.Add(1)
		go func(i int, a *Agent) {
			defer wg.Done()
			results[i] = c.collectOne(base, a.ID, a.strategy, views[i], m.roster)
		}(i, a)
	}
	wg.Wait()

	for i, a := range alive {
		d := results[i].Decision.clone()
		a.LastAction = &d
		if results[i].Defaulted {
			c.logger.Debug("decision defaulted to defend",
				zap.String("match_id", m.ID),
				zap.String("agent_id", a.ID),
				zap.Int("turn", m.Turn),
				zap.String("reason", results[i].Reason),
				zap.Error(results[i].Err))
		}
	}
	return results
}

func (c *Collector) collectOne(ctx context.Context, agentID string, s Strategy, view GameView, roster map[string]bool) CollectedDecision {
	start := time.Now()
	out := CollectedDecision{AgentID: agentID}

	settle := func(d Decision, reason string, err error) CollectedDecision {
		out.Elapsed = time.Since(start)
		if reason != "" {
			out.Decision = Defend()
			out.Defaulted = true
			out.Reason = reason
			out.Err = err
			return out
		}
		out.Decision = d
		return out
	}

	if s == nil {
		return settle(Decision{}, DefaultError, fmt.Errorf("agent %s has no strategy", agentID))
	}

	dctx, cancel := context.WithTimeout(ctx, c.Timeout)
	defer cancel()

	// Buffered so a strategy that answers after the deadline never blocks.
	ch := make(chan decideOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- decideOutcome{err: fmt.Errorf("strategy panic: %v", r), panicked: true}
			}
		}()
		d, err := s.Decide(dctx, view)
		ch <- decideOutcome{decision: d, err: err}
	}()

	select {
	case o := <-ch:
		switch {
		case o.panicked:
			return settle(Decision{}, DefaultPanic, o.err)
		case o.err != nil:
			if dctx.Err() != nil {
				return settle(Decision{}, DefaultTimeout, o.err)
			}
			return settle(Decision{}, DefaultError, o.err)
		}
		if err := o.decision.validate(agentID, roster); err != nil {
			return settle(Decision{}, DefaultInvalid, err)
		}
		return settle(o.decision.clone(), "", nil)
	case <-dctx.Done():
		return settle(Decision{}, DefaultTimeout, dctx.Err())
	}
}
