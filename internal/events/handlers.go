package events

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nolan-sh/nolan/internal/common/logger"
	v1 "github.com/nolan-sh/nolan/pkg/api/v1"
)

// AgentLoader supplies the current set of agents to match against.
type AgentLoader interface {
	ListAgents(ctx context.Context) ([]v1.Agent, error)
}

// TriggerFunc dispatches a matched agent through the scheduler's ad-hoc
// trigger path so all runs share a single execution contract.
type TriggerFunc func(ctx context.Context, agentName string, event v1.Event)

// DebounceTable tracks the last trigger instant per agent. Transient, lost
// on restart.
type DebounceTable struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewDebounceTable creates an empty table.
func NewDebounceTable() *DebounceTable {
	return &DebounceTable{last: make(map[string]time.Time), now: time.Now}
}

// Allow reports whether an agent may trigger given its debounce window,
// updating the table when it may. Suppressed triggers are dropped, not
// queued.
func (d *DebounceTable) Allow(agent string, debounce time.Duration) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if last, ok := d.last[agent]; ok && now.Sub(last) < debounce {
		return false
	}
	d.last[agent] = now
	return true
}

// Dispatcher subscribes to the bus and fires event-driven agents whose
// triggers match.
type Dispatcher struct {
	bus      *Bus
	agents   AgentLoader
	trigger  TriggerFunc
	debounce *DebounceTable
	logger   *logger.Logger

	cancel func()
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(bus *Bus, agents AgentLoader, trigger TriggerFunc, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		bus:      bus,
		agents:   agents,
		trigger:  trigger,
		debounce: NewDebounceTable(),
		logger:   log.WithFields(zap.String("component", "event-dispatcher")),
	}
}

// Start begins consuming events until Stop or context cancellation.
func (d *Dispatcher) Start(ctx context.Context) {
	ch, cancel := d.bus.Subscribe()
	d.cancel = cancel

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				d.handle(ctx, event)
			}
		}
	}()
}

// Stop unsubscribes and waits for the consumer to drain.
func (d *Dispatcher) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Dispatcher) handle(ctx context.Context, event v1.Event) {
	agents, err := d.agents.ListAgents(ctx)
	if err != nil {
		d.logger.Error("failed to load agents for event dispatch", zap.Error(err))
		return
	}

	for _, agent := range agents {
		if agent.Kind != v1.AgentKindEvent || !agent.Enabled || agent.EventTrigger == nil {
			continue
		}
		if !MatchEvent(event, *agent.EventTrigger) {
			continue
		}
		if !d.debounce.Allow(agent.Name, time.Duration(agent.EventTrigger.DebounceMS)*time.Millisecond) {
			d.logger.Debug("trigger suppressed by debounce",
				zap.String("agent", agent.Name),
				zap.String("event", string(event.Kind)))
			continue
		}

		d.logger.Info("triggering event agent",
			zap.String("agent", agent.Name),
			zap.String("event", string(event.Kind)),
			zap.String("source", event.Source))
		go d.trigger(ctx, agent.Name, event)
	}
}

// MatchEvent evaluates a trigger predicate against an event. The pattern,
// when present, is applied to the JSON serialisation of the payload: a
// pattern containing '*' is a glob whose fixed segments must appear in
// order (first anchored to the start, last anchored to the end); otherwise
// the pattern must be a substring.
func MatchEvent(event v1.Event, trigger v1.EventTrigger) bool {
	if event.Kind != trigger.Kind {
		return false
	}
	if trigger.Pattern == "" {
		return true
	}

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false
	}
	return matchPattern(string(payload), trigger.Pattern)
}

func matchPattern(s, pattern string) bool {
	if !strings.Contains(pattern, "*") {
		return strings.Contains(s, pattern)
	}

	parts := strings.Split(pattern, "*")
	remaining := s
	for i, part := range parts {
		if part == "" {
			continue
		}
		switch {
		case i == 0:
			if !strings.HasPrefix(remaining, part) {
				return false
			}
			remaining = remaining[len(part):]
		case i == len(parts)-1:
			if !strings.HasSuffix(remaining, part) {
				return false
			}
		default:
			idx := strings.Index(remaining, part)
			if idx < 0 {
				return false
			}
			remaining = remaining[idx+len(part):]
		}
	}
	return true
}
