// Package events implements the engine's publish-only event bus:
// every component that observes something noteworthy (a dislocation
// cleared threshold, a budget reservation changed hands, a halt was
// raised) publishes a typed payload and never blocks waiting for a
// subscriber to keep up. Grounded on
// monjeychiang-DES-V2's internal/events/bus.go channel-based pub/sub,
// generalized from a single untyped Event enum to the fixed set of
// named contracts this engine publishes.
package events

import "sync"

// Name identifies one of the engine's published event contracts.
// Names are part of the external interface -- the dashboard, audit
// log, and any future subscriber key off them -- so they are never
// renamed once shipped.
type Name string

const (
	OpportunityIdentified    Name = "opportunity_identified"
	OpportunityFiltered      Name = "opportunity_filtered"
	OrderFilled              Name = "order_filled"
	LimitApproached          Name = "limit_approached"
	LimitBreached            Name = "limit_breached"
	BudgetReserved           Name = "budget_reserved"
	BudgetCommitted          Name = "budget_committed"
	BudgetReleased           Name = "budget_released"
	OverrideApplied          Name = "override_applied"
	OverrideDenied           Name = "override_denied"
	SystemTradingHalted      Name = "system_trading_halted"
	SystemTradingResumed     Name = "system_trading_resumed"
	TimeDriftWarning         Name = "time_drift_warning"
	TimeDriftCritical        Name = "time_drift_critical"
	TimeDriftHalt            Name = "time_drift_halt"
	ReconciliationComplete   Name = "reconciliation_complete"
	ReconciliationDiscrepancy Name = "reconciliation_discrepancy"
	SystemHealthCritical     Name = "system_health_critical"
)

type subscriber struct {
	id int
	ch chan any
}

// Bus is a channel-based, non-blocking-publish pub/sub dispatcher.
// Publish never blocks: a subscriber whose buffer is full simply
// misses the event rather than stalling the publishing cycle, since
// the scheduler and execution queue must never back up behind a slow
// consumer (dashboard, audit log, etc).
type Bus struct {
	mu       sync.Mutex
	nextID   int
	subs     map[Name][]subscriber
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{subs: make(map[Name][]subscriber)}
}

// Subscribe registers interest in name and returns a receive channel
// of the given buffer size plus an unsubscribe function. Callers must
// invoke the returned function to release the subscription.
func (b *Bus) Subscribe(name Name, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan any, buffer)
	b.subs[name] = append(b.subs[name], subscriber{id: id, ch: ch})

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[name]
		for i, s := range subs {
			if s.id == id {
				close(s.ch)
				b.subs[name] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
	return ch, unsubscribe
}

// Publish delivers payload to every current subscriber of name. A
// subscriber whose channel is full is skipped, not blocked on.
func (b *Bus) Publish(name Name, payload any) {
	b.mu.Lock()
	subs := make([]subscriber, len(b.subs[name]))
	copy(subs, b.subs[name])
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
}
