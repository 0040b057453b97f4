package events

import "time"

// Envelope carries the correlation and timing fields common to every
// published payload.
type Envelope struct {
	CorrelationID string    `json:"correlation_id"`
	At            time.Time `json:"at"`
}

// OpportunityIdentifiedPayload is published when the edge calculator
// finds a dislocation that clears both the negative-edge and
// below-threshold filters.
type OpportunityIdentifiedPayload struct {
	Envelope
	OpportunityID string  `json:"opportunity_id"`
	PairID        string  `json:"pair_id"`
	NetEdge       string  `json:"net_edge"`
	RecommendedSizeUSD string `json:"recommended_size_usd"`
}

// OpportunityFilteredPayload is published for a dislocation rejected
// by the edge calculator's negative-edge or below-threshold filter.
type OpportunityFilteredPayload struct {
	Envelope
	PairID string `json:"pair_id"`
	Reason string `json:"reason"` // "negative_edge" | "below_threshold"
	NetEdge string `json:"net_edge"`
}

// OrderFilledPayload is published when reconciliation discovers a
// previously-pending order has since filled at the venue.
type OrderFilledPayload struct {
	Envelope
	PositionID string `json:"position_id"`
	OrderID    string `json:"order_id"`
	Leg        string `json:"leg"` // "A" | "B"
}

// LimitApproachedPayload is published the first time effective open
// pairs crosses 80% of max_open_pairs, or daily loss crosses 80% of
// its limit, within the window the approach-once flag is set.
type LimitApproachedPayload struct {
	Envelope
	Limit   string `json:"limit"` // "open_pairs" | "daily_loss"
	Current string `json:"current"`
	Ceiling string `json:"ceiling"`
}

// LimitBreachedPayload is published when daily loss reaches or
// exceeds the configured daily_loss_pct of bankroll.
type LimitBreachedPayload struct {
	Envelope
	DailyPnL string `json:"daily_pnl"`
	LimitUSD string `json:"limit_usd"`
}

// BudgetReservedPayload is published on a successful reserve_budget.
type BudgetReservedPayload struct {
	Envelope
	ReservationID string `json:"reservation_id"`
	OpportunityID string `json:"opportunity_id"`
	AmountUSD     string `json:"amount_usd"`
}

// BudgetCommittedPayload is published when a reservation converts
// into an open position.
type BudgetCommittedPayload struct {
	Envelope
	ReservationID string `json:"reservation_id"`
}

// BudgetReleasedPayload is published when a reservation is released
// without committing (leg A or leg B did not fill).
type BudgetReleasedPayload struct {
	Envelope
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
}

// OverrideAppliedPayload is published whenever process_override
// approves an opportunity, i.e. no daily_loss_limit halt is active;
// other halts, if any, do not affect the outcome.
type OverrideAppliedPayload struct {
	Envelope
	OpportunityID string `json:"opportunity_id"`
	Rationale     string `json:"rationale"`
}

// OverrideDeniedPayload is published when process_override is
// rejected because a daily_loss_limit halt is active.
type OverrideDeniedPayload struct {
	Envelope
	OpportunityID string `json:"opportunity_id"`
	Rationale     string `json:"rationale"`
}

// SystemTradingHaltedPayload is published on the first insertion of a
// halt reason into a previously-empty halt set.
type SystemTradingHaltedPayload struct {
	Envelope
	Reason string `json:"reason"`
}

// SystemTradingResumedPayload is published when a halt reason is
// actually removed from the set.
type SystemTradingResumedPayload struct {
	Envelope
	RemovedReason     string   `json:"removed_reason"`
	RemainingReasons  []string `json:"remaining_reasons"`
}

// TimeDriftWarningPayload is published for a 100-499ms NTP drift.
type TimeDriftWarningPayload struct {
	Envelope
	DriftMs int64 `json:"drift_ms"`
}

// TimeDriftCriticalPayload is published for a 500-999ms NTP drift.
type TimeDriftCriticalPayload struct {
	Envelope
	DriftMs int64 `json:"drift_ms"`
}

// TimeDriftHaltPayload is published for a >=1000ms NTP drift, which
// also triggers a clock_drift halt.
type TimeDriftHaltPayload struct {
	Envelope
	DriftMs int64 `json:"drift_ms"`
}

// ReconciliationCompletePayload is published once startup
// reconciliation finishes all four phases, clean or not.
type ReconciliationCompletePayload struct {
	Envelope
	DiscrepancyCount int  `json:"discrepancy_count"`
	TimedOut         bool `json:"timed_out"`
}

// ReconciliationDiscrepancyPayload is published once per position
// flagged RECONCILIATION_REQUIRED.
type ReconciliationDiscrepancyPayload struct {
	Envelope
	PositionID     string `json:"position_id"`
	DiscrepancyType string `json:"discrepancy_type"`
	PlatformState  string `json:"platform_state"`
}

// SystemHealthCriticalPayload is published once per reconciliation
// run that produced at least one discrepancy.
type SystemHealthCriticalPayload struct {
	Envelope
	Reason string `json:"reason"`
}
