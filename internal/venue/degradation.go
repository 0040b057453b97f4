package venue

import (
	"sync"

	"github.com/arbitrate/engine/internal/money"
)

// DegradationTracker records each venue's most recently observed
// Health and derives the edge calculator's threshold multiplier
// (spec section 4.3: "typically 1.0, raised ... while a platform is
// degraded"). Loosely grounded on the teacher's per-symbol stats
// (internal/broker's CalculateIVR); no history is kept, only the
// latest status per venue.
type DegradationTracker struct {
	mu      sync.Mutex
	status  map[string]HealthStatus
	// DegradedMultiplier is applied to the detection min-edge
	// threshold while a platform's most recent health report is
	// "degraded". Default 1.5 per spec's example.
	DegradedMultiplier money.Decimal
}

// NewDegradationTracker creates a tracker with the spec's example
// 1.5x multiplier.
func NewDegradationTracker() *DegradationTracker {
	return &DegradationTracker{
		status:             make(map[string]HealthStatus),
		DegradedMultiplier: money.MustFromFloat(1.5),
	}
}

// Observe records the latest health report for a platform.
func (d *DegradationTracker) Observe(platformID string, status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.status[platformID] = status
}

// IsDisconnected reports whether the platform's last known status is
// disconnected -- the detector skips a pair if either side is
// disconnected.
func (d *DegradationTracker) IsDisconnected(platformID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[platformID] == HealthDisconnected
}

// IsDegraded reports whether the platform's last known status is
// degraded.
func (d *DegradationTracker) IsDegraded(platformID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status[platformID] == HealthDegraded
}

// ThresholdMultiplier returns the multiplier the edge calculator
// should apply to detection_min_edge_threshold for a dislocation
// spanning buyPlatform and sellPlatform. If either side is degraded,
// the (raised) DegradedMultiplier applies; otherwise 1.0.
func (d *DegradationTracker) ThresholdMultiplier(buyPlatform, sellPlatform string) money.Decimal {
	if d.IsDegraded(buyPlatform) || d.IsDegraded(sellPlatform) {
		return d.DegradedMultiplier
	}
	return money.NewFromInt(1)
}
