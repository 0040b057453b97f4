package storage

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
)

func TestNewJSONStorageFreshStart(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir)
	require.NoError(t, err)

	_, ok, err := s.LoadRiskState()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSaveAndReloadRiskState(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir)
	require.NoError(t, err)

	snap := RiskSnapshot{
		Bankroll:           money.MustFromFloat(10000),
		DailyPnL:           money.MustFromFloat(-42.5),
		OpenPositionCount:  2,
		LastResetTimestamp: time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC),
		ActiveHaltReasons:  []string{"clock_drift"},
	}
	require.NoError(t, s.SaveRiskState(snap))

	reopened, err := NewJSONStorage(dir)
	require.NoError(t, err)

	loaded, ok, err := reopened.LoadRiskState()
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, loaded.Bankroll.Equal(snap.Bankroll))
	assert.True(t, loaded.DailyPnL.Equal(snap.DailyPnL))
	assert.Equal(t, snap.ActiveHaltReasons, loaded.ActiveHaltReasons)
	assert.Equal(t, snap.LastResetTimestamp.Unix(), loaded.LastResetTimestamp.Unix())
}

func TestLoadRiskStateAcceptsLegacySingleStringHaltReasons(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveRiskState(RiskSnapshot{Bankroll: money.MustFromFloat(10000)}))

	raw, err := os.ReadFile(filepath.Join(dir, "risk_state.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	riskState := doc["risk_state"].(map[string]any)
	riskState["active_halt_reasons"] = "daily_loss_limit"
	rewritten, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "risk_state.json"), rewritten, 0o600))

	reopened, err := NewJSONStorage(dir)
	require.NoError(t, err)
	loaded, ok, err := reopened.LoadRiskState()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, HaltReasonSet{"daily_loss_limit"}, loaded.ActiveHaltReasons)
}

func TestUpsertAndListPositions(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir)
	require.NoError(t, err)

	pos := models.Position{PositionID: "p1", PairID: "pair1", Status: models.PositionOpen}
	require.NoError(t, s.UpsertPosition(pos))

	got, ok, err := s.GetPosition("p1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, models.PositionOpen, got.Status)

	all, err := s.ListPositions()
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAppendOverrideLogIsAppendOnly(t *testing.T) {
	dir := t.TempDir()
	s, err := NewJSONStorage(dir)
	require.NoError(t, err)

	require.NoError(t, s.AppendOverrideLog(OverrideRecord{OpportunityID: "o1", Approved: true}))
	require.NoError(t, s.AppendOverrideLog(OverrideRecord{OpportunityID: "o2", Approved: false}))

	raw, err := os.ReadFile(filepath.Join(dir, "override_log.jsonl"))
	require.NoError(t, err)

	lines := splitLines(string(raw))

	var kept []string
	for _, line := range lines {
		if line != "" {
			kept = append(kept, line)
		}
	}
	require.Len(t, kept, 2)

	var r1 OverrideRecord
	require.NoError(t, json.Unmarshal([]byte(kept[0]), &r1))
	assert.Equal(t, "o1", r1.OpportunityID)
	assert.True(t, r1.Approved)

	var r2 OverrideRecord
	require.NoError(t, json.Unmarshal([]byte(kept[1]), &r2))
	assert.Equal(t, "o2", r2.OpportunityID)
	assert.False(t, r2.Approved)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
