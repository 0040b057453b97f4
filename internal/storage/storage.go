// Package storage provides the engine's JSON-file persistence: the
// risk-state singleton, the append-only override audit log, and the
// position records that the execution queue and reconciliation read
// and upsert. Grounded on the teacher's internal/storage.go
// atomic-write-with-fsync pattern (mutex-protected in-memory struct,
// temp-file-then-rename save, directory fsync), generalized from a
// single strangle position to the engine's risk ledger and position
// set.
package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/arbitrate/engine/internal/models"
	"github.com/arbitrate/engine/internal/money"
)

// Interface is the persistence contract the core consumes. Failures
// on the write paths are logged and swallowed by callers per spec
// section 7 -- runtime state is authoritative, the DB is
// crash-recovery only.
type Interface interface {
	LoadRiskState() (RiskSnapshot, bool, error)
	SaveRiskState(RiskSnapshot) error
	AppendOverrideLog(OverrideRecord) error
	ListPositions() ([]models.Position, error)
	UpsertPosition(models.Position) error
	GetPosition(positionID string) (models.Position, bool, error)
}

// RiskSnapshot is the JSON-serializable form of models.RiskState.
// Decimal fields round-trip through money.Decimal's string-based
// MarshalJSON so no precision is lost across a restart.
type RiskSnapshot struct {
	Bankroll             money.Decimal `json:"bankroll"`
	DailyPnL             money.Decimal `json:"daily_pnl"`
	OpenPositionCount     int           `json:"open_position_count"`
	TotalCapitalDeployed  money.Decimal `json:"total_capital_deployed"`
	ReservedCapital       money.Decimal `json:"reserved_capital"`
	ReservedSlots         int           `json:"reserved_slots"`
	LastResetTimestamp    time.Time     `json:"last_reset_timestamp"`
	ActiveHaltReasons     HaltReasonSet `json:"active_halt_reasons"`
	ApproachOnceFlag      bool          `json:"approach_once_flag"`
	OpenPairsApproachFlag bool          `json:"open_pairs_approach_flag"`
}

// HaltReasonSet is ActiveHaltReasons' wire type. Newer snapshots write
// it as a JSON array; per spec section 4.1 a legacy snapshot carrying
// a single bare string for active_halt_reasons must still read back
// as a one-element set rather than fail JSONStorage.load() outright.
type HaltReasonSet []string

func (h *HaltReasonSet) UnmarshalJSON(data []byte) error {
	var multi []string
	if err := json.Unmarshal(data, &multi); err == nil {
		*h = multi
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("active_halt_reasons: not a string or array of strings: %w", err)
	}
	if single == "" {
		*h = nil
		return nil
	}
	*h = HaltReasonSet{single}
	return nil
}

// OverrideRecord is one append-only audit entry written by
// process_override, approved or denied.
type OverrideRecord struct {
	At            time.Time `json:"at"`
	OpportunityID string    `json:"opportunity_id"`
	Rationale     string    `json:"rationale"`
	Approved      bool      `json:"approved"`
	CorrelationID string    `json:"correlation_id"`
}

// data is the complete JSON document persisted to the risk-state file.
type data struct {
	RiskState *RiskSnapshot               `json:"risk_state"`
	Positions map[string]models.Position  `json:"positions"`
}

// JSONStorage implements Interface using two files: a JSON document
// for risk state and positions, and a JSON-lines append-only file for
// the override audit log.
type JSONStorage struct {
	mu            sync.RWMutex
	data          *data
	stateFilePath string
	overrideLogPath string
}

// NewJSONStorage opens (or initializes) storage rooted at dir, using
// "risk_state.json" and "override_log.jsonl" within it.
func NewJSONStorage(dir string) (*JSONStorage, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	s := &JSONStorage{
		stateFilePath:   filepath.Join(dir, "risk_state.json"),
		overrideLogPath: filepath.Join(dir, "override_log.jsonl"),
		data: &data{
			Positions: make(map[string]models.Position),
		},
	}

	if _, err := os.Stat(s.stateFilePath); err == nil {
		if err := s.load(); err != nil {
			return nil, fmt.Errorf("loading storage: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("stat storage file: %w", err)
	}

	return s, nil
}

func (s *JSONStorage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.stateFilePath)
	if err != nil {
		return err
	}
	var loaded data
	if err := json.Unmarshal(raw, &loaded); err != nil {
		return err
	}
	if loaded.Positions == nil {
		loaded.Positions = make(map[string]models.Position)
	}
	s.data = &loaded
	return nil
}

// LoadRiskState returns the persisted risk snapshot, ok=false if none
// has ever been saved (fresh start).
func (s *JSONStorage) LoadRiskState() (RiskSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.RiskState == nil {
		return RiskSnapshot{}, false, nil
	}
	return *s.data.RiskState, true, nil
}

// SaveRiskState persists snap as the current risk state.
func (s *JSONStorage) SaveRiskState(snap RiskSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.RiskState = &snap
	return s.saveUnsafe()
}

// ListPositions returns every known position. Order is unspecified;
// callers needing a stable order sort by PositionID.
func (s *JSONStorage) ListPositions() ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Position, 0, len(s.data.Positions))
	for _, p := range s.data.Positions {
		out = append(out, p)
	}
	return out, nil
}

// GetPosition looks up a single position by id.
func (s *JSONStorage) GetPosition(positionID string) (models.Position, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.data.Positions[positionID]
	return p, ok, nil
}

// UpsertPosition creates or replaces a position record.
func (s *JSONStorage) UpsertPosition(pos models.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Positions[pos.PositionID] = pos
	return s.saveUnsafe()
}

// saveUnsafe writes s.data to stateFilePath via a temp-file-then-
// rename, fsyncing both the file and its parent directory so a crash
// mid-write never leaves a corrupt or partially-written document.
// Caller must hold s.mu.
func (s *JSONStorage) saveUnsafe() error {
	dir := filepath.Dir(s.stateFilePath)
	f, err := os.CreateTemp(dir, ".risk_state-*")
	if err != nil {
		return err
	}
	tmpName := f.Name()
	defer os.Remove(tmpName) // no-op once renamed away

	if err := f.Chmod(0o600); err != nil {
		f.Close()
		return fmt.Errorf("setting temp file permissions: %w", err)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, s.stateFilePath); err != nil {
		return fmt.Errorf("renaming temp file into place: %w", err)
	}
	if dirF, err := os.Open(dir); err == nil {
		_ = dirF.Sync()
		_ = dirF.Close()
	}
	return nil
}

// AppendOverrideLog appends one record to the JSON-lines audit log.
// Never rewrites or truncates -- the file is append-only by design,
// matching the spec's "append-only risk_override_log" contract.
func (s *JSONStorage) AppendOverrideLog(rec OverrideRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.overrideLogPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	if err := enc.Encode(rec); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}
