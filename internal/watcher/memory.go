package watcher

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
)

const maxRecords = 64

// MarketRecord is one commodity's state as seen in a cycle.
type MarketRecord struct {
	Offers   int    `json:"offers"`
	Requests int    `json:"requests"`
	Matches  uint64 `json:"matches"`
}

// CycleRecord captures what the watcher saw and did in a single cycle.
type CycleRecord struct {
	SimID   string                  `json:"sim_id"`
	Step    int                     `json:"step"`
	Markets map[string]MarketRecord `json:"markets"`
	Action  string                  `json:"action"`
	Reason  string                  `json:"reason,omitempty"`
}

// CycleMemory is a ring of recent cycle records plus the speed to restore
// after a pause the watcher made itself.
type CycleMemory struct {
	Records     []CycleRecord `json:"records"`
	PausedSpeed float64       `json:"paused_speed,omitempty"` // 0 when not paused by us
}

// LoadMemory reads the memory file from disk. Returns empty memory if not found.
func LoadMemory(path string) *CycleMemory {
	data, err := os.ReadFile(path)
	if err != nil {
		return &CycleMemory{}
	}
	var mem CycleMemory
	if err := json.Unmarshal(data, &mem); err != nil {
		slog.Warn("watcher memory corrupted, starting fresh", "path", path, "error", err)
		return &CycleMemory{}
	}
	return &mem
}

// Save writes the memory to disk.
func (m *CycleMemory) Save(path string) {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		slog.Error("failed to marshal watcher memory", "error", err)
		return
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create watcher memory dir", "error", err)
			return
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		slog.Error("failed to write watcher memory", "error", err)
	}
}

// Record adds a cycle record, trimming to maxRecords. Records from another
// simulation run are dropped first.
func (m *CycleMemory) Record(r CycleRecord) {
	if n := len(m.Records); n > 0 && m.Records[n-1].SimID != r.SimID {
		m.Records = nil
		m.PausedSpeed = 0
	}
	m.Records = append(m.Records, r)
	if len(m.Records) > maxRecords {
		m.Records = m.Records[len(m.Records)-maxRecords:]
	}
}

// Last returns the newest record.
func (m *CycleMemory) Last() (CycleRecord, bool) {
	if len(m.Records) == 0 {
		return CycleRecord{}, false
	}
	return m.Records[len(m.Records)-1], true
}

// Since returns the newest record at least steps before step.
func (m *CycleMemory) Since(simID string, step, steps int) (CycleRecord, bool) {
	for i := len(m.Records) - 1; i >= 0; i-- {
		r := m.Records[i]
		if r.SimID != simID {
			break
		}
		if step-r.Step >= steps {
			return r, true
		}
	}
	return CycleRecord{}, false
}

// RecordOf converts a snapshot into a cycle record.
func RecordOf(snap *Snapshot) CycleRecord {
	r := CycleRecord{
		SimID:   snap.Status.SimID,
		Step:    snap.Status.Step,
		Markets: make(map[string]MarketRecord, len(snap.Markets)),
	}
	for _, m := range snap.Markets {
		r.Markets[m.Commodity] = MarketRecord{Offers: m.Offers, Requests: m.Requests, Matches: m.Matches}
	}
	return r
}
