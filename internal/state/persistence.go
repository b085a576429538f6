package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cascade-irc/client/internal/logger"
)

const schemaVersion = 1

// PersistedContext is the bounded, serializable slice of a Context's
// scrollback kept in the snapshot.
type PersistedContext struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"`
	Lines   []string `json:"lines"`
}

// PersistedDccRecord summarizes one terminal-state DCC transfer for history.
// Only terminal states (Completed/Failed/Cancelled) are ever recorded here;
// live in-flight transfers are never persisted (see SPEC_FULL.md §4.2, §6).
type PersistedDccRecord struct {
	ID          string    `json:"id"`
	Peer        string    `json:"peer"`
	Filename    string    `json:"filename"`
	Direction   string    `json:"direction"`
	State       string    `json:"state"`
	Bytes       int64     `json:"bytes"`
	CompletedAt time.Time `json:"completed_at"`
}

// Snapshot is the single JSON document written atomically to disk. It
// deliberately excludes anything non-serializable: sockets, in-flight
// transfers, and live user lists.
type Snapshot struct {
	SchemaVersion int                  `json:"schema_version"`
	Connections   []ConnectionInfo     `json:"connections"`
	LastServerKey string               `json:"last_server_key"`
	Contexts      []PersistedContext   `json:"contexts"`
	DccHistory    []PersistedDccRecord `json:"dcc_history"`
}

// Persister owns the on-disk JSON snapshot: periodic and explicit atomic
// writes, and load-with-quarantine on startup.
type Persister struct {
	path string

	mu       sync.Mutex
	snapshot Snapshot

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewPersister creates a Persister bound to path. Call Load once at startup
// before Start.
func NewPersister(path string) *Persister {
	return &Persister{path: path, stopCh: make(chan struct{})}
}

// Load reads the snapshot file if present. A malformed file is quarantined
// (renamed with a .corrupt.<unix-ts> suffix) and an empty snapshot is used
// instead of failing startup.
func (p *Persister) Load(now time.Time) (Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	data, err := os.ReadFile(p.path)
	if err != nil {
		if os.IsNotExist(err) {
			p.snapshot = Snapshot{SchemaVersion: schemaVersion}
			return p.snapshot, nil
		}
		return Snapshot{}, err
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		quarantine := fmt.Sprintf("%s.corrupt.%d", p.path, now.Unix())
		if rerr := os.Rename(p.path, quarantine); rerr != nil {
			logger.Log.Error().Err(rerr).Str("path", p.path).Msg("state: failed to quarantine corrupt snapshot")
		} else {
			logger.Log.Warn().Str("quarantined_to", quarantine).Msg("state: quarantined corrupt state file")
		}
		p.snapshot = Snapshot{SchemaVersion: schemaVersion}
		return p.snapshot, nil
	}

	p.snapshot = snap
	return snap, nil
}

// Update replaces the in-memory snapshot to be written on the next Flush.
func (p *Persister) Update(snap Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap.SchemaVersion = schemaVersion
	p.snapshot = snap
}

// Flush writes the current snapshot atomically: write to a temp file in the
// same directory, then rename over the destination.
func (p *Persister) Flush() error {
	p.mu.Lock()
	snap := p.snapshot
	p.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(p.path)
	tmp, err := os.CreateTemp(dir, ".state-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, p.path)
}

// StartAutoFlush begins a background ticker that calls Flush every interval
// until Stop is called. Flush errors are logged, not returned, since nothing
// downstream awaits this goroutine.
func (p *Persister) StartAutoFlush(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.Flush(); err != nil {
					logger.Log.Error().Err(err).Msg("state: auto-flush failed")
				}
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Stop halts the auto-flush goroutine started by StartAutoFlush.
func (p *Persister) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
