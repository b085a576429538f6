package storage

import (
	"fmt"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/cascade-irc/client/internal/logger"
	_ "github.com/mattn/go-sqlite3"
)

// Storage handles database operations for the queryable scrollback archive.
type Storage struct {
	db            *sqlx.DB
	archiveBuffer chan ArchiveEntry
	bufferSize    int
	flushInterval time.Duration
	mu            sync.RWMutex
	stopCh        chan struct{}
	wg            sync.WaitGroup
	closed        bool
	closedMu      sync.RWMutex
}

// NewStorage creates a new storage instance
func NewStorage(dbPath string, bufferSize int, flushInterval time.Duration) (*Storage, error) {
	// Enable WAL mode for better concurrent writes
	db, err := sqlx.Connect("sqlite3", dbPath+"?_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite works best with single connection in WAL mode
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	storage := &Storage{
		db:            db,
		archiveBuffer: make(chan ArchiveEntry, bufferSize),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		stopCh:        make(chan struct{}),
	}

	// Run migrations
	if err := Migrate(db); err != nil {
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	// Start background flush goroutine
	storage.wg.Add(1)
	go storage.flushLoop()

	return storage, nil
}

// Close closes the database connection and flushes remaining archive entries
func (s *Storage) Close() error {
	// Write out whatever is queued while the database is still open; every
	// later flushArchiveBuffer call sees closed and returns without writing.
	s.flushArchiveBuffer()

	s.closedMu.Lock()
	s.closed = true
	s.closedMu.Unlock()

	// Close archiveBuffer first to prevent new writes
	close(s.archiveBuffer)

	// Signal flushLoop to stop
	close(s.stopCh)

	// Wait for flushLoop to finish - it should exit quickly when stopCh is closed
	// The flushLoop will check if storage is closed before doing any database operations
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	// Wait for flushLoop to finish (with a reasonable timeout as safety net)
	select {
	case <-done:
		// flushLoop finished
	case <-time.After(500 * time.Millisecond):
		// If flushLoop is stuck in a database operation, it should have checked
		// if storage is closed and exited. If it's still running after 500ms,
		// something is wrong, but we'll continue anyway.
		logger.Log.Debug().Msg("flushLoop still running after 500ms, proceeding with database close")
	}

	// Try to flush any remaining messages, but don't block if it's slow
	// Use a goroutine with timeout to avoid blocking shutdown
	flushDone := make(chan struct{})
	go func() {
		s.flushArchiveBuffer()
		close(flushDone)
	}()

	select {
	case <-flushDone:
		// Flush completed
	case <-time.After(200 * time.Millisecond):
		// Flush is taking too long, skip it
		logger.Log.Debug().Msg("Skipping final flush due to timeout")
	}

	return s.db.Close()
}

// flushLoop periodically flushes the archive buffer
func (s *Storage) flushLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			// Storage is closing - Close has already flushed the queued entries
			s.flushArchiveBuffer()
			return
		case <-ticker.C:
			// Check if storage is closed before flushing
			s.closedMu.RLock()
			closed := s.closed
			s.closedMu.RUnlock()
			if closed {
				// Storage is closed, exit immediately
				return
			}
			s.flushArchiveBuffer()
		}
	}
}

// flushArchiveBuffer flushes all buffered scrollback archive entries to the database.
func (s *Storage) flushArchiveBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closedMu.RLock()
	closed := s.closed
	s.closedMu.RUnlock()
	if closed {
		return
	}

	if len(s.archiveBuffer) == 0 {
		return
	}

	entries := make([]ArchiveEntry, 0, s.bufferSize)
	for {
		select {
		case entry := <-s.archiveBuffer:
			entries = append(entries, entry)
		default:
			if len(entries) == 0 {
				return
			}
			s.closedMu.RLock()
			closed = s.closed
			s.closedMu.RUnlock()
			if closed {
				return
			}

			query := `INSERT INTO scrollback_archive (network, target, nick, body, kind, timestamp, raw_line)
			          VALUES (:network, :target, :nick, :body, :kind, :timestamp, :raw_line)`
			_, err := s.db.NamedExec(query, entries)
			if err != nil {
				logger.Log.Error().Err(err).Int("count", len(entries)).Msg("Error flushing scrollback archive entries")
			}
			return
		}
	}
}

// WriteArchiveEntry queues a scrollback line for the queryable archive. It
// never blocks the caller: a full buffer drops the entry (logged) rather
// than stalling the inbound dispatch path that called it.
func (s *Storage) WriteArchiveEntry(entry ArchiveEntry) error {
	s.closedMu.RLock()
	if s.closed {
		s.closedMu.RUnlock()
		return fmt.Errorf("storage is closed")
	}
	s.closedMu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			// archiveBuffer was closed concurrently with shutdown; nothing to do.
		}
	}()

	select {
	case s.archiveBuffer <- entry:
		return nil
	default:
		logger.Log.Warn().Str("network", entry.Network).Str("target", entry.Target).Msg("scrollback archive buffer full, dropping entry")
		return fmt.Errorf("archive buffer full")
	}
}

// GetArchive returns up to limit archive entries for a network/target pair,
// most recent first. An empty target matches status/server-wide lines.
func (s *Storage) GetArchive(network, target string, limit int) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	err := s.db.Select(&entries,
		`SELECT * FROM scrollback_archive
		 WHERE network = ? AND target = ?
		 ORDER BY timestamp DESC
		 LIMIT ?`,
		network, target, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get archive entries: %w", err)
	}
	return entries, nil
}

// SearchArchive returns up to limit archive entries for a network whose body
// contains needle, most recent first. Passing an empty target searches every
// target on the network.
func (s *Storage) SearchArchive(network, target, needle string, limit int) ([]ArchiveEntry, error) {
	var entries []ArchiveEntry
	like := "%" + needle + "%"
	var err error
	if target != "" {
		err = s.db.Select(&entries,
			`SELECT * FROM scrollback_archive
			 WHERE network = ? AND target = ? AND body LIKE ?
			 ORDER BY timestamp DESC
			 LIMIT ?`,
			network, target, like, limit)
	} else {
		err = s.db.Select(&entries,
			`SELECT * FROM scrollback_archive
			 WHERE network = ? AND body LIKE ?
			 ORDER BY timestamp DESC
			 LIMIT ?`,
			network, like, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to search archive entries: %w", err)
	}
	return entries, nil
}
