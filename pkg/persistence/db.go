package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"orchestrator/pkg/logx"
)

//nolint:gochecknoglobals // intentional singleton, matches the teacher's DB access pattern
var (
	globalDB     *sql.DB
	globalDBOnce sync.Once
	globalDBMu   sync.RWMutex
	dbLogger     *logx.Logger
)

// Initialize sets up the singleton database connection. Must be called
// once at startup before any database operations; later calls are no-ops.
func Initialize(dbPath string) error {
	var initErr error

	globalDBOnce.Do(func() {
		dbLogger = logx.NewLogger("persistence")

		db, err := InitializeDatabase(dbPath)
		if err != nil {
			initErr = err
			return
		}

		globalDB = db
		dbLogger.Info("database initialized: %s", dbPath)
	})

	return initErr
}

// GetDB returns the singleton database connection. Panics if Initialize
// has not been called, mirroring the teacher's access-before-init guard.
func GetDB() *sql.DB {
	globalDBMu.RLock()
	defer globalDBMu.RUnlock()

	if globalDB == nil {
		panic("persistence.Initialize must be called before GetDB")
	}
	return globalDB
}

// Close closes the database connection. Called during graceful shutdown.
func Close() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		err := globalDB.Close()
		globalDB = nil
		if err != nil {
			return fmt.Errorf("failed to close database: %w", err)
		}
	}
	return nil
}

// Reset closes the database and resets the singleton. Test-only.
func Reset() error {
	globalDBMu.Lock()
	defer globalDBMu.Unlock()

	if globalDB != nil {
		if err := globalDB.Close(); err != nil {
			return fmt.Errorf("failed to close database during reset: %w", err)
		}
		globalDB = nil
	}
	globalDBOnce = sync.Once{}
	dbLogger = nil
	return nil
}
