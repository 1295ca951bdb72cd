package modelcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"

	"whisperd/internal/services"
)

const (
	manifestName = "manifest.db"
	lockName     = ".lock"

	lockRetryDelay          = 250 * time.Millisecond
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Cache is the model weight directory plus its manifest and download lock.
type Cache struct {
	dir  string
	db   *sql.DB
	lock *flock.Flock
	// held serializes holders within this process; flock alone is
	// re-entrant for a single handle.
	held chan struct{}
}

// Open creates dir when missing and opens the manifest inside it. Calling Open
// on an existing cache is safe.
func Open(dir string) (*Cache, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, services.Wrap(services.ErrConfiguration, "modelcache", "open", "cache directory not set", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "modelcache", "open", "create cache directory", err)
	}

	dbPath := filepath.Join(dir, manifestName)
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	cache := &Cache{
		dir:  dir,
		db:   db,
		lock: flock.New(filepath.Join(dir, lockName)),
		held: make(chan struct{}, 1),
	}
	if err := cache.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return cache, nil
}

// Dir returns the cache directory.
func (c *Cache) Dir() string { return c.dir }

// ManifestPath returns the manifest database location.
func (c *Cache) ManifestPath() string { return filepath.Join(c.dir, manifestName) }

// Lock takes the cross-process download lock, retrying until ctx ends. The
// returned func releases it.
func (c *Cache) Lock(ctx context.Context) (func() error, error) {
	select {
	case c.held <- struct{}{}:
	case <-ctx.Done():
		return nil, services.Wrap(services.ErrTimeout, "modelcache", "lock", "waiting for cache lock", ctx.Err())
	}
	ok, err := c.lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil || !ok {
		<-c.held
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, services.Wrap(services.ErrTimeout, "modelcache", "lock", "waiting for cache lock held by another process", ctxErr)
		}
		return nil, services.Wrap(services.ErrTransient, "modelcache", "lock", "acquire cache lock", err)
	}
	var once sync.Once
	unlock := func() error {
		var err error
		once.Do(func() {
			err = c.lock.Unlock()
			<-c.held
		})
		return err
	}
	return unlock, nil
}

// Close closes the manifest database.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		delay = min(delay*2, busyRetryMaxBackoff)
	}
	return lastErr
}
