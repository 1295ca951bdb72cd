package modelcache

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes manifest entries.
type Kind string

const (
	KindTranscription Kind = "transcription"
	KindAlignment     Kind = "alignment"
)

// Entry records that a model was loaded from this cache.
type Entry struct {
	Kind          Kind
	Name          string
	Language      string
	Device        string
	FirstLoadedAt time.Time
	LastLoadedAt  time.Time
	LoadCount     int
}

// Record upserts a load of the model described by e at the given time. The
// first load time is kept and the count increments on each call.
func (c *Cache) Record(ctx context.Context, e Entry, at time.Time) error {
	if strings.TrimSpace(string(e.Kind)) == "" || strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("record manifest entry: kind and name are required")
	}
	stamp := at.UTC().Format(time.RFC3339Nano)
	return retryOnBusy(ctx, func() error {
		_, err := c.db.ExecContext(ctx, `
INSERT INTO models (kind, name, language, device, first_loaded_at, last_loaded_at, load_count)
VALUES (?, ?, ?, ?, ?, ?, 1)
ON CONFLICT (kind, name, language, device) DO UPDATE SET
    last_loaded_at = excluded.last_loaded_at,
    load_count = models.load_count + 1`,
			string(e.Kind), e.Name, e.Language, e.Device, stamp, stamp)
		if err != nil {
			return fmt.Errorf("record manifest entry: %w", err)
		}
		return nil
	})
}

// Entries lists manifest entries ordered by kind, language, then name.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := c.db.QueryContext(ctx, `
SELECT kind, name, language, device, first_loaded_at, last_loaded_at, load_count
FROM models
ORDER BY kind DESC, language, name, device`)
	if err != nil {
		return nil, fmt.Errorf("list manifest entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e           Entry
			kind        string
			first, last string
		)
		if err := rows.Scan(&kind, &e.Name, &e.Language, &e.Device, &first, &last, &e.LoadCount); err != nil {
			return nil, fmt.Errorf("scan manifest entry: %w", err)
		}
		e.Kind = Kind(kind)
		if e.FirstLoadedAt, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, fmt.Errorf("parse first_loaded_at: %w", err)
		}
		if e.LastLoadedAt, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("parse last_loaded_at: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
