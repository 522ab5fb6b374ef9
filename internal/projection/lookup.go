package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

const lookupCacheSize = 512

// Lookups resolves label-lookup codes (achievement_level, eval_category,
// action_direction) to their display labels, with an LRU cache in front
// of the database.
//
// A missing row is not an error: the derivation substitutes the empty
// string and a warning is logged, so a late-arriving lookup row never
// blocks ingestion of the narrative it labels.
type Lookups struct {
	cache *lru.Cache[string, string]
	log   *slog.Logger
}

// NewLookups creates a label resolver. Wire Invalidate to the source
// store's lookup-changed callback so cached labels never go stale.
func NewLookups(logger *slog.Logger) *Lookups {
	cache, _ := lru.New[string, string](lookupCacheSize)
	return &Lookups{cache: cache, log: logger}
}

// Label resolves table/code to a label within tx. Misses return "".
func (l *Lookups) Label(ctx context.Context, tx *sql.Tx, table, code string) (string, error) {
	key := table + "|" + code
	if label, ok := l.cache.Get(key); ok {
		return label, nil
	}

	var label string
	err := tx.QueryRowContext(ctx,
		fmt.Sprintf("SELECT label FROM %s WHERE code = ?", table), code).Scan(&label)
	if err == sql.ErrNoRows {
		l.log.Warn("lookup miss, substituting empty label",
			slog.String("table", table),
			slog.String("code", code))
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s/%s: %w", table, code, err)
	}

	l.cache.Add(key, label)
	return label, nil
}

// Invalidate drops the cached label for table/code.
func (l *Lookups) Invalidate(table, code string) {
	l.cache.Remove(table + "|" + code)
}

// Reset drops every cached label. Wired to the source store's rollback
// callback: a label read inside a transaction that later rolls back may
// never have committed, so nothing cached during it can be trusted.
func (l *Lookups) Reset() {
	l.cache.Purge()
}
