package aggregate

import (
	"sync"
	"time"

	"github.com/wattscope/wattscope/internal/store"
)

// Pruner deletes raw readings older than the retention window. It only
// touches rows whose hour already has an hourly rollup; raw data for
// un-aggregated hours survives any cutoff. Rollup tables are never
// pruned.
type Pruner struct {
	store *store.Store

	mu            sync.Mutex
	retentionDays int
}

// NewPruner creates a pruner with the given retention window in days.
func NewPruner(st *store.Store, retentionDays int) *Pruner {
	return &Pruner{store: st, retentionDays: retentionDays}
}

// SetRetentionDays swaps the retention window. Called from the config
// watcher on hot reload.
func (p *Pruner) SetRetentionDays(days int) {
	p.mu.Lock()
	p.retentionDays = days
	p.mu.Unlock()
}

// Prune deletes eligible raw rows observed before now minus the
// retention window and reports how many were removed.
func (p *Pruner) Prune(now time.Time) (int64, error) {
	p.mu.Lock()
	days := p.retentionDays
	p.mu.Unlock()

	cutoff := now.UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	return p.store.DeleteRawBefore(cutoff, "")
}
