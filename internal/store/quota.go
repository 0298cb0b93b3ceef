package store

import (
	"context"
	"log/slog"
)

// QuotaGuard sizes every payload before it is written and refuses
// writes that would blow the storage budget.
//
// Two ceilings apply: a per-value limit (one oversized aggregate cannot
// wedge the store) and a total-usage watermark pair. Past the soft
// watermark writes still land but are logged; past the critical
// watermark the emergency cleanup hook runs once and the write is
// refused. Quota refusals are never retried.
type QuotaGuard struct {
	valueLimit    int64
	softLimit     int64
	criticalLimit int64

	usage   func(context.Context) (int64, error)
	cleanup func(context.Context)
	log     *slog.Logger
}

// NewQuotaGuard wires a guard over a usage probe. cleanup may be nil.
func NewQuotaGuard(valueLimit, softLimit, criticalLimit int64, usage func(context.Context) (int64, error), cleanup func(context.Context), log *slog.Logger) *QuotaGuard {
	if log == nil {
		log = slog.Default()
	}
	return &QuotaGuard{
		valueLimit:    valueLimit,
		softLimit:     softLimit,
		criticalLimit: criticalLimit,
		usage:         usage,
		cleanup:       cleanup,
		log:           log,
	}
}

// Check admits or refuses a pending write of size bytes under key.
// A usage-probe failure never blocks the write; it is logged and the
// write proceeds.
func (g *QuotaGuard) Check(ctx context.Context, key string, size int64) error {
	if g.valueLimit > 0 && size > g.valueLimit {
		return &QuotaError{Key: key, Size: size, Limit: g.valueLimit}
	}

	if g.criticalLimit <= 0 && g.softLimit <= 0 {
		return nil
	}

	used, err := g.usage(ctx)
	if err != nil {
		g.log.Warn("quota usage probe failed", "key", key, "error", err)
		return nil
	}

	if g.criticalLimit > 0 && used+size > g.criticalLimit {
		g.log.Error("storage usage critical", "used", used, "pending", size, "limit", g.criticalLimit)
		if g.cleanup != nil {
			g.cleanup(ctx)
		}
		return &QuotaError{Key: key, Size: size, Limit: g.criticalLimit, Critical: true}
	}

	if g.softLimit > 0 && used+size > g.softLimit {
		g.log.Warn("storage usage past soft watermark", "used", used, "pending", size, "limit", g.softLimit)
	}
	return nil
}
