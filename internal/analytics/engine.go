package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"nurserypos/internal/cache"
	"nurserypos/internal/domain"
	"nurserypos/internal/store"
)

// Engine serves the reporting reads. Results are cached per nursery under
// a versioned key: mutations call Invalidate, which bumps the nursery's
// cache generation and orphans every stale payload at once. Cache failures
// degrade to direct repository reads, never to request failures.
type Engine struct {
	repo     store.Repository
	reports  cache.ReportCache
	cacheTTL time.Duration
}

func NewEngine(repo store.Repository, reportCache cache.ReportCache, cacheTTL time.Duration) *Engine {
	if reportCache == nil {
		reportCache = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		repo:     repo,
		reports:  reportCache,
		cacheTTL: cacheTTL,
	}
}

func (e *Engine) Invalidate(ctx context.Context, nurseryID string) {
	if err := e.reports.Bump(ctx, nurseryID); err != nil {
		log.Printf("[analytics] WARN: failed to bump report cache for %s: %v", nurseryID, err)
	}
}

func cached[T any](ctx context.Context, e *Engine, nurseryID string, name string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T

	version, err := e.reports.Version(ctx, nurseryID)
	if err != nil {
		log.Printf("[analytics] WARN: report cache version unavailable: %v", err)
		return fetch(ctx)
	}
	key := fmt.Sprintf("nurserypos:reports:%s:v%d:%s", nurseryID, version, name)

	if payload, ok, err := e.reports.Get(ctx, key); err == nil && ok {
		var value T
		if err := json.Unmarshal(payload, &value); err == nil {
			return value, nil
		}
	} else if err != nil {
		log.Printf("[analytics] WARN: report cache read failed: %v", err)
	}

	value, err := fetch(ctx)
	if err != nil {
		return zero, err
	}

	if payload, err := json.Marshal(value); err == nil {
		if err := e.reports.Set(ctx, key, payload, e.cacheTTL); err != nil {
			log.Printf("[analytics] WARN: report cache write failed: %v", err)
		}
	}
	return value, nil
}

func (e *Engine) MonthlyRevenue(ctx context.Context, nurseryID string) ([]domain.MonthlyRevenueRow, error) {
	return cached(ctx, e, nurseryID, "monthly-revenue", func(ctx context.Context) ([]domain.MonthlyRevenueRow, error) {
		return e.repo.MonthlyRevenue(ctx, nurseryID)
	})
}

func (e *Engine) MonthlyItemsSold(ctx context.Context, nurseryID string) ([]domain.MonthlyItemsSoldRow, error) {
	return cached(ctx, e, nurseryID, "monthly-items-sold", func(ctx context.Context) ([]domain.MonthlyItemsSoldRow, error) {
		return e.repo.MonthlyItemsSold(ctx, nurseryID)
	})
}

func (e *Engine) TopSellingItems(ctx context.Context, nurseryID string, limit int) ([]domain.TopSellingItemRow, error) {
	if limit < 1 {
		limit = 5
	}
	return cached(ctx, e, nurseryID, fmt.Sprintf("top-selling-items:%d", limit), func(ctx context.Context) ([]domain.TopSellingItemRow, error) {
		return e.repo.TopSellingItems(ctx, nurseryID, limit)
	})
}

func (e *Engine) CurrentStockLevels(ctx context.Context, nurseryID string) ([]domain.StockLevelRow, error) {
	return cached(ctx, e, nurseryID, "current-stock-levels", func(ctx context.Context) ([]domain.StockLevelRow, error) {
		return e.repo.CurrentStockLevels(ctx, nurseryID)
	})
}

func (e *Engine) MonthlyProfitLoss(ctx context.Context, nurseryID string) ([]domain.ProfitLossRow, error) {
	return cached(ctx, e, nurseryID, "monthly-profit-loss", func(ctx context.Context) ([]domain.ProfitLossRow, error) {
		return e.repo.MonthlyProfitLoss(ctx, nurseryID)
	})
}

// ProfitLossForMonth aggregates over the half-open range
// [first of month, first of next month), so month boundaries never double
// count a transaction.
func (e *Engine) ProfitLossForMonth(ctx context.Context, nurseryID string, year int, month int) (*domain.ProfitLossRow, error) {
	if year < 2000 || year > 2200 || month < 1 || month > 12 {
		return nil, store.ErrValidation
	}
	from := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	return cached(ctx, e, nurseryID, fmt.Sprintf("profit-loss:%04d-%02d", year, month), func(ctx context.Context) (*domain.ProfitLossRow, error) {
		return e.repo.ProfitLossBetween(ctx, nurseryID, from, to)
	})
}

// VerifyStockConsistency replays the ledger and compares the signed sums
// against the cached item quantities. Archived items are included: their
// history still has to reconcile.
func (e *Engine) VerifyStockConsistency(ctx context.Context, nurseryID string) (*domain.ReconciliationReport, error) {
	items, err := e.repo.ListItems(ctx, nurseryID, true)
	if err != nil {
		return nil, err
	}
	ledger, err := e.repo.LedgerQuantities(ctx, nurseryID)
	if err != nil {
		return nil, err
	}

	report := &domain.ReconciliationReport{
		NurseryID:    nurseryID,
		CheckedItems: len(items),
		Mismatches:   []domain.StockMismatch{},
		CheckedAt:    time.Now().UTC().Format(time.RFC3339),
	}
	for _, item := range items {
		ledgerQty := ledger[item.ID]
		if ledgerQty != item.Quantity {
			report.Mismatches = append(report.Mismatches, domain.StockMismatch{
				ItemCode:       item.Code,
				Name:           item.Name,
				CachedQuantity: item.Quantity,
				LedgerQuantity: ledgerQty,
			})
		}
	}
	if len(report.Mismatches) > 0 {
		log.Printf("[analytics] WARN: stock reconciliation found %d mismatches for %s", len(report.Mismatches), nurseryID)
	}
	return report, nil
}
