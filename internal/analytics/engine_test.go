package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nurserypos/internal/domain"
	"nurserypos/internal/store"
	"nurserypos/internal/store/memory"
)

// memoryReportCache is a ReportCache backed by a plain map, used to observe
// caching behavior without a redis instance.
type memoryReportCache struct {
	mu       sync.Mutex
	payloads map[string][]byte
	versions map[string]int64
	gets     int
	hits     int
}

func newMemoryReportCache() *memoryReportCache {
	return &memoryReportCache{
		payloads: make(map[string][]byte),
		versions: make(map[string]int64),
	}
}

func (c *memoryReportCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gets++
	payload, ok := c.payloads[key]
	if ok {
		c.hits++
	}
	return payload, ok, nil
}

func (c *memoryReportCache) Set(_ context.Context, key string, payload []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads[key] = payload
	return nil
}

func (c *memoryReportCache) Version(_ context.Context, nurseryID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.versions[nurseryID], nil
}

func (c *memoryReportCache) Bump(_ context.Context, nurseryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.versions[nurseryID]++
	return nil
}

func seedSales(t *testing.T, repo *memory.Store) {
	t.Helper()
	sales := []domain.Transaction{
		{NurseryID: "nursery-main", CashierID: "user-cashier-01", PaymentMethod: "cash", Items: []domain.SaleLine{
			{ItemID: "item-rose-01", Quantity: 3},
			{ItemID: "item-pot-01", Quantity: 2},
		}},
		{NurseryID: "nursery-main", CashierID: "user-cashier-01", PaymentMethod: "card", Items: []domain.SaleLine{
			{ItemID: "item-tulsi-01", Quantity: 3},
			{ItemID: "item-compost-01", Quantity: 1},
		}},
	}
	for i, sale := range sales {
		if _, err := repo.RecordSale(context.Background(), sale); err != nil {
			t.Fatalf("seed sale %d: %v", i, err)
		}
	}
}

func TestMonthlyRevenueAggregatesTransactions(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	engine := NewEngine(repo, nil, time.Second)

	rows, err := engine.MonthlyRevenue(context.Background(), "nursery-main")
	if err != nil {
		t.Fatalf("monthly revenue: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 month, got %d", len(rows))
	}
	want := int64(3*14900 + 2*9900 + 3*5900 + 1*19900)
	if rows[0].TotalRevenueCents != want {
		t.Fatalf("expected revenue %d, got %d", want, rows[0].TotalRevenueCents)
	}
	now := time.Now().UTC()
	if rows[0].Year != now.Year() || rows[0].Month != int(now.Month()) {
		t.Fatalf("expected current month bucket, got %d-%d", rows[0].Year, rows[0].Month)
	}
}

func TestMonthlyItemsSoldCountsQuantities(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	engine := NewEngine(repo, nil, time.Second)

	rows, err := engine.MonthlyItemsSold(context.Background(), "nursery-main")
	if err != nil {
		t.Fatalf("monthly items sold: %v", err)
	}
	if len(rows) != 1 || rows[0].TotalQuantitySold != 9 {
		t.Fatalf("expected 9 items sold in one bucket, got %+v", rows)
	}
}

func TestTopSellingItemsTieBreaksByCode(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	engine := NewEngine(repo, nil, time.Second)

	rows, err := engine.TopSellingItems(context.Background(), "nursery-main", 5)
	if err != nil {
		t.Fatalf("top selling items: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d", len(rows))
	}
	// Rose and tulsi both sold 3; the rose code sorts first.
	if rows[0].ItemCode != "PLT-ROSE-01" || rows[1].ItemCode != "PLT-TULSI-01" {
		t.Fatalf("tie-break by code violated: %s then %s", rows[0].ItemCode, rows[1].ItemCode)
	}
	if rows[0].TotalQuantitySold != 3 || rows[1].TotalQuantitySold != 3 {
		t.Fatalf("unexpected quantities: %+v", rows[:2])
	}

	limited, err := engine.TopSellingItems(context.Background(), "nursery-main", 2)
	if err != nil {
		t.Fatalf("top selling items limited: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("expected limit 2 respected, got %d", len(limited))
	}
}

func TestProfitLossForMonthUsesHalfOpenRange(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	engine := NewEngine(repo, nil, time.Second)

	now := time.Now().UTC()
	row, err := engine.ProfitLossForMonth(context.Background(), "nursery-main", now.Year(), int(now.Month()))
	if err != nil {
		t.Fatalf("profit loss: %v", err)
	}
	wantRevenue := int64(3*14900 + 2*9900 + 3*5900 + 1*19900)
	wantProfit := int64(3*(14900-9000) + 2*(9900-5500) + 3*(5900-3000) + 1*(19900-12000))
	if row.TotalRevenueCents != wantRevenue || row.TotalProfitCents != wantProfit {
		t.Fatalf("expected revenue %d profit %d, got %+v", wantRevenue, wantProfit, row)
	}

	empty, err := engine.ProfitLossForMonth(context.Background(), "nursery-main", 2020, 1)
	if err != nil {
		t.Fatalf("profit loss empty month: %v", err)
	}
	if empty.TotalRevenueCents != 0 || empty.TotalProfitCents != 0 {
		t.Fatalf("expected zero totals for empty month, got %+v", empty)
	}

	if _, err := engine.ProfitLossForMonth(context.Background(), "nursery-main", 2025, 13); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected ErrValidation for month 13, got %v", err)
	}
}

func TestReportCachingAndInvalidation(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	reportCache := newMemoryReportCache()
	engine := NewEngine(repo, reportCache, time.Minute)
	ctx := context.Background()

	first, err := engine.MonthlyRevenue(ctx, "nursery-main")
	if err != nil {
		t.Fatalf("first read: %v", err)
	}
	second, err := engine.MonthlyRevenue(ctx, "nursery-main")
	if err != nil {
		t.Fatalf("second read: %v", err)
	}
	if reportCache.hits != 1 {
		t.Fatalf("expected second read to hit the cache, hits=%d", reportCache.hits)
	}
	if len(first) != len(second) || first[0].TotalRevenueCents != second[0].TotalRevenueCents {
		t.Fatalf("cached result diverged: %+v vs %+v", first, second)
	}

	// A new sale plus invalidation must surface fresh numbers.
	if _, err := repo.RecordSale(ctx, domain.Transaction{
		NurseryID:     "nursery-main",
		PaymentMethod: "cash",
		Items:         []domain.SaleLine{{ItemID: "item-trowel-01", Quantity: 1}},
	}); err != nil {
		t.Fatalf("extra sale: %v", err)
	}
	engine.Invalidate(ctx, "nursery-main")

	third, err := engine.MonthlyRevenue(ctx, "nursery-main")
	if err != nil {
		t.Fatalf("third read: %v", err)
	}
	if third[0].TotalRevenueCents != second[0].TotalRevenueCents+13900 {
		t.Fatalf("expected invalidation to surface new sale, got %d", third[0].TotalRevenueCents)
	}
}

func TestVerifyStockConsistencyCleanAfterSales(t *testing.T) {
	repo := memory.NewSeeded()
	seedSales(t, repo)
	engine := NewEngine(repo, nil, time.Second)

	recon, err := engine.VerifyStockConsistency(context.Background(), "nursery-main")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if recon.CheckedItems != 6 {
		t.Fatalf("expected 6 checked items, got %d", recon.CheckedItems)
	}
	if len(recon.Mismatches) != 0 {
		t.Fatalf("expected no mismatches, got %+v", recon.Mismatches)
	}
}

func TestCurrentStockLevelsReplaysLedger(t *testing.T) {
	repo := memory.NewSeeded()
	engine := NewEngine(repo, nil, time.Second)
	ctx := context.Background()

	// An item written without a ledger entry drifts: cached quantity 7,
	// ledger sum 0. The report must show the ledger's answer.
	if _, err := repo.CreateItem(ctx, domain.Item{
		NurseryID:      "nursery-main",
		Name:           "Orchid",
		Code:           "PLT-ORCH-01",
		Category:       "Plant",
		Unit:           "pot",
		CostPriceCents: 20000,
		PriceCents:     34900,
		Quantity:       7,
	}, nil); err != nil {
		t.Fatalf("create drifted item: %v", err)
	}

	rows, err := engine.CurrentStockLevels(ctx, "nursery-main")
	if err != nil {
		t.Fatalf("current stock levels: %v", err)
	}
	byCode := make(map[string]int, len(rows))
	for _, row := range rows {
		byCode[row.ItemCode] = row.CurrentStock
	}
	if got, ok := byCode["PLT-ORCH-01"]; !ok || got != 0 {
		t.Fatalf("expected ledger replay 0 for drifted item, got %d (present=%v)", got, ok)
	}
	// Seeded items have opening entries, so their replay matches the
	// seeded quantities.
	if byCode["PLT-ROSE-01"] != 40 || byCode["CNT-POT-01"] != 120 {
		t.Fatalf("unexpected replayed levels: %+v", byCode)
	}

	recon, err := engine.VerifyStockConsistency(ctx, "nursery-main")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if len(recon.Mismatches) != 1 || recon.Mismatches[0].ItemCode != "PLT-ORCH-01" {
		t.Fatalf("expected the drifted item flagged, got %+v", recon.Mismatches)
	}
}

func TestTopSellingItemsDefaultLimitReturnsFive(t *testing.T) {
	repo := memory.NewSeeded()
	engine := NewEngine(repo, nil, time.Second)
	ctx := context.Background()

	if _, err := repo.RecordSale(ctx, domain.Transaction{
		NurseryID:     "nursery-main",
		CashierID:     "user-cashier-01",
		PaymentMethod: "cash",
		Items: []domain.SaleLine{
			{ItemID: "item-rose-01", Quantity: 6},
			{ItemID: "item-tulsi-01", Quantity: 5},
			{ItemID: "item-fern-01", Quantity: 4},
			{ItemID: "item-compost-01", Quantity: 3},
			{ItemID: "item-pot-01", Quantity: 2},
			{ItemID: "item-trowel-01", Quantity: 1},
		},
	}); err != nil {
		t.Fatalf("seed sale: %v", err)
	}

	rows, err := engine.TopSellingItems(ctx, "nursery-main", 0)
	if err != nil {
		t.Fatalf("top selling items: %v", err)
	}
	if len(rows) != 5 {
		t.Fatalf("expected default limit of 5 rows with 6 items sold, got %d", len(rows))
	}
	wantOrder := []string{"PLT-ROSE-01", "PLT-TULSI-01", "PLT-FERN-01", "FRT-COMP-01", "CNT-POT-01"}
	for i, code := range wantOrder {
		if rows[i].ItemCode != code {
			t.Fatalf("row %d: expected %s, got %s", i, code, rows[i].ItemCode)
		}
	}
	for _, row := range rows {
		if row.ItemCode == "TLS-TRWL-01" {
			t.Fatalf("sixth item should be dropped by the limit")
		}
	}
}
