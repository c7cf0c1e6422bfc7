package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"nurserypos/internal/domain"
	"nurserypos/internal/store"
)

func TestRecordSaleDecrementsStockAndWritesLedger(t *testing.T) {
	databaseURL := os.Getenv("NURSERYPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NURSERYPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	nurseryID := fmt.Sprintf("nursery-sale-it-%d", stamp)
	itemID := fmt.Sprintf("item-sale-it-%d", stamp)
	code := fmt.Sprintf("PLT-IT-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transaction_items WHERE item_id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM transactions WHERE nursery_id = $1`, nurseryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_logs WHERE nursery_id = $1`, nurseryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM nurseries WHERE id = $1`, nurseryID)
	})

	if _, err := s.CreateNursery(ctx, domain.Nursery{ID: nurseryID, Name: "Integration Nursery"}); err != nil {
		t.Fatalf("create nursery: %v", err)
	}
	item, err := s.CreateItem(ctx, domain.Item{
		ID:             itemID,
		NurseryID:      nurseryID,
		Name:           "Integration Rose",
		Code:           code,
		Category:       "plant",
		Unit:           "piece",
		CostPriceCents: 9000,
		PriceCents:     14900,
		Quantity:       10,
	}, &domain.StockLog{
		Action:          domain.ActionAdded,
		QuantityChanged: 10,
		AmountCents:     90000,
		Note:            "opening stock",
	})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}

	saved, err := s.RecordSale(ctx, domain.Transaction{
		NurseryID:     nurseryID,
		PaymentMethod: "cash",
		Items: []domain.SaleLine{
			{ItemID: item.ID, Quantity: 4},
		},
	})
	if err != nil {
		t.Fatalf("record sale: %v", err)
	}
	if saved.TotalAmountCents != 4*14900 {
		t.Fatalf("expected total %d, got %d", 4*14900, saved.TotalAmountCents)
	}
	if saved.TotalProfitCents != 4*(14900-9000) {
		t.Fatalf("expected profit %d, got %d", 4*(14900-9000), saved.TotalProfitCents)
	}

	after, err := s.GetItem(ctx, nurseryID, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 6 {
		t.Fatalf("expected quantity 6 after sale, got %d", after.Quantity)
	}

	logs, err := s.ListStockLogs(ctx, nurseryID, domain.LedgerFilter{ItemID: item.ID})
	if err != nil {
		t.Fatalf("list stock logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(logs))
	}
	if logs[0].Action != domain.ActionSold || logs[0].QuantityChanged != 4 {
		t.Fatalf("expected newest entry sold/4, got %s/%d", logs[0].Action, logs[0].QuantityChanged)
	}

	// Oversell must fail cleanly and leave nothing behind.
	if _, err := s.RecordSale(ctx, domain.Transaction{
		NurseryID:     nurseryID,
		PaymentMethod: "cash",
		Items: []domain.SaleLine{
			{ItemID: item.ID, Quantity: 7},
		},
	}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	after, err = s.GetItem(ctx, nurseryID, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if after.Quantity != 6 {
		t.Fatalf("expected quantity unchanged at 6 after failed sale, got %d", after.Quantity)
	}

	quantities, err := s.LedgerQuantities(ctx, nurseryID)
	if err != nil {
		t.Fatalf("ledger quantities: %v", err)
	}
	if quantities[item.ID] != 6 {
		t.Fatalf("expected ledger sum 6, got %d", quantities[item.ID])
	}
}

func TestRemoveStockRejectsInsufficientQuantity(t *testing.T) {
	databaseURL := os.Getenv("NURSERYPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NURSERYPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	nurseryID := fmt.Sprintf("nursery-rm-it-%d", stamp)
	itemID := fmt.Sprintf("item-rm-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_logs WHERE nursery_id = $1`, nurseryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM nurseries WHERE id = $1`, nurseryID)
	})

	if _, err := s.CreateNursery(ctx, domain.Nursery{ID: nurseryID, Name: "Removal Nursery"}); err != nil {
		t.Fatalf("create nursery: %v", err)
	}
	if _, err := s.CreateItem(ctx, domain.Item{
		ID:             itemID,
		NurseryID:      nurseryID,
		Name:           "Integration Fern",
		Code:           fmt.Sprintf("PLT-RM-%d", stamp),
		Category:       "plant",
		Unit:           "piece",
		CostPriceCents: 7500,
		PriceCents:     12500,
		Quantity:       3,
	}, &domain.StockLog{
		Action:          domain.ActionAdded,
		QuantityChanged: 3,
		AmountCents:     22500,
		Note:            "opening stock",
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	if _, err := s.RemoveStock(ctx, nurseryID, itemID, 5, domain.StockLog{Note: "damaged"}); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if _, err := s.RemoveStock(ctx, nurseryID, "item-does-not-exist", 1, domain.StockLog{}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	item, err := s.RemoveStock(ctx, nurseryID, itemID, 2, domain.StockLog{Note: "damaged", AmountCents: 25000})
	if err != nil {
		t.Fatalf("remove stock: %v", err)
	}
	if item.Quantity != 1 {
		t.Fatalf("expected quantity 1 after removal, got %d", item.Quantity)
	}
}

func TestLedgerReplayRejectsUnknownAction(t *testing.T) {
	databaseURL := os.Getenv("NURSERYPOS_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set NURSERYPOS_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	nurseryID := fmt.Sprintf("nursery-act-it-%d", stamp)
	itemID := fmt.Sprintf("item-act-it-%d", stamp)
	logID := fmt.Sprintf("slog-act-it-%d", stamp)

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_logs WHERE nursery_id = $1`, nurseryID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM nurseries WHERE id = $1`, nurseryID)
	})

	if _, err := s.CreateNursery(ctx, domain.Nursery{ID: nurseryID, Name: "Action Nursery"}); err != nil {
		t.Fatalf("create nursery: %v", err)
	}
	if _, err := s.CreateItem(ctx, domain.Item{
		ID:             itemID,
		NurseryID:      nurseryID,
		Name:           "Integration Tulsi",
		Code:           fmt.Sprintf("PLT-ACT-%d", stamp),
		Category:       "plant",
		Unit:           "pot",
		CostPriceCents: 3000,
		PriceCents:     5900,
		Quantity:       5,
	}, &domain.StockLog{
		Action:          domain.ActionAdded,
		QuantityChanged: 5,
		AmountCents:     15000,
		Note:            "opening stock",
	}); err != nil {
		t.Fatalf("create item: %v", err)
	}

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_logs (
			id, nursery_id, item_id, item_name, item_code, action,
			quantity_changed, amount_cents, performed_at
		)
		VALUES ($1, $2, $3, 'Integration Tulsi', 'PLT-ACT', 'adjusted', 2, 0, now())
	`, logID, nurseryID, itemID); err != nil {
		t.Fatalf("insert unknown-action entry: %v", err)
	}

	if _, err := s.LedgerQuantities(ctx, nurseryID); !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency from ledger replay, got %v", err)
	}
	if _, err := s.CurrentStockLevels(ctx, nurseryID); !errors.Is(err, store.ErrConsistency) {
		t.Fatalf("expected ErrConsistency from stock report, got %v", err)
	}
}
