package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"nurserypos/internal/domain"
	"nurserypos/internal/store"
	"nurserypos/internal/xid"
)

// Store is the in-memory Repository used for dev/demo mode and tests.
// A single write lock spans validate-and-apply for every mutating
// operation, so multi-write operations (item + ledger entry, or a whole
// sale) are atomic and concurrent sales cannot oversell.
type Store struct {
	mu               sync.RWMutex
	nurseries        map[string]domain.Nursery
	items            map[string]domain.Item
	stockLogs        []domain.StockLog
	transactionsByID map[string]*domain.Transaction
	usersByEmail     map[string]domain.UserAccount
}

const seedNurseryID = "nursery-main"

// seedUsers builds the initial in-memory accounts for dev/demo mode.
// Credentials are read from SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	managerPwd := envOr("SEED_MANAGER_PASSWORD", "manager123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_MANAGER_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		id       string
		fullName string
		email    string
		password string
		role     string
	}{
		{"user-manager-01", "Maya Fernandes", "manager@greenvalley.test", managerPwd, domain.RoleManager},
		{"user-cashier-01", "Arun Pillai", "cashier@greenvalley.test", cashierPwd, domain.RoleCashier},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.email, err)
		}
		users[u.email] = domain.UserAccount{
			ID:        u.id,
			NurseryID: seedNurseryID,
			FullName:  u.fullName,
			Email:     u.email,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	now := time.Now().UTC()

	nursery := domain.Nursery{
		ID:            seedNurseryID,
		Name:          "Green Valley Nursery",
		Address:       "14 Hillside Road",
		ContactNumber: "+91-98400-11223",
		Email:         "hello@greenvalley.test",
		ManagerID:     "user-manager-01",
		CreatedAt:     now,
	}

	seedItems := []domain.Item{
		{ID: "item-rose-01", Name: "Rose Bush", Code: "PLT-ROSE-01", Category: "Plant", SubCategory: "Flowering", Unit: "pot", CostPriceCents: 9000, PriceCents: 14900, Quantity: 40},
		{ID: "item-tulsi-01", Name: "Tulsi Sapling", Code: "PLT-TULSI-01", Category: "Plant", SubCategory: "Herb", Unit: "pot", CostPriceCents: 3000, PriceCents: 5900, Quantity: 60},
		{ID: "item-fern-01", Name: "Boston Fern", Code: "PLT-FERN-01", Category: "Plant", SubCategory: "Foliage", Unit: "pot", CostPriceCents: 7500, PriceCents: 12500, Quantity: 25},
		{ID: "item-compost-01", Name: "Organic Compost 5kg", Code: "FRT-COMP-01", Category: "Fertilizer", Unit: "bag", CostPriceCents: 12000, PriceCents: 19900, Quantity: 80},
		{ID: "item-pot-01", Name: "Terracotta Pot 8in", Code: "CNT-POT-01", Category: "Container", Unit: "piece", CostPriceCents: 5500, PriceCents: 9900, Quantity: 120},
		{ID: "item-trowel-01", Name: "Hand Trowel", Code: "TLS-TRWL-01", Category: "Tool", Unit: "piece", CostPriceCents: 8000, PriceCents: 13900, Quantity: 30},
	}

	items := make(map[string]domain.Item, len(seedItems))
	logs := make([]domain.StockLog, 0, len(seedItems))
	for _, it := range seedItems {
		it.NurseryID = seedNurseryID
		it.CreatedAt = now
		it.UpdatedAt = now
		items[it.ID] = it
		logs = append(logs, domain.StockLog{
			ID:              xid.New("slog"),
			NurseryID:       seedNurseryID,
			ItemID:          it.ID,
			ItemName:        it.Name,
			ItemCode:        it.Code,
			Action:          domain.ActionAdded,
			QuantityChanged: it.Quantity,
			AmountCents:     it.CostPriceCents * int64(it.Quantity),
			PerformedBy:     "user-manager-01",
			PerformedAt:     now,
			Note:            "opening stock",
		})
	}

	return &Store{
		nurseries:        map[string]domain.Nursery{nursery.ID: nursery},
		items:            items,
		stockLogs:        logs,
		transactionsByID: make(map[string]*domain.Transaction),
		usersByEmail:     seedUsers(),
	}
}

func NewEmpty() *Store {
	return &Store{
		nurseries:        make(map[string]domain.Nursery),
		items:            make(map[string]domain.Item),
		stockLogs:        make([]domain.StockLog, 0, 128),
		transactionsByID: make(map[string]*domain.Transaction),
		usersByEmail:     make(map[string]domain.UserAccount),
	}
}

func (s *Store) CreateNursery(_ context.Context, nursery domain.Nursery) (*domain.Nursery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nursery.Name == "" {
		return nil, store.ErrValidation
	}
	if nursery.ID == "" {
		nursery.ID = xid.New("nursery")
	}
	if nursery.CreatedAt.IsZero() {
		nursery.CreatedAt = time.Now().UTC()
	}
	if _, exists := s.nurseries[nursery.ID]; exists {
		return nil, store.ErrConflict
	}

	s.nurseries[nursery.ID] = nursery
	created := nursery
	return &created, nil
}

func (s *Store) GetNurseryByID(_ context.Context, nurseryID string) (*domain.Nursery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nursery, exists := s.nurseries[nurseryID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyNursery := nursery
	return &copyNursery, nil
}

func (s *Store) ListNurseries(_ context.Context) ([]domain.Nursery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nurseries := make([]domain.Nursery, 0, len(s.nurseries))
	for _, n := range s.nurseries {
		nurseries = append(nurseries, n)
	}
	slices.SortFunc(nurseries, func(a, b domain.Nursery) int {
		return cmpString(a.Name, b.Name)
	})
	return nurseries, nil
}

func (s *Store) CreateItem(_ context.Context, item domain.Item, entry *domain.StockLog) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.NurseryID == "" || item.Name == "" || item.Code == "" || item.Category == "" {
		return nil, store.ErrValidation
	}
	if item.PriceCents < 0 || item.CostPriceCents < 0 || item.Quantity < 0 {
		return nil, store.ErrValidation
	}
	if _, exists := s.nurseries[item.NurseryID]; !exists {
		return nil, store.ErrNotFound
	}
	for _, existing := range s.items {
		if existing.NurseryID == item.NurseryID && strings.EqualFold(existing.Code, item.Code) {
			return nil, store.ErrValidation
		}
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	s.items[item.ID] = item
	if entry != nil {
		e := *entry
		e.NurseryID = item.NurseryID
		e.ItemID = item.ID
		e.ItemName = item.Name
		e.ItemCode = item.Code
		s.appendLogLocked(e)
	}
	created := item
	return &created, nil
}

func (s *Store) GetItem(_ context.Context, nurseryID string, itemID string) (*domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) ListItems(_ context.Context, nurseryID string, includeArchived bool) ([]domain.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.Item, 0, len(s.items))
	for _, it := range s.items {
		if it.NurseryID != nurseryID {
			continue
		}
		if it.Archived && !includeArchived {
			continue
		}
		items = append(items, it)
	}
	slices.SortFunc(items, func(a, b domain.Item) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})
	return items, nil
}

func (s *Store) UpdateItemPrices(_ context.Context, nurseryID string, itemID string, price *int64, cost *int64) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID {
		return nil, store.ErrNotFound
	}
	if price == nil && cost == nil {
		return nil, store.ErrValidation
	}
	if price != nil {
		if *price < 0 {
			return nil, store.ErrValidation
		}
		item.PriceCents = *price
	}
	if cost != nil {
		if *cost < 0 {
			return nil, store.ErrValidation
		}
		item.CostPriceCents = *cost
	}
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	updated := item
	return &updated, nil
}

func (s *Store) AddStock(_ context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 {
		return nil, store.ErrValidation
	}
	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID || item.Archived {
		return nil, store.ErrNotFound
	}

	item.Quantity += quantity
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item

	entry.NurseryID = nurseryID
	entry.ItemID = itemID
	entry.ItemName = item.Name
	entry.ItemCode = item.Code
	entry.Action = domain.ActionAdded
	entry.QuantityChanged = quantity
	s.appendLogLocked(entry)

	updated := item
	return &updated, nil
}

func (s *Store) RemoveStock(_ context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 1 {
		return nil, store.ErrValidation
	}
	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID {
		return nil, store.ErrNotFound
	}
	if item.Quantity < quantity {
		return nil, store.ErrInsufficientStock
	}

	item.Quantity -= quantity
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item

	entry.NurseryID = nurseryID
	entry.ItemID = itemID
	entry.ItemName = item.Name
	entry.ItemCode = item.Code
	entry.Action = domain.ActionRemoved
	entry.QuantityChanged = quantity
	s.appendLogLocked(entry)

	updated := item
	return &updated, nil
}

func (s *Store) ArchiveItem(_ context.Context, nurseryID string, itemID string) (*domain.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID {
		return nil, store.ErrNotFound
	}
	item.Archived = true
	item.UpdatedAt = time.Now().UTC()
	s.items[itemID] = item
	updated := item
	return &updated, nil
}

// DeleteItem hard-deletes an item only when no ledger entries or transaction
// lines reference it. Items with history must be archived instead.
func (s *Store) DeleteItem(_ context.Context, nurseryID string, itemID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[itemID]
	if !exists || item.NurseryID != nurseryID {
		return store.ErrNotFound
	}
	for _, entry := range s.stockLogs {
		if entry.ItemID == itemID {
			return store.ErrConflict
		}
	}
	for _, tx := range s.transactionsByID {
		for _, line := range tx.Items {
			if line.ItemID == itemID {
				return store.ErrConflict
			}
		}
	}

	delete(s.items, itemID)
	return nil
}

func (s *Store) appendLogLocked(entry domain.StockLog) {
	if entry.ID == "" {
		entry.ID = xid.New("slog")
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	s.stockLogs = append(s.stockLogs, entry)
}

func (s *Store) ListStockLogs(_ context.Context, nurseryID string, filter domain.LedgerFilter) ([]domain.StockLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockLog, 0, 64)
	for _, entry := range s.stockLogs {
		if entry.NurseryID != nurseryID {
			continue
		}
		if filter.ItemID != "" && entry.ItemID != filter.ItemID {
			continue
		}
		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}
		if !filter.From.IsZero() && entry.PerformedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !entry.PerformedAt.Before(filter.To) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.StockLog) int {
		if a.PerformedAt.Equal(b.PerformedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.PerformedAt.After(b.PerformedAt) {
			return -1
		}
		return 1
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(result) {
			return []domain.StockLog{}, nil
		}
		result = result[filter.Offset:]
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// RecordSale validates every line against current stock and applies the
// decrements, sold ledger entries, and the transaction record under one
// lock hold, so a failed line leaves no partial writes behind.
func (s *Store) RecordSale(_ context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(tx.Items) == 0 || tx.NurseryID == "" {
		return nil, store.ErrValidation
	}
	if _, exists := s.nurseries[tx.NurseryID]; !exists {
		return nil, store.ErrNotFound
	}

	seen := make(map[string]bool, len(tx.Items))
	recomputed := make([]domain.SaleLine, 0, len(tx.Items))
	totalAmount := int64(0)
	totalProfit := int64(0)
	for _, line := range tx.Items {
		if line.Quantity < 1 || line.ItemID == "" {
			return nil, store.ErrValidation
		}
		if seen[line.ItemID] {
			return nil, store.ErrValidation
		}
		seen[line.ItemID] = true

		item, exists := s.items[line.ItemID]
		if !exists || item.NurseryID != tx.NurseryID || item.Archived {
			return nil, store.ErrNotFound
		}
		if item.Quantity < line.Quantity {
			return nil, store.ErrInsufficientStock
		}
		recomputed = append(recomputed, domain.SaleLine{
			ItemID:         item.ID,
			ItemName:       item.Name,
			Quantity:       line.Quantity,
			UnitPriceCents: item.PriceCents,
			UnitCostCents:  item.CostPriceCents,
		})
		totalAmount += int64(line.Quantity) * item.PriceCents
		totalProfit += int64(line.Quantity) * (item.PriceCents - item.CostPriceCents)
	}

	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.Items = recomputed
	tx.TotalAmountCents = totalAmount
	tx.TotalProfitCents = totalProfit
	tx.CreatedAt = now

	for _, line := range recomputed {
		item := s.items[line.ItemID]
		item.Quantity -= line.Quantity
		item.UpdatedAt = now
		s.items[line.ItemID] = item

		s.appendLogLocked(domain.StockLog{
			NurseryID:       tx.NurseryID,
			ItemID:          line.ItemID,
			ItemName:        line.ItemName,
			ItemCode:        item.Code,
			Action:          domain.ActionSold,
			QuantityChanged: line.Quantity,
			AmountCents:     int64(line.Quantity) * line.UnitPriceCents,
			PerformedBy:     tx.CashierID,
			PerformedAt:     now,
			Note:            "sale " + tx.ID,
		})
	}

	stored := tx
	s.transactionsByID[tx.ID] = &stored
	return cloneTransaction(&stored), nil
}

func (s *Store) GetTransaction(_ context.Context, nurseryID string, transactionID string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.transactionsByID[transactionID]
	if !exists || tx.NurseryID != nurseryID {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, nurseryID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Transaction, 0, 64)
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		if !from.IsZero() && tx.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && !tx.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cloneTransaction(tx))
	}
	slices.SortFunc(result, func(a, b domain.Transaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

type monthKey struct {
	year  int
	month int
}

func (s *Store) MonthlyRevenue(_ context.Context, nurseryID string) ([]domain.MonthlyRevenueRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMonth := map[monthKey]int64{}
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		key := monthKey{tx.CreatedAt.Year(), int(tx.CreatedAt.Month())}
		byMonth[key] += tx.TotalAmountCents
	}

	rows := make([]domain.MonthlyRevenueRow, 0, len(byMonth))
	for key, total := range byMonth {
		rows = append(rows, domain.MonthlyRevenueRow{Year: key.year, Month: key.month, TotalRevenueCents: total})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year == rows[j].Year {
			return rows[i].Month < rows[j].Month
		}
		return rows[i].Year < rows[j].Year
	})
	return rows, nil
}

func (s *Store) MonthlyItemsSold(_ context.Context, nurseryID string) ([]domain.MonthlyItemsSoldRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMonth := map[monthKey]int64{}
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		key := monthKey{tx.CreatedAt.Year(), int(tx.CreatedAt.Month())}
		for _, line := range tx.Items {
			byMonth[key] += int64(line.Quantity)
		}
	}

	rows := make([]domain.MonthlyItemsSoldRow, 0, len(byMonth))
	for key, total := range byMonth {
		rows = append(rows, domain.MonthlyItemsSoldRow{Year: key.year, Month: key.month, TotalQuantitySold: total})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year == rows[j].Year {
			return rows[i].Month < rows[j].Month
		}
		return rows[i].Year < rows[j].Year
	})
	return rows, nil
}

func (s *Store) TopSellingItems(_ context.Context, nurseryID string, limit int) ([]domain.TopSellingItemRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit < 1 {
		limit = 5
	}

	type agg struct {
		name  string
		code  string
		qty   int64
		sales int64
	}
	byItem := map[string]*agg{}
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		for _, line := range tx.Items {
			a, ok := byItem[line.ItemID]
			if !ok {
				code := ""
				if item, exists := s.items[line.ItemID]; exists {
					code = item.Code
				}
				a = &agg{name: line.ItemName, code: code}
				byItem[line.ItemID] = a
			}
			a.qty += int64(line.Quantity)
			a.sales += int64(line.Quantity) * line.UnitPriceCents
		}
	}

	rows := make([]domain.TopSellingItemRow, 0, len(byItem))
	for _, a := range byItem {
		rows = append(rows, domain.TopSellingItemRow{
			ItemCode:          a.code,
			Name:              a.name,
			TotalQuantitySold: a.qty,
			TotalSalesCents:   a.sales,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].TotalQuantitySold == rows[j].TotalQuantitySold {
			return rows[i].ItemCode < rows[j].ItemCode
		}
		return rows[i].TotalQuantitySold > rows[j].TotalQuantitySold
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// CurrentStockLevels reports each active item's stock as the signed replay
// of its ledger history rather than the cached quantity, so a drifted
// projection is visible in the report itself, not only in reconciliation.
func (s *Store) CurrentStockLevels(_ context.Context, nurseryID string) ([]domain.StockLevelRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals, err := s.ledgerTotalsLocked(nurseryID)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.StockLevelRow, 0, len(s.items))
	for _, item := range s.items {
		if item.NurseryID != nurseryID || item.Archived {
			continue
		}
		rows = append(rows, domain.StockLevelRow{
			ItemCode:     item.Code,
			Name:         item.Name,
			CurrentStock: totals[item.ID],
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].ItemCode < rows[j].ItemCode
	})
	return rows, nil
}

func (s *Store) MonthlyProfitLoss(_ context.Context, nurseryID string) ([]domain.ProfitLossRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type agg struct {
		revenue int64
		profit  int64
	}
	byMonth := map[monthKey]*agg{}
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		key := monthKey{tx.CreatedAt.Year(), int(tx.CreatedAt.Month())}
		a, ok := byMonth[key]
		if !ok {
			a = &agg{}
			byMonth[key] = a
		}
		a.revenue += tx.TotalAmountCents
		a.profit += tx.TotalProfitCents
	}

	rows := make([]domain.ProfitLossRow, 0, len(byMonth))
	for key, a := range byMonth {
		rows = append(rows, domain.ProfitLossRow{
			Year:              key.year,
			Month:             key.month,
			TotalRevenueCents: a.revenue,
			TotalProfitCents:  a.profit,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year == rows[j].Year {
			return rows[i].Month < rows[j].Month
		}
		return rows[i].Year < rows[j].Year
	})
	return rows, nil
}

func (s *Store) ProfitLossBetween(_ context.Context, nurseryID string, from time.Time, to time.Time) (*domain.ProfitLossRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := domain.ProfitLossRow{Year: from.Year(), Month: int(from.Month())}
	for _, tx := range s.transactionsByID {
		if tx.NurseryID != nurseryID {
			continue
		}
		if tx.CreatedAt.Before(from) || !tx.CreatedAt.Before(to) {
			continue
		}
		row.TotalRevenueCents += tx.TotalAmountCents
		row.TotalProfitCents += tx.TotalProfitCents
	}
	return &row, nil
}

// LedgerQuantities replays every ledger entry for the nursery and returns
// the signed per-item sum, used to reconcile against cached quantities.
func (s *Store) LedgerQuantities(_ context.Context, nurseryID string) (map[string]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.ledgerTotalsLocked(nurseryID)
}

// ledgerTotalsLocked assumes s.mu is held. An entry whose action falls
// outside the closed enum poisons the whole replay.
func (s *Store) ledgerTotalsLocked(nurseryID string) (map[string]int, error) {
	totals := map[string]int{}
	for _, entry := range s.stockLogs {
		if entry.NurseryID != nurseryID {
			continue
		}
		sign, ok := entry.Action.Sign()
		if !ok {
			return nil, store.ErrConsistency
		}
		totals[entry.ItemID] += sign * entry.QuantityChanged
	}
	return totals, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Email == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if _, exists := s.usersByEmail[user.Email]; exists {
		return store.ErrConflict
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByEmail[user.Email] = user
	return nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.usersByEmail[email]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context, nurseryID string) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByEmail))
	for _, u := range s.usersByEmail {
		if nurseryID != "" && u.NurseryID != nurseryID {
			continue
		}
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Email, b.Email)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, email string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.usersByEmail[email]
	if !exists {
		return store.ErrNotFound
	}
	if password == "" {
		return store.ErrValidation
	}
	user.Password = password
	s.usersByEmail[email] = user
	return nil
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dup := *src
	dupItems := make([]domain.SaleLine, len(src.Items))
	copy(dupItems, src.Items)
	dup.Items = dupItems
	return &dup
}
