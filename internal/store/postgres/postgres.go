package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"nurserypos/internal/domain"
	"nurserypos/internal/store"
	"nurserypos/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateNursery(ctx context.Context, nursery domain.Nursery) (*domain.Nursery, error) {
	if nursery.Name == "" {
		return nil, store.ErrValidation
	}
	if nursery.ID == "" {
		nursery.ID = xid.New("nursery")
	}
	if nursery.CreatedAt.IsZero() {
		nursery.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nurseries (id, name, address, contact_number, email, manager_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, nursery.ID, nursery.Name, nullIfEmpty(nursery.Address), nullIfEmpty(nursery.ContactNumber),
		nullIfEmpty(nursery.Email), nullIfEmpty(nursery.ManagerID), nursery.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}

	created := nursery
	return &created, nil
}

func (s *Store) GetNurseryByID(ctx context.Context, nurseryID string) (*domain.Nursery, error) {
	var nursery domain.Nursery
	var address, contact, email, managerID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, address, contact_number, email, manager_id, created_at
		FROM nurseries
		WHERE id = $1
	`, nurseryID).Scan(&nursery.ID, &nursery.Name, &address, &contact, &email, &managerID, &nursery.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	nursery.Address = address.String
	nursery.ContactNumber = contact.String
	nursery.Email = email.String
	nursery.ManagerID = managerID.String
	return &nursery, nil
}

func (s *Store) ListNurseries(ctx context.Context) ([]domain.Nursery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, address, contact_number, email, manager_id, created_at
		FROM nurseries
		ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	nurseries := make([]domain.Nursery, 0, 16)
	for rows.Next() {
		var n domain.Nursery
		var address, contact, email, managerID sql.NullString
		if err := rows.Scan(&n.ID, &n.Name, &address, &contact, &email, &managerID, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Address = address.String
		n.ContactNumber = contact.String
		n.Email = email.String
		n.ManagerID = managerID.String
		nurseries = append(nurseries, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return nurseries, nil
}

// CreateItem inserts the item row and its opening ledger entry in one
// transaction so the ledger invariant holds from the first write.
func (s *Store) CreateItem(ctx context.Context, item domain.Item, entry *domain.StockLog) (*domain.Item, error) {
	if item.NurseryID == "" || item.Name == "" || item.Code == "" || item.Category == "" {
		return nil, store.ErrValidation
	}
	if item.PriceCents < 0 || item.CostPriceCents < 0 || item.Quantity < 0 {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	if item.ID == "" {
		item.ID = xid.New("item")
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO items (
			id, nursery_id, name, code, category, sub_category, unit,
			cost_price_cents, price_cents, quantity, archived, created_at, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,false,$11,$12)
	`, item.ID, item.NurseryID, item.Name, item.Code, item.Category, nullIfEmpty(item.SubCategory),
		item.Unit, item.CostPriceCents, item.PriceCents, item.Quantity, item.CreatedAt, item.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrValidation
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	if entry != nil {
		e := *entry
		e.NurseryID = item.NurseryID
		e.ItemID = item.ID
		e.ItemName = item.Name
		e.ItemCode = item.Code
		if err := insertStockLog(ctx, pgTx, e); err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	created := item
	return &created, nil
}

const itemColumns = `
	id, nursery_id, name, code, category, sub_category, unit,
	cost_price_cents, price_cents, quantity, archived, created_at, updated_at
`

func scanItem(row interface{ Scan(...any) error }) (*domain.Item, error) {
	var item domain.Item
	var subCategory sql.NullString
	err := row.Scan(&item.ID, &item.NurseryID, &item.Name, &item.Code, &item.Category,
		&subCategory, &item.Unit, &item.CostPriceCents, &item.PriceCents, &item.Quantity,
		&item.Archived, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return nil, err
	}
	item.SubCategory = subCategory.String
	return &item, nil
}

func (s *Store) GetItem(ctx context.Context, nurseryID string, itemID string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+`
		FROM items
		WHERE id = $1 AND nursery_id = $2
	`, itemID, nurseryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, nurseryID string, includeArchived bool) ([]domain.Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM items
		WHERE nursery_id = $1
	`
	if !includeArchived {
		query += ` AND archived = false`
	}
	query += ` ORDER BY category, name`

	rows, err := s.db.QueryContext(ctx, query, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.Item, 0, 64)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateItemPrices(ctx context.Context, nurseryID string, itemID string, price *int64, cost *int64) (*domain.Item, error) {
	if price == nil && cost == nil {
		return nil, store.ErrValidation
	}
	if price != nil && *price < 0 {
		return nil, store.ErrValidation
	}
	if cost != nil && *cost < 0 {
		return nil, store.ErrValidation
	}

	item, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET price_cents = COALESCE($3, price_cents),
			cost_price_cents = COALESCE($4, cost_price_cents),
			updated_at = now()
		WHERE id = $1 AND nursery_id = $2
		RETURNING `+itemColumns+`
	`, itemID, nurseryID, nullInt64(price), nullInt64(cost)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) AddStock(ctx context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error) {
	if quantity < 1 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	item, err := scanItem(pgTx.QueryRowContext(ctx, `
		UPDATE items
		SET quantity = quantity + $3, updated_at = now()
		WHERE id = $1 AND nursery_id = $2 AND archived = false
		RETURNING `+itemColumns+`
	`, itemID, nurseryID, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	entry.NurseryID = nurseryID
	entry.ItemID = itemID
	entry.ItemName = item.Name
	entry.ItemCode = item.Code
	entry.Action = domain.ActionAdded
	entry.QuantityChanged = quantity
	if err := insertStockLog(ctx, pgTx, entry); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

// RemoveStock decrements stock with a conditional update. The quantity
// guard in the WHERE clause is what prevents lost updates: two concurrent
// removals both re-check remaining stock at write time, so the quantity can
// never go negative regardless of interleaving.
func (s *Store) RemoveStock(ctx context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error) {
	if quantity < 1 {
		return nil, store.ErrValidation
	}

	pgTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	item, err := scanItem(pgTx.QueryRowContext(ctx, `
		UPDATE items
		SET quantity = quantity - $3, updated_at = now()
		WHERE id = $1 AND nursery_id = $2 AND quantity >= $3
		RETURNING `+itemColumns+`
	`, itemID, nurseryID, quantity))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// Distinguish missing item from insufficient stock.
			var exists bool
			checkErr := pgTx.QueryRowContext(ctx, `
				SELECT true FROM items WHERE id = $1 AND nursery_id = $2
			`, itemID, nurseryID).Scan(&exists)
			if errors.Is(checkErr, sql.ErrNoRows) {
				return nil, store.ErrNotFound
			}
			if checkErr != nil {
				return nil, checkErr
			}
			return nil, store.ErrInsufficientStock
		}
		return nil, err
	}

	entry.NurseryID = nurseryID
	entry.ItemID = itemID
	entry.ItemName = item.Name
	entry.ItemCode = item.Code
	entry.Action = domain.ActionRemoved
	entry.QuantityChanged = quantity
	if err := insertStockLog(ctx, pgTx, entry); err != nil {
		return nil, err
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	return item, nil
}

func (s *Store) ArchiveItem(ctx context.Context, nurseryID string, itemID string) (*domain.Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `
		UPDATE items
		SET archived = true, updated_at = now()
		WHERE id = $1 AND nursery_id = $2
		RETURNING `+itemColumns+`
	`, itemID, nurseryID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) DeleteItem(ctx context.Context, nurseryID string, itemID string) error {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = pgTx.Rollback() }()

	var exists bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT true FROM items WHERE id = $1 AND nursery_id = $2 FOR UPDATE
	`, itemID, nurseryID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	if err != nil {
		return err
	}

	var hasHistory bool
	err = pgTx.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM stock_logs WHERE item_id = $1)
			OR EXISTS (SELECT 1 FROM transaction_items WHERE item_id = $1)
	`, itemID).Scan(&hasHistory)
	if err != nil {
		return err
	}
	if hasHistory {
		return store.ErrConflict
	}

	if _, err := pgTx.ExecContext(ctx, `DELETE FROM items WHERE id = $1`, itemID); err != nil {
		return err
	}
	return pgTx.Commit()
}

func insertStockLog(ctx context.Context, pgTx *sql.Tx, entry domain.StockLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("slog")
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	if !entry.Action.Valid() {
		return store.ErrValidation
	}
	_, err := pgTx.ExecContext(ctx, `
		INSERT INTO stock_logs (
			id, nursery_id, item_id, item_name, item_code, action,
			quantity_changed, amount_cents, performed_by, performed_at, note
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, entry.ID, entry.NurseryID, entry.ItemID, entry.ItemName, entry.ItemCode, string(entry.Action),
		entry.QuantityChanged, entry.AmountCents, nullIfEmpty(entry.PerformedBy), entry.PerformedAt,
		nullIfEmpty(entry.Note))
	return err
}

func (s *Store) ListStockLogs(ctx context.Context, nurseryID string, filter domain.LedgerFilter) ([]domain.StockLog, error) {
	conditions := []string{"nursery_id = $1"}
	args := []any{nurseryID}
	if filter.ItemID != "" {
		args = append(args, filter.ItemID)
		conditions = append(conditions, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.Action != "" {
		args = append(args, string(filter.Action))
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		conditions = append(conditions, fmt.Sprintf("performed_at >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		conditions = append(conditions, fmt.Sprintf("performed_at < $%d", len(args)))
	}

	query := `
		SELECT id, nursery_id, item_id, item_name, item_code, action,
			quantity_changed, amount_cents, performed_by, performed_at, note
		FROM stock_logs
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY performed_at DESC, id DESC
	`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.StockLog, 0, 64)
	for rows.Next() {
		var entry domain.StockLog
		var action string
		var performedBy, note sql.NullString
		if err := rows.Scan(&entry.ID, &entry.NurseryID, &entry.ItemID, &entry.ItemName, &entry.ItemCode,
			&action, &entry.QuantityChanged, &entry.AmountCents, &performedBy, &entry.PerformedAt, &note); err != nil {
			return nil, err
		}
		entry.Action = domain.StockAction(action)
		entry.PerformedBy = performedBy.String
		entry.Note = note.String
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

const saleRetryAttempts = 3

// RecordSale runs the whole sale inside one serializable transaction:
// price lookup, conditional stock decrements, sold ledger entries, and the
// transaction record commit or roll back together. Serialization failures
// (SQLSTATE 40001/40P01) mean nothing was committed, so the attempt is
// retried a bounded number of times with a short backoff.
func (s *Store) RecordSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	if len(tx.Items) == 0 || tx.NurseryID == "" {
		return nil, store.ErrValidation
	}

	var lastErr error
	for attempt := 0; attempt < saleRetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * 25 * time.Millisecond):
			}
		}
		result, err := s.recordSaleOnce(ctx, tx)
		if err == nil {
			return result, nil
		}
		if !isSerializationFailure(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("sale aborted after %d attempts: %w", saleRetryAttempts, lastErr)
}

func (s *Store) recordSaleOnce(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error) {
	pgTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = pgTx.Rollback() }()

	itemIDs := uniqueItemIDs(tx.Items)
	if len(itemIDs) != len(tx.Items) {
		return nil, store.ErrValidation
	}

	itemRows, err := pgTx.QueryContext(ctx, `
		SELECT id, name, code, price_cents, cost_price_cents, quantity
		FROM items
		WHERE nursery_id = $1 AND archived = false AND id = ANY($2)
		FOR UPDATE
	`, tx.NurseryID, itemIDs)
	if err != nil {
		return nil, err
	}
	type itemState struct {
		name     string
		code     string
		price    int64
		cost     int64
		quantity int
	}
	itemMap := make(map[string]itemState, len(itemIDs))
	for itemRows.Next() {
		var id string
		var state itemState
		if err := itemRows.Scan(&id, &state.name, &state.code, &state.price, &state.cost, &state.quantity); err != nil {
			_ = itemRows.Close()
			return nil, err
		}
		itemMap[id] = state
	}
	if err := itemRows.Err(); err != nil {
		_ = itemRows.Close()
		return nil, err
	}
	_ = itemRows.Close()

	now := time.Now().UTC()
	if tx.ID == "" {
		tx.ID = xid.New("txn")
	}
	tx.CreatedAt = now

	totalAmount := int64(0)
	totalProfit := int64(0)
	recomputed := make([]domain.SaleLine, 0, len(tx.Items))
	for _, line := range tx.Items {
		if line.Quantity < 1 {
			return nil, store.ErrValidation
		}
		state, exists := itemMap[line.ItemID]
		if !exists {
			return nil, store.ErrNotFound
		}
		if state.quantity < line.Quantity {
			return nil, store.ErrInsufficientStock
		}
		recomputed = append(recomputed, domain.SaleLine{
			ItemID:         line.ItemID,
			ItemName:       state.name,
			Quantity:       line.Quantity,
			UnitPriceCents: state.price,
			UnitCostCents:  state.cost,
		})
		totalAmount += int64(line.Quantity) * state.price
		totalProfit += int64(line.Quantity) * (state.price - state.cost)
	}
	tx.Items = recomputed
	tx.TotalAmountCents = totalAmount
	tx.TotalProfitCents = totalProfit

	for _, line := range recomputed {
		res, err := pgTx.ExecContext(ctx, `
			UPDATE items
			SET quantity = quantity - $2, updated_at = $3
			WHERE id = $1 AND quantity >= $2
		`, line.ItemID, line.Quantity, now)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrInsufficientStock
		}

		state := itemMap[line.ItemID]
		if err := insertStockLog(ctx, pgTx, domain.StockLog{
			NurseryID:       tx.NurseryID,
			ItemID:          line.ItemID,
			ItemName:        state.name,
			ItemCode:        state.code,
			Action:          domain.ActionSold,
			QuantityChanged: line.Quantity,
			AmountCents:     int64(line.Quantity) * line.UnitPriceCents,
			PerformedBy:     tx.CashierID,
			PerformedAt:     now,
			Note:            "sale " + tx.ID,
		}); err != nil {
			return nil, err
		}
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, nursery_id, cashier_id, payment_method,
			total_amount_cents, total_profit_cents, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, tx.ID, tx.NurseryID, nullIfEmpty(tx.CashierID), tx.PaymentMethod,
		tx.TotalAmountCents, tx.TotalProfitCents, tx.CreatedAt)
	if err != nil {
		return nil, err
	}

	for _, line := range recomputed {
		_, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_items (transaction_id, item_id, item_name, quantity, unit_price_cents, unit_cost_cents)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, tx.ID, line.ItemID, line.ItemName, line.Quantity, line.UnitPriceCents, line.UnitCostCents)
		if err != nil {
			return nil, err
		}
	}

	if err := pgTx.Commit(); err != nil {
		return nil, err
	}
	saved := tx
	return &saved, nil
}

func (s *Store) GetTransaction(ctx context.Context, nurseryID string, transactionID string) (*domain.Transaction, error) {
	var tx domain.Transaction
	var cashierID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nursery_id, cashier_id, payment_method, total_amount_cents, total_profit_cents, created_at
		FROM transactions
		WHERE id = $1 AND nursery_id = $2
	`, transactionID, nurseryID).Scan(&tx.ID, &tx.NurseryID, &cashierID, &tx.PaymentMethod,
		&tx.TotalAmountCents, &tx.TotalProfitCents, &tx.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	tx.CashierID = cashierID.String

	lines, err := s.transactionLines(ctx, []string{tx.ID})
	if err != nil {
		return nil, err
	}
	tx.Items = lines[tx.ID]
	return &tx, nil
}

func (s *Store) ListTransactions(ctx context.Context, nurseryID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	conditions := []string{"nursery_id = $1"}
	args := []any{nurseryID}
	if !from.IsZero() {
		args = append(args, from)
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if !to.IsZero() {
		args = append(args, to)
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", len(args)))
	}
	query := `
		SELECT id, nursery_id, cashier_id, payment_method, total_amount_cents, total_profit_cents, created_at
		FROM transactions
		WHERE ` + strings.Join(conditions, " AND ") + `
		ORDER BY created_at DESC, id DESC
	`
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.Transaction, 0, 64)
	ids := make([]string, 0, 64)
	for rows.Next() {
		var tx domain.Transaction
		var cashierID sql.NullString
		if err := rows.Scan(&tx.ID, &tx.NurseryID, &cashierID, &tx.PaymentMethod,
			&tx.TotalAmountCents, &tx.TotalProfitCents, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.CashierID = cashierID.String
		txs = append(txs, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(ids) > 0 {
		lines, err := s.transactionLines(ctx, ids)
		if err != nil {
			return nil, err
		}
		for i := range txs {
			txs[i].Items = lines[txs[i].ID]
		}
	}
	return txs, nil
}

func (s *Store) transactionLines(ctx context.Context, transactionIDs []string) (map[string][]domain.SaleLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, item_id, item_name, quantity, unit_price_cents, unit_cost_cents
		FROM transaction_items
		WHERE transaction_id = ANY($1)
		ORDER BY item_id
	`, transactionIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	lines := make(map[string][]domain.SaleLine, len(transactionIDs))
	for rows.Next() {
		var txID string
		var line domain.SaleLine
		if err := rows.Scan(&txID, &line.ItemID, &line.ItemName, &line.Quantity,
			&line.UnitPriceCents, &line.UnitCostCents); err != nil {
			return nil, err
		}
		lines[txID] = append(lines[txID], line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Store) MonthlyRevenue(ctx context.Context, nurseryID string) ([]domain.MonthlyRevenueRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(YEAR FROM created_at)::int,
			EXTRACT(MONTH FROM created_at)::int,
			COALESCE(SUM(total_amount_cents),0)::bigint
		FROM transactions
		WHERE nursery_id = $1
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.MonthlyRevenueRow, 0, 12)
	for rows.Next() {
		var row domain.MonthlyRevenueRow
		if err := rows.Scan(&row.Year, &row.Month, &row.TotalRevenueCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MonthlyItemsSold(ctx context.Context, nurseryID string) ([]domain.MonthlyItemsSoldRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(YEAR FROM t.created_at)::int,
			EXTRACT(MONTH FROM t.created_at)::int,
			COALESCE(SUM(ti.quantity),0)::bigint
		FROM transactions t
		JOIN transaction_items ti ON ti.transaction_id = t.id
		WHERE t.nursery_id = $1
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.MonthlyItemsSoldRow, 0, 12)
	for rows.Next() {
		var row domain.MonthlyItemsSoldRow
		if err := rows.Scan(&row.Year, &row.Month, &row.TotalQuantitySold); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) TopSellingItems(ctx context.Context, nurseryID string, limit int) ([]domain.TopSellingItemRow, error) {
	if limit < 1 {
		limit = 5
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT COALESCE(i.code, ''), ti.item_name,
			COALESCE(SUM(ti.quantity),0)::bigint,
			COALESCE(SUM(ti.quantity * ti.unit_price_cents),0)::bigint
		FROM transactions t
		JOIN transaction_items ti ON ti.transaction_id = t.id
		LEFT JOIN items i ON i.id = ti.item_id
		WHERE t.nursery_id = $1
		GROUP BY ti.item_id, i.code, ti.item_name
		ORDER BY 3 DESC, 1 ASC
		LIMIT $2
	`, nurseryID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.TopSellingItemRow, 0, limit)
	for rows.Next() {
		var row domain.TopSellingItemRow
		if err := rows.Scan(&row.ItemCode, &row.Name, &row.TotalQuantitySold, &row.TotalSalesCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// CurrentStockLevels reports each active item's stock as the signed replay
// of its ledger history rather than the cached quantity column, so a
// drifted projection is visible in the report itself, not only in
// reconciliation. Any ledger entry outside the closed action enum fails
// the whole report.
func (s *Store) CurrentStockLevels(ctx context.Context, nurseryID string) ([]domain.StockLevelRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.code, i.name,
			COALESCE(SUM(CASE sl.action
				WHEN 'added' THEN sl.quantity_changed
				WHEN 'sold' THEN -sl.quantity_changed
				WHEN 'removed' THEN -sl.quantity_changed
			END),0)::int,
			COUNT(sl.id) FILTER (WHERE sl.action NOT IN ('added','sold','removed'))::int
		FROM items i
		LEFT JOIN stock_logs sl ON sl.item_id = i.id
		WHERE i.nursery_id = $1 AND i.archived = false
		GROUP BY i.code, i.name
		ORDER BY i.code
	`, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.StockLevelRow, 0, 64)
	for rows.Next() {
		var row domain.StockLevelRow
		var unknownActions int
		if err := rows.Scan(&row.ItemCode, &row.Name, &row.CurrentStock, &unknownActions); err != nil {
			return nil, err
		}
		if unknownActions > 0 {
			return nil, store.ErrConsistency
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) MonthlyProfitLoss(ctx context.Context, nurseryID string) ([]domain.ProfitLossRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(YEAR FROM created_at)::int,
			EXTRACT(MONTH FROM created_at)::int,
			COALESCE(SUM(total_amount_cents),0)::bigint,
			COALESCE(SUM(total_profit_cents),0)::bigint
		FROM transactions
		WHERE nursery_id = $1
		GROUP BY 1, 2
		ORDER BY 1, 2
	`, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ProfitLossRow, 0, 12)
	for rows.Next() {
		var row domain.ProfitLossRow
		if err := rows.Scan(&row.Year, &row.Month, &row.TotalRevenueCents, &row.TotalProfitCents); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ProfitLossBetween(ctx context.Context, nurseryID string, from time.Time, to time.Time) (*domain.ProfitLossRow, error) {
	row := domain.ProfitLossRow{Year: from.Year(), Month: int(from.Month())}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_amount_cents),0)::bigint,
			COALESCE(SUM(total_profit_cents),0)::bigint
		FROM transactions
		WHERE nursery_id = $1 AND created_at >= $2 AND created_at < $3
	`, nurseryID, from, to).Scan(&row.TotalRevenueCents, &row.TotalProfitCents)
	if err != nil {
		return nil, err
	}
	return &row, nil
}

// LedgerQuantities replays the ledger with one explicit arm per action;
// an entry outside the closed enum poisons the whole replay instead of
// being silently folded into a sign.
func (s *Store) LedgerQuantities(ctx context.Context, nurseryID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT item_id,
			COALESCE(SUM(CASE action
				WHEN 'added' THEN quantity_changed
				WHEN 'sold' THEN -quantity_changed
				WHEN 'removed' THEN -quantity_changed
			END),0)::int,
			COUNT(*) FILTER (WHERE action NOT IN ('added','sold','removed'))::int
		FROM stock_logs
		WHERE nursery_id = $1
		GROUP BY item_id
	`, nurseryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int, 64)
	for rows.Next() {
		var itemID string
		var total, unknownActions int
		if err := rows.Scan(&itemID, &total, &unknownActions); err != nil {
			return nil, err
		}
		if unknownActions > 0 {
			return nil, store.ErrConsistency
		}
		totals[itemID] = total
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Email == "" || user.Password == "" || user.Role == "" {
		return store.ErrValidation
	}
	if user.ID == "" {
		user.ID = xid.New("user")
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, nursery_id, full_name, email, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, user.ID, nullIfEmpty(user.NurseryID), user.FullName, user.Email, user.Password,
		user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	var nurseryID sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, nursery_id, full_name, email, password, role, active, created_at
		FROM users
		WHERE email = $1
	`, email).Scan(&user.ID, &nurseryID, &user.FullName, &user.Email, &user.Password,
		&user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.NurseryID = nurseryID.String
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context, nurseryID string) ([]domain.UserAccount, error) {
	query := `
		SELECT id, nursery_id, full_name, email, password, role, active, created_at
		FROM users
	`
	args := []any{}
	if nurseryID != "" {
		query += ` WHERE nursery_id = $1`
		args = append(args, nurseryID)
	}
	query += ` ORDER BY email`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		var nid sql.NullString
		if err := rows.Scan(&user.ID, &nid, &user.FullName, &user.Email, &user.Password,
			&user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.NurseryID = nid.String
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, email string, password string) error {
	if password == "" {
		return store.ErrValidation
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE email = $1
	`, email, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func uniqueItemIDs(lines []domain.SaleLine) []string {
	if len(lines) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if line.ItemID == "" {
			continue
		}
		set[line.ItemID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullInt64(val *int64) any {
	if val == nil {
		return nil
	}
	return *val
}
