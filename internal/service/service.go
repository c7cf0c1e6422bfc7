package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"nurserypos/internal/analytics"
	"nurserypos/internal/domain"
	"nurserypos/internal/store"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

var paymentMethods = map[string]bool{
	"cash": true,
	"card": true,
	"upi":  true,
}

// Service owns the business rules: input normalization and validation,
// role checks, ledger entry construction, and report cache invalidation.
// Stock arithmetic itself lives in the repository so it happens inside the
// repository's atomic scope.
type Service struct {
	repo    store.Repository
	reports *analytics.Engine
}

func New(repo store.Repository, reports *analytics.Engine) *Service {
	return &Service{
		repo:    repo,
		reports: reports,
	}
}

func (s *Service) Reports() *analytics.Engine {
	return s.reports
}

func requireManager(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleManager {
		return domain.Actor{}, fmt.Errorf("manager role required")
	}
	return actor, nil
}

func requireStaff(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || (actor.Role != domain.RoleManager && actor.Role != domain.RoleCashier) {
		return domain.Actor{}, fmt.Errorf("staff role required")
	}
	return actor, nil
}

func (s *Service) CreateNursery(ctx context.Context, req domain.NurseryCreateRequest) (domain.Nursery, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Nursery{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return domain.Nursery{}, store.ErrValidation
	}

	created, err := s.repo.CreateNursery(ctx, domain.Nursery{
		Name:          req.Name,
		Address:       strings.TrimSpace(req.Address),
		ContactNumber: strings.TrimSpace(req.ContactNumber),
		Email:         strings.TrimSpace(req.Email),
		ManagerID:     actor.UserID,
	})
	if err != nil {
		return domain.Nursery{}, err
	}
	return *created, nil
}

func (s *Service) GetNursery(ctx context.Context, nurseryID string) (domain.Nursery, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.Nursery{}, err
	}
	if nurseryID != actor.NurseryID {
		return domain.Nursery{}, store.ErrNotFound
	}
	nursery, err := s.repo.GetNurseryByID(ctx, nurseryID)
	if err != nil {
		return domain.Nursery{}, err
	}
	return *nursery, nil
}

func (s *Service) ListNurseries(ctx context.Context) ([]domain.Nursery, error) {
	if _, err := requireManager(ctx); err != nil {
		return nil, err
	}
	return s.repo.ListNurseries(ctx)
}

// CreateItem registers a new catalog item. A positive initial quantity is
// recorded as an opening ledger entry written atomically with the item row,
// so the cached quantity equals the ledger sum from the first write.
func (s *Service) CreateItem(ctx context.Context, req domain.ItemCreateRequest) (domain.Item, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Item{}, err
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Code = strings.ToUpper(strings.TrimSpace(req.Code))
	req.Category = strings.TrimSpace(req.Category)
	req.SubCategory = strings.TrimSpace(req.SubCategory)
	req.Unit = strings.TrimSpace(req.Unit)
	if req.Unit == "" {
		req.Unit = "piece"
	}

	if req.Name == "" || req.Code == "" || req.Category == "" {
		return domain.Item{}, store.ErrValidation
	}
	if req.PriceCents < 0 || req.CostPriceCents < 0 || req.InitialQuantity < 0 {
		return domain.Item{}, store.ErrValidation
	}

	item := domain.Item{
		NurseryID:      actor.NurseryID,
		Name:           req.Name,
		Code:           req.Code,
		Category:       req.Category,
		SubCategory:    req.SubCategory,
		Unit:           req.Unit,
		CostPriceCents: req.CostPriceCents,
		PriceCents:     req.PriceCents,
		Quantity:       req.InitialQuantity,
	}
	var entry *domain.StockLog
	if req.InitialQuantity > 0 {
		entry = &domain.StockLog{
			Action:          domain.ActionAdded,
			QuantityChanged: req.InitialQuantity,
			AmountCents:     req.CostPriceCents * int64(req.InitialQuantity),
			PerformedBy:     actor.UserID,
			PerformedAt:     time.Now().UTC(),
			Note:            "opening stock",
		}
	}

	created, err := s.repo.CreateItem(ctx, item, entry)
	if err != nil {
		return domain.Item{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *created, nil
}

func (s *Service) GetItem(ctx context.Context, itemID string) (domain.Item, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	item, err := s.repo.GetItem(ctx, actor.NurseryID, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	return *item, nil
}

func (s *Service) ListItems(ctx context.Context, includeArchived bool) ([]domain.Item, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return nil, err
	}
	return s.repo.ListItems(ctx, actor.NurseryID, includeArchived)
}

func (s *Service) AdjustPrice(ctx context.Context, itemID string, req domain.ItemPriceUpdateRequest) (domain.Item, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if req.PriceCents == nil && req.CostPriceCents == nil {
		return domain.Item{}, store.ErrValidation
	}
	if req.PriceCents != nil && *req.PriceCents < 0 {
		return domain.Item{}, store.ErrValidation
	}
	if req.CostPriceCents != nil && *req.CostPriceCents < 0 {
		return domain.Item{}, store.ErrValidation
	}

	updated, err := s.repo.UpdateItemPrices(ctx, actor.NurseryID, itemID, req.PriceCents, req.CostPriceCents)
	if err != nil {
		return domain.Item{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *updated, nil
}

func (s *Service) Restock(ctx context.Context, itemID string, req domain.RestockRequest) (domain.Item, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if req.Quantity < 1 {
		return domain.Item{}, store.ErrValidation
	}

	item, err := s.repo.GetItem(ctx, actor.NurseryID, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	entry := domain.StockLog{
		AmountCents: int64(req.Quantity) * item.PriceCents,
		PerformedBy: actor.UserID,
		PerformedAt: time.Now().UTC(),
		Note:        strings.TrimSpace(req.Note),
	}
	updated, err := s.repo.AddStock(ctx, actor.NurseryID, itemID, req.Quantity, entry)
	if err != nil {
		return domain.Item{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *updated, nil
}

// RemoveStock records a non-sale deduction (damage, shrinkage, transfer).
// The repository rejects any removal that would take the quantity negative.
func (s *Service) RemoveStock(ctx context.Context, itemID string, req domain.StockRemovalRequest) (domain.Item, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	if req.Quantity < 1 {
		return domain.Item{}, store.ErrValidation
	}

	item, err := s.repo.GetItem(ctx, actor.NurseryID, itemID)
	if err != nil {
		return domain.Item{}, err
	}

	entry := domain.StockLog{
		AmountCents: int64(req.Quantity) * item.PriceCents,
		PerformedBy: actor.UserID,
		PerformedAt: time.Now().UTC(),
		Note:        strings.TrimSpace(req.Note),
	}
	updated, err := s.repo.RemoveStock(ctx, actor.NurseryID, itemID, req.Quantity, entry)
	if err != nil {
		return domain.Item{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *updated, nil
}

func (s *Service) ArchiveItem(ctx context.Context, itemID string) (domain.Item, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return domain.Item{}, err
	}
	updated, err := s.repo.ArchiveItem(ctx, actor.NurseryID, itemID)
	if err != nil {
		return domain.Item{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *updated, nil
}

// DeleteItem hard-deletes only items with no ledger or sale history; the
// repository returns ErrConflict otherwise, and the caller should archive
// the item instead.
func (s *Service) DeleteItem(ctx context.Context, itemID string) error {
	actor, err := requireManager(ctx)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteItem(ctx, actor.NurseryID, itemID); err != nil {
		return err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return nil
}

func (s *Service) ListStockLogs(ctx context.Context, filter domain.LedgerFilter) ([]domain.StockLog, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	if filter.Action != "" && !filter.Action.Valid() {
		return nil, store.ErrValidation
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, store.ErrValidation
	}
	if filter.Limit < 1 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListStockLogs(ctx, actor.NurseryID, filter)
}

// RecordSale commits a multi-line sale. Line prices and totals are
// recomputed inside the repository's atomic scope from the items' current
// prices, so a concurrent price change can never split a sale across two
// price states.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleRequest) (domain.Transaction, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}

	req.PaymentMethod = strings.ToLower(strings.TrimSpace(req.PaymentMethod))
	if !paymentMethods[req.PaymentMethod] {
		return domain.Transaction{}, store.ErrValidation
	}
	if len(req.Items) == 0 {
		return domain.Transaction{}, store.ErrValidation
	}

	lines := make([]domain.SaleLine, 0, len(req.Items))
	for _, line := range req.Items {
		if line.ItemID == "" || line.Quantity < 1 {
			return domain.Transaction{}, store.ErrValidation
		}
		lines = append(lines, domain.SaleLine{ItemID: line.ItemID, Quantity: line.Quantity})
	}

	created, err := s.repo.RecordSale(ctx, domain.Transaction{
		NurseryID:     actor.NurseryID,
		CashierID:     actor.UserID,
		PaymentMethod: req.PaymentMethod,
		Items:         lines,
	})
	if err != nil {
		return domain.Transaction{}, err
	}
	s.reports.Invalidate(ctx, actor.NurseryID)
	return *created, nil
}

func (s *Service) GetTransaction(ctx context.Context, transactionID string) (domain.Transaction, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	tx, err := s.repo.GetTransaction(ctx, actor.NurseryID, transactionID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

func (s *Service) ListTransactions(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.Transaction, error) {
	actor, err := requireStaff(ctx)
	if err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}
	return s.repo.ListTransactions(ctx, actor.NurseryID, from, to, limit)
}

func (s *Service) ListStaff(ctx context.Context) ([]domain.StaffUser, error) {
	actor, err := requireManager(ctx)
	if err != nil {
		return nil, err
	}
	accounts, err := s.repo.ListUsers(ctx, actor.NurseryID)
	if err != nil {
		return nil, err
	}
	staff := make([]domain.StaffUser, 0, len(accounts))
	for _, account := range accounts {
		staff = append(staff, domain.StaffUser{
			UserID:    account.ID,
			FullName:  account.FullName,
			Email:     account.Email,
			Role:      account.Role,
			NurseryID: account.NurseryID,
			Active:    account.Active,
			CreatedAt: account.CreatedAt,
		})
	}
	return staff, nil
}
