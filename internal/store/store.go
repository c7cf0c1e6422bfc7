package store

import (
	"context"
	"errors"
	"time"

	"nurserypos/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrConsistency       = errors.New("consistency violation")
)

// Repository is the persistence boundary. Operations that pair an item
// mutation with a ledger entry (CreateItem, AddStock, RemoveStock,
// RecordSale) must apply both in one atomic unit: either every write lands
// or none do.
type Repository interface {
	CreateNursery(ctx context.Context, nursery domain.Nursery) (*domain.Nursery, error)
	GetNurseryByID(ctx context.Context, nurseryID string) (*domain.Nursery, error)
	ListNurseries(ctx context.Context) ([]domain.Nursery, error)

	CreateItem(ctx context.Context, item domain.Item, entry *domain.StockLog) (*domain.Item, error)
	GetItem(ctx context.Context, nurseryID string, itemID string) (*domain.Item, error)
	ListItems(ctx context.Context, nurseryID string, includeArchived bool) ([]domain.Item, error)
	UpdateItemPrices(ctx context.Context, nurseryID string, itemID string, price *int64, cost *int64) (*domain.Item, error)
	AddStock(ctx context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error)
	RemoveStock(ctx context.Context, nurseryID string, itemID string, quantity int, entry domain.StockLog) (*domain.Item, error)
	ArchiveItem(ctx context.Context, nurseryID string, itemID string) (*domain.Item, error)
	DeleteItem(ctx context.Context, nurseryID string, itemID string) error

	ListStockLogs(ctx context.Context, nurseryID string, filter domain.LedgerFilter) ([]domain.StockLog, error)

	RecordSale(ctx context.Context, tx domain.Transaction) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, nurseryID string, transactionID string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, nurseryID string, from time.Time, to time.Time, limit int) ([]domain.Transaction, error)

	MonthlyRevenue(ctx context.Context, nurseryID string) ([]domain.MonthlyRevenueRow, error)
	MonthlyItemsSold(ctx context.Context, nurseryID string) ([]domain.MonthlyItemsSoldRow, error)
	TopSellingItems(ctx context.Context, nurseryID string, limit int) ([]domain.TopSellingItemRow, error)
	CurrentStockLevels(ctx context.Context, nurseryID string) ([]domain.StockLevelRow, error)
	MonthlyProfitLoss(ctx context.Context, nurseryID string) ([]domain.ProfitLossRow, error)
	ProfitLossBetween(ctx context.Context, nurseryID string, from time.Time, to time.Time) (*domain.ProfitLossRow, error)
	LedgerQuantities(ctx context.Context, nurseryID string) (map[string]int, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByEmail(ctx context.Context, email string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context, nurseryID string) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, email string, password string) error
}
