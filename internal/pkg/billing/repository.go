package billing

import (
	"context"

	"gorm.io/gorm"

	"github.com/echovoice/echovoice/app/models"
)

// Repository provides DB operations used by the billing service. Transaction
// hands a repository bound to the running transaction to the callback; the
// reconciliation path does all its reads and writes through that handle.
type Repository interface {
	WithContext(ctx context.Context) Repository
	Transaction(fn func(Repository) error) error

	GetUserByID(id uint) (*models.User, error)
	GetUserBySubscriptionID(subscriptionID string) (*models.User, error)
	SaveUser(user *models.User) error

	CreatePendingTransaction(p *models.PendingTransaction) error
	GetPendingTransaction(provider, reference string) (*models.PendingTransaction, error)
	MarkPendingCompleted(id uint) error

	AppendLedgerEntry(entry *models.LedgerEntry) error
	LedgerEntryExists(provider, reference, eventType string) (bool, error)
	ListLedgerEntriesByUser(userID uint, limit int) ([]models.LedgerEntry, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) WithContext(ctx context.Context) Repository {
	return &gormRepository{db: r.db.WithContext(ctx)}
}

func (r *gormRepository) Transaction(fn func(Repository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetUserByID(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserBySubscriptionID(subscriptionID string) (*models.User, error) {
	var user models.User
	if err := r.db.Where("subscription_id = ?", subscriptionID).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SaveUser(user *models.User) error {
	return r.db.Save(user).Error
}

func (r *gormRepository) CreatePendingTransaction(p *models.PendingTransaction) error {
	return r.db.Create(p).Error
}

func (r *gormRepository) GetPendingTransaction(provider, reference string) (*models.PendingTransaction, error) {
	var pending models.PendingTransaction
	err := r.db.Where("provider = ? AND reference = ?", provider, reference).First(&pending).Error
	if err != nil {
		return nil, err
	}
	return &pending, nil
}

func (r *gormRepository) MarkPendingCompleted(id uint) error {
	return r.db.Model(&models.PendingTransaction{}).
		Where("id = ?", id).
		Update("status", models.PendingStatusCompleted).Error
}

func (r *gormRepository) AppendLedgerEntry(entry *models.LedgerEntry) error {
	return r.db.Create(entry).Error
}

func (r *gormRepository) LedgerEntryExists(provider, reference, eventType string) (bool, error) {
	var count int64
	err := r.db.Model(&models.LedgerEntry{}).
		Where("provider = ? AND reference = ? AND event_type = ?", provider, reference, eventType).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *gormRepository) ListLedgerEntriesByUser(userID uint, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	q := r.db.Where("user_id = ?", userID).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&entries).Error
	return entries, err
}
