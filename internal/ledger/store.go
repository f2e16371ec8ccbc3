package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zavod-empire/factory-bot/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists ledger entries and account balances via GORM. The
// unique index on ledger_entries.idempotency_key is the at-most-once
// enforcement point.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// InsertIfAbsent records a pending entry for key, or returns the existing one.
func (s *GormStore) InsertIfAbsent(ctx context.Context, key string, effect Effect) (bool, *models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return false, nil, fmt.Errorf("ledger store: not initialized")
	}
	row := models.LedgerEntry{
		IdempotencyKey: key,
		UserID:         effect.UserID,
		Currency:       effect.Currency,
		Amount:         effect.Amount,
		Reason:         effect.Reason,
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoNothing: true,
	}).Create(&row)
	if res.Error != nil {
		return false, nil, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil, nil
	}
	existing, errFind := s.Find(ctx, key)
	if errFind != nil {
		return false, nil, errFind
	}
	return false, existing, nil
}

// UpdateBalance applies a signed delta with a floor-at-zero guard in SQL, so
// concurrent debits cannot underflow the balance.
func (s *GormStore) UpdateBalance(ctx context.Context, userID int64, currency string, delta int64) (int64, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("ledger store: not initialized")
	}
	column, errColumn := balanceColumn(currency)
	if errColumn != nil {
		return 0, errColumn
	}

	var newBalance int64
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.User{}).
			Where("id = ?", userID).
			Where(column+" + ? >= 0", delta).
			UpdateColumn(column, gorm.Expr(column+" + ?", delta))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if errCount := tx.Model(&models.User{}).Where("id = ?", userID).Count(&count).Error; errCount != nil {
				return errCount
			}
			if count == 0 {
				return ErrAccountNotFound
			}
			return ErrInsufficientBalance
		}
		return tx.Raw("SELECT "+column+" FROM users WHERE id = ?", userID).Scan(&newBalance).Error
	})
	if errTx != nil {
		return 0, errTx
	}
	return newBalance, nil
}

// MarkApplied commits the result for key. Applied rows are never rewritten.
func (s *GormStore) MarkApplied(ctx context.Context, key string, result Result) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store: not initialized")
	}
	payload, errMarshal := json.Marshal(result)
	if errMarshal != nil {
		return fmt.Errorf("ledger store: marshal result: %w", errMarshal)
	}
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("idempotency_key = ? AND applied = ?", key, false).
		Updates(map[string]any{
			"applied":    true,
			"result":     datatypes.JSON(payload),
			"applied_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("ledger store: no pending record for key %s", key)
	}
	return nil
}

// Find returns the entry for key, or nil when absent.
func (s *GormStore) Find(ctx context.Context, key string) (*models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("ledger store: not initialized")
	}
	var row models.LedgerEntry
	errFind := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&row).Error
	if errors.Is(errFind, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if errFind != nil {
		return nil, errFind
	}
	return &row, nil
}

// Release removes an uncommitted entry for key.
func (s *GormStore) Release(ctx context.Context, key string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("ledger store: not initialized")
	}
	return s.db.WithContext(ctx).
		Where("idempotency_key = ? AND applied = ?", key, false).
		Delete(&models.LedgerEntry{}).Error
}

func balanceColumn(currency string) (string, error) {
	switch currency {
	case models.CurrencySoft:
		return "soft_balance", nil
	case models.CurrencyHard:
		return "hard_balance", nil
	default:
		return "", fmt.Errorf("ledger store: unknown currency %q", currency)
	}
}
