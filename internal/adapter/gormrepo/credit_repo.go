package gormrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"genstudio/internal/domain"
)

// CreditLedger implements domain.CreditLedger with gorm. Each mutation and its
// audit row share one transaction (a savepoint when already inside one).
type CreditLedger struct {
	db *gorm.DB
}

func NewCreditLedger(db *gorm.DB) *CreditLedger {
	return &CreditLedger{db: db}
}

func (l *CreditLedger) Reserve(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	if amount < 0 {
		return 0, domain.InvalidInput("reserve amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, workspaceID)
	}
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		res := tx.Model(&workspaceModel{}).
			Where("id = ? AND credit_balance >= ?", workspaceID, amount).
			Updates(map[string]any{
				"credit_balance": gorm.Expr("credit_balance - ?", amount),
				"updated_at":     now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			available, err := balanceOf(tx, workspaceID)
			if err != nil {
				return err
			}
			return &domain.InsufficientCreditsError{Required: amount, Available: available}
		}
		b, err := balanceOf(tx, workspaceID)
		if err != nil {
			return err
		}
		balance = b
		return audit(tx, workspaceID, -amount, generationID, reason, b, now)
	})
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientCredits) {
			return 0, err
		}
		return 0, fmt.Errorf("reserve credits: %w", err)
	}
	return balance, nil
}

func (l *CreditLedger) Refund(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	return l.credit(ctx, workspaceID, amount, generationID, reason)
}

func (l *CreditLedger) Grant(ctx context.Context, workspaceID string, amount int64, reason domain.CreditReason) (int64, error) {
	if reason == "" {
		reason = domain.ReasonGrant
	}
	return l.credit(ctx, workspaceID, amount, "", reason)
}

func (l *CreditLedger) credit(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	if amount < 0 {
		return 0, domain.InvalidInput("credit amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, workspaceID)
	}
	var balance int64
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"credit_balance": gorm.Expr("workspaces.credit_balance + ?", amount),
				"updated_at":     now,
			}),
		}).Create(&workspaceModel{ID: workspaceID, CreditBalance: amount, CreatedAt: now, UpdatedAt: now}).Error
		if err != nil {
			return err
		}
		b, err := balanceOf(tx, workspaceID)
		if err != nil {
			return err
		}
		balance = b
		return audit(tx, workspaceID, amount, generationID, reason, b, now)
	})
	if err != nil {
		return 0, fmt.Errorf("credit workspace: %w", err)
	}
	return balance, nil
}

func (l *CreditLedger) Balance(ctx context.Context, workspaceID string) (int64, error) {
	b, err := balanceOf(l.db.WithContext(ctx), workspaceID)
	if err != nil {
		return 0, fmt.Errorf("credit balance: %w", err)
	}
	return b, nil
}

func (l *CreditLedger) History(ctx context.Context, workspaceID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	var models []creditTransactionModel
	err := l.db.WithContext(ctx).
		Where("workspace_id = ?", workspaceID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, fmt.Errorf("credit history: %w", err)
	}
	out := make([]domain.CreditTransaction, 0, len(models))
	for i := range models {
		out = append(out, models[i].toDomain())
	}
	return out, nil
}

func balanceOf(db *gorm.DB, workspaceID string) (int64, error) {
	var ws workspaceModel
	err := db.Select("credit_balance").Where("id = ?", workspaceID).Take(&ws).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return ws.CreditBalance, nil
}

func audit(tx *gorm.DB, workspaceID string, delta int64, generationID string, reason domain.CreditReason, balanceAfter int64, now time.Time) error {
	row := creditTransactionModel{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		Delta:        delta,
		Reason:       string(reason),
		BalanceAfter: balanceAfter,
		CreatedAt:    now,
	}
	if generationID != "" {
		row.GenerationID = &generationID
	}
	return tx.Create(&row).Error
}

var _ domain.CreditLedger = (*CreditLedger)(nil)
