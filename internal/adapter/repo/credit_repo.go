package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"genstudio/internal/domain"
	"genstudio/internal/infra"
	"genstudio/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger. Each method is one statement
// that moves the balance and writes the audit row together.
type CreditLedgerPG struct {
	sql infra.SQLExecutor
}

func NewCreditLedger(sql infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

// Reserve decrements the balance only if it covers amount.
func (l *CreditLedgerPG) Reserve(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	if amount < 0 {
		return 0, domain.InvalidInput("reserve amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, workspaceID)
	}
	var balance int64
	err := l.sql.QueryRow(ctx, sqlinline.QReserveCredits,
		workspaceID, amount, generationID, string(reason), uuid.NewString(),
	).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !infra.IsNoRows(err) {
		return 0, fmt.Errorf("reserve credits: %w", err)
	}
	available, berr := l.Balance(ctx, workspaceID)
	if berr != nil {
		return 0, berr
	}
	return available, &domain.InsufficientCreditsError{Required: amount, Available: available}
}

// Refund increments the balance. Callers gate it on a successful transition.
func (l *CreditLedgerPG) Refund(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	return l.credit(ctx, workspaceID, amount, generationID, reason)
}

// Grant tops up a workspace, creating it on first use.
func (l *CreditLedgerPG) Grant(ctx context.Context, workspaceID string, amount int64, reason domain.CreditReason) (int64, error) {
	if reason == "" {
		reason = domain.ReasonGrant
	}
	return l.credit(ctx, workspaceID, amount, "", reason)
}

func (l *CreditLedgerPG) credit(ctx context.Context, workspaceID string, amount int64, generationID string, reason domain.CreditReason) (int64, error) {
	if amount < 0 {
		return 0, domain.InvalidInput("credit amount must not be negative")
	}
	if amount == 0 {
		return l.Balance(ctx, workspaceID)
	}
	var balance int64
	if err := l.sql.QueryRow(ctx, sqlinline.QCreditWorkspace,
		workspaceID, amount, generationID, string(reason), uuid.NewString(),
	).Scan(&balance); err != nil {
		return 0, fmt.Errorf("credit workspace: %w", err)
	}
	return balance, nil
}

// Balance returns the current balance; unknown workspaces hold zero.
func (l *CreditLedgerPG) Balance(ctx context.Context, workspaceID string) (int64, error) {
	var balance int64
	if err := l.sql.QueryRow(ctx, sqlinline.QSelectCreditBalance, workspaceID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("select balance: %w", err)
	}
	return balance, nil
}

// History lists the most recent ledger movements for a workspace.
func (l *CreditLedgerPG) History(ctx context.Context, workspaceID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.sql.Query(ctx, sqlinline.QListCreditTransactions, workspaceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions: %w", err)
	}
	defer rows.Close()
	var out []domain.CreditTransaction
	for rows.Next() {
		var tx domain.CreditTransaction
		var reason string
		if err := rows.Scan(&tx.ID, &tx.WorkspaceID, &tx.GenerationID, &tx.Delta, &reason, &tx.BalanceAfter, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Reason = domain.CreditReason(reason)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
