package domain

import "time"

// CreditReason labels a ledger movement in the audit trail.
type CreditReason string

const (
	ReasonPreviewReserve   CreditReason = "preview_reserve"
	ReasonFinalReserve     CreditReason = "final_reserve"
	ReasonPreviewRefund    CreditReason = "preview_refund"
	ReasonFinalRefund      CreditReason = "final_refund"
	ReasonFinalizeRollback CreditReason = "finalize_rollback"
	ReasonGrant            CreditReason = "grant"
)

// ReserveReason returns the audit reason used when a phase cost is reserved.
func ReserveReason(p Phase) CreditReason {
	if p == PhaseFinal {
		return ReasonFinalReserve
	}
	return ReasonPreviewReserve
}

// RefundReason returns the audit reason used when a phase cost is refunded.
func RefundReason(p Phase) CreditReason {
	if p == PhaseFinal {
		return ReasonFinalRefund
	}
	return ReasonPreviewRefund
}

// CreditTransaction is one row of the credit audit trail.
type CreditTransaction struct {
	ID           string
	WorkspaceID  string
	GenerationID *string
	Delta        int64
	Reason       CreditReason
	BalanceAfter int64
	CreatedAt    time.Time
}
