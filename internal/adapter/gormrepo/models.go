package gormrepo

import (
	"time"

	"gorm.io/gorm"

	"genstudio/internal/domain"
)

// generationModel maps the generations table.
type generationModel struct {
	ID                   string     `gorm:"primaryKey;type:text"`
	WorkspaceID          string     `gorm:"type:text;not null;index:idx_generations_workspace,priority:1"`
	Type                 string     `gorm:"type:text;not null"`
	Tier                 string     `gorm:"type:text;not null;default:standard"`
	Prompt               string     `gorm:"type:text;not null"`
	Status               string     `gorm:"type:text;not null;index:idx_generations_claim,priority:1"`
	PreviewCostCredits   int64      `gorm:"not null"`
	FinalCostCredits     int64      `gorm:"not null"`
	WorkerID             *string    `gorm:"type:text"`
	WorkerHeartbeatAt    *time.Time `gorm:"index"`
	ExternalJobID        *string    `gorm:"type:text;index"`
	PreviewExternalJobID *string    `gorm:"type:text;index"`
	Progress             int        `gorm:"not null;default:0"`
	Attempts             int        `gorm:"not null;default:0"`
	PollAfter            *time.Time
	ErrorMessage         *string `gorm:"type:text"`
	PreviewURL           *string `gorm:"type:text"`
	OutputURL            *string `gorm:"type:text"`
	CreatedAt            time.Time `gorm:"index:idx_generations_claim,priority:2;index:idx_generations_workspace,priority:2"`
	UpdatedAt            time.Time
	SubmittedAt          *time.Time
	PreviewCompletedAt   *time.Time
	FinalRequestedAt     *time.Time
	CompletedAt          *time.Time
}

func (generationModel) TableName() string { return "generations" }

func (m *generationModel) toDomain() *domain.Generation {
	return &domain.Generation{
		ID:                   m.ID,
		WorkspaceID:          m.WorkspaceID,
		Type:                 domain.GenerationType(m.Type),
		Tier:                 domain.Tier(m.Tier),
		Prompt:               m.Prompt,
		Status:               domain.Status(m.Status),
		PreviewCostCredits:   m.PreviewCostCredits,
		FinalCostCredits:     m.FinalCostCredits,
		WorkerID:             m.WorkerID,
		WorkerHeartbeatAt:    utcPtr(m.WorkerHeartbeatAt),
		ExternalJobID:        m.ExternalJobID,
		PreviewExternalJobID: m.PreviewExternalJobID,
		Progress:             m.Progress,
		Attempts:             m.Attempts,
		PollAfter:            utcPtr(m.PollAfter),
		ErrorMessage:         m.ErrorMessage,
		PreviewURL:           m.PreviewURL,
		OutputURL:            m.OutputURL,
		CreatedAt:            m.CreatedAt.UTC(),
		UpdatedAt:            m.UpdatedAt.UTC(),
		SubmittedAt:          utcPtr(m.SubmittedAt),
		PreviewCompletedAt:   utcPtr(m.PreviewCompletedAt),
		FinalRequestedAt:     utcPtr(m.FinalRequestedAt),
		CompletedAt:          utcPtr(m.CompletedAt),
	}
}

func generationFromDomain(g *domain.Generation) *generationModel {
	return &generationModel{
		ID:                 g.ID,
		WorkspaceID:        g.WorkspaceID,
		Type:               string(g.Type),
		Tier:               string(g.Tier),
		Prompt:             g.Prompt,
		Status:             string(g.Status),
		PreviewCostCredits: g.PreviewCostCredits,
		FinalCostCredits:   g.FinalCostCredits,
		Progress:           g.Progress,
		Attempts:           g.Attempts,
		CreatedAt:          g.CreatedAt,
		UpdatedAt:          g.UpdatedAt,
	}
}

// workspaceModel maps the workspaces table.
type workspaceModel struct {
	ID            string `gorm:"primaryKey;type:text"`
	CreditBalance int64  `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (workspaceModel) TableName() string { return "workspaces" }

// creditTransactionModel maps the credit_transactions audit table.
type creditTransactionModel struct {
	ID           string  `gorm:"primaryKey;type:text"`
	WorkspaceID  string  `gorm:"type:text;not null;index"`
	GenerationID *string `gorm:"type:text;index"`
	Delta        int64   `gorm:"not null"`
	Reason       string  `gorm:"type:text;not null"`
	BalanceAfter int64   `gorm:"not null"`
	CreatedAt    time.Time
}

func (creditTransactionModel) TableName() string { return "credit_transactions" }

func (m *creditTransactionModel) toDomain() domain.CreditTransaction {
	return domain.CreditTransaction{
		ID:           m.ID,
		WorkspaceID:  m.WorkspaceID,
		GenerationID: m.GenerationID,
		Delta:        m.Delta,
		Reason:       domain.CreditReason(m.Reason),
		BalanceAfter: m.BalanceAfter,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

// AutoMigrate creates or updates the tables served by this package.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&workspaceModel{}, &creditTransactionModel{}, &generationModel{})
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
