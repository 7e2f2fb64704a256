package models

import (
	"context"
	"errors"
	"time"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
)

// ProductionRecord stores the cumulative quantity one user has produced for
// one ticket step. QtyProduced is the last written value, not an increment;
// a repost with the same number is a harmless overwrite.
type ProductionRecord struct {
	ID          int          `gorm:"primary_key" json:"id"`
	TicketId    int          `gorm:"index:uniq_ticket_user_step,unique;not null" json:"ticket_id"`
	UserId      int          `gorm:"index:uniq_ticket_user_step,unique;not null" json:"user_id"`
	Step        WorkflowStep `gorm:"size:50;index:uniq_ticket_user_step,unique;not null" json:"step"`
	QtyProduced int          `gorm:"not null;default:0" json:"qty_produced"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

// WorkflowEvidence is an append-only file reference attached to a progress
// post. Contents live in external storage; this core never reads them.
type WorkflowEvidence struct {
	ID         int          `gorm:"primary_key" json:"id"`
	TicketId   int          `gorm:"index;not null" json:"ticket_id"`
	UserId     int          `gorm:"index;not null" json:"user_id"`
	Step       WorkflowStep `gorm:"size:50;not null" json:"step"`
	FilePath   string       `gorm:"size:500;not null" json:"file_path"`
	FileName   string       `gorm:"size:255" json:"file_name"`
	MimeType   string       `gorm:"size:100" json:"mime_type"`
	UploadedAt time.Time    `gorm:"autoCreateTime" json:"uploaded_at"`
}

type NewWorkflowEvidence struct {
	FilePath string `json:"file_path" binding:"required"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

// UpsertProductionRecord writes the (ticket, user, step) row to qty,
// last-write-wins. Must run under the caller's ticket row lock so the
// step-total check that follows sees a settled value.
func UpsertProductionRecord(tx *gorm.DB, ticketId, userId int, step WorkflowStep, qty int) error {
	record := ProductionRecord{
		TicketId: ticketId,
		UserId:   userId,
		Step:     step,
	}
	err := tx.Where("ticket_id = ? AND user_id = ? AND step = ?", ticketId, userId, step).
		FirstOrCreate(&record).Error
	if err != nil {
		return err
	}
	if record.QtyProduced == qty {
		return nil
	}
	return tx.Model(&ProductionRecord{}).
		Where("id = ?", record.ID).
		Update("qty_produced", qty).Error
}

// StepTotal sums all users' produced quantities for a ticket step.
func StepTotal(tx *gorm.DB, ticketId int, step WorkflowStep) (int, error) {
	var total *int
	err := tx.Model(&ProductionRecord{}).
		Select("SUM(qty_produced)").
		Where("ticket_id = ? AND step = ?", ticketId, step).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	if total == nil {
		return 0, nil
	}
	return *total, nil
}

// AppendEvidence stores the file references attached to a progress post.
func AppendEvidence(tx *gorm.DB, ticketId, userId int, step WorkflowStep, evidence []NewWorkflowEvidence) error {
	for _, e := range evidence {
		row := WorkflowEvidence{
			TicketId: ticketId,
			UserId:   userId,
			Step:     step,
			FilePath: e.FilePath,
			FileName: e.FileName,
			MimeType: e.MimeType,
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
	}
	return nil
}

func GetProductionRecords(ctx context.Context, ticketId int) ([]*ProductionRecord, error) {
	if err := utils.ValidateResourceId[Ticket](ctx, ticketId); err != nil {
		return nil, errors.New("ticket not found")
	}

	db := config.GetDB()
	var results []*ProductionRecord
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("step ASC, user_id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

func GetTicketEvidence(ctx context.Context, ticketId int) ([]*WorkflowEvidence, error) {
	if err := utils.ValidateResourceId[Ticket](ctx, ticketId); err != nil {
		return nil, errors.New("ticket not found")
	}

	db := config.GetDB()
	var results []*WorkflowEvidence
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
