package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
)

const (
	OutboxPublishStatusPending    = "PENDING"
	OutboxPublishStatusProcessing = "PROCESSING"
	OutboxPublishStatusSent       = "SENT"
	OutboxPublishStatusFailed     = "FAILED"
	OutboxPublishStatusDead       = "DEAD"
)

// TicketEventRecord is the transactional outbox for ticket domain events.
// The row commits atomically with the status transition that caused it;
// the dispatcher publishes it to Pub/Sub after the fact. Notification
// fan-out is entirely on the subscriber side.
type TicketEventRecord struct {
	ID                  int       `gorm:"primary_key" json:"id"`
	TransactionDateTime time.Time `gorm:"not null;index" json:"transaction_date_time"`
	TicketId            int       `gorm:"index;not null" json:"ticket_id"`
	TicketNumber        string    `gorm:"size:50" json:"ticket_number"`
	OldStatus           string    `gorm:"size:50" json:"old_status"`
	NewStatus           string    `gorm:"size:50" json:"new_status"`
	Action              string    `gorm:"size:100;not null" json:"action"`
	ActorId             int       `gorm:"index" json:"actor_id"`
	OldObj              []byte    `gorm:"type:longblob" json:"old_obj"`
	NewObj              []byte    `gorm:"type:longblob" json:"new_obj"`
	CorrelationId       string    `gorm:"size:64;index" json:"correlation_id"`

	IsProcessed      *bool      `gorm:"not null;default:false;index" json:"is_processed"`
	PublishStatus    string     `gorm:"size:20;not null;default:'PENDING';index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	NextAttemptAt    *time.Time `gorm:"index" json:"next_attempt_at"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:64" json:"pub_sub_message_id"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PublishTicketEvent writes the outbox row inside the caller's transaction.
// Event shape: {ticket, old_status, new_status, actor, timestamp}.
func PublishTicketEvent(ctx context.Context, tx *gorm.DB, ticket *Ticket, oldStatus, newStatus TicketStatus, action string) error {
	actorId, _ := utils.GetUserIdFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)

	newObj, err := json.Marshal(ticket)
	if err != nil {
		return err
	}

	record := TicketEventRecord{
		TransactionDateTime: time.Now().UTC(),
		TicketId:            ticket.ID,
		TicketNumber:        ticket.TicketNumber,
		OldStatus:           string(oldStatus),
		NewStatus:           string(newStatus),
		Action:              action,
		ActorId:             actorId,
		NewObj:              newObj,
		CorrelationId:       correlationId,
	}
	return tx.Create(&record).Error
}

// ConvertToPubSubMessage maps an outbox row to the wire shape.
func ConvertToPubSubMessage(rec TicketEventRecord) config.PubSubMessage {
	return config.PubSubMessage{
		ID:                  rec.ID,
		TransactionDateTime: rec.TransactionDateTime,
		ReferenceId:         rec.TicketId,
		ReferenceType:       "tickets",
		Action:              rec.Action,
		OldObj:              rec.OldObj,
		NewObj:              rec.NewObj,
		CorrelationId:       rec.CorrelationId,
	}
}
