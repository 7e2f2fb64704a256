package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Ticket is a custom print job moving through the production pipeline.
// Status and CurrentWorkflowStep are only mutated by the workflow package;
// TotalQuantity is fixed at creation.
type Ticket struct {
	ID           int    `gorm:"primary_key" json:"id"`
	TicketNumber string `gorm:"size:50;not null;uniqueIndex" json:"ticket_number"`
	SequenceNo   int64  `gorm:"not null" json:"sequence_no"`
	CustomerId   int    `gorm:"index;not null" json:"customer_id"`
	BranchId     int    `gorm:"index;not null" json:"branch_id"`
	JobTypeId    int    `gorm:"index;not null" json:"job_type_id"`

	Quantity      int `gorm:"not null" json:"quantity"`
	FreeQuantity  int `gorm:"not null;default:0" json:"free_quantity"`
	TotalQuantity int `gorm:"not null" json:"total_quantity"`

	// Print dimensions in meters, used for area and length based recipe lines.
	PrintWidth  decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"print_width"`
	PrintHeight decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"print_height"`

	Status       TicketStatus `gorm:"type:enum('pending','ready_to_print','in_production','completed','cancelled','rejected');not null;default:'pending';index" json:"status"`
	DesignStatus DesignStatus `gorm:"type:enum('pending','approved','rejected');not null;default:'pending'" json:"design_status"`

	CurrentWorkflowStep    *WorkflowStep `gorm:"size:50" json:"current_workflow_step"`
	CurrentStepCompletedAt *time.Time    `json:"current_step_completed_at"`
	WorkflowStartedAt      *time.Time    `json:"workflow_started_at"`
	WorkflowCompletedAt    *time.Time    `json:"workflow_completed_at"`

	MaterialsDeducted   *bool      `gorm:"not null;default:false" json:"materials_deducted"`
	MaterialsDeductedAt *time.Time `json:"materials_deducted_at"`

	Notes     string    `gorm:"type:text" json:"notes"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewTicket struct {
	CustomerId   int             `json:"customer_id" binding:"required"`
	BranchId     int             `json:"branch_id" binding:"required"`
	JobTypeId    int             `json:"job_type_id" binding:"required"`
	Quantity     int             `json:"quantity" binding:"required"`
	FreeQuantity int             `json:"free_quantity"`
	PrintWidth   decimal.Decimal `json:"print_width"`
	PrintHeight  decimal.Decimal `json:"print_height"`
	Notes        string          `json:"notes"`
}

func (input *NewTicket) validate(ctx context.Context) error {
	if input.Quantity <= 0 {
		return errors.New("quantity must be positive")
	}
	if input.FreeQuantity < 0 {
		return errors.New("free quantity cannot be negative")
	}
	if input.PrintWidth.IsNegative() || input.PrintHeight.IsNegative() {
		return errors.New("print dimensions cannot be negative")
	}
	if err := utils.ValidateResourceId[Customer](ctx, input.CustomerId); err != nil {
		return errors.New("customer not found")
	}
	if err := utils.ValidateResourceId[Branch](ctx, input.BranchId); err != nil {
		return errors.New("branch not found")
	}
	if err := utils.ValidateResourceId[JobType](ctx, input.JobTypeId); err != nil {
		return errors.New("job type not found")
	}
	return nil
}

func CreateTicket(ctx context.Context, input *NewTicket) (*Ticket, error) {
	db := config.GetDB()

	if err := input.validate(ctx); err != nil {
		return nil, err
	}

	ticket := Ticket{
		CustomerId:    input.CustomerId,
		BranchId:      input.BranchId,
		JobTypeId:     input.JobTypeId,
		Quantity:      input.Quantity,
		FreeQuantity:  input.FreeQuantity,
		TotalQuantity: input.Quantity + input.FreeQuantity,
		PrintWidth:    input.PrintWidth,
		PrintHeight:   input.PrintHeight,
		Status:        TicketStatusPending,
		DesignStatus:  DesignStatusPending,
		Notes:         input.Notes,
	}

	tx := db.Begin()

	seqNo, err := utils.GetSequence[Ticket](ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	ticket.SequenceNo = seqNo
	ticket.TicketNumber = "TKT-" + fmt.Sprint(seqNo)

	// IMPORTANT: always rollback on early-return or panic to avoid leaking DB locks
	// (leaked transactions are a common cause of MySQL 1205 lock wait timeouts).
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&ticket).Error; err != nil {
		return nil, err
	}

	if err := SaveHistoryCreate(tx.WithContext(ctx), "tickets", ticket.ID, &ticket, "Ticket "+ticket.TicketNumber+" created."); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &ticket, nil
}

func GetTicket(ctx context.Context, id int) (*Ticket, error) {
	return utils.FetchModel[Ticket](ctx, id)
}

// GetTickets lists tickets, optionally filtered by status, newest first.
func GetTickets(ctx context.Context, status *TicketStatus) ([]*Ticket, error) {
	db := config.GetDB()
	var results []*Ticket
	dbCtx := db.WithContext(ctx).Model(&Ticket{})
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("id DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// LockTicket loads the ticket row FOR UPDATE inside tx. Every sequencing
// decision (progress, completion check, advance, deduction) happens under
// this lock.
func LockTicket(tx *gorm.DB, ticketId int) (*Ticket, error) {
	var ticket Ticket
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&ticket, ticketId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &ticket, nil
}

// UpdateDesignStatus moves the design approval flag. Approving also makes the
// ticket ready for the floor.
func UpdateDesignStatus(ctx context.Context, id int, designStatus DesignStatus) (*Ticket, error) {
	db := config.GetDB()

	switch designStatus {
	case DesignStatusApproved, DesignStatusRejected:
	default:
		return nil, errors.New("invalid design status")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	ticket, err := LockTicket(tx.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, ErrorTerminalState
	}

	updates := map[string]interface{}{"design_status": designStatus}
	oldStatus := ticket.Status
	if designStatus == DesignStatusApproved && ticket.Status == TicketStatusPending {
		updates["status"] = TicketStatusReadyToPrint
	}
	if designStatus == DesignStatusRejected && ticket.Status == TicketStatusPending {
		updates["status"] = TicketStatusRejected
	}

	if err := tx.WithContext(ctx).Model(&Ticket{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, err
	}

	ticket.DesignStatus = designStatus
	if s, ok := updates["status"].(TicketStatus); ok {
		ticket.Status = s
	}

	if ticket.Status != oldStatus {
		if err := PublishTicketEvent(ctx, tx, ticket, oldStatus, ticket.Status, "DESIGN_"+string(designStatus)); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ticket, nil
}

// CancelTicket is the only status mutation outside the sequencer; cancelling
// a ticket mid-production abandons its progress records.
func CancelTicket(ctx context.Context, id int) (*Ticket, error) {
	db := config.GetDB()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	ticket, err := LockTicket(tx.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	if ticket.Status.IsTerminal() {
		return nil, ErrorTerminalState
	}

	oldStatus := ticket.Status
	if err := tx.WithContext(ctx).Model(&Ticket{}).Where("id = ?", id).
		Update("status", TicketStatusCancelled).Error; err != nil {
		return nil, err
	}
	ticket.Status = TicketStatusCancelled

	if err := SaveHistoryUpdate(tx.WithContext(ctx), "tickets", ticket.ID, oldStatus, ticket.Status, "Ticket "+ticket.TicketNumber+" cancelled."); err != nil {
		return nil, err
	}
	if err := PublishTicketEvent(ctx, tx, ticket, oldStatus, TicketStatusCancelled, "CANCEL"); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ticket, nil
}
