package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/models"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
)

// DeductionInput optionally overrides the recipe-derived quantities. When
// Lines is empty the full recipe estimate is consumed; otherwise only the
// listed items are, at the given quantities.
type DeductionInput struct {
	Lines []AdjustedLine `json:"lines"`
	Note  string         `json:"note"`
	// MessageId deduplicates client retries. A repeated id is acknowledged
	// without consuming stock again.
	MessageId string `json:"message_id"`
}

// DeductMaterials consumes the ticket's materials exactly once. Every line
// goes through the movement ledger; the per-item costing snapshot and the
// ticket's deducted flag commit in the same transaction, so a concurrent
// second call observes the flag under the row lock and fails cleanly.
func DeductMaterials(ctx context.Context, ticketId int, input *DeductionInput) ([]*models.ProductionStockConsumption, error) {
	db := config.GetDB()

	capability, err := ResolveCapability(ctx)
	if err != nil {
		return nil, err
	}
	if err := capability.CheckCanDeduct(); err != nil {
		return nil, err
	}

	redisLock, err := utils.TicketLock(ctx, ticketId, "ticket-deduction", "workflow", "DeductMaterials")
	if err != nil {
		return nil, err
	}
	defer func() { _ = redisLock.Release(ctx) }()

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := AcquireTicketPostingLock(tx, ticketId); err != nil {
		return nil, err
	}
	defer ReleaseTicketPostingLock(tx, ticketId)

	ticket, err := models.LockTicket(tx.WithContext(ctx), ticketId)
	if err != nil {
		return nil, err
	}

	if input != nil && input.MessageId != "" {
		skip, err := BeginIdempotency(tx.WithContext(ctx), "deduct-materials", input.MessageId)
		if err != nil {
			return nil, err
		}
		if skip {
			// Already consumed by an earlier delivery; return the rows it wrote.
			var existing []*models.ProductionStockConsumption
			if err := tx.WithContext(ctx).Where("ticket_id = ?", ticketId).Find(&existing).Error; err != nil {
				return nil, err
			}
			if err := tx.Commit().Error; err != nil {
				return nil, err
			}
			return existing, nil
		}
	}

	if utils.DereferencePtr(ticket.MaterialsDeducted) {
		return nil, fmt.Errorf("%w: ticket %s", models.ErrorAlreadyDeducted, ticket.TicketNumber)
	}
	switch ticket.Status {
	case models.TicketStatusCancelled, models.TicketStatusRejected:
		return nil, fmt.Errorf("%w: ticket %s", models.ErrorTerminalState, ticket.TicketNumber)
	}

	jobType, err := models.GetJobType(ctx, ticket.JobTypeId)
	if err != nil {
		return nil, err
	}
	if !jobType.HasRecipe() {
		return nil, fmt.Errorf("job type %d has no material recipe", jobType.ID)
	}

	var adjusted []AdjustedLine
	note := ""
	if input != nil {
		adjusted = input.Lines
		note = input.Note
	}
	consumptions, err := deductLocked(ctx, tx, ticket, jobType, capability.UserId, adjusted, note)
	if err != nil {
		return nil, err
	}

	if input != nil && input.MessageId != "" {
		if err := MarkIdempotencySucceeded(tx.WithContext(ctx), "deduct-materials", input.MessageId); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return consumptions, nil
}

// deductLocked posts the consumption movements and the costing snapshot for a
// ticket already locked by the caller's transaction. Commit stays with the
// caller; an error rolls every movement back with it.
func deductLocked(ctx context.Context, tx *gorm.DB, ticket *models.Ticket, jobType *models.JobType, userId int, adjusted []AdjustedLine, note string) ([]*models.ProductionStockConsumption, error) {
	logger := config.GetLogger()

	quantities, wasAdjusted, err := resolveDeductionLines(jobType, ticket, adjusted)
	if err != nil {
		return nil, err
	}

	blockInsufficient := config.BlockInsufficientStock()

	var consumptions []*models.ProductionStockConsumption
	for _, line := range jobType.Recipe {
		qty, wanted := quantities[line.StockItemId]
		if !wanted || qty.IsZero() {
			continue
		}

		movement, err := models.RecordMovement(tx.WithContext(ctx), models.NewStockMovement{
			StockItemId:   line.StockItemId,
			Type:          models.StockMovementTypeConsumption,
			QtyDelta:      qty.Neg(),
			ReferenceType: "tickets",
			ReferenceId:   ticket.ID,
			Note:          note,
			UserId:        userId,
		})
		if err != nil {
			return nil, err
		}

		if movement.ClosingQty.IsNegative() {
			if blockInsufficient {
				return nil, fmt.Errorf("insufficient stock for item %d: balance would be %s",
					line.StockItemId, movement.ClosingQty)
			}
			logger.WithFields(logrus.Fields{
				"ticket_id":     ticket.ID,
				"stock_item_id": line.StockItemId,
				"closing_qty":   movement.ClosingQty.String(),
			}).Warn("material deduction drove stock balance negative")
		}

		consumption := models.ProductionStockConsumption{
			TicketId:    ticket.ID,
			StockItemId: line.StockItemId,
			QtyConsumed: qty,
			UnitCost:    movement.UnitCost,
			TotalCost:   qty.Mul(movement.UnitCost),
			WasAdjusted: &wasAdjusted,
		}
		if err := tx.WithContext(ctx).Create(&consumption).Error; err != nil {
			return nil, err
		}
		consumptions = append(consumptions, &consumption)
	}

	now := time.Now().UTC()
	deducted := true
	if err := tx.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticket.ID).
		Updates(map[string]interface{}{
			"materials_deducted":    true,
			"materials_deducted_at": &now,
		}).Error; err != nil {
		return nil, err
	}
	ticket.MaterialsDeducted = &deducted
	ticket.MaterialsDeductedAt = &now

	if err := models.SaveHistoryUpdate(tx.WithContext(ctx), "tickets", ticket.ID, false, true,
		"Ticket "+ticket.TicketNumber+" materials deducted."); err != nil {
		return nil, err
	}
	return consumptions, nil
}
