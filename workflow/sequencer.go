package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/models"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"gorm.io/gorm"
)

// ProgressInput is one worker's cumulative progress report for a step.
// Quantity replaces the user's previous figure for the same step, it does
// not add to it.
type ProgressInput struct {
	Step     models.WorkflowStep         `json:"step" binding:"required"`
	Quantity int                         `json:"quantity"`
	Evidence []models.NewWorkflowEvidence `json:"evidence"`
	// MessageId deduplicates client retries. A repeated id is acknowledged
	// without re-applying the post.
	MessageId string `json:"message_id"`
}

// ProgressResult reports what the post did to the ticket.
type ProgressResult struct {
	Ticket       *models.Ticket      `json:"ticket"`
	Step         models.WorkflowStep `json:"step"`
	StepTotal    int                 `json:"step_total"`
	StepComplete bool                `json:"step_complete"`
	Advanced     bool                `json:"advanced"`
}

// StartProduction moves a ready_to_print ticket onto the floor: status goes
// to in_production and the current step becomes the first enabled step of
// the job type.
func StartProduction(ctx context.Context, ticketId int) (*models.Ticket, error) {
	db := config.GetDB()

	capability, err := ResolveCapability(ctx)
	if err != nil {
		return nil, err
	}

	redisLock, err := utils.TicketLock(ctx, ticketId, "ticket-workflow", "workflow", "StartProduction")
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
	if ticket.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: ticket %s is %s", models.ErrorTerminalState, ticket.TicketNumber, ticket.Status)
	}
	if ticket.Status != models.TicketStatusReadyToPrint {
		return nil, fmt.Errorf("%w: ticket %s cannot start production from status %s",
			models.ErrorInvalidTransition, ticket.TicketNumber, ticket.Status)
	}
	// A design rejection after the ticket went ready_to_print must still
	// block the floor.
	if ticket.DesignStatus != models.DesignStatusApproved {
		return nil, fmt.Errorf("%w: ticket %s design is %s, not approved",
			models.ErrorInvalidTransition, ticket.TicketNumber, ticket.DesignStatus)
	}

	jobType, err := models.GetJobType(ctx, ticket.JobTypeId)
	if err != nil {
		return nil, err
	}
	sequence := jobType.EnabledSteps()
	if len(sequence) == 0 {
		return nil, fmt.Errorf("job type %d has no enabled steps", jobType.ID)
	}
	firstStep := sequence[0]

	if err := capability.CheckCanStart(ctx, ticket, firstStep); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	oldStatus := ticket.Status
	updates := map[string]interface{}{
		"status":                models.TicketStatusInProduction,
		"current_workflow_step": firstStep,
		"workflow_started_at":   &now,
	}
	if err := tx.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketId).Updates(updates).Error; err != nil {
		return nil, err
	}
	ticket.Status = models.TicketStatusInProduction
	ticket.CurrentWorkflowStep = &firstStep
	ticket.WorkflowStartedAt = &now

	if err := models.SaveHistoryUpdate(tx.WithContext(ctx), "tickets", ticket.ID, oldStatus, ticket.Status,
		"Ticket "+ticket.TicketNumber+" started production at step "+string(firstStep)+"."); err != nil {
		return nil, err
	}
	if err := models.PublishTicketEvent(ctx, tx, ticket, oldStatus, ticket.Status, "START_PRODUCTION"); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ticket, nil
}

// PostProgress records one worker's cumulative figure for the current step,
// attaches any evidence, and, when the step total reaches the ticket's
// total quantity, marks the step complete and (with auto-advance on) moves
// the ticket to the next step in the same transaction.
func PostProgress(ctx context.Context, ticketId int, input *ProgressInput) (*ProgressResult, error) {
	db := config.GetDB()

	capability, err := ResolveCapability(ctx)
	if err != nil {
		return nil, err
	}
	if !models.IsKnownWorkflowStep(input.Step) {
		return nil, fmt.Errorf("%w: %q", models.ErrorInvalidStep, input.Step)
	}

	redisLock, err := utils.TicketLock(ctx, ticketId, "ticket-workflow", "workflow", "PostProgress")
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

	if input.MessageId != "" {
		skip, err := BeginIdempotency(tx.WithContext(ctx), "post-progress", input.MessageId)
		if err != nil {
			return nil, err
		}
		if skip {
			// Already applied by an earlier delivery; report the current
			// state without re-posting.
			stepTotal, err := models.StepTotal(tx.WithContext(ctx), ticketId, input.Step)
			if err != nil {
				return nil, err
			}
			result := ProgressResult{
				Ticket:       ticket,
				Step:         input.Step,
				StepTotal:    stepTotal,
				StepComplete: stepTotal >= ticket.TotalQuantity,
			}
			if err := tx.Commit().Error; err != nil {
				return nil, err
			}
			return &result, nil
		}
	}

	if ticket.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: ticket %s is %s", models.ErrorTerminalState, ticket.TicketNumber, ticket.Status)
	}
	if ticket.Status != models.TicketStatusInProduction {
		return nil, fmt.Errorf("%w: ticket %s is not in production",
			models.ErrorInvalidTransition, ticket.TicketNumber)
	}
	if ticket.CurrentWorkflowStep == nil || *ticket.CurrentWorkflowStep != input.Step {
		current := models.WorkflowStep("")
		if ticket.CurrentWorkflowStep != nil {
			current = *ticket.CurrentWorkflowStep
		}
		return nil, fmt.Errorf("%w: ticket %s is at step %s, not %s",
			models.ErrorInvalidStep, ticket.TicketNumber, current, input.Step)
	}
	if input.Quantity < 0 || input.Quantity > ticket.TotalQuantity {
		return nil, fmt.Errorf("%w: quantity %d is outside 0..%d",
			models.ErrorQuantityExceeded, input.Quantity, ticket.TotalQuantity)
	}

	if err := capability.CheckCanPostProgress(ctx, ticket, input.Step); err != nil {
		return nil, err
	}

	if err := models.UpsertProductionRecord(tx.WithContext(ctx), ticketId, capability.UserId, input.Step, input.Quantity); err != nil {
		return nil, err
	}
	if len(input.Evidence) > 0 {
		if err := models.AppendEvidence(tx.WithContext(ctx), ticketId, capability.UserId, input.Step, input.Evidence); err != nil {
			return nil, err
		}
	}

	stepTotal, err := models.StepTotal(tx.WithContext(ctx), ticketId, input.Step)
	if err != nil {
		return nil, err
	}
	// The sum across all posters may not pass the ticket's quantity, even
	// when each individual figure is in range. Returning here rolls the
	// upsert back.
	if stepTotal > ticket.TotalQuantity {
		return nil, fmt.Errorf("%w: step %s total %d exceeds ticket quantity %d",
			models.ErrorQuantityExceeded, input.Step, stepTotal, ticket.TotalQuantity)
	}

	result := ProgressResult{
		Ticket:    ticket,
		Step:      input.Step,
		StepTotal: stepTotal,
	}

	if stepTotal >= ticket.TotalQuantity {
		result.StepComplete = true
		now := time.Now().UTC()
		if err := tx.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticketId).
			Update("current_step_completed_at", &now).Error; err != nil {
			return nil, err
		}
		ticket.CurrentStepCompletedAt = &now

		if config.WorkflowAutoAdvance() {
			jobType, err := models.GetJobType(ctx, ticket.JobTypeId)
			if err != nil {
				return nil, err
			}
			if err := advanceLocked(ctx, tx, ticket, jobType, "AUTO_ADVANCE"); err != nil {
				return nil, err
			}
			result.Advanced = true
		}
	}

	if input.MessageId != "" {
		if err := MarkIdempotencySucceeded(tx.WithContext(ctx), "post-progress", input.MessageId); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &result, nil
}

// AdvanceWorkflow moves the ticket past its current step. Unless force is
// set, the step total must already cover the ticket's total quantity.
// Force exists for spoilage calls where the full count will never arrive.
func AdvanceWorkflow(ctx context.Context, ticketId int, force bool) (*models.Ticket, error) {
	db := config.GetDB()

	capability, err := ResolveCapability(ctx)
	if err != nil {
		return nil, err
	}
	if err := capability.CheckCanAdvance(); err != nil {
		return nil, err
	}

	redisLock, err := utils.TicketLock(ctx, ticketId, "ticket-workflow", "workflow", "AdvanceWorkflow")
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
	if ticket.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: ticket %s is %s", models.ErrorTerminalState, ticket.TicketNumber, ticket.Status)
	}
	if ticket.Status != models.TicketStatusInProduction || ticket.CurrentWorkflowStep == nil {
		return nil, fmt.Errorf("%w: ticket %s is not in production",
			models.ErrorInvalidTransition, ticket.TicketNumber)
	}

	if !force {
		stepTotal, err := models.StepTotal(tx.WithContext(ctx), ticketId, *ticket.CurrentWorkflowStep)
		if err != nil {
			return nil, err
		}
		if stepTotal < ticket.TotalQuantity {
			return nil, fmt.Errorf("%w: step %s has %d of %d",
				models.ErrorStepIncomplete, *ticket.CurrentWorkflowStep, stepTotal, ticket.TotalQuantity)
		}
	}

	jobType, err := models.GetJobType(ctx, ticket.JobTypeId)
	if err != nil {
		return nil, err
	}
	action := "ADVANCE"
	if force {
		action = "FORCE_ADVANCE"
	}
	if err := advanceLocked(ctx, tx, ticket, jobType, action); err != nil {
		return nil, err
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return ticket, nil
}

// advanceLocked moves the in-memory ticket (already locked by the caller's
// transaction) to the next enabled step, or completes it after the last one.
// Writes the ticket row, history and outbox event; commit stays with the
// caller.
func advanceLocked(ctx context.Context, tx *gorm.DB, ticket *models.Ticket, jobType *models.JobType, action string) error {
	next, err := jobType.NextEnabledStep(*ticket.CurrentWorkflowStep)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	oldStatus := ticket.Status
	updates := map[string]interface{}{
		"current_workflow_step": next,
	}
	if next == models.WorkflowStepDone {
		updates["status"] = models.TicketStatusCompleted
		updates["workflow_completed_at"] = &now
		ticket.Status = models.TicketStatusCompleted
		ticket.WorkflowCompletedAt = &now
	} else {
		// New step starts with a clean completion marker.
		updates["current_step_completed_at"] = nil
		ticket.CurrentStepCompletedAt = nil
	}
	previous := *ticket.CurrentWorkflowStep
	ticket.CurrentWorkflowStep = &next

	if err := tx.WithContext(ctx).Model(&models.Ticket{}).Where("id = ?", ticket.ID).Updates(updates).Error; err != nil {
		return err
	}

	// Completing the last step consumes the recipe in the same transaction,
	// unless a manual deduction already ran for this ticket.
	if next == models.WorkflowStepDone && jobType.HasRecipe() && !utils.DereferencePtr(ticket.MaterialsDeducted) {
		userId, _ := utils.GetUserIdFromContext(ctx)
		if _, err := deductLocked(ctx, tx, ticket, jobType, userId, nil, ""); err != nil {
			return err
		}
	}

	description := "Ticket " + ticket.TicketNumber + " advanced from " + string(previous) + " to " + string(next) + "."
	if next == models.WorkflowStepDone {
		description = "Ticket " + ticket.TicketNumber + " completed production."
	}
	if err := models.SaveHistoryUpdate(tx.WithContext(ctx), "tickets", ticket.ID, previous, next, description); err != nil {
		return err
	}
	return models.PublishTicketEvent(ctx, tx, ticket, oldStatus, ticket.Status, action)
}
