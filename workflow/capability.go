package workflow

import (
	"context"
	"fmt"

	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/models"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
)

// Capability is the resolved authority of the calling user for workflow
// mutations. Admin and production head can do everything; a production
// worker is limited to the steps granted to them and the tickets they are
// assigned to.
type Capability struct {
	UserId int
	Role   models.Role
	Steps  map[models.WorkflowStep]bool
}

// ResolveCapability builds the gate input from the JWT claims in ctx plus,
// for workers, their step grants from the database.
func ResolveCapability(ctx context.Context) (*Capability, error) {
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId <= 0 {
		return nil, fmt.Errorf("%w: missing user identity", models.ErrorNotAuthorized)
	}
	roleStr, ok := utils.GetRoleFromContext(ctx)
	if !ok || roleStr == "" {
		return nil, fmt.Errorf("%w: missing role claim", models.ErrorNotAuthorized)
	}

	capability := Capability{
		UserId: userId,
		Role:   models.Role(roleStr),
		Steps:  make(map[models.WorkflowStep]bool),
	}

	switch capability.Role {
	case models.RoleAdmin, models.RoleProductionHead:
		return &capability, nil
	case models.RoleProductionWorker:
	default:
		return nil, fmt.Errorf("%w: unknown role %q", models.ErrorNotAuthorized, roleStr)
	}

	db := config.GetDB()
	var grants []models.UserWorkflowStep
	if err := db.WithContext(ctx).Where("user_id = ?", userId).Find(&grants).Error; err != nil {
		return nil, err
	}
	for _, g := range grants {
		capability.Steps[g.StepKey] = true
	}
	return &capability, nil
}

// CanManage is the admin / production head shortcut.
func (c *Capability) CanManage() bool {
	return c.Role == models.RoleAdmin || c.Role == models.RoleProductionHead
}

func (c *Capability) hasStep(step models.WorkflowStep) bool {
	return c.Steps[step]
}

// CheckCanStart gates StartProduction. Managers start anything. A printing
// worker may start a ticket themselves when the first enabled step is
// printing and they are assigned, so the floor does not wait on a manager
// for the common case.
func (c *Capability) CheckCanStart(ctx context.Context, ticket *models.Ticket, firstStep models.WorkflowStep) error {
	if c.CanManage() {
		return nil
	}
	if firstStep != models.WorkflowStepPrinting || !c.hasStep(models.WorkflowStepPrinting) {
		return fmt.Errorf("%w: user %d cannot start ticket %s", models.ErrorNotAuthorized, c.UserId, ticket.TicketNumber)
	}
	assigned, err := models.IsUserAssignedToTicket(ctx, ticket.ID, c.UserId)
	if err != nil {
		return err
	}
	if !assigned {
		return fmt.Errorf("%w: user %d is not assigned to ticket %s", models.ErrorNotAuthorized, c.UserId, ticket.TicketNumber)
	}
	return nil
}

// CheckCanPostProgress gates PostProgress for one step.
func (c *Capability) CheckCanPostProgress(ctx context.Context, ticket *models.Ticket, step models.WorkflowStep) error {
	if c.CanManage() {
		return nil
	}
	if !c.hasStep(step) {
		return fmt.Errorf("%w: user %d has no %s capability", models.ErrorNotAuthorized, c.UserId, step)
	}
	assigned, err := models.IsUserAssignedToTicket(ctx, ticket.ID, c.UserId)
	if err != nil {
		return err
	}
	if !assigned {
		return fmt.Errorf("%w: user %d is not assigned to ticket %s", models.ErrorNotAuthorized, c.UserId, ticket.TicketNumber)
	}
	return nil
}

// CheckCanAdvance gates explicit and forced advancement; workers never
// advance directly, the sequencer does it for them on a completing post.
func (c *Capability) CheckCanAdvance() error {
	if c.CanManage() {
		return nil
	}
	return fmt.Errorf("%w: only admin or production head may advance a ticket", models.ErrorNotAuthorized)
}

// CheckCanDeduct gates material deduction and stock corrections.
func (c *Capability) CheckCanDeduct() error {
	if c.CanManage() {
		return nil
	}
	return fmt.Errorf("%w: only admin or production head may deduct materials", models.ErrorNotAuthorized)
}
