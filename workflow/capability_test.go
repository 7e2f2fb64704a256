package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/thonexdp/e-serviceflow-sub001/models"
)

func TestCanManage(t *testing.T) {
	for _, role := range []models.Role{models.RoleAdmin, models.RoleProductionHead} {
		c := &Capability{UserId: 1, Role: role}
		if !c.CanManage() {
			t.Errorf("%s should manage", role)
		}
	}
	worker := &Capability{UserId: 1, Role: models.RoleProductionWorker}
	if worker.CanManage() {
		t.Errorf("worker should not manage")
	}
}

func TestCheckCanAdvanceAndDeduct(t *testing.T) {
	head := &Capability{UserId: 1, Role: models.RoleProductionHead}
	if err := head.CheckCanAdvance(); err != nil {
		t.Fatalf("head advance: %v", err)
	}
	if err := head.CheckCanDeduct(); err != nil {
		t.Fatalf("head deduct: %v", err)
	}

	worker := &Capability{UserId: 2, Role: models.RoleProductionWorker}
	if err := worker.CheckCanAdvance(); !errors.Is(err, models.ErrorNotAuthorized) {
		t.Fatalf("worker advance: expected not-authorized, got %v", err)
	}
	if err := worker.CheckCanDeduct(); !errors.Is(err, models.ErrorNotAuthorized) {
		t.Fatalf("worker deduct: expected not-authorized, got %v", err)
	}
}

func TestCheckCanStartWorkerRequiresPrintingFirst(t *testing.T) {
	ticket := &models.Ticket{ID: 1, TicketNumber: "TKT-1"}

	// A worker with a printing grant still cannot self-start a ticket whose
	// first enabled step is not printing.
	worker := &Capability{
		UserId: 2,
		Role:   models.RoleProductionWorker,
		Steps:  map[models.WorkflowStep]bool{models.WorkflowStepPrinting: true},
	}
	err := worker.CheckCanStart(context.Background(), ticket, models.WorkflowStepCutting)
	if !errors.Is(err, models.ErrorNotAuthorized) {
		t.Fatalf("expected not-authorized for non-printing first step, got %v", err)
	}

	// A worker without the printing grant is refused even when the first
	// step is printing.
	bare := &Capability{
		UserId: 3,
		Role:   models.RoleProductionWorker,
		Steps:  map[models.WorkflowStep]bool{},
	}
	err = bare.CheckCanStart(context.Background(), ticket, models.WorkflowStepPrinting)
	if !errors.Is(err, models.ErrorNotAuthorized) {
		t.Fatalf("expected not-authorized without printing grant, got %v", err)
	}

	// Managers bypass the step and assignment checks entirely.
	head := &Capability{UserId: 1, Role: models.RoleProductionHead}
	if err := head.CheckCanStart(context.Background(), ticket, models.WorkflowStepCutting); err != nil {
		t.Fatalf("head start: %v", err)
	}
}
