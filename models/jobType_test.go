package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func boolPtr(v bool) *bool { return &v }

func jobTypeWithSteps(steps map[WorkflowStep]bool) *JobType {
	jt := &JobType{ID: 1}
	for key, enabled := range steps {
		jt.Steps = append(jt.Steps, JobTypeStep{StepKey: key, Enabled: boolPtr(enabled)})
	}
	return jt
}

func TestEnabledStepsFollowsCanonicalOrder(t *testing.T) {
	// Declared out of order; the active sequence must still be canonical.
	jt := jobTypeWithSteps(map[WorkflowStep]bool{
		WorkflowStepQa:       true,
		WorkflowStepPrinting: true,
		WorkflowStepCutting:  true,
		WorkflowStepSewing:   false,
	})

	got := jt.EnabledSteps()
	want := []WorkflowStep{WorkflowStepPrinting, WorkflowStepCutting, WorkflowStepQa}
	if len(got) != len(want) {
		t.Fatalf("expected %d steps, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("step %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestEnabledStepsOmitsUnmentionedSteps(t *testing.T) {
	jt := jobTypeWithSteps(map[WorkflowStep]bool{
		WorkflowStepPrinting: true,
	})
	got := jt.EnabledSteps()
	if len(got) != 1 || got[0] != WorkflowStepPrinting {
		t.Fatalf("expected [printing], got %v", got)
	}
}

func TestNextEnabledStep(t *testing.T) {
	jt := jobTypeWithSteps(map[WorkflowStep]bool{
		WorkflowStepPrinting: true,
		WorkflowStepCutting:  true,
		WorkflowStepQa:       true,
	})

	next, err := jt.NextEnabledStep(WorkflowStepPrinting)
	if err != nil {
		t.Fatalf("NextEnabledStep(printing): %v", err)
	}
	if next != WorkflowStepCutting {
		t.Fatalf("expected cutting after printing, got %s", next)
	}

	next, err = jt.NextEnabledStep(WorkflowStepQa)
	if err != nil {
		t.Fatalf("NextEnabledStep(qa): %v", err)
	}
	if next != WorkflowStepDone {
		t.Fatalf("expected done after last step, got %s", next)
	}

	if _, err := jt.NextEnabledStep(WorkflowStepSewing); err == nil {
		t.Fatalf("expected error for a step the job type does not enable")
	}
}

func TestHasRecipe(t *testing.T) {
	jt := &JobType{}
	if jt.HasRecipe() {
		t.Fatalf("empty recipe should report false")
	}
	jt.Recipe = append(jt.Recipe, JobTypeRecipeLine{StockItemId: 1, QtyPerUnit: decimal.NewFromInt(2)})
	if !jt.HasRecipe() {
		t.Fatalf("expected recipe present")
	}
}
