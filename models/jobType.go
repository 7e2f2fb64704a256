package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
)

// JobType describes a product line: which production steps it runs and what
// materials one produced unit consumes. Pricing lives elsewhere.
type JobType struct {
	ID        int               `gorm:"primary_key" json:"id"`
	Name      string            `gorm:"size:255;not null;uniqueIndex" json:"name" binding:"required"`
	IsActive  *bool             `gorm:"not null;default:true" json:"is_active"`
	Steps     []JobTypeStep     `json:"steps"`
	Recipe    []JobTypeRecipeLine `json:"recipe"`
	CreatedAt time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

// JobTypeStep is one row of the step configuration. Order is not stored
// here; CanonicalStepOrder decides sequencing, this only enables steps and
// carries the per-piece incentive.
type JobTypeStep struct {
	ID             int             `gorm:"primary_key" json:"id"`
	JobTypeId      int             `gorm:"index:uniq_jobtype_step,unique;not null" json:"job_type_id"`
	StepKey        WorkflowStep    `gorm:"size:50;index:uniq_jobtype_step,unique;not null" json:"step_key"`
	Enabled        *bool           `gorm:"not null;default:true" json:"enabled"`
	IncentivePrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"incentive_price"`
}

type JobTypeRecipeLine struct {
	ID               int              `gorm:"primary_key" json:"id"`
	JobTypeId        int              `gorm:"index:uniq_jobtype_item,unique;not null" json:"job_type_id"`
	StockItemId      int              `gorm:"index:uniq_jobtype_item,unique;not null" json:"stock_item_id"`
	QtyPerUnit       decimal.Decimal  `gorm:"type:decimal(20,4);not null" json:"qty_per_unit"`
	IsOptional       *bool            `gorm:"not null;default:false" json:"is_optional"`
	CalculationBasis CalculationBasis `gorm:"type:enum('unit','area','length');default:'unit'" json:"calculation_basis"`
}

type NewJobType struct {
	Name   string                 `json:"name" binding:"required"`
	Steps  []NewJobTypeStep       `json:"steps" binding:"required"`
	Recipe []NewJobTypeRecipeLine `json:"recipe"`
}

type NewJobTypeStep struct {
	StepKey        WorkflowStep    `json:"step_key" binding:"required"`
	Enabled        *bool           `json:"enabled"`
	IncentivePrice decimal.Decimal `json:"incentive_price"`
}

type NewJobTypeRecipeLine struct {
	StockItemId      int              `json:"stock_item_id" binding:"required"`
	QtyPerUnit       decimal.Decimal  `json:"qty_per_unit" binding:"required"`
	IsOptional       *bool            `json:"is_optional"`
	CalculationBasis CalculationBasis `json:"calculation_basis"`
}

// EnabledSteps resolves the active sequence for this job type: the canonical
// order filtered to enabled steps. Steps the job type does not mention are
// treated as disabled.
func (jt *JobType) EnabledSteps() []WorkflowStep {
	enabled := make(map[WorkflowStep]bool, len(jt.Steps))
	for _, s := range jt.Steps {
		if s.Enabled != nil && *s.Enabled {
			enabled[s.StepKey] = true
		}
	}
	var sequence []WorkflowStep
	for _, step := range CanonicalStepOrder {
		if enabled[step] {
			sequence = append(sequence, step)
		}
	}
	return sequence
}

// NextEnabledStep returns the step after current in the active sequence, or
// WorkflowStepDone when current is the last one.
func (jt *JobType) NextEnabledStep(current WorkflowStep) (WorkflowStep, error) {
	sequence := jt.EnabledSteps()
	for i, step := range sequence {
		if step == current {
			if i+1 < len(sequence) {
				return sequence[i+1], nil
			}
			return WorkflowStepDone, nil
		}
	}
	return "", fmt.Errorf("step %s is not enabled for job type %d", current, jt.ID)
}

func (jt *JobType) HasRecipe() bool {
	return len(jt.Recipe) > 0
}

func (input *NewJobType) validate(ctx context.Context, id int) error {
	if err := utils.ValidateUnique[JobType](ctx, "name", input.Name, id); err != nil {
		return errors.New("duplicate job type name")
	}
	if len(input.Steps) == 0 {
		return errors.New("at least one workflow step is required")
	}
	seen := make(map[WorkflowStep]bool)
	anyEnabled := false
	for _, s := range input.Steps {
		if !IsKnownWorkflowStep(s.StepKey) {
			return fmt.Errorf("unknown workflow step %q", s.StepKey)
		}
		if seen[s.StepKey] {
			return fmt.Errorf("duplicate workflow step %q", s.StepKey)
		}
		seen[s.StepKey] = true
		if s.Enabled == nil || *s.Enabled {
			anyEnabled = true
		}
	}
	if !anyEnabled {
		return errors.New("at least one workflow step must be enabled")
	}

	seenItems := make(map[int]bool)
	var itemIds []int
	for _, line := range input.Recipe {
		if line.QtyPerUnit.IsNegative() || line.QtyPerUnit.IsZero() {
			return errors.New("recipe qty per unit must be positive")
		}
		switch line.CalculationBasis {
		case "", CalculationBasisUnit, CalculationBasisArea, CalculationBasisLength:
		default:
			return fmt.Errorf("unknown calculation basis %q", line.CalculationBasis)
		}
		if seenItems[line.StockItemId] {
			return errors.New("duplicate stock item in recipe")
		}
		seenItems[line.StockItemId] = true
		itemIds = append(itemIds, line.StockItemId)
	}
	if len(itemIds) > 0 {
		if err := utils.ValidateResourcesId[StockItem, int](ctx, itemIds); err != nil {
			return errors.New("recipe stock item not found")
		}
	}
	return nil
}

func CreateJobType(ctx context.Context, input *NewJobType) (*JobType, error) {
	db := config.GetDB()

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	jobType := JobType{
		Name: input.Name,
	}
	for _, s := range input.Steps {
		enabled := true
		if s.Enabled != nil {
			enabled = *s.Enabled
		}
		jobType.Steps = append(jobType.Steps, JobTypeStep{
			StepKey:        s.StepKey,
			Enabled:        &enabled,
			IncentivePrice: s.IncentivePrice,
		})
	}
	for _, line := range input.Recipe {
		basis := line.CalculationBasis
		if basis == "" {
			basis = CalculationBasisUnit
		}
		optional := false
		if line.IsOptional != nil {
			optional = *line.IsOptional
		}
		jobType.Recipe = append(jobType.Recipe, JobTypeRecipeLine{
			StockItemId:      line.StockItemId,
			QtyPerUnit:       line.QtyPerUnit,
			IsOptional:       &optional,
			CalculationBasis: basis,
		})
	}

	if err := db.WithContext(ctx).Create(&jobType).Error; err != nil {
		return nil, err
	}
	return &jobType, nil
}

// GetJobType loads a job type with its step and recipe configuration,
// through a short-lived redis cache since the configuration rarely changes.
func GetJobType(ctx context.Context, id int) (*JobType, error) {
	cached, _ := utils.RetrieveRedis[JobType](id)
	if cached != nil {
		return cached, nil
	}

	jobType, err := utils.FetchModel[JobType](ctx, id, "Steps", "Recipe")
	if err != nil {
		return nil, err
	}
	_ = utils.StoreRedis[JobType](jobType, id)
	return jobType, nil
}

func GetJobTypes(ctx context.Context) ([]*JobType, error) {
	return utils.FetchAllModels[JobType](ctx, "Steps", "Recipe")
}
