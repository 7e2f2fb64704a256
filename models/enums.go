package models

type TicketStatus string

const (
	TicketStatusPending      TicketStatus = "pending"
	TicketStatusReadyToPrint TicketStatus = "ready_to_print"
	TicketStatusInProduction TicketStatus = "in_production"
	TicketStatusCompleted    TicketStatus = "completed"
	TicketStatusCancelled    TicketStatus = "cancelled"
	TicketStatusRejected     TicketStatus = "rejected"
)

func (s TicketStatus) IsTerminal() bool {
	return s == TicketStatusCompleted || s == TicketStatusCancelled || s == TicketStatusRejected
}

type DesignStatus string

const (
	DesignStatusPending  DesignStatus = "pending"
	DesignStatusApproved DesignStatus = "approved"
	DesignStatusRejected DesignStatus = "rejected"
)

type WorkflowStep string

const (
	WorkflowStepPrinting            WorkflowStep = "printing"
	WorkflowStepLaminationHeatpress WorkflowStep = "lamination_heatpress"
	WorkflowStepCutting             WorkflowStep = "cutting"
	WorkflowStepSewing              WorkflowStep = "sewing"
	WorkflowStepDtfPress            WorkflowStep = "dtf_press"
	WorkflowStepQa                  WorkflowStep = "qa"

	// WorkflowStepDone marks a ticket whose last enabled step has been advanced past.
	WorkflowStepDone WorkflowStep = "completed"
)

// CanonicalStepOrder is the fixed priority order production steps run in.
// A job type enables a subset; the active sequence for a ticket is this
// order filtered to the enabled steps.
var CanonicalStepOrder = []WorkflowStep{
	WorkflowStepPrinting,
	WorkflowStepLaminationHeatpress,
	WorkflowStepCutting,
	WorkflowStepSewing,
	WorkflowStepDtfPress,
	WorkflowStepQa,
}

func IsKnownWorkflowStep(step WorkflowStep) bool {
	for _, s := range CanonicalStepOrder {
		if s == step {
			return true
		}
	}
	return false
}

type StockMovementType string

const (
	StockMovementTypeReceipt     StockMovementType = "receipt"
	StockMovementTypeConsumption StockMovementType = "consumption"
	StockMovementTypeAdjustment  StockMovementType = "adjustment"
)

type CalculationBasis string

const (
	CalculationBasisUnit   CalculationBasis = "unit"
	CalculationBasisArea   CalculationBasis = "area"
	CalculationBasisLength CalculationBasis = "length"
)

type PurchaseOrderStatus string

const (
	PurchaseOrderStatusDraft     PurchaseOrderStatus = "draft"
	PurchaseOrderStatusApproved  PurchaseOrderStatus = "approved"
	PurchaseOrderStatusOrdered   PurchaseOrderStatus = "ordered"
	PurchaseOrderStatusReceived  PurchaseOrderStatus = "received"
	PurchaseOrderStatusCancelled PurchaseOrderStatus = "cancelled"
)

func (s PurchaseOrderStatus) IsTerminal() bool {
	return s == PurchaseOrderStatusReceived || s == PurchaseOrderStatusCancelled
}

type Role string

const (
	RoleAdmin            Role = "admin"
	RoleProductionHead   Role = "production_head"
	RoleProductionWorker Role = "production_worker"
)
