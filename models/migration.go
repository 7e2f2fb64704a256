package models

import (
	"log"

	"github.com/thonexdp/e-serviceflow-sub001/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&Customer{}, &Branch{},
		&User{}, &UserWorkflowStep{}, &TicketAssignment{},
		&JobType{}, &JobTypeStep{}, &JobTypeRecipeLine{},
		&Ticket{}, &ProductionRecord{}, &WorkflowEvidence{},
		&StockItem{}, &StockMovement{}, &ProductionStockConsumption{},
		&PurchaseOrder{}, &PurchaseOrderItem{},
		&TicketEventRecord{}, &IdempotencyKey{},
		&History{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
