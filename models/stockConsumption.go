package models

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
)

// ProductionStockConsumption is the per-(ticket, item) costing snapshot
// written exactly once when a ticket's materials are deducted. Reporting
// reads it for COGS; it is never recomputed after the fact.
type ProductionStockConsumption struct {
	ID           int             `gorm:"primary_key" json:"id"`
	TicketId     int             `gorm:"index:uniq_ticket_item,unique;not null" json:"ticket_id"`
	StockItemId  int             `gorm:"index:uniq_ticket_item,unique;not null" json:"stock_item_id"`
	QtyConsumed  decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"qty_consumed"`
	UnitCost     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_cost"`
	TotalCost    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_cost"`
	WasAdjusted  *bool           `gorm:"not null;default:false" json:"was_adjusted"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

func GetTicketConsumptions(ctx context.Context, ticketId int) ([]*ProductionStockConsumption, error) {
	if err := utils.ValidateResourceId[Ticket](ctx, ticketId); err != nil {
		return nil, errors.New("ticket not found")
	}

	db := config.GetDB()
	var results []*ProductionStockConsumption
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketId).
		Order("stock_item_id ASC").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
