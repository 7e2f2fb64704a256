package workflow

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/models"
)

// MaterialEstimate is one recipe line projected onto a concrete ticket:
// what the line will consume and whether the current balance covers it.
type MaterialEstimate struct {
	StockItemId  int             `json:"stock_item_id"`
	Sku          string          `json:"sku"`
	Name         string          `json:"name"`
	Unit         string          `json:"unit"`
	IsOptional   bool            `json:"is_optional"`
	CurrentStock decimal.Decimal `json:"current_stock"`
	EstimatedQty decimal.Decimal `json:"estimated_qty"`
	Remaining    decimal.Decimal `json:"remaining"`
	Sufficient   bool            `json:"sufficient"`
}

// requiredQty scales one recipe line to a ticket. Unit lines consume per
// produced piece; area lines additionally scale by width x height of the
// print, length lines by height only (roll goods cut to length).
func requiredQty(line models.JobTypeRecipeLine, ticket *models.Ticket) decimal.Decimal {
	total := decimal.NewFromInt(int64(ticket.TotalQuantity))
	qty := line.QtyPerUnit.Mul(total)
	switch line.CalculationBasis {
	case models.CalculationBasisArea:
		qty = qty.Mul(ticket.PrintWidth).Mul(ticket.PrintHeight)
	case models.CalculationBasisLength:
		qty = qty.Mul(ticket.PrintHeight)
	}
	return qty
}

// EstimateMaterials projects the ticket's recipe against current stock.
// Read-only; the deduction path recomputes under its own locks.
func EstimateMaterials(ctx context.Context, ticketId int) ([]MaterialEstimate, error) {
	ticket, err := models.GetTicket(ctx, ticketId)
	if err != nil {
		return nil, err
	}
	jobType, err := models.GetJobType(ctx, ticket.JobTypeId)
	if err != nil {
		return nil, err
	}

	estimates := make([]MaterialEstimate, 0, len(jobType.Recipe))
	for _, line := range jobType.Recipe {
		item, err := models.GetStockItem(ctx, line.StockItemId)
		if err != nil {
			return nil, err
		}
		needed := requiredQty(line, ticket)
		remaining := item.CurrentStock.Sub(needed)
		estimates = append(estimates, MaterialEstimate{
			StockItemId:  item.ID,
			Sku:          item.Sku,
			Name:         item.Name,
			Unit:         item.Unit,
			IsOptional:   line.IsOptional != nil && *line.IsOptional,
			CurrentStock: item.CurrentStock,
			EstimatedQty: needed,
			Remaining:    remaining,
			Sufficient:   !remaining.IsNegative(),
		})
	}
	return estimates, nil
}

// AdjustedLine overrides the estimated quantity for one recipe item when the
// floor used more or less material than the recipe predicts.
type AdjustedLine struct {
	StockItemId int             `json:"stock_item_id" binding:"required"`
	Quantity    decimal.Decimal `json:"quantity" binding:"required"`
}

// resolveDeductionLines turns the recipe (or the caller's adjusted lines)
// into the final per-item quantities to consume. Adjusted lines must refer
// to recipe items only; quantities must be positive.
func resolveDeductionLines(jobType *models.JobType, ticket *models.Ticket, adjusted []AdjustedLine) (map[int]decimal.Decimal, bool, error) {
	recipeByItem := make(map[int]models.JobTypeRecipeLine, len(jobType.Recipe))
	for _, line := range jobType.Recipe {
		recipeByItem[line.StockItemId] = line
	}

	quantities := make(map[int]decimal.Decimal)
	if len(adjusted) == 0 {
		for itemId, line := range recipeByItem {
			quantities[itemId] = requiredQty(line, ticket)
		}
		return quantities, false, nil
	}

	for _, line := range adjusted {
		if _, found := recipeByItem[line.StockItemId]; !found {
			return nil, false, fmt.Errorf("stock item %d is not part of the job type recipe", line.StockItemId)
		}
		if !line.Quantity.IsPositive() {
			return nil, false, fmt.Errorf("adjusted quantity for stock item %d must be positive", line.StockItemId)
		}
		if _, dup := quantities[line.StockItemId]; dup {
			return nil, false, fmt.Errorf("duplicate adjusted line for stock item %d", line.StockItemId)
		}
		quantities[line.StockItemId] = line.Quantity
	}
	return quantities, true, nil
}
