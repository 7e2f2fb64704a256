package workflow

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/models"
)

func optional(v bool) *bool { return &v }

func TestRequiredQtyByBasis(t *testing.T) {
	ticket := &models.Ticket{
		TotalQuantity: 10,
		PrintWidth:    decimal.RequireFromString("1.5"),
		PrintHeight:   decimal.NewFromInt(2),
	}

	unitLine := models.JobTypeRecipeLine{QtyPerUnit: decimal.NewFromInt(2), CalculationBasis: models.CalculationBasisUnit}
	if got := requiredQty(unitLine, ticket); !got.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unit basis: expected 20, got %s", got)
	}

	areaLine := models.JobTypeRecipeLine{QtyPerUnit: decimal.NewFromInt(1), CalculationBasis: models.CalculationBasisArea}
	if got := requiredQty(areaLine, ticket); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("area basis: expected 1*10*1.5*2 = 30, got %s", got)
	}

	lengthLine := models.JobTypeRecipeLine{QtyPerUnit: decimal.RequireFromString("0.5"), CalculationBasis: models.CalculationBasisLength}
	if got := requiredQty(lengthLine, ticket); !got.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("length basis: expected 0.5*10*2 = 10, got %s", got)
	}

	// Unknown basis falls back to unit scaling.
	blankLine := models.JobTypeRecipeLine{QtyPerUnit: decimal.NewFromInt(3)}
	if got := requiredQty(blankLine, ticket); !got.Equal(decimal.NewFromInt(30)) {
		t.Fatalf("blank basis: expected 30, got %s", got)
	}
}

func TestResolveDeductionLinesFullRecipe(t *testing.T) {
	jt := &models.JobType{
		Recipe: []models.JobTypeRecipeLine{
			{StockItemId: 1, QtyPerUnit: decimal.NewFromInt(2), CalculationBasis: models.CalculationBasisUnit},
			{StockItemId: 2, QtyPerUnit: decimal.NewFromInt(1), CalculationBasis: models.CalculationBasisUnit, IsOptional: optional(true)},
		},
	}
	ticket := &models.Ticket{TotalQuantity: 5}

	quantities, adjusted, err := resolveDeductionLines(jt, ticket, nil)
	if err != nil {
		t.Fatalf("resolveDeductionLines: %v", err)
	}
	if adjusted {
		t.Fatalf("no adjusted lines given, adjusted flag must be false")
	}
	if !quantities[1].Equal(decimal.NewFromInt(10)) || !quantities[2].Equal(decimal.NewFromInt(5)) {
		t.Fatalf("unexpected quantities: %v", quantities)
	}
}

func TestResolveDeductionLinesAdjusted(t *testing.T) {
	jt := &models.JobType{
		Recipe: []models.JobTypeRecipeLine{
			{StockItemId: 1, QtyPerUnit: decimal.NewFromInt(2)},
			{StockItemId: 2, QtyPerUnit: decimal.NewFromInt(1)},
		},
	}
	ticket := &models.Ticket{TotalQuantity: 5}

	quantities, adjusted, err := resolveDeductionLines(jt, ticket, []AdjustedLine{
		{StockItemId: 1, Quantity: decimal.NewFromInt(12)},
	})
	if err != nil {
		t.Fatalf("resolveDeductionLines: %v", err)
	}
	if !adjusted {
		t.Fatalf("expected adjusted flag")
	}
	if len(quantities) != 1 || !quantities[1].Equal(decimal.NewFromInt(12)) {
		t.Fatalf("adjusted lines replace the recipe set, got %v", quantities)
	}
}

func TestResolveDeductionLinesRejectsBadInput(t *testing.T) {
	jt := &models.JobType{
		Recipe: []models.JobTypeRecipeLine{{StockItemId: 1, QtyPerUnit: decimal.NewFromInt(2)}},
	}
	ticket := &models.Ticket{TotalQuantity: 5}

	if _, _, err := resolveDeductionLines(jt, ticket, []AdjustedLine{
		{StockItemId: 99, Quantity: decimal.NewFromInt(1)},
	}); err == nil {
		t.Fatalf("item outside the recipe must be rejected")
	}

	if _, _, err := resolveDeductionLines(jt, ticket, []AdjustedLine{
		{StockItemId: 1, Quantity: decimal.NewFromInt(-1)},
	}); err == nil {
		t.Fatalf("negative adjusted quantity must be rejected")
	}

	if _, _, err := resolveDeductionLines(jt, ticket, []AdjustedLine{
		{StockItemId: 1, Quantity: decimal.NewFromInt(1)},
		{StockItemId: 1, Quantity: decimal.NewFromInt(2)},
	}); err == nil {
		t.Fatalf("duplicate adjusted lines must be rejected")
	}
}
