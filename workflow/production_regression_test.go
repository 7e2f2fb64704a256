package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/thonexdp/e-serviceflow-sub001/config"
	"github.com/thonexdp/e-serviceflow-sub001/models"
	"github.com/thonexdp/e-serviceflow-sub001/utils"
	"github.com/thonexdp/e-serviceflow-sub001/workflow"
)

// End-to-end: intake, design approval, multi-user step progress with
// auto-advance, completion, material deduction, deduction idempotency,
// purchase order receiving, and ledger/balance consistency.
func TestProductionWorkflowLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "serviceflow_test")
	t.Setenv("WORKFLOW_AUTO_ADVANCE", "")
	t.Setenv("BLOCK_INSUFFICIENT_STOCK", "")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	db := config.GetDB()
	if db == nil {
		t.Fatalf("db is nil after ConnectDatabaseWithRetry")
	}

	// History rows require an acting user in context.
	adminCtx := utils.SetUserIdInContext(ctx, 1)
	adminCtx = utils.SetUserNameInContext(adminCtx, "Test Admin")
	adminCtx = utils.SetRoleInContext(adminCtx, string(models.RoleAdmin))

	headCtx := utils.SetUserIdInContext(ctx, 2)
	headCtx = utils.SetUserNameInContext(headCtx, "Test Head")
	headCtx = utils.SetRoleInContext(headCtx, string(models.RoleProductionHead))

	// Catalog setup.
	branch, err := models.CreateBranch(adminCtx, &models.NewBranch{Name: "Main Branch"})
	if err != nil {
		t.Fatalf("CreateBranch: %v", err)
	}
	customer, err := models.CreateCustomer(adminCtx, &models.NewCustomer{Name: "Acme Prints"})
	if err != nil {
		t.Fatalf("CreateCustomer: %v", err)
	}

	vinyl, err := models.CreateStockItem(adminCtx, &models.NewStockItem{
		Sku:          "VINYL-001",
		Name:         "Vinyl Roll",
		Unit:         "m",
		OpeningStock: decimal.NewFromInt(100),
		UnitCost:     decimal.NewFromInt(3),
	})
	if err != nil {
		t.Fatalf("CreateStockItem: %v", err)
	}
	if !vinyl.CurrentStock.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("opening stock: expected 100, got %s", vinyl.CurrentStock)
	}

	jobType, err := models.CreateJobType(adminCtx, &models.NewJobType{
		Name: "Banner",
		Steps: []models.NewJobTypeStep{
			{StepKey: models.WorkflowStepPrinting},
			{StepKey: models.WorkflowStepCutting},
		},
		Recipe: []models.NewJobTypeRecipeLine{
			{StockItemId: vinyl.ID, QtyPerUnit: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJobType: %v", err)
	}

	// Intake: 8 paid + 2 free = 10 total.
	ticket, err := models.CreateTicket(adminCtx, &models.NewTicket{
		CustomerId:   customer.ID,
		BranchId:     branch.ID,
		JobTypeId:    jobType.ID,
		Quantity:     8,
		FreeQuantity: 2,
	})
	if err != nil {
		t.Fatalf("CreateTicket: %v", err)
	}
	if ticket.TotalQuantity != 10 {
		t.Fatalf("total quantity: expected 10, got %d", ticket.TotalQuantity)
	}
	if !strings.HasPrefix(ticket.TicketNumber, "TKT-") {
		t.Fatalf("unexpected ticket number %q", ticket.TicketNumber)
	}

	// Production cannot start before design approval.
	if _, err := workflow.StartProduction(adminCtx, ticket.ID); !errors.Is(err, models.ErrorInvalidTransition) {
		t.Fatalf("start before approval: expected invalid transition, got %v", err)
	}

	ticket, err = models.UpdateDesignStatus(adminCtx, ticket.ID, models.DesignStatusApproved)
	if err != nil {
		t.Fatalf("UpdateDesignStatus: %v", err)
	}
	if ticket.Status != models.TicketStatusReadyToPrint {
		t.Fatalf("after approval: expected ready_to_print, got %s", ticket.Status)
	}

	// Material estimate before production: 2/unit * 10 = 20, stock is ample.
	estimates, err := workflow.EstimateMaterials(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("EstimateMaterials: %v", err)
	}
	if len(estimates) != 1 || !estimates[0].EstimatedQty.Equal(decimal.NewFromInt(20)) || !estimates[0].Sufficient {
		t.Fatalf("unexpected estimate: %+v", estimates)
	}

	ticket, err = workflow.StartProduction(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("StartProduction: %v", err)
	}
	if ticket.Status != models.TicketStatusInProduction ||
		ticket.CurrentWorkflowStep == nil || *ticket.CurrentWorkflowStep != models.WorkflowStepPrinting {
		t.Fatalf("after start: expected in_production at printing, got %+v", ticket)
	}

	// A worker without a step grant is refused.
	workerCtx := utils.SetUserIdInContext(ctx, 99)
	workerCtx = utils.SetUserNameInContext(workerCtx, "Bare Worker")
	workerCtx = utils.SetRoleInContext(workerCtx, string(models.RoleProductionWorker))
	if _, err := workflow.PostProgress(workerCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 1,
	}); !errors.Is(err, models.ErrorNotAuthorized) {
		t.Fatalf("ungranted worker: expected not-authorized, got %v", err)
	}

	// Two users split the printing run 4 + 6.
	result, err := workflow.PostProgress(adminCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 4,
	})
	if err != nil {
		t.Fatalf("PostProgress(admin, 4): %v", err)
	}
	if result.StepComplete || result.StepTotal != 4 {
		t.Fatalf("after first post: expected total 4 incomplete, got %+v", result)
	}

	// The sum across posters may not pass the ticket total, even when the
	// second poster's own figure is in range (4 + 7 = 11 > 10).
	if _, err := workflow.PostProgress(headCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 7,
	}); !errors.Is(err, models.ErrorQuantityExceeded) {
		t.Fatalf("over-sum post: expected quantity exceeded, got %v", err)
	}
	printingTotal, err := models.StepTotal(db, ticket.ID, models.WorkflowStepPrinting)
	if err != nil {
		t.Fatalf("StepTotal: %v", err)
	}
	if printingTotal != 4 {
		t.Fatalf("rejected over-sum post must roll back, step total is %d", printingTotal)
	}

	result, err = workflow.PostProgress(headCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 6,
		MessageId: "print-final",
		Evidence: []models.NewWorkflowEvidence{
			{FilePath: "uploads/tickets/print-run.jpg", FileName: "print-run.jpg", MimeType: "image/jpeg"},
		},
	})
	if err != nil {
		t.Fatalf("PostProgress(head, 6): %v", err)
	}
	if !result.StepComplete || !result.Advanced || result.StepTotal != 10 {
		t.Fatalf("after completing post: expected complete+advanced total 10, got %+v", result)
	}

	// A retried delivery with the same message id is acknowledged without
	// being re-applied.
	dup, err := workflow.PostProgress(headCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 9, MessageId: "print-final",
	})
	if err != nil {
		t.Fatalf("duplicate post: %v", err)
	}
	if dup.StepTotal != 10 || dup.Advanced {
		t.Fatalf("duplicate post must not re-apply, got %+v", dup)
	}

	ticket, err = models.GetTicket(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if ticket.CurrentWorkflowStep == nil || *ticket.CurrentWorkflowStep != models.WorkflowStepCutting {
		t.Fatalf("auto-advance: expected cutting, got %+v", ticket.CurrentWorkflowStep)
	}

	evidence, err := models.GetTicketEvidence(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicketEvidence: %v", err)
	}
	if len(evidence) != 1 || evidence[0].Step != models.WorkflowStepPrinting {
		t.Fatalf("expected one printing evidence row, got %+v", evidence)
	}

	// Progress beyond the ticket total is rejected before any write.
	if _, err := workflow.PostProgress(headCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepCutting, Quantity: 11,
	}); !errors.Is(err, models.ErrorQuantityExceeded) {
		t.Fatalf("over-quantity post: expected quantity exceeded, got %v", err)
	}
	var overRecords int64
	if err := db.Model(&models.ProductionRecord{}).
		Where("ticket_id = ? AND step = ?", ticket.ID, models.WorkflowStepCutting).
		Count(&overRecords).Error; err != nil {
		t.Fatalf("count cutting records: %v", err)
	}
	if overRecords != 0 {
		t.Fatalf("rejected post must leave no record, found %d", overRecords)
	}

	// Posting against a step that is not current is rejected.
	if _, err := workflow.PostProgress(adminCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepPrinting, Quantity: 10,
	}); !errors.Is(err, models.ErrorInvalidStep) {
		t.Fatalf("stale step post: expected invalid step, got %v", err)
	}

	// Finish cutting; last step completion closes the ticket.
	result, err = workflow.PostProgress(adminCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepCutting, Quantity: 10,
	})
	if err != nil {
		t.Fatalf("PostProgress(cutting, 10): %v", err)
	}
	if !result.StepComplete || !result.Advanced {
		t.Fatalf("cutting completion: expected complete+advanced, got %+v", result)
	}
	ticket, err = models.GetTicket(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if ticket.Status != models.TicketStatusCompleted || ticket.WorkflowCompletedAt == nil {
		t.Fatalf("expected completed ticket, got %+v", ticket)
	}

	// Completing the last step consumed the recipe in the same transaction:
	// 20 vinyl, 100 -> 80.
	if ticket.MaterialsDeducted == nil || !*ticket.MaterialsDeducted {
		t.Fatalf("completion must deduct materials, got %+v", ticket)
	}
	consumptions, err := models.GetTicketConsumptions(adminCtx, ticket.ID)
	if err != nil {
		t.Fatalf("GetTicketConsumptions: %v", err)
	}
	if len(consumptions) != 1 || !consumptions[0].QtyConsumed.Equal(decimal.NewFromInt(20)) {
		t.Fatalf("unexpected consumptions: %+v", consumptions)
	}
	if !consumptions[0].TotalCost.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("consumption cost: expected 20*3=60, got %s", consumptions[0].TotalCost)
	}
	vinyl, err = models.GetStockItem(adminCtx, vinyl.ID)
	if err != nil {
		t.Fatalf("GetStockItem: %v", err)
	}
	if !vinyl.CurrentStock.Equal(decimal.NewFromInt(80)) {
		t.Fatalf("after deduction: expected 80, got %s", vinyl.CurrentStock)
	}

	// Deduction is exactly-once; a manual call after completion is refused.
	if _, err := workflow.DeductMaterials(adminCtx, ticket.ID, nil); !errors.Is(err, models.ErrorAlreadyDeducted) {
		t.Fatalf("second deduction: expected already deducted, got %v", err)
	}

	// Any posting on a terminal ticket reports the terminal state.
	if _, err := workflow.PostProgress(adminCtx, ticket.ID, &workflow.ProgressInput{
		Step: models.WorkflowStepCutting, Quantity: 1,
	}); !errors.Is(err, models.ErrorTerminalState) {
		t.Fatalf("post on completed ticket: expected terminal state, got %v", err)
	}

	// A design rejection after approval blocks the floor even though the
	// ticket already reads ready_to_print.
	revoked, err := models.CreateTicket(adminCtx, &models.NewTicket{
		CustomerId: customer.ID,
		BranchId:   branch.ID,
		JobTypeId:  jobType.ID,
		Quantity:   1,
	})
	if err != nil {
		t.Fatalf("CreateTicket(revoked): %v", err)
	}
	if _, err := models.UpdateDesignStatus(adminCtx, revoked.ID, models.DesignStatusApproved); err != nil {
		t.Fatalf("approve revoked design: %v", err)
	}
	if _, err := models.UpdateDesignStatus(adminCtx, revoked.ID, models.DesignStatusRejected); err != nil {
		t.Fatalf("reject revoked design: %v", err)
	}
	if _, err := workflow.StartProduction(adminCtx, revoked.ID); !errors.Is(err, models.ErrorInvalidTransition) {
		t.Fatalf("start after design reject: expected invalid transition, got %v", err)
	}

	// Purchase order: 60 @ 5, received in two deliveries.
	po, err := models.CreatePurchaseOrder(adminCtx, &models.NewPurchaseOrder{
		SupplierName: "Roll Supply Co",
		Items: []models.NewPurchaseOrderItem{
			{StockItemId: vinyl.ID, OrderedQty: decimal.NewFromInt(60), UnitCost: decimal.NewFromInt(5)},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchaseOrder: %v", err)
	}
	if !po.TotalAmount.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("po total: expected 300, got %s", po.TotalAmount)
	}
	if _, err := models.UpdateStatusPurchaseOrder(adminCtx, po.ID, models.PurchaseOrderStatusOrdered); !errors.Is(err, models.ErrorInvalidTransition) {
		t.Fatalf("draft->ordered: expected invalid transition, got %v", err)
	}
	po, err = models.UpdateStatusPurchaseOrder(adminCtx, po.ID, models.PurchaseOrderStatusApproved)
	if err != nil {
		t.Fatalf("approve po: %v", err)
	}

	lineId := po.Items[0].ID
	po, err = models.ReceivePurchaseOrder(adminCtx, po.ID, []models.ReceiveLine{
		{PurchaseOrderItemId: lineId, Quantity: decimal.NewFromInt(50)},
	})
	if err != nil {
		t.Fatalf("partial receive: %v", err)
	}
	if po.Status != models.PurchaseOrderStatusOrdered {
		t.Fatalf("partial receive: expected ordered, got %s", po.Status)
	}

	// Over-receiving rejects the whole request, stock and lines untouched.
	if _, err := models.ReceivePurchaseOrder(adminCtx, po.ID, []models.ReceiveLine{
		{PurchaseOrderItemId: lineId, Quantity: decimal.NewFromInt(20)},
	}); !errors.Is(err, models.ErrorQuantityExceeded) {
		t.Fatalf("over-receive: expected quantity exceeded, got %v", err)
	}
	vinyl, _ = models.GetStockItem(adminCtx, vinyl.ID)
	if !vinyl.CurrentStock.Equal(decimal.NewFromInt(130)) {
		t.Fatalf("after rejected over-receive: expected 130, got %s", vinyl.CurrentStock)
	}

	po, err = models.ReceivePurchaseOrder(adminCtx, po.ID, []models.ReceiveLine{
		{PurchaseOrderItemId: lineId, Quantity: decimal.NewFromInt(10)},
	})
	if err != nil {
		t.Fatalf("final receive: %v", err)
	}
	if po.Status != models.PurchaseOrderStatusReceived || po.ReceivedAt == nil {
		t.Fatalf("final receive: expected received, got %+v", po)
	}

	// Ledger consistency: the materialized balance equals the sum of deltas.
	vinyl, _ = models.GetStockItem(adminCtx, vinyl.ID)
	var ledger decimal.Decimal
	if err := db.Raw("SELECT COALESCE(SUM(qty_delta), 0) FROM stock_movements WHERE stock_item_id = ?", vinyl.ID).
		Scan(&ledger).Error; err != nil {
		t.Fatalf("sum ledger: %v", err)
	}
	if !vinyl.CurrentStock.Equal(ledger) {
		t.Fatalf("ledger drift: current=%s ledger=%s", vinyl.CurrentStock, ledger)
	}
	if !vinyl.CurrentStock.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("final balance: expected 100-20+50+10=140, got %s", vinyl.CurrentStock)
	}

	// Outbox rows were written for every status transition.
	var eventCount int64
	if err := db.Model(&models.TicketEventRecord{}).Where("ticket_id = ?", ticket.ID).Count(&eventCount).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	if eventCount < 3 {
		t.Fatalf("expected at least 3 ticket events (approve, start, complete), got %d", eventCount)
	}

	// Blocking mode refuses a deduction that would go negative.
	t.Setenv("BLOCK_INSUFFICIENT_STOCK", "true")
	scarce, err := models.CreateStockItem(adminCtx, &models.NewStockItem{
		Sku:          "DTF-FILM-001",
		Name:         "DTF Film",
		Unit:         "m",
		OpeningStock: decimal.NewFromInt(5),
		UnitCost:     decimal.NewFromInt(2),
	})
	if err != nil {
		t.Fatalf("CreateStockItem(scarce): %v", err)
	}
	scarceJob, err := models.CreateJobType(adminCtx, &models.NewJobType{
		Name: "DTF Shirt",
		Steps: []models.NewJobTypeStep{
			{StepKey: models.WorkflowStepDtfPress},
		},
		Recipe: []models.NewJobTypeRecipeLine{
			{StockItemId: scarce.ID, QtyPerUnit: decimal.NewFromInt(2)},
		},
	})
	if err != nil {
		t.Fatalf("CreateJobType(scarce): %v", err)
	}
	scarceTicket, err := models.CreateTicket(adminCtx, &models.NewTicket{
		CustomerId: customer.ID,
		BranchId:   branch.ID,
		JobTypeId:  scarceJob.ID,
		Quantity:   10,
	})
	if err != nil {
		t.Fatalf("CreateTicket(scarce): %v", err)
	}
	if _, err := workflow.DeductMaterials(adminCtx, scarceTicket.ID, nil); err == nil {
		t.Fatalf("expected blocked deduction for insufficient stock")
	}
	scarce, _ = models.GetStockItem(adminCtx, scarce.ID)
	if !scarce.CurrentStock.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("blocked deduction must not move stock, got %s", scarce.CurrentStock)
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("serviceflow-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("serviceflow-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=serviceflow_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
